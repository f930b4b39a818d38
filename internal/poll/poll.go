package poll

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
)

const defaultInterval = 2 * time.Second

// StatusGetter gets the current run snapshot. It returns model.ErrNotRunning when
// there is no run.
type StatusGetter interface {
	Status(ctx context.Context, tail int) (*model.AutomationRun, error)
}

// State is the client view of the automation.
type State struct {
	// Run is the last snapshot received, it's kept when the run goes away.
	Run *model.AutomationRun
	// NoRun is true when the server reported there is no run.
	NoRun bool
	// LastError is the last transient fetch error, cleared on the next successful poll.
	LastError error
	// Done is true when the poller has stopped polling.
	Done bool
}

// PollerConfig is the configuration of the poller.
type PollerConfig struct {
	Client   StatusGetter
	Interval time.Duration
	// Tail is the number of log entries requested on each poll, 0 uses the server default.
	Tail int
	// OnUpdate is called with the new state after every poll.
	OnUpdate func(State)
	Logger   log.Logger
}

func (c *PollerConfig) defaults() error {
	if c.Client == nil {
		return fmt.Errorf("client is required")
	}

	if c.Interval < 0 {
		return fmt.Errorf("interval can't be negative")
	}
	if c.Interval == 0 {
		c.Interval = defaultInterval
	}

	if c.Tail < 0 {
		return fmt.Errorf("tail can't be negative")
	}

	if c.OnUpdate == nil {
		c.OnUpdate = func(State) {}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "poll.Poller"})

	return nil
}

// Poller periodically fetches the run snapshot until the run ends, there is no run
// or the context is cancelled. Transient fetch errors don't stop it.
type Poller struct {
	client   StatusGetter
	interval time.Duration
	tail     int
	onUpdate func(State)
	logger   log.Logger
	refresh  chan struct{}

	mu    sync.Mutex
	state State
}

// NewPoller returns a new poller.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Poller{
		client:   cfg.Client,
		interval: cfg.Interval,
		tail:     cfg.Tail,
		onUpdate: cfg.OnUpdate,
		logger:   cfg.Logger,
		refresh:  make(chan struct{}, 1),
	}, nil
}

// Run polls until the run reaches a terminal status, the server reports no run or
// the context is cancelled. It polls once right away.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if done := p.poll(ctx); done {
			return nil
		}

		select {
		case <-ctx.Done():
			p.update(func(s *State) { s.Done = true })
			return ctx.Err()
		case <-ticker.C:
		case <-p.refresh:
			ticker.Reset(p.interval)
		}
	}
}

// Refresh asks the poller to poll right away.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return copyState(p.state)
}

func (p *Poller) poll(ctx context.Context) (done bool) {
	run, err := p.client.Status(ctx, p.tail)
	switch {
	case err == nil:
		done = run.Status.IsTerminal()
		p.update(func(s *State) {
			// The server snapshot replaces whatever we had.
			s.Run = run
			s.NoRun = false
			s.LastError = nil
			s.Done = done
		})
		if done {
			p.logger.Debugf("Run %s ended with %s status", run.ID, run.Status)
		}
	case errors.Is(err, model.ErrNotRunning):
		done = true
		p.update(func(s *State) {
			s.NoRun = true
			s.LastError = nil
			s.Done = true
		})
		p.logger.Debugf("No automation running")
	case ctx.Err() != nil:
		// Cancelled while polling, Run handles it.
	default:
		p.logger.Warningf("Could not get automation status: %s", err)
		p.update(func(s *State) { s.LastError = err })
	}

	return done
}

func (p *Poller) update(f func(s *State)) {
	p.mu.Lock()
	f(&p.state)
	s := copyState(p.state)
	p.mu.Unlock()

	p.onUpdate(s)
}

func copyState(s State) State {
	c := s
	if s.Run != nil {
		r := s.Run.Copy()
		c.Run = &r
	}
	return c
}
