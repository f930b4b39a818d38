package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/slok/formbot/internal/api"
	"github.com/slok/formbot/internal/app/start"
	"github.com/slok/formbot/internal/app/upload"
	"github.com/slok/formbot/internal/automation"
	"github.com/slok/formbot/internal/conventions"
	"github.com/slok/formbot/internal/engine"
	"github.com/slok/formbot/internal/engine/command"
	"github.com/slok/formbot/internal/engine/fake"
	"github.com/slok/formbot/internal/extract"
	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
	"github.com/slok/formbot/internal/storage/io"
	"github.com/slok/formbot/internal/storage/memory"
	"github.com/slok/formbot/internal/storage/sqlite"
	"github.com/slok/formbot/internal/utils/env"
)

const shutdownTimeout = 10 * time.Second

// ServeCommand runs the automation coordinator API.
type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	configFile    string
	listenAddress string
	uploadDir     string
	engineType    string
	engineCommand string
	engineEnv     []string
	scenario      string
	inputTimeout  time.Duration
	statusTail    int

	listenSet, uploadDirSet, engineTypeSet, engineCommandSet, inputTimeoutSet bool
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Run the automation coordinator API server.")
	c.Cmd.Flag("config", "Path to a YAML server configuration file, flags override its values.").StringVar(&c.configFile)
	c.Cmd.Flag("listen", "API listen address.").Default(conventions.DefaultListenAddress).IsSetByUser(&c.listenSet).StringVar(&c.listenAddress)
	c.Cmd.Flag("upload-dir", "Directory where the uploaded documents are stored (defaults to the uploads dir next to the database).").IsSetByUser(&c.uploadDirSet).StringVar(&c.uploadDir)
	c.Cmd.Flag("engine", "Automation engine.").Default(string(model.EngineTypeFake)).IsSetByUser(&c.engineTypeSet).EnumVar(&c.engineType, string(model.EngineTypeFake), string(model.EngineTypeCommand))
	c.Cmd.Flag("engine-command", "Agent command line used by the command engine.").IsSetByUser(&c.engineCommandSet).StringVar(&c.engineCommand)
	c.Cmd.Flag("engine-env", "Environment variable for the agent process as KEY=VALUE, or KEY to take it from the current environment (repeatable).").StringsVar(&c.engineEnv)
	c.Cmd.Flag("scenario", "Fake engine scenario YAML file, or the name of a scenario in the data dir.").StringVar(&c.scenario)
	c.Cmd.Flag("input-timeout", "Fail the run when an input request is not resolved in time (0 disables).").Default("0s").IsSetByUser(&c.inputTimeoutSet).DurationVar(&c.inputTimeout)
	c.Cmd.Flag("status-tail", "Log entries returned by the status when the client doesn't ask for a number.").Default("10").IntVar(&c.statusTail)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cfg, err := c.serverConfig(ctx)
	if err != nil {
		return err
	}

	// Durable data (SQLite).
	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}
	defer repo.Close()

	// Current run state lives only in memory.
	store, err := memory.NewRunStore(memory.RunStoreConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create run store: %w", err)
	}

	eng, err := newEngine(cfg.Engine, logger)
	if err != nil {
		return fmt.Errorf("could not create engine: %w", err)
	}

	ctrl, err := automation.NewController(automation.ControllerConfig{
		Store:        store,
		Engine:       eng,
		History:      repo,
		InputTimeout: cfg.InputTimeout,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("could not create controller: %w", err)
	}

	extractor, err := extract.NewEMLExtractor(extract.EMLExtractorConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create extractor: %w", err)
	}

	uploadSvc, err := upload.NewService(upload.ServiceConfig{
		Credentials: repo,
		Emails:      repo,
		Extractor:   extractor,
		UploadDir:   cfg.UploadDir,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("could not create upload service: %w", err)
	}

	startSvc, err := start.NewService(start.ServiceConfig{
		Starter:     ctrl,
		Credentials: repo,
		Emails:      repo,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("could not create start service: %w", err)
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Controller: ctrl,
		Uploader:   uploadSvc,
		Starter:    startSvc,
		Emails:     repo,
		History:    repo,
		StatusTail: c.statusTail,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create API server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var g run.Group

	// HTTP API.
	{
		g.Add(
			func() error {
				logger.WithValues(log.Kv{"addr": cfg.ListenAddress, "engine": cfg.Engine.Type}).Infof("API listening")
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("API server failed: %w", err)
				}
				return nil
			},
			func(_ error) {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()

				if err := httpServer.Shutdown(ctx); err != nil {
					logger.Errorf("Could not shutdown API server: %s", err)
				}
				if err := ctrl.Shutdown(ctx); err != nil {
					logger.Errorf("Could not shutdown automation: %s", err)
				}
			},
		)
	}

	// Context cancellation (from parent signal handling).
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				<-ctx.Done()
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	err = g.Run()
	logger.Infof("API stopped")
	return err
}

// serverConfig merges the config file with the flags the user set.
func (c ServeCommand) serverConfig(ctx context.Context) (model.ServerConfig, error) {
	var cfg model.ServerConfig
	if c.configFile != "" {
		path, err := absPath(c.configFile)
		if err != nil {
			return cfg, fmt.Errorf("could not resolve config path: %w", err)
		}

		cfg, err = io.NewConfigYAMLRepository(os.DirFS("/")).GetServerConfig(ctx, path[1:])
		if err != nil {
			return cfg, fmt.Errorf("could not load server config: %w", err)
		}
	}

	if c.listenSet || cfg.ListenAddress == "" {
		cfg.ListenAddress = c.listenAddress
	}
	if c.uploadDirSet || cfg.UploadDir == "" {
		cfg.UploadDir = c.uploadDir
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = conventions.UploadDir(filepath.Dir(c.rootCmd.DBPath))
	}
	if c.inputTimeoutSet {
		cfg.InputTimeout = c.inputTimeout
	}
	if c.engineTypeSet || cfg.Engine.Type == "" {
		cfg.Engine.Type = model.EngineType(c.engineType)
	}
	if c.engineCommandSet {
		cfg.Engine.Command = strings.Fields(c.engineCommand)
	}

	if len(c.engineEnv) > 0 {
		vars, err := env.ParseSpecs(c.engineEnv)
		if err != nil {
			return cfg, fmt.Errorf("invalid --engine-env value: %w", err)
		}
		cfg.Engine.Env = env.Merge(cfg.Engine.Env, vars)
	}

	if c.scenario != "" {
		s, err := c.loadScenario(ctx)
		if err != nil {
			return cfg, err
		}
		cfg.Engine.Scenario = &s
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid server configuration: %w", err)
	}

	return cfg, nil
}

func (c ServeCommand) loadScenario(ctx context.Context) (model.EngineScenario, error) {
	path := c.scenario
	if _, err := os.Stat(path); err != nil && !strings.ContainsRune(path, filepath.Separator) {
		path = conventions.ScenarioPath(filepath.Dir(c.rootCmd.DBPath), path)
	}

	path, err := absPath(path)
	if err != nil {
		return model.EngineScenario{}, fmt.Errorf("could not resolve scenario path: %w", err)
	}

	s, err := io.NewConfigYAMLRepository(os.DirFS("/")).GetScenario(ctx, path[1:])
	if err != nil {
		return model.EngineScenario{}, fmt.Errorf("could not load scenario %q: %w", c.scenario, err)
	}

	return s, nil
}

func newEngine(cfg model.EngineConfig, logger log.Logger) (engine.Engine, error) {
	if cfg.Type == model.EngineTypeCommand {
		eng, err := command.NewEngine(command.EngineConfig{
			Command: cfg.Command,
			Env:     env.List(cfg.Env),
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		return eng, nil
	}

	eng, err := fake.NewEngine(fake.EngineConfig{
		Scenario: cfg.Scenario,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return eng, nil
}

func absPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Abs(path)
}
