package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slok/formbot/internal/app/upload"
	"github.com/slok/formbot/internal/log"
	"github.com/slok/formbot/internal/model"
	"github.com/slok/formbot/internal/storage"
)

const (
	defaultStatusTail     = 10
	defaultMaxUploadBytes = 25 << 20 // 25MB
)

// Controller is the automation controller surface used by the API.
type Controller interface {
	Status(ctx context.Context) (*model.AutomationRun, error)
	ResolveInput(ctx context.Context, sub model.InputSubmission) (*model.AutomationRun, error)
	Stop(ctx context.Context) error
}

// Uploader handles document uploads.
type Uploader interface {
	Run(ctx context.Context, req upload.Request) (*model.UploadResult, error)
}

// Starter starts automation runs with the persisted data.
type Starter interface {
	Run(ctx context.Context) (*model.AutomationRun, error)
}

// ServerConfig is the configuration of the API server.
type ServerConfig struct {
	Controller Controller
	Uploader   Uploader
	Starter    Starter
	Emails     storage.EmailRepository
	History    storage.HistoryRepository
	Logger     log.Logger
	// StatusTail is the number of log entries returned by the status when the
	// client doesn't ask for a specific number.
	StatusTail     int
	MaxUploadBytes int64
}

func (c *ServerConfig) defaults() error {
	if c.Controller == nil {
		return fmt.Errorf("controller is required")
	}

	if c.Uploader == nil {
		return fmt.Errorf("uploader is required")
	}

	if c.Starter == nil {
		return fmt.Errorf("starter is required")
	}

	if c.Emails == nil {
		return fmt.Errorf("email repository is required")
	}

	if c.History == nil {
		return fmt.Errorf("history repository is required")
	}

	if c.StatusTail < 0 {
		return fmt.Errorf("status tail can't be negative")
	}
	if c.StatusTail == 0 {
		c.StatusTail = defaultStatusTail
	}

	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = defaultMaxUploadBytes
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "api.Server"})

	return nil
}

// Server is the formbot HTTP API.
type Server struct {
	controller     Controller
	uploader       Uploader
	starter        Starter
	emails         storage.EmailRepository
	history        storage.HistoryRepository
	logger         log.Logger
	statusTail     int
	maxUploadBytes int64
	router         *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	router := gin.New()
	s := &Server{
		controller:     cfg.Controller,
		uploader:       cfg.Uploader,
		starter:        cfg.Starter,
		emails:         cfg.Emails,
		history:        cfg.History,
		logger:         cfg.Logger,
		statusTail:     cfg.StatusTail,
		maxUploadBytes: cfg.MaxUploadBytes,
		router:         router,
	}

	router.Use(gin.Recovery(), s.logRequests)

	router.GET("/health", s.handleHealth)
	router.POST("/upload", s.handleUpload)
	router.GET("/email-content", s.handleEmailContent)
	router.POST("/start-automation", s.handleStart)
	router.GET("/automation-status", s.handleStatus)
	router.POST("/provide-input", s.handleProvideInput)
	router.POST("/stop-automation", s.handleStop)

	history := router.Group("/history")
	{
		history.GET("", s.handleListHistory)
		history.GET("/:id", s.handleGetHistory)
	}

	return s, nil
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()

	s.logger.WithValues(log.Kv{
		"method":   c.Request.Method,
		"path":     c.FullPath(),
		"status":   c.Writer.Status(),
		"duration": time.Since(start).String(),
	}).Debugf("HTTP request handled")
}
