package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/andupopescu/ore-cli-extended-stats/internal/hardware"
	"github.com/andupopescu/ore-cli-extended-stats/internal/mining"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Config defines API server configuration
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	// SourceURL is echoed in every mine response.
	SourceURL string `yaml:"source_url"`

	// RateLimit is requests per second per client IP. Zero disables limiting.
	RateLimit    float64       `yaml:"rate_limit"`
	RateBurst    int           `yaml:"rate_burst"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	EnableWebSocket  bool          `yaml:"enable_websocket"`
	ProgressInterval time.Duration `yaml:"progress_interval"`
	AllowOrigins     []string      `yaml:"allow_origins"`
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":3030",
		SourceURL:        "https://equix.io",
		RateBurst:        10,
		MaxBodyBytes:     1 << 16,
		ReadTimeout:      15 * time.Second,
		IdleTimeout:      60 * time.Second,
		EnableWebSocket:  true,
		ProgressInterval: 500 * time.Millisecond,
	}
}

// Miner admits jobs. *mining.Controller implements it.
type Miner interface {
	Admit(ctx context.Context, req mining.JobRequest) (mining.JobResult, error)
	Status() mining.Status
}

// HostInfo is the host probe used by validation and the status endpoint.
type HostInfo interface {
	Host
	Detect() hardware.Info
}

// RequestRecorder counts served requests.
type RequestRecorder interface {
	RecordRequest(route string, code int)
}

// Server provides the HTTP API and the progress websocket.
type Server struct {
	logger     *zap.Logger
	config     Config
	router     *mux.Router
	server     *http.Server
	miner      Miner
	host       HostInfo
	validator  *Validator
	hub        *ProgressHub
	limiter    *IPRateLimiter
	metrics    RequestRecorder
	oracleName string
	startedAt  time.Time
}

// Options carries the collaborators of a Server.
type Options struct {
	Miner      Miner
	Host       HostInfo
	Limits     Limits
	OracleName string
	// Hub is optional. When nil and websockets are enabled a hub is created.
	Hub     *ProgressHub
	Metrics RequestRecorder
}

// NewServer creates a new API server
func NewServer(config Config, logger *zap.Logger, opts Options) (*Server, error) {
	if opts.Miner == nil || opts.Host == nil {
		return nil, errors.New("api server needs a miner and a host probe")
	}

	s := &Server{
		logger:     logger,
		config:     config,
		miner:      opts.Miner,
		host:       opts.Host,
		validator:  NewValidator(opts.Host, opts.Limits),
		metrics:    opts.Metrics,
		oracleName: opts.OracleName,
		startedAt:  time.Now(),
	}
	if config.RateLimit > 0 {
		s.limiter = NewIPRateLimiter(config.RateLimit, config.RateBurst)
	}
	if config.EnableWebSocket {
		s.hub = opts.Hub
		if s.hub == nil {
			s.hub = NewProgressHub(logger.Named("ws"), config.ProgressInterval, config.AllowOrigins)
		}
	}

	s.setupRoutes()
	return s, nil
}

// Hub returns the progress hub, or nil when websockets are disabled.
func (s *Server) Hub() *ProgressHub {
	return s.hub
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(s.recoveryMiddleware, s.loggingMiddleware)

	mine := http.HandlerFunc(s.handleMine)
	s.router.Handle("/mine", s.rateLimit(mine)).Methods(http.MethodPost)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/mine", s.rateLimit(mine)).Methods(http.MethodPost)
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	if s.hub != nil {
		v1.Handle("/ws", s.hub).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, http.StatusNotFound, "not_found", "", "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "", "method not allowed")
	})
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	s.logger.Info("Starting API server", zap.String("listen_addr", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully stops the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")

	if s.hub != nil {
		s.hub.Close()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
