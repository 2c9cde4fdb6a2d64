package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"blobdrop/internal/store"
)

const (
	// DefaultMaxSize caps a single upload at 3 MiB.
	DefaultMaxSize int64 = 3 * 1024 * 1024
	// DefaultTimeout is the allowed silence between two body chunks.
	DefaultTimeout = 5 * time.Second
	// DefaultShutdownGrace bounds how long a drain shutdown waits.
	DefaultShutdownGrace = 5 * time.Second
)

// ErrAborted is what Wait reports after a normal shutdown.
var ErrAborted = errors.New("[ERRABORT] server closed")

// ShutdownMode selects what happens to uploads still in flight when the
// server stops.
type ShutdownMode string

const (
	// ShutdownDrain stops accepting connections and lets in-flight uploads
	// finish, bounded by the shutdown context.
	ShutdownDrain ShutdownMode = "drain"
	// ShutdownCancel aborts in-flight uploads immediately.
	ShutdownCancel ShutdownMode = "cancel"
)

// BuildInfo is reported by the health endpoint.
type BuildInfo struct {
	Version string
	Commit  string
}

// Config holds the settings of one server. Start from DefaultConfig; Max
// and Secret have no default.
type Config struct {
	Host    string
	Port    int           // 0 picks a free port
	Max     int           // number of objects kept
	MaxAge  time.Duration // 0 disables age eviction
	MaxSize int64         // bytes per upload
	Timeout time.Duration // idle time between body chunks
	Secret  string        // upload path segment

	ShutdownMode  ShutdownMode
	ShutdownGrace time.Duration

	AdminAddr     string        // metrics and probes; empty disables
	SweepInterval time.Duration // periodic expiry sweep; 0 disables
	UploadRate    int           // uploads per minute per client IP; 0 disables
	CORSOrigins   []string

	Build BuildInfo
}

// DefaultConfig returns a Config with every optional field at its default.
// Max and Secret still have to be set by the caller.
func DefaultConfig() Config {
	return Config{
		Host:          "localhost",
		MaxSize:       DefaultMaxSize,
		Timeout:       DefaultTimeout,
		ShutdownMode:  ShutdownDrain,
		ShutdownGrace: DefaultShutdownGrace,
		Build:         BuildInfo{Version: "dev", Commit: "unknown"},
	}
}

// Server owns the object store and the HTTP listeners serving it.
type Server struct {
	cfg        Config
	secretPath string // escaped "/<secret>"
	store      *store.Store
	metrics    *Metrics
	limiter    *rateLimiter
	httpServer *http.Server
	admin      *http.Server

	// lifeCtx lives until shutdown begins; background jobs stop with it.
	lifeCtx  context.Context
	stopLife context.CancelFunc
	// reqCtx is the parent of every request context. Cancelling it aborts
	// in-flight uploads.
	reqCtx         context.Context
	cancelRequests context.CancelFunc

	mu       sync.Mutex
	started  bool
	addr     net.Addr
	stopOnce sync.Once
	drained  chan struct{}
	done     chan struct{}
	err      error
}

// New validates cfg and builds a server. No socket is opened until Start.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	st, err := store.New(cfg.Max, cfg.MaxAge, store.WithEvictHook(metrics.RecordEviction))
	if err != nil {
		return nil, err
	}
	metrics.ObserveStore(st)

	s := &Server{
		cfg:        cfg,
		secretPath: "/" + url.PathEscape(cfg.Secret),
		store:      st,
		metrics:    metrics,
		drained:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.lifeCtx, s.stopLife = context.WithCancel(context.Background())
	s.reqCtx, s.cancelRequests = context.WithCancel(context.Background())

	if cfg.UploadRate > 0 {
		s.limiter = newRateLimiter(cfg.UploadRate, time.Minute)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.reqCtx },
	}
	if cfg.AdminAddr != "" {
		s.admin = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           s.AdminHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return s, nil
}

// Start binds the listeners and begins serving in the background. Bind
// errors are returned directly. Cancelling ctx shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.startOn(ctx, ln)
}

func (s *Server) startOn(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("server: already started")
	}
	s.started = true
	s.addr = ln.Addr()
	s.mu.Unlock()

	if s.admin != nil {
		aln, err := net.Listen("tcp", s.admin.Addr)
		if err != nil {
			_ = ln.Close()
			s.stopLife()
			s.finish(err)
			return err
		}
		go func() {
			if err := s.admin.Serve(aln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("service", "admin").Msg("admin_server_error")
			}
		}()
		log.Info().Str("service", "admin").Str("addr", aln.Addr().String()).Msg("listening")
	}

	if s.limiter != nil {
		go s.limiter.cleanup(s.lifeCtx)
	}
	if s.cfg.MaxAge > 0 && s.cfg.SweepInterval > 0 {
		go StartSweepJob(s.lifeCtx, SweepConfig{Store: s.store, Interval: s.cfg.SweepInterval})
	}

	go s.serve(ln)

	go func() {
		select {
		case <-ctx.Done():
			gctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
			defer cancel()
			if err := s.Shutdown(gctx); err != nil {
				log.Warn().Err(err).Str("service", "server").Msg("shutdown_incomplete")
			}
		case <-s.done:
		}
	}()

	log.Info().
		Str("service", "server").
		Str("addr", ln.Addr().String()).
		Int("max", s.cfg.Max).
		Int64("max_size", s.cfg.MaxSize).
		Dur("timeout", s.cfg.Timeout).
		Dur("max_age", s.cfg.MaxAge).
		Msg("listening")
	return nil
}

func (s *Server) serve(ln net.Listener) {
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-s.drained
		s.finish(ErrAborted)
		return
	}

	// Serve closes the listener before returning.
	log.Error().Err(err).Str("service", "server").Msg("server_error")
	gctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	_ = s.Shutdown(gctx)
	s.finish(err)
}

// Shutdown stops the server. In drain mode in-flight uploads may complete
// until ctx expires, after which they are cancelled; in cancel mode they are
// cancelled right away. Only the first call has an effect.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		log.Info().Str("service", "server").Str("mode", string(s.cfg.ShutdownMode)).Msg("shutting_down")

		s.stopLife()
		if s.cfg.ShutdownMode == ShutdownCancel {
			s.cancelRequests()
		}

		err = s.httpServer.Shutdown(ctx)
		if s.admin != nil {
			if aerr := s.admin.Shutdown(ctx); err == nil {
				err = aerr
			}
		}
		s.cancelRequests()
		close(s.drained)

		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if !started {
			s.finish(ErrAborted)
		}
	})
	return err
}

func (s *Server) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.err = err
	close(s.done)
}

// Done is closed once the server has stopped.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the server stops. It returns ErrAborted after a normal
// shutdown and the listener error otherwise.
func (s *Server) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Addr returns the bound public address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Secret returns the configured upload secret.
func (s *Server) Secret() string {
	return s.cfg.Secret
}

// Store exposes the object store, mainly for tests and probes.
func (s *Server) Store() *store.Store {
	return s.store
}
