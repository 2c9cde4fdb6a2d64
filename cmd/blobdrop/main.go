package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"blobdrop/internal/server"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// A missing .env is the normal case in containers.
	_ = godotenv.Load()

	server.SetupLogging(server.LoggingConfig{
		Format: server.LogFormat(getenvDefault("BLOBDROP_LOG_FORMAT", string(server.LogFormatJSON))),
		Level:  getenvDefault("BLOBDROP_LOG_LEVEL", "info"),
	})

	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("service", "blobdrop").Msg("invalid_environment")
		os.Exit(2)
	}

	srv, err := server.New(cfg)
	if err != nil {
		var cfgErr *server.ConfigError
		if errors.As(err, &cfgErr) {
			for _, e := range cfgErr.Errors {
				log.Error().Str("service", "blobdrop").Str("field", e.Field).Msg(e.Message)
			}
		}
		log.Error().Err(err).Str("service", "blobdrop").Msg("invalid_config")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, srv); err != nil {
		log.Error().Err(err).Str("service", "blobdrop").Msg("server_error")
		os.Exit(1)
	}
	log.Info().Str("service", "blobdrop").Msg("shutdown_complete")
}

// run starts srv and blocks until it stops. A shutdown caused by ctx is not
// an error.
func run(ctx context.Context, srv *server.Server) error {
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	log.Info().
		Str("service", "blobdrop").
		Str("addr", srv.Addr().String()).
		Str("version", version).
		Str("commit", commit).
		Msg("started")

	g := new(errgroup.Group)
	g.Go(func() error {
		select {
		case <-ctx.Done():
			log.Info().Str("service", "blobdrop").Msg("signal_received")
		case <-srv.Done():
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.Wait(); !errors.Is(err, server.ErrAborted) {
			return err
		}
		return nil
	})
	return g.Wait()
}

// loadConfig builds the server configuration from BLOBDROP_* variables.
func loadConfig() (server.Config, error) {
	cfg := server.DefaultConfig()
	cfg.Build = server.BuildInfo{Version: version, Commit: commit}
	cfg.Host = getenvDefault("BLOBDROP_HOST", cfg.Host)
	cfg.Secret = os.Getenv("BLOBDROP_SECRET")
	cfg.AdminAddr = os.Getenv("BLOBDROP_ADMIN_ADDR")
	cfg.ShutdownMode = server.ShutdownMode(getenvDefault("BLOBDROP_SHUTDOWN_MODE", string(cfg.ShutdownMode)))
	cfg.CORSOrigins = parseList(os.Getenv("BLOBDROP_CORS_ORIGINS"))

	var errs []error
	intVar := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	durationVar := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	intVar("BLOBDROP_PORT", &cfg.Port)
	intVar("BLOBDROP_MAX", &cfg.Max)
	intVar("BLOBDROP_UPLOAD_RATE", &cfg.UploadRate)
	durationVar("BLOBDROP_MAX_AGE", &cfg.MaxAge)
	durationVar("BLOBDROP_TIMEOUT", &cfg.Timeout)
	durationVar("BLOBDROP_SHUTDOWN_GRACE", &cfg.ShutdownGrace)
	durationVar("BLOBDROP_SWEEP_INTERVAL", &cfg.SweepInterval)

	if v := os.Getenv("BLOBDROP_MAX_SIZE"); v != "" {
		n, err := parseSize(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("BLOBDROP_MAX_SIZE: %w", err))
		} else {
			cfg.MaxSize = n
		}
	}

	return cfg, errors.Join(errs...)
}

// parseDuration accepts a Go duration string or a plain number of
// milliseconds.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(v)
}

// parseSize accepts byte counts with optional units ("3MiB", "500kB",
// "1024").
func parseSize(v string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("size %s out of range", v)
	}
	return int64(n), nil
}

func parseList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getenvDefault reads an environment variable and returns a default value if not set.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
