package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"blobdrop/internal/store"
)

// SweepConfig holds configuration for the expiry sweep job.
type SweepConfig struct {
	Store    *store.Store
	Interval time.Duration
}

// StartSweepJob periodically drops expired objects until ctx is done.
// Lookups already refuse expired objects; the sweep only returns their
// memory early.
func StartSweepJob(ctx context.Context, cfg SweepConfig) {
	if cfg.Interval <= 0 || cfg.Store == nil || cfg.Store.MaxAge() == 0 {
		log.Debug().Str("service", "sweep").Msg("disabled")
		return
	}

	log.Info().Str("service", "sweep").
		Dur("interval", cfg.Interval).
		Dur("max_age", cfg.Store.MaxAge()).
		Msg("starting")

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("service", "sweep").Msg("shutting_down")
			return
		case <-ticker.C:
			runSweep(cfg.Store)
		}
	}
}

func runSweep(st *store.Store) int {
	start := time.Now()
	removed := st.PurgeExpired()
	if removed > 0 {
		log.Info().Str("service", "sweep").
			Int("removed", removed).
			Int("remaining", st.Len()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("sweep_complete")
	}
	return removed
}
