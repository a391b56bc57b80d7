package entstore

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const janitorInterval = 1 * time.Hour

// Janitor periodically evicts processed-event rows older than the retention
// window so the idempotency ledger stays small.
type Janitor struct {
	store     *Store
	retention time.Duration
}

// NewJanitor creates a Janitor. A non-positive retention falls back to
// DefaultEventRetention.
func NewJanitor(store *Store, retention time.Duration) *Janitor {
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	return &Janitor{store: store, retention: retention}
}

// Run starts the eviction loop. It blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	log.Info().Dur("retention", j.retention).Msg("Event ledger janitor started")

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Event ledger janitor stopped")
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	cutoff := time.Now().UTC().Add(-j.retention)
	n, err := j.store.PurgeEventsBefore(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Event ledger janitor: purge failed")
		return
	}
	if n > 0 {
		log.Debug().Int64("evicted", n).Msg("Event ledger janitor: evicted processed events")
	}
}
