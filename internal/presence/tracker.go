package presence

import (
	"context"
	"log"
	"time"

	"github.com/communityhub/realtime/internal/metrics"
)

// TrackerConfig holds the deployment-tunable liveness parameters.
type TrackerConfig struct {
	TTL           time.Duration // missed-heartbeat window treated as implicit disconnect
	SweepInterval time.Duration // how often the sweeper runs
}

// DefaultTrackerConfig returns the standard production values: a 30 minute
// heartbeat TTL swept every 5 minutes.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		TTL:           1800 * time.Second,
		SweepInterval: 300 * time.Second,
	}
}

// Tracker runs the periodic presence sweep. Users whose last heartbeat is
// older than the TTL are force-transitioned to absent even if their
// transport connection still appears open - the TTL, not the socket, is the
// liveness authority. Each swept user produces exactly one OnOffline
// callback regardless of how many heartbeats were missed.
type Tracker struct {
	store     *Store
	config    TrackerConfig
	onOffline func(Record)
	done      chan struct{}
}

// NewTracker creates a Tracker over the given store.
func NewTracker(store *Store, config TrackerConfig) *Tracker {
	return &Tracker{
		store:  store,
		config: config,
		done:   make(chan struct{}),
	}
}

// SetOnOffline registers the callback invoked once per swept user, with the
// user's final record. It must be set before Start.
func (t *Tracker) SetOnOffline(fn func(Record)) {
	t.onOffline = fn
}

// Start launches the sweep loop in a background goroutine. It returns
// immediately; the goroutine exits when Stop is called.
func (t *Tracker) Start() {
	go func() {
		ticker := time.NewTicker(t.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				t.sweepOnce()
			}
		}
	}()
	log.Printf("presence: sweeper started (ttl=%s interval=%s)", t.config.TTL, t.config.SweepInterval)
}

// Stop terminates the sweep loop.
func (t *Tracker) Stop() {
	close(t.done)
}

// sweepOnce claims and evicts every user past the TTL. Sweep errors are
// logged and retried on the next tick; a Redis outage never crashes the
// loop.
func (t *Tracker) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-t.config.TTL)
	swept, err := t.store.SweepStale(ctx, cutoff, 100)
	if err != nil {
		log.Printf("presence: sweep error: %v", err)
	}

	for _, rec := range swept {
		metrics.PresenceSweeps.Inc()
		log.Printf("presence: swept user=%s last_seen=%s", rec.UserID, rec.LastSeen.Format(time.RFC3339))
		if t.onOffline != nil {
			t.onOffline(rec)
		}
	}
}
