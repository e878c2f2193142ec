package netstate

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var originOnline = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "edge_origin_online",
	Help: "Whether the origin is currently considered reachable (1) or offline (0)",
})

// Tracker derives connectivity from reported fetch outcomes. It starts
// online: the gateway assumes reachability until the traffic proves
// otherwise.
type Tracker struct {
	mu         sync.Mutex
	status     Status
	failures   int
	threshold  int
	since      time.Time
	onRestore  []func()
	logger     zerolog.Logger
}

// NewTracker creates a Tracker. A threshold of zero or less selects
// DefaultFailureThreshold.
func NewTracker(threshold int, logger zerolog.Logger) *Tracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	originOnline.Set(1)
	return &Tracker{
		status:    StatusOnline,
		threshold: threshold,
		since:     time.Now(),
		logger:    logger,
	}
}

// OnRestore registers fn to run on every offline-to-online transition.
// Callbacks run on the goroutine that reported the success and must not
// block; long work belongs in a goroutine of the callback's own.
func (t *Tracker) OnRestore(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRestore = append(t.onRestore, fn)
}

// ReportSuccess records a successful origin fetch. The first success after
// an offline stretch flips the status and fires the restore callbacks.
func (t *Tracker) ReportSuccess() {
	t.mu.Lock()
	t.failures = 0
	restored := t.status == StatusOffline
	if restored {
		t.status = StatusOnline
		t.since = time.Now()
		originOnline.Set(1)
		t.logger.Info().Msg("origin back online")
	}
	callbacks := make([]func(), len(t.onRestore))
	copy(callbacks, t.onRestore)
	t.mu.Unlock()

	if restored {
		for _, fn := range callbacks {
			fn()
		}
	}
}

// ReportFailure records a failed origin fetch. Crossing the threshold flips
// the status to offline.
func (t *Tracker) ReportFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures++
	if t.status == StatusOnline && t.failures >= t.threshold {
		t.status = StatusOffline
		t.since = time.Now()
		originOnline.Set(0)
		t.logger.Warn().
			Int("consecutive_failures", t.failures).
			Msg("origin considered offline")
	}
}

// Status returns the current connectivity status.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Online reports whether the origin is currently considered reachable.
func (t *Tracker) Online() bool {
	return t.Status() == StatusOnline
}

// Snapshot returns a point-in-time view for health endpoints.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Online:              t.status == StatusOnline,
		ConsecutiveFailures: t.failures,
		Since:               t.since,
	}
}

// Probe issues HEAD requests to url on every tick while the tracker is
// offline and feeds the outcomes back in. Without a probe, an idle gateway
// would stay offline until the next user request; with one, queued work
// resumes on its own. Returns when ctx is done.
//
// The client must reach the origin directly, not through the strategy
// engine.
func (t *Tracker) Probe(ctx context.Context, client *http.Client, url string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.Online() {
				continue
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
			if err != nil {
				t.logger.Error().Err(err).Str("url", url).Msg("probe request invalid")
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				t.ReportFailure()
				continue
			}
			resp.Body.Close()
			t.ReportSuccess()
		}
	}
}
