package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Tracker maintains sliding windows of request outcome timestamps.
// Single source of truth for overload (RequestCount, DenialCount), idle
// (RequestCount), and degraded (ErrorRate) detection. Safe for concurrent use.
type Tracker struct {
	mu           sync.Mutex
	retention    time.Duration
	successTimes []time.Time
	errorTimes   []time.Time
	deniedTimes  []time.Time
}

// NewTracker creates a Tracker that retains outcomes for at least retention.
// Pass the longest window the monitor evaluates; zero defaults to 30 minutes.
func NewTracker(retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	return &Tracker{retention: retention}
}

// RecordSuccess records a successful request outcome.
func (t *Tracker) RecordSuccess() {
	t.recordOutcome(&t.successTimes)
}

// RecordError records a failed request outcome (upstream error, timeout, etc.).
func (t *Tracker) RecordError() {
	t.recordOutcome(&t.errorTimes)
}

// RecordDenied records a rate-limit denial (429).
func (t *Tracker) RecordDenied() {
	t.recordOutcome(&t.deniedTimes)
}

// recordOutcome appends the current timestamp to the specified slice and prunes old entries.
func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns the total number of outcomes (success + error + denied) within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	return countInWindow(t.successTimes, cutoff) +
		countInWindow(t.errorTimes, cutoff) +
		countInWindow(t.deniedTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.deniedTimes, time.Now().Add(-window))
}

// ErrorRate returns (errorCount, totalCount) within the window.
// totalCount includes successes and errors only; denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	errCount := countInWindow(t.errorTimes, cutoff)
	successCount := countInWindow(t.successTimes, cutoff)
	return errCount, errCount + successCount
}

// Reset clears all recorded outcomes. For tests only.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successTimes = nil
	t.errorTimes = nil
	t.deniedTimes = nil
}

// countInWindow counts timestamps that are not before the cutoff time.
func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked removes timestamps older than the retention from all outcome
// slices. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.successTimes)
	prune(&t.errorTimes)
	prune(&t.deniedTimes)
}

// Config holds the thresholds the monitor evaluates.
type Config struct {
	OverloadWindow    time.Duration
	OverloadDenialPct int // denials as % of window requests that flips to overloaded

	DegradedWindow   time.Duration
	DegradedErrorPct int // errors as % of (successes+errors) that flips to degraded

	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration // idle is not reported before this uptime
}

// Result holds the computed health status and metadata for logging.
type Result struct {
	Status     string
	StatusCode int
	Reason     string
}

// Monitor computes the service health status from the tracker's windows and
// the shutdown flag, and remembers the previous status so transitions are
// logged exactly once per change.
type Monitor struct {
	cfg     Config
	tracker *Tracker
	start   time.Time

	shuttingDown atomic.Bool

	mu         sync.Mutex
	prevStatus string
}

// NewMonitor creates a Monitor over the given tracker. The start time anchors
// the minimum-lifespan grace period for idle detection.
func NewMonitor(cfg Config, tracker *Tracker) *Monitor {
	return &Monitor{
		cfg:     cfg,
		tracker: tracker,
		start:   time.Now(),
	}
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT is received.
// Evaluate returns 503 with status shutting-down while true.
func (m *Monitor) SetShuttingDown(v bool) {
	m.shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func (m *Monitor) IsShuttingDown() bool {
	return m.shuttingDown.Load()
}

// Tracker returns the underlying outcome tracker.
func (m *Monitor) Tracker() *Tracker {
	return m.tracker
}

// Evaluate determines the current health status by checking conditions in
// priority order: shutting-down > API key invalid > overloaded > idle >
// degraded > healthy. Each condition is evaluated only if previous conditions
// are not met. validateKey probes the upstream key; nil skips that check.
func (m *Monitor) Evaluate(ctx context.Context, validateKey func(context.Context) error) Result {
	// Priority 1: Check if service is shutting down
	if m.IsShuttingDown() {
		return Result{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	// Priority 2: Validate API key (required for everything downstream)
	if validateKey != nil {
		if err := validateKey(ctx); err != nil {
			return Result{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
		}
	}
	// Priority 3: Check overload (denials exceed configured percentage of window traffic)
	if m.cfg.OverloadWindow > 0 && m.cfg.OverloadDenialPct > 0 {
		total := m.tracker.RequestCount(m.cfg.OverloadWindow)
		if total > 0 {
			denied := m.tracker.DenialCount(m.cfg.OverloadWindow)
			if denied*100 >= total*m.cfg.OverloadDenialPct {
				return Result{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
			}
		}
	}
	// Priority 4: Check idle conditions (only after minimum lifespan)
	if m.cfg.IdleWindow > 0 && m.cfg.MinimumLifespan > 0 && time.Since(m.start) >= m.cfg.MinimumLifespan {
		if m.tracker.RequestCount(m.cfg.IdleWindow) < m.cfg.IdleThresholdReqPerMin {
			return Result{"idle", http.StatusOK, "low_traffic"}
		}
	}
	// Priority 5: Check degraded state (error rate exceeds configured threshold)
	if m.cfg.DegradedWindow > 0 && m.cfg.DegradedErrorPct > 0 {
		errors, total := m.tracker.ErrorRate(m.cfg.DegradedWindow)
		if total > 0 {
			pct := float64(errors) * 100 / float64(total)
			if pct >= float64(m.cfg.DegradedErrorPct) {
				return Result{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	// Default: All checks passed, service is healthy
	return Result{"healthy", http.StatusOK, ""}
}

// LogTransition records the evaluated status and logs when it changed since
// the previous evaluation. The first evaluation is never logged.
func (m *Monitor) LogTransition(logger *zap.Logger, result Result) {
	m.mu.Lock()
	prev := m.prevStatus
	m.prevStatus = result.Status
	m.mu.Unlock()

	if logger != nil && prev != "" && prev != result.Status {
		logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.Status),
			zap.String("reason", result.Reason))
	}
}
