// Package monitor decides online/offline with hysteresis: probe failures must
// accumulate before the terminal flips offline, while a single success flips
// it back immediately.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/2jz-code/tillkeeper/internal/model"
)

// Prober checks backend reachability. A nil return means reachable.
type Prober func(ctx context.Context) error

// HTTPProber probes an unauthenticated health endpoint with a plain GET. The
// response body is ignored; any status below 500 counts as reachable (a 4xx
// still proves the backend answered).
func HTTPProber(url string, client *http.Client) Prober {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		}
		return nil
	}
}

// StatusStore persists the connectivity decision.
type StatusStore interface {
	UpdateNetworkStatus(ctx context.Context, online bool) error
	GetNetworkStatus(ctx context.Context) (model.NetworkStatus, error)
}

// Options configure the monitor. Zero values fall back to defaults.
type Options struct {
	// Interval between probes. Default 30s. Keep it well above ProbeTimeout
	// so at most one probe is in flight per tick.
	Interval time.Duration
	// ProbeTimeout bounds one probe. Default 5s. A timed-out probe is a
	// failure; there is no cooperative cancellation of an in-flight probe.
	ProbeTimeout time.Duration
	// FailureThreshold is how many consecutive failures flip online->offline.
	// Default 3.
	FailureThreshold int
	// OnChange, if set, is called after each persisted status flip.
	OnChange func(online bool)
}

const (
	defaultInterval         = 30 * time.Second
	defaultProbeTimeout     = 5 * time.Second
	defaultFailureThreshold = 3
)

// Monitor drives the online/offline state machine on a recurring timer.
type Monitor struct {
	opts   Options
	probe  Prober
	status StatusStore
	log    *zap.Logger

	mu       sync.Mutex
	online   bool
	failures int
	override *bool // manual override for testing; skips probing entirely
}

// New constructs a monitor. Run or ForceCheck drive it.
func New(probe Prober, status StatusStore, opts Options, log *zap.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = defaultFailureThreshold
	}
	return &Monitor{opts: opts, probe: probe, status: status, log: log, online: true}
}

// Run loads the persisted status, then probes on the configured interval
// until ctx is cancelled. Probe failures are never surfaced to callers; they
// only feed the hysteresis counter.
func (m *Monitor) Run(ctx context.Context) {
	if st, err := m.status.GetNetworkStatus(ctx); err == nil {
		m.mu.Lock()
		m.online = st.Online
		m.mu.Unlock()
	}

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ForceCheck(ctx)
		}
	}
}

// Online reports the current in-memory decision.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// ForceCheck probes immediately and returns the resulting decision. One
// success resets the failure counter and flips online at once; a failure
// only flips offline after FailureThreshold consecutive misses.
func (m *Monitor) ForceCheck(ctx context.Context) bool {
	m.mu.Lock()
	ov := m.override
	m.mu.Unlock()
	if ov != nil {
		m.setStatus(ctx, *ov, "manual override")
		return *ov
	}

	pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	err := m.probe(pctx)
	cancel()

	m.mu.Lock()
	if err == nil {
		m.failures = 0
		flip := !m.online
		m.mu.Unlock()
		if flip {
			m.setStatus(ctx, true, "probe succeeded")
		}
		return true
	}

	m.failures++
	flip := m.online && m.failures >= m.opts.FailureThreshold
	failures := m.failures
	online := m.online
	m.mu.Unlock()

	m.log.Debug("probe failed",
		zap.Int("consecutive", failures),
		zap.Int("threshold", m.opts.FailureThreshold),
		zap.Error(err))

	if flip {
		m.setStatus(ctx, false, "failure threshold reached")
		return false
	}
	return online
}

// MarkSuspect is the secondary, less trusted signal: the host OS reports the
// network down. It forces offline immediately without waiting for the
// threshold. Recovery still requires a fresh successful probe.
func (m *Monitor) MarkSuspect(ctx context.Context) {
	m.mu.Lock()
	m.failures = m.opts.FailureThreshold
	m.mu.Unlock()
	m.setStatus(ctx, false, "host reported network down")
}

// HostOnlineHint handles the OS reporting connectivity back. It only triggers
// a re-probe; the state flips online solely on probe success.
func (m *Monitor) HostOnlineHint(ctx context.Context) {
	m.ForceCheck(ctx)
}

// SetOverride pins the status for testing; nil removes the pin.
func (m *Monitor) SetOverride(online *bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.override = online
}

// setStatus persists and announces a decision. Repeating the current state is
// a no-op, so staying offline across further failures emits no events.
func (m *Monitor) setStatus(ctx context.Context, online bool, reason string) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	m.mu.Unlock()

	if err := m.status.UpdateNetworkStatus(ctx, online); err != nil {
		m.log.Warn("persist network status failed", zap.Error(err))
	}
	m.log.Info("connectivity changed",
		zap.Bool("online", online),
		zap.String("reason", reason))
	if m.opts.OnChange != nil {
		m.opts.OnChange(online)
	}
}
