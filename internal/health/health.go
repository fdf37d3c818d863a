// Package health watches the external services CarePilot depends on
// (the model providers and the embeddings endpoint) and reports their
// reachability for the /health endpoint.
//
// Each check probes with exponential backoff until the first success,
// then polls at a fixed interval and logs state transitions.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Probe returns nil when the service is reachable.
type Probe func(ctx context.Context) error

// Timing controls probe scheduling. Zero fields take the defaults.
type Timing struct {
	InitialDelay time.Duration // first retry delay while starting (2s)
	MaxDelay     time.Duration // backoff ceiling (60s)
	PollInterval time.Duration // steady-state interval (60s)
	ProbeTimeout time.Duration // per-probe limit (10s)
}

func (t Timing) withDefaults() Timing {
	if t.InitialDelay <= 0 {
		t.InitialDelay = 2 * time.Second
	}
	if t.MaxDelay <= 0 {
		t.MaxDelay = 60 * time.Second
	}
	if t.PollInterval <= 0 {
		t.PollInterval = 60 * time.Second
	}
	if t.ProbeTimeout <= 0 {
		t.ProbeTimeout = 10 * time.Second
	}
	return t
}

// Status is the last known state of one dependency.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

type check struct {
	name  string
	probe Probe

	mu     sync.Mutex
	status Status
}

func (c *check) record(err error) (was, now bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	was = c.status.Ready
	c.status.Ready = err == nil
	c.status.LastCheck = time.Now()
	c.status.LastError = ""
	if err != nil {
		c.status.LastError = err.Error()
	}
	return was, c.status.Ready
}

func (c *check) snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Monitor runs a set of dependency checks.
type Monitor struct {
	logger *slog.Logger
	timing Timing

	mu     sync.RWMutex
	checks map[string]*check
	wg     sync.WaitGroup
}

// NewMonitor creates an idle monitor.
func NewMonitor(timing Timing, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger: logger.With("component", "health"),
		timing: timing.withDefaults(),
		checks: make(map[string]*check),
	}
}

// Watch starts probing a dependency until ctx is cancelled. Watching a
// name twice replaces nothing; the second call is ignored.
func (m *Monitor) Watch(ctx context.Context, name string, probe Probe) {
	m.mu.Lock()
	if _, ok := m.checks[name]; ok {
		m.mu.Unlock()
		return
	}
	c := &check{name: name, probe: probe, status: Status{Name: name}}
	m.checks[name] = c
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, c)
	}()
}

// Wait blocks until every watch loop has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Status returns every dependency's state, sorted by name.
func (m *Monitor) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.checks))
	for _, c := range m.checks {
		out = append(out, c.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether every watched dependency is ready.
func (m *Monitor) Healthy() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}

func (m *Monitor) probe(ctx context.Context, c *check) bool {
	pctx, cancel := context.WithTimeout(ctx, m.timing.ProbeTimeout)
	defer cancel()
	err := c.probe(pctx)
	if ctx.Err() != nil {
		return false
	}

	was, now := c.record(err)
	switch {
	case !was && now:
		m.logger.Info("dependency reachable", "dependency", c.name)
	case was && !now:
		m.logger.Warn("dependency unreachable", "dependency", c.name, "error", err)
	case !now:
		m.logger.Debug("dependency still unreachable", "dependency", c.name, "error", err)
	}
	return now
}

func (m *Monitor) run(ctx context.Context, c *check) {
	delay := m.timing.InitialDelay
	for !m.probe(ctx, c) {
		if !sleep(ctx, delay) {
			return
		}
		delay *= 2
		if delay > m.timing.MaxDelay {
			delay = m.timing.MaxDelay
		}
	}

	ticker := time.NewTicker(m.timing.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx, c)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
