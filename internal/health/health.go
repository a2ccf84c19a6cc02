package health

import (
	"context"
	"sync"
	"time"
)

// CheckResult is the outcome of probing a single dependency.
type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Checker probes one dependency. Implementations must respect ctx.
type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context) CheckResult

func (f CheckerFunc) Check(ctx context.Context) CheckResult { return f(ctx) }

// ProbeRunner runs readiness checkers with a per-probe timeout and caches
// the combined result for a short interval so a flood of readiness polls
// does not hammer the dependencies themselves.
type ProbeRunner struct {
	timeout  time.Duration
	interval time.Duration
	checkers []Checker

	mu          sync.Mutex
	lastRun     time.Time
	lastReady   bool
	lastResults []CheckResult
}

func NewProbeRunner(timeout, interval time.Duration, checkers ...Checker) *ProbeRunner {
	return &ProbeRunner{timeout: timeout, interval: interval, checkers: checkers}
}

// Ready reports whether every dependency is healthy, along with per-check
// detail. Results are cached for the configured interval; an interval of
// zero disables caching.
func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interval > 0 && !p.lastRun.IsZero() && time.Since(p.lastRun) < p.interval {
		return p.lastReady, p.lastResults
	}

	ready := true
	results := make([]CheckResult, 0, len(p.checkers))
	for _, c := range p.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
		result := c.Check(checkCtx)
		cancel()
		if !result.Healthy {
			ready = false
		}
		results = append(results, result)
	}

	p.lastRun = time.Now()
	p.lastReady = ready
	p.lastResults = results
	return ready, results
}
