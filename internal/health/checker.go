// Package health aggregates component probes for the service health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult holds the result of one component probe.
type CheckResult struct {
	Status    Status    `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// Report is the aggregate of all component probes.
type Report struct {
	Status     Status                 `json:"status"`
	Components map[string]CheckResult `json:"components"`
}

// Healthy reports whether every component passed.
func (r Report) Healthy() bool { return r.Status == StatusHealthy }

// Checker runs registered component probes.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker returns an empty Checker.
func NewChecker() *Checker {
	return &Checker{checks: make(map[string]CheckFunc)}
}

// Register adds a named component probe, replacing any previous one.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Run probes every registered component. The report is unhealthy if any
// single component is.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	report := Report{Status: StatusHealthy, Components: make(map[string]CheckResult, len(checks))}
	for name, fn := range checks {
		start := time.Now()
		err := fn(ctx)
		result := CheckResult{
			Status:    StatusHealthy,
			LatencyMS: time.Since(start).Milliseconds(),
			Timestamp: start.UTC(),
		}
		if err != nil {
			result.Status = StatusUnhealthy
			result.Error = err.Error()
			report.Status = StatusUnhealthy
		}
		report.Components[name] = result
	}
	return report
}
