// Package health tracks the readiness of the daemon's dependencies.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// Check probes one dependency. A non-nil error marks the component unhealthy.
type Check func(ctx context.Context) error

// Component is the last observed state of a dependency.
type Component struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	Critical  bool          `json:"critical"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// Report is the aggregate result of a check run.
type Report struct {
	Status     Status        `json:"status"`
	Timestamp  time.Time     `json:"timestamp"`
	Components []Component   `json:"components"`
	Uptime     time.Duration `json:"uptime"`
	Version    string        `json:"version"`
}

type registration struct {
	check    Check
	critical bool
	state    Component
}

// Checker runs registered checks.
type Checker struct {
	mu         sync.Mutex
	components map[string]*registration
	startTime  time.Time
	version    string
}

func NewChecker(version string) *Checker {
	return &Checker{
		components: make(map[string]*registration),
		startTime:  time.Now(),
		version:    version,
	}
}

// Register adds a check. A failing non-critical check degrades the report instead of failing it.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[name] = &registration{
		check:    check,
		critical: critical,
		state: Component{
			Name:      name,
			Status:    Healthy,
			Message:   "registered",
			Critical:  critical,
			LastCheck: time.Now(),
		},
	}
}

// Run performs every check and returns the report. Components are sorted by name.
func (c *Checker) Run(ctx context.Context) *Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	overall := Healthy
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make([]Component, 0, len(names))
	for _, name := range names {
		reg := c.components[name]
		start := time.Now()
		err := reg.check(ctx)
		reg.state.Latency = time.Since(start)
		reg.state.LastCheck = time.Now()

		switch {
		case err == nil:
			reg.state.Status = Healthy
			reg.state.Message = "OK"
		case reg.critical:
			reg.state.Status = Unhealthy
			reg.state.Message = err.Error()
			overall = Unhealthy
		default:
			reg.state.Status = Degraded
			reg.state.Message = err.Error()
			if overall == Healthy {
				overall = Degraded
			}
		}
		components = append(components, reg.state)
	}

	return &Report{
		Status:     overall,
		Timestamp:  time.Now(),
		Components: components,
		Uptime:     time.Since(c.startTime),
		Version:    c.version,
	}
}

// Err runs the checks and joins the failures of critical components.
func (c *Checker) Err(ctx context.Context) error {
	var errs []error
	for _, comp := range c.Run(ctx).Components {
		if comp.Status == Unhealthy {
			errs = append(errs, fmt.Errorf("%s: %s", comp.Name, comp.Message))
		}
	}
	return errors.Join(errs...)
}
