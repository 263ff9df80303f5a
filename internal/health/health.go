// Package health reports whether the daemon is doing its job: keyboards
// are open, a library is loaded and the injection backend is reachable.
// Results are served next to the metrics endpoint.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"chordd/internal/metrics"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ns"`
}

// Check performs one health check.
type Check func(ctx context.Context) CheckResult

type component struct {
	name     string
	critical bool // failure makes the overall status unhealthy
	check    Check
}

const checkTimeout = 2 * time.Second

// Checker runs the registered checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*component
	startTime  time.Time
	ready      bool
	now        func() time.Time
}

// NewChecker creates a new Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*component),
		startTime:  time.Now(),
		now:        time.Now,
	}
}

// Register adds a named check. A failing critical check makes the whole
// daemon unhealthy; a failing non-critical one only degrades it.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = &component{name: name, critical: critical, check: check}
}

// SetReady marks startup as complete.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

// IsReady returns the readiness state.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Check runs every registered check. A check that panics or outlives its
// timeout reports unhealthy.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	components := make([]*component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(components))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, comp := range components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.run(ctx, comp)
			mu.Lock()
			results[comp.name] = result
			mu.Unlock()
		}()
	}

	wg.Wait()
	return results
}

func (c *Checker) run(ctx context.Context, comp *component) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := c.now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		done <- comp.check(checkCtx)
	}()

	var result CheckResult
	select {
	case result = <-done:
	case <-checkCtx.Done():
		result = CheckResult{Status: StatusUnhealthy, Message: "check timed out"}
	}

	result.LastChecked = start
	result.Duration = c.now().Sub(start)
	return result
}

// OverallStatus aggregates results from Check.
func (c *Checker) OverallStatus(results map[string]CheckResult) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	degraded := false
	for name, result := range results {
		comp := c.components[name]
		if comp == nil {
			continue
		}
		switch result.Status {
		case StatusUnhealthy, StatusUnknown:
			if comp.critical {
				return StatusUnhealthy
			}
			degraded = true
		case StatusDegraded:
			degraded = true
		}
	}
	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

// Response is the body of the health endpoint.
type Response struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components"`
}

// Report runs the checks and summarizes them.
func (c *Checker) Report(ctx context.Context) Response {
	results := c.Check(ctx)

	c.mu.RLock()
	ready := c.ready
	uptime := c.now().Sub(c.startTime).Round(time.Second)
	c.mu.RUnlock()

	return Response{
		Status:     c.OverallStatus(results),
		Ready:      ready,
		Uptime:     uptime.String(),
		Components: results,
	}
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// LivenessHandler always answers 200 while the process serves HTTP.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})
}

// ReadinessHandler answers 503 until SetReady(true) and while a critical
// check fails.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting", "ready": false})
			return
		}
		status := c.OverallStatus(c.Check(r.Context()))
		code := http.StatusOK
		if status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"status": status, "ready": true})
	})
}

// HealthHandler serves the full Report. Degraded still answers 200.
func (c *Checker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := c.Report(r.Context())
		code := http.StatusOK
		if resp.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})
}

// Mount serves /livez, /readyz and /healthz on mux.
func (c *Checker) Mount(mux *http.ServeMux) {
	mux.Handle("/livez", c.LivenessHandler())
	mux.Handle("/readyz", c.ReadinessHandler())
	mux.Handle("/healthz", c.HealthHandler())
}

// DevicesCheck fails when no keyboard is open any more.
func DevicesCheck(active *metrics.Gauge) Check {
	return func(context.Context) CheckResult {
		n := active.Value()
		if n <= 0 {
			return CheckResult{Status: StatusUnhealthy, Message: "no keyboard open"}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d keyboard(s) open", n)}
	}
}

// LibraryCheck degrades when the loaded library has no entries.
func LibraryCheck(entries func() int) Check {
	return func(context.Context) CheckResult {
		n := entries()
		if n == 0 {
			return CheckResult{Status: StatusDegraded, Message: "chord library is empty"}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d entries", n)}
	}
}

// SocketCheck fails when the unix socket at path is missing.
func SocketCheck(path string) Check {
	return func(context.Context) CheckResult {
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("%s does not exist", path)}
		case err != nil:
			return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
		case info.Mode()&fs.ModeSocket == 0:
			return CheckResult{Status: StatusUnhealthy, Message: fmt.Sprintf("%s is not a socket", path)}
		}
		return CheckResult{Status: StatusHealthy}
	}
}
