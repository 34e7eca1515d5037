package web

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// ServiceHealth represents the health state of a component.
type ServiceHealth string

const (
	ServiceHealthHealthy   ServiceHealth = "healthy"
	ServiceHealthUnhealthy ServiceHealth = "unhealthy"
	ServiceHealthDegraded  ServiceHealth = "degraded"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Name    string        `json:"name"`
	Status  ServiceHealth `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ms"`
}

// MarshalJSON reports latency in milliseconds.
func (r HealthCheckResult) MarshalJSON() ([]byte, error) {
	type Alias HealthCheckResult
	return json.Marshal(&struct {
		Alias
		LatencyMS int64 `json:"latency_ms"`
	}{
		Alias:     Alias(r),
		LatencyMS: r.Latency.Milliseconds(),
	})
}

// HealthReport is the aggregated answer of /healthz.
type HealthReport struct {
	Status    ServiceHealth       `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
	Checks    []HealthCheckResult `json:"checks"`
}

// HealthChecker returns nil when the component is fine.
type HealthChecker func(ctx context.Context) error

type healthCheck struct {
	name     string
	critical bool
	checker  HealthChecker
}

// HealthRegistry runs component checks on demand.
type HealthRegistry struct {
	mu      sync.RWMutex
	checks  []healthCheck
	timeout time.Duration
}

// NewHealthRegistry creates a registry whose checks are bounded by timeout.
func NewHealthRegistry(timeout time.Duration) *HealthRegistry {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthRegistry{timeout: timeout}
}

// Register adds a check. A failing critical check makes the report
// unhealthy; any other failure only degrades it.
func (r *HealthRegistry) Register(name string, critical bool, checker HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, healthCheck{name: name, critical: critical, checker: checker})
}

// CheckAll runs every check concurrently.
func (r *HealthRegistry) CheckAll(ctx context.Context) HealthReport {
	r.mu.RLock()
	checks := append([]healthCheck(nil), r.checks...)
	r.mu.RUnlock()

	results := make([]HealthCheckResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(idx int, check healthCheck) {
			defer wg.Done()
			results[idx] = r.run(ctx, check)
		}(i, check)
	}
	wg.Wait()

	report := HealthReport{Status: ServiceHealthHealthy, Timestamp: time.Now(), Checks: results}
	for i, result := range results {
		if result.Status == ServiceHealthHealthy {
			continue
		}
		if checks[i].critical {
			report.Status = ServiceHealthUnhealthy
		} else if report.Status == ServiceHealthHealthy {
			report.Status = ServiceHealthDegraded
		}
	}
	sort.Slice(report.Checks, func(i, j int) bool { return report.Checks[i].Name < report.Checks[j].Name })
	return report
}

// run runs a single health check with timeout.
func (r *HealthRegistry) run(ctx context.Context, check healthCheck) HealthCheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- check.checker(checkCtx) }()

	result := HealthCheckResult{Name: check.name, Status: ServiceHealthHealthy}
	select {
	case err := <-done:
		if err != nil {
			result.Status = ServiceHealthUnhealthy
			result.Message = err.Error()
		}
	case <-checkCtx.Done():
		result.Status = ServiceHealthUnhealthy
		result.Message = "health check timed out"
	}
	result.Latency = time.Since(start)
	return result
}
