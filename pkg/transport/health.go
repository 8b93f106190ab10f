package transport

import (
	"context"
	"sync"
	"time"

	"github.com/JailtonJunior94/devkit-go/pkg/observability"
)

// HealthStatus mirrors pkg/consumer's health surface so operators get the
// same shape of response across devkit-go's long-running components.
type HealthStatus struct {
	Status  string                 `json:"status"`
	Checks  map[string]CheckResult `json:"checks"`
	Message string                 `json:"message"`
}

// CheckResult is the outcome of a single health check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthCheckFunc performs one health check, returning an error on failure.
type HealthCheckFunc func(ctx context.Context) error

// RegisterHealthCheck adds a named check, executed alongside the built-in
// "transport" running-state check whenever Health is called.
func (t *Transport) RegisterHealthCheck(name string, check HealthCheckFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.healthChecks == nil {
		t.healthChecks = make(map[string]HealthCheckFunc)
	}
	t.healthChecks[name] = check
}

// Health runs all registered checks in parallel with a 5s timeout and
// folds them with the transport's own running state.
func (t *Transport) Health(ctx context.Context) HealthStatus {
	if !t.config.EnableHealthChecks {
		return HealthStatus{Status: "healthy", Message: "health checks disabled"}
	}

	checks := t.runHealthChecks(ctx, 5*time.Second)

	status := "healthy"
	message := "all checks passed"
	for _, result := range checks {
		if result.Status == "fail" {
			status = "unhealthy"
			message = "one or more checks failed"
			break
		}
	}

	return HealthStatus{Status: status, Checks: checks, Message: message}
}

func (t *Transport) runHealthChecks(ctx context.Context, timeout time.Duration) map[string]CheckResult {
	t.mu.Lock()
	running := t.running
	checks := make(map[string]HealthCheckFunc, len(t.healthChecks))
	for name, check := range t.healthChecks {
		checks[name] = check
	}
	t.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]CheckResult, len(checks)+1)

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheckFunc) {
			defer wg.Done()
			err := check(checkCtx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[name] = CheckResult{Status: "fail", Message: err.Error()}
				t.obs.Logger().Warn(checkCtx, "transport: health check failed",
					observability.String("check", name), observability.Error(err))
			} else {
				results[name] = CheckResult{Status: "pass"}
			}
		}(name, check)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if running {
		results["transport"] = CheckResult{Status: "pass", Message: "running"}
	} else {
		results["transport"] = CheckResult{Status: "fail", Message: "not running"}
	}
	return results
}

// Readiness reports whether the transport is healthy enough to serve traffic.
func (t *Transport) Readiness(ctx context.Context) bool {
	return t.Health(ctx).Status == "healthy"
}

// Liveness always reports true while the process is up.
func (t *Transport) Liveness(ctx context.Context) bool { return true }
