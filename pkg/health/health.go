// Package health provides health check capabilities for the application.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cmatc13/lumenpay/pkg/logging"
	"github.com/cmatc13/lumenpay/pkg/metrics"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusUp indicates the component is healthy.
	StatusUp Status = "UP"
	// StatusDown indicates the component is unhealthy.
	StatusDown Status = "DOWN"
	// StatusUnknown indicates the component's health is unknown.
	StatusUnknown Status = "UNKNOWN"
)

// DefaultCheckTimeout bounds a single check when the caller's context has no deadline.
const DefaultCheckTimeout = 3 * time.Second

// Check represents a health check for a component.
type Check struct {
	// Name is the name of the component being checked.
	Name string
	// Status is the health status of the component.
	Status Status
	// Message is an optional message providing more details about the health status.
	Message string
	// LastChecked is the time when the component was last checked.
	LastChecked time.Time
	// Error is an optional error that occurred during the health check.
	Error error
}

// MarshalJSON implements the json.Marshaler interface.
func (c Check) MarshalJSON() ([]byte, error) {
	var errorStr string
	if c.Error != nil {
		errorStr = c.Error.Error()
	}

	return json.Marshal(struct {
		Name        string    `json:"name"`
		Status      Status    `json:"status"`
		Message     string    `json:"message,omitempty"`
		LastChecked time.Time `json:"last_checked"`
		Error       string    `json:"error,omitempty"`
	}{
		Name:        c.Name,
		Status:      c.Status,
		Message:     c.Message,
		LastChecked: c.LastChecked,
		Error:       errorStr,
	})
}

// Checker defines a function that performs a health check.
type Checker func(ctx context.Context) Check

// Report is the aggregate result of all checks.
type Report struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
}

// Registry manages health checks for the application.
type Registry struct {
	checks  map[string]Checker
	mutex   sync.RWMutex
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates a new health check registry. m may be nil.
func NewRegistry(logger *logging.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Registry{
		checks:  make(map[string]Checker),
		logger:  logger.Named("health"),
		metrics: m,
	}
}

// Register adds a health check to the registry.
func (r *Registry) Register(name string, checker Checker) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.checks[name] = checker
	r.logger.Info("Registered health check", "name", name)
}

// Unregister removes a health check from the registry.
func (r *Registry) Unregister(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.checks, name)
	r.logger.Info("Unregistered health check", "name", name)
}

// RunChecks runs all registered health checks concurrently.
func (r *Registry) RunChecks(ctx context.Context) map[string]Check {
	r.mutex.RLock()
	checks := make(map[string]Checker, len(r.checks))
	for name, checker := range r.checks {
		checks[name] = checker
	}
	r.mutex.RUnlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCheckTimeout)
		defer cancel()
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	results := make(map[string]Check, len(checks))
	for name, checker := range checks {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()
			r.logger.Debug("Running health check", "name", name)
			check := checker(ctx)
			r.metrics.RecordDependencyStatus(name, check.Status == StatusUp)

			mu.Lock()
			results[name] = check
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	return results
}

// Report runs all checks and aggregates them. Any DOWN check makes the report DOWN.
func (r *Registry) Report(ctx context.Context) Report {
	checks := r.RunChecks(ctx)

	status := StatusUp
	for _, check := range checks {
		if check.Status == StatusDown {
			status = StatusDown
			break
		} else if check.Status == StatusUnknown {
			status = StatusUnknown
		}
	}

	return Report{Status: status, Timestamp: time.Now().UTC(), Checks: checks}
}

// IsHealthy returns true if all health checks are passing.
func (r *Registry) IsHealthy(ctx context.Context) bool {
	return r.Report(ctx).Status == StatusUp
}

// Handler returns an HTTP handler for health checks.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		report := r.Report(req.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		if err := json.NewEncoder(w).Encode(report); err != nil {
			r.logger.Error("Failed to encode health check response", "error", err)
		}
	})
}

// probe runs checkFn and describes the result for a component.
func probe(ctx context.Context, name, description string, checkFn func(ctx context.Context) error) Check {
	check := Check{
		Name:        name,
		Status:      StatusUnknown,
		LastChecked: time.Now(),
	}

	if err := checkFn(ctx); err != nil {
		check.Status = StatusDown
		check.Error = err
		check.Message = fmt.Sprintf("%s is unhealthy: %v", description, err)
	} else {
		check.Status = StatusUp
		check.Message = fmt.Sprintf("%s is healthy", description)
	}

	return check
}

// ServiceChecker creates a health check for a service.
func ServiceChecker(serviceName string, checkFn func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Check {
		return probe(ctx, serviceName, "Service "+serviceName, checkFn)
	}
}

// LedgerChecker creates a health check for the ledger REST endpoint.
func LedgerChecker(horizonURL string, pingFn func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Check {
		return probe(ctx, "ledger", "Ledger at "+horizonURL, pingFn)
	}
}

// RedisChecker creates a health check for Redis.
func RedisChecker(redisAddr string, pingFn func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Check {
		return probe(ctx, "redis", "Redis at "+redisAddr, pingFn)
	}
}

// KafkaChecker creates a health check for Kafka.
func KafkaChecker(kafkaBrokers string, checkFn func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Check {
		return probe(ctx, "kafka", "Kafka at "+kafkaBrokers, checkFn)
	}
}
