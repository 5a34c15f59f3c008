package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"syscall"
	"time"
)

// Status is the health state of a single named check, or of the daemon
// overall once every check has run.
type Status string

const (
	StatusOK        Status = "ok"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth is one named check's result.
type ComponentHealth struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
}

// Report is the aggregate body served at /health.
type Report struct {
	Status        Status                     `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Timestamp     string                     `json:"timestamp"`
	Checks        map[string]ComponentHealth `json:"checks"`
}

// CheckFunc runs one component's health check.
type CheckFunc func(ctx context.Context) ComponentHealth

// HealthChecker aggregates named checks behind a single HTTP handler.
type HealthChecker struct {
	version   string
	startTime time.Time
	checks    map[string]CheckFunc
}

// NewHealthChecker starts a checker whose uptime clock begins now.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// RegisterCheck adds or replaces the named check.
func (hc *HealthChecker) RegisterCheck(name string, fn CheckFunc) {
	hc.checks[name] = fn
}

// Check runs every registered check and folds their statuses into one
// overall Report status: Unhealthy beats Degraded beats OK.
func (hc *HealthChecker) Check(ctx context.Context) Report {
	report := Report{
		Status:        StatusOK,
		Version:       hc.version,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Timestamp:     time.Now().Format(time.RFC3339),
		Checks:        make(map[string]ComponentHealth, len(hc.checks)),
	}

	for name, fn := range hc.checks {
		result := fn(ctx)
		report.Checks[name] = result
		report.Status = worstOf(report.Status, result.Status)
	}
	return report
}

func worstOf(a, b Status) Status {
	rank := map[Status]int{StatusOK: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Handler serves the aggregate Report as JSON, with the HTTP status code
// mirroring the overall Status (Unhealthy maps to 503).
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report := hc.Check(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}

// QUICListenerCheck reports the configured QUIC bind address as healthy.
// The listener itself is only constructed once this check's result would
// already be moot (daemon startup fails before serving /health if the bind
// fails), so this exists to surface the address the daemon is actually
// listening on rather than to detect a bind failure after the fact.
func QUICListenerCheck(addr string) CheckFunc {
	return func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusOK, Message: fmt.Sprintf("QUIC listener on %s", addr)}
	}
}

// KeystoreCheck reports whether the device identity loaded successfully at
// startup.
func KeystoreCheck(loaded bool) CheckFunc {
	return func(ctx context.Context) ComponentHealth {
		if loaded {
			return ComponentHealth{Status: StatusOK, Message: "device identity loaded"}
		}
		return ComponentHealth{Status: StatusUnhealthy, Message: "device identity not loaded"}
	}
}

// DatabaseCheck pings the session store's backing SQLite file by confirming
// it is still reachable on disk; pingFn should be the *sql.DB's Ping bound
// by the caller, keeping this package free of a database/sql import.
func DatabaseCheck(pingFn func(context.Context) error) CheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := pingFn(ctx)
		latency := time.Since(start).Milliseconds()
		if err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Message: err.Error(), LatencyMS: latency}
		}
		if latency > 50 {
			return ComponentHealth{Status: StatusDegraded, Message: "session store responding slowly", LatencyMS: latency}
		}
		return ComponentHealth{Status: StatusOK, Message: "session store reachable", LatencyMS: latency}
	}
}

// DiskSpaceCheck reports Degraded once the filesystem holding path has
// fewer than minFreeGB gigabytes available, using statfs directly so the
// check needs nothing beyond what's already imported.
func DiskSpaceCheck(path string, minFreeGB int64) CheckFunc {
	return func(ctx context.Context) ComponentHealth {
		var stat syscall.Statfs_t
		if err := syscall.Statfs(path, &stat); err != nil {
			return ComponentHealth{Status: StatusDegraded, Message: fmt.Sprintf("statfs %s: %v", path, err)}
		}
		freeBytes := stat.Bavail * uint64(stat.Bsize)
		freeGB := int64(freeBytes / (1 << 30))
		if freeGB < minFreeGB {
			return ComponentHealth{Status: StatusDegraded, Message: fmt.Sprintf("low disk space: %d GB free", freeGB)}
		}
		return ComponentHealth{Status: StatusOK, Message: fmt.Sprintf("%d GB free", freeGB)}
	}
}
