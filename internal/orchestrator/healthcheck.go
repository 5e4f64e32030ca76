package orchestrator

import (
	"context"
	"sort"
	"time"
)

// HealthCheckResult reports store connectivity and running jobs.
type HealthCheckResult struct {
	Timestamp      string   `json:"timestamp"`
	Healthy        bool     `json:"healthy"`
	StoreType      string   `json:"storeType"`
	StoreConnected bool     `json:"storeConnected"`
	StoreLatencyMs int64    `json:"storeLatencyMs"`
	StoreError     string   `json:"storeError,omitempty"`
	ActiveJobs     []string `json:"activeJobs"`
}

// HealthCheck tests connectivity to the live store.
func (o *Orchestrator) HealthCheck(ctx context.Context) *HealthCheckResult {
	result := &HealthCheckResult{
		Timestamp: time.Now().Format(time.RFC3339),
		StoreType: o.storeType,
	}

	// Use a per-check timeout so a hung store cannot stall the check.
	const checkTimeout = 5 * time.Second
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	if err := o.store.Ping(checkCtx); err != nil {
		result.StoreError = err.Error()
	} else {
		result.StoreConnected = true
	}
	result.StoreLatencyMs = time.Since(start).Milliseconds()

	result.ActiveJobs = o.ActiveJobs()
	sort.Strings(result.ActiveJobs)

	result.Healthy = result.StoreConnected
	return result
}
