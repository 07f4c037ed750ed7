package models

// RunResponse is the response for POST /api/v1/run.
type RunResponse struct {
	// Success indicates whether a result was obtained. A TIMEOUT result
	// is still a success of the run itself.
	Success bool `json:"success"`

	// ID identifies this run.
	ID string `json:"id"`

	// Strategy is the extraction strategy that was used, or "reftest".
	Strategy string `json:"strategy"`

	Result *TestResult `json:"result,omitempty"`

	Timing TimingInfo `json:"timing"`

	// CacheStatus indicates whether the response was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// RunMs is the time spent loading the page and waiting for results.
	RunMs int64 `json:"run_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy" or "degraded"
	Uptime    string    `json:"uptime"`
	PoolStats PoolStats `json:"pool_stats"`
	Version   string    `json:"version"`
}

// PoolStats reports how many sessions are in use.
type PoolStats struct {
	MaxSessions    int `json:"max_sessions"`
	ActiveSessions int `json:"active_sessions"`
}
