package domain

import "time"

// ResourceSnapshot holds host figures sampled at window computation time.
type ResourceSnapshot struct {
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"`
	HeapSysBytes   uint64  `json:"heap_sys_bytes"`
	Goroutines     int     `json:"goroutines"`
	Load1          float64 `json:"load1"`
	Load5          float64 `json:"load5"`
	Load15         float64 `json:"load15"`
	MemoryUsedPct  float64 `json:"memory_used_pct"`
}

// MetricWindow is the computed view over one horizon. It is derived on demand
// and never persisted. Bandwidth totals are cumulative since process start.
type MetricWindow struct {
	Horizon           time.Duration    `json:"-"`
	HorizonLabel      string           `json:"horizon"`
	ComputedAt        time.Time        `json:"computed_at"`
	RequestCount      int              `json:"request_count"`
	RequestsPerSecond float64          `json:"requests_per_second"`
	AvgResponseTimeMS float64          `json:"avg_response_time_ms"`
	ErrorCount        int              `json:"error_count"`
	ErrorRatePct      float64          `json:"error_rate_pct"`
	BandwidthInBytes  int64            `json:"bandwidth_in_bytes"`
	BandwidthOutBytes int64            `json:"bandwidth_out_bytes"`
	ActiveConnections int              `json:"active_connections"`
	Resources         ResourceSnapshot `json:"resources"`
}
