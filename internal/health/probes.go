package health

import (
	"context"
	"runtime"
	"time"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/metrics"
)

// classification thresholds
const (
	latencyYellowMS = 500
	latencyRedMS    = 1000
	percentYellow   = 70
	percentRed      = 90
)

// Result is the outcome of one probe attempt.
type Result struct {
	ResponseTimeMS float64
	Metrics        map[string]float64
	Message        string
	Err            error
}

// Probe proves liveness of one component.
type Probe interface {
	Component() domain.Component
	Check(ctx context.Context) Result
}

// classifyLatency maps probe latency to a traffic-light status.
func classifyLatency(ms float64) domain.HealthStatus {
	switch {
	case ms < latencyYellowMS:
		return domain.StatusGreen
	case ms < latencyRedMS:
		return domain.StatusYellow
	default:
		return domain.StatusRed
	}
}

// classifyPercent maps a resource usage percentage to a status.
func classifyPercent(pct float64) domain.HealthStatus {
	switch {
	case pct < percentYellow:
		return domain.StatusGreen
	case pct < percentRed:
		return domain.StatusYellow
	default:
		return domain.StatusRed
	}
}

// worse returns the more severe of two statuses.
func worse(a, b domain.HealthStatus) domain.HealthStatus {
	rank := map[domain.HealthStatus]int{
		domain.StatusGreen:   0,
		domain.StatusYellow:  1,
		domain.StatusRed:     2,
		domain.StatusUnknown: 1,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// DatabaseProbe pings the storage backend.
type DatabaseProbe struct {
	Ping func(ctx context.Context) error
	now  func() time.Time
}

// NewDatabaseProbe constructs a probe over a ping function, usually
// pgxpool.Pool.Ping.
func NewDatabaseProbe(ping func(ctx context.Context) error) *DatabaseProbe {
	return &DatabaseProbe{Ping: ping, now: time.Now}
}

func (p *DatabaseProbe) Component() domain.Component { return domain.ComponentDatabase }

func (p *DatabaseProbe) Check(ctx context.Context) Result {
	start := p.now()
	err := p.Ping(ctx)
	elapsed := float64(p.now().Sub(start).Microseconds()) / 1000
	res := Result{
		ResponseTimeMS: elapsed,
		Metrics:        map[string]float64{"ping_ms": elapsed},
	}
	if err != nil {
		res.Err = err
		return res
	}
	res.Message = "storage reachable"
	return res
}

// BackendProbe snapshots the process itself.
type BackendProbe struct {
	startedAt time.Time
	now       func() time.Time
}

// NewBackendProbe constructs a probe anchored at process start.
func NewBackendProbe(startedAt time.Time) *BackendProbe {
	return &BackendProbe{startedAt: startedAt, now: time.Now}
}

func (p *BackendProbe) Component() domain.Component { return domain.ComponentBackend }

func (p *BackendProbe) Check(ctx context.Context) Result {
	start := p.now()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	elapsed := float64(p.now().Sub(start).Microseconds()) / 1000

	heapPct := 0.0
	if mem.HeapSys > 0 {
		heapPct = float64(mem.HeapAlloc) / float64(mem.HeapSys) * 100
	}
	return Result{
		ResponseTimeMS: elapsed,
		Message:        "process responsive",
		Metrics: map[string]float64{
			"uptime_seconds":   p.now().Sub(p.startedAt).Seconds(),
			"goroutines":       float64(runtime.NumGoroutine()),
			"heap_alloc_bytes": float64(mem.HeapAlloc),
			"heap_used_pct":    heapPct,
		},
	}
}

// SystemProbe samples host resources.
type SystemProbe struct {
	sample func() domain.ResourceSnapshot
	now    func() time.Time
}

// NewSystemProbe constructs a probe over the host resource sampler.
func NewSystemProbe() *SystemProbe {
	return &SystemProbe{sample: metrics.SampleResources, now: time.Now}
}

func (p *SystemProbe) Component() domain.Component { return domain.ComponentSystem }

func (p *SystemProbe) Check(ctx context.Context) Result {
	start := p.now()
	snap := p.sample()
	elapsed := float64(p.now().Sub(start).Microseconds()) / 1000

	cpuPct := 0.0
	if cpus := runtime.NumCPU(); cpus > 0 {
		cpuPct = snap.Load1 / float64(cpus) * 100
	}
	return Result{
		ResponseTimeMS: elapsed,
		Message:        "host resources sampled",
		Metrics: map[string]float64{
			"load1":           snap.Load1,
			"load5":           snap.Load5,
			"load15":          snap.Load15,
			"cpu_used_pct":    cpuPct,
			"memory_used_pct": snap.MemoryUsedPct,
			"goroutines":      float64(snap.Goroutines),
		},
	}
}

// statusFor derives the record status from a probe result: errors are Red,
// then the worst of the latency class and any resource percentage classes.
func statusFor(res Result) domain.HealthStatus {
	if res.Err != nil {
		return domain.StatusRed
	}
	status := classifyLatency(res.ResponseTimeMS)
	for _, key := range []string{"cpu_used_pct", "memory_used_pct", "heap_used_pct"} {
		if pct, ok := res.Metrics[key]; ok {
			status = worse(status, classifyPercent(pct))
		}
	}
	return status
}
