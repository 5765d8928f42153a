// Package health runs independent periodic probes over the pipeline's
// dependencies and the host, and owns process-level crash logging. The
// monitor must keep working even when the rest of the application is
// degraded: probe failures become Red records, never errors.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/broadcast"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// Enqueuer is the slice of the ingestion queue the monitor needs.
type Enqueuer interface {
	Enqueue(kind domain.RecordKind, record domain.Record)
}

// CrashContextSource supplies the contextual snapshot attached to crash
// records. Typically the ingest recorder.
type CrashContextSource interface {
	CrashContext() domain.CrashContext
}

// Monitor probes components on a fixed interval and caches the latest record
// per component as the authoritative current status.
type Monitor struct {
	queue        Enqueuer
	hub          *broadcast.Hub
	probes       []Probe
	interval     time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
	startedAt    time.Time
	crashCtx     CrashContextSource

	mu      sync.Mutex
	current map[domain.Component]domain.HealthRecord

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMonitor constructs a Monitor. hub and crashCtx may be nil.
func NewMonitor(queue Enqueuer, hub *broadcast.Hub, probes []Probe, interval time.Duration, logger *slog.Logger, crashCtx CrashContextSource) *Monitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if logger != nil {
		logger = logger.With("component", "health_monitor")
	}
	return &Monitor{
		queue:        queue,
		hub:          hub,
		probes:       probes,
		interval:     interval,
		probeTimeout: defaultProbeTimeout,
		logger:       logger,
		now:          time.Now,
		newID:        func() string { return uuid.NewString() },
		startedAt:    time.Now(),
		crashCtx:     crashCtx,
		current:      make(map[domain.Component]domain.HealthRecord),
		done:         make(chan struct{}),
	}
}

// Start launches the probe loop. Repeated calls are no-ops.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		go func() {
			defer close(m.done)
			if m.logger != nil {
				m.logger.Info("health monitor started", "interval", m.interval, "probes", len(m.probes))
			}
			ticker := time.NewTicker(m.interval)
			defer ticker.Stop()
			m.cycle(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.cycle(ctx)
				}
			}
		}()
	})
}

// Stop halts the probe loop and waits for the current cycle to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel == nil {
			return
		}
		m.cancel()
		<-m.done
		if m.logger != nil {
			m.logger.Info("health monitor stopped")
		}
	})
}

// CurrentHealth returns the most recent record per component.
func (m *Monitor) CurrentHealth() []domain.HealthRecord {
	m.mu.Lock()
	records := make([]domain.HealthRecord, 0, len(m.current))
	for _, rec := range m.current {
		records = append(records, rec)
	}
	m.mu.Unlock()
	sort.Slice(records, func(i, j int) bool { return records[i].Component < records[j].Component })
	return records
}

// cycle runs every probe concurrently. One slow or failing probe must not
// delay or fail the others.
func (m *Monitor) cycle(ctx context.Context) {
	var wg sync.WaitGroup
	for _, probe := range m.probes {
		wg.Add(1)
		go func(probe Probe) {
			defer wg.Done()
			m.runProbe(ctx, probe)
		}(probe)
	}
	wg.Wait()
}

func (m *Monitor) runProbe(ctx context.Context, probe Probe) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	res := m.checkSafely(probeCtx, probe)
	record := m.buildRecord(probe.Component(), res)

	m.mu.Lock()
	m.current[record.Component] = record
	m.mu.Unlock()

	if m.queue != nil {
		m.queue.Enqueue(domain.KindHealth, record)
	}
	if record.Component == domain.ComponentSystem {
		m.publishSystemStatus(record)
	}
	if record.Status == domain.StatusRed && m.logger != nil {
		m.logger.Warn("component unhealthy", "component", record.Component, "error", record.ErrorMessage)
	}
}

// checkSafely converts a panicking probe into an error result instead of
// letting it reach the scheduler.
func (m *Monitor) checkSafely(ctx context.Context, probe Probe) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("probe panic: %v", r)}
		}
	}()
	return probe.Check(ctx)
}

func (m *Monitor) buildRecord(component domain.Component, res Result) domain.HealthRecord {
	record := domain.HealthRecord{
		ID:             m.newID(),
		Timestamp:      m.now().UTC(),
		Component:      component,
		Status:         statusFor(res),
		ResponseTimeMS: res.ResponseTimeMS,
		UptimeSeconds:  m.now().Sub(m.startedAt).Seconds(),
		Message:        res.Message,
		Metrics:        res.Metrics,
	}
	if res.Err != nil {
		record.ErrorMessage = res.Err.Error()
	}
	return record
}

func (m *Monitor) publishSystemStatus(record domain.HealthRecord) {
	if m.hub == nil {
		return
	}
	payload, err := broadcast.Marshal(broadcast.TopicSystemHealth, m.now(), map[string]any{
		"component":        record.Component,
		"status":           record.Status,
		"response_time_ms": record.ResponseTimeMS,
		"message":          record.Message,
		"error_message":    record.ErrorMessage,
	})
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("failed to marshal system status", "error", err)
		}
		return
	}
	m.hub.Publish(broadcast.TopicSystemHealth, payload)
}

// LogCrash records a fatal process-level event. It is callable before Start
// and after Stop, never blocks on the store, and never panics: it is invoked
// from global fault handlers where a second failure would be fatal.
func (m *Monitor) LogCrash(kind domain.CrashType, component domain.Component, message, stack string, metadata map[string]string) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Error("crash logging panic swallowed", "panic", r)
		}
	}()
	if m == nil {
		return
	}
	record := domain.CrashRecord{
		ID:           m.newID(),
		Timestamp:    m.now().UTC(),
		CrashType:    kind,
		Component:    component,
		Severity:     severityFor(kind),
		ErrorMessage: message,
		ErrorStack:   stack,
		Metadata:     metadata,
	}
	if m.crashCtx != nil {
		record.Context = m.crashCtx.CrashContext()
	}
	if m.queue != nil {
		m.queue.Enqueue(domain.KindCrash, record)
	}
	if m.hub != nil {
		if payload, err := broadcast.Marshal(broadcast.TopicCrashDetected, record.Timestamp, record); err == nil {
			m.hub.Publish(broadcast.TopicCrashDetected, payload)
		}
	}
	if m.logger != nil {
		m.logger.Error("crash recorded", "crash_type", kind, "crash_component", component, "message", message)
	}
}

// severityFor grades a crash by its type.
func severityFor(kind domain.CrashType) domain.Severity {
	switch kind {
	case domain.CrashUncaughtException, domain.CrashDatabaseFailure, domain.CrashProcessExit:
		return domain.SeverityCritical
	case domain.CrashUnhandledRejection, domain.CrashWebSocketFailure, domain.CrashMemoryLeak:
		return domain.SeverityHigh
	case domain.CrashTimeout:
		return domain.SeverityMedium
	default:
		return domain.SeverityMedium
	}
}
