package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/broadcast"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
)

type stubQueue struct {
	mu      sync.Mutex
	entries []struct {
		kind   domain.RecordKind
		record domain.Record
	}
}

func (s *stubQueue) Enqueue(kind domain.RecordKind, record domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, struct {
		kind   domain.RecordKind
		record domain.Record
	}{kind, record})
}

func (s *stubQueue) byKind(kind domain.RecordKind) []domain.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Record
	for _, e := range s.entries {
		if e.kind == kind {
			out = append(out, e.record)
		}
	}
	return out
}

type fakeProbe struct {
	component domain.Component
	result    Result
	delay     time.Duration
	panics    bool
}

func (p *fakeProbe) Component() domain.Component { return p.component }

func (p *fakeProbe) Check(ctx context.Context) Result {
	if p.panics {
		panic("probe exploded")
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		}
	}
	return p.result
}

func newTestMonitor(q Enqueuer, hub *broadcast.Hub, probes []Probe) *Monitor {
	m := NewMonitor(q, hub, probes, time.Hour, nil, nil)
	n := 0
	m.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return m
}

func TestCycleCachesPerComponentStatus(t *testing.T) {
	q := &stubQueue{}
	m := newTestMonitor(q, nil, []Probe{
		&fakeProbe{component: domain.ComponentDatabase, result: Result{ResponseTimeMS: 12, Message: "ok"}},
		&fakeProbe{component: domain.ComponentBackend, result: Result{ResponseTimeMS: 700}},
	})

	m.cycle(context.Background())

	current := m.CurrentHealth()
	if len(current) != 2 {
		t.Fatalf("expected 2 components, got %d", len(current))
	}
	byComponent := map[domain.Component]domain.HealthRecord{}
	for _, rec := range current {
		byComponent[rec.Component] = rec
	}
	if got := byComponent[domain.ComponentDatabase].Status; got != domain.StatusGreen {
		t.Fatalf("expected database green, got %s", got)
	}
	if got := byComponent[domain.ComponentBackend].Status; got != domain.StatusYellow {
		t.Fatalf("expected backend yellow at 700ms, got %s", got)
	}
	if got := len(q.byKind(domain.KindHealth)); got != 2 {
		t.Fatalf("expected 2 health records enqueued, got %d", got)
	}
}

func TestSlowProbeDoesNotAffectOthers(t *testing.T) {
	q := &stubQueue{}
	m := newTestMonitor(q, nil, []Probe{
		&fakeProbe{component: domain.ComponentDatabase, delay: time.Minute},
		&fakeProbe{component: domain.ComponentSystem, result: Result{ResponseTimeMS: 5, Message: "ok"}},
	})
	m.probeTimeout = 50 * time.Millisecond

	start := time.Now()
	m.cycle(context.Background())
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cycle blocked on slow probe for %v", elapsed)
	}

	byComponent := map[domain.Component]domain.HealthRecord{}
	for _, rec := range m.CurrentHealth() {
		byComponent[rec.Component] = rec
	}
	if got := byComponent[domain.ComponentDatabase].Status; got != domain.StatusRed {
		t.Fatalf("expected timed-out probe red, got %s", got)
	}
	if got := byComponent[domain.ComponentSystem].Status; got != domain.StatusGreen {
		t.Fatalf("expected healthy probe unaffected, got %s", got)
	}
}

func TestPanickingProbeBecomesRedRecord(t *testing.T) {
	q := &stubQueue{}
	m := newTestMonitor(q, nil, []Probe{
		&fakeProbe{component: domain.ComponentBackend, panics: true},
	})

	m.cycle(context.Background())

	current := m.CurrentHealth()
	if len(current) != 1 {
		t.Fatalf("expected 1 record, got %d", len(current))
	}
	if current[0].Status != domain.StatusRed {
		t.Fatalf("expected red status for panicking probe, got %s", current[0].Status)
	}
	if current[0].ErrorMessage == "" {
		t.Fatal("expected error message for panicking probe")
	}
}

func TestProbeErrorIsRed(t *testing.T) {
	q := &stubQueue{}
	m := newTestMonitor(q, nil, []Probe{
		&fakeProbe{component: domain.ComponentDatabase, result: Result{Err: errors.New("connection refused")}},
	})
	m.cycle(context.Background())
	if got := m.CurrentHealth()[0].Status; got != domain.StatusRed {
		t.Fatalf("expected red on probe error, got %s", got)
	}
}

func TestSystemProbePublishesStatusUpdate(t *testing.T) {
	q := &stubQueue{}
	hub := broadcast.NewHub(nil, nil)
	m := newTestMonitor(q, hub, []Probe{
		&fakeProbe{component: domain.ComponentSystem, result: Result{ResponseTimeMS: 3, Message: "ok"}},
	})

	m.cycle(context.Background())

	payload, ok := hub.Snapshot(broadcast.TopicSystemHealth)
	if !ok {
		t.Fatal("expected retained system health payload")
	}
	var env struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Topic != string(broadcast.TopicSystemHealth) {
		t.Fatalf("unexpected topic %q", env.Topic)
	}
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["status"] != string(domain.StatusGreen) {
		t.Fatalf("expected green status in payload, got %v", data["status"])
	}
}

type stubCrashContext struct{ ctx domain.CrashContext }

func (s *stubCrashContext) CrashContext() domain.CrashContext { return s.ctx }

func TestLogCrashBeforeStart(t *testing.T) {
	q := &stubQueue{}
	hub := broadcast.NewHub(nil, nil)
	m := newTestMonitor(q, hub, nil)
	m.crashCtx = &stubCrashContext{ctx: domain.CrashContext{LastRoute: "/dashboard", ActiveUsers: 4}}

	m.LogCrash(domain.CrashUncaughtException, domain.ComponentBackend, "boom", "stacktrace", map[string]string{"pid": "42"})

	crashes := q.byKind(domain.KindCrash)
	if len(crashes) != 1 {
		t.Fatalf("expected 1 crash enqueued, got %d", len(crashes))
	}
	rec := crashes[0].(domain.CrashRecord)
	if rec.Severity != domain.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", rec.Severity)
	}
	if rec.Recovered {
		t.Fatal("new crash must not be marked recovered")
	}
	if rec.Context.LastRoute != "/dashboard" || rec.Context.ActiveUsers != 4 {
		t.Fatalf("unexpected crash context %+v", rec.Context)
	}
	if _, ok := hub.Snapshot(broadcast.TopicCrashDetected); !ok {
		t.Fatal("expected crash payload published")
	}
}

func TestSeverityGrading(t *testing.T) {
	cases := []struct {
		kind domain.CrashType
		want domain.Severity
	}{
		{domain.CrashUncaughtException, domain.SeverityCritical},
		{domain.CrashDatabaseFailure, domain.SeverityCritical},
		{domain.CrashWebSocketFailure, domain.SeverityHigh},
		{domain.CrashTimeout, domain.SeverityMedium},
	}
	for _, tc := range cases {
		if got := severityFor(tc.kind); got != tc.want {
			t.Fatalf("severityFor(%s) = %s, want %s", tc.kind, got, tc.want)
		}
	}
}

func TestStatusForThresholds(t *testing.T) {
	cases := []struct {
		name string
		res  Result
		want domain.HealthStatus
	}{
		{"fast", Result{ResponseTimeMS: 100}, domain.StatusGreen},
		{"slow", Result{ResponseTimeMS: 600}, domain.StatusYellow},
		{"very slow", Result{ResponseTimeMS: 1500}, domain.StatusRed},
		{"high memory", Result{ResponseTimeMS: 10, Metrics: map[string]float64{"memory_used_pct": 75}}, domain.StatusYellow},
		{"critical cpu", Result{ResponseTimeMS: 10, Metrics: map[string]float64{"cpu_used_pct": 95}}, domain.StatusRed},
		{"error wins", Result{ResponseTimeMS: 10, Err: errors.New("down")}, domain.StatusRed},
	}
	for _, tc := range cases {
		if got := statusFor(tc.res); got != tc.want {
			t.Fatalf("%s: statusFor = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestStartStopIdempotent(t *testing.T) {
	q := &stubQueue{}
	m := newTestMonitor(q, nil, []Probe{
		&fakeProbe{component: domain.ComponentSystem, result: Result{ResponseTimeMS: 1}},
	})
	m.Start()
	m.Start()
	m.Stop()
	m.Stop()

	if len(m.CurrentHealth()) != 1 {
		t.Fatal("expected initial cycle to run on start")
	}
}
