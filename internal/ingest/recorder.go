// Package ingest holds the producer-facing entry points. Everything here is
// fire-and-forget: nothing originating inside the pipeline may propagate as
// an error into the business request path.
package ingest

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/broadcast"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/metrics"
)

// Enqueuer is the slice of the ingestion queue producers need.
type Enqueuer interface {
	Enqueue(kind domain.RecordKind, record domain.Record)
}

// CrashLogger is the slice of the health monitor producers need.
type CrashLogger interface {
	LogCrash(kind domain.CrashType, component domain.Component, message, stack string, metadata map[string]string)
}

// Recorder constructs telemetry records and hands them to the queue,
// aggregator, and broadcaster. Constructed once at startup and passed to
// producers explicitly; there is no package-level instance.
type Recorder struct {
	queue   Enqueuer
	agg     *metrics.Aggregator
	hub     *broadcast.Hub
	crashes CrashLogger
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	conns   func() int

	mu          sync.Mutex
	lastRoute   string
	lastAPICall string
}

// NewRecorder constructs a Recorder. hub, crashes, and conns may be nil.
func NewRecorder(queue Enqueuer, agg *metrics.Aggregator, hub *broadcast.Hub, crashes CrashLogger, logger *slog.Logger) *Recorder {
	if logger != nil {
		logger = logger.With("component", "telemetry_recorder")
	}
	r := &Recorder{
		queue:  queue,
		agg:    agg,
		hub:    hub,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	r.crashes = crashes
	if hub != nil {
		r.conns = hub.SubscriberCount
	}
	return r
}

// SetCrashLogger wires the crash sink after construction, breaking the
// startup ordering knot between recorder and monitor.
func (r *Recorder) SetCrashLogger(crashes CrashLogger) {
	r.crashes = crashes
}

// RecordAPICall captures one completed request, exactly once per request.
// It returns immediately and swallows every internal failure.
func (r *Recorder) RecordAPICall(method, endpoint string, actor domain.Actor, statusCode int, durationMS float64, bytesIn, bytesOut int64) {
	defer r.swallow("record api call")
	if r == nil {
		return
	}
	record := domain.NewAPICallRecord(r.newID(), r.now().UTC(), method, endpoint, actor, statusCode, durationMS, bytesIn, bytesOut)

	if r.queue != nil {
		r.queue.Enqueue(domain.KindAPICall, record)
	}
	if r.agg != nil {
		r.agg.TrackRequest(durationMS, statusCode, bytesIn, bytesOut)
	}
	r.publish(broadcast.TopicAPIRecordAdded, record.Timestamp, record)

	r.mu.Lock()
	r.lastAPICall = method + " " + endpoint
	r.mu.Unlock()
}

// ActivityInput carries the optional fields of a tracked user action.
type ActivityInput struct {
	Actor         domain.Actor
	Action        domain.ActionKind
	Route         string
	PreviousRoute string
	Element       *domain.UIElement
	Entity        *domain.EntityRef
	Metadata      map[string]string
	SessionID     string
	Category      domain.Category
	ErrorMessage  string
	ErrorStack    string
}

// RecordActivity captures a tracked user action. Safe with a zero Actor.
func (r *Recorder) RecordActivity(in ActivityInput) {
	defer r.swallow("record activity")
	if r == nil {
		return
	}
	if in.Action == "" {
		in.Action = domain.ActionOther
	}
	if in.Category == "" {
		in.Category = domain.CategoryActivity
	}
	record := domain.ActivityRecord{
		ID:            r.newID(),
		Timestamp:     r.now().UTC(),
		Actor:         in.Actor,
		ActionKind:    in.Action,
		Route:         in.Route,
		PreviousRoute: in.PreviousRoute,
		Element:       in.Element,
		Entity:        in.Entity,
		Metadata:      in.Metadata,
		Category:      in.Category,
		SessionID:     in.SessionID,
		ErrorMessage:  in.ErrorMessage,
		ErrorStack:    in.ErrorStack,
		RetentionTier: domain.TierHot,
	}
	if r.queue != nil {
		r.queue.Enqueue(domain.KindActivity, record)
	}
	r.publish(broadcast.TopicActivityAdded, record.Timestamp, record)

	if in.Route != "" {
		r.mu.Lock()
		r.lastRoute = in.Route
		r.mu.Unlock()
	}
}

// RecordCrash forwards a fatal event to the crash logger. Callable from
// global fault handlers; never panics, never blocks.
func (r *Recorder) RecordCrash(kind domain.CrashType, component domain.Component, message, stack string) {
	defer r.swallow("record crash")
	if r == nil || r.crashes == nil {
		return
	}
	r.crashes.LogCrash(kind, component, message, stack, nil)
}

// CrashContext snapshots producer-side state for crash records.
func (r *Recorder) CrashContext() domain.CrashContext {
	if r == nil {
		return domain.CrashContext{}
	}
	r.mu.Lock()
	ctx := domain.CrashContext{LastRoute: r.lastRoute, LastAPICall: r.lastAPICall}
	r.mu.Unlock()
	if r.conns != nil {
		ctx.ActiveUsers = r.conns()
	}
	return ctx
}

func (r *Recorder) publish(topic broadcast.Topic, at time.Time, data any) {
	if r.hub == nil {
		return
	}
	payload, err := broadcast.Marshal(topic, at, data)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("failed to marshal record payload", "topic", topic, "error", err)
		}
		return
	}
	r.hub.Publish(topic, payload)
}

func (r *Recorder) swallow(op string) {
	if rec := recover(); rec != nil && r != nil && r.logger != nil {
		r.logger.Error("telemetry panic swallowed", "op", op, "panic", rec)
	}
}
