package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/broadcast"
)

const defaultEmitInterval = 5 * time.Second

// Emitter pushes windowed metrics to the broadcaster on a fixed cadence, so
// dashboards receive updates without polling.
type Emitter struct {
	agg      *Aggregator
	hub      *broadcast.Hub
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	horizon time.Duration
}

// NewEmitter constructs an Emitter for the given initial horizon.
func NewEmitter(agg *Aggregator, hub *broadcast.Hub, interval time.Duration, horizon time.Duration, logger *slog.Logger) *Emitter {
	if interval <= 0 {
		interval = defaultEmitInterval
	}
	if horizon <= 0 {
		horizon = time.Hour
	}
	if logger != nil {
		logger = logger.With("component", "metrics_emitter")
	}
	return &Emitter{
		agg:      agg,
		hub:      hub,
		interval: interval,
		horizon:  horizon,
		logger:   logger,
		now:      time.Now,
	}
}

// SetHorizon switches the horizon used for automatic emission.
func (e *Emitter) SetHorizon(horizon time.Duration) {
	if horizon <= 0 {
		return
	}
	e.mu.Lock()
	e.horizon = horizon
	e.mu.Unlock()
}

// Horizon reports the currently-selected emission horizon.
func (e *Emitter) Horizon() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.horizon
}

// Run emits until the context is cancelled.
func (e *Emitter) Run(ctx context.Context) {
	if e.logger != nil {
		e.logger.Info("metrics emitter started", "interval", e.interval)
	}
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if e.logger != nil {
				e.logger.Info("metrics emitter stopped")
			}
			return
		case <-ticker.C:
			e.Emit()
		}
	}
}

// Emit computes the current window and publishes each metrics topic.
// Error metrics are only published when the window actually holds errors.
func (e *Emitter) Emit() {
	window := e.agg.ComputeWindow(e.Horizon())
	now := e.now()

	e.publish(broadcast.TopicAPIMetrics, now, window)
	if window.ErrorCount > 0 {
		e.publish(broadcast.TopicErrorMetrics, now, errorMetrics{
			Horizon:      window.HorizonLabel,
			ErrorCount:   window.ErrorCount,
			ErrorRatePct: window.ErrorRatePct,
		})
	}
	e.publish(broadcast.TopicBandwidth, now, bandwidthMetrics{
		InBytes:  window.BandwidthInBytes,
		OutBytes: window.BandwidthOutBytes,
	})
	e.publish(broadcast.TopicActiveConnections, now, connectionMetrics{
		Active: window.ActiveConnections,
	})
}

type errorMetrics struct {
	Horizon      string  `json:"horizon"`
	ErrorCount   int     `json:"error_count"`
	ErrorRatePct float64 `json:"error_rate_pct"`
}

type bandwidthMetrics struct {
	InBytes  int64 `json:"in_bytes"`
	OutBytes int64 `json:"out_bytes"`
}

type connectionMetrics struct {
	Active int `json:"active"`
}

func (e *Emitter) publish(topic broadcast.Topic, at time.Time, data any) {
	payload, err := broadcast.Marshal(topic, at, data)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("failed to marshal metrics payload", "topic", topic, "error", err)
		}
		return
	}
	e.hub.Publish(topic, payload)
}
