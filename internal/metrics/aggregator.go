// Package metrics maintains the in-memory sliding-window request statistics
// fed directly by producers, bypassing the ingestion queue for speed.
package metrics

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
)

// maxHorizon bounds aggregator memory: samples older than this are purged on
// every write, never archived here.
const maxHorizon = 7 * 24 * time.Hour

type sample struct {
	at         time.Time
	durationMS float64
	isError    bool
}

// Aggregator accumulates request samples and computes windowed views.
// TrackRequest is safe for many concurrent producers; ComputeWindow reflects
// every TrackRequest that completed before it.
type Aggregator struct {
	mu           sync.Mutex
	requests     []sample
	errors       []sample
	bandwidthIn  int64 // cumulative since process start, reset only on restart
	bandwidthOut int64
	activeConns  int

	logger    *slog.Logger
	now       func() time.Time
	resources func() domain.ResourceSnapshot
}

// NewAggregator constructs an Aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger != nil {
		logger = logger.With("component", "metrics_aggregator")
	}
	return &Aggregator{
		logger:    logger,
		now:       time.Now,
		resources: SampleResources,
	}
}

// TrackRequest records one completed request. It returns immediately, never
// performs I/O, and never panics to the caller.
func (a *Aggregator) TrackRequest(durationMS float64, statusCode int, bytesIn, bytesOut int64) {
	defer func() {
		if r := recover(); r != nil && a.logger != nil {
			a.logger.Error("track request panic swallowed", "panic", r)
		}
	}()
	if a == nil {
		return
	}
	now := a.now()
	s := sample{at: now, durationMS: durationMS, isError: statusCode >= 400}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, s)
	if s.isError {
		a.errors = append(a.errors, s)
	}
	a.bandwidthIn += bytesIn
	a.bandwidthOut += bytesOut
	cutoff := now.Add(-maxHorizon)
	a.requests = prune(a.requests, cutoff)
	a.errors = prune(a.errors, cutoff)
}

// TrackConnectionDelta adjusts the live push-connection count. Wired to
// subscribe/unsubscribe lifecycle events, never inferred.
func (a *Aggregator) TrackConnectionDelta(delta int) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.activeConns += delta
	if a.activeConns < 0 {
		a.activeConns = 0
	}
	a.mu.Unlock()
}

// ComputeWindow builds the metric view for one horizon. Horizons beyond the
// 7 day maximum are clamped. Error rate is 0 when the window is empty.
func (a *Aggregator) ComputeWindow(horizon time.Duration) domain.MetricWindow {
	if horizon <= 0 || horizon > maxHorizon {
		horizon = maxHorizon
	}
	now := a.now()
	cutoff := now.Add(-horizon)

	a.mu.Lock()
	var (
		count       int
		errorCount  int
		durationSum float64
	)
	for _, s := range a.requests {
		if s.at.Before(cutoff) {
			continue
		}
		count++
		durationSum += s.durationMS
	}
	for _, s := range a.errors {
		if s.at.Before(cutoff) {
			continue
		}
		errorCount++
	}
	bandwidthIn := a.bandwidthIn
	bandwidthOut := a.bandwidthOut
	conns := a.activeConns
	a.mu.Unlock()

	w := domain.MetricWindow{
		Horizon:           horizon,
		HorizonLabel:      FormatHorizon(horizon),
		ComputedAt:        now.UTC(),
		RequestCount:      count,
		RequestsPerSecond: float64(count) / horizon.Seconds(),
		ErrorCount:        errorCount,
		BandwidthInBytes:  bandwidthIn,
		BandwidthOutBytes: bandwidthOut,
		ActiveConnections: conns,
		Resources:         a.resources(),
	}
	if count > 0 {
		w.AvgResponseTimeMS = durationSum / float64(count)
		w.ErrorRatePct = float64(errorCount) / float64(count) * 100
	}
	return w
}

// prune drops samples older than the cutoff. Samples are appended in time
// order, so scanning from the front suffices.
func prune(samples []sample, cutoff time.Time) []sample {
	i := 0
	for i < len(samples) && samples[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return samples
	}
	return append(samples[:0], samples[i:]...)
}

// ParseHorizon reads a window label such as "1h", "24h", or "7d".
func ParseHorizon(label string) (time.Duration, error) {
	label = strings.TrimSpace(strings.ToLower(label))
	if label == "" {
		return 0, fmt.Errorf("empty horizon")
	}
	if strings.HasSuffix(label, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(label, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid horizon %q", label)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(label)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid horizon %q", label)
	}
	return d, nil
}

// FormatHorizon renders a duration as the label style used in window payloads.
func FormatHorizon(d time.Duration) string {
	if d >= 24*time.Hour && d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days > 1 {
			return strconv.Itoa(days) + "d"
		}
		return "24h"
	}
	if d%time.Hour == 0 {
		return strconv.Itoa(int(d/time.Hour)) + "h"
	}
	return d.String()
}
