package metrics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/broadcast"
)

func decodeEnvelope(t *testing.T, payload []byte) (string, map[string]any) {
	t.Helper()
	var env struct {
		Topic     string          `json:"topic"`
		EmittedAt time.Time       `json:"emitted_at"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	return env.Topic, data
}

func TestEmitPublishesMetricTopics(t *testing.T) {
	base := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	agg := testAggregator(base)
	hub := broadcast.NewHub(nil, nil)
	e := NewEmitter(agg, hub, time.Second, time.Hour, nil)
	e.now = func() time.Time { return base }

	agg.TrackRequest(50, 200, 10, 20)
	agg.TrackConnectionDelta(3)
	e.Emit()

	payload, ok := hub.Snapshot(broadcast.TopicAPIMetrics)
	if !ok {
		t.Fatal("expected api metrics payload")
	}
	topic, data := decodeEnvelope(t, payload)
	if topic != string(broadcast.TopicAPIMetrics) {
		t.Fatalf("unexpected topic %q", topic)
	}
	if data["request_count"].(float64) != 1 {
		t.Fatalf("expected request_count 1, got %v", data["request_count"])
	}
	if data["horizon"] != "1h" {
		t.Fatalf("expected horizon 1h, got %v", data["horizon"])
	}

	if _, ok := hub.Snapshot(broadcast.TopicErrorMetrics); ok {
		t.Fatal("error metrics must not publish without errors")
	}

	payload, ok = hub.Snapshot(broadcast.TopicBandwidth)
	if !ok {
		t.Fatal("expected bandwidth payload")
	}
	_, data = decodeEnvelope(t, payload)
	if data["in_bytes"].(float64) != 10 || data["out_bytes"].(float64) != 20 {
		t.Fatalf("unexpected bandwidth payload %v", data)
	}

	payload, ok = hub.Snapshot(broadcast.TopicActiveConnections)
	if !ok {
		t.Fatal("expected connections payload")
	}
	_, data = decodeEnvelope(t, payload)
	if data["active"].(float64) != 3 {
		t.Fatalf("expected 3 active connections, got %v", data["active"])
	}
}

func TestEmitPublishesErrorMetricsOnlyWithErrors(t *testing.T) {
	base := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	agg := testAggregator(base)
	hub := broadcast.NewHub(nil, nil)
	e := NewEmitter(agg, hub, time.Second, time.Hour, nil)
	e.now = func() time.Time { return base }

	agg.TrackRequest(80, 500, 0, 0)
	e.Emit()

	payload, ok := hub.Snapshot(broadcast.TopicErrorMetrics)
	if !ok {
		t.Fatal("expected error metrics payload")
	}
	_, data := decodeEnvelope(t, payload)
	if data["error_count"].(float64) != 1 {
		t.Fatalf("expected error_count 1, got %v", data["error_count"])
	}
	if data["error_rate_pct"].(float64) != 100 {
		t.Fatalf("expected 100%% error rate, got %v", data["error_rate_pct"])
	}
}

func TestSetHorizonChangesEmission(t *testing.T) {
	base := time.Date(2026, time.May, 1, 10, 0, 0, 0, time.UTC)
	agg := testAggregator(base)
	hub := broadcast.NewHub(nil, nil)
	e := NewEmitter(agg, hub, time.Second, time.Hour, nil)
	e.now = func() time.Time { return base }

	e.SetHorizon(24 * time.Hour)
	if e.Horizon() != 24*time.Hour {
		t.Fatalf("expected horizon 24h, got %v", e.Horizon())
	}
	e.SetHorizon(0) // ignored
	if e.Horizon() != 24*time.Hour {
		t.Fatalf("zero horizon must be ignored, got %v", e.Horizon())
	}

	e.Emit()
	payload, _ := hub.Snapshot(broadcast.TopicAPIMetrics)
	_, data := decodeEnvelope(t, payload)
	if data["horizon"] != "24h" {
		t.Fatalf("expected emission at 24h, got %v", data["horizon"])
	}
}
