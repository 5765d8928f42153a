package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/auth"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/broadcast"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/ingest"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/metrics"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/queue"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/repository"
)

const testSecret = "router-test-secret"

type stubStore struct {
	mu         sync.Mutex
	activity   []domain.ActivityRecord
	activityN  int
	crashes    map[string]*domain.CrashRecord
	health     []domain.HealthRecord
	recovered  []string
	lastFilter repository.RecordFilter
	lastPage   repository.Page
}

func newStubStore() *stubStore {
	return &stubStore{crashes: make(map[string]*domain.CrashRecord)}
}

func (s *stubStore) BulkInsert(context.Context, domain.RecordKind, []domain.Record) error {
	return nil
}

func (s *stubStore) ListActivity(_ context.Context, filter repository.RecordFilter, page repository.Page) ([]domain.ActivityRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFilter = filter
	s.lastPage = page
	return s.activity, s.activityN, nil
}

func (s *stubStore) ListAPICalls(context.Context, repository.RecordFilter, repository.Page) ([]domain.APICallRecord, int, error) {
	return nil, 0, nil
}

func (s *stubStore) ListHealth(context.Context, string, repository.Page) ([]domain.HealthRecord, int, error) {
	return s.health, len(s.health), nil
}

func (s *stubStore) LatestHealthByComponent(context.Context) ([]domain.HealthRecord, error) {
	return s.health, nil
}

func (s *stubStore) ListCrashes(context.Context, repository.RecordFilter, repository.Page) ([]domain.CrashRecord, int, error) {
	return nil, 0, nil
}

func (s *stubStore) GetCrashByID(_ context.Context, id string) (*domain.CrashRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.crashes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

func (s *stubStore) MarkCrashRecovered(_ context.Context, id, method string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.crashes[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !rec.Recovered {
		rec.Recovered = true
		rec.RecoveredAt = &at
		rec.RecoveryMethod = method
		s.recovered = append(s.recovered, id)
	}
	return nil
}

type captureQueue struct {
	mu      sync.Mutex
	kinds   []domain.RecordKind
	records []domain.Record
}

func (c *captureQueue) Enqueue(kind domain.RecordKind, record domain.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, kind)
	c.records = append(c.records, record)
}

func (c *captureQueue) activities() []domain.ActivityRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.ActivityRecord
	for i, kind := range c.kinds {
		if kind == domain.KindActivity {
			out = append(out, c.records[i].(domain.ActivityRecord))
		}
	}
	return out
}

type routerFixture struct {
	router   *Router
	store    *stubStore
	hub      *broadcast.Hub
	captured *captureQueue
}

func newTestRouter(t *testing.T) *routerFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newStubStore()
	agg := metrics.NewAggregator(nil)
	hub := broadcast.NewHub(nil, agg.TrackConnectionDelta)
	q := queue.New(store, nil, queue.Options{})
	captured := &captureQueue{}
	recorder := ingest.NewRecorder(captured, agg, hub, nil, nil)
	emitter := metrics.NewEmitter(agg, hub, time.Second, time.Hour, nil)
	horizons := map[string]time.Duration{
		"1h":  time.Hour,
		"24h": 24 * time.Hour,
		"7d":  7 * 24 * time.Hour,
	}
	router := NewRouter(log, store, nil, agg, emitter, hub, q, recorder, nil, testSecret, horizons, nil)
	t.Cleanup(router.Close)
	return &routerFixture{router: router, store: store, hub: hub, captured: captured}
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.GenerateToken("u-1", role, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + token
}

func doRequest(fx *routerFixture, method, target, authz string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)
	return rr
}

func TestRecordsRequireAuth(t *testing.T) {
	fx := newTestRouter(t)
	rr := doRequest(fx, http.MethodGet, "/api/records/activity", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestListActivityPagination(t *testing.T) {
	fx := newTestRouter(t)
	fx.store.activity = []domain.ActivityRecord{{ID: "a-1"}, {ID: "a-2"}}
	fx.store.activityN = 12

	rr := doRequest(fx, http.MethodGet, "/api/records/activity?page=2&page_size=5&kind=click&actor=u-9", bearer(t, broadcast.RoleOps), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Items     []domain.ActivityRecord `json:"items"`
		Total     int                     `json:"total"`
		Page      int                     `json:"page"`
		PageSize  int                     `json:"page_size"`
		PageCount int                     `json:"page_count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Items) != 2 || resp.Total != 12 {
		t.Fatalf("unexpected list response %+v", resp)
	}
	if resp.Page != 2 || resp.PageSize != 5 || resp.PageCount != 3 {
		t.Fatalf("unexpected pagination %+v", resp)
	}
	if fx.store.lastFilter.Kind != "click" || fx.store.lastFilter.ActorID != "u-9" {
		t.Fatalf("filter not forwarded: %+v", fx.store.lastFilter)
	}
}

func TestInvalidTimeFilterRejected(t *testing.T) {
	fx := newTestRouter(t)
	rr := doRequest(fx, http.MethodGet, "/api/records/activity?from=yesterday", bearer(t, broadcast.RoleOps), "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad timestamp, got %d", rr.Code)
	}
}

func TestRecordMutationsRejected(t *testing.T) {
	fx := newTestRouter(t)
	authz := bearer(t, broadcast.RoleSuperAdmin)
	for _, tc := range []struct {
		method string
		target string
	}{
		{http.MethodPut, "/api/records/activity"},
		{http.MethodPatch, "/api/records/api-calls"},
		{http.MethodDelete, "/api/records/crashes"},
		{http.MethodPost, "/api/records/activity"},
		{http.MethodDelete, "/api/records/crashes/c-1"},
	} {
		rr := doRequest(fx, tc.method, tc.target, authz, "")
		if rr.Code != http.StatusConflict {
			t.Fatalf("%s %s: expected 409, got %d", tc.method, tc.target, rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "immutable") {
			t.Fatalf("%s %s: expected immutability error, got %s", tc.method, tc.target, rr.Body.String())
		}
	}
}

func TestCrashRecoverFlow(t *testing.T) {
	fx := newTestRouter(t)
	fx.store.crashes["c-1"] = &domain.CrashRecord{ID: "c-1", CrashType: domain.CrashTimeout}

	// ops role is not allowed to flip recovery
	rr := doRequest(fx, http.MethodPost, "/api/records/crashes/c-1/recover", bearer(t, broadcast.RoleOps), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for ops, got %d", rr.Code)
	}

	rr = doRequest(fx, http.MethodPost, "/api/records/crashes/c-1/recover", bearer(t, broadcast.RoleSuperAdmin), `{"recovery_method":"auto_restart"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rec domain.CrashRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !rec.Recovered || rec.RecoveryMethod != "auto_restart" {
		t.Fatalf("expected recovered record, got %+v", rec)
	}

	// repeat is a safe no-op
	rr = doRequest(fx, http.MethodPost, "/api/records/crashes/c-1/recover", bearer(t, broadcast.RoleSuperAdmin), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected idempotent 200, got %d", rr.Code)
	}
	if len(fx.store.recovered) != 1 {
		t.Fatalf("expected single recovery transition, got %d", len(fx.store.recovered))
	}

	rr = doRequest(fx, http.MethodPost, "/api/records/crashes/missing/recover", bearer(t, broadcast.RoleSuperAdmin), "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown crash, got %d", rr.Code)
	}
}

func TestCurrentHealthFallsBackToStore(t *testing.T) {
	fx := newTestRouter(t)
	fx.store.health = []domain.HealthRecord{{Component: domain.ComponentDatabase, Status: domain.StatusGreen}}

	rr := doRequest(fx, http.MethodGet, "/api/health/current", bearer(t, broadcast.RoleOps), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Components []domain.HealthRecord `json:"components"`
		Source     string                `json:"source"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Source != "store" || len(resp.Components) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestMetricWindowEndpoint(t *testing.T) {
	fx := newTestRouter(t)
	rr := doRequest(fx, http.MethodGet, "/api/metrics/window?horizon=24h", bearer(t, broadcast.RoleOps), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var window domain.MetricWindow
	if err := json.Unmarshal(rr.Body.Bytes(), &window); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if window.HorizonLabel != "24h" {
		t.Fatalf("expected 24h window, got %q", window.HorizonLabel)
	}

	rr = doRequest(fx, http.MethodGet, "/api/metrics/window?horizon=13h", bearer(t, broadcast.RoleOps), "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown window, got %d", rr.Code)
	}
}

func TestMetricHorizonRequiresAdmin(t *testing.T) {
	fx := newTestRouter(t)
	rr := doRequest(fx, http.MethodPut, "/api/metrics/horizon", bearer(t, broadcast.RoleOps), `{"horizon":"7d"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for ops, got %d", rr.Code)
	}

	rr = doRequest(fx, http.MethodPut, "/api/metrics/horizon", bearer(t, broadcast.RoleAdmin), `{"horizon":"7d"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "7d") {
		t.Fatalf("expected horizon echoed, got %s", rr.Body.String())
	}
}

func TestQueueStatsEndpoint(t *testing.T) {
	fx := newTestRouter(t)
	rr := doRequest(fx, http.MethodGet, "/api/queue/stats", bearer(t, broadcast.RoleOps), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var stats queue.Stats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.Capacity != 10000 {
		t.Fatalf("expected default capacity, got %d", stats.Capacity)
	}
}

func TestStreamSnapshotMirrorsPushPayloads(t *testing.T) {
	fx := newTestRouter(t)
	payload, err := broadcast.Marshal(broadcast.TopicAPIMetrics, time.Now(), map[string]int{"request_count": 9})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	fx.hub.Publish(broadcast.TopicAPIMetrics, payload)

	rr := doRequest(fx, http.MethodGet, "/api/stream/snapshot?topics=api-metrics-update", bearer(t, broadcast.RoleOps), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Topics map[string]json.RawMessage `json:"topics"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	raw, ok := resp.Topics["api-metrics-update"]
	if !ok {
		t.Fatalf("expected topic in snapshot, got %v", resp.Topics)
	}
	if string(raw) != string(payload) {
		t.Fatalf("snapshot payload differs from push payload:\npush: %s\npull: %s", payload, raw)
	}
}

func TestStreamSnapshotEnforcesTopicACL(t *testing.T) {
	fx := newTestRouter(t)
	rr := doRequest(fx, http.MethodGet, "/api/stream/snapshot?topics=crash-detected", bearer(t, broadcast.RoleOps), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for ops on crash topic, got %d", rr.Code)
	}

	activities := fx.captured.activities()
	if len(activities) != 1 {
		t.Fatalf("expected 1 audit activity record, got %d", len(activities))
	}
	audit := activities[0]
	if audit.ActionKind != domain.ActionPermissionChange {
		t.Fatalf("expected permission_change audit, got %s", audit.ActionKind)
	}
	if audit.Category != domain.CategoryCritical {
		t.Fatalf("expected critical category, got %s", audit.Category)
	}
	if audit.Actor.UserID != "u-1" {
		t.Fatalf("expected denied actor recorded, got %+v", audit.Actor)
	}
}

func TestStreamSnapshotUnknownTopic(t *testing.T) {
	fx := newTestRouter(t)
	rr := doRequest(fx, http.MethodGet, "/api/stream/snapshot?topics=nope", bearer(t, broadcast.RoleOps), "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown topic, got %d", rr.Code)
	}
}

func TestHealthzWithoutDBCheck(t *testing.T) {
	fx := newTestRouter(t)
	rr := doRequest(fx, http.MethodGet, "/healthz", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
