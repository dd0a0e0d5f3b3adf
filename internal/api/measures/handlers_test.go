package measures

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/orgdirectory/orgdirectory/internal/db/models"
	"github.com/orgdirectory/orgdirectory/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

type measureKey struct {
	component string
	metric    int
}

type memStore struct {
	mu       sync.Mutex
	measures map[measureKey]models.LiveMeasure
	err      error
}

func newMemStore() *memStore {
	return &memStore{measures: make(map[measureKey]models.LiveMeasure)}
}

func (s *memStore) Upsert(_ context.Context, m models.LiveMeasure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.measures[measureKey{m.ComponentUUID(), m.MetricID()}] = m
	return nil
}

func (s *memStore) ListByComponent(_ context.Context, component string) ([]models.LiveMeasure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []models.LiveMeasure
	for metric := 1; metric <= 100; metric++ {
		if m, ok := s.measures[measureKey{component, metric}]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Router helpers
// ---------------------------------------------------------------------------

func newMeasureRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.GET("/api/measures/component", h.ComponentHandler())
	r.POST("/api/measures/upsert", h.UpsertHandler())
	return r
}

func doGet(r *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func doPost(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/measures/upsert", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func upsertBody(t *testing.T, fields map[string]interface{}) string {
	t.Helper()
	b, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return m
}

func writes(storage string) float64 {
	return testutil.ToFloat64(telemetry.LiveMeasureWritesTotal.WithLabelValues(storage))
}

// ---------------------------------------------------------------------------
// UpsertHandler
// ---------------------------------------------------------------------------

func TestUpsert_ShortTextStoredAsText(t *testing.T) {
	store := newMemStore()
	r := newMeasureRouter(&Handlers{store: store})
	before := writes(storageText)

	w := doPost(r, upsertBody(t, map[string]interface{}{
		"component": "comp-1", "project": "proj-1", "metricId": 3,
		"value": 12.5, "data": "OK", "gateStatus": "OK",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["storage"]; got != storageText {
		t.Errorf("storage = %v, want text", got)
	}
	if writes(storageText)-before != 1 {
		t.Error("text write not counted")
	}

	m := store.measures[measureKey{"comp-1", 3}]
	if text, ok := m.TextValue(); !ok || text != "OK" {
		t.Errorf("TextValue() = (%q, %v), want (OK, true)", text, ok)
	}
	if m.Blob() != nil {
		t.Error("Blob() is set for a short payload")
	}
}

func TestUpsert_LongTextStoredAsBlob(t *testing.T) {
	store := newMemStore()
	r := newMeasureRouter(&Handlers{store: store})
	long := strings.Repeat("x", models.MaxTextValueLength+1)
	before := writes(storageBlob)

	w := doPost(r, upsertBody(t, map[string]interface{}{
		"component": "comp-1", "project": "proj-1", "metricId": 4, "data": long,
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["storage"] != storageBlob {
		t.Errorf("storage = %v, want blob", body["storage"])
	}
	if writes(storageBlob)-before != 1 {
		t.Error("blob write not counted")
	}
	if data := body["measure"].(map[string]interface{})["data"]; data != long {
		t.Error("response data differs from the submitted payload")
	}

	m := store.measures[measureKey{"comp-1", 4}]
	if _, ok := m.TextValue(); ok {
		t.Error("TextValue() is set for a long payload")
	}
	if string(m.Blob()) != long {
		t.Error("Blob() does not hold the payload")
	}
}

func TestUpsert_TextAtLimitStaysText(t *testing.T) {
	store := newMemStore()
	r := newMeasureRouter(&Handlers{store: store})

	w := doPost(r, upsertBody(t, map[string]interface{}{
		"component": "comp-1", "project": "proj-1", "metricId": 5,
		"data": strings.Repeat("x", models.MaxTextValueLength),
	}))
	if got := decode(t, w)["storage"]; got != storageText {
		t.Errorf("storage = %v, want text", got)
	}
}

func TestUpsert_NoPayload(t *testing.T) {
	store := newMemStore()
	r := newMeasureRouter(&Handlers{store: store})

	w := doPost(r, upsertBody(t, map[string]interface{}{
		"component": "comp-1", "project": "proj-1", "metricId": 6, "value": 1,
	}))
	if got := decode(t, w)["storage"]; got != storageNone {
		t.Errorf("storage = %v, want none", got)
	}
	if _, ok := store.measures[measureKey{"comp-1", 6}].DataAsString(); ok {
		t.Error("DataAsString() ok = true for a measure without payload")
	}
}

func TestUpsert_ReplacesWholeMeasure(t *testing.T) {
	store := newMemStore()
	r := newMeasureRouter(&Handlers{store: store})

	doPost(r, upsertBody(t, map[string]interface{}{
		"component": "comp-1", "project": "proj-1", "metricId": 7,
		"value": 1, "data": "first", "gateStatus": "ERROR",
	}))
	doPost(r, upsertBody(t, map[string]interface{}{
		"component": "comp-1", "project": "proj-1", "metricId": 7, "value": 2,
	}))

	m := store.measures[measureKey{"comp-1", 7}]
	if v := m.Value(); v == nil || *v != 2 {
		t.Errorf("Value() = %v, want 2", v)
	}
	if _, ok := m.DataAsString(); ok {
		t.Error("payload survived an upsert without one")
	}
	if m.GateStatus() != nil {
		t.Error("gate status survived an upsert without one")
	}
}

func TestUpsert_InvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", "{"},
		{"missing component", `{"project":"p","metricId":1}`},
		{"missing project", `{"component":"c","metricId":1}`},
		{"missing metric", `{"component":"c","project":"p"}`},
		{"negative metric", `{"component":"c","project":"p","metricId":-1}`},
		{"component too long", `{"component":"` + strings.Repeat("c", 51) + `","project":"p","metricId":1}`},
		{"project too long", `{"component":"c","project":"` + strings.Repeat("p", 51) + `","metricId":1}`},
		{"gate status too long", `{"component":"c","project":"p","metricId":1,"gateStatus":"` + strings.Repeat("E", 41) + `"}`},
		{"gate text too long", `{"component":"c","project":"p","metricId":1,"gateText":"` + strings.Repeat("t", 1001) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			w := doPost(newMeasureRouter(&Handlers{store: store}), tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: body=%s", w.Code, w.Body.String())
			}
			if len(store.measures) != 0 {
				t.Error("invalid request was stored")
			}
		})
	}
}

func TestUpsert_FieldsAtColumnLimits(t *testing.T) {
	store := newMemStore()
	r := newMeasureRouter(&Handlers{store: store})

	w := doPost(r, upsertBody(t, map[string]interface{}{
		"component":  strings.Repeat("c", 50),
		"project":    strings.Repeat("p", 50),
		"metricId":   8,
		"gateStatus": strings.Repeat("E", 40),
		"gateText":   strings.Repeat("t", 1000),
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	if _, ok := store.measures[measureKey{strings.Repeat("c", 50), 8}]; !ok {
		t.Error("measure at column limits was not stored")
	}
}

func TestUpsert_StorageFailure(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("deadlock")

	w := doPost(newMeasureRouter(&Handlers{store: store}), `{"component":"c","project":"p","metricId":1}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ComponentHandler
// ---------------------------------------------------------------------------

func TestComponent_ReadsBothRepresentationsAsText(t *testing.T) {
	store := newMemStore()
	short, long := "OK", strings.Repeat("z", models.MaxTextValueLength+10)
	_ = store.Upsert(context.Background(), models.NewLiveMeasure("comp-1", "proj-1", 1).WithText(&short))
	_ = store.Upsert(context.Background(), models.NewLiveMeasure("comp-1", "proj-1", 2).WithText(&long))
	_ = store.Upsert(context.Background(), models.NewLiveMeasure("comp-2", "proj-1", 1).WithText(&short))

	w := doGet(newMeasureRouter(&Handlers{store: store}), "/api/measures/component?component=comp-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["component"] != "comp-1" {
		t.Errorf("component = %v, want comp-1", body["component"])
	}
	measures := body["measures"].([]interface{})
	if len(measures) != 2 {
		t.Fatalf("len(measures) = %d, want 2", len(measures))
	}
	first := measures[0].(map[string]interface{})
	second := measures[1].(map[string]interface{})
	if first["metricId"] != float64(1) || first["data"] != short {
		t.Errorf("first measure = %v", first)
	}
	if second["data"] != long {
		t.Error("blob payload not returned as text")
	}
}

func TestComponent_EmptyIsArray(t *testing.T) {
	w := doGet(newMeasureRouter(&Handlers{store: newMemStore()}), "/api/measures/component?component=none")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"measures":[]`) {
		t.Errorf("body = %s, want empty measures array", w.Body.String())
	}
}

func TestComponent_MissingParameter(t *testing.T) {
	w := doGet(newMeasureRouter(&Handlers{store: newMemStore()}), "/api/measures/component")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestComponent_StorageFailure(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection reset")

	w := doGet(newMeasureRouter(&Handlers{store: store}), "/api/measures/component?component=c")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

// ---------------------------------------------------------------------------
// NewHandlers against the postgres repository
// ---------------------------------------------------------------------------

func TestNewHandlers_UsesRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	cols := []string{
		"uuid", "component_uuid", "project_uuid", "metric_id", "value", "text_value",
		"measure_data", "variation", "gate_status", "gate_text",
	}
	mock.ExpectQuery(`SELECT .* FROM live_measures\s+WHERE component_uuid = \$1`).
		WithArgs("comp-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("m-1", "comp-1", "proj-1", 1, 3.5, nil, []byte("stored as blob"), nil, "OK", nil))

	r := newMeasureRouter(NewHandlers(sqlx.NewDb(db, "postgres")))
	w := doGet(r, "/api/measures/component?component=comp-1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	m := decode(t, w)["measures"].([]interface{})[0].(map[string]interface{})
	if m["data"] != "stored as blob" || m["value"] != 3.5 || m["gateStatus"] != "OK" {
		t.Errorf("measure = %v", m)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet sqlmock expectations: %v", err)
	}
}
