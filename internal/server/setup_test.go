package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/rsclarke/gatehouse/internal/auth"
	"github.com/rsclarke/gatehouse/internal/db"
	"github.com/rsclarke/gatehouse/internal/decision"
	"github.com/rsclarke/gatehouse/internal/geo"
	"github.com/rsclarke/gatehouse/internal/hub"
	"github.com/rsclarke/gatehouse/internal/notify"
)

const testSecret = "s3cret-admin"

type stubLocator struct{}

func (stubLocator) Lookup(_ context.Context, ip string) geo.Location {
	if geo.IsLocal(ip) {
		return geo.Local
	}
	return geo.Location{Country: "Netherlands", City: "Amsterdam", ISP: "Example BV"}
}

type stubNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (n *stubNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

type testEnv struct {
	db       *sql.DB
	hub      *hub.Hub
	pipeline *decision.Pipeline
	notifier *stubNotifier
	public   http.Handler
	admin    http.Handler
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "gatehouse_test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	verifier, err := auth.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	logger := zap.NewNop()
	h := hub.New(logger)
	t.Cleanup(h.CloseAll)

	notifier := &stubNotifier{}
	pipeline := decision.New(db.NewStore(database), stubLocator{}, notifier, h, logger)
	t.Cleanup(pipeline.Wait)

	public := &PublicServer{DB: database, Pipeline: pipeline, Hub: h, CORSOrigins: []string{"*"}, Logger: logger}
	admin := &APIServer{
		DB:          database,
		Pipeline:    pipeline,
		Hub:         h,
		Verifier:    verifier,
		Notifier:    notifier,
		CORSOrigins: []string{"https://ops.example.com"},
		Logger:      logger,
	}

	return &testEnv{
		db:       database,
		hub:      h,
		pipeline: pipeline,
		notifier: notifier,
		public:   public.Handler(),
		admin:    admin.Handler(),
	}
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	if v == nil {
		return bytes.NewReader(nil)
	}
	if s, ok := v.(string); ok {
		return bytes.NewReader([]byte(s))
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(b)
}

func (e *testEnv) adminDo(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, jsonBody(t, body))
	req.Header.Set("Authorization", "Bearer "+testSecret)
	w := httptest.NewRecorder()
	e.admin.ServeHTTP(w, req)
	return w
}

func (e *testEnv) publicDo(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, jsonBody(t, body))
	w := httptest.NewRecorder()
	e.public.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}
