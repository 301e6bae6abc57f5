package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/dukkan-app/dukkan/internal/config"
	"github.com/dukkan-app/dukkan/internal/push"
	"github.com/dukkan-app/dukkan/internal/server"
	"github.com/dukkan-app/dukkan/internal/testutil"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockState struct {
	data        map[string]string
	resetCalled bool
}

func newMockState() *mockState {
	return &mockState{data: map[string]string{"key": "value"}}
}

func (m *mockState) Snapshot() any { return m.data }

func (m *mockState) LoadState(data []byte) error {
	var d map[string]string
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	m.data = d
	return nil
}

func (m *mockState) Reset() {
	m.resetCalled = true
	m.data = map[string]string{"key": "value"}
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// requireToken admits requests carrying "Bearer ops-token".
func requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ops-token" {
			server.Error(w, http.StatusUnauthorized, "missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fixture struct {
	mw       *server.Middleware
	settings *config.Settings
	anon     *testutil.Client
	ops      *testutil.OpsClient
}

func setup(t *testing.T, d Deps) *fixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	f := &fixture{mw: server.NewMiddleware(&server.Config{Name: "ops-test"}, logger)}

	d.Mw = f.mw
	d.Require = requireToken
	if d.Settings == nil {
		f.settings = config.NewSettings(config.Default())
		d.Settings = f.settings
		d.Initial = f.settings.Get()
	}

	r := chi.NewRouter()
	r.Use(f.mw.RequestLog)
	NewHandler(d).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	f.anon = testutil.NewClient(t, srv)
	f.ops = testutil.NewOpsClient(f.anon.WithToken("ops-token"))
	return f
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthIsPublic(t *testing.T) {
	f := setup(t, Deps{State: newMockState()})

	m := f.anon.Get("/ops/health").AssertStatus(http.StatusOK).JSONMap()
	if m["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", m)
	}
}

func TestHealthReportsBackendFailure(t *testing.T) {
	f := setup(t, Deps{Health: pingerFunc(func(context.Context) error { return errors.New("connection refused") })})

	m := f.ops.Health().AssertStatus(http.StatusServiceUnavailable).JSONMap()
	if m["status"] != "unavailable" || m["error"] != "connection refused" {
		t.Errorf("unexpected health body: %v", m)
	}
}

func TestOpsRequiresToken(t *testing.T) {
	f := setup(t, Deps{State: newMockState()})

	f.anon.Get("/ops/state").AssertStatus(http.StatusUnauthorized)
	f.anon.Post("/ops/reset", nil).AssertStatus(http.StatusUnauthorized)
	f.anon.Get("/ops/requests").AssertStatus(http.StatusUnauthorized)
}

func TestGetAndLoadState(t *testing.T) {
	state := newMockState()
	f := setup(t, Deps{State: state})

	m := f.ops.GetState().AssertStatus(http.StatusOK).JSONMap()
	if m["key"] != "value" {
		t.Errorf("expected key=value, got %v", m)
	}

	f.ops.LoadState(map[string]string{"foo": "bar"}).AssertStatus(http.StatusOK)
	if state.data["foo"] != "bar" {
		t.Errorf("expected state to be updated, got %+v", state.data)
	}

	f.ops.LoadState("{bad json").AssertStatus(http.StatusBadRequest)
}

func TestReset(t *testing.T) {
	state := newMockState()
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"1","recipients":1}`))
	}))
	defer gw.Close()
	pc := push.NewClient(push.Config{URL: gw.URL})
	if _, err := pc.Send(context.Background(), push.Message{Title: "t", Body: "b"}); err != nil {
		t.Fatal(err)
	}

	f := setup(t, Deps{State: state, Push: pc})
	f.mw.Idempotent.Store("k", http.StatusOK, []byte("{}"))
	if _, err := f.settings.Update(map[string]any{"open": false}); err != nil {
		t.Fatal(err)
	}

	if n := len(f.ops.PushDeliveries().AssertStatus(http.StatusOK).JSONList()); n != 1 {
		t.Fatalf("expected 1 delivery before reset, got %d", n)
	}

	f.ops.Reset().AssertStatus(http.StatusOK)
	if !state.resetCalled {
		t.Error("expected state Reset to be called")
	}
	if f.mw.Idempotent.Len() != 0 {
		t.Error("expected idempotency cache to be cleared")
	}
	if !f.settings.IsOpen() {
		t.Error("expected settings to return to their initial values")
	}
	if n := len(f.ops.PushDeliveries().AssertStatus(http.StatusOK).JSONList()); n != 0 {
		t.Errorf("expected deliveries to be cleared, got %d", n)
	}
}

func TestStateRequiresMemoryBackend(t *testing.T) {
	f := setup(t, Deps{})

	f.ops.GetState().AssertStatus(http.StatusNotImplemented)
	f.ops.LoadState(map[string]string{}).AssertStatus(http.StatusNotImplemented)
	f.ops.Reset().AssertStatus(http.StatusNotImplemented)
}

func TestGetRequests(t *testing.T) {
	f := setup(t, Deps{State: newMockState()})

	f.anon.Get("/ops/health").AssertStatus(http.StatusOK)
	entries := f.ops.GetRequests().AssertStatus(http.StatusOK).JSONList()
	if len(entries) == 0 {
		t.Fatal("expected logged requests")
	}
	if entries[0]["path"] != "/ops/health" {
		t.Errorf("expected first entry for /ops/health, got %v", entries[0]["path"])
	}
}

func TestPushDeliveriesWithoutClient(t *testing.T) {
	f := setup(t, Deps{State: newMockState()})
	if n := len(f.ops.PushDeliveries().AssertStatus(http.StatusOK).JSONList()); n != 0 {
		t.Errorf("expected no deliveries, got %d", n)
	}
}
