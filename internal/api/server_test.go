package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/pdm-core/internal/audit"
	"github.com/nerrad567/pdm-core/internal/auth"
	"github.com/nerrad567/pdm-core/internal/core"
	"github.com/nerrad567/pdm-core/internal/hal"
	"github.com/nerrad567/pdm-core/internal/infrastructure/config"
	"github.com/nerrad567/pdm-core/internal/infrastructure/database"
	"github.com/nerrad567/pdm-core/internal/infrastructure/logging"
	"github.com/nerrad567/pdm-core/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

type testEnv struct {
	srv     *Server
	core    *core.Core
	events  *audit.SQLiteRepository
	history *audit.HistoryRepository
	router  http.Handler
}

type serverOption func(*Deps)

func withSecret(d *Deps) { d.Security.JWT.Secret = testSecret }

func withHealth(name string, hc HealthChecker) serverOption {
	return func(d *Deps) {
		if d.Health == nil {
			d.Health = map[string]HealthChecker{}
		}
		d.Health[name] = hc
	}
}

// testServer creates a Server over a simulated core and an in-memory
// SQLite event log.
func testServer(t *testing.T, opts ...serverOption) *testEnv {
	t.Helper()

	c, err := core.New(hal.NewSim().Adapters(), core.Options{})
	if err != nil {
		t.Fatalf("core.New() error = %v", err)
	}

	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	events := audit.NewSQLiteRepository(db.DB)
	history := audit.NewHistoryRepository(db.DB)

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  log,
		Core:    c,
		Events:  events,
		History: history,
		Version: "test",
	}
	for _, o := range opts {
		o(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{srv: srv, core: c, events: events, history: history, router: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// applyVan uploads the van layout through the API.
func (e *testEnv) applyVan(t *testing.T) {
	t.Helper()
	data, err := os.ReadFile("../layout/testdata/van.yaml")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	w := e.do(t, http.MethodPost, "/api/v1/layout", string(data), "")
	if w.Code != http.StatusOK {
		t.Fatalf("apply layout status = %d; body: %s", w.Code, w.Body.String())
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal: %v; body: %s", err, w.Body.String())
	}
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken("tester", role, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return tok
}

type fakeChecker struct{ err error }

func (f fakeChecker) HealthCheck(context.Context) error { return f.err }

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t, withHealth("database", fakeChecker{}))

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp struct {
		Status  string            `json:"status"`
		Version string            `json:"version"`
		Checks  map[string]string `json:"checks"`
	}
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("status/version = %q/%q, want ok/test", resp.Status, resp.Version)
	}
	if resp.Checks["core"] != "ok" || resp.Checks["database"] != "ok" {
		t.Errorf("checks = %v", resp.Checks)
	}
}

func TestHealth_Degraded(t *testing.T) {
	tests := []struct {
		name  string
		dep   error
		safe  bool
		check string
	}{
		{name: "failed dependency", dep: errors.New("not connected"), check: "mqtt"},
		{name: "safe state", safe: true, check: "core"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, withHealth("mqtt", fakeChecker{err: tt.dep}))
			if tt.safe {
				env.core.EnterSafeState(errors.New("supply collapse"))
			}

			w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
			if w.Code != http.StatusServiceUnavailable {
				t.Fatalf("status = %d, want 503", w.Code)
			}
			var resp struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			decode(t, w, &resp)
			if resp.Status != "degraded" {
				t.Errorf("status = %q, want degraded", resp.Status)
			}
			if resp.Checks[tt.check] == "ok" {
				t.Errorf("check %q = ok, want failure", tt.check)
			}
		})
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/channels", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Channel Tests ─────────────────────────────────────────────────

func TestListChannels_SystemOnly(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/channels?class=system", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Channels []channelResponse `json:"channels"`
		Count    int               `json:"count"`
	}
	decode(t, w, &resp)
	if resp.Count == 0 || resp.Count != len(resp.Channels) {
		t.Fatalf("count = %d, channels = %d", resp.Count, len(resp.Channels))
	}
	for i := 1; i < len(resp.Channels); i++ {
		if resp.Channels[i-1].ID >= resp.Channels[i].ID {
			t.Fatalf("channels not in id order at %d", i)
		}
	}
}

func TestListChannels_Filters(t *testing.T) {
	env := testServer(t)
	env.applyVan(t)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"power outputs", "?class=power_output", 2},
		{"two classes", "?class=power_output,digital_input", 3},
		{"id range", "?from=200&to=299", 3},
		{"id range with hidden", "?from=200&to=299&hidden=true", 4},
		{"single id", "?from=150&to=150", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/channels"+tt.query, "", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
			}
			var resp struct {
				Count int `json:"count"`
			}
			decode(t, w, &resp)
			if resp.Count != tt.want {
				t.Errorf("count = %d, want %d", resp.Count, tt.want)
			}
		})
	}
}

func TestListChannels_BadQuery(t *testing.T) {
	env := testServer(t)
	for _, q := range []string{"?class=bogus", "?from=x", "?to=99999"} {
		w := env.do(t, http.MethodGet, "/api/v1/channels"+q, "", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestGetChannel(t *testing.T) {
	env := testServer(t)
	env.applyVan(t)

	w := env.do(t, http.MethodGet, "/api/v1/channels/100", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var got channelResponse
	decode(t, w, &got)
	if got.Name != "fan" || got.Class != "power_output" {
		t.Errorf("channel = %+v, want fan/power_output", got.Descriptor)
	}

	w = env.do(t, http.MethodGet, "/api/v1/channels/by-name/fan.current", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("by-name status = %d; body: %s", w.Code, w.Body.String())
	}

	for _, path := range []string{"/api/v1/channels/999", "/api/v1/channels/by-name/nope"} {
		if w := env.do(t, http.MethodGet, path, "", ""); w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, w.Code)
		}
	}
	if w := env.do(t, http.MethodGet, "/api/v1/channels/abc", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
}

func TestSetChannelValue_DisabledThenEnabled(t *testing.T) {
	env := testServer(t)
	env.applyVan(t)

	// spare (203) is declared disabled.
	w := env.do(t, http.MethodPut, "/api/v1/channels/203/value", `{"value": 7}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("set value status = %d; body: %s", w.Code, w.Body.String())
	}
	var got channelResponse
	decode(t, w, &got)
	if got.Value != 7 || got.Reading != 0 {
		t.Errorf("value/reading = %d/%d, want 7/0", got.Value, got.Reading)
	}

	w = env.do(t, http.MethodPut, "/api/v1/channels/203/enabled", `{"enabled": true}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("enable status = %d; body: %s", w.Code, w.Body.String())
	}
	decode(t, w, &got)
	if got.Reading != 7 {
		t.Errorf("reading after enable = %d, want 7", got.Reading)
	}
	if v := env.core.Registry().Get(203); v != 7 {
		t.Errorf("Get(203) = %d, want 7", v)
	}
}

func TestSetChannelValue_Errors(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"readonly system channel", "/api/v1/channels/1000/value", `{"value": 1}`, http.StatusConflict},
		{"unknown channel", "/api/v1/channels/900/value", `{"value": 1}`, http.StatusNotFound},
		{"missing value", "/api/v1/channels/1000/value", `{}`, http.StatusBadRequest},
		{"invalid json", "/api/v1/channels/1000/value", `{`, http.StatusBadRequest},
		{"missing enabled", "/api/v1/channels/1000/enabled", `{"value": 1}`, http.StatusBadRequest},
		{"enable unknown", "/api/v1/channels/900/enabled", `{"enabled": true}`, http.StatusNotFound},
		{"disable safe state channel", "/api/v1/channels/1009/enabled", `{"enabled": false}`, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, tt.path, tt.body, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestAuth_Permissions(t *testing.T) {
	env := testServer(t, withSecret)
	env.applyVanWithToken(t, token(t, auth.RoleAdmin))

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"viewer", token(t, auth.RoleViewer), http.StatusForbidden},
		{"operator", token(t, auth.RoleOperator), http.StatusOK},
		{"admin", token(t, auth.RoleAdmin), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPut, "/api/v1/channels/203/value", `{"value": 3}`, tt.token)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}

func TestAuth_ReadsStayOpen(t *testing.T) {
	env := testServer(t, withSecret)
	for _, path := range []string{"/api/v1/channels", "/api/v1/outputs", "/api/v1/safe-state", "/api/v1/stats"} {
		if w := env.do(t, http.MethodGet, path, "", ""); w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, w.Code)
		}
	}
}

func TestAuth_LayoutNeedsAdmin(t *testing.T) {
	env := testServer(t, withSecret)

	data, err := os.ReadFile("../layout/testdata/van.yaml")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	w := env.do(t, http.MethodPost, "/api/v1/layout", string(data), token(t, auth.RoleOperator))
	if w.Code != http.StatusForbidden {
		t.Errorf("operator apply status = %d, want 403", w.Code)
	}
	if env.core.Generation() != 0 {
		t.Errorf("Generation() = %d, want 0", env.core.Generation())
	}
}

func (e *testEnv) applyVanWithToken(t *testing.T, tok string) {
	t.Helper()
	data, err := os.ReadFile("../layout/testdata/van.yaml")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	w := e.do(t, http.MethodPost, "/api/v1/layout", string(data), tok)
	if w.Code != http.StatusOK {
		t.Fatalf("apply layout status = %d; body: %s", w.Code, w.Body.String())
	}
}

// ─── Output Tests ──────────────────────────────────────────────────

func TestOutputs(t *testing.T) {
	env := testServer(t)
	env.applyVan(t)

	w := env.do(t, http.MethodGet, "/api/v1/outputs", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var list struct {
		Outputs []outputResponse `json:"outputs"`
		Count   int              `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 2 {
		t.Fatalf("count = %d, want 2", list.Count)
	}
	if list.Outputs[0].Name != "fan" || list.Outputs[0].ChannelID != 100 {
		t.Errorf("outputs[0] = %s/%d, want fan/100", list.Outputs[0].Name, list.Outputs[0].ChannelID)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/outputs/1", "", ""); w.Code != http.StatusOK {
		t.Errorf("get output 1 status = %d, want 200", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/outputs/5", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("get output 5 status = %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/outputs/-1", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("get output -1 status = %d, want 400", w.Code)
	}
}

func TestClearOutputAndBridge(t *testing.T) {
	env := testServer(t)
	env.applyVan(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"configured output", "/api/v1/outputs/0/clear", http.StatusOK},
		{"unconfigured output", "/api/v1/outputs/7/clear", http.StatusNotFound},
		{"output out of range", "/api/v1/outputs/30/clear", http.StatusBadRequest},
		{"configured bridge", "/api/v1/bridges/0/clear", http.StatusNoContent},
		{"unconfigured bridge", "/api/v1/bridges/3/clear", http.StatusNotFound},
		{"bridge out of range", "/api/v1/bridges/9/clear", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, "", "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestBridges(t *testing.T) {
	env := testServer(t)
	env.applyVan(t)

	w := env.do(t, http.MethodGet, "/api/v1/bridges", "", "")
	var list struct {
		Bridges []bridgeResponse `json:"bridges"`
	}
	decode(t, w, &list)
	if len(list.Bridges) != 1 || list.Bridges[0].Name != "window" {
		t.Errorf("bridges = %+v, want one named window", list.Bridges)
	}
}

// ─── Safe State Tests ──────────────────────────────────────────────

func TestSafeState(t *testing.T) {
	env := testServer(t)

	var st struct {
		Active bool   `json:"active"`
		Reason string `json:"reason"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/v1/safe-state", "", ""), &st)
	if st.Active {
		t.Fatal("safe state active on a fresh core")
	}

	env.core.EnterSafeState(errors.New("supply collapse"))
	decode(t, env.do(t, http.MethodGet, "/api/v1/safe-state", "", ""), &st)
	if !st.Active || !strings.Contains(st.Reason, "supply collapse") {
		t.Errorf("safe state = %+v, want active with reason", st)
	}

	w := env.do(t, http.MethodPost, "/api/v1/safe-state/reset", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d; body: %s", w.Code, w.Body.String())
	}
	if active, _ := env.core.SafeState(); active {
		t.Error("safe state still active after reset")
	}
}

// ─── Layout Tests ──────────────────────────────────────────────────

func TestApplyLayout(t *testing.T) {
	env := testServer(t)
	env.applyVan(t)

	if env.core.Generation() != 1 {
		t.Errorf("Generation() = %d, want 1", env.core.Generation())
	}

	w := env.do(t, http.MethodGet, "/api/v1/layout", "", "")
	var cur struct {
		Generation int32          `json:"generation"`
		Slots      []slotResponse `json:"slots"`
		Outputs    []any          `json:"outputs"`
	}
	decode(t, w, &cur)
	if cur.Generation != 1 || len(cur.Slots) != 4 || len(cur.Outputs) != 2 {
		t.Errorf("layout = gen %d, %d slots, %d outputs", cur.Generation, len(cur.Slots), len(cur.Outputs))
	}
	if cur.Slots[0].Kind == "" {
		t.Error("slot kind not reported")
	}

	w = env.do(t, http.MethodGet, "/api/v1/layout/history", "", "")
	var hist struct {
		History []audit.LayoutApplied `json:"history"`
	}
	decode(t, w, &hist)
	if len(hist.History) != 1 || hist.History[0].Source != "api:anonymous" {
		t.Errorf("history = %+v, want one entry from api:anonymous", hist.History)
	}
}

func TestApplyLayout_Rejected(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"empty body", "/api/v1/layout", "", http.StatusBadRequest},
		{"bad mode", "/api/v1/layout?mode=bogus", "version: 1\n", http.StatusBadRequest},
		{"not yaml", "/api/v1/layout", "channels: [", http.StatusUnprocessableEntity},
		{"unknown name", "/api/v1/layout", "version: 1\noutputs:\n  - index: 0\n    source: nowhere\n", http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body, "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
	if env.core.Generation() != 0 {
		t.Errorf("Generation() = %d after rejected layouts, want 0", env.core.Generation())
	}
}

func TestLayoutSchema(t *testing.T) {
	env := testServer(t)
	w := env.do(t, http.MethodGet, "/api/v1/layout/schema", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !json.Valid(w.Body.Bytes()) {
		t.Error("schema is not valid JSON")
	}
}

// ─── Event Tests ───────────────────────────────────────────────────

func TestListEvents(t *testing.T) {
	env := testServer(t)
	ctx := t.Context()
	for _, e := range []audit.Event{
		{Kind: audit.KindTrip, Target: audit.TargetOutput, ChannelID: 100, Name: "fan"},
		{Kind: audit.KindLatch, Target: audit.TargetOutput, ChannelID: 100, Name: "fan"},
		{Kind: audit.KindTrip, Target: audit.TargetBridge, ChannelID: 150, Name: "window"},
	} {
		if err := env.events.Record(ctx, &e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?kind=trip", 2},
		{"?target=bridge", 1},
		{"?channel_id=100", 2},
		{"?limit=1", 1},
		{"?since=2000-01-01T00:00:00Z", 3},
	}
	for _, tt := range tests {
		w := env.do(t, http.MethodGet, "/api/v1/events"+tt.query, "", "")
		if w.Code != http.StatusOK {
			t.Fatalf("%q status = %d; body: %s", tt.query, w.Code, w.Body.String())
		}
		var res audit.ListResult
		decode(t, w, &res)
		if len(res.Events) != tt.want {
			t.Errorf("%q events = %d, want %d", tt.query, len(res.Events), tt.want)
		}
	}

	for _, q := range []string{"?channel_id=x", "?since=yesterday", "?limit=-1"} {
		if w := env.do(t, http.MethodGet, "/api/v1/events"+q, "", ""); w.Code != http.StatusBadRequest {
			t.Errorf("%q status = %d, want 400", q, w.Code)
		}
	}
}

func TestListEvents_Unavailable(t *testing.T) {
	env := testServer(t, func(d *Deps) { d.Events = nil; d.History = nil })
	if w := env.do(t, http.MethodGet, "/api/v1/events", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("events status = %d, want 503", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/api/v1/layout/history", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("history status = %d, want 503", w.Code)
	}
}

// ─── Metrics Tests ─────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	env := testServer(t)
	env.applyVan(t)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var m SystemMetrics
	decode(t, w, &m)
	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Core.Generation != 1 || m.Registry.Total == 0 {
		t.Errorf("core generation = %d, registry total = %d", m.Core.Generation, m.Registry.Total)
	}
	if m.Publisher != nil || m.Ingress != nil {
		t.Error("telemetry metrics reported without telemetry")
	}
}

// ─── Ticket Tests ──────────────────────────────────────────────────

func TestWSTicket_SingleUse(t *testing.T) {
	env := testServer(t, withSecret)

	w := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "", token(t, auth.RoleViewer))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Ticket string `json:"ticket"`
	}
	decode(t, w, &resp)
	if resp.Ticket == "" {
		t.Fatal("expected a non-empty ticket")
	}

	entry, ok := env.srv.tickets.consume(resp.Ticket)
	if !ok {
		t.Fatal("ticket should be valid on first use")
	}
	if entry.subject != "tester" {
		t.Errorf("subject = %q, want tester", entry.subject)
	}
	if _, ok := env.srv.tickets.consume(resp.Ticket); ok {
		t.Error("ticket should not be valid on second use")
	}
}

func TestWSTicket_Expiry(t *testing.T) {
	ts := newTicketStore()
	ts.issue("old", "tester", time.Now().Add(-time.Second))
	ts.issue("new", "tester", time.Now().Add(time.Minute))

	if _, ok := ts.consume("old"); ok {
		t.Error("expired ticket should not be valid")
	}

	ts.issue("stale", "tester", time.Now().Add(-time.Second))
	ts.cleanExpired()
	ts.mu.Lock()
	_, staleLeft := ts.tickets["stale"]
	_, newLeft := ts.tickets["new"]
	ts.mu.Unlock()
	if staleLeft || !newLeft {
		t.Errorf("after cleanExpired stale=%v new=%v, want false/true", staleLeft, newLeft)
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log)
	go hub.Run(t.Context())
	return hub
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{EventProtection: {}},
	}
	hub.Register(client)

	hub.Broadcast(EventProtection, audit.Event{Kind: audit.KindTrip, Target: audit.TargetOutput})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != EventProtection {
			t.Errorf("message = %s/%s, want event/%s", wsMsg.Type, wsMsg.EventType, EventProtection)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub(t)

	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{EventProtection: {}},
	}
	hub.Register(client)

	hub.Broadcast(EventChannelState, map[string]any{"id": 100})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := newTestHub(t)

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── WebSocket Integration Tests ───────────────────────────────────

func dialWS(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestWebSocket_SubscribeSnapshotAndBroadcast(t *testing.T) {
	env := testServer(t)
	env.applyVan(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ws, resp, err := dialWS(t, ts, "")
	if err != nil {
		t.Fatalf("dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{EventChannelState}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	if msg := readWS(t, ws); msg.Type != WSTypeResponse || msg.ID != "sub-1" {
		t.Fatalf("first message = %s/%s, want response/sub-1", msg.Type, msg.ID)
	}
	snap := readWS(t, ws)
	if snap.Type != WSTypeSnapshot || snap.EventType != EventChannelState {
		t.Fatalf("second message = %s/%s, want snapshot", snap.Type, snap.EventType)
	}
	if list, ok := snap.Payload.([]any); !ok || len(list) == 0 {
		t.Errorf("snapshot payload = %T, want non-empty list", snap.Payload)
	}

	env.srv.Hub().Broadcast(EventChannelState, map[string]int{"id": 100})
	if msg := readWS(t, ws); msg.Type != WSTypeEvent || msg.EventType != EventChannelState {
		t.Errorf("broadcast = %s/%s, want event/%s", msg.Type, msg.EventType, EventChannelState)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ws, _, err := dialWS(t, ts, "")
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %s/%s, want pong/p1", msg.Type, msg.ID)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypeError {
		t.Errorf("invalid json reply = %s, want error", msg.Type)
	}

	if err := ws.WriteJSON(WSMessage{Type: "bogus", ID: "b1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readWS(t, ws); msg.Type != WSTypeError || msg.ID != "b1" {
		t.Errorf("unknown type reply = %s/%s, want error/b1", msg.Type, msg.ID)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	env := testServer(t, withSecret)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	for _, q := range []string{"", "?ticket=invalid-ticket"} {
		_, resp, err := dialWS(t, ts, q)
		if err == nil {
			t.Fatalf("%q: expected dial error", q)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%q: response = %v, want 401", q, resp)
		}
	}

	w := env.do(t, http.MethodPost, "/api/v1/auth/ws-ticket", "", token(t, auth.RoleViewer))
	var tk struct {
		Ticket string `json:"ticket"`
	}
	decode(t, w, &tk)
	ws, _, err := dialWS(t, ts, "?ticket="+tk.Ticket)
	if err != nil {
		t.Fatalf("dial with ticket failed: %v", err)
	}
	ws.Close()
}

func TestServer_StartAndClose(t *testing.T) {
	env := testServer(t)
	srv := env.srv

	if err := srv.HealthCheck(t.Context()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
