package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/auditstream/internal/admission"
	"github.com/mattjoyce/auditstream/internal/audit"
	"github.com/mattjoyce/auditstream/internal/auth"
	"github.com/mattjoyce/auditstream/internal/configstore"
	"github.com/mattjoyce/auditstream/internal/delivery"
	"github.com/mattjoyce/auditstream/internal/dispatch"
	"github.com/mattjoyce/auditstream/internal/events"
	"github.com/mattjoyce/auditstream/internal/format"
	"github.com/mattjoyce/auditstream/internal/log"
	"github.com/mattjoyce/auditstream/internal/metrics"
	"github.com/mattjoyce/auditstream/internal/registry"
	"github.com/mattjoyce/auditstream/internal/storage"
)

const (
	adminKey    = "admin-key"
	ingestToken = "ingest-token"
	readToken   = "read-token"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// fakeDispatcher records calls and returns err.
type fakeDispatcher struct {
	err    error
	calls  []audit.Event
	actors []*audit.User
}

func (f *fakeDispatcher) LogEventOrThrow(_ context.Context, actor *audit.User, ev audit.Event) error {
	f.calls = append(f.calls, ev)
	f.actors = append(f.actors, actor)
	return f.err
}

type testEnv struct {
	server *Server
	editor *registry.Editor
	hub    *events.Hub
	disp   *fakeDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := configstore.New(db)
	env := &testEnv{
		editor: registry.NewEditor(store, registry.New(store, 0)),
		hub:    events.NewHub(32),
		disp:   &fakeDispatcher{},
	}
	env.server = New(Config{
		APIKey: adminKey,
		Tokens: []auth.TokenConfig{
			{Token: ingestToken, Scopes: []string{auth.ScopeAuditWrite}},
			{Token: readToken, Scopes: []string{auth.ScopeDestinationsRO, auth.ScopeEventsRO}},
		},
	}, Deps{
		Dispatcher: env.disp,
		Editor:     env.editor,
		Feed:       env.hub,
		Capacity:   admission.New(7),
		Metrics:    metrics.New().Handler(),
	}, slog.Default())
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzNoAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 7, resp.Limit)
	assert.Equal(t, 0, resp.InFlight)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "auditstream_dispatches_total")
}

func TestAuthAndScopes(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/v1/destinations", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/v1/destinations", "nope", http.StatusUnauthorized},
		{"ingest cannot list", http.MethodGet, "/v1/destinations", ingestToken, http.StatusForbidden},
		{"reader can list", http.MethodGet, "/v1/destinations", readToken, http.StatusOK},
		{"reader cannot add", http.MethodPost, "/v1/destinations", readToken, http.StatusForbidden},
		{"reader cannot log", http.MethodPost, "/v1/events", readToken, http.StatusForbidden},
		{"admin can list", http.MethodGet, "/v1/destinations?site=s1", adminKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.token, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestLogEventSuccess(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/events", ingestToken, map[string]any{
		"action":  "document.create",
		"context": map[string]any{"site": map[string]any{"id": "s1"}},
		"details": map[string]any{"doc": "d1"},
		"actor":   map[string]any{"id": "u1"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	require.Len(t, env.disp.calls, 1)
	ev := env.disp.calls[0]
	assert.Equal(t, "document.create", ev.Action)
	assert.Equal(t, "s1", ev.Context.Site.ID)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, ev.ID, rec.Header().Get("X-Audit-Event-ID"))
	assert.Equal(t, "u1", env.disp.actors[0].ID)
}

func TestLogEventBadInput(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/events", ingestToken, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/events", ingestToken, map[string]any{"action": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.server.config.MaxBodyBytes = 16
	rec = env.do(t, http.MethodPost, "/v1/events", ingestToken, map[string]any{"action": strings.Repeat("a", 64)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	assert.Empty(t, env.disp.calls)
}

func TestLogEventErrorMapping(t *testing.T) {
	rejected := &dispatch.StreamingError{Action: "a", Cause: admission.ErrAdmissionExceeded}
	failed := &dispatch.StreamingError{Action: "a", Failures: []*delivery.Failure{
		{DestinationID: "d1", StatusCode: 500},
	}}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"admission", rejected, http.StatusServiceUnavailable},
		{"delivery", failed, http.StatusBadGateway},
		{"formatter", format.ErrNoFormatter, http.StatusInternalServerError},
		{"registry", &registry.Error{Scope: audit.Installation(), Err: errors.New("db")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.disp.err = tt.err
			rec := env.do(t, http.MethodPost, "/v1/events", ingestToken, map[string]any{"action": "a"})
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	env := newTestEnv(t)
	env.disp.err = failed
	rec := env.do(t, http.MethodPost, "/v1/events", ingestToken, map[string]any{"action": "a"})
	var resp StreamingErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "encountered errors while streaming audit event")
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "d1", resp.Failures[0].DestinationID)
	assert.Equal(t, 500, resp.Failures[0].StatusCode)
}

func TestDestinationLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/destinations?site=s1", adminKey, audit.Destination{
		Name: "siem", URL: "https://siem.example.com/in", Token: "secret-token",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var added audit.Destination
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, "********", added.Token)

	rec = env.do(t, http.MethodGet, "/v1/destinations?site=s1", readToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed DestinationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, "site:s1", listed.Scope)
	require.Len(t, listed.Destinations, 1)
	assert.Equal(t, "********", listed.Destinations[0].Token)
	assert.NotContains(t, rec.Body.String(), "secret-token")

	// The stored token is untouched by redaction.
	stored, err := env.editor.List(context.Background(), audit.Site("s1"))
	require.NoError(t, err)
	assert.Equal(t, "secret-token", stored[0].Token)

	rec = env.do(t, http.MethodGet, "/v1/destinations", readToken, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, "installation", listed.Scope)
	assert.Empty(t, listed.Destinations)

	rec = env.do(t, http.MethodDelete, "/v1/destinations/"+added.ID+"?site=s1", adminKey, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/v1/destinations/"+added.ID+"?site=s1", adminKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var types []string
	for _, ev := range env.hub.Since(0) {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{events.TypeDestinationChanged, events.TypeDestinationChanged}, types)
}

func TestReplaceDestinations(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/v1/destinations", adminKey, []audit.Destination{
		{ID: "a", URL: "https://a.example.com"},
		{ID: "b", URL: "https://b.example.com"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPut, "/v1/destinations", adminKey, []audit.Destination{
		{ID: "a", URL: "ftp://a.example.com"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/v1/destinations", adminKey, []audit.Destination{
		{ID: "a", URL: "https://a.example.com"},
		{ID: "a", URL: "https://b.example.com"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	dests, err := env.editor.List(context.Background(), audit.Installation())
	require.NoError(t, err)
	assert.Len(t, dests, 2)
}

func TestListThenReplaceKeepsCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/v1/destinations", adminKey, []audit.Destination{
		{ID: "a", URL: "https://a.example.com", Token: "s3cret", Secret: "hmac-key"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/v1/destinations", readToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed DestinationsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))

	rec = env.do(t, http.MethodPut, "/v1/destinations", adminKey, listed.Destinations)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err := env.editor.List(context.Background(), audit.Installation())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "s3cret", stored[0].Token)
	assert.Equal(t, "hmac-key", stored[0].Secret)

	rec = env.do(t, http.MethodPut, "/v1/destinations", adminKey, []audit.Destination{
		{ID: "b", URL: "https://b.example.com", Token: audit.RedactedMask},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
