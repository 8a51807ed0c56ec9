package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/polybugger/polybugger-mcp/adapter"
	"github.com/polybugger/polybugger-mcp/brokererr"
	"github.com/polybugger/polybugger-mcp/frontend"
	"github.com/polybugger/polybugger-mcp/registry"
	"github.com/polybugger/polybugger-mcp/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New(registry.Options{MaxSessions: 2})
	t.Cleanup(reg.Close)

	d := &frontend.Dispatcher{
		Registry: reg,
		Profiles: func(lang adapter.Language) (adapter.Profile, error) {
			return nil, brokererr.New(brokererr.KindInvalidArgument, nil, "unsupported language %q", lang)
		},
	}
	return NewServer(d, nil)
}

func TestListSessionsEmpty(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []session.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Empty(t, got)
}

func TestCreateSessionUnsupportedLanguageIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"Language":"cobol","ProjectRoot":"/tmp"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, string(brokererr.KindInvalidArgument), got["kind"])
}

func TestGetSessionNotFoundIs404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/sessions/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTerminateUnknownSessionIs404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/sessions/ghost/terminate", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSessionMalformedBodyIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProcessesNoBackendFallsBackToInternalError(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/containers/docker/web/processes", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	// RuntimeUnavailable has no explicit mapping in writeError, so it
	// falls through to the 500 default per spec.md 6's status table.
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthReportsCapacity(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats registry.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	require.Equal(t, 2, stats.Capacity)
	require.Equal(t, 0, stats.Total)
	require.Nil(t, stats.OldestIdle)
}
