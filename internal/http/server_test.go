package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbmaintain/dbmaintain/internal/auth"
	"github.com/dbmaintain/dbmaintain/internal/config"
	"github.com/dbmaintain/dbmaintain/internal/db/dbtest"
	"github.com/dbmaintain/dbmaintain/internal/ledger"
	"github.com/dbmaintain/dbmaintain/internal/logging"
	"github.com/dbmaintain/dbmaintain/internal/maintainer"
	"github.com/dbmaintain/dbmaintain/internal/metrics"
	"github.com/dbmaintain/dbmaintain/internal/rbac"
	"github.com/dbmaintain/dbmaintain/internal/repository"
	"github.com/dbmaintain/dbmaintain/internal/runner"
)

type testServer struct {
	handler http.Handler
	tokens  *auth.TokenManager
}

func newTestServer(t *testing.T, files fstest.MapFS) *testServer {
	t.Helper()
	log := logging.Discard()
	cfg := config.Default()
	dbs := dbtest.New(t)

	settings := repository.SettingsFromConfig(cfg.Scripts)
	repo, err := repository.New([]repository.Location{repository.NewDirLocation("test", files, settings)}, dbs.Names())
	require.NoError(t, err)
	factory, err := settings.Factory()
	require.NoError(t, err)
	l := ledger.New(dbs.Default(), cfg.Ledger, factory)
	r := runner.NewDispatcher(dbs, runner.NewSQLRunner(dbs, nil, log), nil, nil, log)
	m, err := maintainer.New(cfg.Maintainer, cfg.Preserve, dbs, repo, l, r, log)
	require.NoError(t, err)

	collector := metrics.NewCollector()
	m.AddObserver(collector)
	tokens := auth.NewTokenManager(bytes.Repeat([]byte("k"), 32), time.Hour)
	return &testServer{handler: New(":0", log, m, tokens, collector).Routes(), tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path string, role rbac.Role) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if role != "" {
		tok, err := s.tokens.Issue("tester", role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func scripts() fstest.MapFS {
	return fstest.MapFS{
		"001_a.sql": &fstest.MapFile{Data: []byte("CREATE TABLE a (id INTEGER);")},
		"002_b.sql": &fstest.MapFile{Data: []byte("CREATE TABLE b (id INTEGER);")},
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, scripts())
	rec := s.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"main": "ok"}, body["databases"])
}

func TestAuthIsRequired(t *testing.T) {
	s := newTestServer(t, scripts())
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/v1/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/api/v1/update", "").Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/v1/update", rbac.RoleViewer).Code)
}

func TestErrorsShareTheResultEnvelope(t *testing.T) {
	s := newTestServer(t, scripts())

	rec := s.do(t, http.MethodPost, "/api/v1/update", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	body := decode(t, rec)
	assert.NotContains(t, body, "result")
	assert.Equal(t, map[string]any{"code": "unauthorized", "message": "authentication required"}, body["error"])

	rec = s.do(t, http.MethodPost, "/api/v1/update", rbac.RoleViewer)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode(t, rec)["error"].(map[string]any)["code"])
}

func TestUpdateFlow(t *testing.T) {
	s := newTestServer(t, scripts())

	rec := s.do(t, http.MethodGet, "/api/v1/updates", rbac.RoleViewer)
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode(t, rec)["result"].(map[string]any)
	assert.Equal(t, []any{"001_a.sql", "002_b.sql"}, result["planned"])
	assert.Len(t, result["updates"], 2)

	rec = s.do(t, http.MethodPost, "/api/v1/update?dry_run=true", rbac.RoleOperator)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode(t, rec)["result"].(map[string]any)["executed"])

	rec = s.do(t, http.MethodPost, "/api/v1/update", rbac.RoleOperator)
	require.Equal(t, http.StatusOK, rec.Code)
	result = decode(t, rec)["result"].(map[string]any)
	assert.Equal(t, "incremental", result["strategy"])
	assert.Equal(t, []any{"001_a.sql", "002_b.sql"}, result["executed"])

	rec = s.do(t, http.MethodGet, "/api/v1/status", rbac.RoleViewer)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, "idle", status["phase"])
	assert.Len(t, status["executed"], 2)

	rec = s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dbmaintain_script_executions_total{kind="incremental",status="succeeded"} 2`)
}

func TestFailedScriptNeedsManualIntervention(t *testing.T) {
	files := scripts()
	files["002_b.sql"] = &fstest.MapFile{Data: []byte("INSERT INTO nosuch VALUES (1);")}
	s := newTestServer(t, files)

	rec := s.do(t, http.MethodPost, "/api/v1/update", rbac.RoleOperator)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "script_failed", decode(t, rec)["error"].(map[string]any)["code"])

	rec = s.do(t, http.MethodPost, "/api/v1/update", rbac.RoleOperator)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "manual_intervention_required", decode(t, rec)["error"].(map[string]any)["code"])

	rec = s.do(t, http.MethodPost, "/api/v1/mark-error-reverted", rbac.RoleOperator)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"result": map[string]any{"status": "ok"}}, decode(t, rec))

	rec = s.do(t, http.MethodGet, "/api/v1/status", rbac.RoleViewer)
	assert.Len(t, decode(t, rec)["executed"], 1)
}
