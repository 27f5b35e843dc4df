package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outletguard/orchestrator/internal/logger"
)

type fakeChecker struct {
	healthy bool
	reason  string
}

func (f fakeChecker) Healthy() (bool, string) { return f.healthy, f.reason }

func TestHandleHealthzReportsHealthyWithNoCheckers(t *testing.T) {
	s := New(Config{}, logger.Nop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusHealthy, report.Status)
}

func TestHandleHealthzReportsUnhealthyWhenACheckerFails(t *testing.T) {
	s := New(Config{}, logger.Nop())
	s.RegisterChecker(fakeChecker{healthy: true})
	s.RegisterChecker(fakeChecker{healthy: false, reason: "camera unreachable"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestHandleStateReturns503WhenSnapshotNotConfigured(t *testing.T) {
	s := New(Config{}, logger.Nop())

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleStateReturns503WhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{StatePath: filepath.Join(dir, "outlet_state.json")}, logger.Nop())

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleStateServesSnapshotVerbatim(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outlet_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"outlet_id":"o1","targets":{}}`), 0o644))

	s := New(Config{StatePath: path}, logger.Nop())

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "o1", doc["outlet_id"])
}

func TestHandleStateReturns500OnCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "outlet_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	s := New(Config{StatePath: path}, logger.Nop())

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
