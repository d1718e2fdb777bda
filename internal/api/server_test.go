package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgermatch/recon-backend/internal/application/recon"
	"github.com/ledgermatch/recon-backend/internal/infrastructure/storage"
)

type stubRunner struct {
	gotOpts recon.Options
	result  *recon.Result
	err     error
}

func (r *stubRunner) Run(ctx context.Context, opts recon.Options) (*recon.Result, error) {
	r.gotOpts = opts
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func testRouter(t *testing.T, repo storage.Repository, runner Runner) *gin.Engine {
	t.Helper()
	return NewServer(repo, runner, nil).Router(nil)
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	repo := storage.NewMockRepository()
	router := testRouter(t, repo, nil)

	w := doRequest(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	repo.FailHealthy = true
	w = doRequest(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetRuns(t *testing.T) {
	repo := storage.NewMockRepository()
	id, err := repo.StartRun("run-1", false, false)
	require.NoError(t, err)
	require.NoError(t, repo.CompleteRun(id, storage.RunCounts{Matched: 3}, storage.RunStatusCompleted))

	router := testRouter(t, repo, nil)
	w := doRequest(router, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var runs []storage.ReconRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].Matched)
}

func TestGetRunByID(t *testing.T) {
	repo := storage.NewMockRepository()
	id, err := repo.StartRun("run-1", true, false)
	require.NoError(t, err)

	router := testRouter(t, repo, nil)

	w := doRequest(router, http.MethodGet, "/api/runs/"+strconv.FormatInt(id, 10), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/runs/99999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodGet, "/api/runs/not-a-number", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMatches(t *testing.T) {
	repo := storage.NewMockRepository()
	require.NoError(t, repo.RecordMatch(&storage.ReconciliationRecord{
		SourceID:  "src-1",
		LedgerID:  "led-1",
		MatchedAt: time.Now().UTC(),
		Score:     95,
	}))

	router := testRouter(t, repo, nil)
	w := doRequest(router, http.MethodGet, "/api/matches?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)

	var matches []storage.ReconciliationRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &matches))
	require.Len(t, matches, 1)
	assert.Equal(t, "src-1", matches[0].SourceID)
}

func TestGetProfile(t *testing.T) {
	repo := storage.NewMockRepository()
	require.NoError(t, repo.ObserveCategory("chipotle", "dining", "restaurant"))

	router := testRouter(t, repo, nil)

	w := doRequest(router, http.MethodGet, "/api/profiles/CHIPOTLE", "")
	require.Equal(t, http.StatusOK, w.Code, "raw keys are normalized before lookup")

	var profile storage.MerchantProfile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &profile))
	assert.Equal(t, "chipotle", profile.MerchantKey)
	assert.Equal(t, 1, profile.TotalObservations)

	w = doRequest(router, http.MethodGet, "/api/profiles/nobody", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStats(t *testing.T) {
	repo := storage.NewMockRepository()
	router := testRouter(t, repo, nil)

	w := doRequest(router, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPostReconcile(t *testing.T) {
	repo := storage.NewMockRepository()
	runner := &stubRunner{result: &recon.Result{RunUID: "uid-1"}}
	router := testRouter(t, repo, runner)

	w := doRequest(router, http.MethodPost, "/api/reconcile", `{"dry_run": true, "days": 7}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, runner.gotOpts.DryRun)
	assert.Equal(t, 7, runner.gotOpts.LookbackDays)

	var result recon.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "uid-1", result.RunUID)
}

func TestPostReconcileWithoutRunner(t *testing.T) {
	router := testRouter(t, storage.NewMockRepository(), nil)
	w := doRequest(router, http.MethodPost, "/api/reconcile", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPostReconcileRunnerError(t *testing.T) {
	runner := &stubRunner{err: assert.AnError}
	router := testRouter(t, storage.NewMockRepository(), runner)

	w := doRequest(router, http.MethodPost, "/api/reconcile", `{}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
