package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opportunity-intel/internal/model"
	"github.com/sells-group/opportunity-intel/internal/resilience"
)

type testServer struct {
	*httptest.Server
	jobs     *fakeJobs
	disc     *fakeDiscoverer
	poller   *fakePoller
	entities *fakeEntities
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		jobs:   newFakeJobs(),
		disc:   &fakeDiscoverer{},
		poller: &fakePoller{},
		entities: &fakeEntities{entities: []model.Entity{
			{ID: 1, Name: "Central Block", Locality: "Example City", Scores: model.Scores{Priority: 61, Tier: model.TierHot}},
			{ID: 2, Name: "Rose Gardens", Locality: "Example City", Scores: model.Scores{Priority: 30, Tier: model.TierActive}},
		}},
	}
	h, err := NewHandler(Deps{Jobs: ts.jobs, Discoverer: ts.disc, Poller: ts.poller, Entities: ts.entities},
		[]string{"https://dash.example.com"})
	require.NoError(t, err)
	ts.Server = httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *strings.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	} else {
		rdr = strings.NewReader("")
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestNewHandler_RequiresDeps(t *testing.T) {
	_, err := NewHandler(Deps{}, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	ts.entities.pingErr = errBoom
	resp, body = ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, errBoom.Error(), body["store"])
}

func TestHealth_EngineBreakers(t *testing.T) {
	breakers := resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	ok := func(context.Context) (int, error) { return 1, nil }
	_, _ = resilience.ExecuteVal(context.Background(), breakers.Get("claude"), ok)

	base := newTestServer(t)
	h, err := NewHandler(Deps{Jobs: base.jobs, Discoverer: base.disc, Poller: base.poller, Entities: base.entities, Breakers: breakers}, nil)
	require.NoError(t, err)
	ts := &testServer{Server: httptest.NewServer(h)}
	t.Cleanup(ts.Close)

	resp, body := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	engines, _ := body["engines"].([]any)
	require.Len(t, engines, 1)
	assert.Equal(t, "closed", engines[0].(map[string]any)["state"])

	fail := func(context.Context) (int, error) { return 0, errors.New("perplexity: 502 bad gateway") }
	_, _ = resilience.ExecuteVal(context.Background(), breakers.Get("perplexity"), fail)

	resp, body = ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	engines, _ = body["engines"].([]any)
	require.Len(t, engines, 2)
	perplexity := engines[1].(map[string]any)
	assert.Equal(t, "perplexity", perplexity["engine"])
	assert.Equal(t, "open", perplexity["state"])
	assert.Equal(t, "perplexity: 502 bad gateway", perplexity["last_error"])
}

func TestStartBatch(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/jobs",
		`{"ids":[3,1],"mode":"full","stale_after":"48h","limit":10}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "job-1", body["job_id"])

	require.Len(t, ts.jobs.started, 1)
	sel := ts.jobs.started[0]
	assert.Equal(t, []int64{3, 1}, sel.IDs)
	assert.Equal(t, model.Duration(48*time.Hour), sel.StaleAfter)
	assert.Equal(t, 10, sel.Limit)
	assert.Equal(t, model.ModeFull, ts.jobs.modes[0])
}

func TestStartBatch_Validation(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad mode", `{"mode":"turbo"}`},
		{"negative id", `{"ids":[1,-2]}`},
		{"limit too high", `{"limit":5000}`},
		{"attractiveness out of range", `{"min_attractiveness":140}`},
		{"unknown field", `{"city":"Haifa"}`},
		{"malformed", `{"ids":`},
		{"bad duration", `{"stale_after":"two days"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Empty(t, ts.jobs.started)
}

func TestStartBatch_StoreError(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.startErr = errBoom
	resp, body := ts.do(t, http.MethodPost, "/jobs", `{}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "internal error", body["error"])
}

func TestJobStatusAndCancel(t *testing.T) {
	ts := newTestServer(t)
	ts.jobs.jobs["running"] = model.BatchJob{ID: "running", Status: model.JobRunning, Total: 4, Processed: 1,
		CurrentItem: "Rose Gardens", Errors: []string{}}
	ts.jobs.jobs["done"] = model.BatchJob{ID: "done", Status: model.JobCompleted, Errors: []string{}}

	resp, body := ts.do(t, http.MethodGet, "/jobs/running", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "running", body["status"])
	assert.EqualValues(t, 4, body["total"])
	assert.Equal(t, "Rose Gardens", body["current_item"])

	resp, body = ts.do(t, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["jobs"], 2)

	resp, _ = ts.do(t, http.MethodGet, "/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/jobs/running/cancel", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"running"}, ts.jobs.cancelled)

	resp, _ = ts.do(t, http.MethodPost, "/jobs/done/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestEnrichEntity(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/entities/1/enrich", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "job-2", body["job_id"])
	assert.Equal(t, []int64{1}, ts.jobs.enriched)

	resp, _ = ts.do(t, http.MethodPost, "/entities/77/enrich", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/entities/abc/enrich", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunDiscovery(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/discovery/run", `{"localities":["Haifa","Holon"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["scanned"])
	assert.EqualValues(t, 2, body["succeeded"])
	assert.Len(t, body["details"], 2)

	resp, _ = ts.do(t, http.MethodPost, "/discovery/run", `{"localities":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/discovery/run", `{"localities":["Haifa",""]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, ts.disc.localities, 1)
}

func TestPollCommittee(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/committee/poll", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["scanned"])
	assert.Equal(t, []any{}, body["details"], "a summary without items still carries details")
	assert.Equal(t, 1, ts.poller.due)

	resp, body = ts.do(t, http.MethodPost, "/committee/poll", `{"ids":[5,6]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["succeeded"])
	assert.Equal(t, [][]int64{{5, 6}}, ts.poller.ids)

	ts.poller.dueErr = errBoom
	resp, _ = ts.do(t, http.MethodPost, "/committee/poll", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestOpportunities(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/opportunities?tier=hot&locality=Example%20City&min_attractiveness=20&limit=5&offset=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["count"])

	require.Len(t, ts.entities.filters, 1)
	f := ts.entities.filters[0]
	assert.Equal(t, model.TierHot, f.Tier)
	assert.Equal(t, "Example City", f.Locality)
	assert.InDelta(t, 20.0, f.MinAttractiveness, 1e-9)
	assert.Equal(t, 5, f.Limit)
	assert.Equal(t, 10, f.Offset)

	resp, _ = ts.do(t, http.MethodGet, "/opportunities", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 50, ts.entities.filters[1].Limit)

	for _, q := range []string{"tier=lukewarm", "limit=-1", "limit=x", "offset=-3", "min_attractiveness=high"} {
		resp, _ = ts.do(t, http.MethodGet, "/opportunities?"+q, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "https://dash.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
