package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/listwatch/listwatch/internal/metrics"
	"github.com/listwatch/listwatch/internal/monitor"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(context.Context) error { return f.err }

type fakeStats struct {
	counts map[string]int64
	err    error
}

func (f *fakeStats) CountByStatus(context.Context) (map[string]int64, error) {
	return f.counts, f.err
}

type fakeGroups struct {
	groups   []monitor.Group
	upserted []monitor.Group
	toggled  map[string]bool
	err      error
}

func (f *fakeGroups) ListEnabled(context.Context) ([]monitor.Group, error) {
	return f.groups, f.err
}

func (f *fakeGroups) Upsert(_ context.Context, g monitor.Group) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, g)
	return nil
}

func (f *fakeGroups) SetEnabled(_ context.Context, name string, enabled bool) error {
	if f.err != nil {
		return f.err
	}
	if f.toggled == nil {
		f.toggled = map[string]bool{}
	}
	f.toggled[name] = enabled
	return nil
}

func newTestServer(pinger *fakePinger, stats *fakeStats, groups *fakeGroups) *Server {
	if pinger == nil {
		pinger = &fakePinger{}
	}
	if stats == nil {
		stats = &fakeStats{counts: map[string]int64{}}
	}
	if groups == nil {
		groups = &fakeGroups{}
	}
	return NewServer(pinger, stats, groups, zap.NewNop())
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzOK(t *testing.T) {
	t.Parallel()

	s := newTestServer(nil, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHealthzLedgerDown(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakePinger{err: errors.New("refused")}, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatsReportsBacklog(t *testing.T) {
	t.Parallel()

	stats := &fakeStats{counts: map[string]int64{"pending": 7, "failed": 2}}
	s := newTestServer(nil, stats, nil)
	rec := doRequest(t, s, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		Tasks map[string]int64 `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, int64(7), payload.Tasks["pending"])
	require.Equal(t, int64(2), payload.Tasks["failed"])
}

func TestStatsStoreError(t *testing.T) {
	t.Parallel()

	s := newTestServer(nil, &fakeStats{err: errors.New("ledger down")}, nil)
	rec := doRequest(t, s, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	t.Parallel()

	s := newTestServer(nil, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "listwatch_")
}

func TestListGroups(t *testing.T) {
	t.Parallel()

	groups := &fakeGroups{groups: []monitor.Group{{Name: "vintage-watches", Enabled: true}}}
	s := newTestServer(nil, nil, groups)
	rec := doRequest(t, s, http.MethodGet, "/v1/groups/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "vintage-watches")
}

func TestUpsertGroupRequiresName(t *testing.T) {
	t.Parallel()

	s := newTestServer(nil, nil, nil)
	rec := doRequest(t, s, http.MethodPut, "/v1/groups/", `{"Scope":"global"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertGroup(t *testing.T) {
	t.Parallel()

	groups := &fakeGroups{}
	s := newTestServer(nil, nil, groups)
	body := `{"Name":"vintage-watches","Enabled":true,"Scope":"global","Destinations":["chat-1"]}`
	rec := doRequest(t, s, http.MethodPut, "/v1/groups/", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, groups.upserted, 1)
	require.Equal(t, "vintage-watches", groups.upserted[0].Name)
}

func TestEnableDisableGroup(t *testing.T) {
	t.Parallel()

	groups := &fakeGroups{}
	s := newTestServer(nil, nil, groups)

	rec := doRequest(t, s, http.MethodPost, "/v1/groups/vintage-watches/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, groups.toggled["vintage-watches"])

	rec = doRequest(t, s, http.MethodPost, "/v1/groups/vintage-watches/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, groups.toggled["vintage-watches"])
}

func TestSetEnabledUnknownGroupReturns404(t *testing.T) {
	t.Parallel()

	groups := &fakeGroups{err: errors.New("no such group")}
	s := newTestServer(nil, nil, groups)
	rec := doRequest(t, s, http.MethodPost, "/v1/groups/ghost/enable", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
