package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsSmoke(t *testing.T) {
	Init()
	Init() // repeated init must not panic

	ObserveTask("complete_task", 2*time.Second)
	ObserveOutcome("content_ready")
	ObserveDeliveries("sneakers", 3)
	ObserveDeliveries("sneakers", 0)
	ObserveProxyBan()
	ObserveLeaseConflict()
	ObserveReclaimed("tasks", 5)
	ObserveReclaimed("proxies", 0)
	IncActiveWorkers()
	DecActiveWorkers()
	SetBacklog("pending", 12)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "listwatch_tasks_total")
	require.Contains(t, rec.Body.String(), "listwatch_deliveries_total")
}
