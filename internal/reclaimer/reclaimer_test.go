package reclaimer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/listwatch/listwatch/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type fakeTaskJanitor struct {
	mu         sync.Mutex
	order      []string
	reclaimAge int64
	recycleAge int64
	reclaimErr error
}

func (f *fakeTaskJanitor) ReclaimExpired(_ context.Context, maxAge int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "reclaim")
	f.reclaimAge = maxAge
	if f.reclaimErr != nil {
		return 0, f.reclaimErr
	}
	return 2, nil
}

func (f *fakeTaskJanitor) RepairOrphaned(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "repair")
	return 1, nil
}

func (f *fakeTaskJanitor) RecycleCompleted(_ context.Context, cooldown int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, "recycle")
	f.recycleAge = cooldown
	return 3, nil
}

type fakeProxyJanitor struct {
	mu     sync.Mutex
	calls  int
	maxAge int64
}

func (f *fakeProxyJanitor) ReclaimExpired(_ context.Context, maxAge int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.maxAge = maxAge
	return 1, nil
}

type memoryTask struct {
	id          int64
	status      string
	lockedBy    string
	lockedAt    time.Time
	completedAt time.Time
}

// memoryLedger models the task rows' lifecycle and lease fields against a
// movable clock, so a sweep can be walked end to end without Postgres.
type memoryLedger struct {
	mu     sync.Mutex
	now    time.Time
	nextID int64
	tasks  []*memoryTask
}

func newMemoryLedger(start time.Time) *memoryLedger {
	return &memoryLedger{now: start, nextID: 1}
}

func (m *memoryLedger) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

func (m *memoryLedger) addTask() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := &memoryTask{id: m.nextID, status: "pending"}
	m.nextID++
	m.tasks = append(m.tasks, task)
	return task.id
}

// lease mimics LeaseNext: the first pending task flips to in_progress under
// the holder's lease. Returns 0 when nothing is eligible.
func (m *memoryLedger) lease(holder string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks {
		if task.status == "pending" {
			task.status = "in_progress"
			task.lockedBy = holder
			task.lockedAt = m.now
			return task.id
		}
	}
	return 0
}

func (m *memoryLedger) complete(id int64, holder string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks {
		if task.id == id && task.lockedBy == holder {
			task.status = "completed"
			task.completedAt = m.now
			task.lockedBy = ""
			task.lockedAt = time.Time{}
			return true
		}
	}
	return false
}

func (m *memoryLedger) task(id int64) memoryTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, task := range m.tasks {
		if task.id == id {
			return *task
		}
	}
	return memoryTask{}
}

func (m *memoryLedger) ReclaimExpired(_ context.Context, maxAgeSeconds int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now.Add(-time.Duration(maxAgeSeconds) * time.Second)
	var n int64
	for _, task := range m.tasks {
		if task.lockedBy != "" && task.lockedAt.Before(cutoff) {
			task.lockedBy = ""
			task.lockedAt = time.Time{}
			n++
		}
	}
	return n, nil
}

func (m *memoryLedger) RepairOrphaned(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, task := range m.tasks {
		if task.status == "in_progress" && task.lockedBy == "" {
			task.status = "pending"
			n++
		}
	}
	return n, nil
}

func (m *memoryLedger) RecycleCompleted(_ context.Context, cooldownSeconds int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now.Add(-time.Duration(cooldownSeconds) * time.Second)
	var n int64
	for _, task := range m.tasks {
		if task.status == "completed" && task.completedAt.Before(cutoff) {
			task.status = "pending"
			task.completedAt = time.Time{}
			n++
		}
	}
	return n, nil
}

func TestSweepClearsThenRepairs(t *testing.T) {
	t.Parallel()

	tasks := &fakeTaskJanitor{}
	proxies := &fakeProxyJanitor{}
	r, err := New(tasks, proxies, Config{
		TaskLeaseMaxAge:  10 * time.Minute,
		ProxyLeaseMaxAge: 30 * time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)

	r.Sweep(context.Background())

	require.Equal(t, []string{"reclaim", "repair"}, tasks.order,
		"repair runs after the lease clear so freshly orphaned rows are fixed in the same pass")
	require.Equal(t, int64(600), tasks.reclaimAge)
	require.Equal(t, 1, proxies.calls)
	require.Equal(t, int64(1800), proxies.maxAge)
}

func TestSweepContinuesPastErrors(t *testing.T) {
	t.Parallel()

	tasks := &fakeTaskJanitor{reclaimErr: errors.New("ledger down")}
	proxies := &fakeProxyJanitor{}
	r, err := New(tasks, proxies, Config{}, zap.NewNop())
	require.NoError(t, err)

	r.Sweep(context.Background())
	require.Contains(t, tasks.order, "repair", "repair still runs after a reclaim error")
	require.Equal(t, 1, proxies.calls)
}

func TestRecyclePassesCooldown(t *testing.T) {
	t.Parallel()

	tasks := &fakeTaskJanitor{}
	r, err := New(tasks, &fakeProxyJanitor{}, Config{RecycleCooldown: 2 * time.Minute}, zap.NewNop())
	require.NoError(t, err)

	r.Recycle(context.Background())
	require.Equal(t, int64(120), tasks.recycleAge)
}

func TestSweepReturnsCrashedWorkersTaskToBacklog(t *testing.T) {
	t.Parallel()

	ledger := newMemoryLedger(time.Unix(1700000000, 0).UTC())
	r, err := New(ledger, &fakeProxyJanitor{}, Config{TaskLeaseMaxAge: 10 * time.Minute}, zap.NewNop())
	require.NoError(t, err)

	id := ledger.addTask()
	require.Equal(t, id, ledger.lease("worker-1"), "fresh task is leasable")
	require.Zero(t, ledger.lease("worker-2"), "a held task cannot be leased twice")

	// worker-1 dies without releasing; the lease just sits there.
	ledger.advance(5 * time.Minute)
	r.Sweep(context.Background())
	require.Zero(t, ledger.lease("worker-2"), "a lease under the age threshold survives the sweep")
	require.Equal(t, "worker-1", ledger.task(id).lockedBy)

	ledger.advance(6 * time.Minute)
	r.Sweep(context.Background())

	task := ledger.task(id)
	require.Equal(t, "pending", task.status, "one sweep both clears the lease and repairs the status")
	require.Empty(t, task.lockedBy)

	require.Equal(t, id, ledger.lease("worker-2"), "reclaimed task is leasable by another worker")
	require.True(t, ledger.complete(id, "worker-2"))
}

func TestRecycleReturnsRestedCompletedTask(t *testing.T) {
	t.Parallel()

	ledger := newMemoryLedger(time.Unix(1700000000, 0).UTC())
	r, err := New(ledger, &fakeProxyJanitor{}, Config{RecycleCooldown: 2 * time.Minute}, zap.NewNop())
	require.NoError(t, err)

	id := ledger.addTask()
	require.Equal(t, id, ledger.lease("worker-1"))
	require.True(t, ledger.complete(id, "worker-1"))

	ledger.advance(time.Minute)
	r.Recycle(context.Background())
	require.Equal(t, "completed", ledger.task(id).status, "cooldown not over yet")

	ledger.advance(2 * time.Minute)
	r.Recycle(context.Background())
	require.Equal(t, "pending", ledger.task(id).status)
	require.Equal(t, id, ledger.lease("worker-1"), "recycled task goes around again")
}

func TestRunSweepsUntilCanceled(t *testing.T) {
	t.Parallel()

	tasks := &fakeTaskJanitor{}
	proxies := &fakeProxyJanitor{}
	r, err := New(tasks, proxies, Config{
		SweepInterval:   10 * time.Millisecond,
		RecycleInterval: 10 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		proxies.mu.Lock()
		defer proxies.mu.Unlock()
		return proxies.calls >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reclaimer did not stop")
	}
}
