package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	started atomic.Int32
	stopped atomic.Int32
}

func (r *countingRunner) Run(ctx context.Context) {
	r.started.Add(1)
	<-ctx.Done()
	r.stopped.Add(1)
}

func TestDispatcherRunsAllAndWaits(t *testing.T) {
	t.Parallel()

	a := &countingRunner{}
	b := &countingRunner{}
	d := New(a)
	d.Add(b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return a.started.Load() == 1 && b.started.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not drain")
	}
	require.Equal(t, int32(1), a.stopped.Load())
	require.Equal(t, int32(1), b.stopped.Load())
}

func TestDispatcherEmptyStopsImmediately(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	New().Run(ctx)
}
