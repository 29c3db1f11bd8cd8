// Package worker implements the task execution loop: lease a task, fetch it
// through a leased proxy, classify, extract, and hand survivors to the gate.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/listwatch/listwatch/internal/metrics"
	"github.com/listwatch/listwatch/internal/monitor"
)

// Deliverer is the filter-and-deliver stage the worker hands listings to.
type Deliverer interface {
	Process(ctx context.Context, task *monitor.Task, listings []monitor.Listing) (int, error)
}

// Config controls Worker behavior.
type Config struct {
	MaxTaskAttempts        int
	ChallengeMaxAttempts   int
	IdleDelay              time.Duration
	BackpressureDelay      time.Duration
	MaxConsecutiveFailures int
	// MaxStateHops bounds classify/resolve/extract transitions per task so a
	// page that keeps flapping between states cannot wedge the worker.
	MaxStateHops int
}

func (c *Config) applyDefaults() {
	if c.MaxTaskAttempts <= 0 {
		c.MaxTaskAttempts = 3
	}
	if c.ChallengeMaxAttempts <= 0 {
		c.ChallengeMaxAttempts = 3
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = 5 * time.Second
	}
	if c.BackpressureDelay <= 0 {
		c.BackpressureDelay = 15 * time.Second
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.MaxStateHops <= 0 {
		c.MaxStateHops = 8
	}
}

// Worker leases tasks from the ledger and runs them to a terminal store
// mutation. One Worker owns at most one proxy lease and one session at a
// time; the session persists across tasks until something poisons it.
type Worker struct {
	id         string
	tasks      monitor.TaskBacklog
	proxies    monitor.ProxyPool
	sessions   monitor.SessionFactory
	classifier monitor.Classifier
	resolver   monitor.ChallengeResolver
	extractor  monitor.Extractor
	deliverer  Deliverer
	snapshots  monitor.SnapshotStore
	clock      monitor.Clock
	cfg        Config
	logger     *zap.Logger

	session    monitor.Session
	proxy      *monitor.Proxy
	failStreak int
}

// New constructs a Worker. The snapshot store may be nil.
func New(
	id string,
	tasks monitor.TaskBacklog,
	proxies monitor.ProxyPool,
	sessions monitor.SessionFactory,
	classifier monitor.Classifier,
	resolver monitor.ChallengeResolver,
	extractor monitor.Extractor,
	deliverer Deliverer,
	snapshots monitor.SnapshotStore,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Worker, error) {
	if id == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if tasks == nil || proxies == nil || sessions == nil {
		return nil, fmt.Errorf("task backlog, proxy pool, and session factory are required")
	}
	if classifier == nil || resolver == nil || extractor == nil || deliverer == nil {
		return nil, fmt.Errorf("classifier, resolver, extractor, and deliverer are required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Worker{
		id:         id,
		tasks:      tasks,
		proxies:    proxies,
		sessions:   sessions,
		classifier: classifier,
		resolver:   resolver,
		extractor:  extractor,
		deliverer:  deliverer,
		snapshots:  snapshots,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.With(zap.String("worker_id", id)),
	}, nil
}

// Run blocks, leasing and processing tasks until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	defer w.teardown()
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := w.tasks.LeaseNext(ctx, w.id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("lease task failed", zap.Error(err))
			w.sleep(ctx, w.cfg.IdleDelay)
			continue
		}
		if task == nil {
			w.sleep(ctx, w.cfg.IdleDelay)
			continue
		}
		w.processTask(ctx, task)
	}
}

func (w *Worker) processTask(ctx context.Context, task *monitor.Task) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := w.clock.Now()
	label := w.runTask(ctx, task)
	metrics.ObserveTask(label, w.clock.Now().Sub(start))

	w.logger.Info("task finished",
		zap.Int64("task_id", task.ID),
		zap.String("group", task.GroupName),
		zap.String("result", label))

	if w.failStreak >= w.cfg.MaxConsecutiveFailures {
		w.logger.Warn("failure streak threshold reached, restarting session",
			zap.Int("streak", w.failStreak))
		w.resetSession(ctx, false)
		w.failStreak = 0
	}
}

// runTask drives one leased task to exactly one terminal ledger mutation and
// returns the label recorded in metrics.
func (w *Worker) runTask(ctx context.Context, task *monitor.Task) string {
	if label, ok := w.ensureSession(ctx, task); !ok {
		return label
	}

	page, err := w.session.Navigate(ctx, task.URL)
	if err != nil {
		// A failed navigation says nothing about the page, so the browser is
		// suspect: rebuild the session and charge the task one attempt.
		w.logger.Warn("navigation failed",
			zap.Int64("task_id", task.ID),
			zap.String("url", task.URL),
			zap.Error(err))
		w.resetSession(ctx, false)
		return w.settle(ctx, task, monitor.ActionRetryTask, nil)
	}

	outcome := w.classify(ctx, page)
	var listings []monitor.Listing

	for hop := 0; hop < w.cfg.MaxStateHops; hop++ {
		metrics.ObserveOutcome(string(outcome))
		action := monitor.Decide(outcome, task.Attempts, w.cfg.MaxTaskAttempts)

		switch action {
		case monitor.ActionResolveChallenge:
			solved, rerr := w.resolver.Resolve(ctx, page, w.cfg.ChallengeMaxAttempts)
			if rerr != nil {
				w.logger.Warn("challenge resolution errored",
					zap.Int64("task_id", task.ID), zap.Error(rerr))
				w.resetSession(ctx, false)
				return w.settle(ctx, task, monitor.ActionRetryTask, page)
			}
			if !solved {
				// The proxy is burned for this target; put the task back
				// without charging it.
				w.resetSession(ctx, false)
				return w.settleNoCount(ctx, task, monitor.ActionSwapProxy)
			}
			outcome = w.classify(ctx, page)

		case monitor.ActionSwapProxy:
			w.resetSession(ctx, false)
			return w.settleNoCount(ctx, task, monitor.ActionSwapProxy)

		case monitor.ActionBanProxy:
			w.resetSession(ctx, true)
			return w.settleNoCount(ctx, task, monitor.ActionBanProxy)

		case monitor.ActionExtract:
			var exErr error
			listings, outcome, exErr = w.extractor.Extract(ctx, page, task.URL)
			if exErr != nil {
				w.logger.Warn("extraction errored",
					zap.Int64("task_id", task.ID), zap.Error(exErr))
				outcome = monitor.OutcomeIndeterminate
			}

		case monitor.ActionDeliver:
			delivered, derr := w.deliverer.Process(ctx, task, listings)
			metrics.ObserveDeliveries(task.GroupName, delivered)
			if derr != nil {
				// A partially delivered batch must come back in full; failing
				// the task keeps the undelivered remainder unsuppressed.
				w.logger.Warn("delivery stage failed",
					zap.Int64("task_id", task.ID),
					zap.Int("delivered", delivered),
					zap.Error(derr))
				return w.settle(ctx, task, monitor.ActionFailTask, nil)
			}
			return w.settle(ctx, task, monitor.ActionCompleteTask, nil)

		case monitor.ActionCompleteTask:
			return w.settle(ctx, task, monitor.ActionCompleteTask, nil)

		case monitor.ActionRetryTask:
			return w.settle(ctx, task, monitor.ActionRetryTask, page)

		case monitor.ActionFailTask:
			return w.settle(ctx, task, monitor.ActionFailTask, page)
		}
	}

	w.logger.Warn("state hop budget exhausted",
		zap.Int64("task_id", task.ID),
		zap.String("last_outcome", string(outcome)))
	return w.settle(ctx, task, monitor.ActionRetryTask, page)
}

func (w *Worker) classify(ctx context.Context, page monitor.PageHandle) monitor.Outcome {
	outcome, err := w.classifier.Classify(ctx, page)
	if err != nil {
		w.logger.Warn("classification errored", zap.Error(err))
		return monitor.OutcomeIndeterminate
	}
	return outcome
}

// settle applies the terminal mutation for the task. A lease conflict means a
// reclaimer raced us; the attempt is abandoned without further writes.
func (w *Worker) settle(ctx context.Context, task *monitor.Task, action monitor.Action, page monitor.PageHandle) string {
	var err error
	switch action {
	case monitor.ActionCompleteTask:
		err = w.tasks.Complete(ctx, task.ID, w.id)
		if err == nil {
			w.failStreak = 0
		}
	case monitor.ActionRetryTask:
		w.snapshotPage(ctx, task, page)
		err = w.tasks.Retry(ctx, task.ID, w.id)
		if err == nil {
			w.failStreak++
		}
	case monitor.ActionFailTask:
		w.snapshotPage(ctx, task, page)
		err = w.tasks.Fail(ctx, task.ID, w.id)
		if err == nil {
			w.failStreak++
		}
	default:
		err = fmt.Errorf("unexpected terminal action %s", action)
	}

	if errors.Is(err, monitor.ErrLeaseConflict) {
		metrics.ObserveLeaseConflict()
		w.logger.Warn("lease lost, abandoning task",
			zap.Int64("task_id", task.ID),
			zap.String("action", action.String()))
		return "abandoned"
	}
	if err != nil {
		w.logger.Error("terminal mutation failed",
			zap.Int64("task_id", task.ID),
			zap.String("action", action.String()),
			zap.Error(err))
		return "store_error"
	}
	return action.String()
}

// settleNoCount returns the task to pending without charging an attempt,
// used when the proxy was at fault rather than the task.
func (w *Worker) settleNoCount(ctx context.Context, task *monitor.Task, action monitor.Action) string {
	err := w.tasks.RetryNoCount(ctx, task.ID, w.id)
	if errors.Is(err, monitor.ErrLeaseConflict) {
		metrics.ObserveLeaseConflict()
		w.logger.Warn("lease lost, abandoning task", zap.Int64("task_id", task.ID))
		return "abandoned"
	}
	if err != nil {
		w.logger.Error("requeue failed", zap.Int64("task_id", task.ID), zap.Error(err))
		return "store_error"
	}
	return action.String()
}

// ensureSession leases a proxy and opens a session when the worker has none.
// Pool exhaustion is backpressure: the task goes back uncharged and the
// worker waits before leasing again.
func (w *Worker) ensureSession(ctx context.Context, task *monitor.Task) (string, bool) {
	if w.session != nil {
		// The proxy under a persistent session stays leased across tasks;
		// refresh the lease so the reclaimer does not free it mid-use.
		if err := w.proxies.Renew(ctx, w.id); err != nil {
			w.logger.Warn("renew proxy lease failed", zap.Error(err))
		}
		return "", true
	}

	proxy, err := w.proxies.LeaseFree(ctx, w.id)
	if err != nil {
		w.logger.Error("lease proxy failed", zap.Error(err))
		w.settleNoCount(ctx, task, monitor.ActionSwapProxy)
		w.sleep(ctx, w.cfg.BackpressureDelay)
		return "backpressure", false
	}
	if proxy == nil {
		w.logger.Info("proxy pool exhausted, backing off",
			zap.Duration("delay", w.cfg.BackpressureDelay))
		w.settleNoCount(ctx, task, monitor.ActionSwapProxy)
		w.sleep(ctx, w.cfg.BackpressureDelay)
		return "backpressure", false
	}

	sess, err := w.sessions.New(ctx, proxy)
	if err != nil {
		w.logger.Error("session start failed",
			zap.Int64("proxy_id", proxy.ID), zap.Error(err))
		if relErr := w.proxies.Release(ctx, w.id); relErr != nil {
			w.logger.Error("release proxy failed", zap.Error(relErr))
		}
		w.settleNoCount(ctx, task, monitor.ActionSwapProxy)
		return "session_error", false
	}

	w.proxy = proxy
	w.session = sess
	return "", true
}

// resetSession tears the session down and releases or bans the proxy. The
// next task leases fresh resources.
func (w *Worker) resetSession(ctx context.Context, ban bool) {
	if w.session != nil {
		w.session.Close()
		w.session = nil
	}
	if w.proxy == nil {
		return
	}
	if ban {
		if err := w.proxies.Ban(ctx, w.proxy.ID); err != nil {
			w.logger.Error("ban proxy failed",
				zap.Int64("proxy_id", w.proxy.ID), zap.Error(err))
		} else {
			metrics.ObserveProxyBan()
			w.logger.Info("proxy banned", zap.Int64("proxy_id", w.proxy.ID))
		}
	} else {
		if err := w.proxies.Release(ctx, w.id); err != nil {
			w.logger.Error("release proxy failed", zap.Error(err))
		}
	}
	w.proxy = nil
}

func (w *Worker) snapshotPage(ctx context.Context, task *monitor.Task, page monitor.PageHandle) {
	if w.snapshots == nil || page == nil {
		return
	}
	html, err := page.HTML(ctx)
	if err != nil {
		w.logger.Debug("snapshot skipped, markup unavailable", zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/task-%d-%d.html", task.GroupName, task.ID, w.clock.Now().UnixMilli())
	uri, err := w.snapshots.PutObject(ctx, path, "text/html; charset=utf-8", []byte(html))
	if err != nil {
		w.logger.Debug("snapshot write failed", zap.Error(err))
		return
	}
	w.logger.Debug("snapshot stored", zap.String("uri", uri))
}

// teardown releases whatever the worker still holds. Task leases are left to
// the reclaimer; in-flight tasks settle through context cancellation paths.
func (w *Worker) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.resetSession(ctx, false)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
