// Package reclaimer sweeps the ledger for resources held by dead workers and
// returns recurring tasks to the backlog.
package reclaimer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/listwatch/listwatch/internal/metrics"
)

// TaskJanitor is the slice of the task store the reclaimer uses.
type TaskJanitor interface {
	ReclaimExpired(ctx context.Context, maxAgeSeconds int64) (int64, error)
	RepairOrphaned(ctx context.Context) (int64, error)
	RecycleCompleted(ctx context.Context, cooldownSeconds int64) (int64, error)
}

// ProxyJanitor is the slice of the proxy store the reclaimer uses.
type ProxyJanitor interface {
	ReclaimExpired(ctx context.Context, maxAgeSeconds int64) (int64, error)
}

// Config controls sweep cadence and age thresholds.
type Config struct {
	// SweepInterval is how often stale leases are cleared and orphaned rows
	// repaired.
	SweepInterval time.Duration
	// RecycleInterval is how often completed tasks are checked for recycling.
	RecycleInterval time.Duration
	// TaskLeaseMaxAge and ProxyLeaseMaxAge bound how long a lease may sit
	// before it is presumed abandoned. Proxy leases live longer because one
	// proxy serves many tasks.
	TaskLeaseMaxAge  time.Duration
	ProxyLeaseMaxAge time.Duration
	// RecycleCooldown is how long a completed task rests before it becomes
	// pending again.
	RecycleCooldown time.Duration
}

func (c *Config) applyDefaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 30 * time.Second
	}
	if c.TaskLeaseMaxAge <= 0 {
		c.TaskLeaseMaxAge = 10 * time.Minute
	}
	if c.ProxyLeaseMaxAge <= 0 {
		c.ProxyLeaseMaxAge = 30 * time.Minute
	}
	if c.RecycleCooldown <= 0 {
		c.RecycleCooldown = 2 * time.Minute
	}
}

// Reclaimer runs the periodic ledger sweeps. Multiple instances are safe:
// every sweep is a single idempotent statement.
type Reclaimer struct {
	tasks   TaskJanitor
	proxies ProxyJanitor
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Reclaimer.
func New(tasks TaskJanitor, proxies ProxyJanitor, cfg Config, logger *zap.Logger) (*Reclaimer, error) {
	if tasks == nil || proxies == nil {
		return nil, fmt.Errorf("task and proxy janitors are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Reclaimer{tasks: tasks, proxies: proxies, cfg: cfg, logger: logger}, nil
}

// Run blocks, sweeping on both cadences until the context finishes.
func (r *Reclaimer) Run(ctx context.Context) {
	sweep := time.NewTicker(r.cfg.SweepInterval)
	defer sweep.Stop()
	recycle := time.NewTicker(r.cfg.RecycleInterval)
	defer recycle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			r.Sweep(ctx)
		case <-recycle.C:
			r.Recycle(ctx)
		}
	}
}

// Sweep clears stale leases and then repairs orphaned rows. Repair runs
// second so rows un-leased by this very sweep get their status fixed in the
// same pass.
func (r *Reclaimer) Sweep(ctx context.Context) {
	if n, err := r.tasks.ReclaimExpired(ctx, int64(r.cfg.TaskLeaseMaxAge.Seconds())); err != nil {
		r.logger.Error("reclaim task leases failed", zap.Error(err))
	} else if n > 0 {
		metrics.ObserveReclaimed("tasks", n)
		r.logger.Info("reclaimed stale task leases", zap.Int64("count", n))
	}

	if n, err := r.tasks.RepairOrphaned(ctx); err != nil {
		r.logger.Error("repair orphaned tasks failed", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("repaired orphaned tasks", zap.Int64("count", n))
	}

	if n, err := r.proxies.ReclaimExpired(ctx, int64(r.cfg.ProxyLeaseMaxAge.Seconds())); err != nil {
		r.logger.Error("reclaim proxy leases failed", zap.Error(err))
	} else if n > 0 {
		metrics.ObserveReclaimed("proxies", n)
		r.logger.Info("reclaimed stale proxy leases", zap.Int64("count", n))
	}
}

// Recycle returns rested completed tasks to pending.
func (r *Reclaimer) Recycle(ctx context.Context) {
	n, err := r.tasks.RecycleCompleted(ctx, int64(r.cfg.RecycleCooldown.Seconds()))
	if err != nil {
		r.logger.Error("recycle completed tasks failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Debug("recycled completed tasks", zap.Int64("count", n))
	}
}
