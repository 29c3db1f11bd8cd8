package monitor

import (
	"context"
	"time"
)

// TaskBacklog is the view over the ledger restricted to task resources.
// Mutations verify lease ownership and return ErrLeaseConflict when the
// caller no longer holds the row.
type TaskBacklog interface {
	// LeaseNext leases one pending task of an enabled group, preferring the
	// lowest success count then the oldest creation time. Returns (nil, nil)
	// when nothing is eligible.
	LeaseNext(ctx context.Context, holder string) (*Task, error)
	// Complete marks the task completed, resets attempts, bumps the success
	// counter, and clears the lease. A deferred recycling sweep returns it
	// to pending after a cooldown.
	Complete(ctx context.Context, taskID int64, holder string) error
	// Retry increments attempts and returns the task to pending, or marks it
	// failed once the attempt ceiling is reached.
	Retry(ctx context.Context, taskID int64, holder string) error
	// RetryNoCount returns the task to pending without touching attempts.
	// Used for proxy-class faults and pool-exhaustion backpressure.
	RetryNoCount(ctx context.Context, taskID int64, holder string) error
	// Fail is Retry forced past the ceiling.
	Fail(ctx context.Context, taskID int64, holder string) error
	// Release clears the lease and returns the task to pending. Idempotent:
	// releasing a task the caller does not hold is a no-op.
	Release(ctx context.Context, taskID int64, holder string) error
}

// ProxyPool is the view over the ledger restricted to proxy resources.
type ProxyPool interface {
	// LeaseFree leases any non-banned, unleased proxy. Returns (nil, nil)
	// when the pool is exhausted; callers treat that as backpressure.
	LeaseFree(ctx context.Context, holder string) (*Proxy, error)
	// Ban marks the proxy banned permanently and clears any lease.
	Ban(ctx context.Context, proxyID int64) error
	// Renew refreshes the timestamp on the holder's lease. Workers call it
	// at task boundaries while a session persists; without it a long-held
	// lease ages past the reclaim threshold and gets freed under a live
	// session. Idempotent.
	Renew(ctx context.Context, holder string) error
	// Release clears whatever lease the holder has, without banning.
	// Idempotent.
	Release(ctx context.Context, holder string) error
}

// SuppressionStore holds the append-only suppression sets and the item
// archive.
type SuppressionStore interface {
	// FilterBlocked returns the listings whose seller and item identifiers
	// pass the blocklist sets, using one batched membership check for the
	// whole candidate list.
	FilterBlocked(ctx context.Context, listings []Listing, scope BlocklistScope, group string) ([]Listing, error)
	SuppressGlobal(ctx context.Context, itemID string) error
	SuppressLocal(ctx context.Context, itemID, group string) error
	// Archive upserts the processed item, keyed by item identifier.
	Archive(ctx context.Context, group string, listing Listing) error
}

// PageHandle is the view over one navigated page that the classifier,
// challenge resolver, and extractor consume.
type PageHandle interface {
	URL() string
	StatusCode() int
	// HTML returns the current document markup. For live sessions this
	// reflects the DOM after any challenge interaction.
	HTML(ctx context.Context) (string, error)
}

// Session is one live navigation context bound to a proxy.
type Session interface {
	Navigate(ctx context.Context, url string) (PageHandle, error)
	Close()
}

// SessionFactory builds sessions; the worker restarts sessions on proxy
// swaps and fatal collaborator errors.
type SessionFactory interface {
	New(ctx context.Context, proxy *Proxy) (Session, error)
}

// Classifier translates a page into a canonical outcome tag. It must run
// after every navigation.
type Classifier interface {
	Classify(ctx context.Context, page PageHandle) (Outcome, error)
}

// ChallengeResolver attempts to clear a CAPTCHA or interstitial on the page.
type ChallengeResolver interface {
	Resolve(ctx context.Context, page PageHandle, maxAttempts int) (bool, error)
}

// Extractor pulls structured listings out of a content-ready page.
type Extractor interface {
	Extract(ctx context.Context, page PageHandle, targetURL string) ([]Listing, Outcome, error)
}

// Notifier delivers one listing to one destination. An error means the
// listing was not confirmed delivered and must not be suppressed.
type Notifier interface {
	Deliver(ctx context.Context, destination string, listing Listing) error
}

// SnapshotStore archives raw page markup. Optional; a nil store disables
// snapshots.
type SnapshotStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
