// Package monitor defines core types shared across the listing-watch subsystems.
package monitor

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the lifecycle state of a fetch task.
type TaskStatus string

// Task status values persisted in the ledger.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// BlocklistScope selects which suppression set gates a group's candidates.
type BlocklistScope string

// Blocklist scope values persisted on group rows.
const (
	ScopeGlobal BlocklistScope = "global"
	ScopeLocal  BlocklistScope = "local"
)

// Task is one recurring catalog fetch target, joined with the owning group's
// gate settings when returned from LeaseNext.
type Task struct {
	ID           int64
	GroupName    string
	URL          string
	SearchQuery  string
	Status       TaskStatus
	Attempts     int
	SuccessCount int
	CreatedAt    time.Time

	Scope        BlocklistScope
	Destinations []string
	MinPrice     *int64
	MaxPrice     *int64
}

// Proxy is a network egress credential leased exclusively by one worker.
type Proxy struct {
	ID     int64
	URL    string // descriptor: host:port:user:pass
	Banned bool
}

// Endpoint splits the descriptor into a proxy server URL and credentials.
func (p Proxy) Endpoint() (server, username, password string, err error) {
	parts := strings.Split(p.URL, ":")
	if len(parts) != 4 {
		return "", "", "", fmt.Errorf("invalid proxy descriptor %q: want host:port:user:pass", p.URL)
	}
	return "http://" + parts[0] + ":" + parts[1], parts[2], parts[3], nil
}

// Group is the logical owner of a set of tasks. Read-only to the core.
type Group struct {
	Name         string
	Enabled      bool
	Scope        BlocklistScope
	Destinations []string
	MinPrice     *int64
	MaxPrice     *int64
	Category     string
}

// Listing is one candidate result surfaced by the extractor for a task.
// It is ephemeral; its only durable traces are the archive row and the
// suppression-set entries written after confirmed delivery.
type Listing struct {
	ItemID     string
	Title      string
	Price      string
	PriceValue *int64
	Currency   string
	SellerName string
	Location   string
	Published  string
	URL        string
}
