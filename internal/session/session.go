// Package session provides navigation sessions bound to a leased proxy.
// Browser sessions render JavaScript through headless Chrome; static
// sessions do plain HTTP for markets that serve full markup.
package session

import (
	"fmt"
	"time"

	"github.com/listwatch/listwatch/internal/monitor"
)

// Session modes.
const (
	ModeBrowser = "browser"
	ModeStatic  = "static"
)

// Config controls session construction.
type Config struct {
	Mode              string
	UserAgent         string
	NavigationTimeout time.Duration
	Headless          bool
}

// NewFactory builds the session factory for the configured mode.
func NewFactory(cfg Config) (monitor.SessionFactory, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	switch cfg.Mode {
	case ModeBrowser, "":
		return &BrowserFactory{cfg: cfg}, nil
	case ModeStatic:
		return &StaticFactory{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("unknown session mode %q", cfg.Mode)
	}
}
