// Package dispatcher manages the fan-out of long-running loops: the worker
// pool plus the background sweeps.
package dispatcher

import (
	"context"
	"sync"
)

// Runner is any long-running loop that blocks until its context finishes.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher runs a set of loops and waits for all of them on shutdown.
type Dispatcher struct {
	runners []Runner
}

// New creates a Dispatcher.
func New(runners ...Runner) *Dispatcher {
	return &Dispatcher{runners: runners}
}

// Add appends more loops before Run is called.
func (d *Dispatcher) Add(runners ...Runner) {
	d.runners = append(d.runners, runners...)
}

// Run starts every loop and blocks until the context finishes and every loop
// has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, r := range d.runners {
		wg.Add(1)
		go func(runner Runner) {
			defer wg.Done()
			runner.Run(ctx)
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
}
