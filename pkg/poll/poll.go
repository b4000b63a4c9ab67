// Package poll provides a cancellable repeat-until-predicate primitive.
//
// A Poller runs a tick function at a fixed interval and evaluates a stop
// predicate at a faster cadence, so the loop halts shortly after the
// condition becomes true rather than waiting out a full tick interval. Tick
// failures are not retried forever: consecutive errors push the next tick out
// on an exponential backoff, and after a bounded number of consecutive
// failures the poller gives up.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default values applied by Config.withDefaults.
const (
	DefaultInterval      = 5 * time.Second
	DefaultCheckInterval = time.Second
	DefaultMaxFailures   = 3
	DefaultMaxBackoff    = 30 * time.Second
)

// Config controls tick cadence and failure policy for a Poller.
type Config struct {
	// Interval between consecutive ticks. Defaults to 5s.
	Interval time.Duration

	// CheckInterval is the cadence at which the stop predicate is evaluated.
	// It is typically faster than Interval to minimize overshoot once the
	// stop condition holds. Defaults to 1s.
	CheckInterval time.Duration

	// MaxFailures is the number of consecutive tick errors tolerated before
	// the poller gives up. Defaults to 3.
	MaxFailures int

	// MaxBackoff caps the delay inserted before the next tick after a failed
	// one. Defaults to 30s.
	MaxBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	return c
}

// Poller is a single background polling loop. It stops itself when the stop
// predicate reports true, when the context is cancelled, when Stop is called,
// or after MaxFailures consecutive tick errors.
type Poller struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Start launches a polling loop in its own goroutine.
//
// tick runs at cfg.Interval. shouldStop is evaluated at cfg.CheckInterval and
// immediately before each tick; it must be safe to call from the polling
// goroutine. onGiveUp, when non-nil, receives the last tick error once
// cfg.MaxFailures consecutive ticks have failed.
func Start(
	ctx context.Context,
	cfg Config,
	tick func(context.Context) error,
	shouldStop func() bool,
	onGiveUp func(error),
) *Poller {
	cfg = cfg.withDefaults()
	p := &Poller{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.loop(ctx, cfg, tick, shouldStop, onGiveUp)
	return p
}

// Stop cancels the poller. It is safe to call multiple times and after the
// poller has already stopped on its own. Stop does not wait for an in-flight
// tick; use Done for that.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Done is closed once the polling goroutine has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) loop(
	ctx context.Context,
	cfg Config,
	tick func(context.Context) error,
	shouldStop func() bool,
	onGiveUp func(error),
) {
	defer close(p.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.Interval
	bo.MaxInterval = cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	check := time.NewTicker(cfg.CheckInterval)
	defer check.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-check.C:
			if shouldStop() {
				return
			}
		case <-ticker.C:
			if shouldStop() {
				return
			}
			if err := tick(ctx); err != nil {
				failures++
				if failures >= cfg.MaxFailures {
					if onGiveUp != nil {
						onGiveUp(err)
					}
					return
				}
				ticker.Reset(bo.NextBackOff())
				continue
			}
			failures = 0
			bo.Reset()
			ticker.Reset(cfg.Interval)
		}
	}
}
