package main

import (
	"context"
	"fmt"
	"iter"
	"log"
	"maps"
	"slices"
	"time"

	"github.com/ryansname/agate2mqtt/src/timing"
)

// Snapshot is what one successful cycle published
type Snapshot struct {
	Time   time.Time
	Models []uint16          // every model ID the scan found
	Values map[string]string // topic -> payload
}

// Poller runs the read -> flatten -> publish cycle
type Poller struct {
	read       func(ctx context.Context) (Registry, error)
	publish    func(ctx context.Context, pairs iter.Seq[Pair]) error
	sleep      time.Duration
	errorSleep time.Duration
	wait       func(ctx context.Context, d time.Duration) bool
	snapshots  chan<- Snapshot // optional, never blocks the cycle
	durations  *timing.RollingMinMax
}

// NewPoller wires the device reader and publisher from cfg
func NewPoller(cfg Config, publisher *Publisher, snapshots chan<- Snapshot) *Poller {
	return &Poller{
		read: func(ctx context.Context) (Registry, error) {
			return readModels(ctx, cfg.Device)
		},
		publish:    publisher.PublishAll,
		sleep:      cfg.Sleep,
		errorSleep: cfg.ErrorSleep,
		wait:       sleepContext,
		snapshots:  snapshots,
		durations:  timing.NewRollingMinMax(),
	}
}

// sleepContext sleeps for d, returning false if ctx was cancelled first
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// runCycle performs one full poll. Every stage's error is returned as-is;
// a panic in any stage is returned as an error too, so it gets the error sleep.
func (p *Poller) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()

	reg, err := p.read(ctx)
	if err != nil {
		return err
	}

	pairs := selectAndFlatten(reg, IncludeModels, ExcludeKeys)
	if err := p.publish(ctx, pairs); err != nil {
		return err
	}

	p.sendSnapshot(reg, pairs)
	return nil
}

// sendSnapshot hands the cycle's values to the console, dropping them if it is busy
func (p *Poller) sendSnapshot(reg Registry, pairs iter.Seq[Pair]) {
	if p.snapshots == nil {
		return
	}

	snap := Snapshot{
		Time:   time.Now(),
		Models: slices.Sorted(maps.Keys(reg)),
		Values: make(map[string]string),
	}
	for pair := range pairs {
		snap.Values[pair.Topic] = pair.Payload()
	}

	select {
	case p.snapshots <- snap:
	default:
	}
}

// pollWorker runs cycles until ctx is cancelled. Failures never stop the
// loop; they switch the next sleep to the error interval.
func pollWorker(ctx context.Context, p *Poller) {
	log.Println("Poll worker started")

	for ctx.Err() == nil {
		log.Println("=== Poll start ===")
		start := time.Now()
		delay := p.sleep

		if err := p.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Printf("*** ERROR while polling *** %s: %v\n", errorKind(err), err)
			log.Printf("Sleeping for %v before retry\n", p.errorSleep)
			delay = p.errorSleep
		} else {
			elapsed := time.Since(start)
			p.durations.Observe(elapsed)
			log.Printf("Poll completed in %v (1h min %v, max %v), sleeping %v\n",
				elapsed.Round(time.Millisecond),
				p.durations.Min().Round(time.Millisecond),
				p.durations.Max().Round(time.Millisecond),
				p.sleep)
		}

		if !p.wait(ctx, delay) {
			break
		}
	}

	log.Println("Poll worker stopped")
}
