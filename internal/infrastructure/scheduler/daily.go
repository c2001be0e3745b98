// Package scheduler fires the pipeline at fixed local wall-clock times.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"billwatch/internal/ports"
)

// DailyScheduler triggers a job at two configured HH:MM times each day.
type DailyScheduler struct {
	times []time.Time // wall-clock anchors, only hour/minute used
	loc   *time.Location

	mu   sync.Mutex
	stop chan struct{}
}

var _ ports.Scheduler = (*DailyScheduler)(nil)

// New parses the configured HH:MM strings in the given location.
func New(loc *time.Location, at ...string) (*DailyScheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	times := make([]time.Time, 0, len(at))
	for _, spec := range at {
		parsed, err := time.ParseInLocation("15:04", spec, loc)
		if err != nil {
			return nil, fmt.Errorf("parse run time %q: %w", spec, err)
		}
		times = append(times, parsed)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("no run times configured")
	}
	return &DailyScheduler{times: times, loc: loc}, nil
}

// Next computes the earliest configured trigger strictly after now.
func (d *DailyScheduler) Next(now time.Time) time.Time {
	now = now.In(d.loc)
	var best time.Time
	for _, anchor := range d.times {
		candidate := time.Date(now.Year(), now.Month(), now.Day(),
			anchor.Hour(), anchor.Minute(), 0, 0, d.loc)
		if !candidate.After(now) {
			candidate = candidate.Add(24 * time.Hour)
		}
		if best.IsZero() || candidate.Before(best) {
			best = candidate
		}
	}
	return best
}

// Start launches the trigger loop. The job receives the trigger time. The
// loop goroutine only ever sees the stop channel captured at start, so a
// later Stop cannot leave it selecting on nil.
func (d *DailyScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	d.mu.Lock()
	if d.stop != nil {
		d.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	d.stop = stop
	d.mu.Unlock()

	go func() {
		for {
			next := d.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				select {
				case <-stop:
					return
				case <-ctx.Done():
					return
				default:
				}
				job(next)
			case <-ctx.Done():
				timer.Stop()
				return
			case <-stop:
				timer.Stop()
				return
			}
		}
	}()

	return nil
}

// Stop halts the trigger loop. Safe to call more than once; the scheduler
// can be started again afterwards.
func (d *DailyScheduler) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == nil {
		return nil
	}
	close(d.stop)
	d.stop = nil
	return nil
}
