package route

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DrC0ns0le/clickctl/internal/metrics"
	"github.com/DrC0ns0le/clickctl/pkg/logging"
)

var ErrInvalidSchedule = fmt.Errorf("invalid route flap schedule")

// Flap alternates the next hop of Prefix on Router between A and B.
type Flap struct {
	Prefix   string `json:"prefix"`
	Router   string `json:"router"`
	NextHopA string `json:"next_hop_a"`
	NextHopB string `json:"next_hop_b"`
}

type Schedule struct {
	Flaps    []Flap
	Period   time.Duration
	Duration time.Duration
	Started  time.Time
}

// ApplyFunc installs nextHop for the flap's prefix.
type ApplyFunc func(f Flap, nextHop string) error

// Flapper runs at most one flap task. Starting while active replaces the
// running task.
type Flapper struct {
	apply  ApplyFunc
	logger logging.Logger
	active atomic.Bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	schedule Schedule
}

func NewFlapper(apply ApplyFunc, logger logging.Logger) *Flapper {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Flapper{
		apply:  apply,
		logger: logger.With("component", "route-flap"),
	}
}

// Start begins toggling every flap each period. A positive duration stops
// the task on its own once elapsed.
func (f *Flapper) Start(flaps []Flap, period, duration time.Duration) error {
	if len(flaps) == 0 || period <= 0 {
		return fmt.Errorf("%w: %d flaps every %s", ErrInvalidSchedule, len(flaps), period)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopLocked() {
		f.logger.Infof("restarting route flaps")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.cancel = cancel
	f.done = done
	f.schedule = Schedule{
		Flaps:    append([]Flap(nil), flaps...),
		Period:   period,
		Duration: duration,
		Started:  time.Now(),
	}
	f.active.Store(true)

	go f.run(ctx, done, f.schedule)
	f.logger.Infof("flapping %d routes every %s", len(flaps), period)
	return nil
}

// Stop cancels the running task and waits for it to exit. It reports whether
// a task was active.
func (f *Flapper) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopLocked()
}

func (f *Flapper) stopLocked() bool {
	if f.cancel == nil {
		return false
	}
	wasActive := f.active.Load()
	f.cancel()
	<-f.done
	f.cancel = nil
	f.done = nil
	return wasActive
}

func (f *Flapper) Active() bool {
	return f.active.Load()
}

// Schedule returns the current schedule while a task is active.
func (f *Flapper) Schedule() (Schedule, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active.Load() {
		return Schedule{}, false
	}
	return f.schedule, true
}

func (f *Flapper) run(ctx context.Context, done chan struct{}, s Schedule) {
	defer close(done)
	defer f.active.Store(false)

	var deadline <-chan time.Time
	if s.Duration > 0 {
		timer := time.NewTimer(s.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	for phase := 0; ; phase++ {
		for _, fl := range s.Flaps {
			if ctx.Err() != nil {
				return
			}
			nextHop := fl.NextHopA
			if phase%2 == 1 {
				nextHop = fl.NextHopB
			}
			if err := f.apply(fl, nextHop); err != nil {
				f.logger.Errorf("failed to flap %s on %s to %s: %v", fl.Prefix, fl.Router, nextHop, err)
			}
		}
		metrics.RouteFlapToggles.Inc()

		sleep := time.NewTimer(s.Period)
		select {
		case <-ctx.Done():
			sleep.Stop()
			return
		case <-deadline:
			sleep.Stop()
			f.logger.Infof("route flap duration %s elapsed", s.Duration)
			return
		case <-sleep.C:
		}
	}
}
