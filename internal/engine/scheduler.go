package engine

import "time"

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Scheduler creates one-shot timers. Callbacks run on the scheduler's own
// goroutine and must only enqueue work onto the engine loop.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// timerSlot holds at most one pending timer. Every arm or stop starts a new
// epoch, so a callback already queued from an earlier epoch does nothing.
type timerSlot struct {
	timer Timer
	epoch uint64
}

func (s *timerSlot) stop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.epoch++
}

// arm replaces any pending timer with one that queues fn after d.
func (s *timerSlot) arm(sched Scheduler, d time.Duration, enqueue func(func()), fn func()) {
	s.stop()
	epoch := s.epoch
	s.timer = sched.AfterFunc(d, func() {
		enqueue(func() {
			if s.epoch != epoch {
				return
			}
			s.timer = nil
			fn()
		})
	})
}
