package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kode4food/tollgate/pkg/log"
)

type (
	// Scheduler runs delayed tasks on a single goroutine. Tasks must return
	// quickly; long work belongs on its own goroutine
	Scheduler struct {
		now       Clock
		makeTimer TimerConstructor
		reqs      chan request
	}

	// TaskFunc is called when its run time arrives
	TaskFunc func() error

	requestOp uint8

	request struct {
		task *Task
		key  Key
		op   requestOp
	}
)

const (
	opSchedule requestOp = iota
	opCancel
	opCancelPrefix
)

const requestBuffer = 128

// New creates a scheduler using the provided clock and timer constructor
func New(now Clock, makeTimer TimerConstructor) *Scheduler {
	return &Scheduler{
		now:       now,
		makeTimer: makeTimer,
		reqs:      make(chan request, requestBuffer),
	}
}

// Schedule registers fn to run at the requested time, replacing any task
// already registered under key
func (s *Scheduler) Schedule(
	ctx context.Context, key Key, at time.Time, fn TaskFunc,
) {
	s.send(ctx, request{
		op:   opSchedule,
		task: &Task{Func: fn, At: at, Key: key},
	})
}

// Cancel removes the task registered under key
func (s *Scheduler) Cancel(ctx context.Context, key Key) {
	s.send(ctx, request{op: opCancel, key: key})
}

// CancelPrefix removes every task registered under the key prefix
func (s *Scheduler) CancelPrefix(ctx context.Context, prefix Key) {
	s.send(ctx, request{op: opCancelPrefix, key: prefix})
}

// Run processes requests and fires due tasks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	timer := s.makeTimer(0)
	var fire <-chan time.Time
	queue := NewQueue()

	rearm := func() {
		next := queue.Next()
		if next == nil {
			timer.Stop()
			fire = nil
			return
		}
		timer.Reset(max(next.At.Sub(s.now()), 0))
		fire = timer.Channel()
	}

	rearm()
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case req := <-s.reqs:
			switch req.op {
			case opSchedule:
				queue.Insert(req.task)
			case opCancel:
				queue.Remove(req.key)
			case opCancelPrefix:
				queue.RemovePrefix(req.key)
			}
			rearm()
		case <-fire:
			due := queue.PopDue(s.now())
			if len(due) == 0 {
				// the clock lags the timer; run the earliest task anyway
				if t := queue.Pop(); t != nil {
					due = append(due, t)
				}
			}
			for _, t := range due {
				if err := t.Func(); err != nil {
					slog.Error("Scheduled task failed",
						slog.String("task", t.Key.String()),
						log.Error(err))
				}
			}
			rearm()
		}
	}
}

func (s *Scheduler) send(ctx context.Context, req request) {
	select {
	case s.reqs <- req:
	case <-ctx.Done():
	}
}
