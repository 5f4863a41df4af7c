package clock

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/antithesishq/antithesis-sdk-go/assert"
)

// Action is the work a scheduled entry performs. It receives the actual
// fire time so callers can compute skew against the target instant.
type Action func(firedAt time.Time)

// Handle identifies one scheduled entry, returned by Schedule so the
// caller can Cancel it later.
type Handle uint64

// entry is one item in the scheduler's min-heap, ordered by Target.
type entry struct {
	handle Handle
	target time.Time
	action Action
	// index is maintained by container/heap for O(log n) removal.
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].target.Before(h[j].target) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler runs actions at their target wall-clock instant using a
// single worker that sleeps until the next deadline rather than polling.
// Actions whose deadline is already within the current tick cannot be
// cancelled; the scheduler makes no attempt to interrupt a fired action.
type Scheduler struct {
	clock  Clock
	logger *slog.Logger

	mu      sync.Mutex
	heap    entryHeap
	byID    map[Handle]*entry
	nextID  Handle
	wake    chan struct{}
	running bool
}

func NewScheduler(clock Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		clock:  clock,
		logger: logger,
		byID:   make(map[Handle]*entry),
		wake:   make(chan struct{}, 1),
	}
}

// Schedule arranges for action to run as soon after target as the OS
// allows. It is safe to call concurrently with Run.
func (s *Scheduler) Schedule(target time.Time, action Action) Handle {
	s.mu.Lock()
	s.nextID++
	e := &entry{handle: s.nextID, target: target, action: action}
	s.byID[e.handle] = e
	heap.Push(&s.heap, e)
	s.mu.Unlock()

	s.poke()
	return e.handle
}

// Cancel removes a pending entry. It returns false if the handle is
// unknown, already fired, or already within the current tick.
func (s *Scheduler) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[h]
	if !ok {
		return false
	}
	delete(s.byID, h)
	heap.Remove(&s.heap, e.index)
	return true
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the scheduler's single worker loop until ctx is cancelled.
// It is intended to run in its own goroutine for the lifetime of the
// daemon.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var timer <-chan time.Time
		if len(s.heap) > 0 {
			delay := s.heap[0].target.Sub(s.clock.Now())
			if delay <= 0 {
				e := heap.Pop(&s.heap).(*entry)
				delete(s.byID, e.handle)
				s.mu.Unlock()
				s.fire(e)
				continue
			}
			timer = s.clock.After(delay)
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			continue
		case <-orNever(timer):
			continue
		}
	}
}

// orNever returns ch unchanged, or a channel that never fires if ch is
// nil, so the select above degrades cleanly when the heap is empty.
func orNever(ch <-chan time.Time) <-chan time.Time {
	if ch != nil {
		return ch
	}
	return make(chan time.Time)
}

func (s *Scheduler) fire(e *entry) {
	now := s.clock.Now()
	skew := now.Sub(e.target)
	assert.Always(!now.Before(e.target), "scheduled action never fires before its target instant", map[string]any{
		"target": e.target,
		"fired":  now,
	})
	if skew > 0 && s.logger != nil {
		s.logger.Debug("scheduled action fired late",
			slog.Duration("skew", skew))
	}
	e.action(now)
}
