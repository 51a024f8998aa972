// Package scheduler implements the thread scheduler from spec.md §4.9:
// a priority-ordered ready queue with priority donation, or MLFQS when
// enabled at boot. Grounded on
// _examples/original_source/src/threads/thread.c's ready_list/sleep_list
// management, donation chain, and MLFQS recompute, with thread and lock
// objects as plain Go values manipulated under a single scheduler mutex
// rather than real goroutines -- this package models the scheduling
// decision, not the underlying context switch.
package scheduler

import (
	"sync"

	"github.com/mlj-hub/pintosim/internal/fixedpoint"
)

// Priority bounds and defaults, matching Pintos' PRI_MIN/PRI_MAX/PRI_DEFAULT.
const (
	PriMin     = 0
	PriMax     = 63
	PriDefault = 31
)

// TimeSlice is the number of ticks a thread runs before preemption is
// requested.
const TimeSlice = 4

// TimerFreq is the number of ticks per second, used to pace the MLFQS
// load_avg/recent_cpu recompute.
const TimerFreq = 100

// State is a thread's scheduling state.
type State int

const (
	Ready State = iota
	Running
	Blocked
	Sleeping
	Dying
)

// Thread is one schedulable unit. Its effective priority is
// max(basePriority, donatedPriority) in donation mode, or basePriority
// alone (recomputed by MLFQS) in MLFQS mode.
type Thread struct {
	ID    int
	Name  string
	State State

	basePriority    int
	donatedPriority int // -1 means no donation held

	nice      int
	recentCpu fixedpoint.Value

	heldLocks   []*Lock
	waitingLock *Lock

	ticksInSlice int
	sleepTicks   int
}

// EffectivePriority returns max(base, donated), invariant #4 of spec.md §8.
func (t *Thread) EffectivePriority() int {
	if t.donatedPriority > t.basePriority {
		return t.donatedPriority
	}
	return t.basePriority
}

// BasePriority returns the thread's own (undonated) priority.
func (t *Thread) BasePriority() int { return t.basePriority }

// Nice returns the thread's nice value (MLFQS mode only).
func (t *Thread) Nice() int { return t.nice }

// Scheduler owns the ready queue, sleep list, all-threads list, and
// (in MLFQS mode) load_avg, each as spec.md §9 requires: a single
// process-wide resource with its own mutex rather than a free-floating
// global.
type Scheduler struct {
	mu sync.Mutex

	mlfqs bool
	ticks uint64

	nextID  int
	all     []*Thread
	ready   []*Thread
	sleep   []*Thread
	idle    *Thread
	running *Thread

	loadAvg fixedpoint.Value
}

// New creates a scheduler in either priority-donation or MLFQS mode; the
// two are mutually exclusive for the lifetime of the scheduler, selected
// at boot by the -o mlfqs flag.
func New(mlfqs bool) *Scheduler {
	s := &Scheduler{mlfqs: mlfqs}
	s.idle = s.newThreadLocked("idle", PriMin)
	s.running = s.idle
	s.idle.State = Running
	return s
}

func (s *Scheduler) newThreadLocked(name string, priority int) *Thread {
	s.nextID++
	t := &Thread{ID: s.nextID, Name: name, basePriority: priority, donatedPriority: -1, State: Blocked}
	s.all = append(s.all, t)
	return t
}

// Spawn creates a new thread at the given base priority and places it on
// the ready queue.
func (s *Scheduler) Spawn(name string, priority int) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.newThreadLocked(name, priority)
	s.insertReadyLocked(t)
	return t
}

// insertReadyLocked inserts t into the ready queue in descending
// effective-priority order, breaking ties by FIFO insertion order (the
// first strictly-lower-priority element is the insertion point), per
// spec.md §5's ordering guarantee.
func (s *Scheduler) insertReadyLocked(t *Thread) {
	t.State = Ready
	p := t.EffectivePriority()
	idx := len(s.ready)
	for i, r := range s.ready {
		if r.EffectivePriority() < p {
			idx = i
			break
		}
	}
	s.ready = append(s.ready, nil)
	copy(s.ready[idx+1:], s.ready[idx:])
	s.ready[idx] = t
}

func (s *Scheduler) removeReadyLocked(t *Thread) bool {
	for i, r := range s.ready {
		if r == t {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			return true
		}
	}
	return false
}

// Current returns the currently running thread.
func (s *Scheduler) Current() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextToRun pops the highest-priority ready thread, or the idle thread if
// the ready queue is empty, and makes it current.
func (s *Scheduler) NextToRun() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextToRunLocked()
}

func (s *Scheduler) nextToRunLocked() *Thread {
	var next *Thread
	if len(s.ready) > 0 {
		next = s.ready[0]
		s.ready = s.ready[1:]
	} else {
		next = s.idle
	}
	next.State = Running
	next.ticksInSlice = 0
	s.running = next
	return next
}

// Yield returns the running thread to the ready queue (unless it is the
// idle thread) and schedules the next one.
func (s *Scheduler) Yield() *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.running
	if cur != s.idle {
		s.insertReadyLocked(cur)
	}
	return s.nextToRunLocked()
}

// Block removes t from scheduling consideration; the caller is
// responsible for recording why (lock wait, sleep, I/O).
func (s *Scheduler) Block(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeReadyLocked(t)
	t.State = Blocked
}

// Unblock makes a blocked thread ready again. If t now has strictly
// higher effective priority than the running thread, the caller should
// request a yield at the next safe point, per spec.md §4.9's preemption
// rule; ShouldPreempt reports that.
func (s *Scheduler) Unblock(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertReadyLocked(t)
}

// ShouldPreempt reports whether the running thread has strictly lower
// effective priority than the head of the ready queue.
func (s *Scheduler) ShouldPreempt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) == 0 {
		return false
	}
	return s.ready[0].EffectivePriority() > s.running.EffectivePriority()
}

// Sleep blocks the current thread for ticks timer ticks.
func (s *Scheduler) Sleep(t *Thread, ticks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.sleepTicks = ticks
	t.State = Sleeping
	s.removeReadyLocked(t)
	s.sleep = append(s.sleep, t)
}

// Tick advances the virtual clock by one timer tick: it wakes expired
// sleepers, accounts CPU time for the running thread, and (in MLFQS mode)
// recomputes priorities and load_avg/recent_cpu on their fixed schedules.
// It returns true if the running thread's time slice has expired.
func (s *Scheduler) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++

	remaining := s.sleep[:0]
	for _, t := range s.sleep {
		t.sleepTicks--
		if t.sleepTicks <= 0 {
			s.insertReadyLocked(t)
		} else {
			remaining = append(remaining, t)
		}
	}
	s.sleep = remaining

	sliceExpired := false
	if s.running != s.idle {
		s.running.ticksInSlice++
		if s.mlfqs {
			s.running.recentCpu = fixedpoint.AddInt(s.running.recentCpu, 1)
		}
		if s.running.ticksInSlice >= TimeSlice {
			sliceExpired = true
		}
	}

	if s.mlfqs {
		if s.ticks%4 == 0 {
			s.recomputeAllPrioritiesLocked()
		}
		if s.ticks%TimerFreq == 0 {
			s.recomputeLoadAvgAndRecentCpuLocked()
		}
	}

	return sliceExpired
}

func (s *Scheduler) recomputePriorityLocked(t *Thread) {
	v := fixedpoint.FromInt(PriMax)
	v = fixedpoint.Sub(v, fixedpoint.DivInt(t.recentCpu, 4))
	v = fixedpoint.SubInt(v, 2*t.nice)
	p := fixedpoint.ToIntTrunc(v)
	if p < PriMin {
		p = PriMin
	}
	if p > PriMax {
		p = PriMax
	}
	t.basePriority = p
}

func (s *Scheduler) recomputeAllPrioritiesLocked() {
	for _, t := range s.all {
		if t == s.idle {
			continue
		}
		s.recomputePriorityLocked(t)
	}
	s.resortReadyLocked()
}

func (s *Scheduler) recomputeLoadAvgAndRecentCpuLocked() {
	readyThreads := len(s.ready)
	if s.running != s.idle {
		readyThreads++
	}
	s.loadAvg = fixedpoint.Add(
		fixedpoint.DivInt(fixedpoint.MulInt(s.loadAvg, 59), 60),
		fixedpoint.DivInt(fixedpoint.FromInt(readyThreads), 60),
	)

	coeffNum := fixedpoint.MulInt(s.loadAvg, 2)
	coeff := fixedpoint.Div(coeffNum, fixedpoint.AddInt(coeffNum, 1))
	for _, t := range s.all {
		if t == s.idle {
			continue
		}
		t.recentCpu = fixedpoint.AddInt(fixedpoint.Mul(coeff, t.recentCpu), t.nice)
		s.recomputePriorityLocked(t)
	}
	s.resortReadyLocked()
}

// resortReadyLocked re-establishes descending-priority order after a bulk
// priority recompute, since MLFQS can reorder the whole queue at once.
func (s *Scheduler) resortReadyLocked() {
	old := s.ready
	s.ready = nil
	for _, t := range old {
		s.insertReadyLocked(t)
	}
}

// SetPriority sets a thread's base priority directly (donation mode only;
// MLFQS ignores direct priority sets by convention, same as
// thread_set_priority's precondition in Pintos).
func (s *Scheduler) SetPriority(t *Thread, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.basePriority = priority
	if s.removeReadyLocked(t) {
		s.insertReadyLocked(t)
	}
}

// SetNice sets a thread's nice value and recomputes its MLFQS priority.
func (s *Scheduler) SetNice(t *Thread, nice int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.nice = nice
	if s.mlfqs {
		s.recomputePriorityLocked(t)
		if s.removeReadyLocked(t) {
			s.insertReadyLocked(t)
		}
	}
}

// LoadAvg returns 100 times the current load average, matching
// thread_get_load_avg's scaling convention.
func (s *Scheduler) LoadAvg() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fixedpoint.ToIntRound(fixedpoint.MulInt(s.loadAvg, 100))
}

// RecentCPU returns 100 times t's recent_cpu value.
func (s *Scheduler) RecentCPU(t *Thread) int {
	return fixedpoint.ToIntRound(fixedpoint.MulInt(t.recentCpu, 100))
}
