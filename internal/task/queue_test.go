package task

import (
	"fmt"
	"sync"
	"testing"
)

func newTask(id string) *Task {
	return &Task{ID: id, Source: SourceEmail, Command: "echo hi"}
}

func TestEnqueueTryDequeue_FIFO(t *testing.T) {
	s := NewStore()
	s.Enqueue(newTask("1"))
	s.Enqueue(newTask("2"))
	s.Enqueue(newTask("3"))

	first := s.TryDequeue(10)
	if first == nil || first.ID != "1" {
		t.Fatalf("got %v, want task 1", first)
	}
	second := s.TryDequeue(10)
	if second == nil || second.ID != "2" {
		t.Fatalf("got %v, want task 2", second)
	}
	if first.State != StateRunning {
		t.Errorf("state = %v, want %v", first.State, StateRunning)
	}
}

func TestTryDequeue_RespectsMaxConcurrent(t *testing.T) {
	s := NewStore()
	s.Enqueue(newTask("1"))
	s.Enqueue(newTask("2"))

	if s.TryDequeue(1) == nil {
		t.Fatal("expected first dequeue to succeed")
	}
	if got := s.TryDequeue(1); got != nil {
		t.Fatalf("expected nil at capacity, got %v", got)
	}
}

func TestTryDequeue_EmptyQueue(t *testing.T) {
	s := NewStore()
	if got := s.TryDequeue(10); got != nil {
		t.Fatalf("expected nil on empty queue, got %v", got)
	}
}

func TestComplete_MovesRunningToHistory(t *testing.T) {
	s := NewStore()
	s.Enqueue(newTask("1"))
	running := s.TryDequeue(10)
	running.State = StateCompleted
	s.Complete(running)

	if s.RunningCount() != 0 {
		t.Errorf("running count = %d, want 0", s.RunningCount())
	}
	hist := s.HistorySnapshot()
	if len(hist) != 1 || hist[0].ID != "1" {
		t.Fatalf("history = %v, want [task 1]", hist)
	}
}

func TestComplete_HistoryCapEvictsOldest(t *testing.T) {
	s := NewStore()
	for i := 0; i < historyCap+10; i++ {
		tsk := newTask(fmt.Sprintf("%d", i))
		tsk.State = StateCompleted
		s.Complete(tsk)
	}
	hist := s.HistorySnapshot()
	if len(hist) != historyCap {
		t.Fatalf("history len = %d, want %d", len(hist), historyCap)
	}
	if hist[0].ID != "10" {
		t.Errorf("oldest retained = %s, want 10 (first 10 evicted)", hist[0].ID)
	}
}

func TestDrainPending_ClearsQueueAndReturnsContents(t *testing.T) {
	s := NewStore()
	s.Enqueue(newTask("1"))
	s.Enqueue(newTask("2"))

	drained := s.DrainPending()
	if len(drained) != 2 {
		t.Fatalf("drained len = %d, want 2", len(drained))
	}
	if s.QueueDepth() != 0 {
		t.Errorf("queue depth after drain = %d, want 0", s.QueueDepth())
	}
}

func TestEnqueueMany_PreservesOrder(t *testing.T) {
	s := NewStore()
	s.EnqueueMany([]*Task{newTask("a"), newTask("b"), newTask("c")})
	if s.QueueDepth() != 3 {
		t.Fatalf("queue depth = %d, want 3", s.QueueDepth())
	}
	first := s.TryDequeue(10)
	if first.ID != "a" {
		t.Errorf("first dequeued = %s, want a", first.ID)
	}
}

func TestStore_ConcurrentEnqueueDequeue(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	const n = 200

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			s.Enqueue(newTask(fmt.Sprintf("%d", i)))
		}(i)
	}
	wg.Wait()

	dequeued := 0
	for {
		t := s.TryDequeue(n)
		if t == nil {
			break
		}
		dequeued++
	}
	if dequeued != n {
		t.Fatalf("dequeued %d tasks, want %d", dequeued, n)
	}
}

func TestState_IsTerminal(t *testing.T) {
	terminal := []State{StateCompleted, StateFailed, StateTimeout, StateRejected, StateCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%v.IsTerminal() = false, want true", s)
		}
	}
	nonTerminal := []State{StatePending, StateRunning}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%v.IsTerminal() = true, want false", s)
		}
	}
}

func TestTask_EffectiveTimeoutAndCwd(t *testing.T) {
	tsk := &Task{}
	if got := tsk.EffectiveTimeoutSec(30); got != 30 {
		t.Errorf("EffectiveTimeoutSec = %d, want 30", got)
	}
	if got := tsk.EffectiveCwd("/default"); got != "/default" {
		t.Errorf("EffectiveCwd = %q, want /default", got)
	}

	tsk.TimeoutSec = 60
	tsk.Cwd = "/custom"
	if got := tsk.EffectiveTimeoutSec(30); got != 60 {
		t.Errorf("EffectiveTimeoutSec = %d, want 60", got)
	}
	if got := tsk.EffectiveCwd("/default"); got != "/custom" {
		t.Errorf("EffectiveCwd = %q, want /custom", got)
	}
}
