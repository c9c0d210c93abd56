package task

import "sync"

// historyCap is the bounded in-memory retention for terminal tasks: the
// last 200, discarded FIFO. There is no persistent task database.
const historyCap = 200

// Store holds the orchestrator's Task queue, in-flight map, and terminal
// history behind a single mutex. The critical sections below are all O(1)
// or O(maxConcurrentTasks); nothing here performs I/O while holding mu.
type Store struct {
	mu      sync.Mutex
	pending []*Task          // FIFO by ReceivedAt, tie-broken by insertion order
	running map[string]*Task // id -> task
	history []*Task          // bounded ring, oldest first
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		running: make(map[string]*Task),
	}
}

// Enqueue appends t to the pending queue in PENDING state.
func (s *Store) Enqueue(t *Task) {
	t.State = StatePending
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, t)
}

// EnqueueMany appends a batch atomically, preserving slice order.
func (s *Store) EnqueueMany(ts []*Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range ts {
		t.State = StatePending
		s.pending = append(s.pending, t)
	}
}

// TryDequeue pops the head of the pending queue and moves it to running, but
// only if the running count is below maxConcurrent. Returns nil if either
// the queue is empty or the running set is already full.
func (s *Store) TryDequeue(maxConcurrent int) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 || len(s.running) >= maxConcurrent {
		return nil
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	t.State = StateRunning
	s.running[t.ID] = t
	return t
}

// Complete removes a task from the running set and files it into history,
// evicting the oldest entry if the bound is exceeded. It does not change
// t.State; the caller sets the terminal state before calling it.
func (s *Store) Complete(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, t.ID)
	s.history = append(s.history, t)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
}

// RunningIDs returns a snapshot of currently-running task IDs, used by the
// heartbeat loop. The snapshot is consistent: it reflects the state under a
// single lock acquisition, never a partial update.
func (s *Store) RunningIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

// RunningCount returns |running|.
func (s *Store) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// QueueDepth returns the number of pending tasks.
func (s *Store) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// RunningSnapshot returns a copy of the currently running tasks, used on
// shutdown to log the tasks that have not settled.
func (s *Store) RunningSnapshot() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.running))
	for _, t := range s.running {
		out = append(out, t)
	}
	return out
}

// DrainPending empties the pending queue without running it, used when the
// daemon is shutting down and must stop accepting new dispatch.
func (s *Store) DrainPending() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// HistorySnapshot returns a copy of the terminal-task history, oldest first.
func (s *Store) HistorySnapshot() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, len(s.history))
	copy(out, s.history)
	return out
}
