package tick

// TimerSet groups the named tasks owned by one duel phase so they can be torn
// down together. It is not safe for concurrent use; the owner's key lock
// guards it.
type TimerSet struct {
	tasks map[string]*Task
}

// Set registers task under name, cancelling any task already there.
func (s *TimerSet) Set(name string, task *Task) {
	if s.tasks == nil {
		s.tasks = make(map[string]*Task)
	}
	if old, ok := s.tasks[name]; ok && old != task {
		old.Cancel()
	}
	s.tasks[name] = task
}

// Active reports whether a live task is registered under name.
func (s *TimerSet) Active(name string) bool {
	t, ok := s.tasks[name]
	return ok && !t.Cancelled()
}

// Cancel cancels and forgets the task under name. It reports whether a live
// task was cancelled.
func (s *TimerSet) Cancel(name string) bool {
	t, ok := s.tasks[name]
	if !ok {
		return false
	}
	delete(s.tasks, name)
	live := !t.Cancelled()
	t.Cancel()
	return live
}

// CancelAll cancels every task in the set.
func (s *TimerSet) CancelAll() {
	for name, t := range s.tasks {
		t.Cancel()
		delete(s.tasks, name)
	}
}

// Len returns the number of registered tasks.
func (s *TimerSet) Len() int {
	return len(s.tasks)
}
