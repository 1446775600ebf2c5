package board

import (
	"sync"

	"teamboard/internal/domain"
)

// Store holds the tasks of one project scope. Every method is safe for
// concurrent use; readers always get copies.
type Store struct {
	mu         sync.RWMutex
	projectID  string
	teamID     string
	tasks      []domain.BoardTask
	members    []domain.User
	tags       []domain.Tag
	filter     Filter
	generation uint64
	// committed is the generation of the data currently held.
	committed uint64
	// versions counts local mutations per task since the last commit.
	versions map[string]uint64
	loading  bool
	errMsg   string
}

func NewStore(projectID, teamID string) *Store {
	return &Store{projectID: projectID, teamID: teamID}
}

func (s *Store) Scope() (projectID, teamID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.projectID, s.teamID
}

// setScope points the store at another project and drops the old data.
func (s *Store) setScope(projectID, teamID string) {
	s.mu.Lock()
	s.projectID, s.teamID = projectID, teamID
	s.mu.Unlock()
	s.clear()
}

func (s *Store) Tasks() []domain.BoardTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneTasks(s.tasks)
}

func (s *Store) Task(id string) (domain.BoardTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.BoardTask{}, false
	}
	return s.tasks[i].Clone(), true
}

func (s *Store) Members() []domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.User(nil), s.members...)
}

func (s *Store) Tags() []domain.Tag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Tag(nil), s.tags...)
}

func (s *Store) Columns() []Column {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return BuildColumns(s.tasks, s.filter)
}

func (s *Store) Filter() Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter.clone()
}

func (s *Store) SetFilter(f Filter) {
	s.mu.Lock()
	s.filter = f.clone()
	s.mu.Unlock()
}

func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Store) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMsg
}

func (s *Store) setError(msg string) {
	s.mu.Lock()
	s.errMsg = msg
	s.mu.Unlock()
}

// clear drops all tasks and invalidates any fetch in flight.
func (s *Store) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.committed = s.generation
	s.tasks = nil
	s.members = nil
	s.tags = nil
	s.versions = nil
	s.loading = false
	s.errMsg = ""
}

// beginFetch starts a new fetch generation.
func (s *Store) beginFetch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.loading = true
	return s.generation
}

// commitFetch replaces the task collection when gen is still the latest
// generation. Archived tasks never enter the active collection.
func (s *Store) commitFetch(gen uint64, tasks []domain.BoardTask, members []domain.User, tags []domain.Tag) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	active := make([]domain.BoardTask, 0, len(tasks))
	for _, t := range tasks {
		if t.IsArchived {
			continue
		}
		active = append(active, t.Clone())
	}
	s.tasks = active
	s.members = append([]domain.User(nil), members...)
	s.tags = append([]domain.Tag(nil), tags...)
	s.committed = gen
	s.versions = nil
	s.loading = false
	s.errMsg = ""
	return true
}

func (s *Store) failFetch(gen uint64, msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return false
	}
	s.loading = false
	s.errMsg = msg
	return true
}

// snapshot is the rollback target of one optimistic mutation: the affected
// task as it was, where it was, and the fetch generation it belonged to.
// version is the task's mutation count after this mutation, prev before it.
type snapshot struct {
	generation uint64
	version    uint64
	prev       uint64
	index      int
	task       domain.BoardTask
}

type restoreResult int

const (
	restored restoreResult = iota
	// reloaded: a newer fetch committed, the fetched data stands.
	reloaded
	// superseded: a later local mutation touched the task.
	superseded
)

// prediction computes the optimistic next state of a task. A nil result
// removes the task from the active collection.
type prediction func(task domain.BoardTask) (*domain.BoardTask, error)

// apply snapshots the task and applies the prediction atomically.
func (s *Store) apply(taskID string, predict prediction) (snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(taskID)
	if i < 0 {
		return snapshot{}, ErrTaskNotFound
	}
	next, err := predict(s.tasks[i].Clone())
	if err != nil {
		return snapshot{}, err
	}
	if s.versions == nil {
		s.versions = make(map[string]uint64)
	}
	prev := s.versions[taskID]
	snap := snapshot{generation: s.committed, version: prev + 1, prev: prev, index: i, task: s.tasks[i].Clone()}
	s.versions[taskID] = snap.version
	if next == nil {
		s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)
	} else {
		s.tasks[i] = *next
	}
	return snap, nil
}

// restore puts a snapshot back when the task still holds exactly the state
// this mutation predicted. Restoring hands the task back to the mutation
// before it, so an earlier failure can still roll back.
func (s *Store) restore(snap snapshot) restoreResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.generation != s.committed {
		return reloaded
	}
	id := snap.task.ID
	if s.versions[id] != snap.version {
		return superseded
	}
	s.versions[id] = snap.prev
	if i := s.indexOf(id); i >= 0 {
		s.tasks[i] = snap.task.Clone()
		return restored
	}
	idx := snap.index
	if idx > len(s.tasks) {
		idx = len(s.tasks)
	}
	s.tasks = append(s.tasks[:idx:idx], append([]domain.BoardTask{snap.task.Clone()}, s.tasks[idx:]...)...)
	return restored
}

func (s *Store) indexOf(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneTasks(in []domain.BoardTask) []domain.BoardTask {
	if in == nil {
		return nil
	}
	out := make([]domain.BoardTask, len(in))
	for i, t := range in {
		out[i] = t.Clone()
	}
	return out
}
