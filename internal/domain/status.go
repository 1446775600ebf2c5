package domain

// DeriveStatus maps a task's subtask completion to its board status.
// A task with no subtasks, or none completed, is todo; all completed is done.
func DeriveStatus(subtasks []Subtask) Status {
	completed := 0
	for _, s := range subtasks {
		if s.Completed {
			completed++
		}
	}
	switch {
	case len(subtasks) == 0 || completed == 0:
		return StatusTodo
	case completed == len(subtasks):
		return StatusDone
	default:
		return StatusInProgress
	}
}
