package board

import (
	"sort"
	"strings"

	"teamboard/internal/domain"
)

// Filter is the in-memory board filter. Dimensions combine conjunctively and
// an empty dimension matches everything.
type Filter struct {
	SearchQuery     string
	AssignedUserIDs []string
	TagIDs          []string
}

func (f Filter) IsZero() bool {
	return strings.TrimSpace(f.SearchQuery) == "" && len(f.AssignedUserIDs) == 0 && len(f.TagIDs) == 0
}

func (f Filter) Matches(t domain.BoardTask) bool {
	return f.matchesSearch(t) && f.matchesUsers(t) && f.matchesTags(t)
}

func (f Filter) matchesSearch(t domain.BoardTask) bool {
	q := strings.ToLower(strings.TrimSpace(f.SearchQuery))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(t.Title), q)
}

func (f Filter) matchesUsers(t domain.BoardTask) bool {
	if len(f.AssignedUserIDs) == 0 {
		return true
	}
	return intersects(t.AssignedToIDs, f.AssignedUserIDs)
}

func (f Filter) matchesTags(t domain.BoardTask) bool {
	if len(f.TagIDs) == 0 {
		return true
	}
	return intersects(t.TagIDSet(), f.TagIDs)
}

func intersects(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func (f Filter) clone() Filter {
	return Filter{
		SearchQuery:     f.SearchQuery,
		AssignedUserIDs: append([]string(nil), f.AssignedUserIDs...),
		TagIDs:          append([]string(nil), f.TagIDs...),
	}
}

// Column is a read projection of the tasks in one status.
type Column struct {
	ID    domain.Status      `json:"id"`
	Title string             `json:"title"`
	Tasks []domain.BoardTask `json:"tasks"`
}

var columnTitles = map[domain.Status]string{
	domain.StatusTodo:       "To Do",
	domain.StatusInProgress: "In Progress",
	domain.StatusDone:       "Done",
}

// ColumnTitle returns the display title of a status column.
func ColumnTitle(s domain.Status) string {
	return columnTitles[s]
}

// BuildColumns groups tasks that pass the filter into the three status
// columns, each sorted by due date then title.
func BuildColumns(tasks []domain.BoardTask, f Filter) []Column {
	cols := make([]Column, 0, len(domain.Statuses))
	index := make(map[domain.Status]int, len(domain.Statuses))
	for i, s := range domain.Statuses {
		cols = append(cols, Column{ID: s, Title: ColumnTitle(s), Tasks: []domain.BoardTask{}})
		index[s] = i
	}
	for _, t := range tasks {
		if t.IsArchived || !f.Matches(t) {
			continue
		}
		i, ok := index[t.Status]
		if !ok {
			continue
		}
		cols[i].Tasks = append(cols[i].Tasks, t.Clone())
	}
	for i := range cols {
		SortTasks(cols[i].Tasks)
	}
	return cols
}

// SortTasks orders by due date ascending with undated tasks last, then by title.
func SortTasks(tasks []domain.BoardTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		switch {
		case a.DueDate == nil && b.DueDate == nil:
			return a.Title < b.Title
		case a.DueDate == nil:
			return false
		case b.DueDate == nil:
			return true
		case !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		default:
			return a.Title < b.Title
		}
	})
}
