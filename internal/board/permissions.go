package board

import (
	"errors"
	"strings"

	"teamboard/internal/domain"
)

// Actor is the user operating the board and their team role.
type Actor struct {
	UserID string
	Role   domain.Role
}

func (a Actor) Validate() error {
	if strings.TrimSpace(a.UserID) == "" {
		return errors.New("acting user required")
	}
	if _, err := domain.ParseRole(string(a.Role)); err != nil {
		return err
	}
	return nil
}

func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// CanDrag: admins and the task's assignees may move it between columns.
func CanDrag(a Actor, t domain.Task) bool {
	return a.IsAdmin() || t.IsAssignedTo(a.UserID)
}

// CanEdit: only admins open tasks for editing, even tasks assigned to them.
func CanEdit(a Actor) bool {
	return a.IsAdmin()
}

func CanArchive(a Actor, t domain.Task) bool {
	return CanDrag(a, t)
}
