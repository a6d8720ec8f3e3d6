package gig

import "time"

// Status enumerates gig lifecycle states.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Gig is a posted job. The reconciliation and lifecycle services only ever
// mirror its status; they never edit listing content.
type Gig struct {
	ID          string
	EmployerID  string
	Title       string
	BudgetCents int64
	Status      Status
	AssignedTo  *string
	Deadline    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
