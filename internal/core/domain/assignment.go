package domain

import "time"

type AssignmentStatus string

const (
	AssignmentStatusAllocated AssignmentStatus = "allocated"
	AssignmentStatusReturned  AssignmentStatus = "returned"
)

// ProjectItemAssignment reserves a quantity of one item against one
// project-day. AllocatedQuantity is fixed at creation; the damage, loss and
// return counters only grow while the assignment is open. Status "returned"
// is terminal.
type ProjectItemAssignment struct {
	ID                string
	ItemID            string
	ProjectDayID      string
	AllocatedQuantity int
	DamagedQuantity   int
	LostQuantity      int
	ReturnedQuantity  int
	Status            AssignmentStatus
	Version           int // optimistic locking
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Remaining is the quantity still out on the assignment.
func (a ProjectItemAssignment) Remaining() int {
	return a.AllocatedQuantity - a.DamagedQuantity - a.LostQuantity - a.ReturnedQuantity
}

// Open reports whether the assignment still accepts return/damage/loss deltas.
func (a ProjectItemAssignment) Open() bool {
	return a.Status == AssignmentStatusAllocated
}
