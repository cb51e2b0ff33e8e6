package domain

import "time"

// Task is a materialized task row. ProjectID and OwnerEmail never change after creation.
type Task struct {
	ID         TaskID
	Title      string
	ProjectID  ProjectID
	OwnerEmail OwnerEmail
	CreatedAt  Timestamp
	Deadline   *time.Time
	Completed  bool
	Position   int
}

// Clone returns a copy that shares no pointers with t.
func (t Task) Clone() Task {
	if t.Deadline != nil {
		d := *t.Deadline
		t.Deadline = &d
	}
	return t
}

// TaskCandidate is an extracted, unconfirmed task suggestion.
type TaskCandidate struct {
	Title    string
	Deadline *time.Time
}

// NewTask is the payload of a single insert.
type NewTask struct {
	Title      string
	ProjectID  ProjectID
	OwnerEmail OwnerEmail
	Deadline   *time.Time
	Position   int
}

// TaskPatch lists the mutable fields of one update. Nil fields are untouched;
// SetDeadline with a nil Deadline clears it.
type TaskPatch struct {
	Title       *string
	SetDeadline bool
	Deadline    *time.Time
	Completed   *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && !p.SetDeadline && p.Completed == nil
}

// Apply writes the patched fields into t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.SetDeadline {
		if p.Deadline == nil {
			t.Deadline = nil
		} else {
			d := *p.Deadline
			t.Deadline = &d
		}
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
}

// Inverse returns the patch that restores t's current values of the fields p touches.
func (p TaskPatch) Inverse(t Task) TaskPatch {
	var inv TaskPatch
	if p.Title != nil {
		title := t.Title
		inv.Title = &title
	}
	if p.SetDeadline {
		inv.SetDeadline = true
		if t.Deadline != nil {
			d := *t.Deadline
			inv.Deadline = &d
		}
	}
	if p.Completed != nil {
		c := t.Completed
		inv.Completed = &c
	}
	return inv
}

// Holds reports whether every field p touches currently has p's value in t.
func (p TaskPatch) Holds(t Task) bool {
	if p.Title != nil && t.Title != *p.Title {
		return false
	}
	if p.SetDeadline && !sameDeadline(t.Deadline, p.Deadline) {
		return false
	}
	if p.Completed != nil && t.Completed != *p.Completed {
		return false
	}
	return true
}

func sameDeadline(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// BatchFailure is one candidate that the task store rejected.
type BatchFailure struct {
	Index int
	Title string
	Err   error
}

// BatchResult reports a batch create. It is never collapsed to a boolean.
type BatchResult struct {
	Created  []Task
	Failures []BatchFailure
}

func (r BatchResult) SuccessCount() int { return len(r.Created) }

// Partial reports whether some, but not all, items succeeded.
func (r BatchResult) Partial() bool {
	return len(r.Created) > 0 && len(r.Failures) > 0
}
