package repository

import (
	"fmt"
	"time"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
)

// ExpenseFilter narrows ListBySubmitter. Empty fields match everything;
// Category compares case-insensitively.
type ExpenseFilter struct {
	Status   approval.Status
	Category string
}

func errNotDraft(id string, status approval.Status) error {
	return fmt.Errorf("%w: expense %s is %s, only drafts can be changed", approval.ErrInvalidTransition, id, status)
}

// ── Audit types ──────────────────────────────────────────────────────────────

// AuditEntry is one immutable record in the expense approval audit log.
type AuditEntry struct {
	ID           string
	ExpenseID    string
	EntryID      string // chain entry acted on; empty for expense-level actions
	Action       string // submitted | approved | rejected | delegated | resubmitted | updated | deleted
	PerformedBy  string
	PerformedAt  time.Time
	StatusBefore string
	StatusAfter  string
	Metadata     map[string]any // arbitrary JSON context
}

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}
