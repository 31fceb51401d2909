package service

import (
	"context"
	stderrors "errors"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/errors"
	"github.com/pesio-ai/be-exp-approvals/internal/repository"
)

// RuleStore is implemented by repository.RuleRepository and
// repository.MemoryRuleRepository.
type RuleStore interface {
	Create(ctx context.Context, rule *approval.Rule) error
	Get(ctx context.Context, id string) (approval.Rule, error)
	List(ctx context.Context, activeOnly bool) ([]approval.Rule, error)
	Update(ctx context.Context, rule *approval.Rule) error
	SetPriorities(ctx context.Context, priorities map[string]int) error
	SetActive(ctx context.Context, ids []string, active bool) error
	Delete(ctx context.Context, id string) error
}

// ExpenseStore is implemented by repository.ExpenseRepository and
// repository.MemoryExpenseRepository. Save, UpdateDraft and DeleteDraft must
// fail with *approval.VersionError when the stored version differs from
// expectedVersion; the draft operations also fail with
// approval.ErrInvalidTransition once the expense has left draft.
type ExpenseStore interface {
	Create(ctx context.Context, exp *approval.Expense) error
	Get(ctx context.Context, id string) (approval.Expense, error)
	Save(ctx context.Context, exp *approval.Expense, expectedVersion int64) error
	UpdateDraft(ctx context.Context, exp *approval.Expense, expectedVersion int64) error
	DeleteDraft(ctx context.Context, id string, expectedVersion int64) error
	ListBySubmitter(ctx context.Context, submittedBy string, filter repository.ExpenseFilter) ([]approval.Expense, error)
	ListPending(ctx context.Context) ([]approval.Expense, error)
	ListPendingForUser(ctx context.Context, userID string) ([]approval.Expense, error)
	CountPendingByRule(ctx context.Context, ruleID string) (int, error)
}

// AuditStore is the append-only approval audit log.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
	ListByExpense(ctx context.Context, expenseID string) ([]*repository.AuditEntry, error)
}

// Notifier publishes approval events. Implementations never fail the caller.
type Notifier interface {
	PublishExpenseEvent(ctx context.Context, eventType, expenseID, actorID string, recipients []string, payload map[string]any)
}

// RoleAdmin grants override rights on approvals and access to rule admin.
const RoleAdmin = "admin"

// Actor is the authenticated caller.
type Actor struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) require() error {
	if a.UserID == "" {
		return errors.New(errors.ErrCodeUnauthorized, "user identity is required")
	}
	return nil
}

// translate maps domain errors onto coded application errors. Errors that
// already carry a code pass through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}

	switch {
	case stderrors.Is(err, approval.ErrRuleNotFound),
		stderrors.Is(err, approval.ErrExpenseNotFound),
		stderrors.Is(err, approval.ErrEntryNotFound):
		return errors.WithCode(err, errors.ErrCodeNotFound)
	case stderrors.Is(err, approval.ErrNotAuthorized),
		stderrors.Is(err, approval.ErrDelegationNotAllowed):
		return errors.WithCode(err, errors.ErrCodeForbidden)
	case stderrors.Is(err, approval.ErrConcurrentModification),
		stderrors.Is(err, approval.ErrInvalidTransition):
		return errors.WithCode(err, errors.ErrCodeConflict)
	case stderrors.Is(err, approval.ErrInvalidRuleConfiguration),
		stderrors.Is(err, approval.ErrInvalidExpense):
		return errors.WithCode(err, errors.ErrCodeInvalidInput)
	case stderrors.Is(err, approval.ErrNoMatchingRule),
		stderrors.Is(err, approval.ErrAmountExceedsLimit):
		return errors.WithCode(err, errors.ErrCodeUnprocessable)
	default:
		return errors.Wrap(err, errors.ErrCodeInternal, "unexpected error")
	}
}
