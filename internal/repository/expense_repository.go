package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/database"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/errors"
)

// ExpenseRepository persists expenses with their chain, history and policy as
// JSONB. Writes are guarded by the version column.
type ExpenseRepository struct {
	db *database.DB
}

// NewExpenseRepository creates a new ExpenseRepository.
func NewExpenseRepository(db *database.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

const expenseColumns = `
	id, amount, currency, category, department, description,
	submitted_by, status, current_approver_id, rule_id,
	policy, approval_chain, approval_history,
	rejection_reason, rejected_by, rejected_at,
	final_approver_id, approved_at, submitted_at,
	version, created_at, updated_at
`

// Create inserts a new expense. exp.ID must already be set.
func (r *ExpenseRepository) Create(ctx context.Context, exp *approval.Expense) error {
	policy, chain, history, err := marshalExpenseJSON(exp)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO expenses
		    (id, amount, currency, category, department, description,
		     submitted_by, status, current_approver_id, rule_id,
		     policy, approval_chain, approval_history, version)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10,
		        $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		exp.ID,
		exp.Amount,
		exp.Currency,
		exp.Category,
		exp.Department,
		exp.Description,
		exp.SubmittedBy,
		exp.Status,
		exp.CurrentApproverID,
		exp.RuleID,
		policy,
		chain,
		history,
		exp.Version,
	).Scan(&exp.CreatedAt, &exp.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create expense")
	}
	return nil
}

// Get retrieves an expense by primary key.
func (r *ExpenseRepository) Get(ctx context.Context, id string) (approval.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = $1`

	exp, err := scanExpense(r.db.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return approval.Expense{}, errors.NotFound("expense", id)
	}
	if err != nil {
		return approval.Expense{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to get expense")
	}
	return exp, nil
}

// Save writes exp only if the stored version still equals expectedVersion.
// A mismatch yields *approval.VersionError.
func (r *ExpenseRepository) Save(ctx context.Context, exp *approval.Expense, expectedVersion int64) error {
	policy, chain, history, err := marshalExpenseJSON(exp)
	if err != nil {
		return err
	}

	query := `
		UPDATE expenses
		SET amount              = $3,
		    currency            = $4,
		    category            = $5,
		    department          = $6,
		    description         = $7,
		    status              = $8,
		    current_approver_id = $9,
		    rule_id             = $10,
		    policy              = $11,
		    approval_chain      = $12,
		    approval_history    = $13,
		    rejection_reason    = $14,
		    rejected_by         = $15,
		    rejected_at         = $16,
		    final_approver_id   = $17,
		    approved_at         = $18,
		    submitted_at        = $19,
		    version             = $20,
		    updated_at          = NOW()
		WHERE id = $1 AND version = $2
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		exp.ID,
		expectedVersion,
		exp.Amount,
		exp.Currency,
		exp.Category,
		exp.Department,
		exp.Description,
		exp.Status,
		exp.CurrentApproverID,
		exp.RuleID,
		policy,
		chain,
		history,
		exp.RejectionReason,
		exp.RejectedBy,
		exp.RejectedAt,
		exp.FinalApproverID,
		exp.ApprovedAt,
		exp.SubmittedAt,
		exp.Version,
	).Scan(&exp.UpdatedAt)

	if stderrors.Is(err, pgx.ErrNoRows) {
		return r.versionConflict(ctx, exp.ID, expectedVersion)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save expense")
	}
	return nil
}

// versionConflict distinguishes a missing row from a stale version.
func (r *ExpenseRepository) versionConflict(ctx context.Context, id string, expected int64) error {
	var actual int64
	err := r.db.QueryRow(ctx, `SELECT version FROM expenses WHERE id = $1`, id).Scan(&actual)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("expense", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read expense version")
	}
	return &approval.VersionError{ExpenseID: id, Expected: expected, Actual: actual}
}

// UpdateDraft writes the editable fields of a draft. The row must still be a
// draft at expectedVersion.
func (r *ExpenseRepository) UpdateDraft(ctx context.Context, exp *approval.Expense, expectedVersion int64) error {
	query := `
		UPDATE expenses
		SET amount      = $3,
		    currency    = $4,
		    category    = $5,
		    department  = $6,
		    description = $7,
		    version     = $8,
		    updated_at  = NOW()
		WHERE id = $1 AND version = $2 AND status = 'draft'
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		exp.ID,
		expectedVersion,
		exp.Amount,
		exp.Currency,
		exp.Category,
		exp.Department,
		exp.Description,
		exp.Version,
	).Scan(&exp.CreatedAt, &exp.UpdatedAt)

	if stderrors.Is(err, pgx.ErrNoRows) {
		return r.draftConflict(ctx, exp.ID, expectedVersion)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update expense")
	}
	return nil
}

// DeleteDraft removes a draft at expectedVersion.
func (r *ExpenseRepository) DeleteDraft(ctx context.Context, id string, expectedVersion int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM expenses WHERE id = $1 AND version = $2 AND status = 'draft'`,
		id, expectedVersion,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete expense")
	}
	if tag.RowsAffected() == 0 {
		return r.draftConflict(ctx, id, expectedVersion)
	}
	return nil
}

// draftConflict explains why a draft-only write matched no row.
func (r *ExpenseRepository) draftConflict(ctx context.Context, id string, expected int64) error {
	var (
		actual int64
		status approval.Status
	)
	err := r.db.QueryRow(ctx, `SELECT version, status FROM expenses WHERE id = $1`, id).Scan(&actual, &status)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.NotFound("expense", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to read expense version")
	}
	if actual != expected {
		return &approval.VersionError{ExpenseID: id, Expected: expected, Actual: actual}
	}
	return errNotDraft(id, status)
}

// ListBySubmitter returns submittedBy's expenses, newest first.
func (r *ExpenseRepository) ListBySubmitter(ctx context.Context, submittedBy string, filter ExpenseFilter) ([]approval.Expense, error) {
	query := `SELECT ` + expenseColumns + `
		FROM expenses
		WHERE submitted_by = $1
		  AND ($2::text = '' OR status = $2::text)
		  AND ($3::text = '' OR lower(category) = lower($3::text))
		ORDER BY created_at DESC, id ASC
	`
	return r.list(ctx, query, submittedBy, string(filter.Status), filter.Category)
}

// ListPending returns every pending expense, oldest submission first.
func (r *ExpenseRepository) ListPending(ctx context.Context) ([]approval.Expense, error) {
	query := `SELECT ` + expenseColumns + `
		FROM expenses
		WHERE status = 'pending'
		ORDER BY submitted_at ASC, id ASC
	`
	return r.list(ctx, query)
}

// ListPendingForUser returns pending expenses where userID holds a pending
// entry, is its delegate, or is the policy's specific approver. Callers still
// decide whether the user may act.
func (r *ExpenseRepository) ListPendingForUser(ctx context.Context, userID string) ([]approval.Expense, error) {
	query := `SELECT ` + expenseColumns + `
		FROM expenses
		WHERE status = 'pending'
		  AND (policy->>'specific_approver_id' = $1
		       OR EXISTS (
		           SELECT 1 FROM jsonb_array_elements(approval_chain) AS e
		           WHERE e->>'status' = 'pending'
		             AND (e->>'approver_id' = $1 OR e->'delegated_to'->>'to' = $1)))
		ORDER BY submitted_at ASC, id ASC
	`
	return r.list(ctx, query, userID)
}

// CountPendingByRule reports how many pending expenses were routed by ruleID.
func (r *ExpenseRepository) CountPendingByRule(ctx context.Context, ruleID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM expenses WHERE rule_id = $1 AND status = 'pending'`, ruleID,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count pending expenses")
	}
	return n, nil
}

func (r *ExpenseRepository) list(ctx context.Context, query string, args ...any) ([]approval.Expense, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list expenses")
	}
	defer rows.Close()

	var out []approval.Expense
	for rows.Next() {
		exp, err := scanExpense(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan expense")
		}
		out = append(out, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list expenses")
	}
	return out, nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func marshalExpenseJSON(exp *approval.Expense) (policy, chain, history []byte, err error) {
	if policy, err = json.Marshal(exp.Policy); err != nil {
		return nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal expense policy")
	}
	entries := exp.Chain
	if entries == nil {
		entries = []approval.ChainEntry{}
	}
	if chain, err = json.Marshal(entries); err != nil {
		return nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval chain")
	}
	records := exp.History
	if records == nil {
		records = []approval.HistoryEntry{}
	}
	if history, err = json.Marshal(records); err != nil {
		return nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval history")
	}
	return policy, chain, history, nil
}

func scanExpense(row scanner) (approval.Expense, error) {
	var (
		exp                                approval.Expense
		policyJSON, chainJSON, historyJSON []byte
	)

	err := row.Scan(
		&exp.ID,
		&exp.Amount,
		&exp.Currency,
		&exp.Category,
		&exp.Department,
		&exp.Description,
		&exp.SubmittedBy,
		&exp.Status,
		&exp.CurrentApproverID,
		&exp.RuleID,
		&policyJSON,
		&chainJSON,
		&historyJSON,
		&exp.RejectionReason,
		&exp.RejectedBy,
		&exp.RejectedAt,
		&exp.FinalApproverID,
		&exp.ApprovedAt,
		&exp.SubmittedAt,
		&exp.Version,
		&exp.CreatedAt,
		&exp.UpdatedAt,
	)
	if err != nil {
		return approval.Expense{}, err
	}

	if err := json.Unmarshal(policyJSON, &exp.Policy); err != nil {
		return approval.Expense{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal expense policy")
	}
	if err := json.Unmarshal(chainJSON, &exp.Chain); err != nil {
		return approval.Expense{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal approval chain")
	}
	if err := json.Unmarshal(historyJSON, &exp.History); err != nil {
		return approval.Expense{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal approval history")
	}
	if len(exp.Chain) == 0 {
		exp.Chain = nil
	}
	if len(exp.History) == 0 {
		exp.History = nil
	}
	return exp, nil
}
