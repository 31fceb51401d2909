package repository

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/database"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/errors"
)

// RuleRepository handles CRUD for approval_rules. Conditions, settings and
// approvers are stored as JSONB.
type RuleRepository struct {
	db *database.DB
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(db *database.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `
	id, name, description, rule_type, approval_type,
	is_active, is_default, priority,
	conditions, settings, approvers,
	version, created_at, updated_at
`

// Create inserts a new rule. rule.ID must already be set.
func (r *RuleRepository) Create(ctx context.Context, rule *approval.Rule) error {
	conditions, settings, approvers, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO approval_rules
		    (id, name, description, rule_type, approval_type,
		     is_active, is_default, priority,
		     conditions, settings, approvers, version)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8,
		        $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.RuleType,
		rule.ApprovalType,
		rule.IsActive,
		rule.IsDefault,
		rule.Priority,
		conditions,
		settings,
		approvers,
		rule.Version,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return ruleWriteError(err, "failed to create approval rule")
	}
	return nil
}

// Get retrieves a rule by primary key.
func (r *RuleRepository) Get(ctx context.Context, id string) (approval.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return approval.Rule{}, errors.NotFound("approval_rule", id)
	}
	if err != nil {
		return approval.Rule{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval rule")
	}
	return rule, nil
}

// List returns rules ordered by priority, then insertion order.
func (r *RuleRepository) List(ctx context.Context, activeOnly bool) ([]approval.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY priority ASC, created_at ASC, id ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []approval.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	return rules, nil
}

// Update persists changes to an existing rule.
func (r *RuleRepository) Update(ctx context.Context, rule *approval.Rule) error {
	conditions, settings, approvers, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE approval_rules
		SET name          = $2,
		    description   = $3,
		    rule_type     = $4,
		    approval_type = $5,
		    is_active     = $6,
		    is_default    = $7,
		    priority      = $8,
		    conditions    = $9,
		    settings      = $10,
		    approvers     = $11,
		    version       = $12,
		    updated_at    = NOW()
		WHERE id = $1 AND version = $12 - 1
		RETURNING updated_at
	`

	err = r.db.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.RuleType,
		rule.ApprovalType,
		rule.IsActive,
		rule.IsDefault,
		rule.Priority,
		conditions,
		settings,
		approvers,
		rule.Version,
	).Scan(&rule.UpdatedAt)

	if stderrors.Is(err, pgx.ErrNoRows) {
		var stored int
		err := r.db.QueryRow(ctx, `SELECT version FROM approval_rules WHERE id = $1`, rule.ID).Scan(&stored)
		if stderrors.Is(err, pgx.ErrNoRows) {
			return errors.NotFound("approval_rule", rule.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval rule version")
		}
		return ruleVersionConflict(rule.ID, stored)
	}
	if err != nil {
		return ruleWriteError(err, "failed to update approval rule")
	}
	return nil
}

// SetPriorities rewrites the priority of several rules in one transaction.
func (r *RuleRepository) SetPriorities(ctx context.Context, priorities map[string]int) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		for id, priority := range priorities {
			tag, err := tx.Exec(ctx, `
				UPDATE approval_rules
				SET priority = $2, version = version + 1, updated_at = NOW()
				WHERE id = $1
			`, id, priority)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to reorder approval rules")
			}
			if tag.RowsAffected() == 0 {
				return errors.NotFound("approval_rule", id)
			}
		}
		return nil
	})
}

// SetActive flips is_active on several rules in one transaction.
func (r *RuleRepository) SetActive(ctx context.Context, ids []string, active bool) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		for _, id := range ids {
			tag, err := tx.Exec(ctx, `
				UPDATE approval_rules
				SET is_active = $2, version = version + 1, updated_at = NOW()
				WHERE id = $1
			`, id, active)
			if err != nil {
				return ruleWriteError(err, "failed to update rule activation")
			}
			if tag.RowsAffected() == 0 {
				return errors.NotFound("approval_rule", id)
			}
		}
		return nil
	})
}

// Delete removes a rule.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM approval_rules WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approval rule")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_rule", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// ruleWriteError maps a violation of the active-name or single-default index
// to a conflict.
func ruleWriteError(err error, msg string) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Wrap(err, errors.ErrCodeConflict, "approval rule conflicts with an active rule: "+pgErr.ConstraintName)
	}
	return errors.Wrap(err, errors.ErrCodeInternal, msg)
}

func marshalRuleJSON(rule *approval.Rule) (conditions, settings, approvers []byte, err error) {
	if conditions, err = json.Marshal(rule.Conditions); err != nil {
		return nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule conditions")
	}
	if settings, err = json.Marshal(rule.Settings); err != nil {
		return nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule settings")
	}
	list := rule.Approvers
	if list == nil {
		list = []approval.RuleApprover{}
	}
	if approvers, err = json.Marshal(list); err != nil {
		return nil, nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal rule approvers")
	}
	return conditions, settings, approvers, nil
}

func scanRule(row scanner) (approval.Rule, error) {
	var (
		rule                                  approval.Rule
		conditionsJSON, settingsJSON, appJSON []byte
	)

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&rule.RuleType,
		&rule.ApprovalType,
		&rule.IsActive,
		&rule.IsDefault,
		&rule.Priority,
		&conditionsJSON,
		&settingsJSON,
		&appJSON,
		&rule.Version,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return approval.Rule{}, err
	}

	if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
		return approval.Rule{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule conditions")
	}
	if err := json.Unmarshal(settingsJSON, &rule.Settings); err != nil {
		return approval.Rule{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule settings")
	}
	if err := json.Unmarshal(appJSON, &rule.Approvers); err != nil {
		return approval.Rule{}, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal rule approvers")
	}
	return rule, nil
}
