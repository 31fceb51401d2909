package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/client"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/errors"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/logger"
	"github.com/pesio-ai/be-exp-approvals/internal/repository"
)

// ApprovalService routes expenses through approval chains. Chain logic lives
// in approval.Engine; this layer loads, persists, audits and notifies.
type ApprovalService struct {
	engine   *approval.Engine
	rules    RuleStore
	expenses ExpenseStore
	audit    AuditStore
	notifier Notifier
	log      *logger.Logger
	newID    func() string
}

// NewApprovalService creates a new ApprovalService. notifier may be nil.
func NewApprovalService(
	engine *approval.Engine,
	rules RuleStore,
	expenses ExpenseStore,
	audit AuditStore,
	notifier Notifier,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		engine:   engine,
		rules:    rules,
		expenses: expenses,
		audit:    audit,
		notifier: notifier,
		log:      log,
		newID:    uuid.NewString,
	}
}

// ── Expenses ──────────────────────────────────────────────────────────────────

// CreateExpenseInput describes a new draft expense.
type CreateExpenseInput struct {
	Amount      decimal.Decimal
	Currency    string
	Category    string
	Department  string
	Description string
}

// CreateExpense stores a draft expense owned by the actor.
func (s *ApprovalService) CreateExpense(ctx context.Context, actor Actor, in CreateExpenseInput) (approval.Expense, error) {
	if err := actor.require(); err != nil {
		return approval.Expense{}, err
	}
	if !in.Amount.IsPositive() {
		return approval.Expense{}, errors.InvalidInput("amount", "must be greater than zero")
	}
	currency, err := normalizeCurrency(in.Currency)
	if err != nil {
		return approval.Expense{}, err
	}

	exp := approval.Expense{
		ID:          s.newID(),
		Amount:      in.Amount,
		Currency:    currency,
		Category:    strings.TrimSpace(in.Category),
		Department:  strings.TrimSpace(in.Department),
		Description: in.Description,
		SubmittedBy: actor.UserID,
		Status:      approval.StatusDraft,
	}
	if err := s.expenses.Create(ctx, &exp); err != nil {
		return approval.Expense{}, err
	}

	s.log.Info().
		Str("expense_id", exp.ID).
		Str("amount", exp.Amount.String()).
		Str("submitted_by", exp.SubmittedBy).
		Msg("Expense created")

	return exp, nil
}

// GetExpense returns an expense with its chain and history.
func (s *ApprovalService) GetExpense(ctx context.Context, id string) (approval.Expense, error) {
	return s.expenses.Get(ctx, id)
}

// ListExpensesInput filters ListExpenses. SubmittedBy defaults to the actor.
type ListExpensesInput struct {
	SubmittedBy string
	Status      approval.Status
	Category    string
}

// ListExpenses returns one submitter's expenses, newest first. Only admins may
// list another user's expenses.
func (s *ApprovalService) ListExpenses(ctx context.Context, actor Actor, in ListExpensesInput) ([]approval.Expense, error) {
	if err := actor.require(); err != nil {
		return nil, err
	}
	owner := strings.TrimSpace(in.SubmittedBy)
	if owner == "" {
		owner = actor.UserID
	}
	if owner != actor.UserID && !actor.IsAdmin() {
		return nil, errors.New(errors.ErrCodeForbidden, "only admins can list another user's expenses")
	}
	switch in.Status {
	case "", approval.StatusDraft, approval.StatusPending, approval.StatusApproved, approval.StatusRejected:
	default:
		return nil, errors.InvalidInput("status", fmt.Sprintf("unknown expense status %q", in.Status))
	}

	return s.expenses.ListBySubmitter(ctx, owner, repository.ExpenseFilter{
		Status:   in.Status,
		Category: strings.TrimSpace(in.Category),
	})
}

// UpdateDraftInput edits a draft expense. Nil fields are left unchanged.
type UpdateDraftInput struct {
	ExpectedVersion int64
	Amount          *decimal.Decimal
	Currency        *string
	Category        *string
	Department      *string
	Description     *string
}

// UpdateDraft edits a draft owned by the actor.
func (s *ApprovalService) UpdateDraft(ctx context.Context, actor Actor, id string, in UpdateDraftInput) (approval.Expense, error) {
	if err := actor.require(); err != nil {
		return approval.Expense{}, err
	}
	exp, err := s.expenses.Get(ctx, id)
	if err != nil {
		return approval.Expense{}, err
	}
	if err := assertOwner(exp, actor); err != nil {
		return approval.Expense{}, err
	}
	if exp.Version != in.ExpectedVersion {
		return approval.Expense{}, translate(&approval.VersionError{ExpenseID: id, Expected: in.ExpectedVersion, Actual: exp.Version})
	}
	if exp.Status != approval.StatusDraft {
		return approval.Expense{}, translate(fmt.Errorf("%w: expense %s is %s, only drafts can be edited",
			approval.ErrInvalidTransition, id, exp.Status))
	}

	out := exp.Clone()
	edits := expenseEdits{
		Amount:      in.Amount,
		Currency:    in.Currency,
		Category:    in.Category,
		Department:  in.Department,
		Description: in.Description,
	}
	if err := edits.apply(&out); err != nil {
		return approval.Expense{}, err
	}
	out.Version++
	if err := s.expenses.UpdateDraft(ctx, &out, exp.Version); err != nil {
		return approval.Expense{}, translate(err)
	}

	s.log.Info().
		Str("expense_id", out.ID).
		Str("updated_by", actor.UserID).
		Int64("version", out.Version).
		Msg("Draft expense updated")

	s.appendAudit(ctx, &repository.AuditEntry{
		ExpenseID:    out.ID,
		Action:       "updated",
		PerformedBy:  actor.UserID,
		StatusBefore: string(exp.Status),
		StatusAfter:  string(out.Status),
		Metadata:     map[string]any{"fields": edits.fields()},
	})
	return out, nil
}

// DeleteDraft removes a draft owned by the actor.
func (s *ApprovalService) DeleteDraft(ctx context.Context, actor Actor, id string, expectedVersion int64) error {
	if err := actor.require(); err != nil {
		return err
	}
	exp, err := s.expenses.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := assertOwner(exp, actor); err != nil {
		return err
	}
	if err := s.expenses.DeleteDraft(ctx, id, expectedVersion); err != nil {
		return translate(err)
	}

	s.log.Info().
		Str("expense_id", id).
		Str("deleted_by", actor.UserID).
		Msg("Draft expense deleted")

	s.appendAudit(ctx, &repository.AuditEntry{
		ExpenseID:    id,
		Action:       "deleted",
		PerformedBy:  actor.UserID,
		StatusBefore: string(exp.Status),
	})
	return nil
}

// ── Submit ────────────────────────────────────────────────────────────────────

// SubmitExpense matches the draft against active rules, builds its chain and
// moves it to pending.
func (s *ApprovalService) SubmitExpense(ctx context.Context, actor Actor, id string, expectedVersion int64) (approval.Expense, error) {
	if err := actor.require(); err != nil {
		return approval.Expense{}, err
	}
	exp, err := s.expenses.Get(ctx, id)
	if err != nil {
		return approval.Expense{}, err
	}
	if err := assertOwner(exp, actor); err != nil {
		return approval.Expense{}, err
	}

	out, rule, err := s.route(ctx, exp, expectedVersion)
	if err != nil {
		return approval.Expense{}, err
	}
	if err := s.expenses.Save(ctx, &out, exp.Version); err != nil {
		return approval.Expense{}, translate(err)
	}

	s.log.Info().
		Str("expense_id", out.ID).
		Str("rule_id", rule.ID).
		Str("approval_type", string(out.Policy.ApprovalType)).
		Int("chain_length", len(out.Chain)).
		Msg("Expense submitted for approval")

	s.appendAudit(ctx, &repository.AuditEntry{
		ExpenseID:    out.ID,
		Action:       "submitted",
		PerformedBy:  actor.UserID,
		StatusBefore: string(exp.Status),
		StatusAfter:  string(out.Status),
		Metadata:     map[string]any{"rule_id": rule.ID, "rule_name": rule.Name},
	})
	s.notify(ctx, client.EventExpenseSubmitted, out, actor.UserID, []string{out.SubmittedBy})
	s.notifyNewlyPending(ctx, exp, out, actor.UserID)

	return out, nil
}

// route picks the rule for a draft and applies Engine.Submit.
func (s *ApprovalService) route(ctx context.Context, exp approval.Expense, expectedVersion int64) (approval.Expense, approval.Rule, error) {
	rules, err := s.rules.List(ctx, true)
	if err != nil {
		return approval.Expense{}, approval.Rule{}, err
	}
	rule, err := approval.FindFirstMatch(rules, exp)
	if err != nil {
		return approval.Expense{}, approval.Rule{}, translate(err)
	}
	out, err := s.engine.Submit(rule, exp, expectedVersion)
	if err != nil {
		return approval.Expense{}, approval.Rule{}, translate(err)
	}
	return out, rule, nil
}

// ── Approve / Reject ──────────────────────────────────────────────────────────

// ProcessInput is an approve or reject decision.
type ProcessInput struct {
	Action          approval.Action
	Comment         string
	ExpectedVersion int64
}

// ProcessApproval applies a decision by actor. Admins may act on the current
// step in place of its approver.
func (s *ApprovalService) ProcessApproval(ctx context.Context, actor Actor, id string, in ProcessInput) (approval.Expense, error) {
	if err := actor.require(); err != nil {
		return approval.Expense{}, err
	}
	if in.Action == approval.ActionReject && strings.TrimSpace(in.Comment) == "" {
		return approval.Expense{}, errors.InvalidInput("comment", "rejection reason is required")
	}

	exp, err := s.expenses.Get(ctx, id)
	if err != nil {
		return approval.Expense{}, err
	}

	out, err := s.engine.ProcessApproval(exp, approval.ApprovalRequest{
		ApproverID:      actor.UserID,
		Action:          in.Action,
		Comment:         in.Comment,
		ExpectedVersion: in.ExpectedVersion,
		AdminOverride:   actor.IsAdmin(),
	})
	if err != nil {
		return approval.Expense{}, translate(err)
	}
	if err := s.expenses.Save(ctx, &out, exp.Version); err != nil {
		return approval.Expense{}, translate(err)
	}

	s.log.Info().
		Str("expense_id", out.ID).
		Str("approver_id", actor.UserID).
		Str("action", string(in.Action)).
		Str("status", string(out.Status)).
		Msg("Approval decision recorded")

	entryID := ""
	if entry, ok := out.EntryFor(actor.UserID); ok {
		entryID = entry.ID
	}
	s.appendAudit(ctx, &repository.AuditEntry{
		ExpenseID:    out.ID,
		EntryID:      entryID,
		Action:       auditAction(in.Action),
		PerformedBy:  actor.UserID,
		StatusBefore: string(exp.Status),
		StatusAfter:  string(out.Status),
		Metadata:     map[string]any{"comment": in.Comment, "admin_override": actor.IsAdmin()},
	})

	switch out.Status {
	case approval.StatusApproved:
		s.notify(ctx, client.EventExpenseApproved, out, actor.UserID, []string{out.SubmittedBy})
	case approval.StatusRejected:
		s.notify(ctx, client.EventExpenseRejected, out, actor.UserID, []string{out.SubmittedBy})
	default:
		s.notifyNewlyPending(ctx, exp, out, actor.UserID)
	}

	return out, nil
}

// Approve approves the actor's pending step.
func (s *ApprovalService) Approve(ctx context.Context, actor Actor, id, comment string, expectedVersion int64) (approval.Expense, error) {
	return s.ProcessApproval(ctx, actor, id, ProcessInput{
		Action: approval.ActionApprove, Comment: comment, ExpectedVersion: expectedVersion,
	})
}

// Reject rejects the expense. A reason is required.
func (s *ApprovalService) Reject(ctx context.Context, actor Actor, id, reason string, expectedVersion int64) (approval.Expense, error) {
	return s.ProcessApproval(ctx, actor, id, ProcessInput{
		Action: approval.ActionReject, Comment: reason, ExpectedVersion: expectedVersion,
	})
}

// ── Delegation ────────────────────────────────────────────────────────────────

// DelegateInput hands a chain entry to another user. An empty EntryID selects
// the actor's own pending entry.
type DelegateInput struct {
	EntryID         string
	DelegateTo      string
	Reason          string
	ExpectedVersion int64
}

// Delegate annotates a pending entry with a delegation.
func (s *ApprovalService) Delegate(ctx context.Context, actor Actor, id string, in DelegateInput) (approval.Expense, error) {
	if err := actor.require(); err != nil {
		return approval.Expense{}, err
	}
	if strings.TrimSpace(in.DelegateTo) == "" {
		return approval.Expense{}, errors.InvalidInput("delegate_to", "delegate is required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return approval.Expense{}, errors.InvalidInput("reason", "delegation reason is required")
	}

	exp, err := s.expenses.Get(ctx, id)
	if err != nil {
		return approval.Expense{}, err
	}

	entryID := in.EntryID
	if entryID == "" {
		entry, ok := pendingEntryFor(exp, actor.UserID)
		if !ok {
			return approval.Expense{}, translate(fmt.Errorf("%w: %s holds no pending entry on %s",
				approval.ErrNotAuthorized, actor.UserID, exp.ID))
		}
		entryID = entry.ID
	}

	out, err := s.engine.Delegate(exp, approval.DelegateRequest{
		EntryID:         entryID,
		ActorID:         actor.UserID,
		DelegateTo:      in.DelegateTo,
		Reason:          in.Reason,
		ExpectedVersion: in.ExpectedVersion,
		AdminOverride:   actor.IsAdmin(),
	})
	if err != nil {
		return approval.Expense{}, translate(err)
	}
	if err := s.expenses.Save(ctx, &out, exp.Version); err != nil {
		return approval.Expense{}, translate(err)
	}

	s.log.Info().
		Str("expense_id", out.ID).
		Str("entry_id", entryID).
		Str("delegated_by", actor.UserID).
		Str("delegated_to", in.DelegateTo).
		Msg("Approval delegated")

	s.appendAudit(ctx, &repository.AuditEntry{
		ExpenseID:    out.ID,
		EntryID:      entryID,
		Action:       "delegated",
		PerformedBy:  actor.UserID,
		StatusBefore: string(exp.Status),
		StatusAfter:  string(out.Status),
		Metadata:     map[string]any{"delegated_to": in.DelegateTo, "reason": in.Reason},
	})
	s.notify(ctx, client.EventApprovalDelegated, out, actor.UserID, []string{in.DelegateTo})

	return out, nil
}

// ── Resubmit ──────────────────────────────────────────────────────────────────

// ResubmitInput optionally edits a rejected expense before it is routed again.
type ResubmitInput struct {
	ExpectedVersion int64
	Amount          *decimal.Decimal
	Category        *string
	Department      *string
	Description     *string
}

// Resubmit returns a rejected expense to draft, applies edits, and submits it
// again against the current rule set. History is preserved.
func (s *ApprovalService) Resubmit(ctx context.Context, actor Actor, id string, in ResubmitInput) (approval.Expense, error) {
	if err := actor.require(); err != nil {
		return approval.Expense{}, err
	}
	exp, err := s.expenses.Get(ctx, id)
	if err != nil {
		return approval.Expense{}, err
	}
	if err := assertOwner(exp, actor); err != nil {
		return approval.Expense{}, err
	}

	draft, err := s.engine.ReturnToDraft(exp, in.ExpectedVersion)
	if err != nil {
		return approval.Expense{}, translate(err)
	}
	edits := expenseEdits{
		Amount:      in.Amount,
		Category:    in.Category,
		Department:  in.Department,
		Description: in.Description,
	}
	if err := edits.apply(&draft); err != nil {
		return approval.Expense{}, err
	}

	out, rule, err := s.route(ctx, draft, draft.Version)
	if err != nil {
		return approval.Expense{}, err
	}
	if err := s.expenses.Save(ctx, &out, exp.Version); err != nil {
		return approval.Expense{}, translate(err)
	}

	s.log.Info().
		Str("expense_id", out.ID).
		Str("rule_id", rule.ID).
		Msg("Expense resubmitted")

	s.appendAudit(ctx, &repository.AuditEntry{
		ExpenseID:    out.ID,
		Action:       "resubmitted",
		PerformedBy:  actor.UserID,
		StatusBefore: string(exp.Status),
		StatusAfter:  string(out.Status),
		Metadata:     map[string]any{"rule_id": rule.ID},
	})
	s.notifyNewlyPending(ctx, approval.Expense{}, out, actor.UserID)

	return out, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// PendingForUser returns the pending expenses the actor can act on now.
func (s *ApprovalService) PendingForUser(ctx context.Context, actor Actor) ([]approval.Expense, error) {
	if err := actor.require(); err != nil {
		return nil, err
	}
	candidates, err := s.expenses.ListPendingForUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]approval.Expense, 0, len(candidates))
	for _, exp := range candidates {
		if s.engine.ApprovalContext(exp, actor.UserID).CanAct {
			out = append(out, exp)
		}
	}
	return out, nil
}

// ApprovalContext reports where the actor stands on an expense's chain.
func (s *ApprovalService) ApprovalContext(ctx context.Context, actor Actor, id string) (approval.Context, error) {
	exp, err := s.expenses.Get(ctx, id)
	if err != nil {
		return approval.Context{}, err
	}
	return s.engine.ApprovalContext(exp, actor.UserID), nil
}

// ETA is an advisory estimate of remaining approval time.
type ETA struct {
	ExpenseID   string     `json:"expense_id"`
	FromStep    int        `json:"from_step"`
	Hours       float64    `json:"hours"`
	EstimatedAt *time.Time `json:"estimated_at,omitempty"`
}

// ExpectedApprovalTime estimates how long the rest of the chain will take,
// starting from the earliest pending step.
func (s *ApprovalService) ExpectedApprovalTime(ctx context.Context, id string) (ETA, error) {
	exp, err := s.expenses.Get(ctx, id)
	if err != nil {
		return ETA{}, err
	}
	eta := ETA{ExpenseID: exp.ID}
	if exp.Status != approval.StatusPending {
		return eta, nil
	}

	for _, entry := range exp.Chain {
		if entry.Status == approval.EntryPending && (eta.FromStep == 0 || entry.Order < eta.FromStep) {
			eta.FromStep = entry.Order
		}
	}
	eta.Hours = s.engine.ExpectedApprovalTime(exp.Chain, eta.FromStep)
	at := time.Now().UTC().Add(time.Duration(eta.Hours * float64(time.Hour)))
	eta.EstimatedAt = &at
	return eta, nil
}

// AuditTrail returns the audit log for an expense.
func (s *ApprovalService) AuditTrail(ctx context.Context, id string) ([]*repository.AuditEntry, error) {
	if _, err := s.expenses.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.ListByExpense(ctx, id)
}

// MatchInput describes a hypothetical expense for a routing dry run.
type MatchInput struct {
	Amount      decimal.Decimal
	Category    string
	Department  string
	SubmittedBy string
}

// MatchResult is the outcome of a routing dry run.
type MatchResult struct {
	Rule       approval.Rule         `json:"rule"`
	Applicable []approval.Rule       `json:"applicable_rules"`
	Chain      []approval.ChainEntry `json:"chain"`
}

// MatchRule reports which rule would route the expense and the chain it would
// get, without saving anything.
func (s *ApprovalService) MatchRule(ctx context.Context, in MatchInput) (MatchResult, error) {
	if !in.Amount.IsPositive() {
		return MatchResult{}, errors.InvalidInput("amount", "must be greater than zero")
	}
	rules, err := s.rules.List(ctx, true)
	if err != nil {
		return MatchResult{}, err
	}
	exp := approval.Expense{
		ID:          "dry-run",
		Amount:      in.Amount,
		Category:    in.Category,
		Department:  in.Department,
		SubmittedBy: in.SubmittedBy,
		Status:      approval.StatusDraft,
	}

	rule, err := approval.FindFirstMatch(rules, exp)
	if err != nil {
		return MatchResult{}, translate(err)
	}
	chain, err := s.engine.BuildChain(rule, exp)
	if err != nil {
		return MatchResult{}, translate(err)
	}
	return MatchResult{
		Rule:       rule,
		Applicable: approval.FindApplicableRules(rules, exp),
		Chain:      chain,
	}, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// expenseEdits are optional changes to the editable fields of a draft.
type expenseEdits struct {
	Amount      *decimal.Decimal
	Currency    *string
	Category    *string
	Department  *string
	Description *string
}

func (e expenseEdits) apply(exp *approval.Expense) error {
	if e.Amount != nil {
		if !e.Amount.IsPositive() {
			return errors.InvalidInput("amount", "must be greater than zero")
		}
		exp.Amount = *e.Amount
	}
	if e.Currency != nil {
		currency, err := normalizeCurrency(*e.Currency)
		if err != nil {
			return err
		}
		exp.Currency = currency
	}
	if e.Category != nil {
		exp.Category = strings.TrimSpace(*e.Category)
	}
	if e.Department != nil {
		exp.Department = strings.TrimSpace(*e.Department)
	}
	if e.Description != nil {
		exp.Description = *e.Description
	}
	return nil
}

// fields names the edited fields, for the audit log.
func (e expenseEdits) fields() []string {
	var out []string
	if e.Amount != nil {
		out = append(out, "amount")
	}
	if e.Currency != nil {
		out = append(out, "currency")
	}
	if e.Category != nil {
		out = append(out, "category")
	}
	if e.Department != nil {
		out = append(out, "department")
	}
	if e.Description != nil {
		out = append(out, "description")
	}
	return out
}

// normalizeCurrency upper-cases an ISO 4217 code; blank means USD.
func normalizeCurrency(raw string) (string, error) {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		return "", errors.InvalidInput("currency", "must be a 3-letter ISO code")
	}
	return currency, nil
}

// assertOwner checks that actor submitted the expense or is an admin.
func assertOwner(exp approval.Expense, actor Actor) error {
	if exp.SubmittedBy == actor.UserID || actor.IsAdmin() {
		return nil
	}
	return errors.New(errors.ErrCodeForbidden, "only the submitter can perform this action")
}

func pendingEntryFor(exp approval.Expense, userID string) (approval.ChainEntry, bool) {
	for _, entry := range exp.Chain {
		if entry.Status == approval.EntryPending && entry.ApproverID == userID {
			return entry, true
		}
	}
	return approval.ChainEntry{}, false
}

func auditAction(a approval.Action) string {
	if a == approval.ActionReject {
		return "rejected"
	}
	return "approved"
}

// notifyNewlyPending tells approvers whose entry became pending between before
// and after that their decision is needed.
func (s *ApprovalService) notifyNewlyPending(ctx context.Context, before, after approval.Expense, actorID string) {
	wasPending := make(map[string]bool, len(before.Chain))
	for _, entry := range before.Chain {
		if entry.Status == approval.EntryPending {
			wasPending[entry.ID] = true
		}
	}
	var recipients []string
	for _, entry := range after.Chain {
		if entry.Status != approval.EntryPending || wasPending[entry.ID] {
			continue
		}
		recipients = append(recipients, entry.ApproverID)
		if entry.Delegation != nil {
			recipients = append(recipients, entry.Delegation.To)
		}
	}
	s.notify(ctx, client.EventApprovalRequired, after, actorID, recipients)
}

func (s *ApprovalService) notify(ctx context.Context, eventType string, exp approval.Expense, actorID string, recipients []string) {
	if s.notifier == nil {
		return
	}
	s.notifier.PublishExpenseEvent(ctx, eventType, exp.ID, actorID, recipients, map[string]any{
		"amount":              exp.Amount.String(),
		"currency":            exp.Currency,
		"category":            exp.Category,
		"status":              string(exp.Status),
		"current_approver_id": exp.CurrentApproverID,
	})
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func (s *ApprovalService) appendAudit(ctx context.Context, entry *repository.AuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("expense_id", entry.ExpenseID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}
