package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/errors"
)

// ── Rules ────────────────────────────────────────────────────────────────────

// MemoryRuleRepository is an in-process RuleRepository for tests and the
// memory storage driver.
type MemoryRuleRepository struct {
	mu    sync.RWMutex
	rules map[string]approval.Rule
	seq   map[string]int64
	next  int64
}

// NewMemoryRuleRepository creates an empty MemoryRuleRepository.
func NewMemoryRuleRepository() *MemoryRuleRepository {
	return &MemoryRuleRepository{
		rules: make(map[string]approval.Rule),
		seq:   make(map[string]int64),
	}
}

// Create stores rule. rule.ID must already be set.
func (r *MemoryRuleRepository) Create(_ context.Context, rule *approval.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[rule.ID]; ok {
		return errors.New(errors.ErrCodeConflict, "approval rule already exists: "+rule.ID)
	}
	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now
	r.rules[rule.ID] = cloneRule(*rule)
	r.seq[rule.ID] = r.next
	r.next++
	return nil
}

// Get retrieves a rule by id.
func (r *MemoryRuleRepository) Get(_ context.Context, id string) (approval.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[id]
	if !ok {
		return approval.Rule{}, errors.NotFound("approval_rule", id)
	}
	return cloneRule(rule), nil
}

// List returns rules ordered by priority, then insertion order.
func (r *MemoryRuleRepository) List(_ context.Context, activeOnly bool) ([]approval.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]approval.Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if activeOnly && !rule.IsActive {
			continue
		}
		out = append(out, cloneRule(rule))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return r.seq[out[i].ID] < r.seq[out[j].ID]
	})
	return out, nil
}

// Update replaces a stored rule. rule.Version must be one past the stored
// version.
func (r *MemoryRuleRepository) Update(_ context.Context, rule *approval.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rules[rule.ID]
	if !ok {
		return errors.NotFound("approval_rule", rule.ID)
	}
	if existing.Version != rule.Version-1 {
		return ruleVersionConflict(rule.ID, existing.Version)
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	r.rules[rule.ID] = cloneRule(*rule)
	return nil
}

// SetPriorities rewrites several priorities atomically.
func (r *MemoryRuleRepository) SetPriorities(_ context.Context, priorities map[string]int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range priorities {
		if _, ok := r.rules[id]; !ok {
			return errors.NotFound("approval_rule", id)
		}
	}
	now := time.Now().UTC()
	for id, p := range priorities {
		rule := r.rules[id]
		rule.Priority = p
		rule.Version++
		rule.UpdatedAt = now
		r.rules[id] = rule
	}
	return nil
}

// SetActive flips activation on several rules atomically.
func (r *MemoryRuleRepository) SetActive(_ context.Context, ids []string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		if _, ok := r.rules[id]; !ok {
			return errors.NotFound("approval_rule", id)
		}
	}
	now := time.Now().UTC()
	for _, id := range ids {
		rule := r.rules[id]
		rule.IsActive = active
		rule.Version++
		rule.UpdatedAt = now
		r.rules[id] = rule
	}
	return nil
}

// Delete removes a rule.
func (r *MemoryRuleRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[id]; !ok {
		return errors.NotFound("approval_rule", id)
	}
	delete(r.rules, id)
	delete(r.seq, id)
	return nil
}

func ruleVersionConflict(id string, stored int) error {
	return errors.New(errors.ErrCodeConflict,
		fmt.Sprintf("approval rule %s was modified concurrently (stored version %d)", id, stored))
}

func cloneRule(rule approval.Rule) approval.Rule {
	out := rule
	out.Approvers = append([]approval.RuleApprover(nil), rule.Approvers...)
	out.Conditions.Categories = append([]string(nil), rule.Conditions.Categories...)
	out.Conditions.Departments = append([]string(nil), rule.Conditions.Departments...)
	out.Conditions.SpecificUsers = append([]string(nil), rule.Conditions.SpecificUsers...)
	return out
}

// ── Expenses ─────────────────────────────────────────────────────────────────

// MemoryExpenseRepository is an in-process ExpenseRepository with the same
// compare-and-swap semantics as the PostgreSQL one.
type MemoryExpenseRepository struct {
	mu       sync.RWMutex
	expenses map[string]approval.Expense
}

// NewMemoryExpenseRepository creates an empty MemoryExpenseRepository.
func NewMemoryExpenseRepository() *MemoryExpenseRepository {
	return &MemoryExpenseRepository{expenses: make(map[string]approval.Expense)}
}

// Create stores exp. exp.ID must already be set.
func (r *MemoryExpenseRepository) Create(_ context.Context, exp *approval.Expense) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.expenses[exp.ID]; ok {
		return errors.New(errors.ErrCodeConflict, "expense already exists: "+exp.ID)
	}
	now := time.Now().UTC()
	exp.CreatedAt, exp.UpdatedAt = now, now
	r.expenses[exp.ID] = exp.Clone()
	return nil
}

// Get retrieves an expense by id.
func (r *MemoryExpenseRepository) Get(_ context.Context, id string) (approval.Expense, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exp, ok := r.expenses[id]
	if !ok {
		return approval.Expense{}, errors.NotFound("expense", id)
	}
	return exp.Clone(), nil
}

// Save writes exp only if the stored version equals expectedVersion.
func (r *MemoryExpenseRepository) Save(_ context.Context, exp *approval.Expense, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.expenses[exp.ID]
	if !ok {
		return errors.NotFound("expense", exp.ID)
	}
	if stored.Version != expectedVersion {
		return &approval.VersionError{ExpenseID: exp.ID, Expected: expectedVersion, Actual: stored.Version}
	}
	exp.CreatedAt = stored.CreatedAt
	exp.UpdatedAt = time.Now().UTC()
	r.expenses[exp.ID] = exp.Clone()
	return nil
}

// UpdateDraft writes exp only if the stored expense is a draft at
// expectedVersion.
func (r *MemoryExpenseRepository) UpdateDraft(_ context.Context, exp *approval.Expense, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, err := r.storedDraft(exp.ID, expectedVersion)
	if err != nil {
		return err
	}
	exp.CreatedAt = stored.CreatedAt
	exp.UpdatedAt = time.Now().UTC()
	r.expenses[exp.ID] = exp.Clone()
	return nil
}

// DeleteDraft removes a draft at expectedVersion.
func (r *MemoryExpenseRepository) DeleteDraft(_ context.Context, id string, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.storedDraft(id, expectedVersion); err != nil {
		return err
	}
	delete(r.expenses, id)
	return nil
}

// storedDraft must be called with r.mu held.
func (r *MemoryExpenseRepository) storedDraft(id string, expectedVersion int64) (approval.Expense, error) {
	stored, ok := r.expenses[id]
	if !ok {
		return approval.Expense{}, errors.NotFound("expense", id)
	}
	if stored.Version != expectedVersion {
		return approval.Expense{}, &approval.VersionError{ExpenseID: id, Expected: expectedVersion, Actual: stored.Version}
	}
	if stored.Status != approval.StatusDraft {
		return approval.Expense{}, errNotDraft(id, stored.Status)
	}
	return stored, nil
}

// ListBySubmitter returns submittedBy's expenses, newest first.
func (r *MemoryExpenseRepository) ListBySubmitter(_ context.Context, submittedBy string, filter ExpenseFilter) ([]approval.Expense, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []approval.Expense
	for _, exp := range r.expenses {
		if exp.SubmittedBy != submittedBy {
			continue
		}
		if filter.Status != "" && exp.Status != filter.Status {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(exp.Category, filter.Category) {
			continue
		}
		out = append(out, exp.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListPending returns every pending expense, oldest submission first.
func (r *MemoryExpenseRepository) ListPending(_ context.Context) ([]approval.Expense, error) {
	return r.filter(func(approval.Expense) bool { return true }), nil
}

// ListPendingForUser returns pending expenses where userID holds or was
// delegated a pending entry, or is the specific approver.
func (r *MemoryExpenseRepository) ListPendingForUser(_ context.Context, userID string) ([]approval.Expense, error) {
	return r.filter(func(exp approval.Expense) bool {
		if userID != "" && exp.Policy.SpecificApproverID == userID {
			return true
		}
		for _, entry := range exp.Chain {
			if entry.Status != approval.EntryPending {
				continue
			}
			if entry.ApproverID == userID || (entry.Delegation != nil && entry.Delegation.To == userID) {
				return true
			}
		}
		return false
	}), nil
}

// CountPendingByRule reports how many pending expenses were routed by ruleID.
func (r *MemoryExpenseRepository) CountPendingByRule(_ context.Context, ruleID string) (int, error) {
	return len(r.filter(func(exp approval.Expense) bool { return exp.RuleID == ruleID })), nil
}

func (r *MemoryExpenseRepository) filter(keep func(approval.Expense) bool) []approval.Expense {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []approval.Expense
	for _, exp := range r.expenses {
		if exp.Status == approval.StatusPending && keep(exp) {
			out = append(out, exp.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SubmittedAt, out[j].SubmittedAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ── Audit ────────────────────────────────────────────────────────────────────

// MemoryAuditRepository is an append-only in-process audit log.
type MemoryAuditRepository struct {
	mu      sync.RWMutex
	entries []AuditEntry
}

// NewMemoryAuditRepository creates an empty MemoryAuditRepository.
func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

// Append records one entry.
func (r *MemoryAuditRepository) Append(_ context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.ID = uuid.NewString()
	entry.PerformedAt = time.Now().UTC()
	r.entries = append(r.entries, *entry)
	return nil
}

// ListByExpense returns the audit trail for an expense, oldest first.
func (r *MemoryAuditRepository) ListByExpense(_ context.Context, expenseID string) ([]*AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*AuditEntry
	for _, e := range r.entries {
		if e.ExpenseID == expenseID {
			entry := e
			out = append(out, &entry)
		}
	}
	return out, nil
}
