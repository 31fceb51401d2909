package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/errors"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/logger"
)

// RuleService administers approval rules. Every mutation requires an admin.
type RuleService struct {
	rules    RuleStore
	expenses ExpenseStore
	log      *logger.Logger
	newID    func() string
}

// NewRuleService creates a new RuleService.
func NewRuleService(rules RuleStore, expenses ExpenseStore, log *logger.Logger) *RuleService {
	return &RuleService{
		rules:    rules,
		expenses: expenses,
		log:      log,
		newID:    uuid.NewString,
	}
}

// Create validates and stores a new rule at version 1.
func (s *RuleService) Create(ctx context.Context, actor Actor, rule approval.Rule) (approval.Rule, error) {
	if err := requireAdmin(actor); err != nil {
		return approval.Rule{}, err
	}
	if err := approval.ValidateRule(rule); err != nil {
		return approval.Rule{}, translate(err)
	}

	rule.ID = s.newID()
	rule.Name = strings.TrimSpace(rule.Name)
	rule.Version = 1
	s.assignApproverIDs(&rule)

	if err := s.checkUniqueness(ctx, rule); err != nil {
		return approval.Rule{}, err
	}
	if err := s.rules.Create(ctx, &rule); err != nil {
		return approval.Rule{}, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("name", rule.Name).
		Str("rule_type", string(rule.RuleType)).
		Str("approval_type", string(rule.ApprovalType)).
		Int("priority", rule.Priority).
		Str("created_by", actor.UserID).
		Msg("Approval rule created")

	return rule, nil
}

// Update replaces a rule. rule.Version must match the stored version.
func (s *RuleService) Update(ctx context.Context, actor Actor, id string, rule approval.Rule) (approval.Rule, error) {
	if err := requireAdmin(actor); err != nil {
		return approval.Rule{}, err
	}
	existing, err := s.rules.Get(ctx, id)
	if err != nil {
		return approval.Rule{}, err
	}
	if rule.Version == 0 {
		return approval.Rule{}, errors.InvalidInput("version", "current rule version is required")
	}
	if rule.Version != existing.Version {
		return approval.Rule{}, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("approval rule %s is at version %d, not %d", id, existing.Version, rule.Version))
	}
	if err := approval.ValidateRule(rule); err != nil {
		return approval.Rule{}, translate(err)
	}

	rule.ID = id
	rule.Name = strings.TrimSpace(rule.Name)
	rule.Version = existing.Version + 1
	rule.CreatedAt = existing.CreatedAt
	s.assignApproverIDs(&rule)

	if err := s.checkUniqueness(ctx, rule); err != nil {
		return approval.Rule{}, err
	}
	if err := s.rules.Update(ctx, &rule); err != nil {
		return approval.Rule{}, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Int("version", rule.Version).
		Str("updated_by", actor.UserID).
		Msg("Approval rule updated")

	return rule, nil
}

// Get returns one rule.
func (s *RuleService) Get(ctx context.Context, id string) (approval.Rule, error) {
	return s.rules.Get(ctx, id)
}

// List returns rules in evaluation order.
func (s *RuleService) List(ctx context.Context, activeOnly bool) ([]approval.Rule, error) {
	return s.rules.List(ctx, activeOnly)
}

// Delete removes a rule. A rule still referenced by a pending expense is
// deactivated instead; softDeleted reports which happened.
func (s *RuleService) Delete(ctx context.Context, actor Actor, id string) (softDeleted bool, err error) {
	if err := requireAdmin(actor); err != nil {
		return false, err
	}
	if _, err := s.rules.Get(ctx, id); err != nil {
		return false, err
	}

	pending, err := s.expenses.CountPendingByRule(ctx, id)
	if err != nil {
		return false, err
	}
	if pending > 0 {
		if err := s.rules.SetActive(ctx, []string{id}, false); err != nil {
			return false, err
		}
		s.log.Info().
			Str("rule_id", id).
			Int("pending_expenses", pending).
			Msg("Approval rule referenced by pending expenses; deactivated instead of deleted")
		return true, nil
	}

	if err := s.rules.Delete(ctx, id); err != nil {
		return false, err
	}
	s.log.Info().Str("rule_id", id).Str("deleted_by", actor.UserID).Msg("Approval rule deleted")
	return false, nil
}

// Reorder sets the priority of several rules at once.
func (s *RuleService) Reorder(ctx context.Context, actor Actor, priorities map[string]int) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if len(priorities) == 0 {
		return errors.InvalidInput("priorities", "at least one rule is required")
	}
	if err := s.rules.SetPriorities(ctx, priorities); err != nil {
		return err
	}
	s.log.Info().Int("rules", len(priorities)).Msg("Approval rules reordered")
	return nil
}

// SetActive activates or deactivates several rules at once. Activation may not
// leave two active rules with the same name or two active defaults.
func (s *RuleService) SetActive(ctx context.Context, actor Actor, ids []string, active bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if len(ids) == 0 {
		return errors.InvalidInput("ids", "at least one rule is required")
	}

	if active {
		all, err := s.rules.List(ctx, false)
		if err != nil {
			return err
		}
		activating := make(map[string]bool, len(ids))
		for _, id := range ids {
			activating[id] = true
		}
		names := make(map[string]string)
		defaults := 0
		for _, r := range all {
			if !r.IsActive && !activating[r.ID] {
				continue
			}
			key := strings.ToLower(r.Name)
			if other, ok := names[key]; ok {
				return errors.New(errors.ErrCodeConflict,
					fmt.Sprintf("rules %s and %s would both be active with name %q", other, r.ID, r.Name))
			}
			names[key] = r.ID
			if r.IsDefault {
				defaults++
			}
		}
		if defaults > 1 {
			return errors.New(errors.ErrCodeConflict, "only one active default rule is allowed")
		}
	}

	if err := s.rules.SetActive(ctx, ids, active); err != nil {
		return err
	}
	s.log.Info().Int("rules", len(ids)).Bool("active", active).Msg("Approval rule activation changed")
	return nil
}

// Validate checks a rule without saving it and returns every problem found.
func (s *RuleService) Validate(rule approval.Rule) []string {
	err := approval.ValidateRule(rule)
	if err == nil {
		return nil
	}
	var cfg *approval.RuleConfigError
	if stderrors.As(err, &cfg) {
		return cfg.Problems
	}
	return []string{err.Error()}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func requireAdmin(actor Actor) error {
	if err := actor.require(); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return errors.New(errors.ErrCodeForbidden, "approval rule administration requires the admin role")
	}
	return nil
}

// checkUniqueness enforces unique names among active rules and a single
// active default.
func (s *RuleService) checkUniqueness(ctx context.Context, rule approval.Rule) error {
	if !rule.IsActive {
		return nil
	}
	active, err := s.rules.List(ctx, true)
	if err != nil {
		return err
	}
	for _, other := range active {
		if other.ID == rule.ID {
			continue
		}
		if strings.EqualFold(other.Name, rule.Name) {
			return errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("an active approval rule named %q already exists", rule.Name))
		}
		if rule.IsDefault && other.IsDefault {
			return errors.New(errors.ErrCodeConflict,
				fmt.Sprintf("rule %s is already the active default", other.ID))
		}
	}
	return nil
}

func (s *RuleService) assignApproverIDs(rule *approval.Rule) {
	rule.Approvers = append([]approval.RuleApprover(nil), rule.Approvers...)
	for i := range rule.Approvers {
		if rule.Approvers[i].ID == "" {
			rule.Approvers[i].ID = s.newID()
		}
	}
}
