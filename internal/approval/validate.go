package approval

import (
	"fmt"
	"strings"
)

// ValidateRule checks a rule's configuration before it is saved. All problems
// are reported together in a *RuleConfigError.
func ValidateRule(rule Rule) error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(rule.Name) == "" {
		addf("name is required")
	}

	switch rule.RuleType {
	case RuleTypeAmount, RuleTypeCategory, RuleTypeDepartment, RuleTypeHybrid, RuleTypeCustom:
	default:
		addf("unknown rule type %q", rule.RuleType)
	}

	switch rule.ApprovalType {
	case ApprovalSequential, ApprovalParallel, ApprovalPercentage, ApprovalSpecific, ApprovalHybrid:
	default:
		addf("unknown approval type %q", rule.ApprovalType)
	}

	if rule.ApprovalType.usesPercentage() && (rule.Settings.Percentage < 1 || rule.Settings.Percentage > 100) {
		addf("percentage must be between 1 and 100, got %d", rule.Settings.Percentage)
	}
	if rule.ApprovalType.usesSpecific() && rule.Settings.SpecificApprover == "" {
		addf("specific approver is required for %s approval", rule.ApprovalType)
	}
	if rule.Settings.TimeoutHours < 0 {
		addf("timeout hours cannot be negative")
	}

	c := rule.Conditions
	if c.MinAmount != nil && c.MinAmount.IsNegative() {
		addf("min amount cannot be negative")
	}
	if c.MaxAmount != nil && c.MaxAmount.IsNegative() {
		addf("max amount cannot be negative")
	}
	if c.MinAmount != nil && c.MaxAmount != nil && c.MinAmount.GreaterThan(*c.MaxAmount) {
		addf("min amount cannot be greater than max amount")
	}

	usesLadder := rule.RuleType == RuleTypeAmount || rule.RuleType == RuleTypeHybrid
	if len(rule.Approvers) == 0 && !usesLadder {
		switch rule.ApprovalType {
		case ApprovalSequential, ApprovalParallel, ApprovalPercentage:
			addf("approver list cannot be empty for %s approval", rule.ApprovalType)
		}
	}

	seen := make(map[int]bool, len(rule.Approvers))
	for i, a := range rule.Approvers {
		if a.UserID == "" {
			addf("approver %d has no user id", i)
		}
		if seen[a.Order] {
			addf("approver order %d is duplicated", a.Order)
		}
		seen[a.Order] = true
	}
	for order := 1; order <= len(rule.Approvers); order++ {
		if !seen[order] {
			addf("approver orders must run 1..%d without gaps", len(rule.Approvers))
			break
		}
	}

	if len(problems) > 0 {
		return &RuleConfigError{Problems: problems}
	}
	return nil
}
