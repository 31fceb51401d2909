package approval

import (
	"fmt"
	"sort"
)

// Matches reports whether rule's conditions hold for expense. Activity and the
// default flag are not considered here.
func Matches(rule Rule, expense Expense) bool {
	c := rule.Conditions

	switch rule.RuleType {
	case RuleTypeAmount:
		if !amountInRange(c, expense) {
			return false
		}
	case RuleTypeCategory:
		if !memberOrWildcard(c.Categories, expense.Category) {
			return false
		}
	case RuleTypeDepartment:
		if !memberOrWildcard(c.Departments, expense.Department) {
			return false
		}
	case RuleTypeHybrid:
		if !amountInRange(c, expense) ||
			!memberOrWildcard(c.Categories, expense.Category) ||
			!memberOrWildcard(c.Departments, expense.Department) {
			return false
		}
	case RuleTypeCustom:
		// structural match; only the submitter gate below applies
	default:
		return false
	}

	return memberOrWildcard(c.SpecificUsers, expense.SubmittedBy)
}

func amountInRange(c Conditions, expense Expense) bool {
	if c.MinAmount != nil && expense.Amount.LessThan(*c.MinAmount) {
		return false
	}
	if c.MaxAmount != nil && expense.Amount.GreaterThan(*c.MaxAmount) {
		return false
	}
	return true
}

func memberOrWildcard(set []string, value string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

// FindApplicableRules returns the active, non-default rules matching expense,
// ordered by ascending priority. Equal priorities keep their input order.
func FindApplicableRules(rules []Rule, expense Expense) []Rule {
	matched := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if !rule.IsActive || rule.IsDefault {
			continue
		}
		if Matches(rule, expense) {
			matched = append(matched, rule)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})
	return matched
}

// FindFirstMatch returns the highest-priority applicable rule, falling back to
// the active default rule. ErrNoMatchingRule is returned when neither exists.
func FindFirstMatch(rules []Rule, expense Expense) (Rule, error) {
	if matched := FindApplicableRules(rules, expense); len(matched) > 0 {
		return matched[0], nil
	}
	if def, ok := DefaultRule(rules); ok {
		return def, nil
	}
	return Rule{}, fmt.Errorf("%w for expense %s", ErrNoMatchingRule, expense.ID)
}

// DefaultRule returns the active default rule with the lowest priority.
func DefaultRule(rules []Rule) (Rule, bool) {
	var (
		best  Rule
		found bool
	)
	for _, rule := range rules {
		if !rule.IsActive || !rule.IsDefault {
			continue
		}
		if !found || rule.Priority < best.Priority {
			best, found = rule, true
		}
	}
	return best, found
}

// FindRule looks a rule up by id.
func FindRule(rules []Rule, id string) (Rule, error) {
	for _, rule := range rules {
		if rule.ID == id {
			return rule, nil
		}
	}
	return Rule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}
