package approval

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced by the matcher and the engine. Match with errors.Is.
var (
	ErrRuleNotFound             = errors.New("approval rule not found")
	ErrNoMatchingRule           = errors.New("no matching approval rule")
	ErrNotAuthorized            = errors.New("not authorized to act on this approval")
	ErrDelegationNotAllowed     = errors.New("delegation not allowed for this approval step")
	ErrAmountExceedsLimit       = errors.New("amount exceeds every approval band")
	ErrInvalidRuleConfiguration = errors.New("invalid approval rule configuration")
	ErrConcurrentModification   = errors.New("expense was modified concurrently")
	ErrInvalidTransition        = errors.New("invalid approval state transition")
	ErrEntryNotFound            = errors.New("approval chain entry not found")
	ErrExpenseNotFound          = errors.New("expense not found")
	ErrInvalidExpense           = errors.New("invalid expense")
)

// RuleConfigError lists every problem found while validating a rule.
type RuleConfigError struct {
	Problems []string
}

func (e *RuleConfigError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidRuleConfiguration, strings.Join(e.Problems, "; "))
}

func (e *RuleConfigError) Is(target error) bool {
	return target == ErrInvalidRuleConfiguration
}

// VersionError reports a stale expected version.
type VersionError struct {
	ExpenseID string
	Expected  int64
	Actual    int64
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("%s: expense %s expected version %d, found %d",
		ErrConcurrentModification, e.ExpenseID, e.Expected, e.Actual)
}

func (e *VersionError) Is(target error) bool {
	return target == ErrConcurrentModification
}

func transitionErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTransition, fmt.Sprintf(format, args...))
}

func notAuthorized(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotAuthorized, fmt.Sprintf(format, args...))
}
