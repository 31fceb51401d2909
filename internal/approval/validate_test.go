package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRule_Valid(t *testing.T) {
	assert.NoError(t, ValidateRule(sequentialRule("A", "B")))

	ladder := Rule{Name: "tiers", RuleType: RuleTypeAmount, ApprovalType: ApprovalSequential}
	assert.NoError(t, ValidateRule(ladder), "amount rules may rely on the ladder")

	hybrid := sequentialRule("A", "B")
	hybrid.ApprovalType = ApprovalHybrid
	hybrid.Settings = Settings{Percentage: 60, SpecificApprover: "cfo"}
	assert.NoError(t, ValidateRule(hybrid))
}

func TestValidateRule_CollectsEveryProblem(t *testing.T) {
	rule := Rule{
		RuleType:     "bogus",
		ApprovalType: ApprovalPercentage,
		Settings:     Settings{Percentage: 101, TimeoutHours: -1},
		Conditions:   Conditions{MinAmount: dec("500"), MaxAmount: dec("100")},
		Approvers: []RuleApprover{
			{UserID: "", Order: 1},
			{UserID: "b", Order: 1},
		},
	}

	err := ValidateRule(rule)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRuleConfiguration)

	var cfg *RuleConfigError
	require.ErrorAs(t, err, &cfg)
	assert.Contains(t, cfg.Problems, "name is required")
	assert.Contains(t, cfg.Problems, `unknown rule type "bogus"`)
	assert.Contains(t, cfg.Problems, "percentage must be between 1 and 100, got 101")
	assert.Contains(t, cfg.Problems, "timeout hours cannot be negative")
	assert.Contains(t, cfg.Problems, "min amount cannot be greater than max amount")
	assert.Contains(t, cfg.Problems, "approver 0 has no user id")
	assert.Contains(t, cfg.Problems, "approver order 1 is duplicated")
	assert.Contains(t, cfg.Problems, "approver orders must run 1..2 without gaps")
}

func TestValidateRule_ApprovalTypeRequirements(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		problem string
	}{
		{
			name:    "specific needs approver",
			rule:    Rule{Name: "r", RuleType: RuleTypeCategory, ApprovalType: ApprovalSpecific},
			problem: "specific approver is required for specific approval",
		},
		{
			name:    "sequential needs approvers",
			rule:    Rule{Name: "r", RuleType: RuleTypeCategory, ApprovalType: ApprovalSequential},
			problem: "approver list cannot be empty for sequential approval",
		},
		{
			name:    "percentage needs a value",
			rule:    Rule{Name: "r", RuleType: RuleTypeAmount, ApprovalType: ApprovalPercentage},
			problem: "percentage must be between 1 and 100, got 0",
		},
		{
			name:    "unknown approval type",
			rule:    Rule{Name: "r", RuleType: RuleTypeAmount, ApprovalType: "quorum"},
			problem: `unknown approval type "quorum"`,
		},
		{
			name:    "negative bound",
			rule:    Rule{Name: "r", RuleType: RuleTypeAmount, ApprovalType: ApprovalSequential, Conditions: Conditions{MinAmount: dec("-1")}},
			problem: "min amount cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg *RuleConfigError
			require.ErrorAs(t, ValidateRule(tt.rule), &cfg)
			assert.Contains(t, cfg.Problems, tt.problem)
		})
	}
}
