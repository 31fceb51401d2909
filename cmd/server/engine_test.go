package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/config"
)

func TestBuildEngine(t *testing.T) {
	engine, err := buildEngine(config.ApprovalConfig{
		Ladder: []config.BandConfig{
			{Max: "1000", Roles: []string{"manager"}},
			{Max: "", Roles: []string{"manager", "director"}},
		},
		Representatives: map[string]config.RepresentativeConfig{
			"manager":  {UserID: "mgr", Name: "Morgan"},
			"director": {UserID: "dir", Name: "Dana"},
		},
		RoleHours:        map[string]float64{"manager": 24},
		DefaultRoleHours: 12,
	})
	require.NoError(t, err)

	rule := approval.Rule{Name: "tiers", RuleType: approval.RuleTypeAmount, ApprovalType: approval.ApprovalSequential}
	chain, err := engine.BuildChain(rule, approval.Expense{ID: "x", Amount: decimal.NewFromInt(5000), SubmittedBy: "emp"})
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "dir", chain[1].ApproverID)
	assert.Equal(t, 36.0, engine.ExpectedApprovalTime(chain, 1))
}

func TestBuildEngine_InvalidLadder(t *testing.T) {
	_, err := buildEngine(config.ApprovalConfig{
		Ladder: []config.BandConfig{{Max: "lots", Roles: []string{"manager"}}},
	})
	assert.ErrorContains(t, err, "invalid max")

	_, err = buildEngine(config.ApprovalConfig{})
	assert.ErrorIs(t, err, approval.ErrInvalidRuleConfiguration)
}
