package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/errors"
)

func TestRuleService_CreateRequiresAdminAndValidRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.rules.Create(ctx, employee, chainRule("r", 1, "mgr"))
	assert.Equal(t, errors.ErrCodeForbidden, errors.Code(err))

	_, err = f.rules.Create(ctx, admin, approval.Rule{Name: "broken", RuleType: approval.RuleTypeCustom, ApprovalType: approval.ApprovalPercentage})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err))
	assert.ErrorIs(t, err, approval.ErrInvalidRuleConfiguration)

	input := chainRule("Ok", 1, "mgr")
	rule, err := f.rules.Create(ctx, admin, input)
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, 1, rule.Version)
	assert.NotEmpty(t, rule.Approvers[0].ID)
	assert.Empty(t, input.Approvers[0].ID, "caller's approvers are not modified")
}

func TestRuleService_UniqueActiveNameAndDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedRule(t, chainRule("Travel", 1, "mgr"))

	dup := chainRule("travel", 2, "dir")
	dup.IsActive = true
	_, err := f.rules.Create(ctx, admin, dup)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))

	dup.IsActive = false
	inactive, err := f.rules.Create(ctx, admin, dup)
	require.NoError(t, err, "inactive rules may share a name")

	err = f.rules.SetActive(ctx, admin, []string{inactive.ID}, true)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))

	def := chainRule("Fallback", 100, "mgr")
	def.IsDefault = true
	f.seedRule(t, def)

	second := chainRule("Fallback 2", 101, "mgr")
	second.IsDefault = true
	second.IsActive = true
	_, err = f.rules.Create(ctx, admin, second)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestRuleService_UpdateBumpsVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rule := f.seedRule(t, chainRule("Travel", 1, "mgr"))

	rule.Priority = 7
	updated, err := f.rules.Update(ctx, admin, rule.ID, rule)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 7, updated.Priority)

	_, err = f.rules.Update(ctx, admin, rule.ID, rule)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err), "stale version")

	unversioned := updated
	unversioned.Version = 0
	unversioned.Priority = 9
	_, err = f.rules.Update(ctx, admin, rule.ID, unversioned)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(err), "version is required")
	current, err := f.rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, current.Priority)

	_, err = f.rules.Update(ctx, admin, "missing", chainRule("x", 1, "mgr"))
	assert.Equal(t, errors.ErrCodeNotFound, errors.Code(err))
}

func TestRuleService_DeleteSoftWhenReferenced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	used := f.seedRule(t, chainRule("Used", 1, "mgr"))

	exp := f.draft(t, "10")
	_, err := f.svc.SubmitExpense(ctx, employee, exp.ID, exp.Version)
	require.NoError(t, err)

	soft, err := f.rules.Delete(ctx, admin, used.ID)
	require.NoError(t, err)
	assert.True(t, soft)
	got, err := f.rules.Get(ctx, used.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	unused := f.seedRule(t, chainRule("Unused", 2, "mgr"))
	soft, err = f.rules.Delete(ctx, admin, unused.ID)
	require.NoError(t, err)
	assert.False(t, soft)
	_, err = f.rules.Get(ctx, unused.ID)
	assert.Equal(t, errors.ErrCodeNotFound, errors.Code(err))
}

func TestRuleService_ReorderAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedRule(t, chainRule("A", 1, "mgr"))
	b := f.seedRule(t, chainRule("B", 2, "mgr"))

	require.NoError(t, f.rules.Reorder(ctx, admin, map[string]int{a.ID: 10, b.ID: 0}))
	list, err := f.rules.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "B", list[0].Name)

	assert.Equal(t, errors.ErrCodeInvalidInput, errors.Code(f.rules.Reorder(ctx, admin, nil)))
	assert.Equal(t, errors.ErrCodeForbidden, errors.Code(f.rules.Reorder(ctx, manager, map[string]int{a.ID: 1})))
}

func TestRuleService_Validate(t *testing.T) {
	f := newFixture(t)
	assert.Nil(t, f.rules.Validate(chainRule("fine", 1, "mgr")))

	problems := f.rules.Validate(approval.Rule{RuleType: approval.RuleTypeCustom, ApprovalType: approval.ApprovalSequential})
	assert.Contains(t, problems, "name is required")
}
