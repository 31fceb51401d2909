package approval

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func expenseOf(amount, category, department, submitter string) Expense {
	return Expense{
		ID:          "exp-1",
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		Category:    category,
		Department:  department,
		SubmittedBy: submitter,
		Status:      StatusDraft,
	}
}

func TestMatches_AmountBounds(t *testing.T) {
	rule := Rule{RuleType: RuleTypeAmount, Conditions: Conditions{MinAmount: dec("100"), MaxAmount: dec("500")}}

	assert.True(t, Matches(rule, expenseOf("100", "", "", "u")), "min is inclusive")
	assert.True(t, Matches(rule, expenseOf("500", "", "", "u")), "max is inclusive")
	assert.False(t, Matches(rule, expenseOf("99.99", "", "", "u")))
	assert.False(t, Matches(rule, expenseOf("500.01", "", "", "u")))
}

func TestMatches_ZeroBoundIsARealBound(t *testing.T) {
	rule := Rule{RuleType: RuleTypeAmount, Conditions: Conditions{MaxAmount: dec("0")}}
	assert.False(t, Matches(rule, expenseOf("1", "", "", "u")))

	rule = Rule{RuleType: RuleTypeAmount, Conditions: Conditions{MinAmount: dec("0"), MaxAmount: dec("10")}}
	assert.True(t, Matches(rule, expenseOf("5", "", "", "u")))
}

func TestMatches_CategoryAndDepartment(t *testing.T) {
	cat := Rule{RuleType: RuleTypeCategory, Conditions: Conditions{Categories: []string{"Travel"}}}
	assert.True(t, Matches(cat, expenseOf("1", "Travel", "", "u")))
	assert.False(t, Matches(cat, expenseOf("1", "travel", "", "u")), "membership is case-sensitive")

	dept := Rule{RuleType: RuleTypeDepartment, Conditions: Conditions{Departments: []string{"Sales", "Ops"}}}
	assert.True(t, Matches(dept, expenseOf("1", "", "Ops", "u")))
	assert.False(t, Matches(dept, expenseOf("1", "", "R&D", "u")))

	wildcard := Rule{RuleType: RuleTypeCategory}
	assert.True(t, Matches(wildcard, expenseOf("1", "Anything", "", "u")))
}

func TestMatches_RuleTypeScopesPredicates(t *testing.T) {
	// a category rule ignores amount bounds
	rule := Rule{RuleType: RuleTypeCategory, Conditions: Conditions{MaxAmount: dec("10"), Categories: []string{"Meals"}}}
	assert.True(t, Matches(rule, expenseOf("9999", "Meals", "", "u")))

	hybrid := Rule{RuleType: RuleTypeHybrid, Conditions: Conditions{
		MinAmount: dec("100"), Categories: []string{"Meals"}, Departments: []string{"Sales"},
	}}
	assert.True(t, Matches(hybrid, expenseOf("150", "Meals", "Sales", "u")))
	assert.False(t, Matches(hybrid, expenseOf("50", "Meals", "Sales", "u")))
	assert.False(t, Matches(hybrid, expenseOf("150", "Travel", "Sales", "u")))
	assert.False(t, Matches(hybrid, expenseOf("150", "Meals", "Ops", "u")))
}

func TestMatches_SpecificUsersGateAlwaysApplies(t *testing.T) {
	for _, rt := range []RuleType{RuleTypeAmount, RuleTypeCategory, RuleTypeDepartment, RuleTypeHybrid, RuleTypeCustom} {
		rule := Rule{RuleType: rt, Conditions: Conditions{SpecificUsers: []string{"alice"}}}
		assert.True(t, Matches(rule, expenseOf("1", "", "", "alice")), rt)
		assert.False(t, Matches(rule, expenseOf("1", "", "", "bob")), rt)
	}
}

func TestMatches_UnknownRuleType(t *testing.T) {
	assert.False(t, Matches(Rule{RuleType: "weird"}, expenseOf("1", "", "", "u")))
}

func TestFindApplicableRules_SortedStableAndSatisfied(t *testing.T) {
	rules := []Rule{
		{ID: "a", Name: "a", RuleType: RuleTypeCustom, IsActive: true, Priority: 5},
		{ID: "b", Name: "b", RuleType: RuleTypeAmount, IsActive: true, Priority: 1, Conditions: Conditions{MinAmount: dec("1000")}},
		{ID: "c", Name: "c", RuleType: RuleTypeCustom, IsActive: true, Priority: 5},
		{ID: "d", Name: "d", RuleType: RuleTypeCustom, IsActive: false, Priority: 0},
		{ID: "e", Name: "e", RuleType: RuleTypeCategory, IsActive: true, Priority: 2, Conditions: Conditions{Categories: []string{"Travel"}}},
		{ID: "f", Name: "f", RuleType: RuleTypeCustom, IsActive: true, IsDefault: true, Priority: 0},
	}
	exp := expenseOf("50", "Travel", "", "u")

	got := FindApplicableRules(rules, exp)

	ids := make([]string, 0, len(got))
	for i, r := range got {
		ids = append(ids, r.ID)
		assert.True(t, Matches(r, exp))
		if i > 0 {
			assert.LessOrEqual(t, got[i-1].Priority, r.Priority)
		}
	}
	assert.Equal(t, []string{"e", "a", "c"}, ids)
}

func TestFindFirstMatch(t *testing.T) {
	specific := Rule{ID: "big", RuleType: RuleTypeAmount, IsActive: true, Priority: 1, Conditions: Conditions{MinAmount: dec("1000")}}
	def := Rule{ID: "default", RuleType: RuleTypeCustom, IsActive: true, IsDefault: true, Priority: 100}

	t.Run("specific rule wins", func(t *testing.T) {
		r, err := FindFirstMatch([]Rule{def, specific}, expenseOf("1500", "", "", "u"))
		require.NoError(t, err)
		assert.Equal(t, "big", r.ID)
	})

	t.Run("falls back to default", func(t *testing.T) {
		r, err := FindFirstMatch([]Rule{def, specific}, expenseOf("10", "", "", "u"))
		require.NoError(t, err)
		assert.Equal(t, "default", r.ID)
	})

	t.Run("inactive default is ignored", func(t *testing.T) {
		inactive := def
		inactive.IsActive = false
		_, err := FindFirstMatch([]Rule{inactive, specific}, expenseOf("10", "", "", "u"))
		assert.True(t, errors.Is(err, ErrNoMatchingRule))
	})

	t.Run("no rules at all", func(t *testing.T) {
		_, err := FindFirstMatch(nil, expenseOf("10", "", "", "u"))
		assert.ErrorIs(t, err, ErrNoMatchingRule)
	})
}

func TestFindRule(t *testing.T) {
	rules := []Rule{{ID: "x"}}
	r, err := FindRule(rules, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", r.ID)

	_, err = FindRule(rules, "y")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}
