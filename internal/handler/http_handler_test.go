package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/logger"
	"github.com/pesio-ai/be-exp-approvals/internal/repository"
	"github.com/pesio-ai/be-exp-approvals/internal/service"
)

type testServer struct {
	mux       *http.ServeMux
	approvals *service.ApprovalService
	rules     *service.RuleService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ruleRepo := repository.NewMemoryRuleRepository()
	expenses := repository.NewMemoryExpenseRepository()
	audit := repository.NewMemoryAuditRepository()

	approvals := service.NewApprovalService(approval.NewEngine(), ruleRepo, expenses, audit, nil, logger.Nop())
	rules := service.NewRuleService(ruleRepo, expenses, logger.Nop())

	mux := http.NewServeMux()
	NewHTTPHandler(approvals, rules, logger.Nop()).Register(mux)
	return &testServer{mux: mux, approvals: approvals, rules: rules}
}

func (s *testServer) do(t *testing.T, method, path, user, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func twoStepRule() map[string]any {
	return map[string]any{
		"name":          "Two step",
		"rule_type":     "custom",
		"approval_type": "sequential",
		"is_active":     true,
		"priority":      1,
		"approvers": []map[string]any{
			{"user_id": "mgr", "order": 1, "is_required": true},
			{"user_id": "dir", "order": 2, "is_required": true},
		},
	}
}

func TestHTTP_Health(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestHTTP_RuleAdministration(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/rules", "emp", "", twoStepRule())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	errBody := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "FORBIDDEN", errBody.Error.Code)
	assert.NotEmpty(t, errBody.Error.Message)

	rec = s.do(t, http.MethodPost, "/api/v1/rules", "root", "admin", twoStepRule())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rule := decodeBody[approval.Rule](t, rec)
	assert.Equal(t, 1, rule.Version)

	rec = s.do(t, http.MethodGet, "/api/v1/rules/"+rule.ID, "emp", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/rules?active=true", "emp", "", nil)
	list := decodeBody[struct {
		Rules []approval.Rule `json:"rules"`
		Count int             `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, list.Count)

	rule.Priority = 5
	rec = s.do(t, http.MethodPut, "/api/v1/rules/"+rule.ID, "root", "admin", rule)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeBody[approval.Rule](t, rec).Version)

	rec = s.do(t, http.MethodPost, "/api/v1/rules/reorder", "root", "admin",
		map[string]any{"priorities": map[string]int{rule.ID: 9}})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/rules/activation", "root", "admin",
		map[string]any{"ids": []string{rule.ID}, "active": false})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/rules/"+rule.ID, "root", "admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/rules/"+rule.ID, "root", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTP_ValidateRule(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/rules/validate", "root", "admin", twoStepRule())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"valid":true,"problems":[]}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/rules/validate", "root", "admin",
		map[string]any{"rule_type": "custom", "approval_type": "percentage"})
	body := decodeBody[struct {
		Valid    bool     `json:"valid"`
		Problems []string `json:"problems"`
	}](t, rec)
	assert.False(t, body.Valid)
	assert.NotEmpty(t, body.Problems)
}

func TestHTTP_ExpenseLifecycle(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/rules", "root", "admin", twoStepRule())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/expenses", "emp", "",
		map[string]any{"amount": "250.00", "category": "Travel", "department": "Sales"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	exp := decodeBody[approval.Expense](t, rec)
	assert.Equal(t, approval.StatusDraft, exp.Status)

	rec = s.do(t, http.MethodPost, "/api/v1/expenses/"+exp.ID+"/submit", "emp", "",
		map[string]any{"expected_version": exp.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	exp = decodeBody[approval.Expense](t, rec)
	assert.Equal(t, approval.StatusPending, exp.Status)
	assert.Equal(t, "mgr", exp.CurrentApproverID)

	rec = s.do(t, http.MethodGet, "/api/v1/approvals/pending", "mgr", "", nil)
	pending := decodeBody[struct {
		Count int `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, pending.Count)

	rec = s.do(t, http.MethodGet, "/api/v1/expenses/"+exp.ID+"/context", "mgr", "", nil)
	c := decodeBody[approval.Context](t, rec)
	assert.True(t, c.CanAct)
	assert.False(t, c.IsFinalApprover)

	// Director is not the current approver yet.
	rec = s.do(t, http.MethodPost, "/api/v1/expenses/"+exp.ID+"/approve", "dir", "",
		map[string]any{"expected_version": exp.Version})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/expenses/"+exp.ID+"/approve", "mgr", "",
		map[string]any{"comment": "ok", "expected_version": exp.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stale := exp.Version
	exp = decodeBody[approval.Expense](t, rec)
	assert.Equal(t, "dir", exp.CurrentApproverID)

	rec = s.do(t, http.MethodPost, "/api/v1/expenses/"+exp.ID+"/reject", "dir", "",
		map[string]any{"reason": "over budget", "expected_version": stale})
	assert.Equal(t, http.StatusConflict, rec.Code, "stale version")

	rec = s.do(t, http.MethodPost, "/api/v1/expenses/"+exp.ID+"/reject", "dir", "",
		map[string]any{"reason": "over budget", "expected_version": exp.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	exp = decodeBody[approval.Expense](t, rec)
	assert.Equal(t, approval.StatusRejected, exp.Status)
	assert.Equal(t, "over budget", exp.RejectionReason)

	rec = s.do(t, http.MethodPost, "/api/v1/expenses/"+exp.ID+"/resubmit", "emp", "",
		map[string]any{"expected_version": exp.Version, "amount": "120.00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	exp = decodeBody[approval.Expense](t, rec)
	assert.Equal(t, approval.StatusPending, exp.Status)
	assert.Equal(t, "120", exp.Amount.String())

	rec = s.do(t, http.MethodGet, "/api/v1/expenses/"+exp.ID+"/audit", "emp", "", nil)
	audit := decodeBody[struct {
		Count int `json:"count"`
	}](t, rec)
	assert.Positive(t, audit.Count)

	rec = s.do(t, http.MethodGet, "/api/v1/expenses/"+exp.ID+"/eta", "emp", "", nil)
	eta := decodeBody[service.ETA](t, rec)
	assert.Equal(t, 1, eta.FromStep)
	assert.NotNil(t, eta.EstimatedAt)
}

func TestHTTP_Delegate(t *testing.T) {
	s := newTestServer(t)
	rule := twoStepRule()
	rule["settings"] = map[string]any{"allow_delegation": true}
	rec := s.do(t, http.MethodPost, "/api/v1/rules", "root", "admin", rule)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/expenses", "emp", "", map[string]any{"amount": 90})
	exp := decodeBody[approval.Expense](t, rec)
	rec = s.do(t, http.MethodPost, "/api/v1/expenses/"+exp.ID+"/submit", "emp", "",
		map[string]any{"expected_version": exp.Version})
	exp = decodeBody[approval.Expense](t, rec)

	rec = s.do(t, http.MethodPost, "/api/v1/expenses/"+exp.ID+"/delegate", "mgr", "",
		map[string]any{"delegate_to": "deputy", "reason": "on leave", "expected_version": exp.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	exp = decodeBody[approval.Expense](t, rec)
	require.NotNil(t, exp.Chain[0].Delegation)
	assert.Equal(t, "deputy", exp.Chain[0].Delegation.To)
}

func TestHTTP_MatchRule(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/rules/match", "emp", "", map[string]any{"amount": "50"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "no rules configured")

	rec = s.do(t, http.MethodPost, "/api/v1/rules", "root", "admin", twoStepRule())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/rules/match", "emp", "", map[string]any{"amount": "50"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[service.MatchResult](t, rec)
	assert.Equal(t, "Two step", result.Rule.Name)
	assert.Len(t, result.Chain, 2)
}

func TestHTTP_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/expenses/missing", "emp", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/expenses", "", "", map[string]any{"amount": "10"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/expenses", bytes.NewBufferString("{not json"))
	req.Header.Set(HeaderUserID, "emp")
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/expenses/x", "emp", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTP_DraftManagement(t *testing.T) {
	s := newTestServer(t)
	create := func(user, amount, category string) approval.Expense {
		rec := s.do(t, http.MethodPost, "/api/v1/expenses", user, "",
			map[string]any{"amount": amount, "category": category})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		return decodeBody[approval.Expense](t, rec)
	}
	travel := create("emp", "40", "Travel")
	meals := create("emp", "15", "Meals")
	create("other", "99", "Travel")

	type listBody struct {
		Expenses []approval.Expense `json:"expenses"`
		Count    int                `json:"count"`
	}
	rec := s.do(t, http.MethodGet, "/api/v1/expenses", "emp", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decodeBody[listBody](t, rec).Count)

	rec = s.do(t, http.MethodGet, "/api/v1/expenses?category=travel", "emp", "", nil)
	list := decodeBody[listBody](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, travel.ID, list.Expenses[0].ID)

	rec = s.do(t, http.MethodGet, "/api/v1/expenses?status=pending", "emp", "", nil)
	assert.JSONEq(t, `{"expenses":[],"count":0}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/expenses?status=archived", "emp", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/expenses?submitted_by=other", "emp", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/expenses?submitted_by=other", "root", "admin", nil)
	assert.Equal(t, 1, decodeBody[listBody](t, rec).Count)

	// Edit a draft.
	rec = s.do(t, http.MethodPatch, "/api/v1/expenses/"+travel.ID, "other", "",
		map[string]any{"expected_version": travel.Version, "amount": "45"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/expenses/"+travel.ID, "emp", "",
		map[string]any{"expected_version": travel.Version + 3, "amount": "45"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/expenses/"+travel.ID, "emp", "",
		map[string]any{"expected_version": travel.Version, "amount": "45.50", "description": "taxi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decodeBody[approval.Expense](t, rec)
	assert.Equal(t, "45.5", edited.Amount.String())
	assert.Equal(t, "taxi", edited.Description)
	assert.Equal(t, "Travel", edited.Category)
	assert.Equal(t, travel.Version+1, edited.Version)

	// Submitted expenses are no longer drafts.
	rec = s.do(t, http.MethodPost, "/api/v1/rules", "root", "admin", twoStepRule())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, "/api/v1/expenses/"+edited.ID+"/submit", "emp", "",
		map[string]any{"expected_version": edited.Version})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	submitted := decodeBody[approval.Expense](t, rec)

	rec = s.do(t, http.MethodPatch, "/api/v1/expenses/"+submitted.ID, "emp", "",
		map[string]any{"expected_version": submitted.Version, "amount": "1"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/expenses/"+submitted.ID+"?expected_version="+strconv.FormatInt(submitted.Version, 10), "emp", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Delete a draft.
	rec = s.do(t, http.MethodDelete, "/api/v1/expenses/"+meals.ID, "emp", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "expected_version is required")

	rec = s.do(t, http.MethodDelete, "/api/v1/expenses/"+meals.ID+"?expected_version="+strconv.FormatInt(meals.Version, 10), "emp", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/expenses/"+meals.ID, "emp", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
