package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-exp-approvals/internal/approval"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/errors"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/logger"
	"github.com/pesio-ai/be-exp-approvals/internal/pkg/middleware"
	"github.com/pesio-ai/be-exp-approvals/internal/service"
)

// Identity headers set by the API gateway after authentication.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals *service.ApprovalService
	rules     *service.RuleService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(approvals *service.ApprovalService, rules *service.RuleService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		rules:     rules,
		log:       log,
	}
}

// Register mounts every route on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("GET /api/v1/rules", h.ListRules)
	mux.HandleFunc("POST /api/v1/rules", h.CreateRule)
	mux.HandleFunc("GET /api/v1/rules/{id}", h.GetRule)
	mux.HandleFunc("PUT /api/v1/rules/{id}", h.UpdateRule)
	mux.HandleFunc("DELETE /api/v1/rules/{id}", h.DeleteRule)
	mux.HandleFunc("POST /api/v1/rules/validate", h.ValidateRule)
	mux.HandleFunc("POST /api/v1/rules/reorder", h.ReorderRules)
	mux.HandleFunc("POST /api/v1/rules/activation", h.SetRulesActive)
	mux.HandleFunc("POST /api/v1/rules/match", h.MatchRule)

	mux.HandleFunc("GET /api/v1/expenses", h.ListExpenses)
	mux.HandleFunc("POST /api/v1/expenses", h.CreateExpense)
	mux.HandleFunc("GET /api/v1/expenses/{id}", h.GetExpense)
	mux.HandleFunc("PATCH /api/v1/expenses/{id}", h.UpdateExpense)
	mux.HandleFunc("DELETE /api/v1/expenses/{id}", h.DeleteExpense)
	mux.HandleFunc("POST /api/v1/expenses/{id}/submit", h.SubmitExpense)
	mux.HandleFunc("POST /api/v1/expenses/{id}/approve", h.ApproveExpense)
	mux.HandleFunc("POST /api/v1/expenses/{id}/reject", h.RejectExpense)
	mux.HandleFunc("POST /api/v1/expenses/{id}/delegate", h.DelegateApproval)
	mux.HandleFunc("POST /api/v1/expenses/{id}/resubmit", h.ResubmitExpense)
	mux.HandleFunc("GET /api/v1/expenses/{id}/eta", h.ExpectedApprovalTime)
	mux.HandleFunc("GET /api/v1/expenses/{id}/context", h.ApprovalContext)
	mux.HandleFunc("GET /api/v1/expenses/{id}/audit", h.AuditTrail)

	mux.HandleFunc("GET /api/v1/approvals/pending", h.PendingApprovals)
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ── Rules ─────────────────────────────────────────────────────────────────────

// ListRules handles list rules HTTP requests. ?active=true limits the result
// to active rules.
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))

	rules, err := h.rules.List(r.Context(), activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

// CreateRule handles create rule HTTP requests
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req approval.Rule
	if !h.decode(w, r, &req) {
		return
	}

	rule, err := h.rules.Create(r.Context(), actorFromRequest(r), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// GetRule handles get rule HTTP requests
func (h *HTTPHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule handles update rule HTTP requests
func (h *HTTPHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req approval.Rule
	if !h.decode(w, r, &req) {
		return
	}

	rule, err := h.rules.Update(r.Context(), actorFromRequest(r), r.PathValue("id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles delete rule HTTP requests. A rule still routing pending
// expenses is deactivated and the response says so.
func (h *HTTPHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	soft, err := h.rules.Delete(r.Context(), actorFromRequest(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if soft {
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "deactivated": true})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ValidateRule checks a rule without saving it.
func (h *HTTPHandler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var req approval.Rule
	if !h.decode(w, r, &req) {
		return
	}

	problems := h.rules.Validate(req)
	if problems == nil {
		problems = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": len(problems) == 0, "problems": problems})
}

type reorderRequest struct {
	Priorities map[string]int `json:"priorities"`
}

// ReorderRules handles bulk priority changes.
func (h *HTTPHandler) ReorderRules(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.rules.Reorder(r.Context(), actorFromRequest(r), req.Priorities); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type activationRequest struct {
	IDs    []string `json:"ids"`
	Active bool     `json:"active"`
}

// SetRulesActive handles bulk activation and deactivation.
func (h *HTTPHandler) SetRulesActive(w http.ResponseWriter, r *http.Request) {
	var req activationRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.rules.SetActive(r.Context(), actorFromRequest(r), req.IDs, req.Active); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type matchRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Department  string          `json:"department"`
	SubmittedBy string          `json:"submitted_by"`
}

// MatchRule runs routing for a hypothetical expense without saving anything.
func (h *HTTPHandler) MatchRule(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.SubmittedBy == "" {
		req.SubmittedBy = actorFromRequest(r).UserID
	}

	result, err := h.approvals.MatchRule(r.Context(), service.MatchInput{
		Amount:      req.Amount,
		Category:    req.Category,
		Department:  req.Department,
		SubmittedBy: req.SubmittedBy,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ── Expenses ──────────────────────────────────────────────────────────────────

type createExpenseRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Department  string          `json:"department"`
	Description string          `json:"description"`
}

// CreateExpense handles create expense HTTP requests. The expense starts as a
// draft owned by the caller.
func (h *HTTPHandler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req createExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}

	exp, err := h.approvals.CreateExpense(r.Context(), actorFromRequest(r), service.CreateExpenseInput{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Category:    req.Category,
		Department:  req.Department,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, exp)
}

// GetExpense handles get expense HTTP requests
func (h *HTTPHandler) GetExpense(w http.ResponseWriter, r *http.Request) {
	exp, err := h.approvals.GetExpense(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// ListExpenses lists the caller's expenses. ?status and ?category filter the
// result; admins may pass ?submitted_by to list another user's expenses.
func (h *HTTPHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	exps, err := h.approvals.ListExpenses(r.Context(), actorFromRequest(r), service.ListExpensesInput{
		SubmittedBy: q.Get("submitted_by"),
		Status:      approval.Status(q.Get("status")),
		Category:    q.Get("category"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if exps == nil {
		exps = []approval.Expense{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": exps, "count": len(exps)})
}

type updateExpenseRequest struct {
	ExpectedVersion int64            `json:"expected_version"`
	Amount          *decimal.Decimal `json:"amount"`
	Currency        *string          `json:"currency"`
	Category        *string          `json:"category"`
	Department      *string          `json:"department"`
	Description     *string          `json:"description"`
}

// UpdateExpense edits a draft. Omitted fields keep their value.
func (h *HTTPHandler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req updateExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}

	exp, err := h.approvals.UpdateDraft(r.Context(), actorFromRequest(r), r.PathValue("id"), service.UpdateDraftInput{
		ExpectedVersion: req.ExpectedVersion,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Category:        req.Category,
		Department:      req.Department,
		Description:     req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// DeleteExpense deletes a draft. ?expected_version is required.
func (h *HTTPHandler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(r.URL.Query().Get("expected_version"), 10, 64)
	if err != nil {
		h.writeError(w, r, errors.InvalidInput("expected_version", "must be an integer"))
		return
	}

	if err := h.approvals.DeleteDraft(r.Context(), actorFromRequest(r), r.PathValue("id"), version); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type versionedRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
}

// SubmitExpense routes a draft expense into approval.
func (h *HTTPHandler) SubmitExpense(w http.ResponseWriter, r *http.Request) {
	var req versionedRequest
	if !h.decode(w, r, &req) {
		return
	}

	exp, err := h.approvals.SubmitExpense(r.Context(), actorFromRequest(r), r.PathValue("id"), req.ExpectedVersion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

type decisionRequest struct {
	Comment         string `json:"comment"`
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version"`
}

// ApproveExpense records an approval by the caller.
func (h *HTTPHandler) ApproveExpense(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	exp, err := h.approvals.Approve(r.Context(), actorFromRequest(r), r.PathValue("id"), req.Comment, req.ExpectedVersion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// RejectExpense records a rejection by the caller. The reason may be sent as
// either reason or comment.
func (h *HTTPHandler) RejectExpense(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = req.Comment
	}

	exp, err := h.approvals.Reject(r.Context(), actorFromRequest(r), r.PathValue("id"), reason, req.ExpectedVersion)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

type delegateRequest struct {
	EntryID         string `json:"entry_id"`
	DelegateTo      string `json:"delegate_to"`
	Reason          string `json:"reason"`
	ExpectedVersion int64  `json:"expected_version"`
}

// DelegateApproval hands a pending chain entry to another user.
func (h *HTTPHandler) DelegateApproval(w http.ResponseWriter, r *http.Request) {
	var req delegateRequest
	if !h.decode(w, r, &req) {
		return
	}

	exp, err := h.approvals.Delegate(r.Context(), actorFromRequest(r), r.PathValue("id"), service.DelegateInput{
		EntryID:         req.EntryID,
		DelegateTo:      req.DelegateTo,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

type resubmitRequest struct {
	ExpectedVersion int64            `json:"expected_version"`
	Amount          *decimal.Decimal `json:"amount"`
	Category        *string          `json:"category"`
	Department      *string          `json:"department"`
	Description     *string          `json:"description"`
}

// ResubmitExpense edits a rejected expense and routes it again.
func (h *HTTPHandler) ResubmitExpense(w http.ResponseWriter, r *http.Request) {
	var req resubmitRequest
	if !h.decode(w, r, &req) {
		return
	}

	exp, err := h.approvals.Resubmit(r.Context(), actorFromRequest(r), r.PathValue("id"), service.ResubmitInput{
		ExpectedVersion: req.ExpectedVersion,
		Amount:          req.Amount,
		Category:        req.Category,
		Department:      req.Department,
		Description:     req.Description,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// ExpectedApprovalTime returns the advisory completion estimate.
func (h *HTTPHandler) ExpectedApprovalTime(w http.ResponseWriter, r *http.Request) {
	eta, err := h.approvals.ExpectedApprovalTime(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eta)
}

// ApprovalContext reports the caller's position on the expense's chain.
func (h *HTTPHandler) ApprovalContext(w http.ResponseWriter, r *http.Request) {
	c, err := h.approvals.ApprovalContext(r.Context(), actorFromRequest(r), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AuditTrail returns the expense's audit log.
func (h *HTTPHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.approvals.AuditTrail(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// PendingApprovals lists the expenses the caller can act on now.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	exps, err := h.approvals.PendingForUser(r.Context(), actorFromRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": exps, "count": len(exps)})
}

// ── helpers ───────────────────────────────────────────────────────────────────

func actorFromRequest(r *http.Request) service.Actor {
	return service.Actor{
		UserID: r.Header.Get(HeaderUserID),
		Role:   r.Header.Get(HeaderUserRole),
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type errorResponse struct {
	Error     errorBody `json:"error"`
	RequestID string    `json:"request_id,omitempty"`
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	resp := errorResponse{
		Error: errorBody{
			Code:    string(errors.Code(err)),
			Message: err.Error(),
		},
		RequestID: middleware.GetRequestID(r.Context()),
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		resp.Error.Field = appErr.Field
	}

	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		resp.Error.Message = "internal server error"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
