package approval

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Representative is the user who approves on behalf of a ladder role.
type Representative struct {
	UserID string
	Name   string
}

// Engine builds approval chains and applies transitions to expenses. It holds
// only configuration, so one Engine may be shared across goroutines.
type Engine struct {
	ladder          Ladder
	representatives map[string]Representative
	roleHours       map[string]float64
	defaultHours    float64
	delegatesMayAct bool
	now             func() time.Time
	newID           func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLadder replaces the default amount-tier ladder.
func WithLadder(l Ladder) Option {
	return func(e *Engine) { e.ladder = l }
}

// WithRepresentatives maps ladder roles to users.
func WithRepresentatives(reps map[string]Representative) Option {
	return func(e *Engine) {
		e.representatives = make(map[string]Representative, len(reps))
		for role, rep := range reps {
			e.representatives[role] = rep
		}
	}
}

// WithRoleHours sets average approval durations per role, used by
// ExpectedApprovalTime. defaultHours covers roles missing from the table.
func WithRoleHours(hours map[string]float64, defaultHours float64) Option {
	return func(e *Engine) {
		e.roleHours = make(map[string]float64, len(hours))
		for role, h := range hours {
			e.roleHours[role] = h
		}
		e.defaultHours = defaultHours
	}
}

// WithDelegatesMayAct lets the delegate of a pending entry approve or reject
// it. When false, delegation only annotates the entry.
func WithDelegatesMayAct(allow bool) Option {
	return func(e *Engine) { e.delegatesMayAct = allow }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides chain entry id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine creates an Engine with the default ladder and a 24h role average.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		ladder:          DefaultLadder(),
		representatives: map[string]Representative{},
		roleHours:       map[string]float64{},
		defaultHours:    24,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ── Chain construction ───────────────────────────────────────────────────────

// BuildChain materializes rule into chain entries for expense. Explicit
// approvers win; amount and hybrid rules without approvers use the ladder; a
// specific-approver rule without approvers yields a single entry. Entries the
// submitter would hold are left out, and a ladder band held only by the
// submitter escalates to the next band.
func (e *Engine) BuildChain(rule Rule, expense Expense) ([]ChainEntry, error) {
	var entries []ChainEntry

	switch {
	case len(rule.Approvers) > 0:
		approvers := append([]RuleApprover(nil), rule.Approvers...)
		sort.SliceStable(approvers, func(i, j int) bool { return approvers[i].Order < approvers[j].Order })
		for _, a := range approvers {
			if a.UserID == expense.SubmittedBy {
				continue
			}
			entries = append(entries, ChainEntry{
				ApproverID:   a.UserID,
				ApproverName: a.Name,
				Role:         a.Role,
				Order:        a.Order,
				IsRequired:   a.IsRequired,
			})
		}

	case rule.RuleType == RuleTypeAmount || rule.RuleType == RuleTypeHybrid:
		bands, err := e.ladder.BandsFrom(expense.Amount)
		if err != nil {
			return nil, err
		}
		for _, band := range bands {
			if entries, err = e.bandEntries(band, expense.SubmittedBy); err != nil {
				return nil, err
			}
			if len(entries) > 0 {
				break
			}
		}

	case rule.ApprovalType.usesSpecific() && rule.Settings.SpecificApprover != "":
		if rule.Settings.SpecificApprover != expense.SubmittedBy {
			entries = append(entries, ChainEntry{
				ApproverID: rule.Settings.SpecificApprover,
				Order:      1,
				IsRequired: true,
			})
		}

	default:
		return nil, &RuleConfigError{Problems: []string{
			fmt.Sprintf("rule %q has no approvers", rule.Name),
		}}
	}

	if len(entries) == 0 {
		return nil, &RuleConfigError{Problems: []string{
			fmt.Sprintf("rule %q has no approver other than submitter %s", rule.Name, expense.SubmittedBy),
		}}
	}

	now := e.now()
	for i := range entries {
		entries[i].ID = e.newID()
		entries[i].Status = EntryWaiting
		entries[i].CanDelegate = rule.Settings.AllowDelegation
	}
	if rule.ApprovalType.startsAllPending() {
		for i := range entries {
			open(&entries[i], now, rule.Settings.TimeoutHours)
		}
	} else {
		open(&entries[0], now, rule.Settings.TimeoutHours)
	}
	return entries, nil
}

// bandEntries resolves band's roles to their representatives, skipping the
// submitter.
func (e *Engine) bandEntries(band Band, submittedBy string) ([]ChainEntry, error) {
	var entries []ChainEntry
	for _, role := range band.Roles {
		rep, ok := e.representatives[role]
		if !ok || rep.UserID == "" {
			return nil, &RuleConfigError{Problems: []string{
				fmt.Sprintf("no representative configured for role %q", role),
			}}
		}
		if rep.UserID == submittedBy {
			continue
		}
		entries = append(entries, ChainEntry{
			ApproverID:   rep.UserID,
			ApproverName: rep.Name,
			Role:         role,
			Order:        len(entries) + 1,
			IsRequired:   true,
		})
	}
	return entries, nil
}

func open(entry *ChainEntry, now time.Time, timeoutHours int) {
	entry.Status = EntryPending
	requested := now
	entry.RequestedAt = &requested
	if timeoutHours > 0 {
		due := now.Add(time.Duration(timeoutHours) * time.Hour)
		entry.DueAt = &due
	}
}

// ── Transitions ──────────────────────────────────────────────────────────────

// Submit moves a draft expense to pending under rule.
func (e *Engine) Submit(rule Rule, expense Expense, expectedVersion int64) (Expense, error) {
	if err := checkVersion(expense, expectedVersion); err != nil {
		return Expense{}, err
	}
	if expense.Status != StatusDraft {
		return Expense{}, transitionErr("expense %s is %s, only drafts can be submitted", expense.ID, expense.Status)
	}
	if !expense.Amount.IsPositive() {
		return Expense{}, fmt.Errorf("%w: amount must be positive", ErrInvalidExpense)
	}

	chain, err := e.BuildChain(rule, expense)
	if err != nil {
		return Expense{}, err
	}

	now := e.now()
	out := expense.Clone()
	out.Chain = chain
	out.RuleID = rule.ID
	out.Policy = Policy{
		ApprovalType:       rule.ApprovalType,
		Percentage:         rule.Settings.Percentage,
		SpecificApproverID: rule.Settings.SpecificApprover,
		RequireAll:         rule.Settings.RequireAll,
		TimeoutHours:       rule.Settings.TimeoutHours,
	}
	out.Status = StatusPending
	out.CurrentApproverID = firstPending(chain)
	out.SubmittedAt = &now
	out.RejectionReason, out.RejectedBy, out.RejectedAt = "", "", nil
	out.FinalApproverID, out.ApprovedAt = "", nil
	out.Version++
	out.UpdatedAt = now
	return out, nil
}

// ApprovalRequest is one approve or reject decision.
type ApprovalRequest struct {
	ApproverID      string
	Action          Action
	Comment         string
	ExpectedVersion int64
	// AdminOverride lets the caller act on the current step in place of the
	// assigned approver.
	AdminOverride bool
}

// ProcessApproval applies an approve or reject decision and returns the
// updated expense. The input expense is never modified; on error nothing is
// returned.
func (e *Engine) ProcessApproval(expense Expense, req ApprovalRequest) (Expense, error) {
	if req.Action != ActionApprove && req.Action != ActionReject {
		return Expense{}, transitionErr("unknown action %q", req.Action)
	}
	if err := checkVersion(expense, req.ExpectedVersion); err != nil {
		return Expense{}, err
	}
	if expense.Status != StatusPending {
		return Expense{}, transitionErr("expense %s is %s", expense.ID, expense.Status)
	}
	idx, err := e.resolveActor(expense, req.ApproverID, req.AdminOverride)
	if err != nil {
		return Expense{}, err
	}

	now := e.now()
	out := expense.Clone()
	out.History = append(out.History, HistoryEntry{
		ApproverID: req.ApproverID,
		Action:     req.Action,
		Timestamp:  now,
		Comment:    req.Comment,
	})

	var entry *ChainEntry
	if idx >= 0 {
		entry = &out.Chain[idx]
		entry.Comment = req.Comment
	}

	switch req.Action {
	case ActionReject:
		if entry != nil {
			entry.Status = EntryRejected
			entry.RejectedAt = &now
		}
		out.Status = StatusRejected
		out.CurrentApproverID = ""
		closeChain(out.Chain)
		out.RejectionReason = req.Comment
		out.RejectedBy = req.ApproverID
		out.RejectedAt = &now

	case ActionApprove:
		if entry != nil {
			entry.Status = EntryApproved
			entry.ApprovedAt = &now
		}
		e.advance(&out, idx, req.ApproverID, now)
	}

	out.Version++
	out.UpdatedAt = now
	return out, nil
}

// resolveActor returns the index of the chain entry actorID acts on. -1 means
// the actor is the policy's specific approver and holds no entry of their own.
func (e *Engine) resolveActor(expense Expense, actorID string, adminOverride bool) (int, error) {
	if actorID == "" {
		return 0, notAuthorized("approver id is required")
	}
	if actorID == expense.SubmittedBy && !adminOverride {
		return 0, notAuthorized("submitter %s cannot act on own expense", actorID)
	}

	for i, entry := range expense.Chain {
		if entry.Status != EntryPending {
			continue
		}
		if entry.ApproverID == actorID {
			return i, nil
		}
		if e.delegatesMayAct && entry.Delegation != nil && entry.Delegation.To == actorID {
			return i, nil
		}
	}

	if expense.Policy.ApprovalType.usesSpecific() && actorID == expense.Policy.SpecificApproverID {
		for i, entry := range expense.Chain {
			if entry.ApproverID == actorID && !entry.Status.Terminal() {
				return i, nil
			}
		}
		return -1, nil
	}

	if adminOverride {
		for i, entry := range expense.Chain {
			if entry.Status == EntryPending && entry.ApproverID == expense.CurrentApproverID {
				return i, nil
			}
		}
	}

	return 0, notAuthorized("user %s is not the current approver of expense %s", actorID, expense.ID)
}

// advance moves an expense forward after the entry at idx was approved.
func (e *Engine) advance(out *Expense, idx int, actorID string, now time.Time) {
	policy := out.Policy

	if policy.ApprovalType.usesSpecific() && actorID == policy.SpecificApproverID {
		finalize(out, actorID, now)
		return
	}

	switch policy.ApprovalType {
	case ApprovalParallel:
		if allApproved(out.Chain, policy.RequireAll) {
			finalize(out, actorID, now)
			return
		}
		out.CurrentApproverID = firstPending(out.Chain)

	case ApprovalPercentage:
		if percentageMet(out.Chain, policy.Percentage) || firstPending(out.Chain) == "" {
			finalize(out, actorID, now)
			return
		}
		out.CurrentApproverID = firstPending(out.Chain)

	case ApprovalHybrid:
		if percentageMet(out.Chain, policy.Percentage) {
			finalize(out, actorID, now)
			return
		}
		e.advanceSequential(out, idx, actorID, now)

	default:
		e.advanceSequential(out, idx, actorID, now)
	}
}

func (e *Engine) advanceSequential(out *Expense, idx int, actorID string, now time.Time) {
	order := out.Chain[idx].Order
	next, ok := nextAfter(out.Chain, order)
	if !ok || (!out.Policy.RequireAll && !requiredRemainsAfter(out.Chain, order)) {
		finalize(out, actorID, now)
		return
	}
	open(&out.Chain[next], now, out.Policy.TimeoutHours)
	out.CurrentApproverID = out.Chain[next].ApproverID
}

func finalize(out *Expense, actorID string, now time.Time) {
	out.Status = StatusApproved
	out.CurrentApproverID = ""
	out.ApprovedAt = &now
	out.FinalApproverID = actorID
	closeChain(out.Chain)
}

// closeChain returns entries still pending on a decided expense to waiting.
func closeChain(chain []ChainEntry) {
	for i := range chain {
		if chain[i].Status != EntryPending {
			continue
		}
		chain[i].Status = EntryWaiting
		chain[i].RequestedAt = nil
		chain[i].DueAt = nil
	}
}

// ReturnToDraft reopens a rejected expense for editing. History is kept; the
// chain is discarded and rebuilt on the next Submit.
func (e *Engine) ReturnToDraft(expense Expense, expectedVersion int64) (Expense, error) {
	if err := checkVersion(expense, expectedVersion); err != nil {
		return Expense{}, err
	}
	if expense.Status != StatusRejected {
		return Expense{}, transitionErr("expense %s is %s, only rejected expenses return to draft", expense.ID, expense.Status)
	}

	out := expense.Clone()
	out.Status = StatusDraft
	out.Chain = nil
	out.CurrentApproverID = ""
	out.RuleID = ""
	out.Policy = Policy{}
	out.RejectionReason, out.RejectedBy, out.RejectedAt = "", "", nil
	out.SubmittedAt = nil
	out.Version++
	out.UpdatedAt = e.now()
	return out, nil
}

// ── Delegation ───────────────────────────────────────────────────────────────

// DelegateApproval returns the entry entryID annotated with a delegation to
// delegateToID. Status is left unchanged; chain is not modified.
func (e *Engine) DelegateApproval(chain []ChainEntry, entryID, delegateToID, reason string) (ChainEntry, error) {
	for _, entry := range chain {
		if entry.ID != entryID {
			continue
		}
		if !entry.CanDelegate {
			return ChainEntry{}, fmt.Errorf("%w: entry %s", ErrDelegationNotAllowed, entryID)
		}
		if entry.Status.Terminal() {
			return ChainEntry{}, transitionErr("entry %s is already %s", entryID, entry.Status)
		}
		if delegateToID == "" || delegateToID == entry.ApproverID {
			return ChainEntry{}, transitionErr("entry %s cannot be delegated to %q", entryID, delegateToID)
		}

		out := entry.clone()
		out.Delegation = &Delegation{To: delegateToID, Reason: reason, DelegatedAt: e.now()}
		return out, nil
	}
	return ChainEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
}

// DelegateRequest asks to delegate one chain entry of an expense.
type DelegateRequest struct {
	EntryID         string
	ActorID         string
	DelegateTo      string
	Reason          string
	ExpectedVersion int64
	AdminOverride   bool
}

// Delegate applies DelegateApproval to an expense on behalf of the entry's
// approver.
func (e *Engine) Delegate(expense Expense, req DelegateRequest) (Expense, error) {
	if err := checkVersion(expense, req.ExpectedVersion); err != nil {
		return Expense{}, err
	}
	if expense.Status != StatusPending {
		return Expense{}, transitionErr("expense %s is %s", expense.ID, expense.Status)
	}

	idx := -1
	for i, entry := range expense.Chain {
		if entry.ID == req.EntryID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Expense{}, fmt.Errorf("%w: %s", ErrEntryNotFound, req.EntryID)
	}
	if expense.Chain[idx].ApproverID != req.ActorID && !req.AdminOverride {
		return Expense{}, notAuthorized("user %s does not own entry %s", req.ActorID, req.EntryID)
	}

	updated, err := e.DelegateApproval(expense.Chain, req.EntryID, req.DelegateTo, req.Reason)
	if err != nil {
		return Expense{}, err
	}

	out := expense.Clone()
	out.Chain[idx] = updated
	out.Version++
	out.UpdatedAt = e.now()
	return out, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetNextApprover returns the non-terminal entry with the smallest order after
// approverID's entry. When approverID holds several entries, the first one
// not yet acted on is used.
func GetNextApprover(chain []ChainEntry, approverID string) (ChainEntry, bool) {
	from := -1
	for i, entry := range chain {
		if entry.ApproverID != approverID {
			continue
		}
		if from < 0 || (chain[from].Status.Terminal() && !entry.Status.Terminal()) {
			from = i
		}
	}
	if from < 0 {
		return ChainEntry{}, false
	}
	if i, ok := nextAfter(chain, chain[from].Order); ok {
		return chain[i], true
	}
	return ChainEntry{}, false
}

// ExpectedApprovalTime sums the average approval hours of every entry whose
// order is at least fromStep. Advisory only.
func (e *Engine) ExpectedApprovalTime(chain []ChainEntry, fromStep int) float64 {
	var total float64
	for _, entry := range chain {
		if entry.Order < fromStep {
			continue
		}
		if h, ok := e.roleHours[entry.Role]; ok {
			total += h
		} else {
			total += e.defaultHours
		}
	}
	return total
}

// Context describes where a user stands on an expense's chain.
type Context struct {
	ApprovalType    ApprovalType `json:"approval_type"`
	Level           int          `json:"approver_level"`
	ApprovedCount   int          `json:"existing_approvals_count"`
	TotalSteps      int          `json:"total_steps"`
	CanAct          bool         `json:"can_act"`
	IsFinalApprover bool         `json:"is_final_approver"`
}

// ApprovalContext reports whether userID can act on expense now and whether an
// approval by them would complete it.
func (e *Engine) ApprovalContext(expense Expense, userID string) Context {
	ctx := Context{
		ApprovalType: expense.Policy.ApprovalType,
		TotalSteps:   len(expense.Chain),
	}
	for _, entry := range expense.Chain {
		if entry.Status == EntryApproved {
			ctx.ApprovedCount++
		}
	}
	ctx.Level = ctx.ApprovedCount + 1

	trial, err := e.ProcessApproval(expense, ApprovalRequest{
		ApproverID:      userID,
		Action:          ActionApprove,
		ExpectedVersion: expense.Version,
	})
	if err == nil {
		ctx.CanAct = true
		ctx.IsFinalApprover = trial.Status == StatusApproved
	}
	return ctx
}

// ── helpers ──────────────────────────────────────────────────────────────────

func checkVersion(expense Expense, expected int64) error {
	if expense.Version != expected {
		return &VersionError{ExpenseID: expense.ID, Expected: expected, Actual: expense.Version}
	}
	return nil
}

func firstPending(chain []ChainEntry) string {
	best := -1
	for i, entry := range chain {
		if entry.Status != EntryPending {
			continue
		}
		if best < 0 || entry.Order < chain[best].Order {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return chain[best].ApproverID
}

func nextAfter(chain []ChainEntry, order int) (int, bool) {
	best := -1
	for i, entry := range chain {
		if entry.Order <= order || entry.Status.Terminal() {
			continue
		}
		if best < 0 || entry.Order < chain[best].Order {
			best = i
		}
	}
	return best, best >= 0
}

func requiredRemainsAfter(chain []ChainEntry, order int) bool {
	for _, entry := range chain {
		if entry.Order > order && entry.IsRequired && !entry.Status.Terminal() {
			return true
		}
	}
	return false
}

func allApproved(chain []ChainEntry, requireAll bool) bool {
	for _, entry := range chain {
		if !requireAll && !entry.IsRequired {
			continue
		}
		if entry.Status != EntryApproved {
			return false
		}
	}
	return true
}

func percentageMet(chain []ChainEntry, percentage int) bool {
	if len(chain) == 0 || percentage <= 0 {
		return false
	}
	approved := 0
	for _, entry := range chain {
		if entry.Status == EntryApproved {
			approved++
		}
	}
	return approved*100 >= percentage*len(chain)
}
