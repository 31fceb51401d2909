// Package approval holds the approval-rule matcher and the approval-chain
// state machine. Nothing in this package performs I/O; callers load rules and
// expenses, pass them in, and persist the values returned.
package approval

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleType selects which conditions a rule evaluates.
type RuleType string

const (
	RuleTypeAmount     RuleType = "amount"
	RuleTypeCategory   RuleType = "category"
	RuleTypeDepartment RuleType = "department"
	RuleTypeHybrid     RuleType = "hybrid"
	RuleTypeCustom     RuleType = "custom"
)

// ApprovalType selects how a chain is walked and when it completes.
type ApprovalType string

const (
	ApprovalSequential ApprovalType = "sequential"
	ApprovalParallel   ApprovalType = "parallel"
	ApprovalPercentage ApprovalType = "percentage"
	ApprovalSpecific   ApprovalType = "specific"
	ApprovalHybrid     ApprovalType = "hybrid" // percentage OR specific approver
)

func (t ApprovalType) usesPercentage() bool {
	return t == ApprovalPercentage || t == ApprovalHybrid
}

func (t ApprovalType) usesSpecific() bool {
	return t == ApprovalSpecific || t == ApprovalHybrid
}

// startsAllPending reports whether every entry is opened at submission.
func (t ApprovalType) startsAllPending() bool {
	return t == ApprovalParallel || t == ApprovalPercentage
}

// Conditions restrict which expenses a rule applies to. Nil bounds and empty
// sets are unconstrained; both bounds are inclusive.
type Conditions struct {
	MinAmount     *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount     *decimal.Decimal `json:"max_amount,omitempty"`
	Categories    []string         `json:"categories,omitempty"`
	Departments   []string         `json:"departments,omitempty"`
	SpecificUsers []string         `json:"specific_users,omitempty"`
}

// Settings tune chain completion.
type Settings struct {
	Percentage       int    `json:"percentage,omitempty"`
	SpecificApprover string `json:"specific_approver,omitempty"`
	RequireAll       bool   `json:"require_all"`
	AllowDelegation  bool   `json:"allow_delegation"`
	TimeoutHours     int    `json:"timeout_hours,omitempty"`
}

// RuleApprover is one configured step of a rule.
type RuleApprover struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role,omitempty"`
	Order      int    `json:"order"`
	IsRequired bool   `json:"is_required"`
}

// Rule is an approval policy.
type Rule struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	RuleType     RuleType       `json:"rule_type"`
	ApprovalType ApprovalType   `json:"approval_type"`
	IsActive     bool           `json:"is_active"`
	IsDefault    bool           `json:"is_default"`
	Priority     int            `json:"priority"`
	Conditions   Conditions     `json:"conditions"`
	Settings     Settings       `json:"settings"`
	Approvers    []RuleApprover `json:"approvers"`
	Version      int            `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// EntryStatus is the state of one chain slot.
type EntryStatus string

const (
	EntryWaiting  EntryStatus = "waiting"
	EntryPending  EntryStatus = "pending"
	EntryApproved EntryStatus = "approved"
	EntryRejected EntryStatus = "rejected"
)

// Terminal reports whether the entry has been acted on.
func (s EntryStatus) Terminal() bool {
	return s == EntryApproved || s == EntryRejected
}

// Delegation records that an approver handed their step to someone else.
type Delegation struct {
	To          string    `json:"to"`
	Reason      string    `json:"reason"`
	DelegatedAt time.Time `json:"delegated_at"`
}

// ChainEntry is one approver's slot within an expense's chain.
type ChainEntry struct {
	ID           string      `json:"id"`
	ApproverID   string      `json:"approver_id"`
	ApproverName string      `json:"approver_name,omitempty"`
	Role         string      `json:"role,omitempty"`
	Status       EntryStatus `json:"status"`
	Order        int         `json:"order"`
	IsRequired   bool        `json:"is_required"`
	CanDelegate  bool        `json:"can_delegate"`
	Delegation   *Delegation `json:"delegated_to,omitempty"`
	RequestedAt  *time.Time  `json:"requested_at,omitempty"`
	ApprovedAt   *time.Time  `json:"approved_at,omitempty"`
	RejectedAt   *time.Time  `json:"rejected_at,omitempty"`
	DueAt        *time.Time  `json:"due_at,omitempty"`
	Comment      string      `json:"comment,omitempty"`
}

// Status is the lifecycle state of an expense.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further approval transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Action is what an approver does to a pending step.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// HistoryEntry is one append-only record of an approver decision.
type HistoryEntry struct {
	ApproverID string    `json:"approver_id"`
	Action     Action    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
	Comment    string    `json:"comment,omitempty"`
}

// Policy is the snapshot of rule settings an expense was submitted under.
type Policy struct {
	ApprovalType       ApprovalType `json:"approval_type"`
	Percentage         int          `json:"percentage,omitempty"`
	SpecificApproverID string       `json:"specific_approver_id,omitempty"`
	RequireAll         bool         `json:"require_all"`
	TimeoutHours       int          `json:"timeout_hours,omitempty"`
}

// Expense is a claim moving through approval.
type Expense struct {
	ID                string          `json:"id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Category          string          `json:"category"`
	Department        string          `json:"department"`
	Description       string          `json:"description,omitempty"`
	SubmittedBy       string          `json:"submitted_by"`
	Status            Status          `json:"status"`
	CurrentApproverID string          `json:"current_approver_id,omitempty"`
	RuleID            string          `json:"rule_id,omitempty"`
	Policy            Policy          `json:"policy"`
	Chain             []ChainEntry    `json:"approval_chain"`
	History           []HistoryEntry  `json:"approval_history"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
	RejectedBy        string          `json:"rejected_by,omitempty"`
	RejectedAt        *time.Time      `json:"rejected_at,omitempty"`
	FinalApproverID   string          `json:"final_approver_id,omitempty"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	SubmittedAt       *time.Time      `json:"submitted_at,omitempty"`
	Version           int64           `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so transitions never alias the caller's slices.
func (e Expense) Clone() Expense {
	out := e
	if e.Chain != nil {
		out.Chain = make([]ChainEntry, len(e.Chain))
		for i, entry := range e.Chain {
			out.Chain[i] = entry.clone()
		}
	}
	if e.History != nil {
		out.History = append([]HistoryEntry(nil), e.History...)
	}
	out.RejectedAt = cloneTime(e.RejectedAt)
	out.ApprovedAt = cloneTime(e.ApprovedAt)
	out.SubmittedAt = cloneTime(e.SubmittedAt)
	return out
}

// EntryFor returns the chain entry assigned to approverID.
func (e Expense) EntryFor(approverID string) (ChainEntry, bool) {
	for _, entry := range e.Chain {
		if entry.ApproverID == approverID {
			return entry, true
		}
	}
	return ChainEntry{}, false
}

func (c ChainEntry) clone() ChainEntry {
	out := c
	if c.Delegation != nil {
		d := *c.Delegation
		out.Delegation = &d
	}
	out.RequestedAt = cloneTime(c.RequestedAt)
	out.ApprovedAt = cloneTime(c.ApprovedAt)
	out.RejectedAt = cloneTime(c.RejectedAt)
	out.DueAt = cloneTime(c.DueAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
