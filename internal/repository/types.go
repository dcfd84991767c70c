package repository

import "time"

// ── Domain types for the approval engine ─────────────────────────────────────

// SubjectType tags the kind of business record an approval gates.
type SubjectType string

const (
	SubjectExpense      SubjectType = "expense"
	SubjectInvoice      SubjectType = "invoice"
	SubjectJournalEntry SubjectType = "journal_entry"
	SubjectPriceChange  SubjectType = "price_change"
	SubjectPayslip      SubjectType = "payslip"
)

// RequestStatus is the lifecycle state of an approval request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
)

// Terminal reports whether the status admits no further decisions.
func (s RequestStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// DecisionAction is the outcome recorded for a single level.
type DecisionAction string

const (
	ActionApproved DecisionAction = "approved"
	ActionRejected DecisionAction = "rejected"
)

// ApprovalRequest is the entity tracked through the approval chain.
// Amounts are in cents; a nil Amount means no monetary threshold applies.
type ApprovalRequest struct {
	ID                   string        `json:"id"`
	EntityID             string        `json:"entity_id"`
	SubjectType          SubjectType   `json:"subject_type"`
	SubjectID            string        `json:"subject_id"`
	Amount               *int64        `json:"amount,omitempty"`
	CurrentLevel         int           `json:"current_level"`
	TotalLevels          int           `json:"total_levels"`
	Status               RequestStatus `json:"status"`
	RequestedBy          string        `json:"requested_by"`
	LastDecisionComments *string       `json:"last_decision_comments,omitempty"`
	Version              int           `json:"version"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// HistoryEntry is one immutable record of a decision made at a level.
// Entries are append-only and unique per (approval_id, level).
type HistoryEntry struct {
	ID         string         `json:"id"`
	ApprovalID string         `json:"approval_id"`
	EntityID   string         `json:"entity_id"`
	Level      int            `json:"level"`
	ActorID    string         `json:"actor_id"`
	Action     DecisionAction `json:"action"`
	Comments   *string        `json:"comments,omitempty"`
	DecidedAt  time.Time      `json:"decided_at"`
}

// Delegation is a time-bounded grant of approval-queue access from a
// delegator to a delegate.
type Delegation struct {
	ID          string    `json:"id"`
	EntityID    string    `json:"entity_id"`
	DelegatorID string    `json:"delegator_id"`
	DelegateID  string    `json:"delegate_id"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	IsActive    bool      `json:"is_active"`
	Reason      *string   `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EffectiveAt reports whether the delegation grants authority at the given
// time. The window is half-open: effective from StartAt up to but excluding
// EndAt, and only while the kill-switch is on.
func (d *Delegation) EffectiveAt(at time.Time) bool {
	return d.IsActive && !at.Before(d.StartAt) && at.Before(d.EndAt)
}

// ScopeFilter narrows ListPending to a caller-supplied scope. Zero fields
// match everything.
type ScopeFilter struct {
	EntityID    string
	SubjectType SubjectType
	RequestedBy string
}

// Matches reports whether the request falls inside the filter.
func (f ScopeFilter) Matches(req *ApprovalRequest) bool {
	if f.EntityID != "" && req.EntityID != f.EntityID {
		return false
	}
	if f.SubjectType != "" && req.SubjectType != f.SubjectType {
		return false
	}
	if f.RequestedBy != "" && req.RequestedBy != f.RequestedBy {
		return false
	}
	return true
}
