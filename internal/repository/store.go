package repository

import (
	"context"
	"time"
)

// DecisionTx is the handle held while a single decision is being made against
// a request. It is only valid inside the AcquireForDecision callback; every
// mutation goes through it so the exclusive lock covers the whole decision.
type DecisionTx interface {
	// Request returns the locked request as read after lock acquisition.
	Request() *ApprovalRequest
	// AppendHistory records one decision entry. Fails if an entry already
	// exists for the same (approval_id, level).
	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	// Advance moves the request to the next level while it is still pending.
	// Fails with a stale-state error if the request is no longer pending.
	Advance(ctx context.Context, newLevel int, comments *string) error
	// Finalize moves the request to a terminal status while it is still
	// pending. Fails with a stale-state error otherwise.
	Finalize(ctx context.Context, status RequestStatus, comments *string) error
}

// RequestStore is the approval request lifecycle store.
type RequestStore interface {
	Create(ctx context.Context, req *ApprovalRequest) error
	Get(ctx context.Context, id string) (*ApprovalRequest, error)
	ListPending(ctx context.Context, filter ScopeFilter) ([]*ApprovalRequest, error)
	// AcquireForDecision takes an exclusive lock on the request for the
	// duration of fn. The lock wait is bounded; contention beyond the
	// configured timeout fails with a lock-timeout error rather than
	// blocking. Mutations made through the DecisionTx are committed when fn
	// returns nil and rolled back otherwise.
	AcquireForDecision(ctx context.Context, id string, fn func(tx DecisionTx) error) error
}

// HistoryStore reads the append-only decision ledger.
type HistoryStore interface {
	// ListFor returns all entries for a request ordered earliest first.
	ListFor(ctx context.Context, approvalID string) ([]*HistoryEntry, error)
}

// DelegationStore persists delegation grants.
type DelegationStore interface {
	Create(ctx context.Context, d *Delegation) error
	Get(ctx context.Context, id string) (*Delegation, error)
	// ActiveFor returns all delegations effective at the given time where
	// the actor is the delegate.
	ActiveFor(ctx context.Context, delegateID string, at time.Time) ([]*Delegation, error)
	// Deactivate flips the kill-switch off. Idempotent.
	Deactivate(ctx context.Context, id string) error
	// DeactivateExpired soft-deactivates delegations whose window has passed.
	// Returns the number of rows affected.
	DeactivateExpired(ctx context.Context, before time.Time) (int64, error)
}
