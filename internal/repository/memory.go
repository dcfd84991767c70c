package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// MemoryStore is an in-process implementation of RequestStore and
// HistoryStore. It backs the `memory` storage mode and the test suite, and
// honors the same contracts as the Postgres repositories: a per-request
// exclusive decision lock with a bounded wait, stale-state re-checks after
// lock acquisition, and at-most-once history per (approval_id, level).
type MemoryStore struct {
	mu          sync.Mutex
	requests    map[string]*ApprovalRequest
	history     map[string][]*HistoryEntry
	historyKeys map[string]struct{}
	locks       map[string]chan struct{}
	lockTimeout time.Duration
	now         func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &MemoryStore{
		requests:    make(map[string]*ApprovalRequest),
		history:     make(map[string][]*HistoryEntry),
		historyKeys: make(map[string]struct{}),
		locks:       make(map[string]chan struct{}),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

func historyKey(approvalID string, level int) string {
	return fmt.Sprintf("%s/%d", approvalID, level)
}

// ── RequestStore ──────────────────────────────────────────────────────────────

// Create stores a new request, assigning its ID and timestamps.
func (m *MemoryStore) Create(ctx context.Context, req *ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	req.ID = uuid.NewString()
	req.Version = 1
	req.CreatedAt = now
	req.UpdatedAt = now

	stored := *req
	m.requests[req.ID] = &stored
	m.locks[req.ID] = make(chan struct{}, 1)
	return nil
}

// Get returns a copy of the request.
func (m *MemoryStore) Get(ctx context.Context, id string) (*ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.requests[id]
	if !ok {
		return nil, apperrors.NotFound("approval_request", id)
	}
	out := *stored
	return &out, nil
}

// ListPending returns pending requests matching the filter, oldest first.
func (m *MemoryStore) ListPending(ctx context.Context, filter ScopeFilter) ([]*ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*ApprovalRequest
	for _, stored := range m.requests {
		if stored.Status != StatusPending || !filter.Matches(stored) {
			continue
		}
		cp := *stored
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AcquireForDecision takes the per-request lock, bounded by the configured
// timeout, and runs fn against a staged copy. Mutations commit only when fn
// returns nil, mirroring the transactional Postgres path.
func (m *MemoryStore) AcquireForDecision(ctx context.Context, id string, fn func(tx DecisionTx) error) error {
	m.mu.Lock()
	lock, ok := m.locks[id]
	m.mu.Unlock()
	if !ok {
		return apperrors.NotFound("approval_request", id)
	}

	timer := time.NewTimer(m.lockTimeout)
	defer timer.Stop()

	select {
	case lock <- struct{}{}:
	case <-timer.C:
		return apperrors.LockTimeout(id)
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeLockTimeout, "decision lock wait cancelled")
	}
	defer func() { <-lock }()

	m.mu.Lock()
	stored, ok := m.requests[id]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("approval_request", id)
	}
	work := *stored
	m.mu.Unlock()

	tx := &memDecisionTx{store: m, work: &work}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit the staged state.
	m.mu.Lock()
	defer m.mu.Unlock()
	committed := *tx.work
	m.requests[id] = &committed
	for _, e := range tx.staged {
		cp := *e
		m.history[e.ApprovalID] = append(m.history[e.ApprovalID], &cp)
		m.historyKeys[historyKey(e.ApprovalID, e.Level)] = struct{}{}
	}
	return nil
}

type memDecisionTx struct {
	store  *MemoryStore
	work   *ApprovalRequest
	staged []*HistoryEntry
}

func (t *memDecisionTx) Request() *ApprovalRequest { return t.work }

func (t *memDecisionTx) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	key := historyKey(entry.ApprovalID, entry.Level)

	t.store.mu.Lock()
	_, dup := t.store.historyKeys[key]
	t.store.mu.Unlock()
	if !dup {
		for _, s := range t.staged {
			if historyKey(s.ApprovalID, s.Level) == key {
				dup = true
				break
			}
		}
	}
	if dup {
		return apperrors.New(apperrors.ErrCodeConflict,
			fmt.Sprintf("history entry already exists for request %s level %d", entry.ApprovalID, entry.Level))
	}

	entry.ID = uuid.NewString()
	if entry.DecidedAt.IsZero() {
		entry.DecidedAt = t.store.now()
	}
	t.staged = append(t.staged, entry)
	return nil
}

func (t *memDecisionTx) Advance(ctx context.Context, newLevel int, comments *string) error {
	if t.work.Status != StatusPending || newLevel <= t.work.CurrentLevel {
		return apperrors.StaleState(t.work.ID)
	}
	t.work.CurrentLevel = newLevel
	t.work.LastDecisionComments = comments
	t.work.Version++
	t.work.UpdatedAt = t.store.now()
	return nil
}

func (t *memDecisionTx) Finalize(ctx context.Context, status RequestStatus, comments *string) error {
	if t.work.Status != StatusPending {
		return apperrors.StaleState(t.work.ID)
	}
	t.work.Status = status
	t.work.LastDecisionComments = comments
	t.work.Version++
	t.work.UpdatedAt = t.store.now()
	return nil
}

// ── HistoryStore ──────────────────────────────────────────────────────────────

// ListFor returns all entries for a request in append order (earliest first).
func (m *MemoryStore) ListFor(ctx context.Context, approvalID string) ([]*HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.history[approvalID]
	out := make([]*HistoryEntry, 0, len(entries))
	for _, e := range entries {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// ── In-memory DelegationStore ─────────────────────────────────────────────────

// MemoryDelegationStore is an in-process DelegationStore.
type MemoryDelegationStore struct {
	mu          sync.Mutex
	delegations map[string]*Delegation
	now         func() time.Time
}

// NewMemoryDelegationStore creates an empty MemoryDelegationStore.
func NewMemoryDelegationStore() *MemoryDelegationStore {
	return &MemoryDelegationStore{
		delegations: make(map[string]*Delegation),
		now:         time.Now,
	}
}

// Create stores a new delegation, assigning its ID and timestamps.
func (m *MemoryDelegationStore) Create(ctx context.Context, d *Delegation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	d.ID = uuid.NewString()
	d.CreatedAt = now
	d.UpdatedAt = now

	stored := *d
	m.delegations[d.ID] = &stored
	return nil
}

// Get returns a copy of the delegation.
func (m *MemoryDelegationStore) Get(ctx context.Context, id string) (*Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.delegations[id]
	if !ok {
		return nil, apperrors.NotFound("delegation", id)
	}
	out := *stored
	return &out, nil
}

// ActiveFor returns delegations effective at the given time held by the actor.
func (m *MemoryDelegationStore) ActiveFor(ctx context.Context, delegateID string, at time.Time) ([]*Delegation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Delegation
	for _, d := range m.delegations {
		if d.DelegateID == delegateID && d.EffectiveAt(at) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Deactivate flips the kill-switch off. Idempotent.
func (m *MemoryDelegationStore) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.delegations[id]
	if !ok {
		return apperrors.NotFound("delegation", id)
	}
	if d.IsActive {
		d.IsActive = false
		d.UpdatedAt = m.now()
	}
	return nil
}

// DeactivateExpired soft-deactivates delegations whose window has passed.
func (m *MemoryDelegationStore) DeactivateExpired(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, d := range m.delegations {
		if d.IsActive && !d.EndAt.After(before) {
			d.IsActive = false
			d.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}
