package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pesio-ai/be-plt-approvals/internal/errors"
)

func newRequest() *ApprovalRequest {
	amount := int64(5000)
	return &ApprovalRequest{
		EntityID:     "acme",
		SubjectType:  SubjectExpense,
		SubjectID:    "exp-1",
		Amount:       &amount,
		CurrentLevel: 1,
		TotalLevels:  2,
		Status:       StatusPending,
		RequestedBy:  "alice",
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore(time.Second)
	ctx := context.Background()

	req := newRequest()
	require.NoError(t, store.Create(ctx, req))
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, 1, req.Version)

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)

	// Get hands out copies; mutating one must not leak into the store.
	got.Status = StatusApproved
	again, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)

	_, err = store.Get(ctx, "missing")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.Code(err))
}

func TestMemoryStoreLockTimeout(t *testing.T) {
	store := NewMemoryStore(50 * time.Millisecond)
	ctx := context.Background()

	req := newRequest()
	require.NoError(t, store.Create(ctx, req))

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.AcquireForDecision(ctx, req.ID, func(tx DecisionTx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	err := store.AcquireForDecision(ctx, req.ID, func(tx DecisionTx) error {
		t.Error("must not run while the lock is held")
		return nil
	})
	assert.Equal(t, apperrors.ErrCodeLockTimeout, apperrors.Code(err))
}

func TestMemoryStoreAcquireHonorsContext(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	req := newRequest()
	require.NoError(t, store.Create(context.Background(), req))

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.AcquireForDecision(context.Background(), req.ID, func(tx DecisionTx) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := store.AcquireForDecision(ctx, req.ID, func(tx DecisionTx) error { return nil })
	assert.Equal(t, apperrors.ErrCodeLockTimeout, apperrors.Code(err))
}

func TestMemoryStoreRollbackOnError(t *testing.T) {
	store := NewMemoryStore(time.Second)
	ctx := context.Background()

	req := newRequest()
	require.NoError(t, store.Create(ctx, req))

	err := store.AcquireForDecision(ctx, req.ID, func(tx DecisionTx) error {
		if err := tx.AppendHistory(ctx, &HistoryEntry{
			ApprovalID: req.ID,
			EntityID:   req.EntityID,
			Level:      1,
			ActorID:    "bob",
			Action:     ActionApproved,
		}); err != nil {
			return err
		}
		if err := tx.Advance(ctx, 2, nil); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	// Neither the advance nor the history entry committed.
	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentLevel)
	assert.Equal(t, 1, got.Version)

	entries, err := store.ListFor(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryStoreDuplicateHistory(t *testing.T) {
	store := NewMemoryStore(time.Second)
	ctx := context.Background()

	req := newRequest()
	require.NoError(t, store.Create(ctx, req))

	entry := func() *HistoryEntry {
		return &HistoryEntry{
			ApprovalID: req.ID,
			EntityID:   req.EntityID,
			Level:      1,
			ActorID:    "bob",
			Action:     ActionApproved,
		}
	}

	err := store.AcquireForDecision(ctx, req.ID, func(tx DecisionTx) error {
		require.NoError(t, tx.AppendHistory(ctx, entry()))
		return tx.Advance(ctx, 2, nil)
	})
	require.NoError(t, err)

	// A committed entry blocks a second write at the same level.
	err = store.AcquireForDecision(ctx, req.ID, func(tx DecisionTx) error {
		return tx.AppendHistory(ctx, entry())
	})
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.Code(err))

	// So does a staged one inside a single transaction.
	err = store.AcquireForDecision(ctx, req.ID, func(tx DecisionTx) error {
		e := entry()
		e.Level = 2
		require.NoError(t, tx.AppendHistory(ctx, e))
		dup := entry()
		dup.Level = 2
		return tx.AppendHistory(ctx, dup)
	})
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.Code(err))
}

func TestMemoryStoreStaleState(t *testing.T) {
	store := NewMemoryStore(time.Second)
	ctx := context.Background()

	req := newRequest()
	require.NoError(t, store.Create(ctx, req))

	err := store.AcquireForDecision(ctx, req.ID, func(tx DecisionTx) error {
		require.NoError(t, tx.Finalize(ctx, StatusRejected, nil))
		// The staged request is no longer pending; further transitions fail.
		err := tx.Advance(ctx, 2, nil)
		assert.Equal(t, apperrors.ErrCodeStaleState, apperrors.Code(err))
		err = tx.Finalize(ctx, StatusApproved, nil)
		assert.Equal(t, apperrors.ErrCodeStaleState, apperrors.Code(err))
		return nil
	})
	require.NoError(t, err)

	// Advance never moves backwards.
	req2 := newRequest()
	require.NoError(t, store.Create(ctx, req2))
	err = store.AcquireForDecision(ctx, req2.ID, func(tx DecisionTx) error {
		return tx.Advance(ctx, 1, nil)
	})
	assert.Equal(t, apperrors.ErrCodeStaleState, apperrors.Code(err))
}

func TestMemoryStoreListPending(t *testing.T) {
	store := NewMemoryStore(time.Second)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	newer := newRequest()
	newer.SubjectID = "exp-new"
	older := newRequest()
	older.SubjectID = "exp-old"
	other := newRequest()
	other.EntityID = "globex"

	// Insert out of order; listing must come back oldest first.
	require.NoError(t, store.Create(ctx, older))
	require.NoError(t, store.Create(ctx, other))
	require.NoError(t, store.Create(ctx, newer))

	require.NoError(t, store.AcquireForDecision(ctx, other.ID, func(tx DecisionTx) error {
		return tx.Finalize(ctx, StatusCancelled, nil)
	}))

	got, err := store.ListPending(ctx, ScopeFilter{EntityID: "acme"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exp-old", got[0].SubjectID)
	assert.Equal(t, "exp-new", got[1].SubjectID)

	// Terminal requests drop out of every listing.
	got, err = store.ListPending(ctx, ScopeFilter{EntityID: "globex"})
	require.NoError(t, err)
	assert.Empty(t, got)
}
