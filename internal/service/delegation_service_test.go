package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	apperrors "github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

func newDelegationService(t *testing.T) (*DelegationService, *repository.MemoryDelegationStore, *client.StaticIdentity) {
	t.Helper()
	store := repository.NewMemoryDelegationStore()
	identity := client.NewStaticIdentity()
	svc := NewDelegationService(store,
		RoleEligibility(identity, []string{"MANAGER", "FINANCE_MANAGER", "CFO"}),
		nil, logger.Nop())
	return svc, store, identity
}

func TestCreateDelegation(t *testing.T) {
	svc, _, identity := newDelegationService(t)
	identity.SetActor("bob", "MANAGER", nil)
	now := time.Now()

	d, err := svc.CreateDelegation(context.Background(), CreateDelegationInput{
		EntityID:    "acme",
		DelegatorID: "alice",
		DelegateID:  "bob",
		StartAt:     now,
		EndAt:       now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.True(t, d.IsActive)
}

func TestCreateDelegationInvalidWindow(t *testing.T) {
	svc, _, identity := newDelegationService(t)
	identity.SetActor("bob", "MANAGER", nil)
	now := time.Now()

	// Zero-length and inverted windows are both rejected.
	for _, end := range []time.Time{now, now.Add(-time.Hour)} {
		_, err := svc.CreateDelegation(context.Background(), CreateDelegationInput{
			DelegatorID: "alice",
			DelegateID:  "bob",
			StartAt:     now,
			EndAt:       end,
		})
		assert.Equal(t, apperrors.ErrCodeInvalidWindow, apperrors.Code(err))
	}
}

func TestCreateDelegationIneligibleDelegate(t *testing.T) {
	svc, _, identity := newDelegationService(t)
	identity.SetActor("carl", "CLERK", nil)
	now := time.Now()

	_, err := svc.CreateDelegation(context.Background(), CreateDelegationInput{
		DelegatorID: "alice",
		DelegateID:  "carl",
		StartAt:     now,
		EndAt:       now.Add(time.Hour),
	})
	assert.Equal(t, apperrors.ErrCodeDelegateNotEligible, apperrors.Code(err))
}

func TestCreateDelegationSelf(t *testing.T) {
	svc, _, identity := newDelegationService(t)
	identity.SetActor("alice", "MANAGER", nil)
	now := time.Now()

	_, err := svc.CreateDelegation(context.Background(), CreateDelegationInput{
		DelegatorID: "alice",
		DelegateID:  "alice",
		StartAt:     now,
		EndAt:       now.Add(time.Hour),
	})
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.Code(err))
}

func TestDelegationWindow(t *testing.T) {
	svc, _, identity := newDelegationService(t)
	identity.SetActor("bob", "MANAGER", nil)
	ctx := context.Background()
	t0 := time.Now()

	d, err := svc.CreateDelegation(ctx, CreateDelegationInput{
		EntityID:    "acme",
		DelegatorID: "alice",
		DelegateID:  "bob",
		StartAt:     t0,
		EndAt:       t0.Add(time.Hour),
	})
	require.NoError(t, err)

	// Inside the window the grant is effective.
	active, err := svc.ActiveDelegationsFor(ctx, "bob", t0.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, d.ID, active[0].ID)

	// One minute past end_at the grant has lapsed even though nobody
	// deactivated it.
	active, err = svc.ActiveDelegationsFor(ctx, "bob", t0.Add(61*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, active)

	// Before start_at a future-dated grant is not yet effective.
	active, err = svc.ActiveDelegationsFor(ctx, "bob", t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, active)

	// The window end is exclusive, the start inclusive.
	active, err = svc.ActiveDelegationsFor(ctx, "bob", t0)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	active, err = svc.ActiveDelegationsFor(ctx, "bob", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestDeactivateDelegation(t *testing.T) {
	svc, store, identity := newDelegationService(t)
	identity.SetActor("bob", "MANAGER", nil)
	ctx := context.Background()
	now := time.Now()

	d, err := svc.CreateDelegation(ctx, CreateDelegationInput{
		EntityID:    "acme",
		DelegatorID: "alice",
		DelegateID:  "bob",
		StartAt:     now,
		EndAt:       now.Add(time.Hour),
	})
	require.NoError(t, err)

	// Only the delegator may revoke, the delegate included.
	err = svc.Deactivate(ctx, d.ID, "bob")
	assert.Equal(t, apperrors.ErrCodeNotOwner, apperrors.Code(err))

	require.NoError(t, svc.Deactivate(ctx, d.ID, "alice"))

	// Revocation takes effect immediately inside the window.
	active, err := svc.ActiveDelegationsFor(ctx, "bob", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, active)

	// Repeating the call is a no-op, not an error.
	require.NoError(t, svc.Deactivate(ctx, d.ID, "alice"))

	stored, err := store.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestSweepExpired(t *testing.T) {
	svc, store, identity := newDelegationService(t)
	identity.SetActor("bob", "MANAGER", nil)
	ctx := context.Background()
	now := time.Now()

	err := store.Create(ctx, &repository.Delegation{
		EntityID:    "acme",
		DelegatorID: "alice",
		DelegateID:  "bob",
		StartAt:     now.Add(-2 * time.Hour),
		EndAt:       now.Add(-time.Hour),
		IsActive:    true,
	})
	require.NoError(t, err)

	current, err := svc.CreateDelegation(ctx, CreateDelegationInput{
		EntityID:    "acme",
		DelegatorID: "alice",
		DelegateID:  "bob",
		StartAt:     now.Add(-time.Hour),
		EndAt:       now.Add(time.Hour),
	})
	require.NoError(t, err)

	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stored, err := store.Get(ctx, current.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)

	// Nothing left to sweep.
	n, err = svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
