package service

import (
	"context"
	"time"

	apperrors "github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// IdentityClient resolves actor information from the platform identity
// service. The real implementation lives in internal/client.
type IdentityClient interface {
	// GetActorRole returns the role name an actor holds for an entity.
	GetActorRole(ctx context.Context, actorID string) (string, error)
	// GetOwnApprovalLimit returns the actor's approval limit in cents.
	// A nil limit means unlimited authority.
	GetOwnApprovalLimit(ctx context.Context, actorID string) (*int64, error)
}

// Limit is a resolved approval limit in cents.
type Limit struct {
	Amount    int64
	Unlimited bool
}

// LimitOf converts the identity service representation (nil = unlimited).
func LimitOf(v *int64) Limit {
	if v == nil {
		return Limit{Unlimited: true}
	}
	return Limit{Amount: *v}
}

// Allows reports whether the limit authorizes the given amount in cents.
// The boundary is inclusive: amount == limit is authorized.
func (l Limit) Allows(amount int64) bool {
	return l.Unlimited || amount <= l.Amount
}

// Widen returns the wider of two limits.
func (l Limit) Widen(other Limit) Limit {
	if l.Unlimited || other.Unlimited {
		return Limit{Unlimited: true}
	}
	if other.Amount > l.Amount {
		return other
	}
	return l
}

// AuthoritySnapshot is the resolved authority of an actor at decision time.
// Derived, never persisted.
type AuthoritySnapshot struct {
	ActorID     string
	Limit       Limit
	Delegations []*repository.Delegation
}

// AuthorityResolver computes an actor's effective approval limit. It is a
// pure lookup against the identity service and delegation store, resolved
// fresh for every decision so a limit change is never applied from a stale
// cache.
type AuthorityResolver struct {
	identity    IdentityClient
	delegations repository.DelegationStore
	// inheritDelegator widens the delegate's limit by the delegators' limits.
	// Off by default: the source policy checks the deciding actor's own limit
	// and treats delegation as queue visibility only.
	inheritDelegator bool
}

// NewAuthorityResolver creates an AuthorityResolver.
func NewAuthorityResolver(identity IdentityClient, delegations repository.DelegationStore, inheritDelegator bool) *AuthorityResolver {
	return &AuthorityResolver{
		identity:         identity,
		delegations:      delegations,
		inheritDelegator: inheritDelegator,
	}
}

// Resolve returns the actor's authority snapshot at the given time. Safe for
// concurrent use; performs no caching.
func (r *AuthorityResolver) Resolve(ctx context.Context, actorID string, at time.Time) (*AuthoritySnapshot, error) {
	own, err := r.identity.GetOwnApprovalLimit(ctx, actorID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to resolve approval limit")
	}

	limit := LimitOf(own)

	dels, err := r.delegations.ActiveFor(ctx, actorID, at)
	if err != nil {
		return nil, err
	}

	if r.inheritDelegator {
		for _, d := range dels {
			delegatorLimit, err := r.identity.GetOwnApprovalLimit(ctx, d.DelegatorID)
			if err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to resolve delegator approval limit")
			}
			limit = limit.Widen(LimitOf(delegatorLimit))
		}
	}

	return &AuthoritySnapshot{
		ActorID:     actorID,
		Limit:       limit,
		Delegations: dels,
	}, nil
}
