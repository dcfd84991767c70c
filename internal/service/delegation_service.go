package service

import (
	"context"
	"time"

	apperrors "github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// EligibilityFunc decides whether an actor may receive a delegation. It is
// injected so the engine stays decoupled from any specific role taxonomy.
type EligibilityFunc func(ctx context.Context, delegateID string) error

// RoleEligibility builds an EligibilityFunc that requires the delegate to
// hold one of the allowed roles per the identity service.
func RoleEligibility(identity IdentityClient, allowedRoles []string) EligibilityFunc {
	allowed := make(map[string]struct{}, len(allowedRoles))
	for _, r := range allowedRoles {
		allowed[r] = struct{}{}
	}
	return func(ctx context.Context, delegateID string) error {
		role, err := identity.GetActorRole(ctx, delegateID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to resolve delegate role")
		}
		if _, ok := allowed[role]; !ok {
			return apperrors.New(apperrors.ErrCodeDelegateNotEligible,
				"delegate role '"+role+"' is not eligible to receive approval authority")
		}
		return nil
	}
}

// EventPublisher emits workflow events for external notification delivery.
// Implementations must be non-fatal: publish failures are logged, never
// propagated.
type EventPublisher interface {
	PublishApprovalEvent(ctx context.Context, eventType, requestID, entityID, actorID string, payload map[string]interface{})
}

// DelegationService manages time-bounded delegation grants.
type DelegationService struct {
	store    repository.DelegationStore
	eligible EligibilityFunc
	events   EventPublisher
	log      *logger.Logger
}

// NewDelegationService creates a DelegationService. events may be nil.
func NewDelegationService(store repository.DelegationStore, eligible EligibilityFunc, events EventPublisher, log *logger.Logger) *DelegationService {
	return &DelegationService{
		store:    store,
		eligible: eligible,
		events:   events,
		log:      log,
	}
}

// CreateDelegationInput carries the fields for a new delegation grant.
type CreateDelegationInput struct {
	EntityID    string
	DelegatorID string
	DelegateID  string
	StartAt     time.Time
	EndAt       time.Time
	Reason      *string
}

// CreateDelegation validates and stores a new grant. All validation runs
// before any state mutation; a rejected input never partially applies.
func (s *DelegationService) CreateDelegation(ctx context.Context, in CreateDelegationInput) (*repository.Delegation, error) {
	if in.DelegatorID == "" {
		return nil, apperrors.InvalidInput("delegator_id", "delegator is required")
	}
	if in.DelegateID == "" {
		return nil, apperrors.InvalidInput("delegate_id", "delegate is required")
	}
	if in.DelegatorID == in.DelegateID {
		return nil, apperrors.InvalidInput("delegate_id", "cannot delegate to yourself")
	}
	if !in.EndAt.After(in.StartAt) {
		return nil, apperrors.New(apperrors.ErrCodeInvalidWindow,
			"delegation window end must be after its start")
	}
	if err := s.eligible(ctx, in.DelegateID); err != nil {
		return nil, err
	}

	d := &repository.Delegation{
		EntityID:    in.EntityID,
		DelegatorID: in.DelegatorID,
		DelegateID:  in.DelegateID,
		StartAt:     in.StartAt,
		EndAt:       in.EndAt,
		IsActive:    true,
		Reason:      in.Reason,
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("delegation_id", d.ID).
		Str("delegator_id", d.DelegatorID).
		Str("delegate_id", d.DelegateID).
		Time("start_at", d.StartAt).
		Time("end_at", d.EndAt).
		Msg("Delegation created")

	if s.events != nil {
		s.events.PublishApprovalEvent(ctx, "delegation_assigned", d.ID, d.EntityID, d.DelegatorID,
			map[string]interface{}{"delegate_id": d.DelegateID})
	}

	return d, nil
}

// Deactivate flips the kill-switch off. Only the original delegator may
// deactivate; repeating the call on an inactive delegation is a no-op.
func (s *DelegationService) Deactivate(ctx context.Context, delegationID, requestedBy string) error {
	d, err := s.store.Get(ctx, delegationID)
	if err != nil {
		return err
	}
	if d.DelegatorID != requestedBy {
		return apperrors.New(apperrors.ErrCodeNotOwner,
			"only the original delegator may deactivate a delegation")
	}
	if !d.IsActive {
		return nil
	}
	if err := s.store.Deactivate(ctx, delegationID); err != nil {
		return err
	}

	s.log.Info().
		Str("delegation_id", delegationID).
		Str("requested_by", requestedBy).
		Msg("Delegation deactivated")

	if s.events != nil {
		s.events.PublishApprovalEvent(ctx, "delegation_revoked", delegationID, d.EntityID, requestedBy,
			map[string]interface{}{"delegate_id": d.DelegateID})
	}

	return nil
}

// ActiveDelegationsFor returns all delegations effective at the given time
// where the actor is the delegate.
func (s *DelegationService) ActiveDelegationsFor(ctx context.Context, actorID string, at time.Time) ([]*repository.Delegation, error) {
	return s.store.ActiveFor(ctx, actorID, at)
}

// SweepExpired deactivates delegations whose window has passed. A supervisory
// job, never part of the decision hot path.
func (s *DelegationService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeactivateExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("deactivated", n).Msg("Expired delegations swept")
	}
	return n, nil
}

// RunSweeper runs SweepExpired on the given interval until ctx is cancelled.
func (s *DelegationService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.log.Warn().Err(err).Msg("Delegation expiry sweep failed")
			}
		}
	}
}
