package service

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// Action is the decision a caller submits against a pending request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// DecisionResult is the committed state after a successful decision.
type DecisionResult struct {
	RequestID string
	Status    repository.RequestStatus
	Level     int
	// Final is true when this decision moved the request to a terminal
	// status.
	Final bool
}

// ApprovalService is the decision engine: it validates decisions against
// level progression and actor authority, writes the history ledger, and
// fires the downstream action exactly once on final approval.
type ApprovalService struct {
	requests   repository.RequestStore
	history    repository.HistoryStore
	authority  *AuthorityResolver
	dispatcher *Dispatcher
	events     EventPublisher
	log        *logger.Logger
}

// NewApprovalService creates an ApprovalService. events may be nil.
func NewApprovalService(
	requests repository.RequestStore,
	history repository.HistoryStore,
	authority *AuthorityResolver,
	dispatcher *Dispatcher,
	events EventPublisher,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		requests:   requests,
		history:    history,
		authority:  authority,
		dispatcher: dispatcher,
		events:     events,
		log:        log,
	}
}

// ── Creation ──────────────────────────────────────────────────────────────────

// CreateApprovalRequestInput carries the fields for a new approval request.
type CreateApprovalRequestInput struct {
	EntityID    string
	SubjectType repository.SubjectType
	SubjectID   string
	// Amount in cents; nil disables the monetary authority check.
	Amount      *int64
	RequestedBy string
	// TotalLevels defaults to 1 when zero.
	TotalLevels int
}

// CreateApprovalRequest creates a request in pending state at level 1.
func (s *ApprovalService) CreateApprovalRequest(ctx context.Context, in CreateApprovalRequestInput) (*repository.ApprovalRequest, error) {
	if in.SubjectType == "" {
		return nil, apperrors.InvalidInput("subject_type", "subject type is required")
	}
	if in.SubjectID == "" {
		return nil, apperrors.InvalidInput("subject_id", "subject reference is required")
	}
	if in.RequestedBy == "" {
		return nil, apperrors.InvalidInput("requested_by", "requesting actor is required")
	}
	if in.Amount != nil && *in.Amount < 0 {
		return nil, apperrors.InvalidInput("amount", "amount must not be negative")
	}
	if in.TotalLevels == 0 {
		in.TotalLevels = 1
	}
	if in.TotalLevels < 1 {
		return nil, apperrors.InvalidInput("total_levels", "at least one approval level is required")
	}

	req := &repository.ApprovalRequest{
		EntityID:     in.EntityID,
		SubjectType:  in.SubjectType,
		SubjectID:    in.SubjectID,
		Amount:       in.Amount,
		CurrentLevel: 1,
		TotalLevels:  in.TotalLevels,
		Status:       repository.StatusPending,
		RequestedBy:  in.RequestedBy,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("subject_type", string(req.SubjectType)).
		Str("subject_id", req.SubjectID).
		Int("total_levels", req.TotalLevels).
		Msg("Approval request created")

	s.publish(ctx, "approval_submitted", req, in.RequestedBy)
	return req, nil
}

// ── Decide ────────────────────────────────────────────────────────────────────

// DecideInput carries one decision against a pending request.
type DecideInput struct {
	RequestID string
	ActorID   string
	Action    Action
	Comments  *string
	// At is the decision time; zero means now.
	At time.Time
}

// Decide validates and applies a decision. The request row lock serializes
// concurrent decisions: exactly one caller commits, the rest observe
// AlreadyDecided or StaleState.
//
// On final approval the downstream action is dispatched after the state
// transition commits. A dispatch failure does not reverse the approval: the
// committed DecisionResult is returned together with an ActionDispatchFailed
// error so the caller can surface the warning and retry the action
// out-of-band.
func (s *ApprovalService) Decide(ctx context.Context, in DecideInput) (*DecisionResult, error) {
	if in.ActorID == "" {
		return nil, apperrors.InvalidInput("actor_id", "deciding actor is required")
	}
	if in.Action != ActionApprove && in.Action != ActionReject {
		return nil, apperrors.InvalidInput("action", fmt.Sprintf("unknown action '%s'", in.Action))
	}
	at := in.At
	if at.IsZero() {
		at = time.Now()
	}

	var (
		result  *DecisionResult
		subject repository.SubjectType
		subjID  string
		entity  string
	)

	err := s.requests.AcquireForDecision(ctx, in.RequestID, func(tx repository.DecisionTx) error {
		req := tx.Request()
		if req.Status.Terminal() {
			return apperrors.AlreadyDecided(req.ID, string(req.Status))
		}

		// Rejection requires the same authority as approval, so an
		// under-authorized actor cannot block a high-value request either.
		snap, err := s.authority.Resolve(ctx, in.ActorID, at)
		if err != nil {
			return err
		}
		if req.Amount != nil && !snap.Limit.Allows(*req.Amount) {
			return apperrors.InsufficientAuthority(*req.Amount, snap.Limit.Amount)
		}

		entry := &repository.HistoryEntry{
			ApprovalID: req.ID,
			EntityID:   req.EntityID,
			Level:      req.CurrentLevel,
			ActorID:    in.ActorID,
			Comments:   in.Comments,
			DecidedAt:  at,
		}

		switch in.Action {
		case ActionReject:
			entry.Action = repository.ActionRejected
			if err := tx.AppendHistory(ctx, entry); err != nil {
				return err
			}
			if err := tx.Finalize(ctx, repository.StatusRejected, in.Comments); err != nil {
				return err
			}
			result = &DecisionResult{RequestID: req.ID, Status: repository.StatusRejected, Level: req.CurrentLevel, Final: true}

		case ActionApprove:
			entry.Action = repository.ActionApproved
			if err := tx.AppendHistory(ctx, entry); err != nil {
				return err
			}
			if req.CurrentLevel == req.TotalLevels {
				if err := tx.Finalize(ctx, repository.StatusApproved, in.Comments); err != nil {
					return err
				}
				result = &DecisionResult{RequestID: req.ID, Status: repository.StatusApproved, Level: req.CurrentLevel, Final: true}
			} else {
				if err := tx.Advance(ctx, req.CurrentLevel+1, in.Comments); err != nil {
					return err
				}
				result = &DecisionResult{RequestID: req.ID, Status: repository.StatusPending, Level: req.CurrentLevel}
			}
		}

		subject = req.SubjectType
		subjID = req.SubjectID
		entity = req.EntityID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", result.RequestID).
		Str("actor_id", in.ActorID).
		Str("action", string(in.Action)).
		Int("level", result.Level).
		Str("status", string(result.Status)).
		Msg("Decision recorded")

	switch result.Status {
	case repository.StatusApproved:
		s.publishEvent(ctx, "approval_approved", result.RequestID, entity, in.ActorID)
	case repository.StatusRejected:
		s.publishEvent(ctx, "approval_rejected", result.RequestID, entity, in.ActorID)
	}

	// The decision is committed; the downstream action is a separate failure
	// domain. Only a final approval carries a side effect.
	if result.Final && result.Status == repository.StatusApproved {
		if err := s.dispatcher.Dispatch(ctx, result.RequestID, subject, subjID, result.Status); err != nil {
			return result, err
		}
	}

	return result, nil
}

// ── Cancel ────────────────────────────────────────────────────────────────────

// Cancel withdraws a request administratively. Only the original requester may
// cancel, and only while the request is still pending at level 1, before any
// decision has been recorded (the level only advances after an approval, so
// pending at level 1 implies an empty ledger).
func (s *ApprovalService) Cancel(ctx context.Context, requestID, requestedBy string) (*repository.ApprovalRequest, error) {
	var cancelled *repository.ApprovalRequest

	err := s.requests.AcquireForDecision(ctx, requestID, func(tx repository.DecisionTx) error {
		req := tx.Request()
		if req.Status.Terminal() {
			return apperrors.AlreadyDecided(req.ID, string(req.Status))
		}
		if req.RequestedBy != requestedBy {
			return apperrors.New(apperrors.ErrCodeNotOwner,
				"only the original requester may cancel an approval request")
		}
		if req.CurrentLevel != 1 {
			return apperrors.New(apperrors.ErrCodeConflict,
				"request cannot be cancelled after approvals have been recorded")
		}
		if err := tx.Finalize(ctx, repository.StatusCancelled, nil); err != nil {
			return err
		}
		cancelled = req
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", requestID).
		Str("requested_by", requestedBy).
		Msg("Approval request cancelled")

	s.publishEvent(ctx, "approval_cancelled", requestID, cancelled.EntityID, requestedBy)
	return cancelled, nil
}

// ── Read paths ────────────────────────────────────────────────────────────────

// Get returns a single approval request.
func (s *ApprovalService) Get(ctx context.Context, requestID string) (*repository.ApprovalRequest, error) {
	return s.requests.Get(ctx, requestID)
}

// ListPending returns pending requests in the caller-supplied scope.
func (s *ApprovalService) ListPending(ctx context.Context, filter repository.ScopeFilter) ([]*repository.ApprovalRequest, error) {
	return s.requests.ListPending(ctx, filter)
}

// ListPendingForActor returns pending requests visible to an actor: the
// actor's own entity scope plus the entity scopes of any delegators with an
// effective delegation to the actor. Delegation grants queue visibility even
// when the amount check still runs against the delegate's own limit.
func (s *ApprovalService) ListPendingForActor(ctx context.Context, entityID, actorID string, at time.Time) ([]*repository.ApprovalRequest, error) {
	if at.IsZero() {
		at = time.Now()
	}

	out, err := s.requests.ListPending(ctx, repository.ScopeFilter{EntityID: entityID})
	if err != nil {
		return nil, err
	}

	dels, err := s.authority.delegations.ActiveFor(ctx, actorID, at)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{entityID: {}}
	for _, d := range dels {
		if _, ok := seen[d.EntityID]; ok {
			continue
		}
		seen[d.EntityID] = struct{}{}
		more, err := s.requests.ListPending(ctx, repository.ScopeFilter{EntityID: d.EntityID})
		if err != nil {
			return nil, err
		}
		out = append(out, more...)
	}
	return out, nil
}

// ListHistory returns the request's decision ledger, earliest first.
func (s *ApprovalService) ListHistory(ctx context.Context, requestID string) ([]*repository.HistoryEntry, error) {
	if _, err := s.requests.Get(ctx, requestID); err != nil {
		return nil, err
	}
	return s.history.ListFor(ctx, requestID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func (s *ApprovalService) publish(ctx context.Context, eventType string, req *repository.ApprovalRequest, actorID string) {
	s.publishEvent(ctx, eventType, req.ID, req.EntityID, actorID)
}

func (s *ApprovalService) publishEvent(ctx context.Context, eventType, requestID, entityID, actorID string) {
	if s.events == nil {
		return
	}
	s.events.PublishApprovalEvent(ctx, eventType, requestID, entityID, actorID, nil)
}
