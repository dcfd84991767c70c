package service

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/idempotency"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
)

// ActionHandler applies the downstream side effect for one subject type once
// its approval request reaches a terminal outcome.
type ActionHandler interface {
	Apply(ctx context.Context, subjectID string, outcome repository.RequestStatus) error
}

// ActionHandlerFunc adapts a function to the ActionHandler interface.
type ActionHandlerFunc func(ctx context.Context, subjectID string, outcome repository.RequestStatus) error

// Apply implements ActionHandler.
func (f ActionHandlerFunc) Apply(ctx context.Context, subjectID string, outcome repository.RequestStatus) error {
	return f(ctx, subjectID, outcome)
}

// Dispatcher routes final approval outcomes to the handler registered for the
// request's subject type. Dispatch is at-most-once per approval request: the
// engine only calls it on the single finalizing path, and the idempotency
// cache keyed by request ID absorbs caller-side retries after transient
// failures on our side of a completed call.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[repository.SubjectType]ActionHandler
	done     *idempotency.Cache
	timeout  time.Duration
	log      *logger.Logger
}

// NewDispatcher creates a Dispatcher with a per-call timeout.
func NewDispatcher(timeout time.Duration, log *logger.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		handlers: make(map[repository.SubjectType]ActionHandler),
		done:     idempotency.NewCache(24*time.Hour, 100000),
		timeout:  timeout,
		log:      log,
	}
}

// Register installs the handler for a subject type, replacing any previous one.
func (d *Dispatcher) Register(subjectType repository.SubjectType, handler ActionHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[subjectType] = handler
}

// Dispatch invokes the side effect for a finalized request. Re-invocation
// with a request ID that already dispatched successfully is a no-op. A
// handler failure is returned as ActionDispatchFailed and the key is not
// marked, so an out-of-band retry can re-run the side effect without
// re-running the decision.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID string, subjectType repository.SubjectType, subjectID string, outcome repository.RequestStatus) error {
	if d.done.Seen(requestID) {
		d.log.Debug().
			Str("request_id", requestID).
			Str("subject_type", string(subjectType)).
			Msg("Dispatch already applied; skipping")
		return nil
	}

	d.mu.RLock()
	handler, ok := d.handlers[subjectType]
	d.mu.RUnlock()
	if !ok {
		return apperrors.New(apperrors.ErrCodeDispatchFailed,
			"no action handler registered for subject type '"+string(subjectType)+"'").
			WithDetail("request_id", requestID)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := handler.Apply(callCtx, subjectID, outcome); err != nil {
		d.log.Error().Err(err).
			Str("request_id", requestID).
			Str("subject_type", string(subjectType)).
			Str("subject_id", subjectID).
			Msg("Action dispatch failed; requires out-of-band reconciliation")
		return apperrors.Wrap(err, apperrors.ErrCodeDispatchFailed, "downstream action failed").
			WithDetail("request_id", requestID)
	}

	d.done.Mark(requestID)
	d.log.Info().
		Str("request_id", requestID).
		Str("subject_type", string(subjectType)).
		Str("subject_id", subjectID).
		Str("outcome", string(outcome)).
		Msg("Action dispatched")
	return nil
}
