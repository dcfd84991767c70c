package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	apperrors "github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// DelegationRepository is the Postgres-backed DelegationStore. Delegations
// are never hard-deleted; deactivation flips is_active off.
type DelegationRepository struct {
	db *database.DB
}

// NewDelegationRepository creates a new DelegationRepository.
func NewDelegationRepository(db *database.DB) *DelegationRepository {
	return &DelegationRepository{db: db}
}

const delegationColumns = `
	id, entity_id, delegator_id, delegate_id,
	start_at, end_at, is_active, reason,
	created_at, updated_at
`

// Create inserts a new delegation grant.
func (r *DelegationRepository) Create(ctx context.Context, d *Delegation) error {
	query := `
		INSERT INTO approval_delegations
		    (entity_id, delegator_id, delegate_id, start_at, end_at, is_active, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		d.EntityID,
		d.DelegatorID,
		d.DelegateID,
		d.StartAt,
		d.EndAt,
		d.IsActive,
		d.Reason,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create delegation")
	}
	return nil
}

// Get retrieves a delegation by ID.
func (r *DelegationRepository) Get(ctx context.Context, id string) (*Delegation, error) {
	query := `SELECT ` + delegationColumns + ` FROM approval_delegations WHERE id = $1`

	d, err := scanDelegation(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("delegation", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get delegation")
	}
	return d, nil
}

// ActiveFor returns all delegations effective at the given time where the
// actor is the delegate. The window is half-open: [start_at, end_at).
func (r *DelegationRepository) ActiveFor(ctx context.Context, delegateID string, at time.Time) ([]*Delegation, error) {
	query := `SELECT ` + delegationColumns + `
		FROM approval_delegations
		WHERE delegate_id = $1
		  AND is_active = TRUE
		  AND start_at <= $2
		  AND end_at > $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, delegateID, at)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list active delegations")
	}
	defer rows.Close()

	var out []*Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan delegation")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Deactivate flips the kill-switch off. Idempotent: deactivating an already
// inactive delegation succeeds without touching the row twice.
func (r *DelegationRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE approval_delegations
		SET is_active  = FALSE,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("delegation", id)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to deactivate delegation")
	}
	return nil
}

// DeactivateExpired soft-deactivates delegations whose window ended before
// the given time. Run by the supervisory sweeper, not the decision path.
func (r *DelegationRepository) DeactivateExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE approval_delegations
		SET is_active  = FALSE,
		    updated_at = NOW()
		WHERE is_active = TRUE
		  AND end_at <= $1
	`

	tag, err := r.db.Exec(ctx, query, before)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to deactivate expired delegations")
	}
	return tag.RowsAffected(), nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type delegationScanner interface {
	Scan(dest ...any) error
}

func scanDelegation(row delegationScanner) (*Delegation, error) {
	d := &Delegation{}
	err := row.Scan(
		&d.ID,
		&d.EntityID,
		&d.DelegatorID,
		&d.DelegateID,
		&d.StartAt,
		&d.EndAt,
		&d.IsActive,
		&d.Reason,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}
