package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	apperrors "github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// Postgres error codes we branch on.
const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
)

// ApprovalRequestRepository is the Postgres-backed RequestStore. The request
// row is the single serialization point for decisions: AcquireForDecision
// takes SELECT ... FOR UPDATE on it with a bounded lock_timeout.
type ApprovalRequestRepository struct {
	db          *database.DB
	lockTimeout time.Duration
}

// NewApprovalRequestRepository creates a new ApprovalRequestRepository.
func NewApprovalRequestRepository(db *database.DB, lockTimeout time.Duration) *ApprovalRequestRepository {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &ApprovalRequestRepository{db: db, lockTimeout: lockTimeout}
}

const requestColumns = `
	id, entity_id, subject_type, subject_id, amount,
	current_level, total_levels, status,
	requested_by, last_decision_comments, version,
	created_at, updated_at
`

// Create inserts a new request in pending state at level 1.
func (r *ApprovalRequestRepository) Create(ctx context.Context, req *ApprovalRequest) error {
	query := `
		INSERT INTO approval_requests
		    (entity_id, subject_type, subject_id, amount,
		     current_level, total_levels, status, requested_by)
		VALUES ($1, $2, $3, $4,
		        $5, $6, $7::approval_request_status, $8)
		RETURNING id, version, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		req.EntityID,
		req.SubjectType,
		req.SubjectID,
		req.Amount,
		req.CurrentLevel,
		req.TotalLevels,
		req.Status,
		req.RequestedBy,
	).Scan(&req.ID, &req.Version, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create approval request")
	}
	return nil
}

// Get retrieves a request by ID.
func (r *ApprovalRequestRepository) Get(ctx context.Context, id string) (*ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval_request", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get approval request")
	}
	return req, nil
}

// ListPending returns pending requests matching the scope filter, oldest first.
func (r *ApprovalRequestRepository) ListPending(ctx context.Context, filter ScopeFilter) ([]*ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM approval_requests
		WHERE status = 'pending'::approval_request_status
		  AND ($1 = '' OR entity_id = $1)
		  AND ($2 = '' OR subject_type = $2)
		  AND ($3 = '' OR requested_by = $3)
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, filter.EntityID, string(filter.SubjectType), filter.RequestedBy)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list pending approval requests")
	}
	defer rows.Close()

	var reqs []*ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan approval request")
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// AcquireForDecision locks the request row for the duration of fn inside a
// single transaction. The row lock serializes all decisions on the request;
// waiting longer than the configured lock_timeout fails with LockTimeout
// instead of blocking indefinitely.
func (r *ApprovalRequestRepository) AcquireForDecision(ctx context.Context, id string, fn func(tx DecisionTx) error) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		// lock_timeout takes no bind parameters; the value is our own config.
		setTimeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, setTimeout); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to set lock timeout")
		}

		query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1 FOR UPDATE`

		req, err := scanRequest(tx.QueryRow(ctx, query, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("approval_request", id)
		}
		if isPgError(err, pgLockNotAvailable) {
			return apperrors.LockTimeout(id)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to lock approval request")
		}

		return fn(&pgxDecisionTx{tx: tx, req: req})
	})
}

// ── DecisionTx implementation ─────────────────────────────────────────────────

type pgxDecisionTx struct {
	tx  pgx.Tx
	req *ApprovalRequest
}

func (d *pgxDecisionTx) Request() *ApprovalRequest { return d.req }

// AppendHistory inserts one ledger entry. The unique index on
// (approval_id, level) is the second line of defense behind the row lock.
func (d *pgxDecisionTx) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	query := `
		INSERT INTO approval_history
		    (approval_id, entity_id, level, actor_id, action, comments)
		VALUES ($1, $2, $3, $4, $5::approval_action, $6)
		RETURNING id, decided_at
	`

	err := d.tx.QueryRow(ctx, query,
		entry.ApprovalID,
		entry.EntityID,
		entry.Level,
		entry.ActorID,
		entry.Action,
		entry.Comments,
	).Scan(&entry.ID, &entry.DecidedAt)
	if isPgError(err, pgUniqueViolation) {
		return apperrors.New(apperrors.ErrCodeConflict,
			fmt.Sprintf("history entry already exists for request %s level %d", entry.ApprovalID, entry.Level))
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append history entry")
	}
	return nil
}

// Advance moves the request to newLevel. The status predicate re-checks
// pending after lock acquisition; zero rows updated means the state drifted.
func (d *pgxDecisionTx) Advance(ctx context.Context, newLevel int, comments *string) error {
	query := `
		UPDATE approval_requests
		SET current_level          = $2,
		    last_decision_comments = $3,
		    version                = version + 1,
		    updated_at             = NOW()
		WHERE id = $1
		  AND status = 'pending'::approval_request_status
		  AND current_level < $2
		RETURNING version, updated_at
	`

	err := d.tx.QueryRow(ctx, query, d.req.ID, newLevel, comments).
		Scan(&d.req.Version, &d.req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.StaleState(d.req.ID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to advance approval request")
	}
	d.req.CurrentLevel = newLevel
	d.req.LastDecisionComments = comments
	return nil
}

// Finalize moves the request into a terminal status.
func (d *pgxDecisionTx) Finalize(ctx context.Context, status RequestStatus, comments *string) error {
	query := `
		UPDATE approval_requests
		SET status                 = $2::approval_request_status,
		    last_decision_comments = $3,
		    version                = version + 1,
		    updated_at             = NOW()
		WHERE id = $1
		  AND status = 'pending'::approval_request_status
		RETURNING version, updated_at
	`

	err := d.tx.QueryRow(ctx, query, d.req.ID, status, comments).
		Scan(&d.req.Version, &d.req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.StaleState(d.req.ID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to finalize approval request")
	}
	d.req.Status = status
	d.req.LastDecisionComments = comments
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type requestScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row requestScanner) (*ApprovalRequest, error) {
	req := &ApprovalRequest{}
	err := row.Scan(
		&req.ID,
		&req.EntityID,
		&req.SubjectType,
		&req.SubjectID,
		&req.Amount,
		&req.CurrentLevel,
		&req.TotalLevels,
		&req.Status,
		&req.RequestedBy,
		&req.LastDecisionComments,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
