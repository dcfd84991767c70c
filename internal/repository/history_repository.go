package repository

import (
	"context"

	"github.com/pesio-ai/be-plt-approvals/internal/database"
	apperrors "github.com/pesio-ai/be-plt-approvals/internal/errors"
)

// HistoryRepository reads the append-only decision ledger. Writes go through
// DecisionTx.AppendHistory so they are always covered by the request lock;
// the table carries a delete-prevention trigger and a unique index on
// (approval_id, level).
type HistoryRepository struct {
	db *database.DB
}

// NewHistoryRepository creates a new HistoryRepository.
func NewHistoryRepository(db *database.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// ListFor returns every entry for a request ordered earliest first. The read
// is restartable: entries are never mutated after write, so re-reading always
// yields the same prefix.
func (r *HistoryRepository) ListFor(ctx context.Context, approvalID string) ([]*HistoryEntry, error) {
	query := `
		SELECT id, approval_id, entity_id, level, actor_id, action, comments, decided_at
		FROM approval_history
		WHERE approval_id = $1
		ORDER BY decided_at ASC, level ASC
	`

	rows, err := r.db.Query(ctx, query, approvalID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list approval history")
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		e := &HistoryEntry{}
		err := rows.Scan(
			&e.ID,
			&e.ApprovalID,
			&e.EntityID,
			&e.Level,
			&e.ActorID,
			&e.Action,
			&e.Comments,
			&e.DecidedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan history entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
