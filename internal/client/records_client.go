package client

import (
	"context"
	"fmt"
	"time"
)

// Clients for the business record services whose records an approval gates.
// The Action Dispatcher invokes these on final approval; each call mutates
// only the downstream service's own status fields.

// ── Journals (GL-2) ───────────────────────────────────────────────────────────

// JournalsClient posts approved journal entries to the journals service.
type JournalsClient struct {
	client *restClient
}

// NewJournalsClient creates a new journals service client.
func NewJournalsClient(baseURL string, timeout time.Duration) *JournalsClient {
	return &JournalsClient{client: newRESTClient(baseURL, timeout)}
}

// PostJournalRequest asks the journals service to post a held entry.
type PostJournalRequest struct {
	JournalID string `json:"journal_id"`
}

// PostJournal posts a journal entry that was held pending approval.
func (c *JournalsClient) PostJournal(ctx context.Context, journalID string) error {
	req := PostJournalRequest{JournalID: journalID}
	if err := c.client.Post(ctx, "/api/v1/journals/post", req, nil); err != nil {
		return fmt.Errorf("failed to post journal entry: %w", err)
	}
	return nil
}

// ── Generic record status updates ─────────────────────────────────────────────

// RecordStatusClient marks a business record approved or rejected in its
// owning service. Used for expenses, invoices, payslips and price changes,
// which all expose the same status-callback shape.
type RecordStatusClient struct {
	client *restClient
	// statusPath is the service's status-update endpoint,
	// e.g. /api/v1/expenses/status.
	statusPath string
}

// NewRecordStatusClient creates a client for one record service.
func NewRecordStatusClient(baseURL, statusPath string, timeout time.Duration) *RecordStatusClient {
	return &RecordStatusClient{
		client:     newRESTClient(baseURL, timeout),
		statusPath: statusPath,
	}
}

// UpdateStatusRequest is the status callback payload.
type UpdateStatusRequest struct {
	RecordID string `json:"record_id"`
	Status   string `json:"status"`
}

// UpdateStatus sets the record's status in the owning service.
func (c *RecordStatusClient) UpdateStatus(ctx context.Context, recordID, status string) error {
	req := UpdateStatusRequest{RecordID: recordID, Status: status}
	if err := c.client.Post(ctx, c.statusPath, req, nil); err != nil {
		return fmt.Errorf("failed to update record status: %w", err)
	}
	return nil
}
