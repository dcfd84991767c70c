package handler

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/pesio-ai/be-plt-approvals/internal/errors"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

// HTTPHandler handles HTTP requests for the approvals engine.
type HTTPHandler struct {
	approvals   *service.ApprovalService
	delegations *service.DelegationService
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(approvals *service.ApprovalService, delegations *service.DelegationService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		approvals:   approvals,
		delegations: delegations,
		log:         log,
	}
}

// ── Approval requests ─────────────────────────────────────────────────────────

// CreateApprovalRequest handles POST /api/v1/approvals.
func (h *HTTPHandler) CreateApprovalRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID    string  `json:"entity_id"`
		SubjectType string  `json:"subject_type"`
		SubjectID   string  `json:"subject_id"`
		Amount      *int64  `json:"amount"`
		RequestedBy string  `json:"requested_by"`
		TotalLevels int     `json:"total_levels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.approvals.CreateApprovalRequest(r.Context(), service.CreateApprovalRequestInput{
		EntityID:    req.EntityID,
		SubjectType: repository.SubjectType(req.SubjectType),
		SubjectID:   req.SubjectID,
		Amount:      req.Amount,
		RequestedBy: req.RequestedBy,
		TotalLevels: req.TotalLevels,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

// GetApprovalRequest handles GET /api/v1/approvals/get?id=.
func (h *HTTPHandler) GetApprovalRequest(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	req, err := h.approvals.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, req)
}

// ListPending handles GET /api/v1/approvals. When actor_id is supplied the
// listing includes requests visible through effective delegations.
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entityID := q.Get("entity_id")
	actorID := q.Get("actor_id")

	var (
		reqs []*repository.ApprovalRequest
		err  error
	)
	if actorID != "" {
		reqs, err = h.approvals.ListPendingForActor(r.Context(), entityID, actorID, time.Now())
	} else {
		reqs, err = h.approvals.ListPending(r.Context(), repository.ScopeFilter{
			EntityID:    entityID,
			SubjectType: repository.SubjectType(q.Get("subject_type")),
			RequestedBy: q.Get("requested_by"),
		})
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"approvals": reqs,
		"total":     len(reqs),
	})
}

// Decide handles POST /api/v1/approvals/decide.
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string  `json:"id"`
		ActorID  string  `json:"actor_id"`
		Action   string  `json:"action"`
		Comments *string `json:"comments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.approvals.Decide(r.Context(), service.DecideInput{
		RequestID: req.ID,
		ActorID:   req.ActorID,
		Action:    service.Action(req.Action),
		Comments:  req.Comments,
	})
	if err != nil && result == nil {
		h.writeError(w, err)
		return
	}

	body := map[string]interface{}{
		"request_id": result.RequestID,
		"status":     result.Status,
		"level":      result.Level,
		"final":      result.Final,
	}
	// The decision committed but the downstream action failed; surface the
	// warning without failing the decision itself.
	if err != nil {
		body["warning"] = map[string]interface{}{
			"code":    apperrors.Code(err),
			"message": err.Error(),
		}
	}
	h.writeJSON(w, http.StatusOK, body)
}

// Cancel handles POST /api/v1/approvals/cancel.
func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string `json:"id"`
		RequestedBy string `json:"requested_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cancelled, err := h.approvals.Cancel(r.Context(), req.ID, req.RequestedBy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cancelled)
}

// ListHistory handles GET /api/v1/approvals/history?id=.
func (h *HTTPHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Request ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.approvals.ListHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
		"total":   len(entries),
	})
}

// ── Delegations ───────────────────────────────────────────────────────────────

// CreateDelegation handles POST /api/v1/delegations.
func (h *HTTPHandler) CreateDelegation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityID    string    `json:"entity_id"`
		DelegatorID string    `json:"delegator_id"`
		DelegateID  string    `json:"delegate_id"`
		StartAt     time.Time `json:"start_at"`
		EndAt       time.Time `json:"end_at"`
		Reason      *string   `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	d, err := h.delegations.CreateDelegation(r.Context(), service.CreateDelegationInput{
		EntityID:    req.EntityID,
		DelegatorID: req.DelegatorID,
		DelegateID:  req.DelegateID,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Reason:      req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, d)
}

// DeactivateDelegation handles POST /api/v1/delegations/deactivate.
func (h *HTTPHandler) DeactivateDelegation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string `json:"id"`
		RequestedBy string `json:"requested_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.delegations.Deactivate(r.Context(), req.ID, req.RequestedBy); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ListDelegations handles GET /api/v1/delegations?actor_id=.
func (h *HTTPHandler) ListDelegations(w http.ResponseWriter, r *http.Request) {
	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		http.Error(w, "Actor ID is required", http.StatusBadRequest)
		return
	}

	dels, err := h.delegations.ActiveDelegationsFor(r.Context(), actorID, time.Now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"delegations": dels,
		"total":       len(dels),
	})
}

// ── Response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    apperrors.Code(err),
			"message": err.Error(),
		},
	}
	if gap := apperrors.Detail(err, "gap"); gap != nil {
		body["error"].(map[string]interface{})["gap"] = gap
	}
	h.writeJSON(w, status, body)
}
