package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/client"
	"github.com/pesio-ai/be-plt-approvals/internal/logger"
	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/service"
)

func newTestHandler(t *testing.T) (*HTTPHandler, *client.StaticIdentity) {
	t.Helper()

	store := repository.NewMemoryStore(time.Second)
	dels := repository.NewMemoryDelegationStore()
	identity := client.NewStaticIdentity()
	log := logger.Nop()

	dispatcher := service.NewDispatcher(time.Second, log)
	dispatcher.Register(repository.SubjectExpense, service.ActionHandlerFunc(
		func(ctx context.Context, subjectID string, outcome repository.RequestStatus) error {
			return nil
		}))

	authority := service.NewAuthorityResolver(identity, dels, false)
	approvals := service.NewApprovalService(store, store, authority, dispatcher, nil, log)
	delegations := service.NewDelegationService(dels,
		service.RoleEligibility(identity, []string{"MANAGER"}), nil, log)

	return NewHTTPHandler(approvals, delegations, log), identity
}

func doJSON(t *testing.T, fn http.HandlerFunc, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestApprovalLifecycleOverHTTP(t *testing.T) {
	h, identity := newTestHandler(t)
	identity.SetActor("bob", "MANAGER", nil)

	rec := doJSON(t, h.CreateApprovalRequest, http.MethodPost, "/api/v1/approvals", map[string]interface{}{
		"entity_id":    "acme",
		"subject_type": "expense",
		"subject_id":   "exp-1",
		"amount":       5000,
		"requested_by": "alice",
		"total_levels": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode(t, rec)
	id := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "pending", created["status"])

	rec = doJSON(t, h.Decide, http.MethodPost, "/api/v1/approvals/decide", map[string]interface{}{
		"id":       id,
		"actor_id": "bob",
		"action":   "approve",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decided := decode(t, rec)
	assert.Equal(t, "approved", decided["status"])
	assert.Equal(t, true, decided["final"])
	assert.NotContains(t, decided, "warning")

	rec = doJSON(t, h.GetApprovalRequest, http.MethodGet, "/api/v1/approvals/get?id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approved", decode(t, rec)["status"])

	rec = doJSON(t, h.ListHistory, http.MethodGet, "/api/v1/approvals/history?id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode(t, rec)
	assert.EqualValues(t, 1, history["total"])
}

func TestDecideConflictOverHTTP(t *testing.T) {
	h, identity := newTestHandler(t)
	identity.SetActor("bob", "MANAGER", nil)

	rec := doJSON(t, h.CreateApprovalRequest, http.MethodPost, "/api/v1/approvals", map[string]interface{}{
		"entity_id":    "acme",
		"subject_type": "expense",
		"subject_id":   "exp-1",
		"requested_by": "alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["id"].(string)

	decideBody := map[string]interface{}{"id": id, "actor_id": "bob", "action": "approve"}
	rec = doJSON(t, h.Decide, http.MethodPost, "/api/v1/approvals/decide", decideBody)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.Decide, http.MethodPost, "/api/v1/approvals/decide", decideBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ALREADY_DECIDED", body["error"].(map[string]interface{})["code"])
}

func TestInsufficientAuthorityOverHTTP(t *testing.T) {
	h, identity := newTestHandler(t)
	identity.SetActor("bob", "MANAGER", func() *int64 { v := int64(3000); return &v }())

	rec := doJSON(t, h.CreateApprovalRequest, http.MethodPost, "/api/v1/approvals", map[string]interface{}{
		"entity_id":    "acme",
		"subject_type": "expense",
		"subject_id":   "exp-1",
		"amount":       5000,
		"requested_by": "alice",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["id"].(string)

	rec = doJSON(t, h.Decide, http.MethodPost, "/api/v1/approvals/decide", map[string]interface{}{
		"id":       id,
		"actor_id": "bob",
		"action":   "approve",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	errBody := decode(t, rec)["error"].(map[string]interface{})
	assert.Equal(t, "INSUFFICIENT_AUTHORITY", errBody["code"])
	assert.EqualValues(t, 2000, errBody["gap"])
}

func TestDelegationEndpoints(t *testing.T) {
	h, identity := newTestHandler(t)
	identity.SetActor("bob", "MANAGER", nil)
	now := time.Now()

	rec := doJSON(t, h.CreateDelegation, http.MethodPost, "/api/v1/delegations", map[string]interface{}{
		"entity_id":    "acme",
		"delegator_id": "alice",
		"delegate_id":  "bob",
		"start_at":     now.Add(-time.Hour).Format(time.RFC3339),
		"end_at":       now.Add(time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["id"].(string)

	rec = doJSON(t, h.ListDelegations, http.MethodGet, "/api/v1/delegations?actor_id=bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["total"])

	rec = doJSON(t, h.DeactivateDelegation, http.MethodPost, "/api/v1/delegations/deactivate", map[string]interface{}{
		"id":           id,
		"requested_by": "mallory",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h.DeactivateDelegation, http.MethodPost, "/api/v1/delegations/deactivate", map[string]interface{}{
		"id":           id,
		"requested_by": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h.ListDelegations, http.MethodGet, "/api/v1/delegations?actor_id=bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["total"])
}

func TestCreateDelegationInvalidWindowOverHTTP(t *testing.T) {
	h, identity := newTestHandler(t)
	identity.SetActor("bob", "MANAGER", nil)
	now := time.Now()

	rec := doJSON(t, h.CreateDelegation, http.MethodPost, "/api/v1/delegations", map[string]interface{}{
		"entity_id":    "acme",
		"delegator_id": "alice",
		"delegate_id":  "bob",
		"start_at":     now.Format(time.RFC3339),
		"end_at":       now.Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMissingRequiredParams(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.GetApprovalRequest, http.MethodGet, "/api/v1/approvals/get", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.ListHistory, http.MethodGet, "/api/v1/approvals/history", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.ListDelegations, http.MethodGet, "/api/v1/delegations", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
