package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// IdentityHTTPClient implements service.IdentityClient against the platform
// identity service (PLT-1).
type IdentityHTTPClient struct {
	client *restClient
}

// NewIdentityHTTPClient creates a client for the identity service.
func NewIdentityHTTPClient(baseURL string, timeout time.Duration) *IdentityHTTPClient {
	return &IdentityHTTPClient{client: newRESTClient(baseURL, timeout)}
}

type actorRoleResponse struct {
	Role string `json:"role"`
}

// GetActorRole returns the role name the actor holds.
func (c *IdentityHTTPClient) GetActorRole(ctx context.Context, actorID string) (string, error) {
	path := fmt.Sprintf("/api/v1/users/role?user_id=%s", url.QueryEscape(actorID))

	var resp actorRoleResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return "", fmt.Errorf("failed to resolve actor role: %w", err)
	}
	return resp.Role, nil
}

type approvalLimitResponse struct {
	// ApprovalLimit is in cents; null means unlimited authority.
	ApprovalLimit *int64 `json:"approval_limit"`
}

// GetOwnApprovalLimit returns the actor's approval limit in cents, or nil for
// unlimited.
func (c *IdentityHTTPClient) GetOwnApprovalLimit(ctx context.Context, actorID string) (*int64, error) {
	path := fmt.Sprintf("/api/v1/users/approval-limit?user_id=%s", url.QueryEscape(actorID))

	var resp approvalLimitResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to resolve approval limit: %w", err)
	}
	return resp.ApprovalLimit, nil
}

// ── Static implementation ─────────────────────────────────────────────────────

// StaticIdentity is an in-process identity source for tests and the memory
// storage mode. Actors without an entry have unlimited authority and no role.
type StaticIdentity struct {
	mu     sync.RWMutex
	roles  map[string]string
	limits map[string]*int64
}

// NewStaticIdentity creates an empty StaticIdentity.
func NewStaticIdentity() *StaticIdentity {
	return &StaticIdentity{
		roles:  make(map[string]string),
		limits: make(map[string]*int64),
	}
}

// SetActor registers an actor with a role and limit (nil = unlimited).
func (s *StaticIdentity) SetActor(actorID, role string, limit *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[actorID] = role
	s.limits[actorID] = limit
}

// GetActorRole returns the actor's registered role, or "".
func (s *StaticIdentity) GetActorRole(ctx context.Context, actorID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[actorID], nil
}

// GetOwnApprovalLimit returns the actor's registered limit; unknown actors
// are unlimited.
func (s *StaticIdentity) GetOwnApprovalLimit(ctx context.Context, actorID string) (*int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits[actorID], nil
}
