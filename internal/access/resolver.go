// Package access is the boundary to the external access-control service.
// The engine trusts its answers and performs no authorization logic of its
// own beyond asking.
package access

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type Resolver interface {
	// CanAdmit reports whether the user may request admission to the resource.
	CanAdmit(ctx context.Context, userID, resourceID uuid.UUID) (bool, error)
	// HasStaffCapability reports whether the user holds organizer/staff
	// capability on the resource (cancel on behalf, revoke, check-in scans).
	HasStaffCapability(ctx context.Context, userID, resourceID uuid.UUID) (bool, error)
}

// HTTPResolver asks a capability service over HTTP.
type HTTPResolver struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTPResolver{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type capabilityRequest struct {
	UserID     uuid.UUID `json:"user_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	Capability string    `json:"capability"`
}

type capabilityResponse struct {
	Allowed bool `json:"allowed"`
}

func (r *HTTPResolver) check(ctx context.Context, userID, resourceID uuid.UUID, capability string) (bool, error) {
	body, err := json.Marshal(capabilityRequest{UserID: userID, ResourceID: resourceID, Capability: capability})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/capabilities/check", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "capability check request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, errors.Newf("capability service returned %d", resp.StatusCode)
	}
	var out capabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, errors.Wrap(err, "decode capability response")
	}
	return out.Allowed, nil
}

func (r *HTTPResolver) CanAdmit(ctx context.Context, userID, resourceID uuid.UUID) (bool, error) {
	return r.check(ctx, userID, resourceID, "admit")
}

func (r *HTTPResolver) HasStaffCapability(ctx context.Context, userID, resourceID uuid.UUID) (bool, error) {
	return r.check(ctx, userID, resourceID, "staff")
}

// StaticResolver answers from fixed sets. Used in tests and single-tenant
// deployments where staff membership is configured, not served.
type StaticResolver struct {
	Staff   map[uuid.UUID]map[uuid.UUID]bool // userID -> resourceID -> staff
	Blocked map[uuid.UUID]bool               // users denied admission everywhere
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{
		Staff:   make(map[uuid.UUID]map[uuid.UUID]bool),
		Blocked: make(map[uuid.UUID]bool),
	}
}

func (r *StaticResolver) GrantStaff(userID, resourceID uuid.UUID) {
	if r.Staff[userID] == nil {
		r.Staff[userID] = make(map[uuid.UUID]bool)
	}
	r.Staff[userID][resourceID] = true
}

func (r *StaticResolver) CanAdmit(_ context.Context, userID, _ uuid.UUID) (bool, error) {
	return !r.Blocked[userID], nil
}

func (r *StaticResolver) HasStaffCapability(_ context.Context, userID, resourceID uuid.UUID) (bool, error) {
	return r.Staff[userID][resourceID], nil
}
