package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when token validation fails. Deployments
// should wrap this error with additional context rather than inventing a
// new sentinel.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the authenticated caller of a gateway request.
//
// The gateway is multi-tenant: every request is attributed to both a user
// and the company (tenant) that owns their workspace. Permission and
// settings lookups key on the pair.
//
// Required fields (always populated on successful validation):
//   - UserID
//   - CompanyID
//
// Roles is optional and only advisory here; the permission gate makes its
// decisions against the user store, not the token.
type Identity struct {
	// UserID is the unique identifier of the authenticated user.
	UserID string

	// CompanyID is the tenant the user is acting within.
	CompanyID string

	// Email may be empty if the auth provider does not supply it.
	Email string

	// Roles lists role memberships carried by the credential.
	// Common roles: "admin", "manager", "user".
	Roles []string
}

// HasRole checks if the identity carries a specific role.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates authentication tokens and returns the caller's
// identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// The default NopAuthProvider accepts any token and returns a local
// single-tenant identity with the admin role, so the gateway works without
// an identity provider. Production deployments validate JWTs or API keys
// against the platform's session store and return real user/company ids.
type AuthProvider interface {
	// Validate checks the token and returns the caller's identity.
	//
	// Returns ErrUnauthorized (possibly wrapped) when the token is invalid;
	// any other error is treated as a validation failure too.
	Validate(ctx context.Context, token string) (*Identity, error)
}

// NopAuthProvider is the default provider: any token (including none)
// authenticates as a local admin in a single local tenant.
//
// Thread-safe: no mutable state.
type NopAuthProvider struct{}

// Validate always succeeds with the local identity. The token is ignored.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*Identity, error) {
	return &Identity{
		UserID:    "local-user",
		CompanyID: "local-company",
		Roles:     []string{"admin"},
	}, nil
}

var _ AuthProvider = (*NopAuthProvider)(nil)
