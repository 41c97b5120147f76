package store

import (
	"context"
	"encoding/json"
	"fmt"
)

const userKeyPrefix = "user/"

// Capability names recognized on user records.
const (
	CapabilityUseOllama    = "use_ollama"
	CapabilityManageOllama = "manage_ollama"
)

// elevatedRoles are the roles that implicitly carry both capabilities.
var elevatedRoles = map[string]bool{
	"admin":      true,
	"owner":      true,
	"superadmin": true,
}

// UserRecord is the per-tenant view of a user consumed by the permission
// gate. Role and capability semantics:
//
//   - an elevated role (admin, owner, superadmin) grants everything
//   - "use_ollama" grants model invocation
//   - "manage_ollama" grants the admin operations (pull, delete, copy,
//     settings mutation)
type UserRecord struct {
	UserID       string   `json:"userId"`
	CompanyID    string   `json:"companyId"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities,omitempty"`
}

func (u *UserRecord) hasCapability(name string) bool {
	for _, c := range u.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// UserStore reads and writes user permission records.
type UserStore struct {
	store *Store
}

// NewUserStore creates a user view over the shared store.
func NewUserStore(s *Store) *UserStore {
	return &UserStore{store: s}
}

func userKey(companyID, userID string) []byte {
	return []byte(userKeyPrefix + companyID + "/" + userID)
}

// Put stores a user record.
func (us *UserStore) Put(_ context.Context, rec UserRecord) error {
	if rec.UserID == "" || rec.CompanyID == "" {
		return fmt.Errorf("user record requires both user id and company id")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal user record: %w", err)
	}
	return us.store.set(userKey(rec.CompanyID, rec.UserID), raw)
}

// Get loads a user record; ErrNotFound when the user is unknown in that
// company.
func (us *UserStore) Get(_ context.Context, userID, companyID string) (*UserRecord, error) {
	raw, err := us.store.get(userKey(companyID, userID))
	if err != nil {
		return nil, err
	}
	var rec UserRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt user record for %s/%s: %w", companyID, userID, err)
	}
	return &rec, nil
}

// IsAdmin reports whether the user holds an elevated role or the
// "manage_ollama" capability.
func (us *UserStore) IsAdmin(ctx context.Context, userID, companyID string) (bool, error) {
	rec, err := us.Get(ctx, userID, companyID)
	if err != nil {
		return false, err
	}
	return elevatedRoles[rec.Role] || rec.hasCapability(CapabilityManageOllama), nil
}

// CanUseOllama reports whether the user holds an elevated role or the
// "use_ollama" capability.
func (us *UserStore) CanUseOllama(ctx context.Context, userID, companyID string) (bool, error) {
	rec, err := us.Get(ctx, userID, companyID)
	if err != nil {
		return false, err
	}
	return elevatedRoles[rec.Role] || rec.hasCapability(CapabilityUseOllama), nil
}
