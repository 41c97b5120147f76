package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
)

const (
	companyKeyPrefix  = "company/"
	settingsKeyPrefix = "settings/"
)

// SettingsStore reads and writes per-company Ollama settings documents.
//
// Reads for a registered company with no stored document return the
// documented defaults; the document is only materialized by an update.
// Updates against an unregistered company fail with CompanyNotFound.
type SettingsStore struct {
	store *Store
	now   func() time.Time
}

// NewSettingsStore creates a settings view over the shared store.
func NewSettingsStore(s *Store) *SettingsStore {
	return &SettingsStore{store: s, now: time.Now}
}

// EnsureCompany registers a company id. Registration normally mirrors the
// platform's tenant provisioning; the local deployment registers its single
// tenant at startup.
func (ss *SettingsStore) EnsureCompany(_ context.Context, companyID string) error {
	if companyID == "" {
		return fmt.Errorf("company id must not be empty")
	}
	return ss.store.set([]byte(companyKeyPrefix+companyID), []byte("1"))
}

// CompanyExists reports whether the company id is registered.
func (ss *SettingsStore) CompanyExists(_ context.Context, companyID string) (bool, error) {
	return ss.store.has([]byte(companyKeyPrefix + companyID))
}

// Get returns the company's settings, falling back to the documented
// defaults when no document has been stored yet.
func (ss *SettingsStore) Get(_ context.Context, companyID string) (datatypes.CompanyOllamaSettings, error) {
	raw, err := ss.store.get([]byte(settingsKeyPrefix + companyID))
	if errors.Is(err, ErrNotFound) {
		return datatypes.DefaultCompanySettings(), nil
	}
	if err != nil {
		return datatypes.CompanyOllamaSettings{}, fmt.Errorf("failed to read settings for %s: %w", companyID, err)
	}
	var settings datatypes.CompanyOllamaSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return datatypes.CompanyOllamaSettings{}, fmt.Errorf("corrupt settings document for %s: %w", companyID, err)
	}
	return settings, nil
}

// Update shallow-merges patch over the stored settings, stamps UpdatedAt,
// and persists the result.
//
// Read-merge-write with no locking: two concurrent updates for the same
// company race and the last write wins.
func (ss *SettingsStore) Update(ctx context.Context, companyID string,
	patch datatypes.SettingsPatch) (datatypes.CompanyOllamaSettings, error) {

	exists, err := ss.CompanyExists(ctx, companyID)
	if err != nil {
		return datatypes.CompanyOllamaSettings{}, fmt.Errorf("failed to check company %s: %w", companyID, err)
	}
	if !exists {
		return datatypes.CompanyOllamaSettings{},
			datatypes.E(datatypes.KindCompanyNotFound, "company %q is not registered", companyID)
	}

	prior, err := ss.Get(ctx, companyID)
	if err != nil {
		return datatypes.CompanyOllamaSettings{}, err
	}
	next := patch.Apply(prior, ss.now())

	raw, err := json.Marshal(next)
	if err != nil {
		return datatypes.CompanyOllamaSettings{}, fmt.Errorf("failed to marshal settings for %s: %w", companyID, err)
	}
	if err := ss.store.set([]byte(settingsKeyPrefix+companyID), raw); err != nil {
		return datatypes.CompanyOllamaSettings{}, fmt.Errorf("failed to persist settings for %s: %w", companyID, err)
	}
	return next, nil
}
