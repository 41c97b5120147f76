package datatypes

import "time"

// DefaultMaxConcurrentRequests is the per-company concurrency limit applied
// when a company has no stored configuration.
const DefaultMaxConcurrentRequests = 5

// ProviderCredentials holds the secrets for one fallback provider.
// Endpoint and APIVersion are only meaningful for Azure.
type ProviderCredentials struct {
	APIKey     string `json:"apiKey,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// FallbackConfig controls automatic provider substitution for a company.
//
// AllowedProviders is an ordered priority list: on a dispatcher failure the
// orchestrator walks it front to back and picks the first provider that has
// a mapping entry for the failed model.
type FallbackConfig struct {
	Enabled          bool                           `json:"enabled"`
	AllowedProviders []string                       `json:"allowedProviders,omitempty"`
	Credentials      map[string]ProviderCredentials `json:"credentials,omitempty"`
}

// CompanyOllamaSettings is the per-company Ollama configuration document.
//
// # Lifecycle
//
// Created lazily with defaults on first read; mutated only through the
// admin-gated update path; persisted as a JSON document keyed by company id.
// Concurrent updates for the same company race read-merge-write and resolve
// last-write-wins; that is an accepted, documented limitation.
type CompanyOllamaSettings struct {
	AllowedModels         []string       `json:"allowedModels"`
	RestrictedModels      []string       `json:"restrictedModels"`
	DefaultModel          *string        `json:"defaultModel"`
	MaxConcurrentRequests int            `json:"maxConcurrentRequests"`
	Fallback              FallbackConfig `json:"fallback"`
	UpdatedAt             time.Time      `json:"updatedAt,omitempty"`
}

// DefaultCompanySettings returns the documented defaults used when a company
// has no stored configuration: empty allow/restrict lists, no default model,
// maxConcurrentRequests=5, fallback enabled.
func DefaultCompanySettings() CompanyOllamaSettings {
	return CompanyOllamaSettings{
		AllowedModels:         []string{},
		RestrictedModels:      []string{},
		DefaultModel:          nil,
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		Fallback:              FallbackConfig{Enabled: true},
	}
}

// AllowsModel reports whether the company allow-list admits the model.
// An empty allow-list admits everything.
func (s CompanyOllamaSettings) AllowsModel(model string) bool {
	if len(s.AllowedModels) == 0 {
		return true
	}
	for _, m := range s.AllowedModels {
		if m == model {
			return true
		}
	}
	return false
}

// RestrictsModel reports whether the model is on the company restricted list.
func (s CompanyOllamaSettings) RestrictsModel(model string) bool {
	for _, m := range s.RestrictedModels {
		if m == model {
			return true
		}
	}
	return false
}

// SettingsPatch is a partial settings update. Nil fields are left untouched;
// non-nil fields replace the stored value wholesale (shallow merge).
type SettingsPatch struct {
	AllowedModels         *[]string       `json:"allowedModels,omitempty"`
	RestrictedModels      *[]string       `json:"restrictedModels,omitempty"`
	DefaultModel          *string         `json:"defaultModel,omitempty"`
	MaxConcurrentRequests *int            `json:"maxConcurrentRequests,omitempty"`
	Fallback              *FallbackConfig `json:"fallback,omitempty"`
}

// FallbackCall packages a failed primary invocation for the fallback
// orchestrator: what was asked, with which provider configuration, and why
// the primary attempt failed. Exactly one of Messages or Prompt is set,
// matching the action.
type FallbackCall struct {
	Model    string
	Action   Action
	Messages []Message
	Prompt   string
	Options  *SamplingOptions
	Config   FallbackConfig
	Cause    error
}

// Apply merges the patch over prior settings and stamps UpdatedAt.
func (p SettingsPatch) Apply(prior CompanyOllamaSettings, now time.Time) CompanyOllamaSettings {
	next := prior
	if p.AllowedModels != nil {
		next.AllowedModels = *p.AllowedModels
	}
	if p.RestrictedModels != nil {
		next.RestrictedModels = *p.RestrictedModels
	}
	if p.DefaultModel != nil {
		next.DefaultModel = p.DefaultModel
	}
	if p.MaxConcurrentRequests != nil {
		next.MaxConcurrentRequests = *p.MaxConcurrentRequests
	}
	if p.Fallback != nil {
		next.Fallback = *p.Fallback
	}
	next.UpdatedAt = now.UTC()
	return next
}
