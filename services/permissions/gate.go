// Package permissions implements the gate that decides whether a user may
// invoke a model or manage a company's Ollama configuration.
//
// The gate performs pure reads against the external user and settings
// records and fails closed: any lookup error yields a denial, never a
// panic or an error surfaced to the handler.
package permissions

import (
	"context"
	"log/slog"

	"github.com/weam-ai/ollama-gateway/services/gateway/datatypes"
)

// PermissionSource exposes the user-record checks the gate needs. The
// Badger-backed user store implements it; platform deployments adapt their
// own user directory instead.
type PermissionSource interface {
	// IsAdmin reports an elevated role or an explicit "manage_ollama"
	// capability.
	IsAdmin(ctx context.Context, userID, companyID string) (bool, error)

	// CanUseOllama reports an elevated role or an explicit "use_ollama"
	// capability.
	CanUseOllama(ctx context.Context, userID, companyID string) (bool, error)
}

// SettingsReader is the slice of the settings store the gate needs: the
// company's restricted-model list.
type SettingsReader interface {
	Get(ctx context.Context, companyID string) (datatypes.CompanyOllamaSettings, error)
}

// Gate combines the permission source with company settings.
//
// # Thread Safety
//
// Safe for concurrent use; the gate holds no mutable state.
type Gate struct {
	perms    PermissionSource
	settings SettingsReader
}

// NewGate creates a permission gate. Both dependencies are required.
func NewGate(perms PermissionSource, settings SettingsReader) *Gate {
	if perms == nil {
		panic("NewGate: perms must not be nil")
	}
	if settings == nil {
		panic("NewGate: settings must not be nil")
	}
	return &Gate{perms: perms, settings: settings}
}

// CheckUserPermission decides whether the user may invoke the model.
//
// Returns false when the company's restricted list contains the model,
// regardless of the user's role; otherwise true only for users with the
// "use_ollama" capability or an elevated role. Fails closed on any lookup
// error.
func (g *Gate) CheckUserPermission(ctx context.Context, userID, companyID, model string) bool {
	settings, err := g.settings.Get(ctx, companyID)
	if err != nil {
		slog.Warn("Permission check failed to load company settings, denying",
			"company_id", companyID, "error", err)
		return false
	}
	if settings.RestrictsModel(model) {
		slog.Debug("Model is restricted for company",
			"company_id", companyID, "model", model)
		return false
	}

	ok, err := g.perms.CanUseOllama(ctx, userID, companyID)
	if err != nil {
		slog.Warn("Permission lookup failed, denying",
			"user_id", userID, "company_id", companyID, "error", err)
		return false
	}
	return ok
}

// CheckAdminPermission decides whether the user may perform admin-only
// operations (model pull/delete/copy, settings mutation). Fails closed on
// any lookup error.
func (g *Gate) CheckAdminPermission(ctx context.Context, userID, companyID string) bool {
	ok, err := g.perms.IsAdmin(ctx, userID, companyID)
	if err != nil {
		slog.Warn("Admin permission lookup failed, denying",
			"user_id", userID, "company_id", companyID, "error", err)
		return false
	}
	return ok
}
