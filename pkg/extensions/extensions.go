// Package extensions defines the gateway's pluggable integration points.
//
// The gateway core never talks to the platform's identity or compliance
// systems directly. Instead it consumes the small interfaces defined here,
// and deployments inject concrete implementations via ServiceOptions. The
// open source defaults are no-ops that keep a standalone gateway fully
// functional: any caller authenticates as a local admin and audit events
// are discarded.
//
// All implementations must be safe for concurrent use; multiple goroutines
// call these methods simultaneously.
package extensions

// ServiceOptions groups the extension points handed to the gateway
// constructor. Nil fields are replaced with no-op defaults.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens.
	// Default: NopAuthProvider (local admin identity).
	AuthProvider AuthProvider

	// AuditLogger records permission denials and admin mutations.
	// Default: NopAuditLogger (discards everything).
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// Normalize fills nil fields with the no-op defaults.
func (opts ServiceOptions) Normalize() ServiceOptions {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	return opts
}
