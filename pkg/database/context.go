package database

import (
	"context"
)

type contextKey string

const (
	// ScopeKey is the context key for storing the database scope.
	ScopeKey contextKey = "dbScope"
)

// GetScope retrieves the database scope from context.
// Returns nil and false if not present.
func GetScope(ctx context.Context) (*Scope, bool) {
	scope, ok := ctx.Value(ScopeKey).(*Scope)
	return scope, ok && scope != nil
}

// SetScope stores the database scope in context.
func SetScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, ScopeKey, scope)
}

// ScopeProvider creates scoped contexts for callers outside the HTTP middleware chain,
// such as MCP tool handlers and startup tasks.
type ScopeProvider struct {
	db *DB
}

// NewScopeProvider creates a ScopeProvider for the given database.
func NewScopeProvider(db *DB) *ScopeProvider {
	return &ScopeProvider{db: db}
}

// WithScope returns a context carrying a pool-backed scope.
// The cleanup function must be called when the scope is no longer needed.
func (p *ScopeProvider) WithScope(ctx context.Context) (context.Context, func(), error) {
	if _, ok := GetScope(ctx); ok {
		return ctx, func() {}, nil
	}
	return SetScope(ctx, p.db.Scope()), func() {}, nil
}
