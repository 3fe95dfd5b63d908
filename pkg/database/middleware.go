package database

import (
	"net/http"
)

// WithScope creates middleware that places a pool-backed database scope on the
// request context for repositories to use.
func WithScope(db *DB) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := SetScope(r.Context(), db.Scope())
			next(w, r.WithContext(ctx))
		}
	}
}
