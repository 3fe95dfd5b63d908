package auth

import (
	"context"
)

// GetUserIDFromContext returns the token subject, or "" when the request is unauthenticated.
func GetUserIDFromContext(ctx context.Context) string {
	claims, ok := GetClaims(ctx)
	if !ok || claims == nil {
		return ""
	}
	return claims.Subject
}

// EvaluatorID picks the evaluator recorded with a ranking. An explicit value
// wins; otherwise the authenticated subject is used, then fallback.
func EvaluatorID(ctx context.Context, explicit, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if userID := GetUserIDFromContext(ctx); userID != "" {
		return userID
	}
	return fallback
}
