package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/database"
)

// PostgreSQL error codes mapped to application error kinds.
const (
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
)

var errNoScope = errors.New("no database scope in context")

// querier returns the statement target carried by ctx: the open transaction if
// there is one, otherwise the pool.
func querier(ctx context.Context) (database.Querier, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, apperrors.Persistence(errNoScope, "database unavailable")
	}
	return scope.Querier(), nil
}

// writeError classifies a failed INSERT/UPDATE. A foreign key pointing at a
// missing row is a ReferentialError; constraint checks are ValidationErrors.
func writeError(err error, action string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return apperrors.Referential("cannot %s: referenced row does not exist (%s)", action, pgErr.ConstraintName)
		case pgCheckViolation, pgNotNullViolation:
			return apperrors.Validation("cannot %s: %s", action, pgErr.Message)
		}
	}
	return apperrors.Persistence(err, "failed to %s", action)
}

// readError wraps a failed SELECT.
func readError(err error, action string) error {
	return apperrors.Persistence(err, "failed to %s", action)
}

// jsonbMap returns an empty JSON object for nil maps so jsonb columns are never NULL.
func jsonbMap(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}

// jsonbStrings returns an empty JSON array for nil slices.
func jsonbStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func unmarshalMap(data []byte, column string) (map[string]any, error) {
	out := map[string]any{}
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", column, err)
	}
	return out, nil
}

func unmarshalStrings(data []byte, column string) ([]string, error) {
	out := []string{}
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", column, err)
	}
	return out, nil
}
