package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vibelab/vibelab-engine/pkg/apperrors"
	"github.com/vibelab/vibelab-engine/pkg/models"
)

// ExperimentRepository provides data access for experiments.
type ExperimentRepository interface {
	Create(ctx context.Context, exp *models.Experiment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Experiment, error)
	List(ctx context.Context) ([]*models.Experiment, error)
	Update(ctx context.Context, id uuid.UUID, update models.ExperimentUpdate) error
}

type experimentRepository struct{}

// NewExperimentRepository creates a new ExperimentRepository.
func NewExperimentRepository() ExperimentRepository {
	return &experimentRepository{}
}

var _ ExperimentRepository = (*experimentRepository)(nil)

const experimentColumns = `id, name, description, config, status, created_at, updated_at`

func (r *experimentRepository) Create(ctx context.Context, exp *models.Experiment) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if exp.ID == uuid.Nil {
		exp.ID = uuid.New()
	}
	if exp.Status == "" {
		exp.Status = models.ExperimentStatusActive
	}
	exp.Config = jsonbMap(exp.Config)
	now := time.Now().UTC()

	query := `
		INSERT INTO experiments (id, name, description, config, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING created_at, updated_at`

	err = q.QueryRow(ctx, query,
		exp.ID,
		exp.Name,
		exp.Description,
		exp.Config,
		exp.Status,
		now,
	).Scan(&exp.CreatedAt, &exp.UpdatedAt)
	if err != nil {
		return writeError(err, "create experiment")
	}

	return nil
}

func (r *experimentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE id = $1`

	exp, err := scanExperiment(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, readError(err, "get experiment")
	}
	return exp, nil
}

func (r *experimentRepository) List(ctx context.Context) ([]*models.Experiment, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + experimentColumns + ` FROM experiments ORDER BY created_at DESC, id`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, readError(err, "list experiments")
	}
	defer rows.Close()

	experiments := make([]*models.Experiment, 0)
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, readError(err, "scan experiment")
		}
		experiments = append(experiments, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err, "iterate experiments")
	}

	return experiments, nil
}

// Update writes only the fields set in update and advances updated_at.
// An empty update issues no statement.
func (r *experimentRepository) Update(ctx context.Context, id uuid.UUID, update models.ExperimentUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	q, err := querier(ctx)
	if err != nil {
		return err
	}

	sets := make([]string, 0, 5)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Name != nil {
		add("name", *update.Name)
	}
	if update.Description != nil {
		add("description", *update.Description)
	}
	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.Config != nil {
		add("config", jsonbMap(*update.Config))
	}
	add("updated_at", time.Now().UTC())

	query := `UPDATE experiments SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`

	result, err := q.Exec(ctx, query, args...)
	if err != nil {
		return writeError(err, "update experiment")
	}
	if result.RowsAffected() == 0 {
		return apperrors.NotFound("experiment %s not found", id)
	}

	return nil
}

func scanExperiment(row pgx.Row) (*models.Experiment, error) {
	var exp models.Experiment
	var config []byte

	err := row.Scan(
		&exp.ID,
		&exp.Name,
		&exp.Description,
		&config,
		&exp.Status,
		&exp.CreatedAt,
		&exp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if exp.Config, err = unmarshalMap(config, "config"); err != nil {
		return nil, err
	}
	return &exp, nil
}
