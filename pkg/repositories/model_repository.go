package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vibelab/vibelab-engine/pkg/models"
)

// ModelRepository provides data access for registered models.
type ModelRepository interface {
	// Upsert registers a model by name. An existing row with the same name has
	// its attributes replaced but keeps its id; model.ID is set to the stored id.
	Upsert(ctx context.Context, model *models.Model) error
	GetByName(ctx context.Context, name string) (*models.Model, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Model, error)
	List(ctx context.Context, activeOnly bool) ([]*models.Model, error)
}

type modelRepository struct{}

// NewModelRepository creates a new ModelRepository.
func NewModelRepository() ModelRepository {
	return &modelRepository{}
}

var _ ModelRepository = (*modelRepository)(nil)

const modelColumns = `id, name, type, consortium_config, is_active, created_at`

func (r *modelRepository) Upsert(ctx context.Context, model *models.Model) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	if model.Type == "" {
		model.Type = models.ModelTypeBase
	}
	model.ConsortiumConfig = jsonbMap(model.ConsortiumConfig)

	// Single statement, so concurrent registrations of one name cannot both insert
	query := `
		INSERT INTO models (id, name, type, consortium_config, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE
		SET type = EXCLUDED.type,
		    consortium_config = EXCLUDED.consortium_config,
		    is_active = EXCLUDED.is_active
		RETURNING id, created_at`

	err = q.QueryRow(ctx, query,
		model.ID,
		model.Name,
		model.Type,
		model.ConsortiumConfig,
		model.IsActive,
		time.Now().UTC(),
	).Scan(&model.ID, &model.CreatedAt)
	if err != nil {
		return writeError(err, "register model")
	}

	return nil
}

func (r *modelRepository) GetByName(ctx context.Context, name string) (*models.Model, error) {
	return r.getOne(ctx, `SELECT `+modelColumns+` FROM models WHERE name = $1`, name)
}

func (r *modelRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	return r.getOne(ctx, `SELECT `+modelColumns+` FROM models WHERE id = $1`, id)
}

func (r *modelRepository) getOne(ctx context.Context, query string, arg any) (*models.Model, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	model, err := scanModel(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, readError(err, "get model")
	}
	return model, nil
}

func (r *modelRepository) List(ctx context.Context, activeOnly bool) ([]*models.Model, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + modelColumns + `
		FROM models
		WHERE ($1 = false OR is_active)
		ORDER BY name`

	rows, err := q.Query(ctx, query, activeOnly)
	if err != nil {
		return nil, readError(err, "list models")
	}
	defer rows.Close()

	result := make([]*models.Model, 0)
	for rows.Next() {
		model, err := scanModel(rows)
		if err != nil {
			return nil, readError(err, "scan model")
		}
		result = append(result, model)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err, "iterate models")
	}

	return result, nil
}

func scanModel(row pgx.Row) (*models.Model, error) {
	var m models.Model
	var config []byte

	err := row.Scan(&m.ID, &m.Name, &m.Type, &config, &m.IsActive, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	if m.ConsortiumConfig, err = unmarshalMap(config, "consortium_config"); err != nil {
		return nil, err
	}
	return &m, nil
}
