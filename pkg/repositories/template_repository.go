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

// TemplateRepository provides data access for prompt templates.
type TemplateRepository interface {
	Create(ctx context.Context, tmpl *models.Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Template, error)
	List(ctx context.Context) ([]*models.Template, error)
	Count(ctx context.Context) (int, error)
	Update(ctx context.Context, id uuid.UUID, update models.TemplateUpdate) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type templateRepository struct{}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository() TemplateRepository {
	return &templateRepository{}
}

var _ TemplateRepository = (*templateRepository)(nil)

const templateColumns = `id, name, prompt, tags, animated, created_at, updated_at, created_by`

// ============================================================================
// CRUD Operations
// ============================================================================

func (r *templateRepository) Create(ctx context.Context, tmpl *models.Template) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	// Names are not unique, so every save is a new row
	tmpl.ID = uuid.New()
	if tmpl.CreatedBy == "" {
		tmpl.CreatedBy = models.DefaultTemplateCreator
	}
	tmpl.Tags = jsonbStrings(tmpl.Tags)
	now := time.Now().UTC()

	query := `
		INSERT INTO templates (id, name, prompt, tags, animated, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		RETURNING created_at, updated_at`

	err = q.QueryRow(ctx, query,
		tmpl.ID,
		tmpl.Name,
		tmpl.Prompt,
		tmpl.Tags,
		tmpl.Animated,
		now,
		tmpl.CreatedBy,
	).Scan(&tmpl.CreatedAt, &tmpl.UpdatedAt)
	if err != nil {
		return writeError(err, "create template")
	}

	return nil
}

func (r *templateRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Template, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = $1`

	tmpl, err := scanTemplate(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, readError(err, "get template")
	}
	return tmpl, nil
}

func (r *templateRepository) List(ctx context.Context) ([]*models.Template, error) {
	q, err := querier(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + templateColumns + ` FROM templates ORDER BY created_at DESC, id`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, readError(err, "list templates")
	}
	defer rows.Close()

	templates := make([]*models.Template, 0)
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, readError(err, "scan template")
		}
		templates = append(templates, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err, "iterate templates")
	}

	return templates, nil
}

func (r *templateRepository) Count(ctx context.Context) (int, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}

	var count int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM templates`).Scan(&count); err != nil {
		return 0, readError(err, "count templates")
	}
	return count, nil
}

// Update merges the set fields of update into the row and refreshes updated_at.
// An empty update issues no statement and leaves updated_at alone.
func (r *templateRepository) Update(ctx context.Context, id uuid.UUID, update models.TemplateUpdate) error {
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
	if update.Prompt != nil {
		add("prompt", *update.Prompt)
	}
	if update.Tags != nil {
		add("tags", jsonbStrings(*update.Tags))
	}
	if update.Animated != nil {
		add("animated", *update.Animated)
	}
	add("updated_at", time.Now().UTC())

	query := `UPDATE templates SET ` + strings.Join(sets, ", ") + ` WHERE id = $1`

	result, err := q.Exec(ctx, query, args...)
	if err != nil {
		return writeError(err, "update template")
	}
	if result.RowsAffected() == 0 {
		return apperrors.NotFound("template %s not found", id)
	}

	return nil
}

func (r *templateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}

	result, err := q.Exec(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return writeError(err, "delete template")
	}
	if result.RowsAffected() == 0 {
		return apperrors.NotFound("template %s not found", id)
	}

	return nil
}

func scanTemplate(row pgx.Row) (*models.Template, error) {
	var t models.Template
	var tags []byte

	err := row.Scan(&t.ID, &t.Name, &t.Prompt, &tags, &t.Animated, &t.CreatedAt, &t.UpdatedAt, &t.CreatedBy)
	if err != nil {
		return nil, err
	}

	if t.Tags, err = unmarshalStrings(tags, "tags"); err != nil {
		return nil, err
	}
	return &t, nil
}
