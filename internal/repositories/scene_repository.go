package repositories

import (
	"context"
	"errors"

	"vidrender/internal/httpkit"
	"vidrender/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrSceneNotFound = errors.New("scene not found")
var ErrSceneNameExists = errors.New("scene name already exists")

type SceneRepository struct {
	db *pgxpool.Pool
}

func NewSceneRepository(db *pgxpool.Pool) *SceneRepository {
	return &SceneRepository{db: db}
}

func (r *SceneRepository) Create(ctx context.Context, s *models.SavedScene) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO scenes (id, name, description, definition_json)
		VALUES ($1,$2,$3,$4)
		RETURNING created_at
	`, s.ID, s.Name, s.Description, []byte(s.Definition)).Scan(&s.CreatedAt)

	if err != nil {
		if httpkit.IsUniqueViolation(err) {
			return ErrSceneNameExists
		}
		return err
	}
	return nil
}

// List omits definitions.
func (r *SceneRepository) List(ctx context.Context) ([]models.SavedScene, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, created_at
		FROM scenes
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.SavedScene{}
	for rows.Next() {
		var s models.SavedScene
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SceneRepository) Get(ctx context.Context, id string) (*models.SavedScene, error) {
	var s models.SavedScene
	var def []byte
	err := r.db.QueryRow(ctx, `
		SELECT id, name, description, definition_json, created_at, deleted_at
		FROM scenes
		WHERE id=$1 AND deleted_at IS NULL
	`, id).Scan(
		&s.ID,
		&s.Name,
		&s.Description,
		&def,
		&s.CreatedAt,
		&s.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSceneNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Definition = def
	return &s, nil
}

func (r *SceneRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE scenes
		SET deleted_at=now()
		WHERE id=$1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSceneNotFound
	}
	return nil
}
