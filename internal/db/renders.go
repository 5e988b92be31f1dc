package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/storyreel/internal/models"
	"github.com/google/uuid"
)

const renderColumns = `
	id, topic, video_server, status, stage, script, duration_sec,
	visual_layers, caption_layers, report, video_asset_id, error_message,
	started_at, finished_at, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRender(row rowScanner, r *models.Render) error {
	return row.Scan(
		&r.ID, &r.Topic, &r.VideoServer, &r.Status, &r.Stage, &r.Script, &r.DurationSec,
		&r.VisualLayers, &r.CaptionLayers, &r.Report, &r.VideoAssetID, &r.ErrorMessage,
		&r.StartedAt, &r.FinishedAt, &r.CreatedAt, &r.UpdatedAt,
	)
}

func (db *DB) CreateRender(ctx context.Context, render *models.Render) error {
	query := `
		INSERT INTO renders (id, topic, video_server, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		render.ID, render.Topic, render.VideoServer, render.Status,
	).Scan(&render.CreatedAt, &render.UpdatedAt)
}

func (db *DB) GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error) {
	query := `SELECT ` + renderColumns + ` FROM renders WHERE id = $1`

	render := &models.Render{}
	err := scanRender(db.QueryRowContext(ctx, query, id), render)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render: %w", err)
	}

	return render, nil
}

// ListRenders returns renders ordered by creation date (newest first).
// Supports optional status filter, limit, and offset for pagination.
func (db *DB) ListRenders(ctx context.Context, status string, limit, offset int) ([]models.Render, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `SELECT ` + renderColumns + ` FROM renders`

	if status != "" {
		query := baseSelect + ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = db.QueryContext(ctx, query, status, limit, offset)
	} else {
		query := baseSelect + ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		rows, err = db.QueryContext(ctx, query, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list renders: %w", err)
	}
	defer rows.Close()

	renders := []models.Render{}
	for rows.Next() {
		var r models.Render
		if err := scanRender(rows, &r); err != nil {
			return nil, fmt.Errorf("failed to scan render: %w", err)
		}
		renders = append(renders, r)
	}

	return renders, rows.Err()
}

// CountRenders returns the total number of renders, optionally filtered by status.
func (db *DB) CountRenders(ctx context.Context, status string) (int, error) {
	var count int
	if status != "" {
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM renders WHERE status = $1`, status).Scan(&count)
		return count, err
	}
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM renders`).Scan(&count)
	return count, err
}

// MarkRenderRunning moves a queued render to running.
func (db *DB) MarkRenderRunning(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE renders
		SET status = $1, started_at = NOW(), finished_at = NULL, error_message = NULL, updated_at = NOW()
		WHERE id = $2
	`
	_, err := db.ExecContext(ctx, query, models.RenderStatusRunning, id)
	return err
}

func (db *DB) UpdateRenderStage(ctx context.Context, id uuid.UUID, stage string) error {
	query := `UPDATE renders SET stage = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, stage, id)
	return err
}

// UpdateRenderError marks the render failed at stage.
func (db *DB) UpdateRenderError(ctx context.Context, id uuid.UUID, stage, errorMessage string) error {
	query := `
		UPDATE renders
		SET status = $1, stage = $2, error_message = $3, finished_at = NOW(), updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.RenderStatusFailed, stage, errorMessage, id)
	return err
}

// CompleteRender records the render outcome and its video asset.
func (db *DB) CompleteRender(ctx context.Context, render *models.Render) error {
	query := `
		UPDATE renders
		SET status = $1, stage = $2, script = $3, duration_sec = $4,
			visual_layers = $5, caption_layers = $6, report = $7,
			video_asset_id = $8, finished_at = NOW(), updated_at = NOW()
		WHERE id = $9
	`
	_, err := db.ExecContext(
		ctx, query,
		models.RenderStatusCompleted, render.Stage, render.Script, render.DurationSec,
		render.VisualLayers, render.CaptionLayers, render.Report,
		render.VideoAssetID, render.ID,
	)
	return err
}

// RequeueRender resets a failed render to queued. It reports false when the
// render is not in the failed state.
func (db *DB) RequeueRender(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE renders
		SET status = $1, stage = NULL, error_message = NULL, started_at = NULL, finished_at = NULL, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	res, err := db.ExecContext(ctx, query, models.RenderStatusQueued, id, models.RenderStatusFailed)
	if err != nil {
		return false, fmt.Errorf("failed to requeue render: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
