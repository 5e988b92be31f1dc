package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type RenderStatus string

const (
	RenderStatusQueued    RenderStatus = "queued"
	RenderStatusRunning   RenderStatus = "running"
	RenderStatusCompleted RenderStatus = "completed"
	RenderStatusFailed    RenderStatus = "failed"
)

// Valid reports whether s is a known status.
func (s RenderStatus) Valid() bool {
	switch s {
	case RenderStatusQueued, RenderStatusRunning, RenderStatusCompleted, RenderStatusFailed:
		return true
	}
	return false
}

type AssetType string

const (
	AssetTypeFinalVideo AssetType = "final_video"
	AssetTypeNarration  AssetType = "narration"
	AssetTypeTimeline   AssetType = "timeline_json"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(data, j)
}

// Models

// Render is one topic-to-video request and its outcome.
type Render struct {
	ID            uuid.UUID    `json:"id"`
	Topic         string       `json:"topic"`
	VideoServer   string       `json:"video_server"`
	Status        RenderStatus `json:"status"`
	Stage         *string      `json:"stage,omitempty"` // current or failing pipeline stage
	Script        *string      `json:"script,omitempty"`
	DurationSec   *float64     `json:"duration_sec,omitempty"`
	VisualLayers  *int         `json:"visual_layers,omitempty"`
	CaptionLayers *int         `json:"caption_layers,omitempty"`
	Report        JSONB        `json:"report,omitempty"` // per-segment degrade summary
	VideoAssetID  *uuid.UUID   `json:"video_asset_id,omitempty"`
	ErrorMessage  *string      `json:"error_message,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type Asset struct {
	ID            uuid.UUID `json:"id"`
	RenderID      uuid.UUID `json:"render_id"`
	Type          AssetType `json:"type"`
	StorageBucket string    `json:"storage_bucket"`
	StoragePath   string    `json:"storage_path"`
	ContentType   *string   `json:"content_type,omitempty"`
	ByteSize      *int64    `json:"byte_size,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// DTOs for API requests and responses

type CreateRenderRequest struct {
	Topic       string  `json:"topic"`
	VideoServer *string `json:"video_server,omitempty"` // Default: "pexel"
}

type CreateRenderResponse struct {
	RenderID uuid.UUID    `json:"render_id"`
	Status   RenderStatus `json:"status"`
}

type RenderResponse struct {
	Render
	VideoURL *string `json:"video_url,omitempty"`
	Assets   []Asset `json:"assets,omitempty"`
}

type ListRendersResponse struct {
	Renders []Render `json:"renders"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}
