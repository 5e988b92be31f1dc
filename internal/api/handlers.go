package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bobarin/storyreel/internal/db"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/services"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	maxTopicLength  = 500
	signedURLExpiry = 3600 // seconds
)

// RenderStore is the slice of the database the API reads and writes.
type RenderStore interface {
	CreateRender(ctx context.Context, render *models.Render) error
	GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error)
	ListRenders(ctx context.Context, status string, limit, offset int) ([]models.Render, error)
	CountRenders(ctx context.Context, status string) (int, error)
	RequeueRender(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateRenderError(ctx context.Context, id uuid.UUID, stage, errorMessage string) error
	GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	GetRenderAssets(ctx context.Context, renderID uuid.UUID) ([]models.Asset, error)
}

type Enqueuer interface {
	EnqueueRender(ctx context.Context, renderID uuid.UUID) error
}

type Handler struct {
	db      RenderStore
	queue   Enqueuer
	storage storage.ObjectStore
}

func NewHandler(database RenderStore, q Enqueuer, stor storage.ObjectStore) *Handler {
	return &Handler{
		db:      database,
		queue:   q,
		storage: stor,
	}
}

// CreateRender handles POST /v1/renders
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		respondError(w, http.StatusBadRequest, "Topic is required")
		return
	}
	if utf8.RuneCountInString(topic) > maxTopicLength {
		respondError(w, http.StatusBadRequest, "Topic must be at most 500 characters")
		return
	}

	videoServer := services.ProviderPexels
	if req.VideoServer != nil && *req.VideoServer != "" {
		videoServer = *req.VideoServer
	}
	if videoServer != services.ProviderPexels {
		respondError(w, http.StatusBadRequest, "Unsupported video_server. Allowed: "+services.ProviderPexels)
		return
	}

	render := &models.Render{
		ID:          uuid.New(),
		Topic:       topic,
		VideoServer: videoServer,
		Status:      models.RenderStatusQueued,
	}

	if err := h.db.CreateRender(r.Context(), render); err != nil {
		log.Printf("[API] Failed to create render: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to create render")
		return
	}

	if err := h.queue.EnqueueRender(r.Context(), render.ID); err != nil {
		log.Printf("[API] Failed to enqueue render %s: %v", render.ID, err)
		// Leave a terminal row behind rather than one stuck in queued.
		if dbErr := h.db.UpdateRenderError(r.Context(), render.ID, "queued", "failed to enqueue: "+err.Error()); dbErr != nil {
			log.Printf("[API] Failed to mark render %s failed: %v", render.ID, dbErr)
		}
		respondError(w, http.StatusInternalServerError, "Failed to enqueue render")
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateRenderResponse{
		RenderID: render.ID,
		Status:   render.Status,
	})
}

// ListRenders handles GET /v1/renders
// Query params:
//   - status: filter by render status (queued, running, completed, failed)
//   - limit:  max results per page (default 20, max 100)
//   - offset: number of results to skip (default 0)
func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" && !models.RenderStatus(statusFilter).Valid() {
		respondError(w, http.StatusBadRequest, "Invalid status filter. Allowed: queued, running, completed, failed")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	total, err := h.db.CountRenders(r.Context(), statusFilter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to count renders")
		return
	}

	renders, err := h.db.ListRenders(r.Context(), statusFilter, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list renders")
		return
	}

	respondJSON(w, http.StatusOK, models.ListRendersResponse{
		Renders: renders,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// GetRender handles GET /v1/renders/{id}
func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) {
	render, ok := h.loadRender(w, r)
	if !ok {
		return
	}

	assets, err := h.db.GetRenderAssets(r.Context(), render.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get assets")
		return
	}

	response := models.RenderResponse{
		Render: *render,
		Assets: assets,
	}
	if url, err := h.videoURL(r.Context(), render); err == nil && url != "" {
		response.VideoURL = &url
	}

	respondJSON(w, http.StatusOK, response)
}

// GetRenderDownload handles GET /v1/renders/{id}/download
func (h *Handler) GetRenderDownload(w http.ResponseWriter, r *http.Request) {
	render, ok := h.loadRender(w, r)
	if !ok {
		return
	}

	if render.VideoAssetID == nil {
		respondError(w, http.StatusNotFound, "Video not ready")
		return
	}

	signedURL, err := h.videoURL(r.Context(), render)
	if err != nil {
		log.Printf("[API] Failed to sign download for render %s: %v", render.ID, err)
		respondError(w, http.StatusInternalServerError, "Failed to generate download URL")
		return
	}

	http.Redirect(w, r, signedURL, http.StatusTemporaryRedirect)
}

// RetryRender handles POST /v1/renders/{id}/retry
func (h *Handler) RetryRender(w http.ResponseWriter, r *http.Request) {
	render, ok := h.loadRender(w, r)
	if !ok {
		return
	}

	requeued, err := h.db.RequeueRender(r.Context(), render.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to requeue render")
		return
	}
	if !requeued {
		respondError(w, http.StatusConflict, "Only failed renders can be retried")
		return
	}

	if err := h.queue.EnqueueRender(r.Context(), render.ID); err != nil {
		log.Printf("[API] Failed to enqueue retry for render %s: %v", render.ID, err)
		respondError(w, http.StatusInternalServerError, "Failed to enqueue render")
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateRenderResponse{
		RenderID: render.ID,
		Status:   models.RenderStatusQueued,
	})
}

func (h *Handler) loadRender(w http.ResponseWriter, r *http.Request) (*models.Render, bool) {
	renderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid render ID")
		return nil, false
	}

	render, err := h.db.GetRender(r.Context(), renderID)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Render not found")
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get render")
		return nil, false
	}
	return render, true
}

// videoURL signs the final video; empty when the render has none yet.
func (h *Handler) videoURL(ctx context.Context, render *models.Render) (string, error) {
	if render.VideoAssetID == nil {
		return "", nil
	}
	asset, err := h.db.GetAsset(ctx, *render.VideoAssetID)
	if err != nil {
		return "", err
	}
	return h.storage.GetSignedURL(ctx, asset.StoragePath, signedURLExpiry)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
