package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/queue"
	"github.com/bobarin/storyreel/internal/render"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/bobarin/storyreel/internal/story"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Store is the slice of the database the worker writes to.
type Store interface {
	GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error)
	MarkRenderRunning(ctx context.Context, id uuid.UUID) error
	UpdateRenderStage(ctx context.Context, id uuid.UUID, stage string) error
	UpdateRenderError(ctx context.Context, id uuid.UUID, stage, errorMessage string) error
	CompleteRender(ctx context.Context, render *models.Render) error
	CreateAsset(ctx context.Context, asset *models.Asset) error
}

type JobSource interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
}

type Producer interface {
	Produce(ctx context.Context, brief story.Brief, workDir string, progress story.ProgressFunc) (*story.Production, error)
}

const (
	dequeueTimeout  = 5 * time.Second
	dequeueBackoff  = time.Second
	maxUploads      = 4
	timelineFile    = "timeline.json"
	stageUploading  = "uploading"
	stageDispatched = "dispatched"
)

type Worker struct {
	db        Store
	queue     JobSource
	storage   storage.ObjectStore
	producer  Producer
	workDir   string        // per-render scratch root; each job gets workDir/<render id>
	uploadSem chan struct{} // Limits concurrent uploads across all jobs
}

func New(database Store, q JobSource, stor storage.ObjectStore, producer Producer, workDir string) *Worker {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "storyreel")
	}
	return &Worker{
		db:        database,
		queue:     q,
		storage:   stor,
		producer:  producer,
		workDir:   workDir,
		uploadSem: make(chan struct{}, maxUploads),
	}
}

// uploadWithLimit wraps an upload call with a semaphore so parallel jobs do
// not saturate the object store.
func (w *Worker) uploadWithLimit(ctx context.Context, label string, fn func() error) error {
	select {
	case w.uploadSem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled while waiting for slot: %w", ctx.Err())
	}
	defer func() { <-w.uploadSem }()

	log.Printf("[Upload] %s uploading...", label)
	return fn()
}

// Start runs concurrency consumers of the render queue until ctx is done,
// then waits for in-flight jobs to return.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	log.Printf("Worker started with concurrency: %d", concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processQueue(ctx)
		}()
	}

	<-ctx.Done()
	log.Println("Worker shutting down...")
	wg.Wait()
}

func (w *Worker) processQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, queue.QueueRender, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Error dequeuing from %s: %v", queue.QueueRender, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(dequeueBackoff):
			}
			continue
		}
		if job == nil {
			continue
		}

		log.Printf("Processing job %s (type: %s, render: %s)", job.ID, job.Type, job.RenderID)
		if err := w.handleRender(ctx, job); err != nil {
			log.Printf("Job %s failed: %v", job.ID, err)
		} else {
			log.Printf("Job %s completed successfully", job.ID)
		}
	}
}

// handleRender runs one topic through the whole chain and publishes the result.
func (w *Worker) handleRender(ctx context.Context, job *queue.Job) error {
	rec, err := w.db.GetRender(ctx, job.RenderID)
	if err != nil {
		return fmt.Errorf("failed to get render: %w", err)
	}
	if rec.Status == models.RenderStatusCompleted {
		log.Printf("Render %s already completed, skipping redelivered job", rec.ID)
		return nil
	}

	if err := w.db.MarkRenderRunning(ctx, rec.ID); err != nil {
		return fmt.Errorf("failed to mark render running: %w", err)
	}

	jobDir := filepath.Join(w.workDir, rec.ID.String())
	defer func() {
		if err := os.RemoveAll(jobDir); err != nil {
			log.Printf("Warning: failed to clean up %s: %v", jobDir, err)
		}
	}()

	currentStage := stageDispatched
	progress := func(stage story.Stage, message string) {
		currentStage = string(stage)
		log.Printf("[Render %s] %s", rec.ID.String()[:8], message)
		if err := w.db.UpdateRenderStage(ctx, rec.ID, currentStage); err != nil {
			log.Printf("Warning: failed to record stage %s: %v", stage, err)
		}
	}

	prod, err := w.producer.Produce(ctx, story.Brief{Topic: rec.Topic, VideoServer: rec.VideoServer}, jobDir, progress)
	if err != nil {
		stage := currentStage
		var stageErr *story.StageError
		if errors.As(err, &stageErr) {
			stage = string(stageErr.Stage)
		}
		w.fail(rec.ID, stage, err)
		return err
	}

	if err := w.db.UpdateRenderStage(ctx, rec.ID, stageUploading); err != nil {
		log.Printf("Warning: failed to record stage %s: %v", stageUploading, err)
	}

	videoAsset, err := w.publish(ctx, rec.ID, prod)
	if err != nil {
		w.fail(rec.ID, stageUploading, err)
		return err
	}

	result := prod.Render
	done := string(story.StageDone)
	rec.Stage = &done
	rec.Script = &prod.Script
	rec.DurationSec = &result.Duration
	rec.VisualLayers = &result.VisualLayers
	rec.CaptionLayers = &result.CaptionLayers
	rec.Report = reportJSON(result.Report)
	rec.VideoAssetID = &videoAsset.ID

	if err := w.db.CompleteRender(ctx, rec); err != nil {
		return fmt.Errorf("failed to complete render: %w", err)
	}

	if result.Report.Degraded() {
		log.Printf("[Render %s] Completed degraded: %d download failures, %d decode failures, captions omitted=%v",
			rec.ID.String()[:8], result.Report.DownloadFailures(), result.Report.DecodeFailures(), result.Report.CaptionsOmitted)
	}
	return nil
}

// fail records err against the render. It uses a fresh context so a
// cancelled job still leaves a terminal status behind.
func (w *Worker) fail(id uuid.UUID, stage string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if dbErr := w.db.UpdateRenderError(ctx, id, stage, err.Error()); dbErr != nil {
		log.Printf("Failed to record error for render %s: %v", id, dbErr)
	}
}

// publish uploads the video and its side artifacts and records them as
// assets. Only the video is required; narration and timeline uploads
// degrade to a warning.
func (w *Worker) publish(ctx context.Context, renderID uuid.UUID, prod *story.Production) (*models.Asset, error) {
	timelinePath := filepath.Join(filepath.Dir(prod.Render.Path), timelineFile)
	if err := writeTimeline(timelinePath, prod); err != nil {
		log.Printf("Warning: failed to write timeline: %v", err)
		timelinePath = ""
	}

	videoAsset := newAsset(renderID, models.AssetTypeFinalVideo, w.storage.Bucket(), render.OutputFileName, "video/mp4")

	optional := []struct {
		assetType   models.AssetType
		path        string
		contentType string
	}{
		{models.AssetTypeNarration, prod.NarrationPath, audioContentType(prod.NarrationPath)},
		{models.AssetTypeTimeline, timelinePath, "application/json"},
	}

	var (
		mu     sync.Mutex
		assets []*models.Asset
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		size, err := w.uploadFile(gctx, videoAsset, prod.Render.Path)
		if err != nil {
			return fmt.Errorf("failed to upload final video: %w", err)
		}
		videoAsset.ByteSize = &size
		mu.Lock()
		assets = append(assets, videoAsset)
		mu.Unlock()
		return nil
	})
	for _, o := range optional {
		if o.path == "" {
			continue
		}
		asset := newAsset(renderID, o.assetType, w.storage.Bucket(), filepath.Base(o.path), o.contentType)
		path := o.path
		g.Go(func() error {
			size, err := w.uploadFile(gctx, asset, path)
			if err != nil {
				log.Printf("Warning: failed to upload %s: %v", asset.Type, err)
				return nil
			}
			asset.ByteSize = &size
			mu.Lock()
			assets = append(assets, asset)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, asset := range assets {
		if err := w.db.CreateAsset(ctx, asset); err != nil {
			return nil, fmt.Errorf("failed to save %s asset: %w", asset.Type, err)
		}
	}
	return videoAsset, nil
}

func (w *Worker) uploadFile(ctx context.Context, asset *models.Asset, localPath string) (int64, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return 0, err
	}
	label := fmt.Sprintf("render_%s_%s", asset.RenderID.String()[:8], asset.Type)
	err = w.uploadWithLimit(ctx, label, func() error {
		return w.storage.UploadFile(ctx, asset.StoragePath, localPath, *asset.ContentType)
	})
	return info.Size(), err
}

func newAsset(renderID uuid.UUID, assetType models.AssetType, bucket, filename, contentType string) *models.Asset {
	return &models.Asset{
		ID:            uuid.New(),
		RenderID:      renderID,
		Type:          assetType,
		StorageBucket: bucket,
		StoragePath:   storage.RenderPath(renderID, filename),
		ContentType:   strPtr(contentType),
	}
}

type timelineDoc struct {
	Topic            string            `json:"topic"`
	Script           string            `json:"script"`
	Duration         float64           `json:"duration_sec"`
	Captions         []timelineCaption `json:"captions"`
	Visuals          []timelineVisual  `json:"visuals"`
	NormalizedLayout []timelineVisual  `json:"normalized_layout"`
}

type timelineCaption struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type timelineVisual struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	URL   string  `json:"url,omitempty"`
}

func writeTimeline(path string, prod *story.Production) error {
	doc := timelineDoc{
		Topic:    prod.Topic,
		Script:   prod.Script,
		Duration: prod.Render.Duration,
		Captions: make([]timelineCaption, 0, len(prod.Captions)),
		Visuals:  make([]timelineVisual, 0, len(prod.Visuals)),
	}
	for _, c := range prod.Captions {
		doc.Captions = append(doc.Captions, timelineCaption{Start: c.Start, End: c.End, Text: c.Text})
	}
	for _, v := range prod.Visuals {
		doc.Visuals = append(doc.Visuals, timelineVisual{Start: v.Start, End: v.End, URL: v.URL})
	}
	for _, v := range prod.Render.Report.NormalizedLayout {
		doc.NormalizedLayout = append(doc.NormalizedLayout, timelineVisual{Start: v.Start, End: v.End, URL: v.URL})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// reportJSON flattens a render report for the renders.report column.
func reportJSON(r render.Report) models.JSONB {
	failures := make([]map[string]interface{}, 0, len(r.Failures))
	for _, f := range r.Failures {
		kind := "download"
		if errors.Is(f, render.ErrAssetDecode) {
			kind = "decode"
		}
		failures = append(failures, map[string]interface{}{
			"kind":  kind,
			"start": f.Segment.Start,
			"end":   f.Segment.End,
			"url":   f.Segment.URL,
			"error": f.Err.Error(),
		})
	}

	report := models.JSONB{
		"resolved":          r.Resolved,
		"degraded":          r.Degraded(),
		"download_failures": r.DownloadFailures(),
		"decode_failures":   r.DecodeFailures(),
		"captions_omitted":  r.CaptionsOmitted,
		"used_fallback":     r.UsedFallback,
		"failures":          failures,
	}
	if r.CaptionsErr != nil {
		report["captions_error"] = r.CaptionsErr.Error()
	}
	return report
}

func audioContentType(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "aac":
		return "audio/aac"
	default:
		return "audio/mpeg"
	}
}

func strPtr(s string) *string {
	return &s
}
