package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/queue"
	"github.com/bobarin/storyreel/internal/render"
	"github.com/bobarin/storyreel/internal/story"
	"github.com/bobarin/storyreel/internal/timeline"
	"github.com/google/uuid"
)

type memStore struct {
	mu      sync.Mutex
	renders map[uuid.UUID]*models.Render
	assets  []*models.Asset
	stages  []string
	done    chan uuid.UUID
}

func newMemStore(renders ...*models.Render) *memStore {
	s := &memStore{renders: map[uuid.UUID]*models.Render{}, done: make(chan uuid.UUID, 8)}
	for _, r := range renders {
		s.renders[r.ID] = r
	}
	return s
}

func (s *memStore) GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.renders[id]
	if !ok {
		return nil, fmt.Errorf("render %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) MarkRenderRunning(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders[id].Status = models.RenderStatusRunning
	return nil
}

func (s *memStore) UpdateRenderStage(ctx context.Context, id uuid.UUID, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, stage)
	s.renders[id].Stage = &stage
	return nil
}

func (s *memStore) UpdateRenderError(ctx context.Context, id uuid.UUID, stage, msg string) error {
	s.mu.Lock()
	r := s.renders[id]
	r.Status = models.RenderStatusFailed
	r.Stage = &stage
	r.ErrorMessage = &msg
	s.mu.Unlock()
	s.done <- id
	return nil
}

func (s *memStore) CompleteRender(ctx context.Context, render *models.Render) error {
	s.mu.Lock()
	cp := *render
	cp.Status = models.RenderStatusCompleted
	s.renders[render.ID] = &cp
	s.mu.Unlock()
	s.done <- render.ID
	return nil
}

func (s *memStore) CreateAsset(ctx context.Context, asset *models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = append(s.assets, asset)
	return nil
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
}

func (m *memObjects) Bucket() string { return "test-bucket" }

func (m *memObjects) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && strings.HasSuffix(key, m.failOn) {
		return errors.New("bucket unavailable")
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = data
	return nil
}

func (m *memObjects) UploadFile(ctx context.Context, key, localPath, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return m.Upload(ctx, key, data, contentType)
}

func (m *memObjects) Download(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("missing")
	}
	return data, nil
}

func (m *memObjects) GetSignedURL(ctx context.Context, key string, expiresIn int) (string, error) {
	return "https://signed.example/" + key, nil
}

type fakeProducer struct {
	err      error
	report   render.Report
	gotDir   string
	gotBrief story.Brief
}

func (f *fakeProducer) Produce(ctx context.Context, brief story.Brief, workDir string, progress story.ProgressFunc) (*story.Production, error) {
	f.gotDir = workDir
	f.gotBrief = brief
	progress(story.StageScripting, "scripting")
	if f.err != nil {
		return nil, f.err
	}
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, err
	}
	narration := filepath.Join(workDir, "narration.mp3")
	video := filepath.Join(workDir, render.OutputFileName)
	os.WriteFile(narration, []byte("mp3"), 0644)
	os.WriteFile(video, []byte("mp4-bytes"), 0644)
	progress(story.StageDone, "done")

	caption := timeline.CaptionSegment{Interval: timeline.Interval{Start: 0, End: 2}, Text: "Once upon"}
	visual := timeline.VisualSegment{Interval: timeline.Interval{Start: 0, End: 2}, URL: "https://videos.example/a.mp4"}
	report := f.report
	report.NormalizedLayout = []timeline.VisualSegment{visual}
	return &story.Production{
		Topic:         brief.Topic,
		Script:        "Once upon a time.",
		NarrationPath: narration,
		Captions:      []timeline.CaptionSegment{caption},
		Visuals:       []timeline.VisualSegment{visual},
		Render: &render.Result{
			Path:          video,
			Duration:      2,
			VisualLayers:  1,
			CaptionLayers: 1,
			Report:        report,
		},
	}, nil
}

func newQueuedRender() *models.Render {
	return &models.Render{
		ID:          uuid.New(),
		Topic:       "the ant and the grasshopper",
		VideoServer: "pexel",
		Status:      models.RenderStatusQueued,
	}
}

func TestHandleRenderPublishesAssets(t *testing.T) {
	rec := newQueuedRender()
	store := newMemStore(rec)
	objects := &memObjects{}
	producer := &fakeProducer{report: render.Report{Resolved: 1}}
	workDir := t.TempDir()
	w := New(store, nil, objects, producer, workDir)

	if err := w.handleRender(context.Background(), &queue.Job{ID: uuid.New(), RenderID: rec.ID}); err != nil {
		t.Fatalf("handleRender failed: %v", err)
	}

	got, _ := store.GetRender(context.Background(), rec.ID)
	if got.Status != models.RenderStatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.Script == nil || *got.Script != "Once upon a time." {
		t.Errorf("unexpected script %v", got.Script)
	}
	if got.DurationSec == nil || *got.DurationSec != 2 {
		t.Errorf("unexpected duration %v", got.DurationSec)
	}
	if got.Report["resolved"] != 1 || got.Report["degraded"] != false {
		t.Errorf("unexpected report %v", got.Report)
	}
	if producer.gotBrief.Topic != rec.Topic || producer.gotBrief.VideoServer != "pexel" {
		t.Errorf("unexpected brief %+v", producer.gotBrief)
	}
	if producer.gotDir != filepath.Join(workDir, rec.ID.String()) {
		t.Errorf("unexpected job dir %q", producer.gotDir)
	}
	if _, err := os.Stat(producer.gotDir); !os.IsNotExist(err) {
		t.Error("expected job dir to be removed")
	}

	if len(store.assets) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(store.assets))
	}
	prefix := "renders/" + rec.ID.String() + "/"
	video := objects.objects[prefix+render.OutputFileName]
	if string(video) != "mp4-bytes" {
		t.Errorf("unexpected uploaded video %q", video)
	}
	if got.VideoAssetID == nil {
		t.Fatal("expected video asset id")
	}
	for _, a := range store.assets {
		if a.StorageBucket != "test-bucket" || !strings.HasPrefix(a.StoragePath, prefix) {
			t.Errorf("unexpected asset location %s/%s", a.StorageBucket, a.StoragePath)
		}
		if a.Type == models.AssetTypeFinalVideo && a.ID != *got.VideoAssetID {
			t.Error("video asset id mismatch")
		}
		if a.Type == models.AssetTypeNarration && *a.ContentType != "audio/mpeg" {
			t.Errorf("unexpected narration content type %q", *a.ContentType)
		}
	}

	var doc timelineDoc
	if err := json.Unmarshal(objects.objects[prefix+timelineFile], &doc); err != nil {
		t.Fatalf("timeline not uploaded as JSON: %v", err)
	}
	if doc.Topic != rec.Topic || len(doc.Captions) != 1 || len(doc.NormalizedLayout) != 1 {
		t.Errorf("unexpected timeline %+v", doc)
	}

	wantStages := []string{"scripting", "done", stageUploading}
	if strings.Join(store.stages, ",") != strings.Join(wantStages, ",") {
		t.Errorf("stages = %v, want %v", store.stages, wantStages)
	}
}

func TestHandleRenderRecordsFailedStage(t *testing.T) {
	rec := newQueuedRender()
	store := newMemStore(rec)
	producer := &fakeProducer{err: &story.StageError{Stage: story.StageLocating, Err: errors.New("no footage")}}
	w := New(store, nil, &memObjects{}, producer, t.TempDir())

	if err := w.handleRender(context.Background(), &queue.Job{ID: uuid.New(), RenderID: rec.ID}); err == nil {
		t.Fatal("expected error")
	}

	got, _ := store.GetRender(context.Background(), rec.ID)
	if got.Status != models.RenderStatusFailed {
		t.Errorf("expected failed, got %s", got.Status)
	}
	if got.Stage == nil || *got.Stage != string(story.StageLocating) {
		t.Errorf("expected locating stage, got %v", got.Stage)
	}
	if got.ErrorMessage == nil || !strings.Contains(*got.ErrorMessage, "no footage") {
		t.Errorf("unexpected error message %v", got.ErrorMessage)
	}
}

func TestHandleRenderVideoUploadFailure(t *testing.T) {
	rec := newQueuedRender()
	store := newMemStore(rec)
	objects := &memObjects{failOn: render.OutputFileName}
	w := New(store, nil, objects, &fakeProducer{}, t.TempDir())

	if err := w.handleRender(context.Background(), &queue.Job{ID: uuid.New(), RenderID: rec.ID}); err == nil {
		t.Fatal("expected error")
	}

	got, _ := store.GetRender(context.Background(), rec.ID)
	if got.Status != models.RenderStatusFailed || got.Stage == nil || *got.Stage != stageUploading {
		t.Errorf("expected failure at upload, got %s %v", got.Status, got.Stage)
	}
	if len(store.assets) != 0 {
		t.Errorf("expected no assets recorded, got %d", len(store.assets))
	}
}

func TestHandleRenderOptionalUploadFailure(t *testing.T) {
	rec := newQueuedRender()
	store := newMemStore(rec)
	objects := &memObjects{failOn: timelineFile}
	w := New(store, nil, objects, &fakeProducer{}, t.TempDir())

	if err := w.handleRender(context.Background(), &queue.Job{ID: uuid.New(), RenderID: rec.ID}); err != nil {
		t.Fatalf("handleRender failed: %v", err)
	}
	if len(store.assets) != 2 {
		t.Errorf("expected video and narration assets, got %d", len(store.assets))
	}
}

func TestHandleRenderSkipsCompleted(t *testing.T) {
	rec := newQueuedRender()
	rec.Status = models.RenderStatusCompleted
	store := newMemStore(rec)
	producer := &fakeProducer{}
	w := New(store, nil, &memObjects{}, producer, t.TempDir())

	if err := w.handleRender(context.Background(), &queue.Job{ID: uuid.New(), RenderID: rec.ID}); err != nil {
		t.Fatalf("handleRender failed: %v", err)
	}
	if producer.gotDir != "" {
		t.Error("producer should not run for a completed render")
	}
}

type sliceSource struct {
	mu   sync.Mutex
	jobs []*queue.Job
}

func (s *sliceSource) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error) {
	if queueName != queue.QueueRender {
		return nil, fmt.Errorf("unexpected queue %s", queueName)
	}
	s.mu.Lock()
	if len(s.jobs) > 0 {
		job := s.jobs[0]
		s.jobs = s.jobs[1:]
		s.mu.Unlock()
		return job, nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

func TestStartProcessesQueue(t *testing.T) {
	rec := newQueuedRender()
	store := newMemStore(rec)
	source := &sliceSource{jobs: []*queue.Job{{ID: uuid.New(), Type: queue.JobTypeRender, RenderID: rec.ID}}}
	w := New(store, source, &memObjects{}, &fakeProducer{}, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Start(ctx, 2)
		close(stopped)
	}()

	select {
	case id := <-store.done:
		if id != rec.ID {
			t.Errorf("unexpected render %s", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("render was not processed")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	got, _ := store.GetRender(context.Background(), rec.ID)
	if got.Status != models.RenderStatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestReportJSON(t *testing.T) {
	seg := timeline.VisualSegment{Interval: timeline.Interval{Start: 1, End: 3}, URL: "https://videos.example/bad.mp4"}
	r := render.Report{
		Resolved: 2,
		Failures: []*render.SegmentError{
			{Kind: render.ErrAssetDecode, Segment: seg, Err: errors.New("moov atom not found")},
		},
		CaptionsOmitted: true,
		CaptionsErr:     render.ErrCaptionBackendUnavailable,
	}

	j := reportJSON(r)
	if j["degraded"] != true || j["decode_failures"] != 1 || j["download_failures"] != 0 {
		t.Errorf("unexpected counters %v", j)
	}
	failures := j["failures"].([]map[string]interface{})
	if len(failures) != 1 || failures[0]["kind"] != "decode" || failures[0]["url"] != seg.URL {
		t.Errorf("unexpected failures %v", failures)
	}
	if _, ok := j["captions_error"]; !ok {
		t.Error("expected captions_error")
	}
}

func TestAudioContentType(t *testing.T) {
	tests := map[string]string{
		"narration.mp3":  "audio/mpeg",
		"narration.WAV":  "audio/wav",
		"narration.opus": "audio/ogg",
		"narration":      "audio/mpeg",
	}
	for path, want := range tests {
		if got := audioContentType(path); got != want {
			t.Errorf("audioContentType(%q) = %q, want %q", path, got, want)
		}
	}
}
