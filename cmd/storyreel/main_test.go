package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bobarin/storyreel/internal/config"
	"github.com/bobarin/storyreel/internal/render"
)

func runCLI(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommandWithLoader(func() (*config.Config, error) { return cfg, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func renderConfig(t *testing.T) *config.Config {
	return &config.Config{
		OutputDir:        t.TempDir(),
		RenderWorkDir:    t.TempDir(),
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		FetchTimeout:     time.Second,
		FetchConcurrency: 1,
		FetchAttempts:    1,
	}
}

func TestRootShowsHelp(t *testing.T) {
	out, err := runCLI(t, renderConfig(t))
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if !strings.Contains(out, "render") || !strings.Contains(out, "make") {
		t.Errorf("help should list subcommands, got %q", out)
	}
}

func TestRenderRequiresAudio(t *testing.T) {
	_, err := runCLI(t, renderConfig(t), "render")
	if err == nil || !strings.Contains(err.Error(), "audio") {
		t.Fatalf("expected missing --audio error, got %v", err)
	}
}

func TestRenderMissingNarration(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "narration.mp3")
	_, err := runCLI(t, renderConfig(t), "render", "--audio", missing)
	if !errors.Is(err, render.ErrMissingNarration) {
		t.Fatalf("expected ErrMissingNarration, got %v", err)
	}
}

func TestRenderRejectsBadTimeline(t *testing.T) {
	dir := t.TempDir()
	visuals := filepath.Join(dir, "visuals.json")
	if err := os.WriteFile(visuals, []byte(`{"not":"a list"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := runCLI(t, renderConfig(t), "render", "--audio", filepath.Join(dir, "a.mp3"), "--visuals", visuals)
	if err == nil || !strings.Contains(err.Error(), "failed to parse visuals") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestMakeValidatesConfig(t *testing.T) {
	_, err := runCLI(t, renderConfig(t), "make", "--topic", "the fox and the grapes")
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("expected config validation error, got %v", err)
	}
}
