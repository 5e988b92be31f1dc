package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/timeline"
)

// ---------------------------------------------------------------------------
// Pexels video locator
// Turns timed search queries into timed footage URLs. An interval whose
// terms find nothing keeps an empty URL; the renderer shows background there.
// ---------------------------------------------------------------------------

const (
	pexelsBaseURL = "https://api.pexels.com"
	pexelsPerPage = 15

	// ProviderPexels is the only footage provider.
	ProviderPexels = "pexel"

	targetVideoWidth  = 1920
	targetVideoHeight = 1080
)

// ErrUnsupportedProvider means LocateVideos was asked for a footage source it
// does not know.
var ErrUnsupportedProvider = errors.New("unsupported video provider")

type PexelsService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewPexelsService(apiKey, baseURL string) *PexelsService {
	if baseURL == "" {
		baseURL = pexelsBaseURL
	}
	return &PexelsService{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type pexelsSearchResponse struct {
	Videos []pexelsVideo `json:"videos"`
}

type pexelsVideo struct {
	ID         int               `json:"id"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	Duration   int               `json:"duration"`
	VideoFiles []pexelsVideoFile `json:"video_files"`
}

type pexelsVideoFile struct {
	ID       int    `json:"id"`
	Quality  string `json:"quality"`
	FileType string `json:"file_type"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Link     string `json:"link"`
}

// LocateVideos returns one visual segment per query, in query order. Search
// failures for a single interval are logged and leave that interval empty;
// the same clip is never used twice.
func (s *PexelsService) LocateVideos(ctx context.Context, queries []TimedQuery, provider string) ([]timeline.VisualSegment, error) {
	if provider != ProviderPexels {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}

	used := make(map[int]bool)
	segments := make([]timeline.VisualSegment, 0, len(queries))
	found := 0

	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		seg := timeline.VisualSegment{Interval: q.Interval}
		for _, term := range q.Terms {
			link, videoID, err := s.findVideo(ctx, term, q.Duration(), used)
			if err != nil {
				log.Printf("[Pexels] Warning: search %q failed: %v", term, err)
				continue
			}
			if link != "" {
				seg.URL = link
				used[videoID] = true
				break
			}
		}
		if seg.URL != "" {
			found++
		} else {
			log.Printf("[Pexels] No footage for %s (terms: %v)", q.Interval, q.Terms)
		}
		segments = append(segments, seg)
	}

	log.Printf("[Pexels] Located footage for %d/%d intervals", found, len(queries))
	return segments, nil
}

// findVideo searches one term and picks the best unused landscape file that
// runs at least minDuration seconds.
func (s *PexelsService) findVideo(ctx context.Context, term string, minDuration float64, used map[int]bool) (string, int, error) {
	result, err := s.search(ctx, term)
	if err != nil {
		return "", 0, err
	}

	for _, v := range result.Videos {
		if used[v.ID] || float64(v.Duration) < math.Floor(minDuration) {
			continue
		}
		if link := pickVideoFile(v.VideoFiles); link != "" {
			return link, v.ID, nil
		}
	}
	return "", 0, nil
}

func (s *PexelsService) search(ctx context.Context, term string) (*pexelsSearchResponse, error) {
	params := url.Values{}
	params.Set("query", term)
	params.Set("orientation", "landscape")
	params.Set("per_page", fmt.Sprintf("%d", pexelsPerPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/videos/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pexels request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("pexels returned status %d: %s", resp.StatusCode, string(body))
	}

	var result pexelsSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode pexels response: %w", err)
	}
	return &result, nil
}

// pickVideoFile prefers an exact 1920x1080 rendition, then the widest
// landscape mp4 no wider than 1920.
func pickVideoFile(files []pexelsVideoFile) string {
	best := ""
	bestWidth := 0
	for _, f := range files {
		if f.Link == "" || f.Width < f.Height {
			continue
		}
		if f.FileType != "" && f.FileType != "video/mp4" {
			continue
		}
		if f.Width == targetVideoWidth && f.Height == targetVideoHeight {
			return f.Link
		}
		if f.Width <= targetVideoWidth && f.Width > bestWidth {
			best = f.Link
			bestWidth = f.Width
		}
	}
	return best
}
