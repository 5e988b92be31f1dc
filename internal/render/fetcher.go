package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/timeline"
	"golang.org/x/sync/errgroup"
)

const (
	defaultFetchTimeout     = 20 * time.Second
	defaultFetchConcurrency = 4
	defaultFetchAttempts    = 2

	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second

	// Some stock footage CDNs refuse requests without a browser user agent.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// FetchedAsset is a downloaded media file bound to the segment it was fetched for.
// The file belongs to the Scratch that created it.
type FetchedAsset struct {
	Path    string
	Segment timeline.VisualSegment
	Bytes   int64
}

// FetchOutcome is the result for one resourced segment: exactly one of Asset
// and Err is set.
type FetchOutcome struct {
	Segment timeline.VisualSegment
	Asset   *FetchedAsset
	Err     *SegmentError
}

// Fetcher retrieves the media behind resourced segments. Implementations must
// return one outcome per resourced segment, in input order, and must register
// every file they create with the scratch.
type Fetcher interface {
	Fetch(ctx context.Context, scratch *Scratch, segs []timeline.VisualSegment) []FetchOutcome
}

// FetchOptions tunes HTTPFetcher. Zero values take defaults.
type FetchOptions struct {
	Timeout     time.Duration // per attempt
	Concurrency int
	Attempts    int
	Client      *http.Client
}

// HTTPFetcher downloads segment media over HTTP with a bounded worker pool.
type HTTPFetcher struct {
	client      *http.Client
	timeout     time.Duration
	concurrency int
	attempts    int
}

var _ Fetcher = (*HTTPFetcher)(nil)

func NewHTTPFetcher(opts FetchOptions) *HTTPFetcher {
	f := &HTTPFetcher{
		client:      opts.Client,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		attempts:    opts.Attempts,
	}
	if f.client == nil {
		f.client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if f.timeout <= 0 {
		f.timeout = defaultFetchTimeout
	}
	if f.concurrency <= 0 {
		f.concurrency = defaultFetchConcurrency
	}
	if f.attempts <= 0 {
		f.attempts = defaultFetchAttempts
	}
	return f
}

// Fetch downloads every resourced segment. Empty segments are skipped. A
// failure is recorded on its own outcome and never affects siblings.
func (f *HTTPFetcher) Fetch(ctx context.Context, scratch *Scratch, segs []timeline.VisualSegment) []FetchOutcome {
	var resourced []timeline.VisualSegment
	for _, s := range segs {
		if s.HasResource() {
			resourced = append(resourced, s)
		}
	}

	outcomes := make([]FetchOutcome, len(resourced))
	if len(resourced) == 0 {
		return outcomes
	}

	log.Printf("[Fetch] Downloading %d segments (concurrency=%d, timeout=%v)", len(resourced), f.concurrency, f.timeout)

	// Each goroutine owns one slot of outcomes, so ordering never depends on
	// completion order.
	g := new(errgroup.Group)
	g.SetLimit(f.concurrency)
	for i, seg := range resourced {
		g.Go(func() error {
			asset, err := f.fetchOne(ctx, scratch, seg)
			if err != nil {
				log.Printf("[Fetch] Skipping segment %s: %v", seg.Interval, err)
				outcomes[i] = FetchOutcome{Segment: seg, Err: downloadError(seg, err)}
				return nil
			}
			log.Printf("[Fetch] Segment %s downloaded to %s (%.2f MB)", seg.Interval, asset.Path, float64(asset.Bytes)/(1024*1024))
			outcomes[i] = FetchOutcome{Segment: seg, Asset: asset}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (f *HTTPFetcher) fetchOne(ctx context.Context, scratch *Scratch, seg timeline.VisualSegment) (*FetchedAsset, error) {
	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		asset, retryable, err := f.attempt(ctx, scratch, seg)
		if err == nil {
			return asset, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		log.Printf("[Fetch] Attempt %d/%d for %s failed (retryable): %v", attempt+1, f.attempts, seg.URL, err)
	}
	return nil, fmt.Errorf("download failed after %d attempts: %w", f.attempts, lastErr)
}

// attempt performs a single bounded GET. The temp file is created only after
// a success status, and is registered with the scratch on creation.
func (f *HTTPFetcher) attempt(ctx context.Context, scratch *Scratch, seg timeline.VisualSegment) (*FetchedAsset, bool, error) {
	dlCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, seg.URL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, isRetryableError(err), fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, isRetryableStatus(resp.StatusCode), fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	out, err := scratch.Create("segment-*" + mediaExt(seg.URL))
	if err != nil {
		return nil, false, err
	}
	n, err := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if err != nil {
		return nil, isRetryableError(err), fmt.Errorf("failed to read body: %w", err)
	}
	if closeErr != nil {
		return nil, false, fmt.Errorf("failed to write %s: %w", out.Name(), closeErr)
	}
	if n == 0 {
		return nil, false, errors.New("empty response body")
	}

	return &FetchedAsset{Path: out.Name(), Segment: seg, Bytes: n}, false, nil
}

// mediaExt keeps the URL's extension so ffmpeg can pick the right demuxer,
// defaulting to .mp4.
func mediaExt(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	switch ext {
	case ".mp4", ".mov", ".webm", ".mkv", ".m4v":
		return ext
	default:
		return ".mp4"
	}
}

// retryDelay is exponential backoff with up to 25% jitter.
func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF")
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}
