package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	// Per attempt; rendered MP4s run to tens of MB.
	uploadTimeout   = 180 * time.Second
	downloadTimeout = 120 * time.Second

	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// errPermanent marks a response that retrying cannot fix.
var errPermanent = errors.New("permanent failure")

// Supabase stores objects in a Supabase Storage bucket over its REST API.
type Supabase struct {
	url        string
	serviceKey string
	bucket     string
	client     *http.Client

	// retryBase scales backoff; tests shrink it.
	retryBase time.Duration
}

func NewSupabase(url, serviceKey, bucket string) *Supabase {
	return &Supabase{
		url:        strings.TrimRight(url, "/"),
		serviceKey: serviceKey,
		bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retryBase: baseRetryDelay,
	}
}

func (s *Supabase) Bucket() string { return s.bucket }

func (s *Supabase) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.bucket, key)
}

// Upload PUTs data with x-upsert so re-rendering the same id overwrites.
func (s *Supabase) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	err := s.withRetry(ctx, "Upload", key, uploadTimeout, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(key), bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w: %w", errPermanent, err)
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")
		req.ContentLength = int64(len(data))

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to upload: %w", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}
		return statusError("upload", resp.StatusCode, body)
	})
	return err
}

// UploadFile uploads a file from a local path
func (s *Supabase) UploadFile(ctx context.Context, key, localPath, contentType string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", localPath, err)
	}
	return s.Upload(ctx, key, data, contentType)
}

func (s *Supabase) Download(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.withRetry(ctx, "Download", key, downloadTimeout, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w: %w", errPermanent, err)
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to download: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return statusError("download", resp.StatusCode, body)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read download body: %w", err)
		}
		return nil
	})
	return data, err
}

// GetPublicURL returns the public URL for a file
func (s *Supabase) GetPublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.bucket, key)
}

// GetSignedURL creates a signed URL for temporary access
func (s *Supabase) GetSignedURL(ctx context.Context, key string, expiresIn int) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.bucket, key)

	payload, _ := json.Marshal(map[string]int{"expiresIn": expiresIn})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get signed URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}

	// The API answers with a path relative to /storage/v1.
	signed := result.SignedURL
	if !strings.HasPrefix(signed, "/storage/v1") {
		signed = "/storage/v1" + signed
	}
	return s.url + signed, nil
}

// withRetry runs attempt with exponential backoff. Each attempt gets its own
// timeout so a slow first try does not starve the rest.
func (s *Supabase) withRetry(ctx context.Context, op, key string, timeout time.Duration, attempt func(context.Context) error) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			delay := retryDelay(s.retryBase, i)
			log.Printf("[Storage] %s retry %d/%d for %s (waiting %v)...", op, i, maxRetries, key, delay)

			select {
			case <-ctx.Done():
				return fmt.Errorf("%s cancelled: %w", strings.ToLower(op), ctx.Err())
			case <-time.After(delay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err := attempt(attemptCtx)
		cancel()

		if err == nil {
			if i > 0 {
				log.Printf("[Storage] %s succeeded on attempt %d for %s", op, i+1, key)
			}
			return nil
		}
		lastErr = err

		if errors.Is(err, errPermanent) || !isRetryableError(err) {
			return err
		}
		log.Printf("[Storage] %s attempt %d failed (retryable): %s", op, i+1, truncate(err.Error(), 200))
	}

	return fmt.Errorf("%s failed after %d attempts: %w", strings.ToLower(op), maxRetries+1, lastErr)
}

type httpStatusError struct {
	op     string
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.op, e.status, e.body)
}

func statusError(op string, status int, body []byte) error {
	err := &httpStatusError{op: op, status: status, body: truncate(string(body), 500)}
	if isRetryableStatus(status) {
		return err
	}
	return fmt.Errorf("%w: %w", errPermanent, err)
}

// retryDelay is base * 2^(attempt-1) plus 0-25% jitter, capped at maxRetryDelay.
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isRetryableError reports whether a failed attempt is worth repeating.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var se *httpStatusError
	if errors.As(err, &se) {
		return isRetryableStatus(se.status)
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

// truncate limits a string to maxLen characters for log output
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
