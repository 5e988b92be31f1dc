package storage

import (
	"context"
	"fmt"
	"path"

	"github.com/google/uuid"
)

// ObjectStore persists render artifacts and hands out links to them.
type ObjectStore interface {
	Bucket() string
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	UploadFile(ctx context.Context, key, localPath, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	GetSignedURL(ctx context.Context, key string, expiresIn int) (string, error)
}

const (
	BackendSupabase = "supabase"
	BackendS3       = "s3"
)

// Options selects and configures a backend.
type Options struct {
	Backend string

	SupabaseURL        string
	SupabaseServiceKey string

	Bucket   string
	Region   string
	Endpoint string // S3-compatible endpoint override (MinIO, R2)
}

// New builds the ObjectStore named by opts.Backend.
func New(ctx context.Context, opts Options) (ObjectStore, error) {
	switch opts.Backend {
	case "", BackendSupabase:
		if opts.SupabaseURL == "" || opts.SupabaseServiceKey == "" {
			return nil, fmt.Errorf("supabase storage requires SUPABASE_URL and SUPABASE_SERVICE_KEY")
		}
		return NewSupabase(opts.SupabaseURL, opts.SupabaseServiceKey, opts.Bucket), nil
	case BackendS3:
		return NewS3(ctx, opts.Bucket, opts.Region, opts.Endpoint)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

// RenderPath returns the object key for a render artifact.
func RenderPath(renderID uuid.UUID, filename string) string {
	return path.Join("renders", renderID.String(), filename)
}
