package render

import (
	"errors"
	"fmt"

	"github.com/bobarin/storyreel/internal/timeline"
)

var (
	// ErrMissingNarration means the narration file is absent or not decodable audio.
	ErrMissingNarration = errors.New("missing narration input")
	// ErrEncoding means ffmpeg could not write the output container.
	ErrEncoding = errors.New("encoding failed")

	// ErrAssetDownload means a segment's media could not be retrieved.
	ErrAssetDownload = errors.New("asset download failed")
	// ErrAssetDecode means a segment's media was retrieved but is not readable video.
	ErrAssetDecode = errors.New("asset decode failed")
	// ErrCaptionBackendUnavailable means the runtime cannot render text overlays.
	ErrCaptionBackendUnavailable = errors.New("caption backend unavailable")
)

// SegmentError is the typed failure for a single visual segment. It never
// aborts a render; the segment is rendered as empty instead.
type SegmentError struct {
	Kind    error // ErrAssetDownload or ErrAssetDecode
	Segment timeline.VisualSegment
	Err     error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("%v for segment %s (%s): %v", e.Kind, e.Segment.Interval, e.Segment.URL, e.Err)
}

func (e *SegmentError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func downloadError(seg timeline.VisualSegment, err error) *SegmentError {
	return &SegmentError{Kind: ErrAssetDownload, Segment: seg, Err: err}
}

func decodeError(seg timeline.VisualSegment, err error) *SegmentError {
	return &SegmentError{Kind: ErrAssetDecode, Segment: seg, Err: err}
}
