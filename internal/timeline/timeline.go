package timeline

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInterval marks a malformed segment or an unordered segment batch.
// Batches carrying it are rejected whole.
var ErrInvalidInterval = errors.New("invalid interval")

// Interval is a half-open span [Start, End) in seconds.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewInterval validates and returns an interval.
func NewInterval(start, end float64) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Validate reports whether the interval is well formed.
func (iv Interval) Validate() error {
	if math.IsNaN(iv.Start) || math.IsNaN(iv.End) || math.IsInf(iv.Start, 0) || math.IsInf(iv.End, 0) {
		return fmt.Errorf("%w: non-finite bound [%v, %v)", ErrInvalidInterval, iv.Start, iv.End)
	}
	if iv.Start < 0 {
		return fmt.Errorf("%w: negative start %.3f", ErrInvalidInterval, iv.Start)
	}
	if iv.End <= iv.Start {
		return fmt.Errorf("%w: end %.3f is not after start %.3f", ErrInvalidInterval, iv.End, iv.Start)
	}
	return nil
}

// Duration returns End - Start.
func (iv Interval) Duration() float64 {
	return iv.End - iv.Start
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%.2fs, %.2fs)", iv.Start, iv.End)
}

// VisualSegment is a span of the background track. An empty URL means no
// footage was found for the span.
type VisualSegment struct {
	Interval
	URL string `json:"url,omitempty"`
}

// HasResource reports whether the segment points at remote media.
func (s VisualSegment) HasResource() bool {
	return s.URL != ""
}

// CaptionSegment is a line of text shown for the duration of its interval.
type CaptionSegment struct {
	Interval
	Text string `json:"text"`
}

// ValidateVisuals checks that every segment is well formed, ordered by start
// and free of overlaps. Gaps between segments are allowed.
func ValidateVisuals(segs []VisualSegment) error {
	for i, s := range segs {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("visual segment %d: %w", i, err)
		}
		if i == 0 {
			continue
		}
		prev := segs[i-1]
		if s.Start < prev.Start {
			return fmt.Errorf("%w: visual segment %d starts at %.3f before segment %d at %.3f", ErrInvalidInterval, i, s.Start, i-1, prev.Start)
		}
		if s.Start < prev.End {
			return fmt.Errorf("%w: visual segment %d %s overlaps segment %d %s", ErrInvalidInterval, i, s.Interval, i-1, prev.Interval)
		}
	}
	return nil
}

// ValidateCaptions checks that every caption is well formed and ordered by
// start. Captions may overlap.
func ValidateCaptions(caps []CaptionSegment) error {
	for i, c := range caps {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("caption %d: %w", i, err)
		}
		if i > 0 && c.Start < caps[i-1].Start {
			return fmt.Errorf("%w: caption %d starts at %.3f before caption %d at %.3f", ErrInvalidInterval, i, c.Start, i-1, caps[i-1].Start)
		}
	}
	return nil
}

// TotalDuration sums the lengths of all segments.
func TotalDuration(segs []VisualSegment) float64 {
	var total float64
	for _, s := range segs {
		total += s.Duration()
	}
	return total
}
