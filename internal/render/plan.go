package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/bobarin/storyreel/internal/timeline"
)

// Canonical output format. Every clip is scaled into this frame whatever its
// native resolution.
const (
	CanonicalWidth  = 1920
	CanonicalHeight = 1080
	FrameRate       = 25

	defaultBackground = "black"
)

// VisualClip is one positioned layer of the background track. Either Source
// (a media file) or Color (a solid fill) is set.
type VisualClip struct {
	Source   string
	Color    string
	Start    float64
	Duration float64
	Segment  timeline.VisualSegment
}

// IsFallback reports whether the clip is a solid-colour fill.
func (c VisualClip) IsFallback() bool {
	return c.Source == ""
}

// End returns the timeline offset where the clip stops.
func (c VisualClip) End() float64 {
	return c.Start + c.Duration
}

// CaptionOverlay is text shown during [Start, End).
type CaptionOverlay struct {
	Start float64
	End   float64
	Text  string
}

// Narration is the single audio track and the clock for the whole render.
type Narration struct {
	Path     string
	Duration float64
}

// CompositionPlan is everything the compositor needs, in placement order.
type CompositionPlan struct {
	Visuals    []VisualClip
	Captions   []CaptionOverlay
	Narration  Narration
	Width      int
	Height     int
	Background string
	Report     Report
}

// Report records how every visual segment and the caption track were resolved.
type Report struct {
	Resolved         int
	Failures         []*SegmentError
	CaptionsOmitted  bool
	CaptionsErr      error
	UsedFallback     bool
	NormalizedLayout []timeline.VisualSegment
}

// Degraded reports whether any content was dropped during the run.
func (r Report) Degraded() bool {
	return len(r.Failures) > 0 || r.CaptionsOmitted
}

// DownloadFailures counts segments lost to ErrAssetDownload.
func (r Report) DownloadFailures() int {
	return r.countKind(ErrAssetDownload)
}

// DecodeFailures counts segments lost to ErrAssetDecode.
func (r Report) DecodeFailures() int {
	return r.countKind(ErrAssetDecode)
}

func (r Report) countKind(kind error) int {
	n := 0
	for _, f := range r.Failures {
		if errors.Is(f, kind) {
			n++
		}
	}
	return n
}

// TrackBuilder turns fetch outcomes and captions into a CompositionPlan.
type TrackBuilder struct {
	prober   Prober
	captions CaptionBackend
	fallback Fallback
}

func NewTrackBuilder(prober Prober, captions CaptionBackend, fallback Fallback) *TrackBuilder {
	return &TrackBuilder{
		prober:   prober,
		captions: captions,
		fallback: fallback,
	}
}

// Build places one clip per fetched asset, one overlay per caption, and the
// narration at zero. A failed fetch or an undecodable file leaves its span
// empty; when nothing resolves the fallback background is used.
func (b *TrackBuilder) Build(ctx context.Context, narration Narration, outcomes []FetchOutcome, captions []timeline.CaptionSegment) *CompositionPlan {
	plan := &CompositionPlan{
		Narration:  narration,
		Width:      b.fallback.width(),
		Height:     b.fallback.height(),
		Background: b.fallback.color(),
	}

	for _, o := range outcomes {
		if o.Err != nil {
			plan.Report.Failures = append(plan.Report.Failures, o.Err)
			continue
		}
		if o.Asset == nil {
			continue
		}

		clip, segErr := b.clipFor(ctx, o.Asset)
		if segErr != nil {
			log.Printf("[Render] Skipping segment %s: %v", o.Segment.Interval, segErr)
			plan.Report.Failures = append(plan.Report.Failures, segErr)
			continue
		}
		plan.Visuals = append(plan.Visuals, clip)
	}
	plan.Report.Resolved = len(plan.Visuals)

	if len(plan.Visuals) == 0 {
		log.Printf("[Render] No visual clips resolved, using %s background fallback", plan.Background)
		plan.Visuals = []VisualClip{b.fallback.Clip(narration.Duration)}
		plan.Report.UsedFallback = true
	}

	if len(captions) > 0 {
		if b.captions == nil || !b.captions.Available(ctx) {
			log.Printf("[Render] Warning: %v, omitting %d captions", ErrCaptionBackendUnavailable, len(captions))
			plan.Report.CaptionsOmitted = true
			plan.Report.CaptionsErr = ErrCaptionBackendUnavailable
		} else {
			plan.Captions = make([]CaptionOverlay, 0, len(captions))
			for _, c := range captions {
				plan.Captions = append(plan.Captions, CaptionOverlay{Start: c.Start, End: c.End, Text: c.Text})
			}
		}
	}

	return plan
}

// clipFor trims the asset to min(interval, media duration) from media offset
// zero and schedules it at the interval start.
func (b *TrackBuilder) clipFor(ctx context.Context, asset *FetchedAsset) (VisualClip, *SegmentError) {
	seg := asset.Segment
	mediaDuration, err := b.prober.Duration(ctx, asset.Path)
	if err != nil {
		return VisualClip{}, decodeError(seg, err)
	}
	if mediaDuration <= 0 || math.IsNaN(mediaDuration) {
		return VisualClip{}, decodeError(seg, fmt.Errorf("media reports duration %.3f", mediaDuration))
	}

	return VisualClip{
		Source:   asset.Path,
		Start:    seg.Start,
		Duration: math.Min(seg.Duration(), mediaDuration),
		Segment:  seg,
	}, nil
}
