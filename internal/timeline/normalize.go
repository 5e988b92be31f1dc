package timeline

// touchTolerance absorbs float noise from upstream timestamp arithmetic when
// deciding whether two segments share a boundary.
const touchTolerance = 1e-9

func touches(end, start float64) bool {
	d := start - end
	return d >= -touchTolerance && d <= touchTolerance
}

// Normalize merges every run of consecutive, touching empty segments into a
// single empty segment spanning the run. Resourced segments pass through
// untouched, and no duration moves between segments.
//
// The input must already satisfy ValidateVisuals.
func Normalize(segs []VisualSegment) []VisualSegment {
	out := make([]VisualSegment, 0, len(segs))
	for _, s := range segs {
		if !s.HasResource() && len(out) > 0 {
			last := &out[len(out)-1]
			if !last.HasResource() && touches(last.End, s.Start) {
				last.End = s.End
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// FillGaps returns a copy of segs in which every hole before total is covered
// by an empty segment, including a leading hole from zero and a trailing hole
// up to total. Segments reaching past total are kept as they are.
//
// The input must already satisfy ValidateVisuals.
func FillGaps(segs []VisualSegment, total float64) []VisualSegment {
	out := make([]VisualSegment, 0, len(segs)+2)
	cursor := 0.0
	for _, s := range segs {
		if s.Start > cursor && !touches(cursor, s.Start) {
			out = append(out, VisualSegment{Interval: Interval{Start: cursor, End: s.Start}})
		}
		out = append(out, s)
		cursor = s.End
	}
	if total > cursor && !touches(cursor, total) {
		out = append(out, VisualSegment{Interval: Interval{Start: cursor, End: total}})
	}
	return out
}
