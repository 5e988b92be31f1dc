package render

import "math"

const minFallbackDuration = 1.0

// Fallback supplies the solid background used when no footage resolves. Zero
// fields take the canonical format and black.
type Fallback struct {
	Color  string
	Width  int
	Height int
}

// Clip returns one full-frame colour clip lasting at least the narration.
func (f Fallback) Clip(narrationDuration float64) VisualClip {
	return VisualClip{
		Color:    f.color(),
		Start:    0,
		Duration: math.Max(minFallbackDuration, narrationDuration),
	}
}

func (f Fallback) color() string {
	if f.Color == "" {
		return defaultBackground
	}
	return f.Color
}

func (f Fallback) width() int {
	if f.Width <= 0 {
		return CanonicalWidth
	}
	return f.Width
}

func (f Fallback) height() int {
	if f.Height <= 0 {
		return CanonicalHeight
	}
	return f.Height
}
