package render

import (
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// Caption overlay file
//
// Captions are written as ASS (Advanced SubStation Alpha) events and burned in
// by the ass filter. One event per caption, bottom-center anchored, bold white
// text with a black outline so it reads over any footage.
// ---------------------------------------------------------------------------

const (
	captionFontName = "Noto Sans"
	captionFontSize = 72 // on a 1080-line canvas

	// ASS colors are &HAABBGGRR
	assColorWhite     = "&H00FFFFFF"
	assColorBlack     = "&H00000000"
	assColorSemiBlack = "&H80000000"

	captionOutline = 3
	// Distance from the bottom edge on a 1080-line canvas.
	captionMarginV = 120
	// ASS alignment 2 is bottom-center (numpad layout).
	captionAlignment = 2
)

// WriteASS writes the overlays as an ASS script sized for a width x height canvas.
func WriteASS(w io.Writer, overlays []CaptionOverlay, width, height int) error {
	var sb strings.Builder

	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&sb, "PlayResX: %d\n", width)
	fmt.Fprintf(&sb, "PlayResY: %d\n", height)
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n")
	sb.WriteString("\n")

	scale := float64(height) / 1080.0
	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&sb,
		"Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,0,0,1,%d,0,%d,40,40,%d,1\n",
		captionFontName, int(float64(captionFontSize)*scale),
		assColorWhite,
		assColorWhite,
		assColorBlack,
		assColorSemiBlack,
		captionOutline,
		captionAlignment,
		int(float64(captionMarginV)*scale),
	)
	sb.WriteString("\n")

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")
	for _, o := range overlays {
		fmt.Fprintf(&sb, "Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			formatASSTime(o.Start),
			formatASSTime(o.End),
			escapeASSText(o.Text),
		)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// escapeASSText keeps caption text from being read as override tags or escape
// sequences such as \N and \h. Backslashes become U+FF3C.
func escapeASSText(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, `\`, "\uFF3C")
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "{", "(")
	text = strings.ReplaceAll(text, "}", ")")
	return text
}

// formatASSTime converts seconds to H:MM:SS.CC, rounding to the nearest centisecond.
func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(seconds*100 + 0.5)
	cs := total % 100
	secs := (total / 100) % 60
	minutes := (total / 6000) % 60
	hours := total / 360000
	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, cs)
}
