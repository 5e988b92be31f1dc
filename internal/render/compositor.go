package render

import (
	"fmt"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Composite is the layered filter graph for one render: the video stream
// with every clip and caption applied, the narration audio stream, and the
// pinned output duration.
type Composite struct {
	Video         *ffmpeg.Stream
	Audio         *ffmpeg.Stream
	Duration      float64
	VisualLayers  int
	CaptionLayers int
}

// Compose stacks the plan onto a canvas of the canonical size:
//
//	canvas (background colour, narration length)
//	  <- overlay clip 1 (scaled, padded, shifted to its start)
//	  <- overlay clip 2 ...
//	  <- ass captions (when captionFile is set)
//
// Clips are overlaid with eof_action=pass, so once a clip runs out the canvas
// shows through until the next clip starts.
func Compose(plan *CompositionPlan, captionFile string) *Composite {
	duration := plan.Narration.Duration

	video := ffmpeg.Input(
		colorSource(plan.Background, plan.Width, plan.Height),
		ffmpeg.KwArgs{"f": "lavfi", "t": seconds(duration)},
	).Video()

	for _, clip := range plan.Visuals {
		layer := clipStream(clip, plan.Width, plan.Height)
		video = ffmpeg.Filter(
			[]*ffmpeg.Stream{video, layer},
			"overlay",
			ffmpeg.Args{},
			ffmpeg.KwArgs{"eof_action": "pass"},
		)
	}

	captionLayers := 0
	if captionFile != "" && len(plan.Captions) > 0 {
		video = video.Filter("ass", ffmpeg.Args{captionFile})
		captionLayers = len(plan.Captions)
	}

	audio := ffmpeg.Input(plan.Narration.Path).Audio()

	return &Composite{
		Video:         video,
		Audio:         audio,
		Duration:      duration,
		VisualLayers:  len(plan.Visuals),
		CaptionLayers: captionLayers,
	}
}

// clipStream reads the first clip.Duration seconds of the source (or a colour
// fill), fits it into width x height and moves it to clip.Start.
func clipStream(clip VisualClip, width, height int) *ffmpeg.Stream {
	var in *ffmpeg.Stream
	if clip.IsFallback() {
		in = ffmpeg.Input(
			colorSource(clip.Color, width, height),
			ffmpeg.KwArgs{"f": "lavfi", "t": seconds(clip.Duration)},
		).Video()
	} else {
		in = ffmpeg.Input(clip.Source, ffmpeg.KwArgs{"t": seconds(clip.Duration)}).Video()
	}

	w, h := strconv.Itoa(width), strconv.Itoa(height)
	return in.
		Filter("scale", ffmpeg.Args{w, h}, ffmpeg.KwArgs{"force_original_aspect_ratio": "decrease"}).
		Filter("pad", ffmpeg.Args{w, h, "(ow-iw)/2", "(oh-ih)/2"}).
		Filter("setsar", ffmpeg.Args{"1"}).
		Filter("fps", ffmpeg.Args{strconv.Itoa(FrameRate)}).
		Filter("setpts", ffmpeg.Args{fmt.Sprintf("PTS-STARTPTS+%s/TB", seconds(clip.Start))})
}

func colorSource(color string, width, height int) string {
	return fmt.Sprintf("color=c=%s:s=%dx%d:r=%d", color, width, height, FrameRate)
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
