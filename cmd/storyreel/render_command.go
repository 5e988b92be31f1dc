package main

import (
	"fmt"
	"time"

	"github.com/bobarin/storyreel/internal/app"
	"github.com/bobarin/storyreel/internal/render"
	"github.com/spf13/cobra"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var (
		audioPath    string
		captionsPath string
		visualsPath  string
		outDir       string
		background   string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render local narration plus caption and visual timelines into an MP4",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			if outDir != "" {
				cfg.OutputDir = outDir
			}
			if background != "" {
				cfg.Background = background
			}
			if err := cfg.ValidateRender(); err != nil {
				return err
			}

			captions, err := loadCaptions(captionsPath)
			if err != nil {
				return err
			}
			visuals, err := loadVisuals(visualsPath)
			if err != nil {
				return err
			}

			result, err := app.NewRenderer(cfg).Render(cmd.Context(), render.Request{
				NarrationPath: audioPath,
				Captions:      captions,
				Visuals:       visuals,
			})
			if err != nil {
				return err
			}

			printResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&audioPath, "audio", "", "Narration audio file")
	cmd.Flags().StringVar(&captionsPath, "captions", "", "Caption timeline JSON file")
	cmd.Flags().StringVar(&visualsPath, "visuals", "", "Visual timeline JSON file")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default OUTPUT_DIR)")
	cmd.Flags().StringVar(&background, "background", "", "Fallback background colour")
	_ = cmd.MarkFlagRequired("audio")

	return cmd
}

func printResult(cmd *cobra.Command, result *render.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Rendered %s (%.2fs, %d visual layers, %d caption layers) in %s\n",
		result.Path, result.Duration, result.VisualLayers, result.CaptionLayers, result.Elapsed.Round(time.Millisecond))

	report := result.Report
	if report.UsedFallback {
		fmt.Fprintln(out, "No footage resolved; used a solid background")
	}
	for _, f := range report.Failures {
		fmt.Fprintf(out, "  skipped %s\n", f.Error())
	}
	if report.CaptionsOmitted {
		fmt.Fprintf(out, "Captions omitted: %v\n", report.CaptionsErr)
	}
}
