package main

import (
	"fmt"
	"path/filepath"

	"github.com/bobarin/storyreel/internal/app"
	"github.com/bobarin/storyreel/internal/story"
	"github.com/spf13/cobra"
)

func newMakeCommand(ctx *commandContext) *cobra.Command {
	var (
		topic       string
		outDir      string
		videoServer string
	)

	cmd := &cobra.Command{
		Use:   "make",
		Short: "Write, narrate, caption and render a short story for a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.config()
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = cfg.OutputDir
			}
			if err := cfg.ValidateProduction(); err != nil {
				return err
			}

			producer, err := app.NewProducer(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			prod, err := producer.Produce(cmd.Context(), story.Brief{Topic: topic, VideoServer: videoServer}, outDir,
				func(stage story.Stage, message string) {
					fmt.Fprintln(out, message)
				})
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\nScript:\n%s\n\n", prod.Script)
			printResult(cmd, prod.Render)
			fmt.Fprintf(out, "Narration: %s\n", filepath.Clean(prod.NarrationPath))
			return nil
		},
	}

	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Topic or proverb to tell a story about")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default OUTPUT_DIR)")
	cmd.Flags().StringVar(&videoServer, "video-server", "", "Footage provider (default VIDEO_SERVER)")
	_ = cmd.MarkFlagRequired("topic")

	return cmd
}
