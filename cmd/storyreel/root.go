package main

import (
	"github.com/bobarin/storyreel/internal/config"
	"github.com/spf13/cobra"
)

// commandContext loads configuration once per invocation.
type commandContext struct {
	cfg  *config.Config
	load func() (*config.Config, error)
}

func (c *commandContext) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := c.load()
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	return newRootCommandWithLoader(config.Load)
}

func newRootCommandWithLoader(load func() (*config.Config, error)) *cobra.Command {
	ctx := &commandContext{load: load}

	rootCmd := &cobra.Command{
		Use:           "storyreel",
		Short:         "Turn narration, captions and stock footage into a video",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newMakeCommand(ctx))

	return rootCmd
}
