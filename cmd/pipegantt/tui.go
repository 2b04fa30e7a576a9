package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waabox/pipegantt/internal/tui"
	"github.com/waabox/pipegantt/internal/urlstate"
)

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Start the terminal UI (default)",
		Long: `Start the interactive Gantt chart.

Keys: ↑/↓ rows, ←/→ pan, +/- zoom, 0 fit, space fold, enter open,
/ search, 1-6 toggle status filters, d cycle the range, [ and ] history,
ctrl+r refresh, q quit. The mouse wheel zooms around the pointer.

On exit the final view state is printed so it can be passed back with --state.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd, opts)
		},
	}
}

func runTUI(cmd *cobra.Command, opts *rootOptions) error {
	a, err := setup(cmd, opts, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()
	loc, err := tui.Run(tui.Options{
		Context:         ctx,
		Refresher:       a.timeline,
		Coordinator:     a.coord,
		Location:        opts.state,
		Defaults:        a.defaults,
		Debounce:        urlstate.DefaultDelay,
		RefreshInterval: a.cfg.RefreshInterval,
		JobsExpanded:    opts.jobs,
		Title:           a.title,
		Logger:          a.logger,
		Open:            openBrowser,
	})
	a.timeline.Cancel()
	if err != nil {
		return err
	}
	if loc != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "--state '%s'\n", loc)
	}
	return nil
}
