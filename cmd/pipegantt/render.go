package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/render"
	"github.com/waabox/pipegantt/internal/rows"
	"github.com/waabox/pipegantt/internal/urlstate"
)

type renderOptions struct {
	out    string
	width  float64
	height float64
}

func newRenderCmd(root *rootOptions) *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Fetch once and write the timeline as SVG",
		Example: `  # Last 8 hours of failed and running pipelines
  pipegantt render --state 'd=8h&status=failed,running' -o timeline.svg`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRender(cmd, root, opts)
		},
	}
	defaults := render.SVGOptions(nil)
	cmd.Flags().StringVarP(&opts.out, "output", "o", "-", `output file, "-" for stdout`)
	cmd.Flags().Float64Var(&opts.width, "width", defaults.Width, "image width in pixels")
	cmd.Flags().Float64Var(&opts.height, "height", defaults.Height, "image height in pixels")
	return cmd
}

func runRender(cmd *cobra.Command, root *rootOptions, opts *renderOptions) error {
	a, err := setup(cmd, root, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := urlstate.Decode(root.state, a.defaults)
	if err != nil {
		return &domain.ConfigurationError{Field: "state", Reason: err.Error()}
	}
	coord, _, err := a.coord.SetDuration(st.Duration)
	if err != nil {
		return &domain.ConfigurationError{Field: "state", Reason: err.Error()}
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()
	res, err := a.timeline.Refresh(ctx, coord.FetchRange())
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", w.Entity, domain.UserMessage(w.Err))
	}

	ro := render.SVGOptions(a.logger)
	ro.Width, ro.Height = opts.width, opts.height
	engine, err := render.NewEngine(ro)
	if err != nil {
		return &domain.ConfigurationError{Field: "width", Reason: err.Error()}
	}
	engine.SetData(render.Data{Model: res.Model, Periods: res.Periods, Fetch: res.Fetch}, res.At)
	engine.SetView(render.View{
		Collapse: rows.NewCollapseState(!root.jobs),
		Statuses: st.Statuses,
		Search:   st.Search,
	})
	scene := engine.Render(coord.Viewport())

	var w io.Writer = cmd.OutOrStdout()
	if opts.out != "-" {
		f, err := os.Create(opts.out)
		if err != nil {
			return err
		}
		defer f.Close()
		bw := bufio.NewWriter(f)
		if err := render.WriteSVG(bw, scene); err != nil {
			return err
		}
		return bw.Flush()
	}
	return render.WriteSVG(w, scene)
}
