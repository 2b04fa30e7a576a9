package main

import (
	"github.com/spf13/cobra"

	"github.com/waabox/pipegantt/internal/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the timeline as SVG and JSON over HTTP",
		Long: `Serve the timeline over HTTP and poll upstream every refresh_interval.

Endpoints:
  GET  /timeline.svg   rendered chart; accepts the --state query parameters plus w, h and jobs=1
  GET  /api/timeline   refresh result as JSON
  POST /api/refresh    refresh now
  GET  /metrics        Prometheus metrics
  GET  /healthz        liveness`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := server.New(server.Config{
				Addr:            addr,
				Timeline:        a.timeline,
				Viewport:        a.coord,
				Defaults:        a.defaults,
				RefreshInterval: a.cfg.RefreshInterval,
				Gatherer:        a.registry,
				Logger:          a.logger,
			})
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
