package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/quill/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the preview server with live reload",
		Long: `Start the preview server. Every template under the template directory
is available at /render/NAME; pass render data as ?data={...} (JSON or YAML)
or POST it. Pages reload when their template, or any template they import,
changes on disk.

Examples:
  quill serve
  quill serve --port 3000 --no-live-reload
  quill serve -t ./views`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := bindFlags(a.v, cmd.Flags(), map[string]string{
				"port": "server.port",
				"host": "server.host",
			}); err != nil {
				return err
			}
			if noReload, _ := cmd.Flags().GetBool("no-live-reload"); noReload {
				a.v.Set("server.live_reload", false)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace("")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.New(ws.cfg, ws.registry, ws.views, ws.logger)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntP("port", "p", 0, "port to serve on (default 8080)")
	cmd.Flags().String("host", "", "host to bind to (default localhost)")
	cmd.Flags().Bool("no-live-reload", false, "disable the file watcher and reload script")
	AddFlagValidation(cmd, "port", ValidatePort)

	return cmd
}
