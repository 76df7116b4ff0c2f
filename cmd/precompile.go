package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/quill/internal/bundle"
	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/logging"
)

func newPrecompileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "precompile [DIR]",
		Short: "Compile every template into a bundle",
		Long: `Compile every template under DIR (default: the configured template
directory) in parallel and write the compiled programs to a bundle file.
A bundle installs into a registry without lexing or parsing, see
"quill render --bundle".

Examples:
  quill precompile
  quill precompile ./views -o dist/views.json --workers 8`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(a.v, cmd.Flags(), map[string]string{
				"output":  "precompile.output",
				"workers": "precompile.workers",
			})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.workspace(firstArg(args))
			if err != nil {
				return err
			}

			names, err := ws.views.Names(ctx)
			if err != nil {
				return qerrors.NewIOError(qerrors.ErrCodeInvalidPath, "failed to list templates", err)
			}

			perf := logging.StartOperation(ws.logger, "precompile")
			templates, collector := compileAll(ctx, ws.registry, names, ws.cfg.Precompile.Workers)
			if err := collector.Err(); err != nil {
				perf.EndWithError(ctx, err, "failed", collector.Count())
				return err
			}

			if err := bundle.Save(ws.cfg.Precompile.Output, templates); err != nil {
				perf.EndWithError(ctx, err)
				return err
			}
			perf.End(ctx, "templates", len(templates), "output", ws.cfg.Precompile.Output)

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d templates to %s\n", len(templates), ws.cfg.Precompile.Output)
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "bundle file (default quill-bundle.json)")
	cmd.Flags().IntP("workers", "w", 0, "parallel compiles (default 4)")
	AddFlagValidation(cmd, "workers", ValidateWorkers)

	return cmd
}
