package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/registry"
)

func newCheckCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [DIR]",
		Short: "Compile every template and report errors",
		Long: `Compile every template under DIR (default: the configured template
directory) and report syntax, parse and import cycle errors with their
locations. Exits non-zero when any template fails.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(a.v, cmd.Flags(), map[string]string{"workers": "precompile.workers"})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.workspace(firstArg(args))
			if err != nil {
				return err
			}

			names, err := ws.views.Names(cmd.Context())
			if err != nil {
				return qerrors.NewIOError(qerrors.ErrCodeInvalidPath, "failed to list templates", err)
			}

			_, collector := compileAll(cmd.Context(), ws.registry, names, ws.cfg.Precompile.Workers)
			out := cmd.OutOrStdout()
			for _, name := range collector.Templates() {
				err, _ := collector.Get(name)
				fmt.Fprintf(out, "FAIL %s: %v\n", name, err)
			}
			fmt.Fprintf(out, "checked %d templates, %d failed\n", len(names), collector.Count())

			if collector.HasErrors() {
				return fmt.Errorf("%d of %d templates failed to compile", collector.Count(), len(names))
			}
			return nil
		},
	}

	cmd.Flags().IntP("workers", "w", 0, "parallel compiles (default 4)")
	AddFlagValidation(cmd, "workers", ValidateWorkers)

	return cmd
}

// compileAll compiles names through reg with at most workers compiles in
// flight. Templates are returned in the order of names; failed ones are
// recorded in the collector and left out.
func compileAll(ctx context.Context, reg *registry.Registry, names []string, workers int) ([]*registry.Template, *qerrors.ErrorCollector) {
	collector := qerrors.NewErrorCollector()
	compiled := make([]*registry.Template, len(names))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, name := range names {
		g.Go(func() error {
			tmpl, err := reg.Get(ctx, name)
			if err != nil {
				collector.Add(name, err)
				return nil
			}
			compiled[i] = tmpl
			return nil
		})
	}
	_ = g.Wait()

	templates := make([]*registry.Template, 0, len(names))
	for _, tmpl := range compiled {
		if tmpl != nil {
			templates = append(templates, tmpl)
		}
	}

	return templates, collector
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
