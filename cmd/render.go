package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/quill/internal/bundle"
)

type renderOptions struct {
	data   string
	output string
	bundle string
}

func newRenderCmd(a *app) *cobra.Command {
	opts := &renderOptions{}

	cmd := &cobra.Command{
		Use:   "render NAME",
		Short: "Render a template to stdout",
		Long: `Render the named template against a JSON or YAML data file.

NAME is the template's path under the template directory without the
extension, for example "pages/home" for templates/pages/home.tpl.

Examples:
  quill render index
  quill render pages/home --data home.yml
  quill render invoice --locale de-DE -o invoice.html
  quill render index --bundle quill-bundle.json`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(a.v, cmd.Flags(), map[string]string{"locale": "render.locale"})
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, a, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "render context file (.json, .yaml, .yml)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the result to a file instead of stdout")
	cmd.Flags().StringVar(&opts.bundle, "bundle", "", "install a precompiled bundle before rendering")
	cmd.Flags().String("locale", "", "locale for casing and number helpers (default en)")
	AddFlagValidation(cmd, "data", ValidateDataFile)

	return cmd
}

func runRender(cmd *cobra.Command, a *app, opts *renderOptions, name string) error {
	ws, err := a.workspace("")
	if err != nil {
		return err
	}

	if opts.bundle != "" {
		n, err := bundle.Install(opts.bundle, ws.registry)
		if err != nil {
			return err
		}
		ws.logger.Debug(cmd.Context(), "Installed bundle", "path", opts.bundle, "templates", n)
	}

	data, err := loadData(opts.data)
	if err != nil {
		return err
	}

	out, err := ws.registry.Render(cmd.Context(), name, data, nil)
	if err != nil {
		return err
	}

	if opts.output == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	}

	if err := os.WriteFile(opts.output, []byte(out), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.output, err)
	}
	ws.logger.Info(cmd.Context(), "Rendered template", "template", name, "output", opts.output)

	return nil
}
