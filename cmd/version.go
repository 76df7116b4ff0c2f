package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/quill/internal/version"
)

func newVersionCmd() *cobra.Command {
	var (
		format   string
		short    bool
		detailed bool
	)

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Display version information for quill including:

- Semantic version number
- Git commit hash
- Build timestamp
- Go version used for compilation
- Target platform (OS/architecture)

Examples:
  quill version              # Show version and commit
  quill version --detailed   # Show detailed version info
  quill version --format json # Output as JSON`,
		Args: cobra.NoArgs,
		// Version output never needs configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeVersion(cmd.OutOrStdout(), version.Get(), format, short, detailed)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json)")
	cmd.Flags().BoolVar(&short, "short", false, "Show the version number only")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "Show detailed version information")

	return cmd
}

func writeVersion(w io.Writer, info version.Info, format string, short, detailed bool) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "text":
		switch {
		case short:
			_, err := fmt.Fprintln(w, info.Version)
			return err
		case detailed:
			_, err := fmt.Fprintln(w, info.Detailed())
			return err
		default:
			line := "quill " + info.Short()
			if info.Dirty {
				line += " (dirty)"
			}
			_, err := fmt.Fprintln(w, line)
			return err
		}
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
	}
}
