package cli

import (
	"fmt"
	"io"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/born-ml/frstate/internal/statefile"
)

type inspectOptions struct {
	format     string
	validation string
	dtypeNames string
}

func newInspectCmd(a *app) *cobra.Command {
	opts := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect <statefile>",
		Short: "Validate a state file and print its layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseValidationLevel(opts.validation)
			if err != nil {
				return err
			}
			if opts.format != "text" && opts.format != "toml" {
				return fmt.Errorf("invalid --format %q: want text or toml", opts.format)
			}

			doc, err := statefile.ReadFile(args[0], statefile.ReadOptions{ValidationLevel: level})
			if err != nil {
				return err
			}
			a.logger.Debug("decoded state file", "path", args[0], "layers", len(doc.Layers), "bytes", doc.Size)

			style := statefile.DTypeStyle(strings.ToLower(opts.dtypeNames))
			if style != "" && style != statefile.DTypeStyleTorch && style != statefile.DTypeStylePlain {
				return fmt.Errorf("invalid --dtype-names %q: want torch or plain", opts.dtypeNames)
			}

			summary := doc.Summary(style)
			if opts.format == "toml" {
				encoded, err := toml.Marshal(summary)
				if err != nil {
					return fmt.Errorf("encode summary: %w", err)
				}
				_, err = cmd.OutOrStdout().Write(encoded)
				return err
			}
			return writeSummaryText(cmd.OutOrStdout(), args[0], summary)
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", "text", "output format: text or toml")
	cmd.Flags().StringVar(&opts.validation, "validation", "strict", "validation level: strict, normal or none")
	cmd.Flags().StringVar(&opts.dtypeNames, "dtype-names", "",
		"rename dtypes in the output to torch or plain (default: as stored in the file)")

	return cmd
}

func parseValidationLevel(s string) (statefile.ValidationLevel, error) {
	switch strings.ToLower(s) {
	case "strict":
		return statefile.ValidationStrict, nil
	case "normal":
		return statefile.ValidationNormal, nil
	case "none":
		return statefile.ValidationNone, nil
	default:
		return 0, fmt.Errorf("invalid --validation %q: want strict, normal or none", s)
	}
}

func writeSummaryText(w io.Writer, path string, s statefile.Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "file: %s\n", path)
	fmt.Fprintf(&b, "layers: %d\n", s.Layers)
	fmt.Fprintf(&b, "n_embd: %d\n", s.EmbeddingWidth)
	fmt.Fprintf(&b, "bytes: %d\n", s.Bytes)
	fmt.Fprintf(&b, "sha256: %s\n", s.SHA256)
	for _, layer := range s.LayerInfo {
		parts := make([]string, len(layer.Records))
		for i, rec := range layer.Records {
			parts[i] = fmt.Sprintf("%s %v", rec.DType, rec.Shape)
		}
		fmt.Fprintf(&b, "layer %d: %s\n", layer.Index, strings.Join(parts, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
