package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/born-ml/frstate/internal/convert"
)

func newConvertCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "convert <checkpoint> <statefile>",
		Short: "Convert a checkpoint's time_state tensors into a state file",
		Long: "convert reads blocks.<i>.att.time_state for every layer of a SafeTensors " +
			"or PyTorch checkpoint, transposes the last two axes, pads each layer with " +
			"two zero vectors of the embedding width and writes the msgpack state file.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := convert.Options{
				Extract: a.cfg.ExtractOptions(a.logger),
				Write:   a.cfg.WriteOptions(),
				Logger:  a.logger,
			}

			result, err := convert.Run(cmd.Context(), args[0], args[1], opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, err = fmt.Fprintf(out, "converted %s -> %s\nformat: %s\ninput sha256: %x\nlayers: %d\nn_embd: %d\nbytes: %d\nsha256: %x\n",
				result.Input, result.Output, result.Format, result.InputChecksum, result.Layers,
				result.EmbeddingWidth, result.Bytes, result.Checksum)
			return err
		},
	}
}
