// Package cli implements the frstate command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/born-ml/frstate/internal/config"
)

// Execute runs the root command with os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

// app carries the resolved settings into sub-commands.
type app struct {
	v       *viper.Viper
	cfg     config.Config
	logger  *slog.Logger
	cfgPath string
	verbose bool
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "frstate",
		Short: "Convert time_state checkpoints into state files",
		Long: "frstate extracts the per-layer blocks.<i>.att.time_state tensors of a " +
			"recurrent language model checkpoint and writes them as a msgpack state " +
			"file that the inference runtime can load as its initial state.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgPath, "config", "", "config file (default: ./frstate.toml, then the user config dir)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log per-layer details (same as --log-level debug)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("dtype-style", "torch", `dtype names in the output: "torch" (torch.float32) or "plain" (float32)`)
	flags.String("layer-count", "pattern", `layer counting: "pattern" (time_state keys) or "entries" (all keys)`)
	flags.Bool("strict-width", true, "require every layer to have the same embedding width")
	flags.String("file-mode", "0644", "permissions of the written state file (octal)")

	bindings := map[string]string{
		config.KeyLogLevel:    "log-level",
		config.KeyDTypeStyle:  "dtype-style",
		config.KeyLayerCount:  "layer-count",
		config.KeyStrictWidth: "strict-width",
		config.KeyFileMode:    "file-mode",
	}
	for key, flag := range bindings {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
				return fmt.Errorf("bind flag %s: %w", flag, err)
			}
			return rootCmd
		}
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newConvertCmd(a),
		newInspectCmd(a),
	)

	return rootCmd
}

// load resolves the configuration and builds the logger.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.cfgPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))
	if cfg.File != "" {
		a.logger.Debug("loaded config", "path", cfg.File)
	}
	return nil
}
