package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flamegiraffe/internal/storage"
	"github.com/flamegiraffe/pkg/compression"
	"github.com/flamegiraffe/pkg/config"
	apperrors "github.com/flamegiraffe/pkg/errors"
	"github.com/flamegiraffe/pkg/telemetry"
	"github.com/flamegiraffe/pkg/utils"
)

// app holds what the root command prepares for its subcommands.
type app struct {
	// Global flags
	configPath string
	verbose    bool

	cfg      *config.Config
	logger   utils.Logger
	shutdown telemetry.ShutdownFunc
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "flamegiraffe",
		Short: "Aggregate folded stacks and lay them out as flame graphs",
		Long: `flamegiraffe turns collapsed (folded) stack samples into a weighted call tree
and computes flame graph rectangles for any zoomed-in frame.

Profiles can be read from local files, stdin or the configured object store
(cos://key), and served over a JSON HTTP API.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.shutdown == nil {
				return nil
			}
			if err := a.shutdown(context.Background()); err != nil {
				a.logger.Warn("Failed to flush traces: %v", err)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")

	binName := BinName()
	rootCmd.Example = `  # Aggregate a folded profile into a JSON tree
  ` + binName + ` aggregate -i ./cpu.folded -o ./cpu.json

  # Lay out the subtree under main;serve at 1200 pixels
  ` + binName + ` layout -i ./cpu.folded --focus 'main;serve' --width 1200

  # Read from the object store and serve the HTTP API
  ` + binName + ` serve -c ./configs/flamegiraffe.yaml --addr :9090`

	rootCmd.AddCommand(
		newAggregateCmd(a),
		newLayoutCmd(a),
		newTopCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration, then builds the logger and tracing.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg

	level := utils.ParseLogLevel(cfg.Log.Level)
	if a.verbose {
		level = utils.LevelDebug
	}
	// Logs go to stderr so stdout stays free for data.
	a.logger = utils.NewDefaultLogger(level, cmd.ErrOrStderr())
	utils.SetGlobalLogger(a.logger)

	a.shutdown, err = telemetry.Init(cmd.Context(), telemetry.WithServiceVersion(Version))
	if err != nil {
		a.logger.Warn("Tracing disabled: %v", err)
	}
	return nil
}

// storageFor returns the configured store when any of refs is remote, and
// nil otherwise so local-only runs never need storage credentials.
func (a *app) storageFor(refs ...storage.Ref) (storage.Storage, error) {
	for _, ref := range refs {
		if ref.Remote {
			return storage.NewStorage(&a.cfg.Storage)
		}
	}
	return nil, nil
}

// open reads ref, using the command's stdin for "-". Compressed input is
// decoded on the fly either way.
func (a *app) open(ctx context.Context, cmd *cobra.Command, st storage.Storage, ref storage.Ref) (io.ReadCloser, error) {
	if !ref.Remote && ref.Key == "" {
		r, typ, err := compression.NewReader(cmd.InOrStdin())
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "corrupt "+typ.String()+" input on stdin", err)
		}
		return r, nil
	}
	return storage.Open(ctx, st, ref)
}

// save writes ref through fn, using the command's stdout for "-".
func (a *app) save(ctx context.Context, cmd *cobra.Command, st storage.Storage, ref storage.Ref, fn func(io.Writer) error) error {
	if !ref.Remote && ref.Key == "" {
		return fn(cmd.OutOrStdout())
	}
	return storage.Save(ctx, st, ref, fn)
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}
