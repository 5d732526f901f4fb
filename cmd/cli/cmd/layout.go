package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/flamegiraffe/internal/flamegraph"
	"github.com/flamegiraffe/internal/service"
	"github.com/flamegiraffe/internal/storage"
	"github.com/flamegiraffe/pkg/utils"
	"github.com/flamegiraffe/pkg/writer"
)

type layoutOptions struct {
	input       string
	output      string
	focus       string
	width       float64
	rowHeight   float64
	orientation string
	pretty      bool
}

func newLayoutCmd(a *app) *cobra.Command {
	opts := &layoutOptions{}

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Compute flame graph rectangles for a profile",
		Long: `Aggregate a folded profile and compute the rectangles of its flame graph.

The focus frame path (e.g. "main;serve") is drawn at full width; frames
narrower than the configured minimum width are left out together with
everything above them. Zero-valued flags take their value from the
configuration file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLayout(cmd, opts)
		},
	}

	binName := BinName()
	cmd.Example = `  # Full profile at the configured width
  ` + binName + ` layout -i ./cpu.folded

  # Zoom into one subtree, drawn top-down
  ` + binName + ` layout -i ./cpu.folded --focus 'main;serve' --width 800 --orientation icicle`

	cmd.Flags().StringVarP(&opts.input, "input", "i", "-", "Input file, cos://key or - for stdin")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "Output file, cos://key or - for stdout")
	cmd.Flags().StringVar(&opts.focus, "focus", "", "Semicolon-separated frame path to zoom into")
	cmd.Flags().Float64VarP(&opts.width, "width", "w", 0, "Canvas width in pixels")
	cmd.Flags().Float64Var(&opts.rowHeight, "row-height", 0, "Row height in pixels")
	cmd.Flags().StringVar(&opts.orientation, "orientation", "", "flame (root at the bottom) or icicle (root at the top)")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "Indent JSON output")
	return cmd
}

func (a *app) runLayout(cmd *cobra.Command, opts *layoutOptions) error {
	ctx := cmd.Context()

	orientation := flamegraph.Orientation("")
	if opts.orientation != "" {
		o, err := flamegraph.ParseOrientation(opts.orientation)
		if err != nil {
			return err
		}
		orientation = o
	}

	in, err := storage.ParseRef(opts.input)
	if err != nil {
		return err
	}
	out, err := storage.ParseRef(opts.output)
	if err != nil {
		return err
	}
	st, err := a.storageFor(in, out)
	if err != nil {
		return err
	}

	profiles, err := service.NewFlameGraphService(service.OptionsFromConfig(a.cfg), st, a.logger)
	if err != nil {
		return err
	}

	sw := utils.NewStopwatch("layout", utils.WithLogger(a.logger))

	rc, err := a.open(ctx, cmd, st, in)
	if err != nil {
		return err
	}
	defer rc.Close()

	stop := sw.Phase("parse")
	p, err := profiles.Parse(ctx, rc, in.String())
	stop()
	if err != nil {
		return err
	}

	stop = sw.Phase("layout")
	res, err := profiles.Layout(ctx, p.ID, service.LayoutRequest{
		Focus:       opts.focus,
		Width:       opts.width,
		RowHeight:   opts.rowHeight,
		Orientation: orientation,
	})
	stop()
	if err != nil {
		return err
	}

	w := writer.NewJSONWriter[*service.LayoutResult]()
	if opts.pretty {
		w = writer.NewPrettyJSONWriter[*service.LayoutResult]()
	}
	if err := a.save(ctx, cmd, st, out, func(dst io.Writer) error {
		return w.Write(res, dst)
	}); err != nil {
		return err
	}

	a.logger.Info("Laid out %d frame(s) of %d node(s) in %s", len(res.Frames), p.Graph.NodeCount, sw.Total())
	return nil
}
