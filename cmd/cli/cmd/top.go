package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/flamegiraffe/internal/service"
	"github.com/flamegiraffe/internal/statistics"
	"github.com/flamegiraffe/internal/storage"
	"github.com/flamegiraffe/pkg/writer"
)

type topOptions struct {
	input  string
	focus  string
	n      int
	sortBy string
	stacks int
	json   bool
}

func newTopCmd(a *app) *cobra.Command {
	opts := &topOptions{}

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Rank the hottest frames of a profile",
		Long: `Aggregate a folded profile and rank its frames by self samples (the stack
ends in the frame) or total samples (the stack contains the frame).

Recursive frames count once per stack towards their total.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTop(cmd, opts)
		},
	}

	binName := BinName()
	cmd.Example = `  # Fifteen frames with the most self samples
  ` + binName + ` top -i ./cpu.folded

  # Inclusive ranking below one frame, with its heaviest stacks
  ` + binName + ` top -i ./cpu.folded --focus 'main;serve' --sort total --stacks 3`

	cmd.Flags().StringVarP(&opts.input, "input", "i", "-", "Input file, cos://key or - for stdin")
	cmd.Flags().StringVar(&opts.focus, "focus", "", "Only rank frames below this semicolon-separated path")
	cmd.Flags().IntVarP(&opts.n, "num", "n", service.DefaultTopN, "Number of frames to show")
	cmd.Flags().StringVar(&opts.sortBy, "sort", "self", "Rank by self or total samples")
	cmd.Flags().IntVar(&opts.stacks, "stacks", 0, "Heaviest stacks to show per frame")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print JSON instead of a table")
	return cmd
}

func (a *app) runTop(cmd *cobra.Command, opts *topOptions) error {
	ctx := cmd.Context()

	in, err := storage.ParseRef(opts.input)
	if err != nil {
		return err
	}
	st, err := a.storageFor(in)
	if err != nil {
		return err
	}
	profiles, err := service.NewFlameGraphService(service.OptionsFromConfig(a.cfg), st, a.logger)
	if err != nil {
		return err
	}

	rc, err := a.open(ctx, cmd, st, in)
	if err != nil {
		return err
	}
	defer rc.Close()

	p, err := profiles.Parse(ctx, rc, in.String())
	if err != nil {
		return err
	}
	res, err := profiles.Top(ctx, p.ID, service.TopRequest{
		Focus:  opts.focus,
		N:      opts.n,
		SortBy: opts.sortBy,
		Stacks: opts.stacks,
	})
	if err != nil {
		return err
	}

	if opts.json {
		return writer.NewPrettyJSONWriter[*statistics.TopFramesResult]().Write(res, cmd.OutOrStdout())
	}
	return printTopFrames(cmd.OutOrStdout(), res)
}

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleName   = lipgloss.NewStyle().Padding(0, 1)
	styleNumber = lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func printTopFrames(w io.Writer, res *statistics.TopFramesResult) error {
	rows := make([][]string, len(res.Frames))
	for i, f := range res.Frames {
		rows[i] = []string{
			f.Name,
			strconv.FormatInt(f.Self, 10),
			fmt.Sprintf("%.2f%%", f.SelfPercent),
			strconv.FormatInt(f.Total, 10),
			fmt.Sprintf("%.2f%%", f.TotalPercent),
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("FRAME", "SELF", "SELF%", "TOTAL", "TOTAL%").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return styleHeader
			case col == 0:
				return styleName
			default:
				return styleNumber
			}
		})

	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%d of %d frame(s), %d sample(s), sorted by %s\n",
		len(res.Frames), res.DistinctFrames, res.TotalSamples, res.SortBy); err != nil {
		return err
	}

	for _, f := range res.Frames {
		if len(f.CallStacks) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s\n", f.Name)
		for _, s := range f.CallStacks {
			fmt.Fprintf(w, "  %8d  %s\n", s.Value, styleDim.Render(s.Stack))
		}
	}
	return nil
}
