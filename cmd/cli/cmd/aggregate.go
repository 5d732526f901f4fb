package cmd

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flamegiraffe/internal/flamegraph"
	"github.com/flamegiraffe/internal/storage"
	apperrors "github.com/flamegiraffe/pkg/errors"
	"github.com/flamegiraffe/pkg/utils"
	"github.com/flamegiraffe/pkg/writer"
)

type aggregateOptions struct {
	inputs  []string
	workers int
	output  string
	format  string
	strict  bool
	pretty  bool
}

func newAggregateCmd(a *app) *cobra.Command {
	opts := &aggregateOptions{}

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Aggregate folded stacks into a call tree",
		Long: `Aggregate collapsed stack samples ("a;b;c 42" per line) into a weighted call tree.

Output formats:
  - json   : the tree as JSON (default)
  - gzip   : gzipped JSON
  - zstd   : zstd-compressed JSON
  - folded : one line per frame with self samples; aggregating it again
             yields the same tree

Several inputs may be given with repeated -i flags; a directory or a
cos://prefix/ ending in a slash stands for every file below it. Inputs are
parsed concurrently and summed into one tree, as if they had been
concatenated.

Malformed lines are skipped unless --strict is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAggregate(cmd, opts)
		},
	}

	binName := BinName()
	cmd.Example = `  # Aggregate from stdin to stdout
  cat cpu.folded | ` + binName + ` aggregate

  # Gzipped JSON into the object store
  ` + binName + ` aggregate -i ./cpu.folded -o cos://profiles/cpu.json.gz

  # Merge per-host profiles into one tree
  ` + binName + ` aggregate -i host1.folded -i host2.folded.gz -o ./all.json
  ` + binName + ` aggregate -i cos://profiles/2026-10-18/ -o ./day.json

  # Normalise a folded file, failing on the first bad line
  ` + binName + ` aggregate -i ./raw.txt -o ./clean.folded --strict`

	cmd.Flags().StringSliceVarP(&opts.inputs, "input", "i", []string{"-"}, "Input file or directory, cos://key, cos://prefix/ or - for stdin (repeatable)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Inputs parsed concurrently (default: parser.workers, else CPUs up to 8)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "Output file, cos://key or - for stdout")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Output format: json, gzip, zstd, folded (default: from output extension)")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail on the first malformed line")
	cmd.Flags().BoolVar(&opts.pretty, "pretty", false, "Indent JSON output")
	return cmd
}

func (a *app) runAggregate(cmd *cobra.Command, opts *aggregateOptions) error {
	ctx := cmd.Context()
	log := a.logger

	ins := make([]storage.Ref, len(opts.inputs))
	stdin := 0
	for i, input := range opts.inputs {
		ref, err := storage.ParseRef(input)
		if err != nil {
			return err
		}
		if !ref.Remote && ref.Key == "" {
			stdin++
		}
		ins[i] = ref
	}
	if stdin > 1 {
		return apperrors.New(apperrors.CodeInvalidInput, "stdin can only be read once")
	}
	out, err := storage.ParseRef(opts.output)
	if err != nil {
		return err
	}
	format, err := outputFormat(opts.format, out)
	if err != nil {
		return err
	}
	st, err := a.storageFor(append(ins, out)...)
	if err != nil {
		return err
	}

	sw := utils.NewStopwatch("aggregate", utils.WithLogger(log))

	var sources []storage.Ref
	for _, in := range ins {
		refs, err := storage.Expand(ctx, st, in)
		if err != nil {
			return err
		}
		sources = append(sources, refs...)
	}
	if len(sources) > len(ins) {
		log.Debug("Expanded %d input(s) into %d", len(ins), len(sources))
	}

	readers := make([]io.Reader, 0, len(sources))
	for _, in := range sources {
		rc, err := a.open(ctx, cmd, st, in)
		if err != nil {
			return err
		}
		defer rc.Close()
		readers = append(readers, rc)
	}

	agg := flamegraph.NewAggregator(&flamegraph.AggregatorOptions{
		StrictMode:   opts.strict || a.cfg.Parser.Strict,
		MaxLineBytes: a.cfg.Parser.MaxLineBytes,
	}, log)

	stop := sw.Phase("parse")
	var res *flamegraph.Result
	if len(readers) == 1 {
		res, err = agg.AggregateReader(ctx, readers[0])
	} else {
		workers := opts.workers
		if workers == 0 {
			workers = a.cfg.Parser.Workers
		}
		res, err = agg.AggregateAll(ctx, readers, workers)
	}
	stop()
	if err != nil {
		return err
	}
	if res.Stats.Skipped > 0 {
		log.Warn("Skipped %d malformed line(s) of %d", res.Stats.Skipped, res.Stats.Lines)
	}

	stop = sw.Phase("write")
	defer stop()

	// Local gzip output reports its compression ratio.
	if format == writer.FormatGzip && !out.Remote && out.Key != "" {
		stats, err := flamegraph.NewGzipWriter().WriteToFileWithStats(res.FlameGraph, out.Key)
		if err != nil {
			return err
		}
		log.Info("Wrote %s: %d bytes JSON, %d bytes gzipped (%.1f%%)",
			out, stats.JSONSize, stats.CompressedSize, stats.CompressionPct)
		return nil
	}

	write := treeWriter(format, opts.pretty)
	if err := a.save(ctx, cmd, st, out, func(w io.Writer) error {
		return write(res.FlameGraph, w)
	}); err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"samples": res.TotalSamples,
		"nodes":   res.NodeCount,
		"depth":   res.MaxDepth,
		"inputs":  len(sources),
	}).Info("Aggregated %s into %s (%s)", strings.Join(opts.inputs, ", "), out, format)
	return nil
}

// outputFormat resolves the --format flag, falling back to the output file's
// extension and then to JSON.
func outputFormat(flag string, out storage.Ref) (writer.Format, error) {
	if flag != "" {
		f, err := writer.ParseFormat(flag)
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeInvalidInput, "bad --format", err)
		}
		return f, nil
	}
	if out.Key == "" {
		return writer.FormatJSON, nil
	}
	return writer.FormatFromPath(out.Key), nil
}

func treeWriter(format writer.Format, pretty bool) func(*flamegraph.FlameGraph, io.Writer) error {
	switch format {
	case writer.FormatGzip:
		return flamegraph.NewGzipWriter().Write
	case writer.FormatZstd:
		return flamegraph.NewZstdWriter().Write
	case writer.FormatFolded:
		return flamegraph.NewFoldedWriter().Write
	default:
		if pretty {
			return flamegraph.NewPrettyJSONWriter().Write
		}
		return flamegraph.NewJSONWriter().Write
	}
}
