package flamegraph

import (
	"context"
	"io"

	"github.com/flamegiraffe/internal/parser/collapsed"
	"github.com/flamegiraffe/pkg/parallel"
	"github.com/flamegiraffe/pkg/utils"
)

// AggregatorOptions holds configuration options for the aggregator.
type AggregatorOptions struct {
	// StrictMode fails on the first malformed line instead of skipping it.
	StrictMode bool

	// MaxLineBytes bounds a single line when reading from a stream.
	MaxLineBytes int
}

// DefaultAggregatorOptions returns default aggregator options.
func DefaultAggregatorOptions() *AggregatorOptions {
	return &AggregatorOptions{
		StrictMode:   false,
		MaxLineBytes: collapsed.DefaultMaxLineBytes,
	}
}

// Aggregator folds collapsed stack lines into a call tree.
type Aggregator struct {
	opts   *AggregatorOptions
	parser *collapsed.Parser
	logger utils.Logger
}

// NewAggregator creates a new aggregator.
func NewAggregator(opts *AggregatorOptions, logger utils.Logger) *Aggregator {
	if opts == nil {
		opts = DefaultAggregatorOptions()
	}
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	return &Aggregator{
		opts: opts,
		parser: collapsed.NewParser(&collapsed.ParserOptions{
			StrictMode:   opts.StrictMode,
			MaxLineBytes: opts.MaxLineBytes,
		}),
		logger: logger,
	}
}

// Result is a finished tree together with the parse statistics.
type Result struct {
	*FlameGraph
	Stats *collapsed.Stats `json:"stats"`
}

// AggregateReader builds a tree from collapsed data read from r.
// Only I/O failures, cancellation and, in strict mode, malformed lines fail.
func (a *Aggregator) AggregateReader(ctx context.Context, r io.Reader) (*Result, error) {
	b := newTreeBuilder()
	stats, err := a.parser.Parse(ctx, r, b.add)
	if err != nil {
		return nil, err
	}
	return a.finish(b, stats), nil
}

// AggregateString builds a tree from collapsed data held in memory.
func (a *Aggregator) AggregateString(ctx context.Context, text string) (*Result, error) {
	b := newTreeBuilder()
	stats, err := a.parser.ParseString(ctx, text, b.add)
	if err != nil {
		return nil, err
	}
	return a.finish(b, stats), nil
}

// AggregateAll aggregates several inputs concurrently, at most workers at a
// time, and merges them into one tree. Since aggregation does not depend on
// line order the result equals aggregating the concatenated inputs. The
// first failing input aborts the rest.
func (a *Aggregator) AggregateAll(ctx context.Context, inputs []io.Reader, workers int) (*Result, error) {
	results, err := parallel.Map(ctx, parallel.DefaultPoolConfig().WithWorkers(workers), inputs,
		func(ctx context.Context, r io.Reader) (*Result, error) {
			b := newTreeBuilder()
			stats, err := a.parser.Parse(ctx, r, b.add)
			if err != nil {
				return nil, err
			}
			return &Result{FlameGraph: NewFlameGraph(b.finish()), Stats: stats}, nil
		})
	if err != nil {
		return nil, err
	}

	roots := make([]*Node, len(results))
	stats := &collapsed.Stats{}
	for i, res := range results {
		roots[i] = res.Root
		stats.Add(res.Stats)
	}
	b := newTreeBuilder()
	b.merge(roots...)
	return a.finish(b, stats), nil
}

func (a *Aggregator) finish(b *treeBuilder, stats *collapsed.Stats) *Result {
	root := b.finish()
	if stats.Skipped > 0 {
		a.logger.Debug("skipped %d malformed line(s) of %d", stats.Skipped, stats.Lines)
	}
	return &Result{FlameGraph: NewFlameGraph(root), Stats: stats}
}

// Aggregate folds collapsed stack text into a call tree and returns its
// root. Malformed lines are skipped; it never fails.
func Aggregate(text string) *Node {
	res, err := NewAggregator(nil, nil).AggregateString(context.Background(), text)
	if err != nil {
		// Unreachable: lenient parsing of in-memory text with a live context.
		return NewRoot()
	}
	return res.Root
}

// Merge sums finished trees into a new tree. The inputs are not modified.
func Merge(roots ...*Node) *Node {
	b := newTreeBuilder()
	b.merge(roots...)
	return b.finish()
}

type treeBuilder struct {
	root *Node
}

func newTreeBuilder() *treeBuilder {
	return &treeBuilder{root: NewRoot()}
}

// add credits the sample's count to the root and to every frame on its path.
func (b *treeBuilder) add(_ int, sample *collapsed.Sample) error {
	b.addPath(sample.Stack, sample.Value)
	return nil
}

func (b *treeBuilder) addPath(stack []string, value int64) {
	node := b.root
	node.Value += value
	for _, frame := range stack {
		node = node.child(frame)
		node.Value += value
	}
}

// merge replays every tree as the folded samples it was built from: one path
// per node carrying self samples, plus zero-valued leaves. Samples with an
// empty stack live on the root itself and are replayed with an empty path.
func (b *treeBuilder) merge(roots ...*Node) {
	for _, root := range roots {
		if root == nil {
			continue
		}
		root.Walk(func(path []string, node *Node, depth int) bool {
			if depth == 0 {
				if self := node.SelfValue(); self > 0 {
					b.addPath(nil, self)
				}
				return true
			}
			if self := node.SelfValue(); self > 0 || node.IsLeaf() {
				b.addPath(path[1:], self)
			}
			return true
		})
	}
}

func (b *treeBuilder) finish() *Node {
	finish(b.root)
	return b.root
}
