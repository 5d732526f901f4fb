package flamegraph

import (
	"fmt"
	"io"
	"os"

	"github.com/flamegiraffe/internal/parser/collapsed"
	"github.com/flamegiraffe/pkg/writer"
)

// Encoders for trees and layouts, instantiated from the generic writers.
type (
	JSONWriter  = writer.JSONWriter[*FlameGraph]
	GzipWriter  = writer.GzipWriter[*FlameGraph]
	ZstdWriter  = writer.ZstdWriter[*FlameGraph]
)

func NewJSONWriter() *JSONWriter       { return writer.NewJSONWriter[*FlameGraph]() }
func NewPrettyJSONWriter() *JSONWriter { return writer.NewPrettyJSONWriter[*FlameGraph]() }
func NewGzipWriter() *GzipWriter       { return writer.NewGzipWriter[*FlameGraph]() }
func NewZstdWriter() *ZstdWriter       { return writer.NewZstdWriter[*FlameGraph]() }

// FoldedWriter writes flame graph data back in collapsed/folded format.
// This format is compatible with flamegraph.pl.
//
// One line is written per node that carries self samples, so aggregating the
// output again yields the same tree. Zero-valued leaves are kept so their
// frames survive the round trip.
type FoldedWriter struct{}

func NewFoldedWriter() *FoldedWriter {
	return &FoldedWriter{}
}

// Write emits one "frame1;frame2 count" line per qualifying node, in
// child order. Self samples of the root come first as "; count".
func (w *FoldedWriter) Write(fg *FlameGraph, out io.Writer) error {
	var err error
	fg.Root.Walk(func(path []string, node *Node, depth int) bool {
		if err != nil {
			return false
		}
		self := node.SelfValue()
		if depth == 0 {
			if self > 0 {
				err = collapsed.Encode(out, nil, self)
			}
			return err == nil
		}
		if self > 0 || node.IsLeaf() {
			err = collapsed.Encode(out, path[1:], self)
		}
		return err == nil
	})
	return err
}

// WriteToFile writes the folded text to a new file at filepath.
func (w *FoldedWriter) WriteToFile(fg *FlameGraph, filepath string) error {
	file, err := os.Create(filepath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := w.Write(fg, file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
