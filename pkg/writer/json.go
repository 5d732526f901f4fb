// Package writer provides the generic output encoders used for trees and
// layouts: plain JSON, gzipped JSON and zstd-compressed JSON.
package writer

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/flamegiraffe/pkg/compression"
)

// Writer encodes a value of type T to a stream or a file.
type Writer[T any] interface {
	Write(data T, w io.Writer) error
	WriteToFile(data T, filepath string) error
}

// writeFile creates filepath and hands it to write.
func writeFile(filepath string, write func(io.Writer) error) error {
	file, err := os.Create(filepath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// encodeCompressed JSON-encodes data through a compressor. The compressor
// is closed even when encoding fails so its resources are released.
func encodeCompressed(data any, cw io.WriteCloser) error {
	if err := json.NewEncoder(cw).Encode(data); err != nil {
		cw.Close()
		return fmt.Errorf("failed to encode data: %w", err)
	}
	return cw.Close()
}

// JSONWriter writes data as JSON, compact unless Indent is set.
type JSONWriter[T any] struct {
	Indent string
}

func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{}
}

func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

func (w *JSONWriter[T]) Write(data T, out io.Writer) error {
	enc := json.NewEncoder(out)
	if w.Indent != "" {
		enc.SetIndent("", w.Indent)
	}
	return enc.Encode(data)
}

func (w *JSONWriter[T]) WriteToFile(data T, filepath string) error {
	return writeFile(filepath, func(out io.Writer) error { return w.Write(data, out) })
}

// GzipWriter writes gzipped JSON. CompressionLevel takes the compress/gzip
// levels; anything else fails on Write.
type GzipWriter[T any] struct {
	CompressionLevel int
}

func NewGzipWriter[T any]() *GzipWriter[T] {
	return NewGzipWriterWithLevel[T](gzip.DefaultCompression)
}

func NewGzipWriterWithLevel[T any](level int) *GzipWriter[T] {
	return &GzipWriter[T]{CompressionLevel: level}
}

func (w *GzipWriter[T]) Write(data T, out io.Writer) error {
	gw, err := gzip.NewWriterLevel(out, w.CompressionLevel)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	return encodeCompressed(data, gw)
}

func (w *GzipWriter[T]) WriteToFile(data T, filepath string) error {
	return writeFile(filepath, func(out io.Writer) error { return w.Write(data, out) })
}

// WriteResult compares the plain JSON size with what reached the file.
type WriteResult struct {
	JSONSize       int64
	CompressedSize int64
	CompressionPct float64
}

// countingWriter counts the bytes passed through to w.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteToFileWithStats writes like WriteToFile and reports how well the
// JSON compressed.
func (w *GzipWriter[T]) WriteToFileWithStats(data T, filepath string) (*WriteResult, error) {
	var plain, packed countingWriter

	err := writeFile(filepath, func(out io.Writer) error {
		packed.w = out
		gw, err := gzip.NewWriterLevel(&packed, w.CompressionLevel)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		plain.w = gw
		return encodeCompressed(data, struct {
			io.Writer
			io.Closer
		}{&plain, gw})
	})
	if err != nil {
		return nil, err
	}

	res := &WriteResult{JSONSize: plain.n, CompressedSize: packed.n}
	if res.JSONSize > 0 {
		res.CompressionPct = float64(res.CompressedSize) / float64(res.JSONSize) * 100
	}
	return res, nil
}

// ZstdWriter writes zstd-compressed JSON.
type ZstdWriter[T any] struct {
	Level compression.Level
}

func NewZstdWriter[T any]() *ZstdWriter[T] {
	return &ZstdWriter[T]{Level: compression.LevelDefault}
}

func (w *ZstdWriter[T]) Write(data T, out io.Writer) error {
	zw, err := compression.NewWriter(out, compression.TypeZstd, w.Level)
	if err != nil {
		return err
	}
	return encodeCompressed(data, zw)
}

func (w *ZstdWriter[T]) WriteToFile(data T, filepath string) error {
	return writeFile(filepath, func(out io.Writer) error { return w.Write(data, out) })
}
