// Package collapsed implements parsing of collapsed (folded) stack data.
// Collapsed format example: func1;func2;func3 count
package collapsed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/flamegiraffe/internal/parser"
	apperrors "github.com/flamegiraffe/pkg/errors"
)

const (
	// FrameSeparator separates frames within a stack.
	FrameSeparator = ";"

	// DefaultMaxLineBytes bounds a single input line. Deep stacks with long
	// symbol names easily exceed bufio's 64KB default.
	DefaultMaxLineBytes = 16 * 1024 * 1024
)

// Error definitions for the parser.
var (
	ErrNoCount      = fmt.Errorf("%w: no count field", parser.ErrInvalidFormat)
	ErrInvalidCount = fmt.Errorf("%w: invalid count value", parser.ErrInvalidFormat)
)

// Sample is one parsed line: a stack, outermost frame first, and its count.
type Sample struct {
	Stack []string
	Value int64
}

// ParserOptions holds configuration options for the collapsed parser.
type ParserOptions struct {
	// StrictMode enables strict parsing that fails on any malformed line.
	StrictMode bool

	// MaxLineBytes is the longest line the reader accepts.
	MaxLineBytes int
}

// DefaultParserOptions returns default parser options.
func DefaultParserOptions() *ParserOptions {
	return &ParserOptions{
		StrictMode:   false,
		MaxLineBytes: DefaultMaxLineBytes,
	}
}

// Stats counts what a parse pass saw.
type Stats struct {
	Lines    int   `json:"lines"`
	Accepted int   `json:"accepted"`
	Skipped  int   `json:"skipped"`
	Total    int64 `json:"total"`
}

// Add accumulates o into s.
func (s *Stats) Add(o *Stats) {
	if o == nil {
		return
	}
	s.Lines += o.Lines
	s.Accepted += o.Accepted
	s.Skipped += o.Skipped
	s.Total += o.Total
}

// SampleFunc receives every accepted sample. Returning an error stops parsing.
type SampleFunc func(lineNum int, sample *Sample) error

// Parser implements the collapsed format parser.
type Parser struct {
	opts *ParserOptions
}

// NewParser creates a new collapsed format parser.
func NewParser(opts *ParserOptions) *Parser {
	if opts == nil {
		opts = DefaultParserOptions()
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Parser{opts: opts}
}

// Parse reads collapsed format data from the reader and hands every valid
// sample to fn in input order.
func (p *Parser) Parse(ctx context.Context, reader io.Reader, fn SampleFunc) (*Stats, error) {
	stats := &Stats{}

	scanner := bufio.NewScanner(reader)
	initial := 64 * 1024
	if p.opts.MaxLineBytes < initial {
		initial = p.opts.MaxLineBytes
	}
	scanner.Buffer(make([]byte, 0, initial), p.opts.MaxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := p.handle(stats, scanner.Text(), fn); err != nil {
			return nil, err
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	return stats, nil
}

// ParseString is Parse over text already held in memory. Lines may end in
// "\n" or "\r\n"; no line length limit applies.
func (p *Parser) ParseString(ctx context.Context, text string, fn SampleFunc) (*Stats, error) {
	stats := &Stats{}

	for len(text) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var line string
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line, text = text[:i], text[i+1:]
		} else {
			line, text = text, ""
		}

		if err := p.handle(stats, line, fn); err != nil {
			return nil, err
		}
	}

	return stats, nil
}

func (p *Parser) handle(stats *Stats, line string, fn SampleFunc) error {
	stats.Lines++

	sample, err := ParseLine(line)
	if err != nil {
		if p.opts.StrictMode {
			return apperrors.AtLine(stats.Lines, err)
		}
		stats.Skipped++
		return nil
	}
	if sample == nil {
		return nil // blank
	}

	stats.Accepted++
	stats.Total += sample.Value
	return fn(stats.Lines, sample)
}

// ParseLine parses a single line of collapsed format data.
// Format: stack count
// Example: main;handler;compute 123
//
// A blank line yields (nil, nil). The count is the text after the last space
// and must be a non-negative base-10 integer. Empty frames ("a;;b", ";a")
// are dropped. A stack with no frames left, such as ";; 4", yields a sample
// with an empty Stack whose count belongs to the root alone.
func ParseLine(line string) (*Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	lastSpace := strings.LastIndexByte(line, ' ')
	if lastSpace == -1 {
		return nil, ErrNoCount
	}

	count, err := strconv.ParseInt(line[lastSpace+1:], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCount, err)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrInvalidCount, count)
	}

	// A stack made only of separators still counts toward the root.
	return &Sample{Stack: SplitStack(strings.TrimRight(line[:lastSpace], " \t")), Value: count}, nil
}

// SplitStack splits a semicolon-separated stack, skipping empty frames.
func SplitStack(stack string) []string {
	var frames []string
	for _, part := range strings.Split(stack, FrameSeparator) {
		if part != "" {
			frames = append(frames, part)
		}
	}
	return frames
}

// Encode writes one collapsed line. An empty stack is written as a lone
// separator so the line still parses back as a root-only sample.
func Encode(w io.Writer, stack []string, value int64) error {
	frames := FrameSeparator
	if len(stack) > 0 {
		frames = strings.Join(stack, FrameSeparator)
	}
	_, err := fmt.Fprintf(w, "%s %d\n", frames, value)
	return err
}
