// Package statistics provides utilities for calculating profiling statistics.
package statistics

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/flamegiraffe/internal/flamegraph"
)

// SortKey selects the column frames are ranked by.
type SortKey string

const (
	SortSelf  SortKey = "self"
	SortTotal SortKey = "total"
)

// ParseSortKey parses "self" or "total". Empty selects self.
func ParseSortKey(s string) (SortKey, error) {
	switch SortKey(strings.ToLower(strings.TrimSpace(s))) {
	case "", SortSelf:
		return SortSelf, nil
	case SortTotal:
		return SortTotal, nil
	default:
		return "", fmt.Errorf("unknown sort key %q (want self or total)", s)
	}
}

// TopFramesCalculator ranks frame names by the samples spent in them.
type TopFramesCalculator struct {
	topN      int
	sortBy    SortKey
	maxStacks int
}

// TopFramesOption configures the TopFramesCalculator.
type TopFramesOption func(*TopFramesCalculator)

// WithTopN sets the number of frames to return. Zero or less returns all.
func WithTopN(n int) TopFramesOption {
	return func(c *TopFramesCalculator) {
		c.topN = n
	}
}

// WithSortBy sets the ranking column.
func WithSortBy(key SortKey) TopFramesOption {
	return func(c *TopFramesCalculator) {
		c.sortBy = key
	}
}

// WithCallStacks keeps up to n of the heaviest stacks ending in each frame.
func WithCallStacks(n int) TopFramesOption {
	return func(c *TopFramesCalculator) {
		c.maxStacks = n
	}
}

// NewTopFramesCalculator creates a new TopFramesCalculator.
func NewTopFramesCalculator(opts ...TopFramesOption) *TopFramesCalculator {
	c := &TopFramesCalculator{
		topN:   15,
		sortBy: SortSelf,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FrameEntry aggregates every node sharing a frame name.
type FrameEntry struct {
	Name string `json:"name"`
	// Self counts samples whose stack ends in the frame.
	Self int64 `json:"self"`
	// Total counts samples whose stack contains the frame. Recursive frames
	// are counted once per stack.
	Total        int64        `json:"total"`
	SelfPercent  float64      `json:"selfPercent"`
	TotalPercent float64      `json:"totalPercent"`
	CallStacks   []StackEntry `json:"callStacks,omitempty"`
}

// StackEntry is one folded stack ending in a frame.
type StackEntry struct {
	Stack string `json:"stack"`
	Value int64  `json:"value"`
}

// TopFramesResult holds the calculation result.
type TopFramesResult struct {
	SortBy         SortKey      `json:"sortBy"`
	TotalSamples   int64        `json:"totalSamples"`
	DistinctFrames int          `json:"distinctFrames"`
	Frames         []FrameEntry `json:"frames"`
}

// Calculate ranks the frames below root.
func (c *TopFramesCalculator) Calculate(root *flamegraph.Node) *TopFramesResult {
	result := &TopFramesResult{
		SortBy: c.sortBy,
		Frames: make([]FrameEntry, 0),
	}
	if root == nil || root.Value == 0 {
		return result
	}
	result.TotalSamples = root.Value

	entries := make(map[string]*FrameEntry)
	stacks := make(map[string][]StackEntry)

	root.Walk(func(path []string, node *flamegraph.Node, depth int) bool {
		if depth == 0 {
			return true
		}
		e, ok := entries[node.Name]
		if !ok {
			e = &FrameEntry{Name: node.Name}
			entries[node.Name] = e
		}
		// An ancestor of the same name already counted these samples.
		if !slices.Contains(path[1:depth], node.Name) {
			e.Total += node.Value
		}
		if self := node.SelfValue(); self > 0 {
			e.Self += self
			if c.maxStacks > 0 {
				stacks[node.Name] = append(stacks[node.Name], StackEntry{
					Stack: strings.Join(path[1:], ";"),
					Value: self,
				})
			}
		}
		return true
	})

	result.DistinctFrames = len(entries)
	frames := make([]FrameEntry, 0, len(entries))
	for _, e := range entries {
		e.SelfPercent = percent(e.Self, result.TotalSamples)
		e.TotalPercent = percent(e.Total, result.TotalSamples)
		frames = append(frames, *e)
	}
	slices.SortFunc(frames, c.compare)

	if c.topN > 0 && c.topN < len(frames) {
		frames = frames[:c.topN]
	}
	if c.maxStacks > 0 {
		for i := range frames {
			frames[i].CallStacks = heaviest(stacks[frames[i].Name], c.maxStacks)
		}
	}
	result.Frames = frames
	return result
}

// compare orders by the sort column, then the other column, then name.
func (c *TopFramesCalculator) compare(a, b FrameEntry) int {
	primary, secondary := [2]int64{a.Self, b.Self}, [2]int64{a.Total, b.Total}
	if c.sortBy == SortTotal {
		primary, secondary = secondary, primary
	}
	if primary[0] != primary[1] {
		return cmpDesc(primary[0], primary[1])
	}
	if secondary[0] != secondary[1] {
		return cmpDesc(secondary[0], secondary[1])
	}
	return strings.Compare(a.Name, b.Name)
}

func heaviest(stacks []StackEntry, n int) []StackEntry {
	slices.SortFunc(stacks, func(a, b StackEntry) int {
		if a.Value != b.Value {
			return cmpDesc(a.Value, b.Value)
		}
		return strings.Compare(a.Stack, b.Stack)
	})
	if len(stacks) > n {
		stacks = stacks[:n]
	}
	return stacks
}

func cmpDesc(a, b int64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}

func percent(v, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(v) / float64(total) * 100
}
