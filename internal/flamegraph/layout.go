package flamegraph

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// MinVisibleWidth is the narrowest rectangle, in pixels, that is emitted.
const MinVisibleWidth = 1.0

// Rect is one positioned flame graph bar.
type Rect struct {
	// Offset is the horizontal position in pixels from the left edge.
	Offset float64
	// Depth is the stack level relative to the focus node (0 = focus).
	Depth int
	// Width is the bar width in pixels.
	Width float64
	// Node is the tree node the bar was produced from.
	Node *Node
}

// MarshalJSON flattens the source node's name and value into the rect.
func (r Rect) MarshalJSON() ([]byte, error) {
	var name string
	var value int64
	if r.Node != nil {
		name, value = r.Node.Name, r.Node.Value
	}
	return json.Marshal(struct {
		Offset float64 `json:"offset"`
		Depth  int     `json:"depth"`
		Width  float64 `json:"width"`
		Name   string  `json:"name"`
		Value  int64   `json:"value"`
	}{r.Offset, r.Depth, r.Width, name, value})
}

// Orientation selects where the focus row is drawn.
type Orientation string

const (
	// OrientationFlame draws the focus row at the bottom.
	OrientationFlame Orientation = "flame"
	// OrientationIcicle draws the focus row at the top.
	OrientationIcicle Orientation = "icicle"
)

// ParseOrientation parses an orientation name. Empty means flame.
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(strings.ToLower(s)) {
	case "", OrientationFlame:
		return OrientationFlame, nil
	case OrientationIcicle:
		return OrientationIcicle, nil
	default:
		return "", fmt.Errorf("unknown orientation %q (valid: flame, icicle)", s)
	}
}

// Y returns the top edge of the rect's row on a canvas of the given height.
func (r Rect) Y(rowHeight, canvasHeight float64, o Orientation) float64 {
	top := float64(r.Depth) * rowHeight
	if o == OrientationIcicle {
		return top
	}
	return canvasHeight - top - rowHeight
}

// LayoutOptions holds configuration options for the layout engine.
type LayoutOptions struct {
	// MinWidth is the elision threshold in pixels.
	MinWidth float64
}

// DefaultLayoutOptions returns default layout options.
func DefaultLayoutOptions() *LayoutOptions {
	return &LayoutOptions{MinWidth: MinVisibleWidth}
}

// LayoutEngine turns trees into rectangles. It holds no per-call state and is
// safe for concurrent use.
type LayoutEngine struct {
	opts *LayoutOptions
}

// NewLayoutEngine creates a new layout engine.
func NewLayoutEngine(opts *LayoutOptions) *LayoutEngine {
	if opts == nil {
		opts = DefaultLayoutOptions()
	}
	return &LayoutEngine{opts: opts}
}

// Layout positions the subtree rooted at focus across pixelWidth pixels.
// focus is drawn at full width and depth 0; a nil focus means tree itself.
//
// Rects come out in pre-order with children left to right in the tree's
// order. A node narrower than the minimum width is dropped together with its
// subtree, but still occupies its share of the parent so later siblings keep
// their proportional position. The tree is never modified. A width that is
// not a positive finite number yields no rects.
func (e *LayoutEngine) Layout(tree, focus *Node, pixelWidth float64) []Rect {
	if focus == nil {
		focus = tree
	}
	if focus == nil || focus.Value <= 0 || pixelWidth <= 0 || math.IsNaN(pixelWidth) || math.IsInf(pixelWidth, 0) {
		return []Rect{}
	}

	scale := pixelWidth / float64(focus.Value)

	type item struct {
		node   *Node
		offset float64
		depth  int
	}
	rects := make([]Rect, 0, 64)
	stack := []item{{node: focus}}

	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		width := float64(it.node.Value) * scale
		if width < e.opts.MinWidth {
			continue
		}
		rects = append(rects, Rect{
			Offset: it.offset,
			Depth:  it.depth,
			Width:  width,
			Node:   it.node,
		})

		children := it.node.Children
		if len(children) == 0 {
			continue
		}

		// Offsets are assigned left to right, then pushed in reverse so the
		// leftmost child is popped first.
		offsets := make([]float64, len(children))
		cursor := it.offset
		for i, child := range children {
			offsets[i] = cursor
			cursor += float64(child.Value) * scale
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, item{node: children[i], offset: offsets[i], depth: it.depth + 1})
		}
	}

	return rects
}

var defaultEngine = NewLayoutEngine(nil)

// Layout positions focus (or tree, if focus is nil) across pixelWidth pixels
// using the default one-pixel elision threshold.
func Layout(tree, focus *Node, pixelWidth float64) []Rect {
	return defaultEngine.Layout(tree, focus, pixelWidth)
}
