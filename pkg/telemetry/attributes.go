package telemetry

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys shared by the service and HTTP layers.
const (
	AttrProfileID    = attribute.Key("flamegraph.profile_id")
	AttrSource       = attribute.Key("flamegraph.source")
	AttrTotalSamples = attribute.Key("flamegraph.total_samples")
	AttrNodeCount    = attribute.Key("flamegraph.node_count")
	AttrMaxDepth     = attribute.Key("flamegraph.max_depth")
	AttrSkippedLines = attribute.Key("flamegraph.skipped_lines")
	AttrFocus        = attribute.Key("flamegraph.focus")
	AttrWidth        = attribute.Key("flamegraph.width")
	AttrRectCount    = attribute.Key("flamegraph.rect_count")
)
