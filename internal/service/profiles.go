package service

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/flamegiraffe/internal/flamegraph"
	"github.com/flamegiraffe/internal/parser/collapsed"
	"github.com/flamegiraffe/internal/statistics"
	"github.com/flamegiraffe/internal/storage"
	"github.com/flamegiraffe/pkg/config"
	apperrors "github.com/flamegiraffe/pkg/errors"
	"github.com/flamegiraffe/pkg/telemetry"
	"github.com/flamegiraffe/pkg/utils"
)

var tracer = telemetry.Tracer("service")

// Options configures a FlameGraphService.
type Options struct {
	// CacheSize bounds the number of profiles kept; the least recently used
	// profile is evicted first.
	CacheSize int

	Strict       bool
	MaxLineBytes int
	// Workers bounds how many inputs of a multi-object load are parsed at
	// once. Zero picks a default from the CPU count.
	Workers int

	// Defaults for layout requests that leave a field unset.
	Width       float64
	RowHeight   float64
	MinWidth    float64
	Orientation flamegraph.Orientation
}

// DefaultOptions returns the options matching config.Default.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig extracts service options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	orientation, err := flamegraph.ParseOrientation(cfg.Layout.Orientation)
	if err != nil {
		orientation = flamegraph.OrientationFlame
	}
	return Options{
		CacheSize:    cfg.Server.CacheSize,
		Strict:       cfg.Parser.Strict,
		MaxLineBytes: cfg.Parser.MaxLineBytes,
		Workers:      cfg.Parser.Workers,
		Width:        cfg.Layout.Width,
		RowHeight:    cfg.Layout.RowHeight,
		MinWidth:     cfg.Layout.MinWidth,
		Orientation:  orientation,
	}
}

// Profile is an aggregated call tree held in memory.
type Profile struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	Graph     *flamegraph.FlameGraph `json:"-"`
	Stats     *collapsed.Stats       `json:"stats"`
}

// Summary is the listing view of a profile.
type Summary struct {
	ID           string           `json:"id"`
	Source       string           `json:"source,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	TotalSamples int64            `json:"totalSamples"`
	MaxDepth     int              `json:"maxDepth"`
	NodeCount    int              `json:"nodeCount"`
	Stats        *collapsed.Stats `json:"stats"`
}

// Summary returns the profile's listing view.
func (p *Profile) Summary() Summary {
	return Summary{
		ID:           p.ID,
		Source:       p.Source,
		CreatedAt:    p.CreatedAt,
		TotalSamples: p.Graph.TotalSamples,
		MaxDepth:     p.Graph.MaxDepth,
		NodeCount:    p.Graph.NodeCount,
		Stats:        p.Stats,
	}
}

// LayoutRequest selects what to render. Zero fields take the service defaults.
type LayoutRequest struct {
	// Focus is a semicolon-joined frame path below the root, e.g. "main;serve".
	// Empty focuses the root.
	Focus       string
	Width       float64
	RowHeight   float64
	Orientation flamegraph.Orientation
}

// Frame is a rectangle ready to draw.
type Frame struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
	Depth   int     `json:"depth"`
	Name    string  `json:"name"`
	Value   int64   `json:"value"`
	Self    int64   `json:"self"`
	Percent float64 `json:"percent"`
}

// LayoutResult is a rendered view of a profile.
type LayoutResult struct {
	ProfileID   string                 `json:"profileId"`
	Focus       []string               `json:"focus"`
	Width       float64                `json:"width"`
	Height      float64                `json:"height"`
	RowHeight   float64                `json:"rowHeight"`
	Orientation flamegraph.Orientation `json:"orientation"`
	Frames      []Frame                `json:"frames"`
}

// FlameGraphService aggregates folded profiles, keeps them in a bounded
// in-memory cache and lays them out on request.
type FlameGraphService struct {
	opts       Options
	storage    storage.Storage
	logger     utils.Logger
	aggregator *flamegraph.Aggregator
	engine     *flamegraph.LayoutEngine
	clock      utils.Clock

	profiles *lru.Cache[string, *Profile]

	mu    sync.Mutex
	byRef map[string]string // source ref -> profile ID
	loads singleflight.Group
}

// NewFlameGraphService creates a service. st may be nil, in which case only
// local files can be loaded.
func NewFlameGraphService(opts Options, st storage.Storage, logger utils.Logger) (*FlameGraphService, error) {
	if opts.CacheSize < 1 {
		return nil, apperrors.Newf(apperrors.CodeConfigError, "cache size must be at least 1, got %d", opts.CacheSize)
	}
	if logger == nil {
		logger = &utils.NullLogger{}
	}

	s := &FlameGraphService{
		opts:    opts,
		storage: st,
		logger:  logger,
		aggregator: flamegraph.NewAggregator(&flamegraph.AggregatorOptions{
			StrictMode:   opts.Strict,
			MaxLineBytes: opts.MaxLineBytes,
		}, logger),
		engine: flamegraph.NewLayoutEngine(&flamegraph.LayoutOptions{MinWidth: opts.MinWidth}),
		clock:  utils.SystemClock{},
		byRef:  make(map[string]string),
	}

	cache, err := lru.NewWithEvict[string, *Profile](opts.CacheSize, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.profiles = cache
	return s, nil
}

func (s *FlameGraphService) onEvict(id string, p *Profile) {
	s.logger.WithField("id", id).Debug("evicted profile")
	if p.Source == "" {
		return
	}
	s.mu.Lock()
	if s.byRef[p.Source] == id {
		delete(s.byRef, p.Source)
	}
	s.mu.Unlock()
}

// Parse aggregates folded text from r and registers the result under a new
// ID. source is informational and may be empty. Input whose samples sum to
// zero is rejected with an EMPTY_PROFILE error.
func (s *FlameGraphService) Parse(ctx context.Context, r io.Reader, source string) (*Profile, error) {
	ctx, span := tracer.Start(ctx, "FlameGraphService.Parse")
	defer span.End()

	res, err := s.aggregator.AggregateReader(ctx, r)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	p, err := s.register(ctx, res, source)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		telemetry.AttrProfileID.String(p.ID),
		telemetry.AttrTotalSamples.Int64(p.Graph.TotalSamples),
		telemetry.AttrNodeCount.Int(p.Graph.NodeCount),
		telemetry.AttrMaxDepth.Int(p.Graph.MaxDepth),
		telemetry.AttrSkippedLines.Int(p.Stats.Skipped),
	)
	return p, nil
}

// ParseAll aggregates several inputs concurrently into one profile, as if
// they had been concatenated.
func (s *FlameGraphService) ParseAll(ctx context.Context, inputs []io.Reader, source string) (*Profile, error) {
	ctx, span := tracer.Start(ctx, "FlameGraphService.ParseAll",
		trace.WithAttributes(attribute.Int("inputs", len(inputs))))
	defer span.End()

	res, err := s.aggregator.AggregateAll(ctx, inputs, s.opts.Workers)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	p, err := s.register(ctx, res, source)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		telemetry.AttrProfileID.String(p.ID),
		telemetry.AttrTotalSamples.Int64(p.Graph.TotalSamples),
	)
	return p, nil
}

func (s *FlameGraphService) register(ctx context.Context, res *flamegraph.Result, source string) (*Profile, error) {
	if res.Root.Value == 0 {
		return nil, apperrors.Wrap(apperrors.CodeEmptyProfile, "no stack samples in input",
			fmt.Errorf("%d line(s) read, %d skipped", res.Stats.Lines, res.Stats.Skipped))
	}

	p := &Profile{
		ID:        uuid.NewString(),
		Source:    source,
		CreatedAt: s.clock.Now(),
		Graph:     res.FlameGraph,
		Stats:     res.Stats,
	}
	s.profiles.Add(p.ID, p)

	utils.LoggerFromContext(ctx, s.logger).WithFields(map[string]interface{}{
		"id":      p.ID,
		"samples": p.Graph.TotalSamples,
		"nodes":   p.Graph.NodeCount,
	}).Info("profile registered")
	return p, nil
}

// Load aggregates the profile at ref: "cos://key", a local path, or a prefix
// ("cos://team/cpu/") or directory whose objects are merged into one
// profile. A ref that is still cached is served without reading it again.
// Concurrent loads of the same ref share one read and yield the same profile.
func (s *FlameGraphService) Load(ctx context.Context, ref string) (*Profile, error) {
	ctx, span := tracer.Start(ctx, "FlameGraphService.Load", trace.WithAttributes(telemetry.AttrSource.String(ref)))
	defer span.End()

	parsed, err := storage.ParseRef(ref)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	if parsed.Key == "" {
		err := apperrors.New(apperrors.CodeInvalidInput, "profile reference is required")
		recordError(span, err)
		return nil, err
	}
	key := parsed.String()

	if p, ok := s.cachedRef(key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return p, nil
	}

	v, err, shared := s.loads.Do(key, func() (interface{}, error) {
		if p, ok := s.cachedRef(key); ok {
			return p, nil
		}
		p, err := s.load(ctx, parsed, key)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.byRef[key] = p.ID
		s.mu.Unlock()
		return p, nil
	})
	span.SetAttributes(attribute.Bool("load.shared", shared))
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return v.(*Profile), nil
}

// cachedRef returns the profile last loaded from key if it is still cached.
func (s *FlameGraphService) cachedRef(key string) (*Profile, bool) {
	s.mu.Lock()
	id, ok := s.byRef[key]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return s.profiles.Get(id)
}

func (s *FlameGraphService) load(ctx context.Context, ref storage.Ref, key string) (*Profile, error) {
	refs, err := storage.Expand(ctx, s.storage, ref)
	if err != nil {
		return nil, err
	}
	readers := make([]io.Reader, 0, len(refs))
	for _, r := range refs {
		rc, err := storage.Open(ctx, s.storage, r)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		readers = append(readers, rc)
	}

	if len(readers) == 1 {
		return s.Parse(ctx, readers[0], key)
	}
	return s.ParseAll(ctx, readers, key)
}

// Get returns the cached profile with the given ID.
func (s *FlameGraphService) Get(id string) (*Profile, error) {
	p, ok := s.profiles.Get(id)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "profile %s not found", id)
	}
	return p, nil
}

// List returns summaries of all cached profiles, newest first.
func (s *FlameGraphService) List() []Summary {
	profiles := s.profiles.Values()
	out := make([]Summary, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p.Summary())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of cached profiles.
func (s *FlameGraphService) Len() int {
	return s.profiles.Len()
}

// Forget drops a profile from the cache. It reports whether it was present.
func (s *FlameGraphService) Forget(id string) bool {
	return s.profiles.Remove(id)
}

// Layout renders a cached profile.
func (s *FlameGraphService) Layout(ctx context.Context, id string, req LayoutRequest) (*LayoutResult, error) {
	_, span := tracer.Start(ctx, "FlameGraphService.Layout", trace.WithAttributes(
		telemetry.AttrProfileID.String(id),
		telemetry.AttrFocus.String(req.Focus),
	))
	defer span.End()

	p, err := s.Get(id)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	res, err := s.LayoutTree(p.Graph.Root, req)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	res.ProfileID = id

	span.SetAttributes(
		telemetry.AttrWidth.Float64(res.Width),
		telemetry.AttrRectCount.Int(len(res.Frames)),
	)
	return res, nil
}

// LayoutTree renders root with the service defaults. It does not touch the
// cache and serves callers that hold a tree of their own.
func (s *FlameGraphService) LayoutTree(root *flamegraph.Node, req LayoutRequest) (*LayoutResult, error) {
	req = s.withDefaults(req)
	if !positiveFinite(req.Width) || !positiveFinite(req.RowHeight) {
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "width and row height must be positive and finite")
	}

	var focusPath []string
	if req.Focus != "" {
		focusPath = collapsed.SplitStack(req.Focus)
	}
	focus := root.Find(focusPath)
	if focus == nil {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "frame path %q not found", req.Focus)
	}

	rects := s.engine.Layout(root, focus, req.Width)

	maxDepth := -1
	for _, r := range rects {
		if r.Depth > maxDepth {
			maxDepth = r.Depth
		}
	}
	height := float64(maxDepth+1) * req.RowHeight

	frames := make([]Frame, len(rects))
	for i, r := range rects {
		frames[i] = Frame{
			X:       r.Offset,
			Y:       r.Y(req.RowHeight, height, req.Orientation),
			Width:   r.Width,
			Height:  req.RowHeight,
			Depth:   r.Depth,
			Name:    r.Node.Name,
			Value:   r.Node.Value,
			Self:    r.Node.SelfValue(),
			Percent: r.Node.Percent(root),
		}
	}

	if focusPath == nil {
		focusPath = []string{}
	}
	return &LayoutResult{
		Focus:       focusPath,
		Width:       req.Width,
		Height:      height,
		RowHeight:   req.RowHeight,
		Orientation: req.Orientation,
		Frames:      frames,
	}, nil
}

// DefaultTopN is the number of frames Top returns when the request leaves N unset.
const DefaultTopN = 15

// TopRequest selects which frames Top ranks.
type TopRequest struct {
	// Focus restricts the ranking to the subtree below this frame path.
	Focus  string
	N      int
	SortBy string
	// Stacks is the number of heaviest stacks kept per frame.
	Stacks int
}

// Top ranks the frames of a cached profile by self or total samples.
func (s *FlameGraphService) Top(ctx context.Context, id string, req TopRequest) (*statistics.TopFramesResult, error) {
	_, span := tracer.Start(ctx, "FlameGraphService.Top", trace.WithAttributes(
		telemetry.AttrProfileID.String(id),
		telemetry.AttrFocus.String(req.Focus),
	))
	defer span.End()

	p, err := s.Get(id)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	res, err := TopFrames(p.Graph.Root, req)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("frames.distinct", res.DistinctFrames))
	return res, nil
}

// TopFrames ranks the frames of root. It serves callers that hold a tree of
// their own.
func TopFrames(root *flamegraph.Node, req TopRequest) (*statistics.TopFramesResult, error) {
	sortBy, err := statistics.ParseSortKey(req.SortBy)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "bad sort key", err)
	}
	if req.N < 0 || req.Stacks < 0 {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "frame and stack counts must not be negative")
	}
	if req.N == 0 {
		req.N = DefaultTopN
	}

	focus := root
	if f := strings.TrimSpace(req.Focus); f != "" {
		if focus = root.Find(collapsed.SplitStack(f)); focus == nil {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "frame path %q not found", f)
		}
	}

	calc := statistics.NewTopFramesCalculator(
		statistics.WithTopN(req.N),
		statistics.WithSortBy(sortBy),
		statistics.WithCallStacks(req.Stacks),
	)
	return calc.Calculate(focus), nil
}

func (s *FlameGraphService) withDefaults(req LayoutRequest) LayoutRequest {
	req.Focus = strings.TrimSpace(req.Focus)
	if req.Width == 0 {
		req.Width = s.opts.Width
	}
	if req.RowHeight == 0 {
		req.RowHeight = s.opts.RowHeight
	}
	if req.Orientation == "" {
		req.Orientation = s.opts.Orientation
	}
	if req.Orientation == "" {
		req.Orientation = flamegraph.OrientationFlame
	}
	return req
}

func positiveFinite(f float64) bool {
	return f > 0 && !math.IsInf(f, 1)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperrors.GetErrorCode(err))
}
