// Package match resolves a target label to a screen coordinate through an ordered fallback chain:
// memory, ranked OCR/contour candidates, template matching, then a one-time region expansion.
package match

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"vision_automation/application/normalize"
	"vision_automation/application/ranking"
	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
	"vision_automation/infrastructure/observability"
)

// Ranker scores the elements of a state against a query
type Ranker interface {
	Rank(state *entities.ScreenState, q ranking.Query) []entities.Candidate
}

// Perceiver re-captures a region. Used by the expansion stage.
type Perceiver interface {
	Perceive(ctx context.Context, region entities.Rect, contextID string) (*entities.ScreenState, error)
}

// Config holds the acceptance thresholds of each stage
type Config struct {
	ShortThreshold   float64   `yaml:"short_threshold"`
	NormalThreshold  float64   `yaml:"normal_threshold"`
	MemoryTrustFloor float64   `yaml:"memory_trust_floor"`
	TemplateFloor    float64   `yaml:"template_floor"`
	TemplateScales   []float64 `yaml:"template_scales"`
	ExpansionMargin  int       `yaml:"expansion_margin"`
}

// DefaultConfig - 60/75 fuzzy thresholds, 0.72 template floor, 40px expansion
func DefaultConfig() Config {
	return Config{
		ShortThreshold:   60,
		NormalThreshold:  75,
		MemoryTrustFloor: 0.5,
		TemplateFloor:    0.72,
		TemplateScales:   []float64{0.85, 0.90, 0.95, 1.0, 1.05, 1.10, 1.15},
		ExpansionMargin:  40,
	}
}

// Options alter one resolution
type Options struct {
	// SkipMemory forces a fresh resolution, used after a ghost click
	SkipMemory bool

	noExpand bool
}

// Stage names, in chain order
const (
	StageNormalize = "normalize"
	StageMemory    = "memory"
	StageRanked    = "ranked"
	StageTemplate  = "template"
	StageExpansion = "expansion"
	StageFailure   = "failure"
	StageFinalize  = "finalize"
)

type Engine struct {
	ranker    Ranker
	memory    interfaces.MemoryStore
	templates interfaces.TemplateLibrary
	matcher   interfaces.TemplateMatcher
	perceiver Perceiver
	cfg       Config
	logger    *logrus.Logger
}

// NewEngine - creates new match engine. memory, templates, matcher and perceiver are optional.
func NewEngine(
	ranker Ranker,
	memory interfaces.MemoryStore,
	templates interfaces.TemplateLibrary,
	matcher interfaces.TemplateMatcher,
	perceiver Perceiver,
	cfg Config,
	logger *logrus.Logger,
) *Engine {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Engine{
		ranker:    ranker,
		memory:    memory,
		templates: templates,
		matcher:   matcher,
		perceiver: perceiver,
		cfg:       cfg,
		logger:    logger,
	}
}

// resolution is the working set of one Resolve call
type resolution struct {
	state     *entities.ScreenState
	target    entities.Target
	norm      string
	short     bool
	threshold float64
	opts      Options

	record *entities.MemoryRecord
	best   *entities.Candidate
	stage  string
}

// hit is a stage success. Box is relative to the state's capture unless point is set.
type hit struct {
	box        entities.Rect
	element    *entities.VisualElement
	method     entities.MatchMethod
	confidence float64
	point      *entities.Point
}

type stage struct {
	name string
	run  func(ctx context.Context, r *resolution) (*hit, error)
}

// Threshold - fuzzy acceptance threshold (0-100) for a normalized target
func (e *Engine) Threshold(norm string) float64 {
	if normalize.IsShort(norm) {
		return e.cfg.ShortThreshold
	}
	return e.cfg.NormalThreshold
}

// Resolve - runs the fallback chain against state. The first stage to succeed wins.
// Failure is reported as *entities.ResolutionFailure, collaborator errors as *entities.DetectorError.
func (e *Engine) Resolve(ctx context.Context, state *entities.ScreenState, target entities.Target, opts Options) (*entities.MatchResult, error) {
	ctx, span := observability.StartSpan(ctx, "match.resolve",
		attribute.String("target", target.Label),
		attribute.String("screen_id", state.ScreenID),
		attribute.Bool("skip_memory", opts.SkipMemory),
	)
	var err error
	defer func() { observability.EndSpan(span, err) }()

	r := e.begin(state, target, opts)

	chain := []stage{
		{StageMemory, e.memoryStage},
		{StageRanked, e.rankedStage},
		{StageTemplate, e.templateStage},
	}

	var h *hit
	h, err = e.runChain(ctx, r, chain)
	if err != nil {
		return nil, err
	}

	if h != nil && h.point == nil && !opts.noExpand {
		r.stage = StageExpansion
		if res := e.expand(ctx, r, h); res != nil {
			span.SetAttributes(attribute.String("method", string(res.Method)), attribute.Bool("expanded", true))
			return res, nil
		}
	}

	if h == nil {
		reached := r.stage
		r.stage = StageFailure
		err = &entities.ResolutionFailure{
			Target:    target.Label,
			Stage:     reached,
			Threshold: r.threshold,
			Best:      r.best,
		}
		e.logEntry(r).WithField("threshold", r.threshold).Warn(err.Error())
		return nil, err
	}

	res := e.finalize(r, h)
	span.SetAttributes(attribute.String("method", string(res.Method)))
	return res, nil
}

func (e *Engine) begin(state *entities.ScreenState, target entities.Target, opts Options) *resolution {
	norm := target.Normalized
	if norm == "" {
		norm = normalize.Normalize(target.Label)
	}
	return &resolution{
		state:     state,
		target:    target,
		norm:      norm,
		short:     normalize.IsShort(norm),
		threshold: e.Threshold(norm),
		opts:      opts,
		stage:     StageNormalize,
	}
}

func (e *Engine) runChain(ctx context.Context, r *resolution, chain []stage) (*hit, error) {
	for _, st := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.stage = st.name
		h, err := st.run(ctx, r)
		if err != nil {
			return nil, err
		}
		if h != nil {
			return h, nil
		}
	}
	return nil, nil
}

func (e *Engine) key(r *resolution) entities.MemoryKey {
	return entities.MemoryKey{
		ContextID: r.state.ContextID,
		ScreenID:  r.state.ScreenID,
		Target:    r.norm,
	}
}

func (e *Engine) memoryStage(ctx context.Context, r *resolution) (*hit, error) {
	if e.memory == nil || r.norm == "" {
		return nil, nil
	}
	rec, err := e.memory.Get(ctx, e.key(r))
	if err != nil {
		// lookup errors fall through to perception
		e.logEntry(r).WithError(err).Warn("Memory lookup failed")
		return nil, nil
	}
	if rec == nil {
		return nil, nil
	}
	r.record = rec
	if r.opts.SkipMemory {
		return nil, nil
	}
	if !rec.Confirmed() || rec.SuccessRate() < e.cfg.MemoryTrustFloor {
		return nil, nil
	}

	p := rec.Point()
	if !r.state.Region.Empty() && !r.state.Region.Contains(p) {
		log := e.logEntry(r).WithFields(logrus.Fields{"x": p.X, "y": p.Y})
		if err := e.memory.Invalidate(ctx, e.key(r)); err != nil {
			log.WithError(err).Warn("Failed to invalidate memory outside region")
		} else {
			log.Info("Memory point outside region, record invalidated")
		}
		r.record = nil
		return nil, nil
	}
	return &hit{method: entities.MethodMemory, confidence: 1.0, point: &p}, nil
}

func (e *Engine) rankedStage(_ context.Context, r *resolution) (*hit, error) {
	if r.norm == "" {
		return nil, nil
	}
	var mem *entities.MemoryRecord
	if !r.opts.SkipMemory {
		mem = r.record
	}
	cands := e.ranker.Rank(r.state, ranking.Query{Target: r.norm, Short: r.short, Memory: mem})
	if len(cands) == 0 {
		return nil, nil
	}
	if r.best == nil {
		best := cands[0]
		r.best = &best
	}

	var passing []entities.Candidate
	for _, c := range cands {
		if c.Scores.Fuzzy*100 >= r.threshold {
			passing = append(passing, c)
		}
	}
	if len(passing) == 0 {
		return nil, nil
	}

	chosen := passing[0]
	if r.target.Index != nil {
		idx := *r.target.Index
		sort.SliceStable(passing, func(i, j int) bool { return passing[i].Order < passing[j].Order })
		if idx < 0 || idx >= len(passing) {
			return nil, nil
		}
		chosen = passing[idx]
	}

	el := chosen.Element
	return &hit{
		box:        el.Box,
		element:    &el,
		method:     entities.MethodOCRFuzzy,
		confidence: chosen.Scores.Fuzzy,
	}, nil
}

func (e *Engine) templateStage(ctx context.Context, r *resolution) (*hit, error) {
	if e.templates == nil || e.matcher == nil || r.norm == "" {
		return nil, nil
	}
	if r.state.Capture == nil || r.state.Capture.Image == nil {
		return nil, nil
	}
	ref, err := e.templates.Load(ctx, r.state.ContextID, r.norm)
	if err != nil {
		return nil, &entities.DetectorError{Detector: "template_library", Err: err}
	}
	if ref == nil {
		return nil, nil
	}
	th, err := e.matcher.Match(ctx, r.state.Capture.Image, ref, e.cfg.TemplateScales)
	if err != nil {
		return nil, &entities.DetectorError{Detector: string(entities.SourceTemplate), Err: err}
	}
	if th == nil || th.Score < e.cfg.TemplateFloor {
		return nil, nil
	}

	el := entities.VisualElement{
		Box:        th.Box,
		Text:       r.norm,
		Confidence: th.Score,
		Source:     entities.SourceTemplate,
	}
	return &hit{box: th.Box, element: &el, method: entities.MethodTemplate, confidence: th.Score}, nil
}

// expand - when the hit touches the capture boundary, re-perceives a region grown on the
// touching sides and re-runs ranking and template matching once. Returns nil to keep h.
func (e *Engine) expand(ctx context.Context, r *resolution, h *hit) *entities.MatchResult {
	if e.perceiver == nil || r.state.Capture == nil || r.state.Region.Empty() {
		return nil
	}
	edges := h.box.TouchedEdges(r.state.Capture.Bounds())
	if !edges.Any() {
		return nil
	}
	region := r.state.Region.ExpandEdges(edges, e.cfg.ExpansionMargin)
	if region == r.state.Region {
		return nil
	}

	log := e.logEntry(r).WithFields(logrus.Fields{
		"from": r.state.Region,
		"to":   region,
	})
	log.Info("Candidate touches capture edge, expanding region")

	wider, err := e.perceiver.Perceive(ctx, region, r.state.ContextID)
	if err != nil {
		withDetector(log, err).WithError(err).Warn("Expanded perception failed, keeping original candidate")
		return nil
	}

	rr := e.begin(wider, r.target, Options{SkipMemory: r.opts.SkipMemory, noExpand: true})
	rr.record = r.record
	again, err := e.runChain(ctx, rr, []stage{
		{StageRanked, e.rankedStage},
		{StageTemplate, e.templateStage},
	})
	if err != nil || again == nil {
		withDetector(log, err).WithError(err).Warn("Expanded search found nothing, keeping original candidate")
		return nil
	}

	res := e.finalize(rr, again)
	res.Expanded = true
	// memory stays keyed by the screen the step started on
	res.Key = e.key(r)
	return res
}

// withDetector - adds the failing detector's name when err carries one
func withDetector(log *logrus.Entry, err error) *logrus.Entry {
	var de *entities.DetectorError
	if errors.As(err, &de) {
		return log.WithField("detector", de.Detector)
	}
	return log
}

func (e *Engine) finalize(r *resolution, h *hit) *entities.MatchResult {
	r.stage = StageFinalize
	var p entities.Point
	if h.point != nil {
		p = *h.point
	} else {
		p = r.state.ToScreen(h.box.Center())
	}

	res := &entities.MatchResult{
		Point:      p,
		Element:    h.element,
		Method:     h.method,
		Confidence: h.confidence,
		Threshold:  r.threshold,
		Key:        e.key(r),
	}
	e.logEntry(r).WithFields(logrus.Fields{
		"method":     res.Method,
		"x":          p.X,
		"y":          p.Y,
		"confidence": fmt.Sprintf("%.2f", res.Confidence),
	}).Info("Target resolved")
	return res
}

func (e *Engine) logEntry(r *resolution) *logrus.Entry {
	return e.logger.WithFields(logrus.Fields{
		"target":    r.norm,
		"screen_id": r.state.ScreenID,
		"short":     r.short,
	})
}

// IsResolutionFailure - reports whether err means the target was not found
func IsResolutionFailure(err error) bool {
	var rf *entities.ResolutionFailure
	return errors.As(err, &rf)
}
