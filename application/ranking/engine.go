// Package ranking scores detected elements against a target with four weighted signals.
package ranking

import (
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"vision_automation/domain/entities"
)

// Weights of the composite score
type Weights struct {
	Fuzzy    float64 `yaml:"fuzzy"`
	Detector float64 `yaml:"detector"`
	Geometry float64 `yaml:"geometry"`
	Memory   float64 `yaml:"memory"`
}

// Config tunes the engine
type Config struct {
	Weights Weights `yaml:"weights"`

	// Floor drops candidates whose composite score is below it
	Floor float64 `yaml:"floor"`

	// MemoryNearPx is how far outside a box a remembered point may fall and still count
	MemoryNearPx int `yaml:"memory_near_px"`
}

// DefaultConfig - 0.4/0.2/0.2/0.2 weights
func DefaultConfig() Config {
	return Config{
		Weights:      Weights{Fuzzy: 0.4, Detector: 0.2, Geometry: 0.2, Memory: 0.2},
		Floor:        0.3,
		MemoryNearPx: 12,
	}
}

// Query is one ranking request
type Query struct {
	// Target is the normalized label
	Target string
	Short  bool

	// Memory is the confirmed record for (context, screen, target), if any
	Memory *entities.MemoryRecord
}

const tieEpsilon = 1e-9

type Engine struct {
	cfg    Config
	logger *logrus.Logger
}

// NewEngine - creates new ranking engine
func NewEngine(cfg Config, logger *logrus.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Rank - scores every element of state against q and returns survivors best-first.
// Element text is expected to be normalized already (the state builder does it).
func (e *Engine) Rank(state *entities.ScreenState, q Query) []entities.Candidate {
	if state == nil || len(state.Elements) == 0 {
		return nil
	}

	bounds := captureBounds(state)
	w := e.cfg.Weights
	out := make([]entities.Candidate, 0, len(state.Elements))

	for i, el := range state.Elements {
		scores := entities.SignalScores{
			Fuzzy:    TextScore(q.Target, el.Text, q.Short) / 100,
			Detector: clamp01(el.Confidence),
			Geometry: GeometryScore(el.Box, bounds),
			Memory:   e.memoryScore(state, el.Box, q.Memory),
		}
		composite := w.Fuzzy*scores.Fuzzy + w.Detector*scores.Detector +
			w.Geometry*scores.Geometry + w.Memory*scores.Memory

		if composite < e.cfg.Floor {
			continue
		}
		out = append(out, entities.Candidate{
			Element:   el,
			Order:     i,
			Scores:    scores,
			Composite: composite,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if math.Abs(a.Composite-b.Composite) > tieEpsilon {
			return a.Composite > b.Composite
		}
		if a.Element.Box.Area() != b.Element.Box.Area() {
			return a.Element.Box.Area() < b.Element.Box.Area()
		}
		return a.Order < b.Order
	})

	if e.logger != nil && e.logger.IsLevelEnabled(logrus.DebugLevel) {
		for i, c := range out[:min(3, len(out))] {
			e.logger.WithFields(logrus.Fields{
				"rank":      i + 1,
				"text":      c.Element.Text,
				"composite": round3(c.Composite),
				"fuzzy":     round3(c.Scores.Fuzzy),
				"detector":  round3(c.Scores.Detector),
				"geometry":  round3(c.Scores.Geometry),
				"memory":    c.Scores.Memory,
			}).Debugf("Candidate for '%s'", q.Target)
		}
	}
	return out
}

func (e *Engine) memoryScore(state *entities.ScreenState, box entities.Rect, rec *entities.MemoryRecord) float64 {
	if rec == nil || !rec.Confirmed() {
		return 0
	}
	p := state.ToCapture(rec.Point())
	if box.Inflate(e.cfg.MemoryNearPx).Contains(p) {
		return 1
	}
	return 0
}

// GeometryScore - plausibility of box as an actionable control inside bounds, in [0,1]
func GeometryScore(box, bounds entities.Rect) float64 {
	area := box.Area()
	if area == 0 {
		return 0
	}
	g := 1.0

	if total := bounds.Area(); total > 0 {
		switch frac := float64(area) / float64(total); {
		case frac > 0.25:
			g *= 0.2
		case frac > 0.10:
			g *= 0.6
		}
	}

	const minArea = 100
	if area < minArea {
		g *= float64(area) / minArea
	}

	aspect := float64(box.W) / float64(box.H)
	if aspect < 0.2 || aspect > 25 {
		g *= 0.6
	}

	if !bounds.Empty() {
		if !bounds.ContainsRect(box) {
			g *= 0.3
		} else if box.TouchedEdges(bounds).Any() {
			g *= 0.8
		}
	}
	return clamp01(g)
}

func captureBounds(state *entities.ScreenState) entities.Rect {
	if state.Capture != nil && state.Capture.Image != nil {
		return state.Capture.Bounds()
	}
	return entities.Rect{W: state.Region.W, H: state.Region.H}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
