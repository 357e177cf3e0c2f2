// Package state turns a raw capture plus detector output into an identified ScreenState.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"image"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"vision_automation/application/normalize"
	"vision_automation/domain/entities"
)

// Config tunes the digest and the detector merge
type Config struct {
	GridSize int `yaml:"grid_size"`
	Levels   int `yaml:"levels"`

	// MaxLabelAreaRatio bounds how much larger than a text box a contour may be
	// and still take that text as its label
	MaxLabelAreaRatio float64 `yaml:"max_label_area_ratio"`
}

// DefaultConfig - 16x16 grid, 8 gray levels
func DefaultConfig() Config {
	return Config{GridSize: 16, Levels: 8, MaxLabelAreaRatio: 20}
}

type Builder struct {
	cfg    Config
	logger *logrus.Logger
}

// NewBuilder - creates new state builder
func NewBuilder(cfg Config, logger *logrus.Logger) *Builder {
	if cfg.GridSize <= 0 {
		cfg.GridSize = 16
	}
	if cfg.Levels <= 1 || cfg.Levels > 256 {
		cfg.Levels = 8
	}
	return &Builder{cfg: cfg, logger: logger}
}

// Build - identifies the capture and merges OCR texts with contour regions
func (b *Builder) Build(capture *entities.ScreenCapture, texts, regions []entities.VisualElement, contextID string) *entities.ScreenState {
	st := &entities.ScreenState{
		ContextID: contextID,
		Capture:   capture,
	}
	if capture != nil {
		st.ScreenID = b.Digest(capture.Image)
		st.Region = capture.Region
		st.Timestamp = capture.Timestamp
	} else {
		st.ScreenID = emptyDigest
	}

	st.Elements = b.merge(texts, regions)

	if b.logger != nil {
		b.logger.WithFields(logrus.Fields{
			"screen_id": st.ScreenID,
			"context":   contextID,
			"texts":     len(texts),
			"regions":   len(regions),
			"elements":  len(st.Elements),
		}).Debug("Screen state built")
	}
	return st
}

// Digest - perceptual screen id of img
func (b *Builder) Digest(img image.Image) string {
	return Digest(img, b.cfg.GridSize, b.cfg.Levels)
}

const emptyDigest = "empty"

// Digest - downscales img to a grid x grid gray thumbnail, quantizes each cell to
// levels buckets and hashes the result. Insensitive to single-pixel noise, sensitive
// to layout changes that move content across cells.
func Digest(img image.Image, grid, levels int) string {
	if img == nil || img.Bounds().Empty() {
		return emptyDigest
	}
	thumb := imaging.Grayscale(imaging.Resize(img, grid, grid, imaging.Box))

	buf := make([]byte, 0, grid*grid)
	for y := 0; y < grid; y++ {
		row := thumb.Pix[y*thumb.Stride:]
		for x := 0; x < grid; x++ {
			buf = append(buf, byte(int(row[x*4])*levels/256))
		}
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:8])
}

type labelled struct {
	el    entities.VisualElement
	texts []entities.VisualElement
}

func (b *Builder) merge(texts, regions []entities.VisualElement) []entities.VisualElement {
	contours := make([]*labelled, 0, len(regions))
	for _, r := range regions {
		if r.Box.Empty() {
			continue
		}
		r.Text = normalize.Normalize(r.Text)
		contours = append(contours, &labelled{el: r})
	}

	out := make([]entities.VisualElement, 0, len(texts)+len(regions))
	for _, t := range texts {
		t.Text = normalize.Normalize(t.Text)
		if t.Text == "" || t.Box.Empty() {
			continue
		}
		if host := b.hostFor(t, contours); host != nil {
			host.texts = append(host.texts, t)
			continue
		}
		out = append(out, t)
	}

	for _, c := range contours {
		el := c.el
		if len(c.texts) > 0 {
			SortElements(c.texts)
			parts := make([]string, 0, len(c.texts)+1)
			if el.Text != "" {
				parts = append(parts, el.Text)
			}
			conf := 0.0
			for _, t := range c.texts {
				parts = append(parts, t.Text)
				conf += t.Confidence
			}
			el.Text = strings.Join(parts, " ")
			el.Confidence = conf / float64(len(c.texts))
		}
		out = append(out, el)
	}

	SortElements(out)
	return out
}

// hostFor - the smallest eligible contour containing the text center, else the
// eligible contour overlapping the text the most
func (b *Builder) hostFor(t entities.VisualElement, contours []*labelled) *labelled {
	center := t.Box.Center()
	maxArea := float64(t.Box.Area()) * b.cfg.MaxLabelAreaRatio

	var containing, overlapping *labelled
	bestOverlap := 0
	for _, c := range contours {
		area := c.el.Box.Area()
		if float64(area) > maxArea {
			continue
		}
		if c.el.Box.Contains(center) {
			if containing == nil || area < containing.el.Box.Area() {
				containing = c
			}
			continue
		}
		if ov := c.el.Box.Intersect(t.Box).Area(); ov > bestOverlap {
			bestOverlap = ov
			overlapping = c
		}
	}
	if containing != nil {
		return containing
	}
	return overlapping
}

// SortElements - stable reading order: top-to-bottom, left-to-right
func SortElements(els []entities.VisualElement) {
	sort.SliceStable(els, func(i, j int) bool {
		a, b := els[i], els[j]
		switch {
		case a.Box.Y != b.Box.Y:
			return a.Box.Y < b.Box.Y
		case a.Box.X != b.Box.X:
			return a.Box.X < b.Box.X
		case a.Box.W != b.Box.W:
			return a.Box.W < b.Box.W
		case a.Box.H != b.Box.H:
			return a.Box.H < b.Box.H
		case a.Text != b.Text:
			return a.Text < b.Text
		}
		return a.Source < b.Source
	})
}
