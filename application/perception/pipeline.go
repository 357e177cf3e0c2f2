// Package perception captures the screen and turns it into a ScreenState.
package perception

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"vision_automation/application/state"
	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
	"vision_automation/infrastructure/observability"
)

// Pipeline - capture -> detectors -> state builder
type Pipeline struct {
	capture  interfaces.CaptureProvider
	ocr      interfaces.Detector
	contour  interfaces.Detector
	builder  *state.Builder
	ocrFloor float64
	logger   *logrus.Logger
}

// NewPipeline - creates new perception pipeline. contour may be nil.
func NewPipeline(
	capture interfaces.CaptureProvider,
	ocr interfaces.Detector,
	contour interfaces.Detector,
	builder *state.Builder,
	ocrFloor float64,
	logger *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		capture:  capture,
		ocr:      ocr,
		contour:  contour,
		builder:  builder,
		ocrFloor: ocrFloor,
		logger:   logger,
	}
}

// Perceive - grabs region and builds its state. A zero region means the whole display.
func (p *Pipeline) Perceive(ctx context.Context, region entities.Rect, contextID string) (*entities.ScreenState, error) {
	ctx, span := observability.StartSpan(ctx, "perception.perceive",
		attribute.String("context", contextID),
		attribute.Int("region.w", region.W),
		attribute.Int("region.h", region.H),
	)
	var err error
	defer func() { observability.EndSpan(span, err) }()

	var capture *entities.ScreenCapture
	capture, err = p.capture.Capture(ctx, region)
	if err != nil {
		err = &entities.DetectorError{Detector: "capture", Err: err}
		return nil, err
	}

	var st *entities.ScreenState
	st, err = p.FromCapture(ctx, capture, contextID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("screen_id", st.ScreenID))
	return st, nil
}

// FromCapture - runs the detectors on an existing capture
func (p *Pipeline) FromCapture(ctx context.Context, capture *entities.ScreenCapture, contextID string) (*entities.ScreenState, error) {
	if capture == nil || capture.Image == nil {
		return nil, &entities.DetectorError{Detector: "capture", Err: fmt.Errorf("empty capture")}
	}

	var texts, regions []entities.VisualElement
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		found, err := p.ocr.Detect(gctx, capture.Image)
		if err != nil {
			return &entities.DetectorError{Detector: string(p.ocr.Source()), Err: err}
		}
		texts = found
		return nil
	})
	if p.contour != nil {
		g.Go(func() error {
			found, err := p.contour.Detect(gctx, capture.Image)
			if err != nil {
				return &entities.DetectorError{Detector: string(p.contour.Source()), Err: err}
			}
			regions = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if p.logger != nil {
			p.logger.WithError(err).Error("Perception failed")
		}
		return nil, err
	}

	kept := texts[:0]
	for _, t := range texts {
		if t.Confidence >= p.ocrFloor {
			kept = append(kept, t)
		}
	}

	st := p.builder.Build(capture, kept, regions, contextID)
	if p.logger != nil {
		p.logger.WithFields(logrus.Fields{
			"screen_id": st.ScreenID,
			"ocr":       len(kept),
			"dropped":   len(texts) - len(kept),
			"contours":  len(regions),
		}).Debug("Screen perceived")
	}
	return st, nil
}
