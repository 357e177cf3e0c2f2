package interfaces

import (
	"context"
	"image"

	"vision_automation/domain/entities"
)

// Detector finds visual elements in an image. OCR and contour backends share this contract.
type Detector interface {
	Source() entities.ElementSource
	Detect(ctx context.Context, img image.Image) ([]entities.VisualElement, error)
}

// TemplateHit is the best location of a reference crop
type TemplateHit struct {
	Box   entities.Rect
	Score float64
	Scale float64
}

// TemplateMatcher searches an image for a reference crop at several scales
type TemplateMatcher interface {
	Match(ctx context.Context, img, ref image.Image, scales []float64) (*TemplateHit, error)
}

// TemplateLibrary stores reference crops per context and normalized target
type TemplateLibrary interface {
	// Load returns nil without error when no crop exists
	Load(ctx context.Context, contextID, target string) (image.Image, error)
	Save(ctx context.Context, contextID, target string, crop image.Image) error
}
