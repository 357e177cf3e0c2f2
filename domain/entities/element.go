package entities

import (
	"image"
	"time"
)

// ElementSource tags which detector produced an element
type ElementSource string

const (
	SourceOCR      ElementSource = "ocr"
	SourceTemplate ElementSource = "template"
	SourceContour  ElementSource = "contour"
)

// ScreenCapture is one raw frame of the remote desktop
type ScreenCapture struct {
	Image     image.Image `json:"-"`
	Region    Rect        `json:"region"`
	Timestamp time.Time   `json:"timestamp"`
}

// Bounds - returns the capture's own coordinate space (origin at 0,0)
func (c *ScreenCapture) Bounds() Rect {
	if c == nil || c.Image == nil {
		return Rect{}
	}
	b := RectFromImage(c.Image.Bounds())
	return b.Offset(-b.X, -b.Y)
}

// VisualElement is one detected region of a capture. Immutable once created.
type VisualElement struct {
	Box        Rect          `json:"box"`
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	Source     ElementSource `json:"source"`
}

// ScreenState is a capture identified by its perceptual digest
type ScreenState struct {
	ScreenID  string          `json:"screen_id"`
	ContextID string          `json:"context_id"`
	Region    Rect            `json:"region"`
	Elements  []VisualElement `json:"elements"`
	Timestamp time.Time       `json:"timestamp"`

	// Capture is the frame the state was built from; owned by the current step.
	Capture *ScreenCapture `json:"-"`
}

// ToScreen - converts a capture-relative point to absolute screen coordinates
func (s *ScreenState) ToScreen(p Point) Point {
	return Point{X: p.X + s.Region.X, Y: p.Y + s.Region.Y}
}

// ToCapture - converts an absolute screen point into capture coordinates
func (s *ScreenState) ToCapture(p Point) Point {
	return Point{X: p.X - s.Region.X, Y: p.Y - s.Region.Y}
}
