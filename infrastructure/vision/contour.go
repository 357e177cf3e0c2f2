package vision

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

// ContourConfig - edge detection and region filtering
type ContourConfig struct {
	// EdgeThreshold is the minimum gradient magnitude (0-255 scale) of an edge pixel
	EdgeThreshold int     `yaml:"edge_threshold"`
	BlurSigma     float64 `yaml:"blur_sigma"`
	MinArea       int     `yaml:"min_area"`
	MaxCoverage   float64 `yaml:"max_coverage"`
	DedupePx      int     `yaml:"dedupe_px"`
	Confidence    float64 `yaml:"confidence"`
}

// DefaultContourConfig - regions of at least 400px², nothing covering 95% of the frame
func DefaultContourConfig() ContourConfig {
	return ContourConfig{
		EdgeThreshold: 40,
		BlurSigma:     1.0,
		MinArea:       400,
		MaxCoverage:   0.95,
		DedupePx:      10,
		Confidence:    0.5,
	}
}

// ContourDetector - finds bordered UI regions (buttons, fields, panels) as bounding boxes of
// connected edge components
type ContourDetector struct {
	cfg    ContourConfig
	logger *logrus.Logger
}

var _ interfaces.Detector = (*ContourDetector)(nil)

// NewContourDetector - creates new contour detector
func NewContourDetector(cfg ContourConfig, logger *logrus.Logger) *ContourDetector {
	return &ContourDetector{cfg: cfg, logger: logger}
}

func (d *ContourDetector) Source() entities.ElementSource { return entities.SourceContour }

// Detect - returns one element per distinct edge component. Elements carry no text.
func (d *ContourDetector) Detect(ctx context.Context, img image.Image) ([]entities.VisualElement, error) {
	b := img.Bounds()
	if b.Dx() < 3 || b.Dy() < 3 {
		return nil, nil
	}
	src := img
	if d.cfg.BlurSigma > 0 {
		src = imaging.Blur(img, d.cfg.BlurSigma)
	}
	gray := imaging.Grayscale(src)
	w, h := b.Dx(), b.Dy()

	mask := dilate(edgeMask(gray, w, h, d.cfg.EdgeThreshold), w, h)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	boxes := components(mask, w, h)

	var out []entities.VisualElement
	for _, box := range boxes {
		if box.Area() < d.cfg.MinArea {
			continue
		}
		if float64(box.W) > float64(w)*d.cfg.MaxCoverage && float64(box.H) > float64(h)*d.cfg.MaxCoverage {
			continue
		}
		if d.duplicate(out, box) {
			continue
		}
		out = append(out, entities.VisualElement{
			Box:        box,
			Confidence: d.cfg.Confidence,
			Source:     entities.SourceContour,
		})
	}

	if d.logger != nil {
		d.logger.WithFields(logrus.Fields{"components": len(boxes), "regions": len(out)}).Debug("Contours detected")
	}
	return out, nil
}

func (d *ContourDetector) duplicate(seen []entities.VisualElement, box entities.Rect) bool {
	for _, e := range seen {
		if abs(e.Box.X-box.X) < d.cfg.DedupePx && abs(e.Box.Y-box.Y) < d.cfg.DedupePx &&
			abs(e.Box.W-box.W) < d.cfg.DedupePx && abs(e.Box.H-box.H) < d.cfg.DedupePx {
			return true
		}
	}
	return false
}

// edgeMask - |dx|+|dy| central-difference gradient above threshold
func edgeMask(g *image.NRGBA, w, h, threshold int) []bool {
	at := func(x, y int) int { return int(g.Pix[y*g.Stride+x*4]) }
	mask := make([]bool, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := at(x+1, y) - at(x-1, y)
			gy := at(x, y+1) - at(x, y-1)
			if abs(gx)+abs(gy) >= threshold {
				mask[y*w+x] = true
			}
		}
	}
	return mask
}

// dilate - 3x3 dilation closing one-pixel gaps in outlines
func dilate(mask []bool, w, h int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				continue
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx >= 0 && ny >= 0 && nx < w && ny < h {
						out[ny*w+nx] = true
					}
				}
			}
		}
	}
	return out
}

// components - bounding boxes of 8-connected mask components, in scan order
func components(mask []bool, w, h int) []entities.Rect {
	seen := make([]bool, len(mask))
	var boxes []entities.Rect
	queue := make([]int, 0, 256)

	for start := range mask {
		if !mask[start] || seen[start] {
			continue
		}
		seen[start] = true
		queue = append(queue[:0], start)
		minX, minY := start%w, start/w
		maxX, maxY := minX, minY

		for len(queue) > 0 {
			p := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			px, py := p%w, p/w
			minX, maxX = min(minX, px), max(maxX, px)
			minY, maxY = min(minY, py), max(maxY, py)

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := px+dx, py+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					n := ny*w + nx
					if mask[n] && !seen[n] {
						seen[n] = true
						queue = append(queue, n)
					}
				}
			}
		}
		boxes = append(boxes, entities.Rect{X: minX, Y: minY, W: maxX - minX + 1, H: maxY - minY + 1})
	}
	return boxes
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
