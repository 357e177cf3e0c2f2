package vision

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

// NCCMatcher - multi-scale normalized cross-correlation. Each scale is searched on a
// downsampled pair first, then refined at full resolution around the coarse peak.
type NCCMatcher struct {
	logger *logrus.Logger
}

var _ interfaces.TemplateMatcher = (*NCCMatcher)(nil)

// NewNCCMatcher - creates new template matcher
func NewNCCMatcher(logger *logrus.Logger) *NCCMatcher {
	return &NCCMatcher{logger: logger}
}

// coarseSide is the target length of the reference's shorter side during the coarse pass
const coarseSide = 8

// Match - best location of ref in img over scales; nil when ref never fits
func (m *NCCMatcher) Match(ctx context.Context, img, ref image.Image, scales []float64) (*interfaces.TemplateHit, error) {
	if len(scales) == 0 {
		scales = []float64{1}
	}
	scene := newPlane(img)
	rb := ref.Bounds()

	var best *interfaces.TemplateHit
	for _, s := range scales {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rw := int(math.Round(float64(rb.Dx()) * s))
		rh := int(math.Round(float64(rb.Dy()) * s))
		if rw < 2 || rh < 2 || rw > scene.w || rh > scene.h {
			continue
		}
		tpl := newPlane(imaging.Resize(ref, rw, rh, imaging.Lanczos))

		x, y, score := m.search(img, scene, ref, tpl)
		if best == nil || score > best.Score {
			best = &interfaces.TemplateHit{
				Box:   entities.Rect{X: x, Y: y, W: rw, H: rh},
				Score: score,
				Scale: s,
			}
		}
	}

	if best != nil && m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"score": best.Score,
			"scale": best.Scale,
			"x":     best.Box.X,
			"y":     best.Box.Y,
		}).Debug("Template matched")
	}
	return best, nil
}

func (m *NCCMatcher) search(img image.Image, scene *plane, ref image.Image, tpl *plane) (int, int, float64) {
	f := min(tpl.w, tpl.h) / coarseSide
	if f < 2 {
		return scene.best(tpl, 0, 0, scene.w-tpl.w, scene.h-tpl.h)
	}

	cw, ch := scene.w/f, scene.h/f
	tw, th := tpl.w/f, tpl.h/f
	coarseScene := newPlane(imaging.Resize(img, cw, ch, imaging.Box))
	coarseTpl := newPlane(imaging.Resize(ref, tw, th, imaging.Box))
	cx, cy, _ := coarseScene.best(coarseTpl, 0, 0, cw-tw, ch-th)

	x0, y0 := max(cx*f-2*f, 0), max(cy*f-2*f, 0)
	x1, y1 := min(cx*f+2*f, scene.w-tpl.w), min(cy*f+2*f, scene.h-tpl.h)
	return scene.best(tpl, x0, y0, x1, y1)
}

// plane is a float grayscale image with integral sums for O(1) window statistics
type plane struct {
	w, h  int
	pix   []float64
	sum   []float64
	sumSq []float64
}

func newPlane(img image.Image) *plane {
	g := imaging.Grayscale(img)
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	p := &plane{
		w:     w,
		h:     h,
		pix:   make([]float64, w*h),
		sum:   make([]float64, (w+1)*(h+1)),
		sumSq: make([]float64, (w+1)*(h+1)),
	}
	for y := 0; y < h; y++ {
		row := 0.0
		rowSq := 0.0
		for x := 0; x < w; x++ {
			v := float64(g.Pix[y*g.Stride+x*4])
			p.pix[y*w+x] = v
			row += v
			rowSq += v * v
			i := (y+1)*(w+1) + x + 1
			p.sum[i] = p.sum[i-(w+1)] + row
			p.sumSq[i] = p.sumSq[i-(w+1)] + rowSq
		}
	}
	return p
}

func (p *plane) window(tab []float64, x, y, w, h int) float64 {
	s := p.w + 1
	return tab[(y+h)*s+x+w] - tab[y*s+x+w] - tab[(y+h)*s+x] + tab[y*s+x]
}

// best - highest NCC over top-left positions in [x0,x1]x[y0,y1]
func (p *plane) best(t *plane, x0, y0, x1, y1 int) (int, int, float64) {
	n := float64(t.w * t.h)
	mean := 0.0
	for _, v := range t.pix {
		mean += v
	}
	mean /= n
	centered := make([]float64, len(t.pix))
	tVar := 0.0
	for i, v := range t.pix {
		centered[i] = v - mean
		tVar += centered[i] * centered[i]
	}

	bx, by, bs := x0, y0, -1.0
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			s := p.window(p.sum, x, y, t.w, t.h)
			sq := p.window(p.sumSq, x, y, t.w, t.h)
			iVar := sq - s*s/n
			var score float64
			if iVar > 1e-6 && tVar > 1e-6 {
				num := 0.0
				for ty := 0; ty < t.h; ty++ {
					row := p.pix[(y+ty)*p.w+x:]
					trow := centered[ty*t.w:]
					for tx := 0; tx < t.w; tx++ {
						num += row[tx] * trow[tx]
					}
				}
				score = num / math.Sqrt(iVar*tVar)
			}
			if score > bs {
				bx, by, bs = x, y, score
			}
		}
	}
	return bx, by, bs
}
