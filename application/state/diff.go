package state

import (
	"image"

	"github.com/disintegration/imaging"
)

// DiffNoiseFloor is the per-pixel gray delta below which a pixel counts as unchanged
const DiffNoiseFloor = 25

// PixelDiffRatio - share of pixels whose gray value moved by more than DiffNoiseFloor.
// b is resized to a's bounds when they differ. A missing frame counts as full change.
func PixelDiffRatio(a, b image.Image) float64 {
	if a == nil || b == nil {
		return 1
	}
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Empty() || bb.Empty() {
		return 1
	}

	ga := imaging.Grayscale(a)
	var gb *image.NRGBA
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		gb = imaging.Grayscale(imaging.Resize(b, ab.Dx(), ab.Dy(), imaging.Linear))
	} else {
		gb = imaging.Grayscale(b)
	}

	w, h := ab.Dx(), ab.Dy()
	changed := 0
	for y := 0; y < h; y++ {
		ra := ga.Pix[y*ga.Stride:]
		rb := gb.Pix[y*gb.Stride:]
		for x := 0; x < w; x++ {
			d := int(ra[x*4]) - int(rb[x*4])
			if d > DiffNoiseFloor || d < -DiffNoiseFloor {
				changed++
			}
		}
	}
	return float64(changed) / float64(w*h)
}
