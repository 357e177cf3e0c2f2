package vision

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision_automation/domain/entities"
)

func whiteCanvas(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

func outline(img *image.Gray, r image.Rectangle) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetGray(x, r.Min.Y, color.Gray{})
		img.SetGray(x, r.Max.Y-1, color.Gray{})
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetGray(r.Min.X, y, color.Gray{})
		img.SetGray(r.Max.X-1, y, color.Gray{})
	}
}

func TestContourDetector_FindsOutlinedButtons(t *testing.T) {
	img := whiteCanvas(400, 300)
	outline(img, image.Rect(50, 50, 150, 90))
	outline(img, image.Rect(200, 50, 300, 90))
	// too small to be a control
	outline(img, image.Rect(10, 250, 16, 256))

	d := NewContourDetector(DefaultContourConfig(), nil)
	got, err := d.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, got, 2)

	for _, el := range got {
		assert.Equal(t, entities.SourceContour, el.Source)
		assert.Empty(t, el.Text)
	}
	// blur and dilation widen the box by a few pixels around the outline
	assert.InDelta(t, 50, got[0].Box.X, 4)
	assert.InDelta(t, 50, got[0].Box.Y, 4)
	assert.InDelta(t, 100, got[0].Box.W, 8)
	assert.InDelta(t, 40, got[0].Box.H, 8)
	assert.InDelta(t, 200, got[1].Box.X, 4)
}

func TestContourDetector_SkipsFullFrameBorder(t *testing.T) {
	img := whiteCanvas(200, 100)
	outline(img, image.Rect(0, 0, 200, 100))

	got, err := NewContourDetector(DefaultContourConfig(), nil).Detect(context.Background(), img)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestContourDetector_BlankImage(t *testing.T) {
	got, err := NewContourDetector(DefaultContourConfig(), nil).Detect(context.Background(), whiteCanvas(100, 100))
	require.NoError(t, err)
	assert.Empty(t, got)
}
