package entities

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRectFromImage(t *testing.T) {
	assert.Equal(t, Rect{X: 10, Y: 20, W: 30, H: 40}, RectFromImage(image.Rect(10, 20, 40, 60)))
	assert.Equal(t, image.Rect(10, 20, 40, 60), RectFromImage(image.Rect(10, 20, 40, 60)).Image())
}

func TestRect_Offset(t *testing.T) {
	r := Rect{X: 5, Y: 6, W: 7, H: 8}
	assert.Equal(t, Rect{X: 8, Y: 2, W: 7, H: 8}, r.Offset(3, -4))
	assert.Equal(t, r, r.Offset(0, 0))
}

func TestScreenCapture_BoundsStartAtOrigin(t *testing.T) {
	full := image.NewGray(image.Rect(0, 0, 200, 100))
	sub := full.SubImage(image.Rect(50, 25, 150, 75))

	c := &ScreenCapture{Image: sub, Region: Rect{X: 300, Y: 400, W: 100, H: 50}}
	assert.Equal(t, Rect{W: 100, H: 50}, c.Bounds())
	assert.Equal(t, Rect{W: 200, H: 100}, (&ScreenCapture{Image: full}).Bounds())

	var none *ScreenCapture
	assert.Equal(t, Rect{}, none.Bounds())
}
