package vision

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision_automation/domain/entities"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t800\t600\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t100\t50\t120\t20\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t100\t50\t50\t20\t96.5\tSign\n" +
	"5\t1\t1\t1\t1\t2\t160\t52\t60\t18\t87.5\tIn\n" +
	"5\t1\t2\t1\t1\t1\t300\t400\t40\t20\t45\t0K\n" +
	"5\t1\t2\t1\t1\t2\t350\t400\t10\t20\t-1\t \n"

func TestParseTSV_GroupsWordsIntoLines(t *testing.T) {
	got, err := ParseTSV([]byte(sampleTSV), 1)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Sign In", got[0].Text)
	assert.Equal(t, entities.Rect{X: 100, Y: 50, W: 120, H: 20}, got[0].Box)
	assert.InDelta(t, 0.92, got[0].Confidence, 1e-9)
	assert.Equal(t, entities.SourceOCR, got[0].Source)

	assert.Equal(t, "0K", got[1].Text)
	assert.InDelta(t, 0.45, got[1].Confidence, 1e-9)
}

func TestParseTSV_Scale(t *testing.T) {
	got, err := ParseTSV([]byte(sampleTSV), 2)
	require.NoError(t, err)
	assert.Equal(t, entities.Rect{X: 200, Y: 100, W: 240, H: 40}, got[0].Box)
}

func TestParseTSV_BadNumber(t *testing.T) {
	_, err := ParseTSV([]byte("5\t1\tx\t1\t1\t1\t1\t1\t1\t1\t90\tword\n"), 1)
	assert.Error(t, err)
}

func TestTesseractOCR_Detect(t *testing.T) {
	ocr := NewTesseractOCR(DefaultOCRConfig(), nil)
	var gotArgs []string
	ocr.run = func(_ context.Context, name string, args []string, stdin []byte) ([]byte, error) {
		assert.Equal(t, "tesseract", name)
		assert.NotEmpty(t, stdin)
		gotArgs = args
		return []byte(sampleTSV), nil
	}

	// wider than MaxWidth: boxes are scaled back to capture coordinates
	got, err := ocr.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 2560, 1600)))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, entities.Rect{X: 200, Y: 100, W: 240, H: 40}, got[0].Box)
	assert.Contains(t, gotArgs, "tsv")
	assert.Contains(t, gotArgs, "11")
}

func TestTesseractOCR_RunnerError(t *testing.T) {
	ocr := NewTesseractOCR(DefaultOCRConfig(), nil)
	ocr.run = func(context.Context, string, []string, []byte) ([]byte, error) {
		return nil, errors.New("executable file not found")
	}
	_, err := ocr.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 10, 10)))
	assert.ErrorContains(t, err, "failed to run tesseract")
}
