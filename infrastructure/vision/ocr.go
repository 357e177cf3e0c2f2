// Package vision holds the detector backends: tesseract OCR, a contour detector,
// normalized cross-correlation template matching and the reference-crop library.
package vision

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

// OCRConfig - tesseract invocation options
type OCRConfig struct {
	Binary string `yaml:"binary"`
	Lang   string `yaml:"lang"`
	PSM    int    `yaml:"psm"`

	// MaxWidth downscales wider captures before recognition; 0 disables
	MaxWidth int `yaml:"max_width"`
}

// DefaultOCRConfig - sparse-text page segmentation, captures capped at 1280px wide
func DefaultOCRConfig() OCRConfig {
	return OCRConfig{Binary: "tesseract", Lang: "eng", PSM: 11, MaxWidth: 1280}
}

type runner func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)

// TesseractOCR - Detector running the tesseract CLI and parsing its TSV output into text lines
type TesseractOCR struct {
	cfg    OCRConfig
	run    runner
	logger *logrus.Logger
}

var _ interfaces.Detector = (*TesseractOCR)(nil)

// NewTesseractOCR - creates new OCR detector
func NewTesseractOCR(cfg OCRConfig, logger *logrus.Logger) *TesseractOCR {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	return &TesseractOCR{cfg: cfg, run: execRunner, logger: logger}
}

func execRunner(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func (t *TesseractOCR) Source() entities.ElementSource { return entities.SourceOCR }

// Detect - recognizes text lines in img. Boxes are in img coordinates.
func (t *TesseractOCR) Detect(ctx context.Context, img image.Image) ([]entities.VisualElement, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, nil
	}

	scale := 1.0
	src := img
	if t.cfg.MaxWidth > 0 && b.Dx() > t.cfg.MaxWidth {
		scale = float64(b.Dx()) / float64(t.cfg.MaxWidth)
		src = imaging.Resize(img, t.cfg.MaxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode capture: %w", err)
	}

	args := []string{"stdin", "stdout", "-l", t.cfg.Lang, "--psm", strconv.Itoa(t.cfg.PSM), "tsv"}
	out, err := t.run(ctx, t.cfg.Binary, args, buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to run tesseract: %w", err)
	}

	lines, err := ParseTSV(out, scale)
	if err != nil {
		return nil, err
	}
	if t.logger != nil {
		t.logger.WithFields(logrus.Fields{"lines": len(lines), "scale": scale}).Debug("OCR finished")
	}
	return lines, nil
}

type lineKey struct{ block, par, line int }

type lineAcc struct {
	box   entities.Rect
	words []string
	conf  float64
	order int
}

// ParseTSV - groups tesseract word rows into line elements. Confidence is the mean word
// confidence scaled to [0,1]; boxes are multiplied by scale.
func ParseTSV(data []byte, scale float64) ([]entities.VisualElement, error) {
	if scale <= 0 {
		scale = 1
	}
	acc := make(map[lineKey]*lineAcc)
	var order []lineKey

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	header := true
	for sc.Scan() {
		row := sc.Text()
		if header {
			header = false
			if strings.HasPrefix(row, "level") {
				continue
			}
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		if cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[11])
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 || text == "" {
			continue
		}
		var nums [8]int
		for i := 0; i < 8; i++ {
			n, err := strconv.Atoi(cols[2+i])
			if err != nil {
				return nil, fmt.Errorf("failed to parse tsv row %q: %w", row, err)
			}
			nums[i] = n
		}
		key := lineKey{block: nums[0], par: nums[1], line: nums[2]}
		word := entities.Rect{X: nums[4], Y: nums[5], W: nums[6], H: nums[7]}

		a, ok := acc[key]
		if !ok {
			a = &lineAcc{order: len(order)}
			acc[key] = a
			order = append(order, key)
		}
		a.box = a.box.Union(word)
		a.words = append(a.words, text)
		a.conf += conf
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tsv: %w", err)
	}

	out := make([]entities.VisualElement, 0, len(order))
	for _, k := range order {
		a := acc[k]
		out = append(out, entities.VisualElement{
			Box:        scaleRect(a.box, scale),
			Text:       strings.Join(a.words, " "),
			Confidence: a.conf / float64(len(a.words)) / 100,
			Source:     entities.SourceOCR,
		})
	}
	return out, nil
}

func scaleRect(r entities.Rect, s float64) entities.Rect {
	if s == 1 {
		return r
	}
	return entities.Rect{
		X: int(float64(r.X)*s + 0.5),
		Y: int(float64(r.Y)*s + 0.5),
		W: int(float64(r.W)*s + 0.5),
		H: int(float64(r.H)*s + 0.5),
	}
}
