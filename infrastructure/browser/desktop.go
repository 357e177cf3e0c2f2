// Package browser drives an HTML5 remote-desktop client in a real browser: it captures the
// viewport and injects mouse and keyboard input at absolute viewport coordinates.
package browser

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

// Config - driver selection and browser options
type Config struct {
	// Driver is "playwright" or "selenium"
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	Headless bool   `yaml:"headless"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`

	// StatePath keeps cookies and storage of the remote-desktop client between sessions
	StatePath string `yaml:"state_path"`

	// ChromeDriver and ChromeBinary are only used by the selenium driver
	ChromeDriver string `yaml:"chromedriver"`
	ChromeBinary string `yaml:"chrome_binary"`
	DriverPort   int    `yaml:"driver_port"`
}

// DefaultConfig - headed playwright with a 1280x720 viewport
func DefaultConfig() Config {
	return Config{
		Driver:         "playwright",
		ViewportWidth:  1280,
		ViewportHeight: 720,
		DriverPort:     9515,
	}
}

// New - starts the configured driver
func New(cfg Config, logger *logrus.Logger) (interfaces.RemoteDesktop, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "playwright":
		c, err := NewPlaywrightController(cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "selenium":
		c, err := NewSeleniumController(cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}

// clipRegion - region limited to the viewport; a zero region means the whole viewport
func clipRegion(region entities.Rect, width, height int) (entities.Rect, error) {
	viewport := entities.Rect{W: width, H: height}
	if region.Empty() {
		return viewport, nil
	}
	clipped := region.Intersect(viewport)
	if clipped.Empty() {
		return entities.Rect{}, fmt.Errorf("region %+v is outside the %dx%d viewport", region, width, height)
	}
	return clipped, nil
}

// decodeCapture - decodes a full-viewport PNG screenshot and crops it to region
func decodeCapture(data []byte, region entities.Rect) (*entities.ScreenCapture, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	b := img.Bounds()
	clipped, err := clipRegion(region, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	if clipped != entities.RectFromImage(b) {
		img = imaging.Crop(img, clipped.Image())
	}
	return &entities.ScreenCapture{Image: img, Region: clipped, Timestamp: time.Now()}, nil
}

// playwrightChord - "Control+a" style key name
func playwrightChord(combo entities.KeyCombo) string {
	parts := append(append([]string(nil), combo.Modifiers...), combo.Key)
	return strings.Join(parts, "+")
}
