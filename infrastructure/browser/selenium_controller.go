package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"

	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

// clickScript dispatches a full mouse sequence on whatever element sits under the point.
// Canvas based clients read clientX/clientY from the event.
const clickScript = `
var x = arguments[0], y = arguments[1];
var el = document.elementFromPoint(x, y);
if (!el) { return false; }
['mousemove', 'mousedown', 'mouseup', 'click'].forEach(function (type) {
	el.dispatchEvent(new MouseEvent(type, {
		bubbles: true, cancelable: true, view: window,
		clientX: x, clientY: y, button: 0, buttons: type === 'mousedown' ? 1 : 0
	}));
});
if (el.focus) { el.focus(); }
return true;
`

// SeleniumController - remote-desktop driver over chromedriver
type SeleniumController struct {
	wd      selenium.WebDriver
	service *selenium.Service
	logger  *logrus.Logger
}

var _ interfaces.RemoteDesktop = (*SeleniumController)(nil)

// findChromeDriver - finds ChromeDriver executable path
func findChromeDriver(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err == nil {
			return configured, nil
		}
	}

	commonPaths := []string{
		"/usr/local/bin/chromedriver",
		"/usr/bin/chromedriver",
		"/opt/homebrew/bin/chromedriver",
		filepath.Join(os.Getenv("HOME"), "bin", "chromedriver"),
	}
	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if path, err := exec.LookPath("chromedriver"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("chromedriver not found. Install it or set browser.chromedriver")
}

// NewSeleniumController - starts chromedriver and a chrome session
func NewSeleniumController(cfg Config, logger *logrus.Logger) (*SeleniumController, error) {
	driverPath, err := findChromeDriver(cfg.ChromeDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to find chromedriver: %w", err)
	}
	logger.Infof("Using ChromeDriver at: %s", driverPath)

	port := cfg.DriverPort
	if port == 0 {
		port = 9515
	}
	service, err := selenium.NewChromeDriverService(driverPath, port)
	if err != nil {
		return nil, fmt.Errorf("failed to start chromedriver: %w", err)
	}

	args := []string{
		"--disable-dev-shm-usage",
		"--disable-infobars",
		fmt.Sprintf("--window-size=%d,%d", cfg.ViewportWidth, cfg.ViewportHeight),
	}
	if cfg.Headless {
		args = append(args, "--headless=new")
	}
	chromeCaps := chrome.Capabilities{Args: args}
	if cfg.ChromeBinary != "" {
		chromeCaps.Path = cfg.ChromeBinary
	}

	caps := selenium.Capabilities{"browserName": "chrome"}
	caps.AddChrome(chromeCaps)

	wd, err := selenium.NewRemote(caps, fmt.Sprintf("http://localhost:%d/wd/hub", port))
	if err != nil {
		service.Stop()
		return nil, fmt.Errorf("failed to create webdriver: %w", err)
	}

	return &SeleniumController{wd: wd, service: service, logger: logger}, nil
}

// Open - navigates to the remote-desktop client
func (s *SeleniumController) Open(ctx context.Context, url string) error {
	s.logger.Infof("Opening remote desktop client: %s", url)
	if err := s.wd.Get(url); err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	return nil
}

// Capture - screenshots the window and crops region out of it
func (s *SeleniumController) Capture(ctx context.Context, region entities.Rect) (*entities.ScreenCapture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.wd.Screenshot()
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return decodeCapture(data, region)
}

// Click - dispatches a click at absolute viewport coordinates
func (s *SeleniumController) Click(ctx context.Context, x, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Debugf("Clicking at (%d, %d)", x, y)
	res, err := s.wd.ExecuteScript(clickScript, []interface{}{x, y})
	if err != nil {
		return fmt.Errorf("failed to click at (%d, %d): %w", x, y, err)
	}
	if ok, _ := res.(bool); !ok {
		return fmt.Errorf("no element at (%d, %d)", x, y)
	}
	return nil
}

// TypeText - sends keys to the focused element
func (s *SeleniumController) TypeText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	el, err := s.wd.ActiveElement()
	if err != nil {
		return fmt.Errorf("failed to find focused element: %w", err)
	}
	if err := el.SendKeys(text); err != nil {
		return fmt.Errorf("failed to type text: %w", err)
	}
	return nil
}

// KeyCombo - sends a modifier chord to the focused element
func (s *SeleniumController) KeyCombo(ctx context.Context, combo entities.KeyCombo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	el, err := s.wd.ActiveElement()
	if err != nil {
		return fmt.Errorf("failed to find focused element: %w", err)
	}
	keys, err := seleniumChord(combo)
	if err != nil {
		return err
	}
	if err := el.SendKeys(keys); err != nil {
		return fmt.Errorf("failed to press %s: %w", playwrightChord(combo), err)
	}
	return nil
}

// seleniumChord - WebDriver key sequence; modifiers stay pressed until the null key
func seleniumChord(combo entities.KeyCombo) (string, error) {
	var b strings.Builder
	for _, m := range combo.Modifiers {
		switch strings.ToLower(m) {
		case "control", "ctrl":
			b.WriteString(selenium.ControlKey)
		case "meta", "command", "cmd":
			b.WriteString(selenium.MetaKey)
		case "shift":
			b.WriteString(selenium.ShiftKey)
		case "alt":
			b.WriteString(selenium.AltKey)
		default:
			return "", fmt.Errorf("unsupported modifier %q", m)
		}
	}
	b.WriteString(combo.Key)
	b.WriteString(selenium.NullKey)
	return b.String(), nil
}

// Close - closes browser and stops ChromeDriver service
func (s *SeleniumController) Close() error {
	if s.wd != nil {
		s.wd.Quit()
	}
	if s.service != nil {
		s.service.Stop()
	}
	return nil
}
