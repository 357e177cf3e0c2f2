package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"

	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

// PlaywrightController - remote-desktop driver over a playwright chromium page
type PlaywrightController struct {
	pw        *playwright.Playwright
	browser   playwright.Browser
	context   playwright.BrowserContext
	page      playwright.Page
	pageMutex sync.Mutex

	cfg    Config
	logger *logrus.Logger
}

var _ interfaces.RemoteDesktop = (*PlaywrightController)(nil)

// NewPlaywrightController - launches chromium and opens an empty page
func NewPlaywrightController(cfg Config, logger *logrus.Logger) (*PlaywrightController, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	contextOptions := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  cfg.ViewportWidth,
			Height: cfg.ViewportHeight,
		},
		IgnoreHttpsErrors: playwright.Bool(true),
		Permissions:       []string{"clipboard-read", "clipboard-write"},
	}

	if cfg.StatePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0755); err != nil {
			pw.Stop()
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		if _, err := os.Stat(cfg.StatePath); err == nil {
			contextOptions.StorageStatePath = playwright.String(cfg.StatePath)
		}
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--disable-infobars",
			"--disable-notifications",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(contextOptions)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	c := &PlaywrightController{
		pw:      pw,
		browser: browser,
		context: bctx,
		page:    page,
		cfg:     cfg,
		logger:  logger,
	}
	page.OnDialog(func(dialog playwright.Dialog) { dialog.Accept() })

	// Remote-desktop clients sometimes reopen themselves in a popup; follow it.
	bctx.OnPage(func(newPage playwright.Page) {
		c.pageMutex.Lock()
		c.page = newPage
		c.pageMutex.Unlock()
		newPage.OnDialog(func(dialog playwright.Dialog) { dialog.Accept() })
	})

	return c, nil
}

func (c *PlaywrightController) currentPage() playwright.Page {
	c.pageMutex.Lock()
	defer c.pageMutex.Unlock()
	return c.page
}

// Open - navigates the page to the remote-desktop client
func (c *PlaywrightController) Open(ctx context.Context, url string) error {
	c.logger.Infof("Opening remote desktop client: %s", url)
	_, err := c.currentPage().Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(30000),
	})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", url, err)
	}
	return nil
}

// Capture - screenshots region of the viewport
func (c *PlaywrightController) Capture(ctx context.Context, region entities.Rect) (*entities.ScreenCapture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page := c.currentPage()

	width, height := c.cfg.ViewportWidth, c.cfg.ViewportHeight
	if vs := page.ViewportSize(); vs != nil {
		width, height = vs.Width, vs.Height
	}
	clipped, err := clipRegion(region, width, height)
	if err != nil {
		return nil, err
	}

	data, err := page.Screenshot(playwright.PageScreenshotOptions{
		Clip: &playwright.Rect{
			X:      float64(clipped.X),
			Y:      float64(clipped.Y),
			Width:  float64(clipped.W),
			Height: float64(clipped.H),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}

	capture, err := decodeCapture(data, entities.Rect{})
	if err != nil {
		return nil, err
	}
	capture.Region = clipped
	return capture, nil
}

// Click - left click at absolute viewport coordinates
func (c *PlaywrightController) Click(ctx context.Context, x, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.logger.Debugf("Clicking at (%d, %d)", x, y)
	if err := c.currentPage().Mouse().Click(float64(x), float64(y)); err != nil {
		return fmt.Errorf("failed to click at (%d, %d): %w", x, y, err)
	}
	return nil
}

// TypeText - types into whatever has keyboard focus
func (c *PlaywrightController) TypeText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.currentPage().Keyboard().Type(text, playwright.KeyboardTypeOptions{
		Delay: playwright.Float(30),
	}); err != nil {
		return fmt.Errorf("failed to type text: %w", err)
	}
	return nil
}

// KeyCombo - presses a modifier chord such as Control+a
func (c *PlaywrightController) KeyCombo(ctx context.Context, combo entities.KeyCombo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chord := playwrightChord(combo)
	if err := c.currentPage().Keyboard().Press(chord); err != nil {
		return fmt.Errorf("failed to press %s: %w", chord, err)
	}
	time.Sleep(50 * time.Millisecond)
	return nil
}

// SaveState - persists cookies and storage of the client
func (c *PlaywrightController) SaveState() error {
	if c.context == nil || c.cfg.StatePath == "" {
		return nil
	}
	if _, err := c.context.StorageState(c.cfg.StatePath); err != nil {
		if isClosedErr(err) {
			return nil
		}
		return fmt.Errorf("failed to save browser state: %w", err)
	}
	return nil
}

// Close - saves state and shuts the browser down
func (c *PlaywrightController) Close() error {
	var closeErr error

	if err := c.SaveState(); err != nil {
		closeErr = err
	}

	if c.context != nil {
		if err := c.context.Close(); err != nil && !isClosedErr(err) {
			closeErr = joinCloseErr(closeErr, "failed to close context", err)
		}
		c.context = nil
	}

	if c.browser != nil {
		if err := c.browser.Close(); err != nil && !isClosedErr(err) {
			closeErr = joinCloseErr(closeErr, "failed to close browser", err)
		}
		c.browser = nil
	}

	if c.pw != nil {
		if err := c.pw.Stop(); err != nil {
			closeErr = joinCloseErr(closeErr, "failed to stop playwright", err)
		}
		c.pw = nil
	}
	return closeErr
}

func isClosedErr(err error) bool {
	return strings.Contains(err.Error(), "closed")
}

func joinCloseErr(prev error, msg string, err error) error {
	if prev != nil {
		return fmt.Errorf("%v; %s: %w", prev, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
