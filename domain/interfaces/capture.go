package interfaces

import (
	"context"

	"vision_automation/domain/entities"
)

// CaptureProvider grabs frames of the remote desktop
type CaptureProvider interface {
	// Capture grabs the given absolute screen region. A zero region means the whole display.
	Capture(ctx context.Context, region entities.Rect) (*entities.ScreenCapture, error)
}

// InputInjector performs mouse and keyboard actions at absolute coordinates
type InputInjector interface {
	Click(ctx context.Context, x, y int) error
	TypeText(ctx context.Context, text string) error
	KeyCombo(ctx context.Context, combo entities.KeyCombo) error
}

// RemoteDesktop is a driver that both captures and injects input
type RemoteDesktop interface {
	CaptureProvider
	InputInjector

	// Open connects the driver to the remote-desktop client
	Open(ctx context.Context, url string) error

	// Close releases the driver
	Close() error
}
