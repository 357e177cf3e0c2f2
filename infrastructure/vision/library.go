package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"vision_automation/domain/interfaces"
)

// TemplateLibrary - reference crops stored as <dir>/<context>/<target>.png, cached in memory.
// Files edited or removed on disk are evicted from the cache once Watch is running.
type TemplateLibrary struct {
	dir    string
	logger *logrus.Logger

	mu    sync.RWMutex
	cache map[string]image.Image

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ interfaces.TemplateLibrary = (*TemplateLibrary)(nil)

// NewTemplateLibrary - creates the library rooted at dir
func NewTemplateLibrary(dir string, logger *logrus.Logger) (*TemplateLibrary, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create template dir: %w", err)
	}
	return &TemplateLibrary{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]image.Image),
	}, nil
}

var plainSegment = regexp.MustCompile(`^[a-z0-9-]+$`)

// segment - plain names are kept, anything else becomes "_" + base64url(s).
// The mapping is injective and never yields "." or "..".
func segment(s string) string {
	if plainSegment.MatchString(s) {
		return s
	}
	return "_" + base64.RawURLEncoding.EncodeToString([]byte(s))
}

// Path - file that holds the crop for (contextID, target)
func (l *TemplateLibrary) Path(contextID, target string) string {
	return filepath.Join(l.dir, segment(contextID), segment(target)+".png")
}

// Load - returns the crop, nil when none was saved
func (l *TemplateLibrary) Load(_ context.Context, contextID, target string) (image.Image, error) {
	path := l.Path(contextID, target)

	l.mu.RLock()
	img, ok := l.cache[path]
	l.mu.RUnlock()
	if ok {
		return img, nil
	}

	img, err := imaging.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open template %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = img
	l.mu.Unlock()
	return img, nil
}

// Save - writes the crop and refreshes the cache
func (l *TemplateLibrary) Save(_ context.Context, contextID, target string, crop image.Image) error {
	path := l.Path(contextID, target)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create template dir: %w", err)
	}
	if err := imaging.Save(crop, path); err != nil {
		return fmt.Errorf("failed to save template %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = crop
	w := l.watcher
	l.mu.Unlock()
	if w != nil {
		// new context directories are not covered by the initial watch
		_ = w.Add(dir)
	}

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{"context": contextID, "target": target}).Debug("Reference template saved")
	}
	return nil
}

// Watch - starts evicting cache entries on file changes. Stop with Close.
func (l *TemplateLibrary) Watch(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(l.dir); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}
	entries, _ := os.ReadDir(l.dir)
	for _, e := range entries {
		if e.IsDir() {
			_ = w.Add(filepath.Join(l.dir, e.Name()))
		}
	}

	l.watcher = w
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.run(ctx, w, l.stopCh, l.doneCh)
	return nil
}

func (l *TemplateLibrary) run(ctx context.Context, w *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			l.handle(w, event)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if l.logger != nil {
				l.logger.WithError(err).Warn("Template watcher error")
			}
		}
	}
}

func (l *TemplateLibrary) handle(w *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
			_ = w.Add(event.Name)
			return
		}
	}
	if !strings.HasSuffix(event.Name, ".png") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
		return
	}

	l.mu.Lock()
	delete(l.cache, event.Name)
	l.mu.Unlock()
	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{"path": event.Name, "op": event.Op.String()}).Debug("Template cache entry evicted")
	}
}

// Cached - reports whether the crop for (contextID, target) is in memory
func (l *TemplateLibrary) Cached(contextID, target string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.cache[l.Path(contextID, target)]
	return ok
}

// Close - stops the watcher
func (l *TemplateLibrary) Close() error {
	l.mu.Lock()
	w, stop, done := l.watcher, l.stopCh, l.doneCh
	l.watcher = nil
	l.mu.Unlock()
	if w == nil {
		return nil
	}
	close(stop)
	<-done
	return w.Close()
}
