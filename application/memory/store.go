// Package memory keeps remembered click coordinates per (context, screen, target).
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vision_automation/application/normalize"
	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

// Store - MemoryStore over a persistence backend. All mutations are serialized.
type Store struct {
	backend interfaces.MemoryBackend
	logger  *logrus.Logger
	now     func() time.Time
	mu      sync.Mutex
}

var _ interfaces.MemoryStore = (*Store)(nil)

// NewStore - creates new memory store
func NewStore(backend interfaces.MemoryBackend, logger *logrus.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// NormalizeKey - applies the label normalizer to the target and trims the ids
func NormalizeKey(key entities.MemoryKey) entities.MemoryKey {
	return entities.MemoryKey{
		ContextID: strings.TrimSpace(key.ContextID),
		ScreenID:  strings.TrimSpace(key.ScreenID),
		Target:    normalize.Normalize(key.Target),
	}
}

// Get - returns the record for key, nil when absent
func (s *Store) Get(ctx context.Context, key entities.MemoryKey) (*entities.MemoryRecord, error) {
	key = NormalizeKey(key)
	if key.Target == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.backend.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load memory record %s: %w", key, err)
	}
	return rec, nil
}

// RecordOutcome - success overwrites the coordinates and bumps success_count;
// failure bumps failure_count, creating an unconfirmed record when the key is new
func (s *Store) RecordOutcome(ctx context.Context, key entities.MemoryKey, point entities.Point, success bool) error {
	key = NormalizeKey(key)
	if key.Target == "" {
		return fmt.Errorf("failed to record outcome: empty target")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.backend.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load memory record %s: %w", key, err)
	}
	if rec == nil {
		rec = &entities.MemoryRecord{Key: key, X: point.X, Y: point.Y}
	}

	if success {
		rec.X, rec.Y = point.X, point.Y
		rec.SuccessCount++
	} else {
		rec.FailureCount++
	}
	rec.LastUsed = s.now()

	if err := s.backend.Save(ctx, *rec); err != nil {
		return fmt.Errorf("failed to save memory record %s: %w", key, err)
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"key":          key.String(),
			"success":      success,
			"x":            rec.X,
			"y":            rec.Y,
			"success_rate": rec.SuccessRate(),
		}).Debug("Memory outcome recorded")
	}
	return nil
}

// Invalidate - deletes the record for key; a missing record is not an error
func (s *Store) Invalidate(ctx context.Context, key entities.MemoryKey) error {
	key = NormalizeKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to invalidate memory record %s: %w", key, err)
	}
	if s.logger != nil {
		s.logger.WithField("key", key.String()).Info("Memory record invalidated")
	}
	return nil
}

// List - returns every record of a context
func (s *Store) List(ctx context.Context, contextID string) ([]entities.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.backend.List(ctx, strings.TrimSpace(contextID))
	if err != nil {
		return nil, fmt.Errorf("failed to list memory records: %w", err)
	}
	return recs, nil
}

// Close - closes the backend
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Close()
}
