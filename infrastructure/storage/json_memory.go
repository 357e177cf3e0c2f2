package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

// jsonRecord is the on-disk shape. Success rate is derived and never written.
type jsonRecord struct {
	ScreenID     string    `json:"screen_id"`
	Target       string    `json:"target"`
	X            int       `json:"x"`
	Y            int       `json:"y"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	LastUsed     time.Time `json:"last_used"`
}

type jsonDocument struct {
	ContextID string       `json:"context_id"`
	Records   []jsonRecord `json:"records"`
}

type jsonMemory struct {
	dir string
	mu  sync.Mutex
}

var _ interfaces.MemoryBackend = (*jsonMemory)(nil)

// DefaultDir - ~/.vision_automation/memory
func DefaultDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".vision_automation", "memory")
}

// NewJSONMemory - creates a memory backend with one JSON file per context under dir
func NewJSONMemory(dir string) (interfaces.MemoryBackend, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create memory dir: %w", err)
	}
	return &jsonMemory{dir: dir}, nil
}

var plainName = regexp.MustCompile(`^[a-z0-9-]+$`)

// fileName - plain ids keep their name, anything else is "_" + base64url(id).
// Plain names never contain "_", so the two forms cannot collide.
func fileName(contextID string) string {
	if plainName.MatchString(contextID) {
		return contextID
	}
	return "_" + base64.RawURLEncoding.EncodeToString([]byte(contextID))
}

func (s *jsonMemory) path(contextID string) string {
	return filepath.Join(s.dir, fileName(contextID)+".json")
}

// load - reads a context file, empty when the file does not exist
func (s *jsonMemory) load(contextID string) (*jsonDocument, error) {
	data, err := os.ReadFile(s.path(contextID))
	if err != nil {
		if os.IsNotExist(err) {
			return &jsonDocument{ContextID: contextID}, nil
		}
		return nil, err
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path(contextID), err)
	}
	if doc.ContextID != contextID {
		return nil, fmt.Errorf("memory file %s belongs to context %q, not %q", s.path(contextID), doc.ContextID, contextID)
	}
	return &doc, nil
}

// save - writes via a temp file so readers never see a partial document
func (s *jsonMemory) save(doc *jsonDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	path := s.path(doc.ContextID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *jsonMemory) find(doc *jsonDocument, key entities.MemoryKey) int {
	for i, r := range doc.Records {
		if r.ScreenID == key.ScreenID && r.Target == key.Target {
			return i
		}
	}
	return -1
}

// Load - returns the record for key, nil when absent
func (s *jsonMemory) Load(_ context.Context, key entities.MemoryKey) (*entities.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(key.ContextID)
	if err != nil {
		return nil, err
	}
	i := s.find(doc, key)
	if i < 0 {
		return nil, nil
	}
	rec := toRecord(key.ContextID, doc.Records[i])
	return &rec, nil
}

// Save - inserts or replaces the record
func (s *jsonMemory) Save(_ context.Context, rec entities.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(rec.Key.ContextID)
	if err != nil {
		return err
	}
	jr := jsonRecord{
		ScreenID:     rec.Key.ScreenID,
		Target:       rec.Key.Target,
		X:            rec.X,
		Y:            rec.Y,
		SuccessCount: rec.SuccessCount,
		FailureCount: rec.FailureCount,
		LastUsed:     rec.LastUsed.UTC(),
	}
	if i := s.find(doc, rec.Key); i >= 0 {
		doc.Records[i] = jr
	} else {
		doc.Records = append(doc.Records, jr)
	}
	return s.save(doc)
}

// Delete - removes the record; missing records are ignored
func (s *jsonMemory) Delete(_ context.Context, key entities.MemoryKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(key.ContextID)
	if err != nil {
		return err
	}
	i := s.find(doc, key)
	if i < 0 {
		return nil
	}
	doc.Records = append(doc.Records[:i], doc.Records[i+1:]...)
	return s.save(doc)
}

// List - every record of a context
func (s *jsonMemory) List(_ context.Context, contextID string) ([]entities.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(contextID)
	if err != nil {
		return nil, err
	}
	out := make([]entities.MemoryRecord, 0, len(doc.Records))
	for _, r := range doc.Records {
		out = append(out, toRecord(contextID, r))
	}
	entities.SortRecords(out)
	return out, nil
}

func (s *jsonMemory) Close() error { return nil }

func toRecord(contextID string, r jsonRecord) entities.MemoryRecord {
	return entities.MemoryRecord{
		Key:          entities.MemoryKey{ContextID: contextID, ScreenID: r.ScreenID, Target: r.Target},
		X:            r.X,
		Y:            r.Y,
		SuccessCount: r.SuccessCount,
		FailureCount: r.FailureCount,
		LastUsed:     r.LastUsed,
	}
}
