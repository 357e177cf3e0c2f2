package interfaces

import (
	"context"
	"image"

	"vision_automation/domain/entities"
)

// MemoryStore is the coordinate memory consulted by the match engine and updated by the executor
type MemoryStore interface {
	// Get returns nil when no record exists for the key
	Get(ctx context.Context, key entities.MemoryKey) (*entities.MemoryRecord, error)

	// RecordOutcome updates counters and last_used, creating the record when needed
	RecordOutcome(ctx context.Context, key entities.MemoryKey, point entities.Point, success bool) error

	// Invalidate deletes the record for key
	Invalidate(ctx context.Context, key entities.MemoryKey) error

	// List returns every record of a context
	List(ctx context.Context, contextID string) ([]entities.MemoryRecord, error)
}

// MemoryBackend is durable key-value storage for memory records, scoped by context
type MemoryBackend interface {
	Load(ctx context.Context, key entities.MemoryKey) (*entities.MemoryRecord, error)
	Save(ctx context.Context, rec entities.MemoryRecord) error
	Delete(ctx context.Context, key entities.MemoryKey) error
	List(ctx context.Context, contextID string) ([]entities.MemoryRecord, error)
	Close() error
}

// ArtifactStore persists captures for audit
type ArtifactStore interface {
	PutImage(ctx context.Context, runID, name string, img image.Image) (string, error)
}
