package entities

import (
	"fmt"
	"sort"
	"time"
)

// MemoryKey identifies a remembered resolution. Target is normalized.
type MemoryKey struct {
	ContextID string `json:"context_id"`
	ScreenID  string `json:"screen_id"`
	Target    string `json:"target"`
}

// String - readable form used in logs
func (k MemoryKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ContextID, k.ScreenID, k.Target)
}

// MemoryRecord is the last known resolution for a key
type MemoryRecord struct {
	Key          MemoryKey `json:"key"`
	X            int       `json:"x"`
	Y            int       `json:"y"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	LastUsed     time.Time `json:"last_used"`
}

// Point - remembered coordinates
func (r *MemoryRecord) Point() Point {
	return Point{X: r.X, Y: r.Y}
}

// SuccessRate - success_count / (success_count + failure_count); zero when unused
func (r *MemoryRecord) SuccessRate() float64 {
	total := r.SuccessCount + r.FailureCount
	if total == 0 {
		return 0
	}
	return float64(r.SuccessCount) / float64(total)
}

// Confirmed - true once at least one success was recorded
func (r *MemoryRecord) Confirmed() bool {
	return r.SuccessCount > 0
}

// SortRecords - orders records by screen id, then target
func SortRecords(recs []MemoryRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Key.ScreenID != recs[j].Key.ScreenID {
			return recs[i].Key.ScreenID < recs[j].Key.ScreenID
		}
		return recs[i].Key.Target < recs[j].Key.Target
	})
}
