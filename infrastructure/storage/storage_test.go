package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision_automation/application/memory"
	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

func backends(t *testing.T) map[string]interfaces.MemoryBackend {
	t.Helper()
	js, err := NewJSONMemory(t.TempDir())
	require.NoError(t, err)

	sq, err := NewSQLiteMemory(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	mem, err := NewSQLiteMemory(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	return map[string]interfaces.MemoryBackend{"json": js, "sqlite": sq, "sqlite_memory": mem}
}

func TestBackends_RoundTripThroughStore(t *testing.T) {
	ctx := context.Background()
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := memory.NewStore(backend, nil)
			key := entities.MemoryKey{ContextID: "crm", ScreenID: "a1b2", Target: "Submit"}

			require.NoError(t, store.RecordOutcome(ctx, key, entities.Point{X: 200, Y: 220}, true))
			require.NoError(t, store.RecordOutcome(ctx, key, entities.Point{X: 200, Y: 220}, false))

			rec, err := store.Get(ctx, key)
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, entities.Point{X: 200, Y: 220}, rec.Point())
			assert.Equal(t, 1, rec.SuccessCount)
			assert.Equal(t, 1, rec.FailureCount)
			assert.Equal(t, "submit", rec.Key.Target)
			assert.WithinDuration(t, time.Now(), rec.LastUsed, time.Minute)

			require.NoError(t, store.Invalidate(ctx, key))
			rec, err = store.Get(ctx, key)
			require.NoError(t, err)
			assert.Nil(t, rec)
		})
	}
}

func TestBackends_ListIsScopedAndOrdered(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			recs := []entities.MemoryRecord{
				{Key: entities.MemoryKey{ContextID: "crm", ScreenID: "b", Target: "ok"}, X: 1, Y: 2, SuccessCount: 1, LastUsed: at},
				{Key: entities.MemoryKey{ContextID: "crm", ScreenID: "a", Target: "save"}, X: 3, Y: 4, SuccessCount: 2, LastUsed: at},
				{Key: entities.MemoryKey{ContextID: "crm", ScreenID: "a", Target: "cancel"}, X: 5, Y: 6, FailureCount: 1, LastUsed: at},
				{Key: entities.MemoryKey{ContextID: "erp", ScreenID: "a", Target: "save"}, X: 7, Y: 8, SuccessCount: 1, LastUsed: at},
			}
			for _, r := range recs {
				require.NoError(t, backend.Save(ctx, r))
			}

			got, err := backend.List(ctx, "crm")
			require.NoError(t, err)
			want := []entities.MemoryRecord{recs[2], recs[1], recs[0]}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("List mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestJSONMemory_FileIsHumanReadable(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewJSONMemory(dir)
	require.NoError(t, err)

	rec := entities.MemoryRecord{
		Key:          entities.MemoryKey{ContextID: "crm/prod", ScreenID: "a1", Target: "submit"},
		X:            10,
		Y:            20,
		SuccessCount: 3,
		FailureCount: 1,
		LastUsed:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, backend.Save(context.Background(), rec))

	data, err := os.ReadFile(filepath.Join(dir, "_Y3JtL3Byb2Q.json"))
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "crm/prod", doc["context_id"])
	records := doc["records"].([]interface{})
	require.Len(t, records, 1)
	first := records[0].(map[string]interface{})
	assert.Equal(t, "submit", first["target"])
	assert.Equal(t, float64(3), first["success_count"])
	assert.NotContains(t, first, "success_rate")
}

func TestJSONMemory_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crm.json"), []byte("{not json"), 0644))
	backend, err := NewJSONMemory(dir)
	require.NoError(t, err)

	_, err = backend.Load(context.Background(), entities.MemoryKey{ContextID: "crm", ScreenID: "a", Target: "ok"})
	assert.Error(t, err)
}

func TestJSONMemory_SimilarContextsStayIsolated(t *testing.T) {
	ctx := context.Background()
	backend, err := NewJSONMemory(t.TempDir())
	require.NoError(t, err)

	contexts := []string{"suite/login", "suite_login", "suite login", "Suite-Login", "suite-login", ""}
	for i, c := range contexts {
		rec := entities.MemoryRecord{Key: entities.MemoryKey{ContextID: c, ScreenID: "s1", Target: "submit"}, X: i, Y: i, SuccessCount: 1}
		require.NoError(t, backend.Save(ctx, rec))
	}

	for i, c := range contexts {
		got, err := backend.List(ctx, c)
		require.NoError(t, err)
		require.Len(t, got, 1, "context %q", c)
		assert.Equal(t, c, got[0].Key.ContextID)
		assert.Equal(t, i, got[0].X, "context %q", c)
	}

	require.NoError(t, backend.Delete(ctx, entities.MemoryKey{ContextID: "suite/login", ScreenID: "s1", Target: "submit"}))
	gone, err := backend.Load(ctx, entities.MemoryKey{ContextID: "suite/login", ScreenID: "s1", Target: "submit"})
	require.NoError(t, err)
	assert.Nil(t, gone)
	for _, c := range contexts[1:] {
		rec, err := backend.Load(ctx, entities.MemoryKey{ContextID: c, ScreenID: "s1", Target: "submit"})
		require.NoError(t, err)
		assert.NotNil(t, rec, "context %q lost its record", c)
	}
}

func TestJSONMemory_RejectsFileOfAnotherContext(t *testing.T) {
	dir := t.TempDir()
	doc := `{"context_id": "erp", "records": [{"screen_id": "a", "target": "ok", "x": 1, "y": 2}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crm.json"), []byte(doc), 0644))
	backend, err := NewJSONMemory(dir)
	require.NoError(t, err)

	_, err = backend.Load(context.Background(), entities.MemoryKey{ContextID: "crm", ScreenID: "a", Target: "ok"})
	assert.ErrorContains(t, err, `belongs to context "erp"`)
}
