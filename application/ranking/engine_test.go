package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision_automation/domain/entities"
)

func newState(elements ...entities.VisualElement) *entities.ScreenState {
	return &entities.ScreenState{
		ScreenID: "abc123",
		Region:   entities.Rect{X: 100, Y: 100, W: 800, H: 600},
		Elements: elements,
	}
}

func TestRank_BestFirst(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	state := newState(
		entities.VisualElement{Box: entities.Rect{X: 50, Y: 50, W: 80, H: 30}, Text: "cancel", Confidence: 0.9},
		entities.VisualElement{Box: entities.Rect{X: 200, Y: 50, W: 80, H: 30}, Text: "submit", Confidence: 0.9},
	)

	got := e.Rank(state, Query{Target: "submit"})
	require.NotEmpty(t, got)
	assert.Equal(t, "submit", got[0].Element.Text)
	assert.Equal(t, 1, got[0].Order)
	assert.InDelta(t, 1.0, got[0].Scores.Fuzzy, 1e-9)
}

func TestRank_TieBrokenBySmallerAreaThenOrder(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	big := entities.VisualElement{Box: entities.Rect{X: 10, Y: 10, W: 120, H: 40}, Text: "ok", Confidence: 1}
	small := entities.VisualElement{Box: entities.Rect{X: 300, Y: 10, W: 60, H: 30}, Text: "ok", Confidence: 1}
	twin := entities.VisualElement{Box: entities.Rect{X: 400, Y: 10, W: 60, H: 30}, Text: "ok", Confidence: 1}

	got := e.Rank(newState(big, twin, small), Query{Target: "ok", Short: true})
	require.Len(t, got, 3)
	assert.Equal(t, twin.Box, got[0].Element.Box)
	assert.Equal(t, small.Box, got[1].Element.Box)
	assert.Equal(t, big.Box, got[2].Element.Box)
}

func TestRank_DropsBelowFloor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Floor = 0.5
	e := NewEngine(cfg, nil)
	state := newState(
		entities.VisualElement{Box: entities.Rect{X: 10, Y: 10, W: 80, H: 30}, Text: "zzz", Confidence: 0.2},
	)
	assert.Empty(t, e.Rank(state, Query{Target: "submit"}))
}

func TestRank_MemorySignal(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	a := entities.VisualElement{Box: entities.Rect{X: 10, Y: 10, W: 80, H: 30}, Text: "save", Confidence: 0.9}
	b := entities.VisualElement{Box: entities.Rect{X: 10, Y: 200, W: 80, H: 30}, Text: "save", Confidence: 0.9}
	rec := &entities.MemoryRecord{X: 100 + 50, Y: 100 + 215, SuccessCount: 3}

	got := e.Rank(newState(a, b), Query{Target: "save", Memory: rec})
	require.Len(t, got, 2)
	assert.Equal(t, b.Box, got[0].Element.Box)
	assert.Equal(t, 1.0, got[0].Scores.Memory)
	assert.Equal(t, 0.0, got[1].Scores.Memory)

	unconfirmed := &entities.MemoryRecord{X: 150, Y: 315, FailureCount: 2}
	got = e.Rank(newState(a, b), Query{Target: "save", Memory: unconfirmed})
	assert.Equal(t, 0.0, got[0].Scores.Memory)
}

func TestGeometryScore(t *testing.T) {
	bounds := entities.Rect{W: 800, H: 600}

	button := GeometryScore(entities.Rect{X: 100, Y: 100, W: 80, H: 30}, bounds)
	panel := GeometryScore(entities.Rect{X: 10, Y: 10, W: 700, H: 500}, bounds)
	edge := GeometryScore(entities.Rect{X: 0, Y: 100, W: 80, H: 30}, bounds)
	off := GeometryScore(entities.Rect{X: 780, Y: 100, W: 80, H: 30}, bounds)

	assert.Equal(t, 1.0, button)
	assert.Less(t, panel, button)
	assert.Less(t, edge, button)
	assert.Less(t, off, edge)
	assert.Equal(t, 0.0, GeometryScore(entities.Rect{}, bounds))
}
