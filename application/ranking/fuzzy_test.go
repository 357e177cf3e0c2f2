package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vision_automation/application/normalize"
)

func TestRatio(t *testing.T) {
	assert.Equal(t, 100.0, Ratio("submit", "submit"))
	assert.Equal(t, 0.0, Ratio("abc", "xyz"))
	assert.InDelta(t, 75.0, Ratio("abcd", "abce"), 1e-9)
	assert.Equal(t, 100.0, Ratio("", ""))
}

func TestPartialRatio(t *testing.T) {
	assert.Equal(t, 100.0, PartialRatio("ok", "ok button"))
	assert.Equal(t, 100.0, PartialRatio("cancel booking", "cancel"))
	assert.Equal(t, 0.0, PartialRatio("", "x"))
}

func TestTokenSetRatio(t *testing.T) {
	assert.Equal(t, 100.0, TokenSetRatio("log in", "in log"))
	assert.Equal(t, 100.0, TokenSetRatio("submit", "submit form"))
	assert.Less(t, TokenSetRatio("submit", "cancel"), 50.0)
	assert.Equal(t, 0.0, TokenSetRatio("", "cancel"))
}

func TestTextScore_ShortTargetOCRConfusion(t *testing.T) {
	target := normalize.Normalize("OK")
	text := normalize.Normalize("0K")

	score := TextScore(target, text, normalize.IsShort(target))
	assert.GreaterOrEqual(t, score, 60.0)
	assert.Equal(t, 100.0, score)
}

func TestTextScore_PrefersExactTokenForShortTargets(t *testing.T) {
	exact := TextScore("ok", "ok", true)
	embedded := TextScore("ok", "booking", true)
	assert.Greater(t, exact, embedded)
}

func TestTextScore_Empty(t *testing.T) {
	assert.Equal(t, 0.0, TextScore("", "x", false))
	assert.Equal(t, 0.0, TextScore("x", "", true))
}

func TestTextScore_ShortTargetFloorIsWholeToken(t *testing.T) {
	tok := TokenSetRatio("ok", "booking")
	part := PartialRatio("ok", "booking")
	rat := Ratio("ok", "booking")

	embedded := TextScore("ok", "booking", true)
	assert.InDelta(t, 0.4*tok+0.5*part+0.1*rat, embedded, 1e-9)
	assert.Less(t, embedded, part)

	assert.Equal(t, 100.0, TextScore("ok", "press ok now", true))
}
