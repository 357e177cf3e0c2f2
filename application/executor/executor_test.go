package executor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision_automation/application/match"
	"vision_automation/application/state"
	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

// frame - 100x100 white image with the first n pixels black
func frame(n int) image.Image {
	img := image.NewGray(image.Rect(0, 0, 100, 100))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for i := 0; i < n; i++ {
		img.SetGray(i%100, i/100, color.Gray{Y: 0})
	}
	return img
}

type fakeInput struct {
	calls []string
	combo []entities.KeyCombo
	typed []string
	err   error
}

func (f *fakeInput) Click(_ context.Context, x, y int) error {
	f.calls = append(f.calls, "click")
	return f.err
}

func (f *fakeInput) TypeText(_ context.Context, text string) error {
	f.calls = append(f.calls, "type")
	f.typed = append(f.typed, text)
	return nil
}

func (f *fakeInput) KeyCombo(_ context.Context, combo entities.KeyCombo) error {
	f.calls = append(f.calls, "combo")
	f.combo = append(f.combo, combo)
	return nil
}

type fakeCapture struct {
	frames []image.Image
	last   image.Image
}

func (f *fakeCapture) Capture(_ context.Context, region entities.Rect) (*entities.ScreenCapture, error) {
	if len(f.frames) > 0 {
		f.last, f.frames = f.frames[0], f.frames[1:]
	}
	return &entities.ScreenCapture{Image: f.last, Region: region}, nil
}

type fakePerceiver struct {
	capture *fakeCapture
	calls   int
}

func (f *fakePerceiver) Perceive(_ context.Context, region entities.Rect, contextID string) (*entities.ScreenState, error) {
	f.calls++
	return &entities.ScreenState{
		ScreenID:  "s1",
		ContextID: contextID,
		Region:    region,
		Capture:   &entities.ScreenCapture{Image: f.capture.last, Region: region},
	}, nil
}

type fakeResolver struct {
	results []*entities.MatchResult
	errs    []error
	opts    []match.Options
}

func (f *fakeResolver) Resolve(_ context.Context, _ *entities.ScreenState, _ entities.Target, opts match.Options) (*entities.MatchResult, error) {
	f.opts = append(f.opts, opts)
	i := len(f.opts) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return f.results[len(f.results)-1], nil
}

type outcome struct {
	point   entities.Point
	success bool
}

type fakeMemory struct {
	invalidated []entities.MemoryKey
	outcomes    []outcome
}

func (f *fakeMemory) Get(context.Context, entities.MemoryKey) (*entities.MemoryRecord, error) {
	return nil, nil
}

func (f *fakeMemory) RecordOutcome(_ context.Context, _ entities.MemoryKey, p entities.Point, success bool) error {
	f.outcomes = append(f.outcomes, outcome{p, success})
	return nil
}

func (f *fakeMemory) Invalidate(_ context.Context, key entities.MemoryKey) error {
	f.invalidated = append(f.invalidated, key)
	return nil
}

func (f *fakeMemory) List(context.Context, string) ([]entities.MemoryRecord, error) { return nil, nil }

type fixture struct {
	input     *fakeInput
	capture   *fakeCapture
	perceiver *fakePerceiver
	resolver  *fakeResolver
	memory    *fakeMemory
	events    []entities.Event
	exec      *Executor
}

func newFixture(posts ...image.Image) *fixture {
	f := &fixture{
		input:    &fakeInput{},
		capture:  &fakeCapture{frames: posts},
		resolver: &fakeResolver{},
		memory:   &fakeMemory{},
	}
	f.perceiver = &fakePerceiver{capture: f.capture}
	sink := interfaces.EventFunc(func(ev entities.Event) { f.events = append(f.events, ev) })
	f.exec = NewExecutor(f.input, f.capture, f.perceiver, f.resolver, f.memory,
		state.NewBuilder(state.DefaultConfig(), nil), sink, nil, DefaultConfig(), nil)
	f.exec.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return f
}

var key = entities.MemoryKey{ContextID: "crm", ScreenID: "s1", Target: "save"}

func before() *entities.ScreenState {
	region := entities.Rect{X: 0, Y: 0, W: 100, H: 100}
	return &entities.ScreenState{
		ScreenID:  "s1",
		ContextID: "crm",
		Region:    region,
		Capture:   &entities.ScreenCapture{Image: frame(0), Region: region},
	}
}

func resolved(x, y int) *entities.MatchResult {
	return &entities.MatchResult{Point: entities.Point{X: x, Y: y}, Method: entities.MethodMemory, Key: key}
}

func clickTarget() entities.Target {
	return entities.Target{Label: "Save", Normalized: "save", Kind: entities.ActionClick}
}

func TestExecute_Success(t *testing.T) {
	f := newFixture(frame(200))

	out := f.exec.Execute(context.Background(), clickTarget(), resolved(10, 10), before())

	assert.Equal(t, entities.StatusSuccess, out.Status)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, entities.AttemptSuccess, out.Attempts[0].Outcome)
	assert.InDelta(t, 0.02, out.Attempts[0].PixelDiffRatio, 1e-9)
	assert.NotEqual(t, out.Attempts[0].PreHash, "")
	assert.Equal(t, 0, out.Retries())
	assert.Empty(t, f.memory.invalidated)
	assert.Equal(t, []outcome{{entities.Point{X: 10, Y: 10}, true}}, f.memory.outcomes)
}

func TestExecute_GhostInvalidatesOnceThenRetries(t *testing.T) {
	// 20 of 10000 pixels change on the first click: 0.2%
	f := newFixture(frame(20), frame(120))
	f.resolver.results = []*entities.MatchResult{resolved(40, 40)}

	out := f.exec.Execute(context.Background(), clickTarget(), resolved(10, 10), before())

	require.Equal(t, entities.StatusSuccess, out.Status)
	require.Len(t, out.Attempts, 2)
	assert.Equal(t, entities.AttemptGhost, out.Attempts[0].Outcome)
	assert.InDelta(t, 0.002, out.Attempts[0].PixelDiffRatio, 1e-9)
	assert.Equal(t, entities.AttemptSuccess, out.Attempts[1].Outcome)
	assert.Equal(t, entities.Point{X: 40, Y: 40}, out.Attempts[1].Point)
	assert.Equal(t, 1, out.Retries())

	assert.Equal(t, []entities.MemoryKey{key}, f.memory.invalidated)
	assert.Equal(t, 1, f.perceiver.calls)
	require.Len(t, f.resolver.opts, 1)
	assert.True(t, f.resolver.opts[0].SkipMemory)
	assert.Equal(t, []outcome{{entities.Point{X: 40, Y: 40}, true}}, f.memory.outcomes)
	assert.Len(t, f.events, 2)
}

func TestExecute_GhostExhaustsRetries(t *testing.T) {
	f := newFixture(frame(0))
	f.resolver.results = []*entities.MatchResult{resolved(10, 10)}

	out := f.exec.Execute(context.Background(), clickTarget(), resolved(10, 10), before())

	assert.Equal(t, entities.StatusFailed, out.Status)
	assert.ErrorIs(t, out.Err, entities.ErrGhostClick)
	assert.Len(t, out.Attempts, 3)
	assert.Equal(t, 2, out.Retries())
	for _, a := range out.Attempts {
		assert.Equal(t, entities.AttemptGhost, a.Outcome)
	}
	assert.Len(t, f.memory.invalidated, 3)
	assert.Equal(t, []outcome{{entities.Point{X: 10, Y: 10}, false}}, f.memory.outcomes)
	assert.Len(t, f.input.calls, 3)
}

func TestExecute_ReResolutionFailure(t *testing.T) {
	f := newFixture(frame(0))
	f.resolver.errs = []error{&entities.ResolutionFailure{Target: "Save", Stage: "template", Threshold: 75}}

	out := f.exec.Execute(context.Background(), clickTarget(), resolved(10, 10), before())

	assert.Equal(t, entities.StatusFailed, out.Status)
	var rf *entities.ResolutionFailure
	assert.ErrorAs(t, out.Err, &rf)
	assert.Len(t, out.Attempts, 1)
	assert.Len(t, f.memory.invalidated, 1)
	assert.Equal(t, []outcome{{entities.Point{X: 10, Y: 10}, false}}, f.memory.outcomes)
}

func TestExecute_ClearAndTypeSendsSelectAll(t *testing.T) {
	f := newFixture(frame(500))
	tg := entities.Target{Label: "Username", Normalized: "username", Kind: entities.ActionClearAndType, Value: "alice"}

	out := f.exec.Execute(context.Background(), tg, resolved(10, 10), before())

	require.Equal(t, entities.StatusSuccess, out.Status)
	assert.Equal(t, []string{"click", "combo", "type"}, f.input.calls)
	assert.Equal(t, []entities.KeyCombo{entities.HostSelectAll()}, f.input.combo)
	assert.Equal(t, []string{"alice"}, f.input.typed)
}

func TestExecute_TypeClicksThenTypes(t *testing.T) {
	f := newFixture(frame(500))
	tg := entities.Target{Label: "Search", Normalized: "search", Kind: entities.ActionType, Value: "invoices"}

	f.exec.Execute(context.Background(), tg, resolved(10, 10), before())
	assert.Equal(t, []string{"click", "type"}, f.input.calls)
}

func TestSelectAllByHost(t *testing.T) {
	assert.Equal(t, entities.KeyCombo{Modifiers: []string{"Meta"}, Key: "a"}, entities.SelectAll("darwin"))
	assert.Equal(t, entities.KeyCombo{Modifiers: []string{"Control"}, Key: "a"}, entities.SelectAll("linux"))
	assert.Equal(t, entities.KeyCombo{Modifiers: []string{"Control"}, Key: "a"}, entities.SelectAll("windows"))
}

func TestExecute_InputErrorFails(t *testing.T) {
	f := newFixture(frame(500))
	f.input.err = errors.New("page crashed")

	out := f.exec.Execute(context.Background(), clickTarget(), resolved(10, 10), before())

	assert.Equal(t, entities.StatusFailed, out.Status)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, entities.AttemptFailure, out.Attempts[0].Outcome)
	assert.Contains(t, out.Error, "page crashed")
	assert.Empty(t, f.memory.outcomes)
}

func TestExecute_CancelledBeforeFirstAttempt(t *testing.T) {
	f := newFixture(frame(500))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := f.exec.Execute(ctx, clickTarget(), resolved(10, 10), before())

	assert.Equal(t, entities.StatusCancelled, out.Status)
	assert.ErrorIs(t, out.Err, entities.ErrCancelled)
	assert.Empty(t, f.input.calls)
}

func TestExecute_CancelledDuringSettle(t *testing.T) {
	f := newFixture(frame(500))
	ctx, cancel := context.WithCancel(context.Background())
	f.exec.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	out := f.exec.Execute(ctx, clickTarget(), resolved(10, 10), before())
	assert.Equal(t, entities.StatusCancelled, out.Status)
	assert.Len(t, out.Attempts, 1)
}

func TestExecute_EventsCarryRunID(t *testing.T) {
	f := newFixture(frame(500))
	ctx := WithRunID(context.Background(), "run-1")

	f.exec.Execute(ctx, clickTarget(), resolved(10, 10), before())

	require.Len(t, f.events, 1)
	assert.Equal(t, entities.EventAttempt, f.events[0].Status)
	assert.Equal(t, "run-1", f.events[0].RunID)
	assert.Equal(t, "success", f.events[0].Summary["outcome"])
}

func TestWaitFor_AppearsAfterPolls(t *testing.T) {
	f := newFixture(frame(0))
	nf := &entities.ResolutionFailure{Target: "Done", Stage: "template", Threshold: 75}
	f.resolver.errs = []error{nf, nf, nil}
	f.resolver.results = []*entities.MatchResult{resolved(5, 5)}
	f.capture.last = frame(0)

	out := f.exec.WaitFor(context.Background(), entities.Target{Label: "Done", Kind: entities.ActionWaitFor}, entities.Rect{W: 100, H: 100}, "crm")

	assert.Equal(t, entities.StatusSuccess, out.Status)
	assert.Equal(t, 3, f.perceiver.calls)
	assert.Empty(t, f.input.calls)
}

func TestWaitFor_BudgetExhausted(t *testing.T) {
	f := newFixture(frame(0))
	nf := &entities.ResolutionFailure{Target: "Done", Stage: "template", Threshold: 75}
	f.resolver.errs = make([]error, 20)
	for i := range f.resolver.errs {
		f.resolver.errs[i] = nf
	}
	f.exec.cfg.WaitBudget = 4

	out := f.exec.WaitFor(context.Background(), entities.Target{Label: "Done", Kind: entities.ActionWaitFor}, entities.Rect{W: 100, H: 100}, "crm")

	assert.Equal(t, entities.StatusFailed, out.Status)
	assert.Equal(t, 4, f.perceiver.calls)
	var rf *entities.ResolutionFailure
	assert.ErrorAs(t, out.Err, &rf)
}
