// Package executor performs resolved actions and validates them by comparing the screen
// before and after. A click that changes nothing is a ghost click: the remembered
// coordinate is dropped, the target re-resolved from a fresh capture and the action retried.
package executor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"vision_automation/application/match"
	"vision_automation/application/state"
	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
	"vision_automation/infrastructure/observability"
)

// Resolver is the match engine as seen by the executor
type Resolver interface {
	Resolve(ctx context.Context, st *entities.ScreenState, target entities.Target, opts match.Options) (*entities.MatchResult, error)
}

// Perceiver builds a fresh ScreenState for a region
type Perceiver interface {
	Perceive(ctx context.Context, region entities.Rect, contextID string) (*entities.ScreenState, error)
}

// Hasher computes the screen digest of an image
type Hasher interface {
	Digest(img image.Image) string
}

// Config tunes the validate/retry loop and wait_for polling
type Config struct {
	MaxRetries       int           `yaml:"max_retries"`
	GhostThreshold   float64       `yaml:"ghost_threshold"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	WaitPollInterval time.Duration `yaml:"wait_poll_interval"`
	WaitBudget       int           `yaml:"wait_budget"`
}

// DefaultConfig - 2 retries, 0.5% pixel change counts as an effect
func DefaultConfig() Config {
	return Config{
		MaxRetries:       2,
		GhostThreshold:   0.005,
		SettleDelay:      600 * time.Millisecond,
		WaitPollInterval: time.Second,
		WaitBudget:       10,
	}
}

type Executor struct {
	input     interfaces.InputInjector
	capture   interfaces.CaptureProvider
	perceiver Perceiver
	resolver  Resolver
	memory    interfaces.MemoryStore
	hasher    Hasher
	sink      interfaces.EventSink
	artifacts interfaces.ArtifactStore
	cfg       Config
	logger    *logrus.Logger

	selectAll entities.KeyCombo
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// NewExecutor - creates new action executor. sink and artifacts may be nil.
func NewExecutor(
	input interfaces.InputInjector,
	capture interfaces.CaptureProvider,
	perceiver Perceiver,
	resolver Resolver,
	memory interfaces.MemoryStore,
	hasher Hasher,
	sink interfaces.EventSink,
	artifacts interfaces.ArtifactStore,
	cfg Config,
	logger *logrus.Logger,
) *Executor {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Executor{
		input:     input,
		capture:   capture,
		perceiver: perceiver,
		resolver:  resolver,
		memory:    memory,
		hasher:    hasher,
		sink:      sink,
		artifacts: artifacts,
		cfg:       cfg,
		logger:    logger,
		selectAll: entities.HostSelectAll(),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type runIDKey struct{}

// WithRunID - tags ctx with the run the actions belong to
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunID - run id carried by ctx, empty when none
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Execute - performs target at resolved against before and validates the effect.
// At most 1 + MaxRetries attempts are made.
func (e *Executor) Execute(ctx context.Context, target entities.Target, resolved *entities.MatchResult, before *entities.ScreenState) *entities.ActionOutcome {
	ctx, span := observability.StartSpan(ctx, "executor.execute",
		attribute.String("target", target.Label),
		attribute.String("action", string(target.Kind)),
	)
	started := e.now()
	out := &entities.ActionOutcome{Target: target, Result: resolved}
	defer func() {
		out.Duration = e.now().Sub(started)
		span.SetAttributes(attribute.String("status", string(out.Status)), attribute.Int("attempts", len(out.Attempts)))
		observability.EndSpan(span, out.Err)
	}()

	current := before
	key := resolved.Key
	maxAttempts := 1 + max(e.cfg.MaxRetries, 0)

	for i := 0; i < maxAttempts; i++ {
		if ctx.Err() != nil {
			return e.cancelled(out)
		}

		attempt, err := e.attempt(ctx, i, target, resolved, current)
		out.Attempts = append(out.Attempts, attempt)
		e.emitAttempt(ctx, attempt)

		if err != nil {
			if ctx.Err() != nil {
				return e.cancelled(out)
			}
			e.logger.WithError(err).WithField("target", target.Label).Error("Action attempt failed")
			return out.Fail(err)
		}

		if attempt.Outcome == entities.AttemptSuccess {
			if err := e.memory.RecordOutcome(ctx, key, resolved.Point, true); err != nil {
				e.logger.WithError(err).Warn("Failed to record success")
			}
			out.Status = entities.StatusSuccess
			out.Result = resolved
			e.logger.WithFields(logrus.Fields{
				"target":   target.Label,
				"attempts": len(out.Attempts),
				"diff":     attempt.PixelDiffRatio,
			}).Info("Action validated")
			return out
		}

		// ghost click
		e.logger.WithFields(logrus.Fields{
			"target":  target.Label,
			"attempt": i + 1,
			"diff":    attempt.PixelDiffRatio,
			"x":       resolved.Point.X,
			"y":       resolved.Point.Y,
		}).Warn("Ghost click, invalidating memory")
		if err := e.memory.Invalidate(ctx, key); err != nil {
			e.logger.WithError(err).Warn("Failed to invalidate memory")
		}

		if i == maxAttempts-1 {
			break
		}

		fresh, err := e.perceiver.Perceive(ctx, current.Region, current.ContextID)
		if err != nil {
			if ctx.Err() != nil {
				return e.cancelled(out)
			}
			return out.Fail(fmt.Errorf("failed to re-perceive after ghost click: %w", err))
		}
		again, err := e.resolver.Resolve(ctx, fresh, target, match.Options{SkipMemory: true})
		if err != nil {
			if ctx.Err() != nil {
				return e.cancelled(out)
			}
			e.recordFailure(ctx, key, resolved.Point)
			return out.Fail(fmt.Errorf("failed to re-resolve after ghost click: %w", err))
		}
		current, resolved = fresh, again
		out.Result = resolved
	}

	e.recordFailure(ctx, key, resolved.Point)
	err := fmt.Errorf("%w: %q after %d attempts", entities.ErrGhostClick, target.Label, len(out.Attempts))
	e.logger.WithField("target", target.Label).Error(err.Error())
	return out.Fail(err)
}

func (e *Executor) recordFailure(ctx context.Context, key entities.MemoryKey, p entities.Point) {
	if err := e.memory.RecordOutcome(ctx, key, p, false); err != nil {
		e.logger.WithError(err).Warn("Failed to record failure")
	}
}

func (e *Executor) cancelled(out *entities.ActionOutcome) *entities.ActionOutcome {
	out.Status = entities.StatusCancelled
	out.Err = entities.ErrCancelled
	out.Error = entities.ErrCancelled.Error()
	return out
}

// attempt - one capture/act/settle/capture/diff iteration
func (e *Executor) attempt(ctx context.Context, index int, target entities.Target, resolved *entities.MatchResult, current *entities.ScreenState) (entities.ActionAttempt, error) {
	a := entities.ActionAttempt{
		Index:  index,
		Target: target.Label,
		Point:  resolved.Point,
		Method: resolved.Method,
		At:     e.now(),
	}
	fail := func(err error) (entities.ActionAttempt, error) {
		a.Outcome = entities.AttemptFailure
		a.Error = err.Error()
		return a, err
	}

	var pre image.Image
	if current.Capture != nil && current.Capture.Image != nil {
		pre = current.Capture.Image
	} else {
		c, err := e.capture.Capture(ctx, current.Region)
		if err != nil {
			return fail(&entities.DetectorError{Detector: "capture", Err: err})
		}
		pre = c.Image
	}
	a.PreHash = e.hasher.Digest(pre)

	if err := e.act(ctx, target, resolved.Point); err != nil {
		return fail(fmt.Errorf("failed to perform %s on %q: %w", target.Kind, target.Label, err))
	}
	if err := e.sleep(ctx, e.cfg.SettleDelay); err != nil {
		return fail(err)
	}

	post, err := e.capture.Capture(ctx, current.Region)
	if err != nil {
		return fail(&entities.DetectorError{Detector: "capture", Err: err})
	}
	a.PostHash = e.hasher.Digest(post.Image)
	a.PixelDiffRatio = state.PixelDiffRatio(pre, post.Image)

	if a.PixelDiffRatio >= e.cfg.GhostThreshold {
		a.Outcome = entities.AttemptSuccess
	} else {
		a.Outcome = entities.AttemptGhost
		a.Error = entities.ErrGhostClick.Error()
	}
	e.audit(ctx, a, pre, post.Image)
	return a, nil
}

// act - drives the input injector for one action kind
func (e *Executor) act(ctx context.Context, target entities.Target, p entities.Point) error {
	if err := e.input.Click(ctx, p.X, p.Y); err != nil {
		return err
	}
	switch target.Kind {
	case entities.ActionType:
		return e.input.TypeText(ctx, target.Value)
	case entities.ActionClearAndType:
		if err := e.input.KeyCombo(ctx, e.selectAll); err != nil {
			return err
		}
		return e.input.TypeText(ctx, target.Value)
	}
	return nil
}

func (e *Executor) emitAttempt(ctx context.Context, a entities.ActionAttempt) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(entities.Event{
		Status:    entities.EventAttempt,
		Message:   fmt.Sprintf("%s attempt %d: %s", a.Target, a.Index+1, a.Outcome),
		RunID:     RunID(ctx),
		Timestamp: a.At,
		Summary: map[string]interface{}{
			"index":            a.Index,
			"target":           a.Target,
			"outcome":          string(a.Outcome),
			"method":           string(a.Method),
			"x":                a.Point.X,
			"y":                a.Point.Y,
			"pixel_diff_ratio": a.PixelDiffRatio,
			"pre_hash":         a.PreHash,
			"post_hash":        a.PostHash,
			"error":            a.Error,
		},
	})
}

func (e *Executor) audit(ctx context.Context, a entities.ActionAttempt, pre, post image.Image) {
	if e.artifacts == nil {
		return
	}
	runID := RunID(ctx)
	if runID == "" {
		runID = "adhoc"
	}
	for name, img := range map[string]image.Image{"pre": pre, "post": post} {
		file := fmt.Sprintf("%s_%d_%s.png", a.Target, a.Index, name)
		if _, err := e.artifacts.PutImage(ctx, runID, file, img); err != nil {
			e.logger.WithError(err).WithField("artifact", file).Warn("Failed to store capture")
		}
	}
}

// WaitFor - polls perceive+resolve until target appears or the poll budget runs out
func (e *Executor) WaitFor(ctx context.Context, target entities.Target, region entities.Rect, contextID string) *entities.ActionOutcome {
	ctx, span := observability.StartSpan(ctx, "executor.wait_for", attribute.String("target", target.Label))
	started := e.now()
	out := &entities.ActionOutcome{Target: target}
	defer func() {
		out.Duration = e.now().Sub(started)
		observability.EndSpan(span, out.Err)
	}()

	budget := max(e.cfg.WaitBudget, 1)
	var lastErr error
	for poll := 0; poll < budget; poll++ {
		if poll > 0 {
			if err := e.sleep(ctx, e.cfg.WaitPollInterval); err != nil {
				return e.cancelled(out)
			}
		}
		if ctx.Err() != nil {
			return e.cancelled(out)
		}

		st, err := e.perceiver.Perceive(ctx, region, contextID)
		if err != nil {
			return out.Fail(fmt.Errorf("failed to perceive while waiting for %q: %w", target.Label, err))
		}
		res, err := e.resolver.Resolve(ctx, st, target, match.Options{})
		if err == nil {
			out.Status = entities.StatusSuccess
			out.Result = res
			e.logger.WithFields(logrus.Fields{"target": target.Label, "polls": poll + 1}).Info("Target appeared")
			return out
		}
		var rf *entities.ResolutionFailure
		if !errors.As(err, &rf) {
			if ctx.Err() != nil {
				return e.cancelled(out)
			}
			return out.Fail(err)
		}
		lastErr = err
		e.logger.WithFields(logrus.Fields{"target": target.Label, "poll": poll + 1}).Debug("Target not visible yet")
	}
	return out.Fail(fmt.Errorf("failed to wait for %q after %d polls: %w", target.Label, budget, lastErr))
}
