package agent

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"vision_automation/application/executor"
	"vision_automation/application/match"
	"vision_automation/application/normalize"
	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
	"vision_automation/infrastructure/observability"
)

// Perceiver builds a ScreenState for a region
type Perceiver interface {
	Perceive(ctx context.Context, region entities.Rect, contextID string) (*entities.ScreenState, error)
}

// Resolver maps a target to a screen point
type Resolver interface {
	Resolve(ctx context.Context, st *entities.ScreenState, target entities.Target, opts match.Options) (*entities.MatchResult, error)
}

// Executor performs and validates resolved actions
type Executor interface {
	Execute(ctx context.Context, target entities.Target, resolved *entities.MatchResult, before *entities.ScreenState) *entities.ActionOutcome
	WaitFor(ctx context.Context, target entities.Target, region entities.Rect, contextID string) *entities.ActionOutcome
}

// Config - agent options
type Config struct {
	// DefaultRegion is used for steps without their own region; zero means the whole display
	DefaultRegion entities.Rect `yaml:"default_region"`

	// SaveTemplates stores the crop of every OCR-resolved click as a reference template
	SaveTemplates bool `yaml:"save_templates"`
}

type Agent struct {
	perception Perceiver
	resolver   Resolver
	executor   Executor
	templates  interfaces.TemplateLibrary
	security   interfaces.SecurityLayer
	sink       interfaces.EventSink
	cfg        Config
	logger     *logrus.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	history []*entities.ActionOutcome
	pending *pendingStep
}

type pendingStep struct {
	spec      entities.TargetSpec
	contextID string
}

// NewAgent - creates new agent instance. templates, security and sink may be nil.
func NewAgent(
	perception Perceiver,
	resolver Resolver,
	exec Executor,
	templates interfaces.TemplateLibrary,
	security interfaces.SecurityLayer,
	sink interfaces.EventSink,
	cfg Config,
	logger *logrus.Logger,
) *Agent {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Agent{
		perception: perception,
		resolver:   resolver,
		executor:   exec,
		templates:  templates,
		security:   security,
		sink:       sink,
		cfg:        cfg,
		logger:     logger,
		history:    make([]*entities.ActionOutcome, 0),
	}
}

// acquire - enters the single-run section, returning a ctx cancelled by Stop
func (a *Agent) acquire(ctx context.Context) (context.Context, func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil, nil, entities.ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.running = true
	a.cancel = cancel
	release := func() {
		a.mu.Lock()
		a.running = false
		a.cancel = nil
		a.mu.Unlock()
		cancel()
	}
	return runCtx, release, nil
}

// Stop - cancels the active run; the current step finishes its attempt and the run ends cancelled
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.logger.Info("Stop requested")
		a.cancel()
	}
}

// Running - reports whether a run is active
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// ResolveAndAct - resolves and executes a single step
func (a *Agent) ResolveAndAct(ctx context.Context, spec entities.TargetSpec, contextID string) (*entities.ActionOutcome, error) {
	runCtx, release, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	out := a.step(runCtx, spec, contextID)
	return out, out.Err
}

// Run - executes steps in order. Stops at the first failure unless ContinueOnFailure.
func (a *Agent) Run(ctx context.Context, req entities.RunRequest) (*entities.RunReport, error) {
	runCtx, release, err := a.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	report := &entities.RunReport{
		RunID:     uuid.NewString(),
		ContextID: req.ContextID,
		Status:    entities.StatusSuccess,
		StartedAt: time.Now(),
	}
	runCtx = executor.WithRunID(runCtx, report.RunID)
	runCtx, span := observability.StartSpan(runCtx, "agent.run",
		attribute.String("run_id", report.RunID),
		attribute.String("context", req.ContextID),
		attribute.Int("steps", len(req.Steps)),
	)
	defer span.End()

	log := a.logger.WithFields(logrus.Fields{"run_id": report.RunID, "context": req.ContextID})
	log.WithField("steps", len(req.Steps)).Info("Run started")
	a.emit(report.RunID, entities.EventInit, fmt.Sprintf("run started with %d steps", len(req.Steps)), nil)

	for i, spec := range req.Steps {
		select {
		case <-runCtx.Done():
			report.Status = entities.StatusCancelled
		default:
		}
		if report.Status == entities.StatusCancelled {
			break
		}

		out := a.step(runCtx, spec, req.ContextID)
		report.Outcomes = append(report.Outcomes, out)

		if out.Status == entities.StatusCancelled {
			report.Status = entities.StatusCancelled
			break
		}
		if out.Status == entities.StatusFailed {
			report.Status = entities.StatusFailed
			if !req.ContinueOnFailure {
				log.WithField("step", i+1).Warn("Step failed, stopping run")
				break
			}
		}
	}

	report.EndedAt = time.Now()
	if report.Status == entities.StatusCancelled {
		a.emit(report.RunID, entities.EventCancelled, "run cancelled", nil)
	}
	a.emit(report.RunID, entities.EventDone, fmt.Sprintf("run %s", report.Status), report.Summary().Fields())
	log.WithField("status", report.Status).Info("Run finished")
	return report, nil
}

// step - guard check, perceive, resolve, execute, template capture
func (a *Agent) step(ctx context.Context, spec entities.TargetSpec, contextID string) *entities.ActionOutcome {
	started := time.Now()
	runID := executor.RunID(ctx)
	target := targetOf(spec)
	out := &entities.ActionOutcome{Target: target}
	defer func() {
		if out.Duration == 0 {
			out.Duration = time.Since(started)
		}
		a.record(out)
	}()

	ctx, span := observability.StartSpan(ctx, "agent.step",
		attribute.String("target", spec.Label),
		attribute.String("action", string(spec.Kind)),
	)
	defer func() { observability.EndSpan(span, out.Err) }()

	a.emit(runID, entities.EventStepStart, fmt.Sprintf("%s %q", spec.Kind, spec.Label), nil)
	log := a.logger.WithFields(logrus.Fields{"action": spec.Kind, "target": spec.Label, "context": contextID})

	if !spec.Kind.Valid() {
		return a.failStep(runID, out, fmt.Errorf("unknown action: %s", spec.Kind))
	}
	if target.Normalized == "" {
		return a.failStep(runID, out, fmt.Errorf("target label %q is empty after normalization", spec.Label))
	}
	if a.security != nil && !spec.Confirmed && a.security.RequiresApproval(ctx, spec) {
		a.mu.Lock()
		a.pending = &pendingStep{spec: spec, contextID: contextID}
		a.mu.Unlock()
		log.WithField("risk", a.security.GetActionRiskLevel(ctx, spec)).Warn("Step requires confirmation")
		return a.failStep(runID, out, fmt.Errorf("%w: %s %q", entities.ErrApprovalRequired, spec.Kind, spec.Label))
	}

	region := a.regionOf(spec)

	if spec.Kind == entities.ActionWaitFor {
		res := a.executor.WaitFor(ctx, target, region, contextID)
		return a.finishStep(runID, out, res)
	}

	st, err := a.perception.Perceive(ctx, region, contextID)
	if err != nil {
		if ctx.Err() != nil {
			return a.cancelStep(runID, out)
		}
		return a.failStep(runID, out, fmt.Errorf("failed to perceive screen: %w", err))
	}

	resolved, err := a.resolver.Resolve(ctx, st, target, match.Options{})
	if err != nil {
		if ctx.Err() != nil {
			return a.cancelStep(runID, out)
		}
		a.emit(runID, entities.EventUnresolved, err.Error(), nil)
		return a.failStep(runID, out, err)
	}
	a.emit(runID, entities.EventResolved, fmt.Sprintf("%q -> (%d,%d) via %s", spec.Label, resolved.Point.X, resolved.Point.Y, resolved.Method), map[string]interface{}{
		"method":     string(resolved.Method),
		"x":          resolved.Point.X,
		"y":          resolved.Point.Y,
		"confidence": resolved.Confidence,
		"expanded":   resolved.Expanded,
	})

	res := a.executor.Execute(ctx, target, resolved, st)
	if res.Status == entities.StatusSuccess && res.Retries() == 0 {
		a.saveTemplate(ctx, contextID, target, res.Result, st)
	}
	return a.finishStep(runID, out, res)
}

// Inspect - perceives and resolves spec without touching the remote desktop
func (a *Agent) Inspect(ctx context.Context, spec entities.TargetSpec, contextID string) (*entities.ScreenState, *entities.MatchResult, error) {
	runCtx, release, err := a.acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	target := targetOf(spec)
	if target.Normalized == "" {
		return nil, nil, fmt.Errorf("target label %q is empty after normalization", spec.Label)
	}
	st, err := a.perception.Perceive(runCtx, a.regionOf(spec), contextID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to perceive screen: %w", err)
	}
	res, err := a.resolver.Resolve(runCtx, st, target, match.Options{})
	return st, res, err
}

func targetOf(spec entities.TargetSpec) entities.Target {
	return entities.Target{
		Label:      spec.Label,
		Normalized: normalize.Normalize(spec.Label),
		Index:      spec.Index,
		Kind:       spec.Kind,
		Value:      spec.Value,
	}
}

func (a *Agent) regionOf(spec entities.TargetSpec) entities.Rect {
	if spec.Region != nil {
		return *spec.Region
	}
	return a.cfg.DefaultRegion
}

func (a *Agent) finishStep(runID string, out, res *entities.ActionOutcome) *entities.ActionOutcome {
	*out = *res
	switch out.Status {
	case entities.StatusSuccess:
		a.emit(runID, entities.EventStepOK, fmt.Sprintf("%s %q succeeded", out.Target.Kind, out.Target.Label), map[string]interface{}{
			"retries": out.Retries(),
		})
	case entities.StatusCancelled:
		a.emit(runID, entities.EventCancelled, fmt.Sprintf("%s %q cancelled", out.Target.Kind, out.Target.Label), nil)
	default:
		a.emit(runID, entities.EventError, out.Error, nil)
	}
	return out
}

func (a *Agent) failStep(runID string, out *entities.ActionOutcome, err error) *entities.ActionOutcome {
	out.Fail(err)
	a.logger.WithError(err).WithField("target", out.Target.Label).Error("Step failed")
	a.emit(runID, entities.EventError, err.Error(), nil)
	return out
}

func (a *Agent) cancelStep(runID string, out *entities.ActionOutcome) *entities.ActionOutcome {
	out.Status = entities.StatusCancelled
	out.Err = entities.ErrCancelled
	out.Error = entities.ErrCancelled.Error()
	a.emit(runID, entities.EventCancelled, fmt.Sprintf("%s %q cancelled", out.Target.Kind, out.Target.Label), nil)
	return out
}

// saveTemplate - stores the element crop of a first-try OCR click for template fallback
func (a *Agent) saveTemplate(ctx context.Context, contextID string, target entities.Target, res *entities.MatchResult, st *entities.ScreenState) {
	if !a.cfg.SaveTemplates || a.templates == nil || res == nil {
		return
	}
	if target.Kind != entities.ActionClick || res.Method != entities.MethodOCRFuzzy || res.Expanded || res.Element == nil {
		return
	}
	if st.Capture == nil || st.Capture.Image == nil {
		return
	}
	box := res.Element.Box.Intersect(st.Capture.Bounds())
	if box.Empty() {
		return
	}
	var crop image.Image = imaging.Crop(st.Capture.Image, box.Image())
	if err := a.templates.Save(ctx, contextID, target.Normalized, crop); err != nil {
		a.logger.WithError(err).WithField("target", target.Normalized).Warn("Failed to save reference template")
	}
}

func (a *Agent) record(out *entities.ActionOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, out)
}

func (a *Agent) emit(runID, status, message string, summary map[string]interface{}) {
	if a.sink == nil {
		return
	}
	a.sink.Emit(entities.Event{
		Status:    status,
		Message:   message,
		RunID:     runID,
		Timestamp: time.Now(),
		Summary:   summary,
	})
}

// ExecuteActionWithConfirmation - runs the step that was held back for confirmation
func (a *Agent) ExecuteActionWithConfirmation(ctx context.Context) (*entities.ActionOutcome, error) {
	a.mu.Lock()
	p := a.pending
	a.pending = nil
	a.mu.Unlock()
	if p == nil {
		return nil, errors.New("no step awaiting confirmation")
	}
	p.spec.Confirmed = true
	return a.ResolveAndAct(ctx, p.spec, p.contextID)
}

// GetPendingAction - returns the step waiting for confirmation, nil when none
func (a *Agent) GetPendingAction() *entities.TargetSpec {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending == nil {
		return nil
	}
	spec := a.pending.spec
	return &spec
}

// GetHistory - returns outcomes of every step run so far
func (a *Agent) GetHistory() []*entities.ActionOutcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*entities.ActionOutcome, len(a.history))
	copy(out, a.history)
	return out
}
