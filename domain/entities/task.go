package entities

import (
	"sort"
	"time"
)

// RunStatus represents the terminal status of a step or run
type RunStatus string

const (
	StatusSuccess   RunStatus = "success"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// ActionOutcome is what resolve_and_act reports for one step
type ActionOutcome struct {
	Status   RunStatus       `json:"status"`
	Target   Target          `json:"target"`
	Result   *MatchResult    `json:"result,omitempty"`
	Attempts []ActionAttempt `json:"attempts"`
	Err      error           `json:"-"`
	Error    string          `json:"error,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// Retries - attempts beyond the first
func (o *ActionOutcome) Retries() int {
	if len(o.Attempts) == 0 {
		return 0
	}
	return len(o.Attempts) - 1
}

// Fail - marks the outcome failed with err
func (o *ActionOutcome) Fail(err error) *ActionOutcome {
	o.Status = StatusFailed
	o.Err = err
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// RunRequest is an ordered list of steps executed in one context
type RunRequest struct {
	ContextID         string       `json:"context_id"`
	Steps             []TargetSpec `json:"steps"`
	ContinueOnFailure bool         `json:"continue_on_failure"`
}

// RunReport summarizes one run
type RunReport struct {
	RunID     string           `json:"run_id"`
	ContextID string           `json:"context_id"`
	Status    RunStatus        `json:"status"`
	Outcomes  []*ActionOutcome `json:"outcomes"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
}

// RunSummary - run-level analytics
type RunSummary struct {
	RunID         string    `json:"run_id"`
	Status        RunStatus `json:"status"`
	TotalSteps    int       `json:"total_steps"`
	Succeeded     int       `json:"succeeded"`
	SuccessRate   float64   `json:"success_rate"`
	AvgDurationMs int64     `json:"avg_duration_ms"`
	MaxDurationMs int64     `json:"max_duration_ms"`
	TotalRetries  int       `json:"total_retries"`
	FlakyTargets  []string  `json:"flaky_targets"`
}

// Summary - counters over the outcomes; flaky targets are those that needed retries, most retried first
func (r *RunReport) Summary() RunSummary {
	s := RunSummary{RunID: r.RunID, Status: r.Status, TotalSteps: len(r.Outcomes), FlakyTargets: []string{}}
	if len(r.Outcomes) == 0 {
		return s
	}

	retries := make(map[string]int)
	var order []string
	var total time.Duration
	for _, o := range r.Outcomes {
		if o.Status == StatusSuccess {
			s.Succeeded++
		}
		total += o.Duration
		if ms := o.Duration.Milliseconds(); ms > s.MaxDurationMs {
			s.MaxDurationMs = ms
		}
		n := o.Retries()
		s.TotalRetries += n
		if n > 0 {
			if _, ok := retries[o.Target.Label]; !ok {
				order = append(order, o.Target.Label)
			}
			retries[o.Target.Label] += n
		}
	}
	s.SuccessRate = float64(s.Succeeded) / float64(len(r.Outcomes))
	s.AvgDurationMs = (total / time.Duration(len(r.Outcomes))).Milliseconds()

	sort.SliceStable(order, func(i, j int) bool { return retries[order[i]] > retries[order[j]] })
	s.FlakyTargets = append(s.FlakyTargets, order...)
	return s
}

// Fields - the summary as an event payload
func (s RunSummary) Fields() map[string]interface{} {
	return map[string]interface{}{
		"total_steps":     s.TotalSteps,
		"succeeded":       s.Succeeded,
		"success_rate":    s.SuccessRate,
		"avg_duration_ms": s.AvgDurationMs,
		"max_duration_ms": s.MaxDurationMs,
		"total_retries":   s.TotalRetries,
		"flaky_targets":   s.FlakyTargets,
		"status":          string(s.Status),
	}
}
