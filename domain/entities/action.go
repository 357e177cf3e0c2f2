package entities

import (
	"runtime"
	"time"
)

// ActionKind represents the type of action a step performs
type ActionKind string

const (
	ActionClick        ActionKind = "click"
	ActionType         ActionKind = "type"
	ActionClearAndType ActionKind = "clear_and_type"
	ActionWaitFor      ActionKind = "wait_for"
)

// Valid - reports whether the kind is supported
func (k ActionKind) Valid() bool {
	switch k {
	case ActionClick, ActionType, ActionClearAndType, ActionWaitFor:
		return true
	}
	return false
}

// AttemptOutcome is the result of one execution try
type AttemptOutcome string

const (
	AttemptSuccess AttemptOutcome = "success"
	AttemptGhost   AttemptOutcome = "ghost"
	AttemptFailure AttemptOutcome = "failure"
)

// ActionAttempt records one iteration of the execute/validate loop
type ActionAttempt struct {
	Index          int            `json:"index"`
	Target         string         `json:"target"`
	Point          Point          `json:"point"`
	Method         MatchMethod    `json:"method"`
	PreHash        string         `json:"pre_hash"`
	PostHash       string         `json:"post_hash"`
	PixelDiffRatio float64        `json:"pixel_diff_ratio"`
	Outcome        AttemptOutcome `json:"outcome"`
	Error          string         `json:"error,omitempty"`
	At             time.Time      `json:"at"`
}

// KeyCombo is a modifier chord sent to the input injector
type KeyCombo struct {
	Modifiers []string `json:"modifiers"`
	Key       string   `json:"key"`
}

// SelectAll - returns the select-all chord for the given host OS ("darwin" uses Meta)
func SelectAll(goos string) KeyCombo {
	if goos == "darwin" {
		return KeyCombo{Modifiers: []string{"Meta"}, Key: "a"}
	}
	return KeyCombo{Modifiers: []string{"Control"}, Key: "a"}
}

// HostSelectAll - select-all chord for the OS this process runs on
func HostSelectAll() KeyCombo {
	return SelectAll(runtime.GOOS)
}
