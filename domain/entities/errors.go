package entities

import (
	"errors"
	"fmt"
)

var (
	ErrDetectorUnavailable = errors.New("vision detector unavailable")
	ErrGhostClick          = errors.New("action produced no visual change")
	ErrCancelled           = errors.New("run cancelled")
	ErrRunInProgress       = errors.New("another run is already in progress")
	ErrApprovalRequired    = errors.New("action requires confirmation")
)

// ResolutionFailure means no fallback stage produced an acceptable candidate
type ResolutionFailure struct {
	Target    string
	Stage     string
	Threshold float64
	Best      *Candidate
}

func (e *ResolutionFailure) Error() string {
	if e.Best == nil {
		return fmt.Sprintf("target %q not found (stage reached: %s, no candidates)", e.Target, e.Stage)
	}
	return fmt.Sprintf("target %q not found (stage reached: %s, best %q fuzzy=%.1f < %.0f)",
		e.Target, e.Stage, e.Best.Element.Text, e.Best.Scores.Fuzzy*100, e.Threshold)
}

// DetectorError wraps a failing detector collaborator
type DetectorError struct {
	Detector string
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detector %s unavailable: %v", e.Detector, e.Err)
}

func (e *DetectorError) Unwrap() error { return e.Err }

// Is - lets errors.Is match ErrDetectorUnavailable
func (e *DetectorError) Is(target error) bool {
	return target == ErrDetectorUnavailable
}
