package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

const adhocRun = "adhoc"

// RunLog - appends events to <dir>/<run_id>/events.jsonl and writes the run summary
type RunLog struct {
	dir    string
	logger *logrus.Logger
	mu     sync.Mutex
}

var _ interfaces.EventSink = (*RunLog)(nil)

// NewRunLog - creates the run log rooted at dir
func NewRunLog(dir string, logger *logrus.Logger) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runs dir: %w", err)
	}
	return &RunLog{dir: dir, logger: logger}, nil
}

func (l *RunLog) runDir(runID string) string {
	if runID == "" {
		runID = adhocRun
	}
	return filepath.Join(l.dir, runID)
}

// Emit - appends ev as one JSON line. Write failures are logged, never returned.
func (l *RunLog) Emit(ev entities.Event) {
	if err := l.append(ev); err != nil && l.logger != nil {
		l.logger.WithError(err).Warn("Failed to append run event")
	}
}

func (l *RunLog) append(ev entities.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	dir := l.runDir(ev.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

// WriteReport - writes outcomes.json and summary.json for a finished run
func (l *RunLog) WriteReport(report *entities.RunReport) (entities.RunSummary, error) {
	summary := report.Summary()

	l.mu.Lock()
	defer l.mu.Unlock()

	dir := l.runDir(report.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return summary, fmt.Errorf("failed to create run dir: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "outcomes.json"), report); err != nil {
		return summary, fmt.Errorf("failed to write outcomes: %w", err)
	}
	if err := writeJSON(filepath.Join(dir, "summary.json"), summary); err != nil {
		return summary, fmt.Errorf("failed to write summary: %w", err)
	}

	if l.logger != nil {
		l.logger.WithFields(logrus.Fields{
			"run_id":        summary.RunID,
			"success_rate":  summary.SuccessRate,
			"total_retries": summary.TotalRetries,
			"flaky_targets": summary.FlakyTargets,
		}).Info("Run summary written")
	}
	return summary, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
