// Package analytics consumes the attempt/resolution event stream.
package analytics

import (
	"sync"

	"github.com/sirupsen/logrus"

	"vision_automation/domain/entities"
	"vision_automation/domain/interfaces"
)

// LogSink - writes every event to logrus
type LogSink struct {
	logger *logrus.Logger
}

var _ interfaces.EventSink = (*LogSink)(nil)

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ev entities.Event) {
	entry := s.logger.WithField("event", ev.Status)
	if ev.RunID != "" {
		entry = entry.WithField("run_id", ev.RunID)
	}
	if len(ev.Summary) > 0 {
		entry = entry.WithFields(logrus.Fields(ev.Summary))
	}

	switch ev.Status {
	case entities.EventError:
		entry.Error(ev.Message)
	case entities.EventUnresolved, entities.EventCancelled:
		entry.Warn(ev.Message)
	case entities.EventAttempt, entities.EventResolved:
		entry.Debug(ev.Message)
	default:
		entry.Info(ev.Message)
	}
}

// FanOut - delivers each event to every sink in order
type FanOut struct {
	mu    sync.Mutex
	sinks []interfaces.EventSink
}

var _ interfaces.EventSink = (*FanOut)(nil)

func NewFanOut(sinks ...interfaces.EventSink) *FanOut {
	return &FanOut{sinks: sinks}
}

// Add - registers another sink
func (f *FanOut) Add(sink interfaces.EventSink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, sink)
}

func (f *FanOut) Emit(ev entities.Event) {
	f.mu.Lock()
	sinks := append([]interfaces.EventSink(nil), f.sinks...)
	f.mu.Unlock()
	for _, s := range sinks {
		s.Emit(ev)
	}
}
