package interfaces

import "vision_automation/domain/entities"

// EventSink consumes the attempt/resolution stream
type EventSink interface {
	Emit(event entities.Event)
}

// EventFunc adapts a function to EventSink
type EventFunc func(entities.Event)

// Emit - calls f
func (f EventFunc) Emit(event entities.Event) { f(event) }
