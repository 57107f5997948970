// Package schema validates transcript events before they leave the service.
package schema

import (
	"errors"
	"fmt"

	"speech-stream-bridge/internal/models"
)

var (
	// ErrUnknownEvent is returned for values that are not transcript events.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrInvalidEvent wraps every field-level violation.
	ErrInvalidEvent = errors.New("invalid event")
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the required fields of a partial or final transcript.
func (v *Validator) Validate(event any) error {
	switch e := event.(type) {
	case models.TranscriptPartial:
		return v.validatePartial(&e)
	case *models.TranscriptPartial:
		return v.validatePartial(e)
	case models.TranscriptFinal:
		return v.validateFinal(&e)
	case *models.TranscriptFinal:
		return v.validateFinal(e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}
}

func (v *Validator) validatePartial(e *models.TranscriptPartial) error {
	if e == nil {
		return fmt.Errorf("%w: nil partial", ErrInvalidEvent)
	}
	if e.EventType != models.EventTypePartial {
		return fmt.Errorf("%w: eventType %q", ErrInvalidEvent, e.EventType)
	}
	if err := common(e.StreamID, e.SegmentID, e.Timestamp); err != nil {
		return err
	}
	if e.Sequence < 1 {
		return fmt.Errorf("%w: sequence %d", ErrInvalidEvent, e.Sequence)
	}
	return nil
}

func (v *Validator) validateFinal(e *models.TranscriptFinal) error {
	if e == nil {
		return fmt.Errorf("%w: nil final", ErrInvalidEvent)
	}
	if e.EventType != models.EventTypeFinal {
		return fmt.Errorf("%w: eventType %q", ErrInvalidEvent, e.EventType)
	}
	if err := common(e.StreamID, e.SegmentID, e.Timestamp); err != nil {
		return err
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v", ErrInvalidEvent, e.Confidence)
	}
	if e.AudioOffsetMs < 0 {
		return fmt.Errorf("%w: audioOffsetMs %d", ErrInvalidEvent, e.AudioOffsetMs)
	}
	return nil
}

func common(streamID, segmentID string, ts int64) error {
	switch {
	case streamID == "":
		return fmt.Errorf("%w: empty streamId", ErrInvalidEvent)
	case segmentID == "":
		return fmt.Errorf("%w: empty segmentId", ErrInvalidEvent)
	case ts <= 0:
		return fmt.Errorf("%w: timestamp %d", ErrInvalidEvent, ts)
	}
	return nil
}
