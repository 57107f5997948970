package segment

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the lifecycle state of a segment.
type State int

const (
	StateOpen         State = iota // accepting audio and partials
	StateFinalEmitted              // final sent, waiting for Close or Reset
	StateClosed
	StateDropped // abandoned without a final after an error or limit breach
)

var stateNames = [...]string{
	StateOpen:         "OPEN",
	StateFinalEmitted: "FINAL_EMITTED",
	StateClosed:       "CLOSED",
	StateDropped:      "DROPPED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", s)
}

// IsTerminal returns true if the state is terminal (CLOSED or DROPPED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

// Errors for invalid state transitions.
var (
	ErrSegmentClosed               = errors.New("segment is closed")
	ErrFinalAlreadyEmitted         = errors.New("final already emitted for this segment")
	ErrCannotEmitPartialAfterFinal = errors.New("cannot emit partial after final")
)

// Stats is a snapshot of a segment's resource usage.
type Stats struct {
	AudioBytes int64
	Partials   int
	Duration   time.Duration
}

// Lifecycle is the state machine and accounting for the current segment of
// a stream. Safe for concurrent use: audio is added from the feeding
// goroutine while results arrive from the recognizer's goroutine.
//
// State transitions:
//
//	OPEN → FINAL_EMITTED → CLOSED
//	  │
//	  └── Drop() on error or limit breach → DROPPED
//
// Reset opens the next segment from any state.
type Lifecycle struct {
	mu        sync.RWMutex
	segmentId string
	state     State
	limits    Limits
	now       func() time.Time

	openedAt   time.Time
	audioBytes int64
	partials   int
}

// NewLifecycle creates a new segment lifecycle in OPEN state.
func NewLifecycle(segmentId string, limits Limits) *Lifecycle {
	l := &Lifecycle{limits: limits, now: time.Now}
	l.reset(segmentId)
	return l
}

func (l *Lifecycle) reset(segmentId string) {
	l.segmentId = segmentId
	l.state = StateOpen
	l.openedAt = l.now()
	l.audioBytes = 0
	l.partials = 0
}

// SegmentId returns the segment ID.
func (l *Lifecycle) SegmentId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segmentId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsDropped returns true if the segment was dropped.
func (l *Lifecycle) IsDropped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateDropped
}

// Stats returns the current usage.
func (l *Lifecycle) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.stats()
}

func (l *Lifecycle) stats() Stats {
	return Stats{
		AudioBytes: l.audioBytes,
		Partials:   l.partials,
		Duration:   l.now().Sub(l.openedAt),
	}
}

// AddAudio accounts n bytes of audio to the segment and checks the byte and
// duration limits. A breach returns a *LimitError; the caller decides whether
// to drop.
func (l *Lifecycle) AddAudio(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.audioBytes += int64(n)
	if max := l.limits.MaxAudioBytes; max > 0 && l.audioBytes > max {
		return &LimitError{SegmentId: l.segmentId, Limit: LimitAudioBytes, Value: l.audioBytes, Max: max}
	}
	if max := l.limits.MaxDuration; max > 0 {
		if d := l.now().Sub(l.openedAt); d > max {
			return &LimitError{SegmentId: l.segmentId, Limit: LimitDuration, Value: int64(d), Max: int64(max)}
		}
	}
	return nil
}

// requireOpen maps a non-open state to the error an emission reports.
func (l *Lifecycle) requireOpen(afterFinal error) error {
	switch l.state {
	case StateOpen:
		return nil
	case StateFinalEmitted:
		return afterFinal
	default:
		return ErrSegmentClosed
	}
}

// EmitPartial records a partial emission and returns its 1-based sequence
// number within the segment.
func (l *Lifecycle) EmitPartial() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOpen(ErrCannotEmitPartialAfterFinal); err != nil {
		return 0, err
	}
	l.partials++
	if max := l.limits.MaxPartials; max > 0 && l.partials > max {
		return 0, &LimitError{SegmentId: l.segmentId, Limit: LimitPartials, Value: int64(l.partials), Max: int64(max)}
	}
	return l.partials, nil
}

// EmitFinal moves an open segment to FINAL_EMITTED.
func (l *Lifecycle) EmitFinal() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.requireOpen(ErrFinalAlreadyEmitted); err != nil {
		return err
	}
	l.state = StateFinalEmitted
	return nil
}

// Close transitions the segment to CLOSED state. Idempotent; a dropped
// segment stays dropped.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateDropped {
		l.state = StateClosed
	}
}

// Drop abandons the segment without a final. Returns false if it was already
// terminal.
func (l *Lifecycle) Drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateDropped
	return true
}

// Reset opens a new segment and returns the stats of the previous one.
func (l *Lifecycle) Reset(newSegmentId string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.stats()
	l.reset(newSegmentId)
	return prev
}
