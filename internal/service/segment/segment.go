// Package segment tracks utterance segments of one audio stream: ids,
// the partial/final state machine and per-segment resource limits.
package segment

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Generator hands out segment ids for a single stream.
type Generator struct {
	streamId string
	counter  atomic.Uint64
}

// NewGenerator returns a generator whose ids are prefixed with streamId.
func NewGenerator(streamId string) *Generator {
	return &Generator{streamId: streamId}
}

// Next returns the next id, e.g. "<stream>-seg-3".
func (g *Generator) Next() string {
	n := g.counter.Add(1)
	return fmt.Sprintf("%s-seg-%d", g.streamId, n)
}

// Count returns how many ids were issued.
func (g *Generator) Count() uint64 {
	return g.counter.Load()
}

// Limits bound a single segment. Zero disables a limit.
type Limits struct {
	MaxAudioBytes int64         // PCM bytes forwarded to the recognizer
	MaxDuration   time.Duration // wall time since the segment opened
	MaxPartials   int           // interim results before a final
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 5 * 1024 * 1024, // 5MB, ~164 s of 16 kHz mono PCM16
		MaxDuration:   5 * time.Minute,
		MaxPartials:   500,
	}
}

// Limit names, used as metric labels.
const (
	LimitAudioBytes = "audio_bytes"
	LimitDuration   = "duration"
	LimitPartials   = "partials"
)

// LimitError reports which limit a segment exceeded.
type LimitError struct {
	SegmentId string
	Limit     string
	Value     int64
	Max       int64
}

func (e *LimitError) Error() string {
	if e.Limit == LimitDuration {
		return fmt.Sprintf("segment %s: %s limit exceeded: %v > %v",
			e.SegmentId, e.Limit, time.Duration(e.Value), time.Duration(e.Max))
	}
	return fmt.Sprintf("segment %s: %s limit exceeded: %d > %d", e.SegmentId, e.Limit, e.Value, e.Max)
}
