// Package audio provides the audio stream handler that coordinates
// between the STT adapter and the event sinks.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"speech-stream-bridge/internal/events"
	"speech-stream-bridge/internal/models"
	"speech-stream-bridge/internal/observability/logging"
	"speech-stream-bridge/internal/observability/metrics"
	"speech-stream-bridge/internal/pcm"
	"speech-stream-bridge/internal/schema"
	"speech-stream-bridge/internal/service/segment"
	"speech-stream-bridge/internal/service/stt"
)

// bytesPerMs of the normalized stream (16 kHz mono PCM16).
const bytesPerMs = pcm.TargetSampleRate * 2 / 1000

const publishTimeout = 5 * time.Second

// Drop reasons, used as metric labels.
const (
	DropReasonLimit    = "limit_exceeded"
	DropReasonSTTError = "stt_error"
	DropReasonClosed   = "stream_closed"
)

// SegmentTransitionCallback is called when an utterance ends and a new segment begins.
type SegmentTransitionCallback func(newSegmentId string)

// ErrorCallback is called once the adapter reports that transcription can
// not continue.
type ErrorCallback func(err error)

// Config configures a Handler.
type Config struct {
	StreamId  string
	Provider  string
	Limits    segment.Limits
	Sink      events.Sink
	Validator *schema.Validator // defaults to schema.New()
	Metrics   *metrics.Metrics  // defaults to metrics.DefaultMetrics
	Logger    *zerolog.Logger   // defaults to logging.WithStream
}

// Handler manages one audio stream. It implements stt.Callback, turning
// recognizer results into validated transcript events, and enforces the
// per-segment limits on the audio it forwards.
type Handler struct {
	adapter   stt.Adapter
	sink      events.Sink
	validator *schema.Validator
	metrics   *metrics.Metrics
	log       zerolog.Logger
	streamId  string
	provider  string

	segments  *segment.Generator
	lifecycle *segment.Lifecycle

	mu                  sync.RWMutex
	streamBytes         int64
	utteranceCount      int
	onSegmentTransition SegmentTransitionCallback
	onError             ErrorCallback
}

// NewHandler creates a handler for one stream.
func NewHandler(adapter stt.Adapter, cfg Config) *Handler {
	h := &Handler{
		adapter:   adapter,
		sink:      cfg.Sink,
		validator: cfg.Validator,
		metrics:   cfg.Metrics,
		streamId:  cfg.StreamId,
		provider:  cfg.Provider,
		segments:  segment.NewGenerator(cfg.StreamId),
	}
	if h.validator == nil {
		h.validator = schema.New()
	}
	if h.metrics == nil {
		h.metrics = metrics.DefaultMetrics
	}
	if cfg.Logger != nil {
		h.log = *cfg.Logger
	} else {
		h.log = logging.WithStream(cfg.StreamId, cfg.Provider)
	}
	if h.sink == nil {
		h.sink = events.Multi{}
	}

	h.lifecycle = segment.NewLifecycle(h.segments.Next(), cfg.Limits)
	h.metrics.RecordSegmentCreated()
	return h
}

// SetSegmentTransitionCallback sets a callback for when utterance boundaries are detected.
func (h *Handler) SetSegmentTransitionCallback(cb SegmentTransitionCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSegmentTransition = cb
}

// SetErrorCallback sets a callback for terminal recognizer errors.
func (h *Handler) SetErrorCallback(cb ErrorCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = cb
}

// Start begins the STT session with this handler as the callback receiver.
func (h *Handler) Start(ctx context.Context) error {
	return h.adapter.Start(ctx, h)
}

// SendAudio forwards normalized PCM to the STT adapter. When the current
// segment exceeds a limit it is dropped, a new segment is opened and the
// limit error is returned for this frame.
func (h *Handler) SendAudio(ctx context.Context, audio []byte) error {
	if err := h.lifecycle.AddAudio(len(audio)); err != nil {
		var le *segment.LimitError
		if errors.As(err, &le) {
			h.metrics.RecordLimitExceeded(le.Limit)
			h.rollSegment(DropReasonLimit, err.Error())
		}
		return fmt.Errorf("segment limit exceeded: %w", err)
	}

	h.mu.Lock()
	h.streamBytes += int64(len(audio))
	h.mu.Unlock()

	return h.adapter.SendAudio(ctx, audio)
}

// Close ends the STT session. A segment left without a final is dropped.
func (h *Handler) Close() error {
	err := h.adapter.Close()

	if h.lifecycle.State() == segment.StateOpen && h.lifecycle.Stats().Partials > 0 {
		h.DropSegment(DropReasonClosed)
	} else {
		h.lifecycle.Close()
	}
	return err
}

// SegmentId returns the current segment ID.
func (h *Handler) SegmentId() string {
	return h.lifecycle.SegmentId()
}

// SegmentState returns the current segment lifecycle state.
func (h *Handler) SegmentState() segment.State {
	return h.lifecycle.State()
}

// SegmentStats returns the current segment usage.
func (h *Handler) SegmentStats() segment.Stats {
	return h.lifecycle.Stats()
}

// UtteranceCount returns the number of completed utterances.
func (h *Handler) UtteranceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.utteranceCount
}

// AudioOffsetMs returns how much audio the stream has forwarded.
func (h *Handler) AudioOffsetMs() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.streamBytes / bytesPerMs
}

// --- stt.Callback implementation ---

// OnPartial publishes an interim transcript for the open segment.
func (h *Handler) OnPartial(t stt.Transcript) {
	seq, err := h.lifecycle.EmitPartial()
	if err != nil {
		var le *segment.LimitError
		if errors.As(err, &le) {
			h.metrics.RecordLimitExceeded(le.Limit)
			h.rollSegment(DropReasonLimit, err.Error())
			return
		}
		h.log.Debug().
			Str("segmentId", h.lifecycle.SegmentId()).
			Str("state", h.lifecycle.State().String()).
			Err(err).
			Msg("Partial ignored")
		return
	}
	h.metrics.RecordPartialTranscript()

	ev := models.TranscriptPartial{
		EventType: models.EventTypePartial,
		StreamID:  h.streamId,
		Provider:  h.provider,
		Timestamp: eventTime(t),
		SegmentID: h.lifecycle.SegmentId(),
		Sequence:  seq,
		Text:      t.Text,
	}
	if err := h.validator.Validate(ev); err != nil {
		h.log.Error().Err(err).Msg("Partial failed validation")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.sink.PublishPartial(ctx, h.streamId, ev); err != nil {
		h.log.Warn().Err(err).Str("segmentId", ev.SegmentID).Msg("Failed to publish partial")
	}
}

// OnFinal publishes the final transcript and marks the segment FINAL_EMITTED.
func (h *Handler) OnFinal(t stt.Transcript) {
	if err := h.lifecycle.EmitFinal(); err != nil {
		h.log.Debug().
			Str("segmentId", h.lifecycle.SegmentId()).
			Str("state", h.lifecycle.State().String()).
			Err(err).
			Msg("Final ignored")
		return
	}
	h.metrics.RecordFinalTranscript()
	h.metrics.RecordSegmentCompleted()

	ev := models.TranscriptFinal{
		EventType:     models.EventTypeFinal,
		StreamID:      h.streamId,
		Provider:      h.provider,
		Timestamp:     eventTime(t),
		SegmentID:     h.lifecycle.SegmentId(),
		Text:          t.Text,
		Confidence:    t.Confidence,
		AudioOffsetMs: h.AudioOffsetMs(),
	}
	if err := h.validator.Validate(ev); err != nil {
		h.log.Error().Err(err).Msg("Final failed validation")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.sink.PublishFinal(ctx, h.streamId, ev); err != nil {
		h.log.Warn().Err(err).Str("segmentId", ev.SegmentID).Msg("Failed to publish final")
	}
}

// OnEndOfUtterance closes the current segment and opens the next one.
func (h *Handler) OnEndOfUtterance() {
	oldSegmentId := h.lifecycle.SegmentId()
	oldState := h.lifecycle.State()
	h.lifecycle.Close()

	newSegmentId := h.segments.Next()
	stats := h.lifecycle.Reset(newSegmentId)
	h.metrics.RecordSegmentCreated()

	h.mu.Lock()
	h.utteranceCount++
	count := h.utteranceCount
	cb := h.onSegmentTransition
	h.mu.Unlock()

	h.log.Info().
		Str("oldSegment", oldSegmentId).
		Str("oldState", oldState.String()).
		Str("newSegment", newSegmentId).
		Int("utterance", count).
		Int64("bytes", stats.AudioBytes).
		Int("partials", stats.Partials).
		Dur("duration", stats.Duration.Round(time.Millisecond)).
		Msg("End of utterance")

	if cb != nil {
		cb(newSegmentId)
	}
}

// OnError drops the current segment; no final will be emitted for it.
func (h *Handler) OnError(err error) {
	h.DropSegment(DropReasonSTTError)
	h.log.Error().Err(err).Msg("STT error, segment dropped")

	h.mu.RLock()
	cb := h.onError
	h.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

// DropSegment abandons the current segment without a final. Returns false if
// it was already terminal.
func (h *Handler) DropSegment(reason string) bool {
	segmentId := h.lifecycle.SegmentId()
	oldState := h.lifecycle.State()

	dropped := h.lifecycle.Drop()
	if dropped {
		h.metrics.RecordSegmentDropped(reason)
	}

	h.log.Warn().
		Str("segmentId", segmentId).
		Str("previousState", oldState.String()).
		Str("reason", reason).
		Bool("dropped", dropped).
		Msg("Segment dropped")
	return dropped
}

// rollSegment drops the current segment and opens a fresh one so the
// stream can continue.
func (h *Handler) rollSegment(reason, detail string) {
	h.DropSegment(reason)
	newSegmentId := h.segments.Next()
	h.lifecycle.Reset(newSegmentId)
	h.metrics.RecordSegmentCreated()

	h.log.Info().Str("newSegment", newSegmentId).Str("detail", detail).Msg("Segment rolled over")
}

func eventTime(t stt.Transcript) int64 {
	if t.Timestamp.IsZero() {
		return time.Now().UnixMilli()
	}
	return t.Timestamp.UnixMilli()
}
