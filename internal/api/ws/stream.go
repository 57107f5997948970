// Package ws serves the WebSocket audio ingest endpoint. A client sends
// binary frames of little-endian samples and receives transcript events as
// JSON text frames.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"speech-stream-bridge/internal/app"
	"speech-stream-bridge/internal/events"
	"speech-stream-bridge/internal/models"
	"speech-stream-bridge/internal/observability/logging"
	"speech-stream-bridge/internal/pcm"
	"speech-stream-bridge/internal/service/segment"
)

const (
	pongWait      = 70 * time.Second
	pingPeriod    = 25 * time.Second
	writeWait     = 10 * time.Second
	maxMessageLen = 1 << 20

	maxChannels = 8
)

// Sample formats accepted in the format query parameter.
const (
	FormatS16 = "s16"
	FormatF32 = "f32"
)

// StopMessage is the text frame a client sends to end its stream and wait
// for the last final.
const StopMessage = "stop"

// StreamParams describe the client's audio.
type StreamParams struct {
	SampleRate int
	Channels   int
	Format     string
}

// ParseStreamParams reads rate, channels and format from the query string.
// Missing values default to 16 kHz mono s16.
func ParseStreamParams(r *http.Request) (StreamParams, error) {
	q := r.URL.Query()
	p := StreamParams{SampleRate: pcm.TargetSampleRate, Channels: 1, Format: FormatS16}

	if v := q.Get("rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return p, fmt.Errorf("invalid rate %q", v)
		}
		p.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxChannels {
			return p, fmt.Errorf("invalid channels %q", v)
		}
		p.Channels = n
	}
	if v := q.Get("format"); v != "" {
		if v != FormatS16 && v != FormatF32 {
			return p, fmt.Errorf("invalid format %q", v)
		}
		p.Format = v
	}
	return p, nil
}

// FrameSize is the byte length of one sample frame across all channels.
func (p StreamParams) FrameSize() int {
	if p.Format == FormatF32 {
		return 4 * p.Channels
	}
	return 2 * p.Channels
}

// normalize converts whole sample frames to 16 kHz mono PCM16 bytes.
func (p StreamParams) normalize(frame []byte) []byte {
	var samples []int16
	if p.Format == FormatF32 {
		samples = pcm.NormalizeF32(pcm.DecodeFloat32LE(frame), p.SampleRate, p.Channels)
	} else {
		samples = pcm.NormalizeI16(pcm.DecodeLE(frame), p.SampleRate, p.Channels)
	}
	return pcm.EncodeLE(samples)
}

// frameDecoder normalizes binary messages that may split a sample frame. The
// incomplete tail of one message is prepended to the next, so channel
// alignment survives arbitrary message sizes.
type frameDecoder struct {
	params  StreamParams
	pending []byte
}

func (d *frameDecoder) decode(msg []byte) []byte {
	buf := msg
	if len(d.pending) > 0 {
		buf = append(d.pending, msg...)
	}
	n := len(buf) - len(buf)%d.params.FrameSize()
	out := d.params.normalize(buf[:n])
	d.pending = append(d.pending[:0], buf[n:]...)
	return out
}

// StreamHandler upgrades GET /v1/stream and runs one transcription stream
// per connection.
type StreamHandler struct {
	app      *app.Application
	upgrader websocket.Upgrader
	log      zerolog.Logger

	active sync.WaitGroup
}

// NewStreamHandler creates the endpoint handler.
func NewStreamHandler(a *app.Application) *StreamHandler {
	return &StreamHandler{
		app: a,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logging.WithComponent("api.ws"),
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.app.StreamsEnabled() {
		http.Error(w, "worker runs in microphone mode", http.StatusServiceUnavailable)
		return
	}

	params, err := ParseStreamParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !h.app.AcquireStream() {
		h.app.Metrics.RecordStreamRejected()
		http.Error(w, "a stream is already active", http.StatusConflict)
		return
	}
	defer h.app.ReleaseStream()
	h.active.Add(1)
	defer h.active.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	streamId := uuid.NewString()
	start := time.Now()
	h.app.Metrics.RecordStreamStart()

	err = h.serve(r.Context(), conn, streamId, params)
	h.app.Metrics.RecordStreamEnd(err == nil, time.Since(start).Seconds())
}

// Wait blocks until every stream the handler has accepted has ended. Closing
// an http.Server does not wait for hijacked connections.
func (h *StreamHandler) Wait() {
	h.active.Wait()
}

func (h *StreamHandler) serve(ctx context.Context, conn *websocket.Conn, streamId string, params StreamParams) error {
	log := h.log.With().Str("streamId", streamId).Logger()
	client := &connSink{conn: conn}

	adapter, err := h.app.NewAdapter(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Creating STT adapter")
		client.sendError(streamId, err)
		return err
	}

	handler := h.app.NewHandler(adapter, streamId, events.Multi{client, h.app.Publisher})

	var failed atomic.Bool
	handler.SetErrorCallback(func(err error) {
		failed.Store(true)
		client.sendError(streamId, err)
		// unblock the read loop
		_ = conn.SetReadDeadline(time.Now())
	})

	if err := handler.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Starting STT adapter")
		client.sendError(streamId, err)
		adapter.Close()
		return err
	}

	client.send(models.StreamStarted{
		EventType:  models.EventTypeStarted,
		StreamID:   streamId,
		Provider:   h.app.Cfg.STT.Provider,
		Timestamp:  time.Now().UnixMilli(),
		SampleRate: params.SampleRate,
		Channels:   params.Channels,
		Format:     params.Format,
	})
	log.Info().
		Int("sampleRate", params.SampleRate).
		Int("channels", params.Channels).
		Str("format", params.Format).
		Msg("Stream started")

	stopPing := make(chan struct{})
	go client.keepalive(stopPing)

	readErr := h.readLoop(ctx, conn, handler.SendAudio, params, log)
	close(stopPing)

	// flushes a pending final to the client before the close frame
	if err := handler.Close(); err != nil {
		log.Warn().Err(err).Msg("Closing STT adapter")
	}
	client.close()

	log.Info().
		Int("utterances", handler.UtteranceCount()).
		Int64("audioMs", handler.AudioOffsetMs()).
		Msg("Stream ended")

	if failed.Load() {
		return errors.New("transcription failed")
	}
	return readErr
}

type sendFunc func(ctx context.Context, audio []byte) error

// readLoop forwards binary frames until the client stops or disconnects. A
// nil return means the client ended the stream cleanly.
func (h *StreamHandler) readLoop(ctx context.Context, conn *websocket.Conn, send sendFunc, params StreamParams, log zerolog.Logger) error {
	conn.SetReadLimit(maxMessageLen)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	dec := &frameDecoder{params: params}
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		switch messageType {
		case websocket.TextMessage:
			if string(payload) == StopMessage {
				return nil
			}
			continue
		case websocket.BinaryMessage:
		default:
			continue
		}

		h.app.Metrics.RecordAudioReceived(len(payload))
		audio := dec.decode(payload)
		if len(audio) == 0 {
			continue
		}

		if err := send(ctx, audio); err != nil {
			var le *segment.LimitError
			if errors.As(err, &le) {
				log.Warn().Err(err).Msg("Segment limit exceeded, frame dropped")
				continue
			}
			log.Error().Err(err).Msg("Forwarding audio")
			return err
		}
	}
}

// connSink writes events to the client. gorilla/websocket allows one
// concurrent writer, so every write takes mu.
type connSink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *connSink) PublishPartial(ctx context.Context, key string, event any) error {
	return s.send(event)
}

func (s *connSink) PublishFinal(ctx context.Context, key string, event any) error {
	return s.send(event)
}

func (s *connSink) send(event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return websocket.ErrCloseSent
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(event)
}

func (s *connSink) sendError(streamId string, err error) {
	_ = s.send(models.StreamError{
		EventType: models.EventTypeError,
		StreamID:  streamId,
		Timestamp: time.Now().UnixMilli(),
		Message:   err.Error(),
	})
}

func (s *connSink) keepalive(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(writeWait))
			s.mu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (s *connSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(writeWait))
}
