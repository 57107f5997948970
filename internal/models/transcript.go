// Package models defines the data structures for transcript events.
package models

// Event types carried in the eventType field.
const (
	EventTypePartial = "stream.transcript.partial"
	EventTypeFinal   = "stream.transcript.final"
	EventTypeStarted = "stream.started"
	EventTypeError   = "stream.error"
)

// StreamStarted tells a connected client which stream id its audio is
// published under.
type StreamStarted struct {
	EventType  string `json:"eventType"`
	StreamID   string `json:"streamId"`
	Provider   string `json:"provider"`
	Timestamp  int64  `json:"timestamp"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Format     string `json:"format"`
}

// TranscriptPartial represents an interim transcript that a later event for
// the same segment may revise.
type TranscriptPartial struct {
	EventType string `json:"eventType"`
	StreamID  string `json:"streamId"`
	Provider  string `json:"provider"`
	Timestamp int64  `json:"timestamp"` // unix ms
	SegmentID string `json:"segmentId"`
	Sequence  int    `json:"sequence"`
	Text      string `json:"text"`
}

// TranscriptFinal represents the settled transcript that closes a segment.
type TranscriptFinal struct {
	EventType     string  `json:"eventType"`
	StreamID      string  `json:"streamId"`
	Provider      string  `json:"provider"`
	Timestamp     int64   `json:"timestamp"` // unix ms
	SegmentID     string  `json:"segmentId"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	AudioOffsetMs int64   `json:"audioOffsetMs"`
}

// StreamError reports a terminal stream failure to a connected client.
type StreamError struct {
	EventType string `json:"eventType"`
	StreamID  string `json:"streamId"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}
