package transcriber

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies failures surfaced by a Session.
type Kind int

const (
	// KindConfig - no helper executable found, or an invalid Config.
	KindConfig Kind = iota + 1
	// KindSpawn - the OS failed to create the worker process.
	KindSpawn
	// KindMode - audio fed to a session in microphone mode.
	KindMode
	// KindState - operation not valid in the session's current state.
	KindState
	// KindPipeWrite - the worker stopped reading its stdin.
	KindPipeWrite
	// KindDecode - a stdout line is not a well-formed result record.
	KindDecode
	// KindChannelEnded - the worker exited; no more results will arrive.
	KindChannelEnded
	// KindShutdown - terminating or reaping the worker failed.
	KindShutdown
	// KindTranscribe - a one-shot helper run exited unsuccessfully.
	KindTranscribe
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration error"
	case KindSpawn:
		return "spawn error"
	case KindMode:
		return "mode violation"
	case KindState:
		return "state error"
	case KindPipeWrite:
		return "pipe write error"
	case KindDecode:
		return "decode error"
	case KindChannelEnded:
		return "channel ended"
	case KindShutdown:
		return "shutdown error"
	case KindTranscribe:
		return "transcription failed"
	default:
		return fmt.Sprintf("unknown error kind %d", int(k))
	}
}

// Sentinel causes, matched with errors.Is through *Error.
var (
	ErrHelperNotFound = errors.New("helper binary not found")
	ErrNotStarted     = errors.New("session not started")
	ErrAlreadyRunning = errors.New("session already running")
	ErrMicrophoneMode = errors.New("audio feed requires programmatic input mode")
	ErrChannelEnded   = errors.New("worker output ended")
	ErrAudioNotFound  = errors.New("audio file not found")
)

// Error is the failure type returned by every Session operation.
type Error struct {
	Kind Kind
	Op   string // start, feed, poll, stop, locate, transcribe
	Path string // helper path for config and spawn errors
	Line string // offending stdout line for decode errors
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("transcriber: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(strconv.Quote(e.Path))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Kind == KindDecode {
		b.WriteString(" (line ")
		b.WriteString(strconv.Quote(e.Line))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
