package transcriber

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Result is one line of worker output.
type Result struct {
	Text      string  `json:"text"`
	IsFinal   bool    `json:"isFinal"`
	Timestamp float64 `json:"timestamp"` // epoch seconds
}

// Time converts Timestamp to a time.Time.
func (r Result) Time() time.Time {
	sec, frac := math.Modf(r.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// wireResult mirrors Result with every field required.
type wireResult struct {
	Text      *string  `json:"text"`
	IsFinal   *bool    `json:"isFinal"`
	Timestamp *float64 `json:"timestamp"`
}

func decodeResult(line []byte) (Result, error) {
	var w wireResult
	if err := json.Unmarshal(line, &w); err != nil {
		return Result{}, err
	}
	switch {
	case w.Text == nil:
		return Result{}, errors.New(`missing field "text"`)
	case w.IsFinal == nil:
		return Result{}, errors.New(`missing field "isFinal"`)
	case w.Timestamp == nil:
		return Result{}, errors.New(`missing field "timestamp"`)
	}
	return Result{Text: *w.Text, IsFinal: *w.IsFinal, Timestamp: *w.Timestamp}, nil
}

// resultChannel turns the worker's stdout into Results without ever blocking
// the poller. A reader goroutine pushes complete lines into a bounded queue;
// when the queue is full the goroutine (and eventually the worker) waits.
type resultChannel struct {
	lines    chan []byte
	done     chan struct{}
	stopOnce sync.Once
	ended    atomic.Bool
	log      zerolog.Logger
}

func newResultChannel(r io.Reader, size int, log zerolog.Logger) *resultChannel {
	c := &resultChannel{
		lines: make(chan []byte, size),
		done:  make(chan struct{}),
		log:   log,
	}
	go c.read(r)
	return c
}

func (c *resultChannel) read(r io.Reader) {
	defer close(c.lines)
	defer c.ended.Store(true)

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadBytes('\n')
		if line = bytes.TrimRight(line, "\r\n"); len(bytes.TrimSpace(line)) > 0 {
			select {
			case c.lines <- line:
			case <-c.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.log.Warn().Err(err).Msg("Worker stdout read failed")
			}
			return
		}
	}
}

// poll returns the next result if one is buffered. ok is false with a nil
// error when nothing is available yet. After the worker's output ends every
// call returns a KindChannelEnded error.
func (c *resultChannel) poll() (Result, bool, error) {
	select {
	case line, open := <-c.lines:
		if !open {
			return Result{}, false, &Error{Kind: KindChannelEnded, Op: "poll", Err: ErrChannelEnded}
		}
		res, err := decodeResult(line)
		if err != nil {
			return Result{}, false, &Error{Kind: KindDecode, Op: "poll", Line: string(line), Err: fmt.Errorf("invalid result record: %w", err)}
		}
		return res, true, nil
	default:
		return Result{}, false, nil
	}
}

// isEnded reports whether the worker's stdout has reached end of stream.
// Lines read before the end may still be queued.
func (c *resultChannel) isEnded() bool {
	return c.ended.Load()
}

// stop releases a reader blocked on a full queue.
func (c *resultChannel) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
