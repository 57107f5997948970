// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"speech-stream-bridge/internal/observability/logging"
	"speech-stream-bridge/internal/service/stt"
)

// Config holds the recognition settings sent with the first request.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
}

// DefaultConfig matches the normalized audio the service forwards.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// parseAudioEncoding maps an upper-case encoding name to the API enum,
// falling back to LINEAR16.
func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[s]; ok && v != 0 {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}

func (c Config) streamingConfig() *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        parseAudioEncoding(c.AudioEncoding),
					SampleRateHertz: int32(c.SampleRateHz),
					LanguageCode:    c.LanguageCode,
				},
				InterimResults: c.InterimResults,
			},
		},
	}
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client *speech.Client
	cfg    Config
	log    zerolog.Logger

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	done   chan struct{}
}

// New creates a new Google STT adapter.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		client: c,
		cfg:    cfg,
		log:    logging.WithComponent("stt.google"),
	}, nil
}

// Start opens a streaming recognition session, sends the config and begins
// delivering responses to cb.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}

	if err := stream.Send(a.cfg.streamingConfig()); err != nil {
		return err
	}

	done := make(chan struct{})
	a.mu.Lock()
	a.stream = stream
	a.done = done
	a.mu.Unlock()

	go a.listen(stream, cb, done)
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return errors.New("google adapter not started")
	}
	return stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the stream, waits for outstanding responses and closes
// the client.
func (a *Adapter) Close() error {
	a.mu.Lock()
	stream, done := a.stream, a.done
	a.stream = nil
	a.mu.Unlock()

	if stream != nil {
		if err := stream.CloseSend(); err != nil {
			a.log.Warn().Err(err).Msg("CloseSend failed")
		}
		<-done
	}
	return a.client.Close()
}

func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb stt.Callback, done chan struct{}) {
	defer close(done)

	for {
		resp, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
				cb.OnError(err)
			}
			return
		}

		dispatch(resp, cb, time.Now())
	}
}

// dispatch forwards the top alternative of each result. A final is followed
// by an end of utterance.
func dispatch(resp *speechpb.StreamingRecognizeResponse, cb stt.Callback, at time.Time) {
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		t := stt.Transcript{
			Text:       alts[0].GetTranscript(),
			Confidence: float64(alts[0].GetConfidence()),
			Timestamp:  at,
		}
		if !r.GetIsFinal() {
			cb.OnPartial(t)
			continue
		}
		cb.OnFinal(t)
		cb.OnEndOfUtterance()
	}
}
