package transcriber

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"speech-stream-bridge/internal/observability/logging"
)

// FileTranscriber runs the one-shot helper against a recorded audio file.
// It holds no process between calls.
type FileTranscriber struct {
	helperPath string
	log        zerolog.Logger
}

// NewFileTranscriber resolves the one-shot helper. An empty explicit path
// uses the default search order for FileHelperName.
func NewFileTranscriber(explicit string) (*FileTranscriber, error) {
	path, err := Locate(explicit, SearchPaths(FileHelperName))
	if err != nil {
		return nil, err
	}
	return &FileTranscriber{
		helperPath: path,
		log:        logging.WithComponent("file_transcriber").With().Str("helper", path).Logger(),
	}, nil
}

// HelperPath returns the resolved helper executable.
func (t *FileTranscriber) HelperPath() string { return t.helperPath }

// TranscribeFile runs the helper with the audio path as its only argument
// and returns its trimmed stdout. A non-zero exit fails with the helper's
// stderr text.
func (t *FileTranscriber) TranscribeFile(ctx context.Context, audioPath string) (string, error) {
	if _, err := os.Stat(audioPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &Error{Kind: KindConfig, Op: "transcribe", Path: audioPath, Err: ErrAudioNotFound}
		}
		return "", &Error{Kind: KindConfig, Op: "transcribe", Path: audioPath, Err: err}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.helperPath, audioPath)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.log.Debug().Str("file", audioPath).Msg("Running one-shot transcription")

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = exitErr.Error()
			}
			return "", &Error{Kind: KindTranscribe, Op: "transcribe", Path: audioPath, Err: errors.New(msg)}
		}
		return "", &Error{Kind: KindSpawn, Op: "transcribe", Path: t.helperPath, Err: err}
	}

	return strings.TrimSpace(stdout.String()), nil
}
