// Package asr drives the transcription backends. One Transcriber serves one
// session; a finalize attempt is always serial per session, so providers only
// guard their own process-wide resources.
package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxline-labs/voxline-core/internal/codec"
	"github.com/voxline-labs/voxline-core/internal/config"
)

// ErrBackendFailed means the backend explicitly reported a processing failure.
// It is fatal for the current utterance; the session resumes listening with an
// empty transcript.
var ErrBackendFailed = errors.New("transcription backend reported failure")

// TransportError wraps a network-level upload failure after retries were
// exhausted. Callers treat it as recoverable and keep any partial transcript.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transcription transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Result captures one finalize attempt. Artifact is the path of a persisted
// WAV copy of the utterance, empty when none was kept.
type Result struct {
	Text     string
	Artifact string
}

// Transcriber turns a finalized utterance buffer of codec packets into text.
type Transcriber interface {
	Transcribe(ctx context.Context, frames [][]byte, sessionID string) (Result, error)
}

// New selects the provider once at construction time. The closed set of
// variants here is the only place provider names are interpreted.
func New(cfg config.ASRConfig, audioCfg config.AudioConfig, dec codec.PacketDecoder, logger *slog.Logger) (Transcriber, error) {
	switch cfg.Provider {
	case "batch":
		return newBatchTranscriber(cfg, audioCfg, dec, logger)
	case "incremental":
		return newIncrementalTranscriber(cfg, audioCfg, dec, logger)
	case "mock":
		return NewMockTranscriber(""), nil
	default:
		return nil, fmt.Errorf("unknown asr provider %q", cfg.Provider)
	}
}
