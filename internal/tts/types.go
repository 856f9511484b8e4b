// Package tts synthesizes speech segments for outbound playback. One
// Synthesize call covers one sentence; the conversation handler encodes the
// returned PCM and times its delivery against the playback cursor.
package tts

import (
	"context"
	"fmt"

	"github.com/voxline-labs/voxline-core/internal/config"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// New selects the synthesizer variant once at construction time.
func New(cfg config.TTSConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
