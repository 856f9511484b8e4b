package tts

import (
	"context"
	"math"
	"strings"
)

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth produces a low sine tone whose length scales with the word
// count, so playback timing behaves like real speech without a voice model.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		words := len(strings.Fields(req.Text))
		if words == 0 {
			words = 1
		}
		// Roughly 240ms per word.
		samples := m.sampleRate * words * 240 / 1000
		pcm := make([]byte, samples*m.channels*2)
		for i := 0; i < samples; i++ {
			v := int16(3000 * math.Sin(2*math.Pi*220*float64(i)/float64(m.sampleRate)))
			for c := 0; c < m.channels; c++ {
				idx := (i*m.channels + c) * 2
				pcm[idx] = byte(uint16(v))
				pcm[idx+1] = byte(uint16(v) >> 8)
			}
		}

		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case chunks <- SynthChunk{
			SessionID:  req.SessionID,
			Sequence:   0,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        pcm,
			Final:      true,
		}:
		}
	}()
	return chunks, errs
}
