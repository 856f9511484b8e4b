package asr

import (
	"context"
	"fmt"
)

type mockTranscriber struct {
	text string
}

// NewMockTranscriber returns a backend-free Transcriber. With an empty text it
// reports the utterance geometry, which is enough for pipeline smoke tests.
func NewMockTranscriber(text string) Transcriber {
	return &mockTranscriber{text: text}
}

func (m *mockTranscriber) Transcribe(_ context.Context, frames [][]byte, _ string) (Result, error) {
	if m.text != "" {
		return Result{Text: m.text}, nil
	}
	return Result{Text: fmt.Sprintf("[transcript frames=%d]", len(frames))}, nil
}
