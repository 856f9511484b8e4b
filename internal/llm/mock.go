package llm

import (
	"context"
	"fmt"
)

type mockGenerator struct {
	reply string
}

// NewMockGenerator echoes a canned reply, streamed as two chunks so consumers
// exercise their partial handling.
func NewMockGenerator(reply string) Generator {
	return &mockGenerator{reply: reply}
}

func (g *mockGenerator) Generate(_ context.Context, req Request, consumer func(Chunk) error) error {
	reply := g.reply
	if reply == "" {
		reply = fmt.Sprintf("You said: %s.", req.Prompt)
	}
	half := len(reply) / 2
	if err := consumer(Chunk{SessionID: req.SessionID, Content: reply[:half], Partial: true}); err != nil {
		return err
	}
	return consumer(Chunk{SessionID: req.SessionID, Content: reply[half:], Partial: false})
}
