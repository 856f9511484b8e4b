package llm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

type execGenerator struct {
	cmd []string
}

// NewExecGenerator runs a local command per prompt. The prompt arrives on
// stdin; the reply is the command's stdout, emitted as one final chunk.
func NewExecGenerator(command string) (Generator, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("llm command is empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	command := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	command.Stdin = strings.NewReader(req.Prompt)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	start := time.Now()
	if err := command.Run(); err != nil {
		return fmt.Errorf("llm command failed: %w: %s", err, stderr.String())
	}
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   strings.TrimSpace(stdout.String()),
		Partial:   false,
		Latency:   time.Since(start),
	})
}
