package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"

	"github.com/voxline-labs/voxline-core/internal/audio"
	"github.com/voxline-labs/voxline-core/internal/codec"
	"github.com/voxline-labs/voxline-core/internal/config"
)

// batchTranscriber shells out to a local model once per finalized utterance.
// The call blocks until the model finishes, so sessions must run it off their
// scheduling loop.
type batchTranscriber struct {
	cmd    []string
	cfg    config.ASRConfig
	audio  config.AudioConfig
	dec    codec.PacketDecoder
	logger *slog.Logger
	mu     sync.Mutex
}

type batchResult struct {
	Text string `json:"text"`
}

func newBatchTranscriber(cfg config.ASRConfig, audioCfg config.AudioConfig, dec codec.PacketDecoder, logger *slog.Logger) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse asr command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("asr command is empty")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create asr output dir: %w", err)
	}
	return &batchTranscriber{
		cmd:    args,
		cfg:    cfg,
		audio:  audioCfg,
		dec:    dec,
		logger: logger.With(slog.String("component", "asr.batch")),
	}, nil
}

func (t *batchTranscriber) Transcribe(ctx context.Context, frames [][]byte, sessionID string) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pcm []int16
	for _, frame := range frames {
		samples, err := t.dec.Decode(frame)
		if err != nil {
			return Result{}, fmt.Errorf("decode utterance frame: %w", err)
		}
		pcm = append(pcm, samples...)
	}
	if len(pcm) == 0 {
		return Result{}, nil
	}

	path := filepath.Join(t.cfg.OutputDir, fmt.Sprintf("utt_%s_%s.wav", sessionID, uuid.NewString()))
	if err := audio.WriteWAVFile(path, pcm, t.audio.SampleRate, t.audio.Channels); err != nil {
		return Result{}, err
	}
	if t.cfg.DeleteArtifacts {
		defer os.Remove(path)
	}

	args := append([]string{}, t.cmd[1:]...)
	args = append(args, "--audio", path)
	if t.cfg.ModelPath != "" {
		args = append(args, "--model", t.cfg.ModelPath)
	}
	if t.cfg.Language != "" {
		args = append(args, "--language", t.cfg.Language)
	}

	command := exec.CommandContext(ctx, t.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("%w: %v: %s", ErrBackendFailed, err, stderr.String())
	}

	var resp batchResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("%w: decode model output: %v", ErrBackendFailed, err)
	}

	result := Result{Text: resp.Text}
	if !t.cfg.DeleteArtifacts {
		result.Artifact = path
	}
	return result, nil
}
