package asr

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxline-labs/voxline-core/internal/audio"
	"github.com/voxline-labs/voxline-core/internal/config"
)

// pcmPacketDecoder treats packets as raw little-endian PCM so tests do not
// need the opus codec.
type pcmPacketDecoder struct{}

func (pcmPacketDecoder) Decode(packet []byte) ([]int16, error) {
	return audio.BytesToPCM(packet), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// packets renders durMS of constant-amplitude audio as 60ms transport frames.
func packets(durMS int, amplitude int16) [][]byte {
	total := 16000 * durMS / 1000
	var out [][]byte
	for start := 0; start < total; start += 960 {
		n := min(960, total-start)
		pcm := make([]int16, n)
		for i := range pcm {
			pcm[i] = amplitude
		}
		out = append(out, audio.PCMToBytes(pcm))
	}
	return out
}

func speech(durMS int) [][]byte  { return packets(durMS, 3000) }
func silence(durMS int) [][]byte { return packets(durMS, 0) }

func incrementalConfig(baseURL string) config.ASRConfig {
	return config.ASRConfig{
		Provider:           "incremental",
		BaseURL:            baseURL,
		SilenceThresholdMS: 300,
		HeadWindowMS:       0,
		MaxDurationSec:     10,
		MaxRetries:         1,
		RetryDelayMS:       1,
		HTTPFallback:       false,
		SliceDurationMS:    600,
		VADFrameMS:         30,
	}
}

func newIncrementalForTest(t *testing.T, cfg config.ASRConfig) *incrementalTranscriber {
	t.Helper()
	tr, err := newIncrementalTranscriber(cfg, config.AudioConfig{SampleRate: 16000, Channels: 1, FrameDurationMS: 60}, pcmPacketDecoder{}, testLogger())
	if err != nil {
		t.Fatalf("build incremental transcriber: %v", err)
	}
	return tr.(*incrementalTranscriber)
}

func transcriptServer(requests *atomic.Int32, texts ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		text := texts[len(texts)-1]
		if int(n) <= len(texts) {
			text = texts[n-1]
		}
		json.NewEncoder(w).Encode(map[string]string{"transcription": text})
	}))
}

func TestIncrementalFinalizesAtSilenceThreshold(t *testing.T) {
	var requests atomic.Int32
	srv := transcriptServer(&requests, "one")
	defer srv.Close()

	tr := newIncrementalForTest(t, incrementalConfig(srv.URL))
	frames := append(speech(600), silence(600)...)

	result, err := tr.Transcribe(context.Background(), frames, "s1")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "one" {
		t.Fatalf("expected transcript from silence-entry upload, got %q", result.Text)
	}
	if n := requests.Load(); n != 1 {
		t.Fatalf("expected exactly 1 upload, got %d", n)
	}
}

func TestIncrementalShortSilenceDoesNotFinalize(t *testing.T) {
	var requests atomic.Int32
	srv := transcriptServer(&requests, "one", "two")
	defer srv.Close()

	tr := newIncrementalForTest(t, incrementalConfig(srv.URL))
	// 270ms of silence is 9 vad frames, one short of the 300ms threshold,
	// so transcription must continue through the second speech span.
	frames := append(speech(600), silence(270)...)
	frames = append(frames, speech(330)...)

	result, err := tr.Transcribe(context.Background(), frames, "s1")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "two" {
		t.Fatalf("expected transcript from trailing upload, got %q", result.Text)
	}
	if n := requests.Load(); n != 2 {
		t.Fatalf("expected 2 uploads, got %d", n)
	}
}

func TestIncrementalRetriesAreRecoverable(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := incrementalConfig(srv.URL)
	cfg.MaxRetries = 3
	tr := newIncrementalForTest(t, cfg)
	frames := append(speech(600), silence(600)...)

	result, err := tr.Transcribe(context.Background(), frames, "s1")
	if err != nil {
		t.Fatalf("expected recoverable outcome, got %v", err)
	}
	if result.Text != "" {
		t.Fatalf("expected empty transcript, got %q", result.Text)
	}
	if n := requests.Load(); n != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", n)
	}
}

func TestIncrementalBackendFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "model exploded"})
	}))
	defer srv.Close()

	tr := newIncrementalForTest(t, incrementalConfig(srv.URL))
	frames := append(speech(600), silence(600)...)

	_, err := tr.Transcribe(context.Background(), frames, "s1")
	if !errors.Is(err, ErrBackendFailed) {
		t.Fatalf("expected ErrBackendFailed, got %v", err)
	}
}

func TestIncrementalTimeoutReturnsEarlierPartial(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			json.NewEncoder(w).Encode(map[string]string{"transcription": "early partial"})
			return
		}
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := incrementalConfig(srv.URL)
	cfg.SilenceThresholdMS = 100000
	tr := newIncrementalForTest(t, cfg)
	tr.maxDuration = 300 * time.Millisecond

	frames := append(speech(600), silence(600)...)
	frames = append(frames, speech(600)...)
	frames = append(frames, silence(600)...)

	result, err := tr.Transcribe(context.Background(), frames, "s1")
	if err != nil {
		t.Fatalf("expected best-partial outcome, got %v", err)
	}
	if result.Text != "early partial" {
		t.Fatalf("expected earlier partial transcript, got %q", result.Text)
	}
}

func TestIncrementalDowngradesToHTTP(t *testing.T) {
	var requests atomic.Int32
	srv := transcriptServer(&requests, "one")
	defer srv.Close()

	cfg := incrementalConfig("https" + strings.TrimPrefix(srv.URL, "http"))
	cfg.HTTPFallback = true
	cfg.MaxRetries = 3
	tr := newIncrementalForTest(t, cfg)
	frames := append(speech(600), silence(600)...)

	result, err := tr.Transcribe(context.Background(), frames, "s1")
	if err != nil {
		t.Fatalf("transcribe after downgrade: %v", err)
	}
	if result.Text != "one" {
		t.Fatalf("expected transcript via http fallback, got %q", result.Text)
	}
}

func writeFakeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.sh")
	script := "#!/bin/sh\necho '{\"text\":\"hello there\"}'\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake model: %v", err)
	}
	return path
}

func TestBatchTranscribeKeepsArtifact(t *testing.T) {
	cfg := config.ASRConfig{
		Provider:        "batch",
		Command:         writeFakeModel(t),
		OutputDir:       t.TempDir(),
		DeleteArtifacts: false,
	}
	tr, err := New(cfg, config.AudioConfig{SampleRate: 16000, Channels: 1, FrameDurationMS: 60}, pcmPacketDecoder{}, testLogger())
	if err != nil {
		t.Fatalf("build batch transcriber: %v", err)
	}

	result, err := tr.Transcribe(context.Background(), speech(120), "s1")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "hello there" {
		t.Fatalf("unexpected transcript %q", result.Text)
	}
	if result.Artifact == "" {
		t.Fatal("expected persisted artifact path")
	}
	if _, err := os.Stat(result.Artifact); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
}

func TestBatchTranscribeDeletesArtifact(t *testing.T) {
	outputDir := t.TempDir()
	cfg := config.ASRConfig{
		Provider:        "batch",
		Command:         writeFakeModel(t),
		OutputDir:       outputDir,
		DeleteArtifacts: true,
	}
	tr, err := New(cfg, config.AudioConfig{SampleRate: 16000, Channels: 1, FrameDurationMS: 60}, pcmPacketDecoder{}, testLogger())
	if err != nil {
		t.Fatalf("build batch transcriber: %v", err)
	}

	result, err := tr.Transcribe(context.Background(), speech(120), "s1")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Artifact != "" {
		t.Fatalf("expected no artifact path, got %q", result.Artifact)
	}
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		t.Fatalf("read output dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected artifact removed, found %d entries", len(entries))
	}
}

func TestBatchFailureSurfacesAsBackendError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("write fake model: %v", err)
	}
	cfg := config.ASRConfig{
		Provider:  "batch",
		Command:   path,
		OutputDir: t.TempDir(),
	}
	tr, err := New(cfg, config.AudioConfig{SampleRate: 16000, Channels: 1, FrameDurationMS: 60}, pcmPacketDecoder{}, testLogger())
	if err != nil {
		t.Fatalf("build batch transcriber: %v", err)
	}

	_, err = tr.Transcribe(context.Background(), speech(120), "s1")
	if !errors.Is(err, ErrBackendFailed) {
		t.Fatalf("expected ErrBackendFailed, got %v", err)
	}
}

func TestUnknownProviderRejected(t *testing.T) {
	_, err := New(config.ASRConfig{Provider: "cloud"}, config.AudioConfig{}, pcmPacketDecoder{}, testLogger())
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "cloud") {
		t.Fatalf("error should name the provider: %v", err)
	}
}
