package playback

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxline-labs/voxline-core/internal/audio"
	"github.com/voxline-labs/voxline-core/internal/config"
)

// passthroughEncoder emits frames as raw PCM bytes so tests can inspect them
// without the opus codec.
type passthroughEncoder struct {
	frameSamples int
}

func (e passthroughEncoder) Encode(pcm []int16) ([]byte, error) {
	return audio.PCMToBytes(pcm), nil
}

func (e passthroughEncoder) FrameSamples() int { return e.frameSamples }

func TestEncodeAssetFrameCountAndPadding(t *testing.T) {
	// 2500ms at 16kHz mono.
	pcm := make([]int16, 16000*2500/1000)
	for i := range pcm {
		pcm[i] = int16(i%100 + 1)
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := audio.WriteWAVFile(path, pcm, 16000, 1); err != nil {
		t.Fatalf("write asset: %v", err)
	}

	enc := NewEncoder(config.AudioConfig{SampleRate: 16000, Channels: 1, FrameDurationMS: 60}, passthroughEncoder{frameSamples: 960})
	packets, duration, err := enc.EncodeAsset(path)
	if err != nil {
		t.Fatalf("encode asset: %v", err)
	}
	if len(packets) != 42 {
		t.Fatalf("expected ceil(2500/60)=42 packets, got %d", len(packets))
	}
	if duration != 2500*time.Millisecond {
		t.Fatalf("expected 2500ms duration, got %v", duration)
	}

	last := audio.BytesToPCM(packets[41])
	if len(last) != 960 {
		t.Fatalf("final frame must be padded to 960 samples, got %d", len(last))
	}
	// 2500ms fills 41 full frames plus 640 samples; the rest must be zero.
	if last[639] == 0 {
		t.Fatal("expected real audio before the padding boundary")
	}
	for i := 640; i < 960; i++ {
		if last[i] != 0 {
			t.Fatalf("expected zero padding at sample %d, got %d", i, last[i])
		}
	}
}

func TestEncodeAssetResamplesAndDownmixes(t *testing.T) {
	// 1s stereo at 32kHz becomes 1s mono at 16kHz.
	pcm := make([]int16, 32000*2)
	path := filepath.Join(t.TempDir(), "stereo.wav")
	if err := audio.WriteWAVFile(path, pcm, 32000, 2); err != nil {
		t.Fatalf("write asset: %v", err)
	}

	enc := NewEncoder(config.AudioConfig{SampleRate: 16000, Channels: 1, FrameDurationMS: 60}, passthroughEncoder{frameSamples: 960})
	packets, duration, err := enc.EncodeAsset(path)
	if err != nil {
		t.Fatalf("encode asset: %v", err)
	}
	if duration != time.Second {
		t.Fatalf("expected 1s duration, got %v", duration)
	}
	// ceil(1000/60) = 17
	if len(packets) != 17 {
		t.Fatalf("expected 17 packets, got %d", len(packets))
	}
}

func TestEncodeAssetDecodeFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(path, []byte("not a wav"), 0o644); err != nil {
		t.Fatalf("write broken asset: %v", err)
	}

	enc := NewEncoder(config.AudioConfig{SampleRate: 16000, Channels: 1, FrameDurationMS: 60}, passthroughEncoder{frameSamples: 960})
	_, _, err := enc.EncodeAsset(path)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected playback error, got %v", err)
	}
	if perr.Path != path {
		t.Fatalf("error should carry the asset path, got %q", perr.Path)
	}
}

func TestEncodePCMDuration(t *testing.T) {
	enc := NewEncoder(config.AudioConfig{SampleRate: 16000, Channels: 1, FrameDurationMS: 60}, passthroughEncoder{frameSamples: 960})
	packets, duration, err := enc.EncodePCM(make([]int16, 960*3+100))
	if err != nil {
		t.Fatalf("encode pcm: %v", err)
	}
	if len(packets) != 4 {
		t.Fatalf("expected 4 packets, got %d", len(packets))
	}
	want := audio.Duration(960*3+100, 16000)
	if duration != want {
		t.Fatalf("expected %v, got %v", want, duration)
	}
}
