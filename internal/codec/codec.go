// Package codec wraps the opus codec behind small per-session interfaces.
// Frame geometry is fixed by configuration: one packet always carries one
// frame of FrameDurationMS PCM.
package codec

import (
	"fmt"

	"github.com/hraban/opus"
)

// PacketDecoder turns one compressed packet into PCM samples.
type PacketDecoder interface {
	Decode(packet []byte) ([]int16, error)
}

// FrameEncoder turns one full PCM frame into a compressed packet.
type FrameEncoder interface {
	Encode(pcm []int16) ([]byte, error)
	FrameSamples() int
}

type opusDecoder struct {
	dec          *opus.Decoder
	frameSamples int
}

type opusEncoder struct {
	enc          *opus.Encoder
	frameSamples int
}

// FrameSamples returns samples per frame for the given geometry
// (960 for 60ms at 16kHz mono).
func FrameSamples(sampleRate, frameDurationMS int) int {
	return sampleRate * frameDurationMS / 1000
}

func NewOpusDecoder(sampleRate, channels, frameDurationMS int) (PacketDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec, frameSamples: FrameSamples(sampleRate, frameDurationMS) * channels}, nil
}

func (d *opusDecoder) Decode(packet []byte) ([]int16, error) {
	pcm := make([]int16, d.frameSamples)
	n, err := d.dec.Decode(packet, pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return pcm[:n], nil
}

func NewOpusEncoder(sampleRate, channels, frameDurationMS int) (FrameEncoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, frameSamples: FrameSamples(sampleRate, frameDurationMS) * channels}, nil
}

func (e *opusEncoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != e.frameSamples {
		return nil, fmt.Errorf("opus encode: expected %d samples, got %d", e.frameSamples, len(pcm))
	}
	buf := make([]byte, 4000)
	n, err := e.enc.Encode(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return buf[:n], nil
}

func (e *opusEncoder) FrameSamples() int {
	return e.frameSamples
}
