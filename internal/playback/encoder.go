// Package playback turns audio assets into transport packets for streaming
// to the client, reusing the same frame geometry as spoken responses.
package playback

import (
	"fmt"
	"time"

	"github.com/voxline-labs/voxline-core/internal/audio"
	"github.com/voxline-labs/voxline-core/internal/codec"
	"github.com/voxline-labs/voxline-core/internal/config"
)

// Error reports an asset that could not be decoded or encoded. The session
// must restore its receive gating when it sees one, so audio intake resumes.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("playback of %s failed: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Encoder converts assets to sequences of codec packets at the transport
// rate. It is stateless across calls and safe to share between sessions as
// long as the underlying frame encoder is.
type Encoder struct {
	enc        codec.FrameEncoder
	sampleRate int
}

func NewEncoder(audioCfg config.AudioConfig, enc codec.FrameEncoder) *Encoder {
	return &Encoder{enc: enc, sampleRate: audioCfg.SampleRate}
}

// EncodeAsset decodes a WAV asset, reduces it to the transport geometry, and
// encodes it into fixed-duration packets with a zero-padded final frame. It
// returns the packets along with the asset's playback duration.
func (e *Encoder) EncodeAsset(path string) ([][]byte, time.Duration, error) {
	pcm, rate, channels, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, 0, &Error{Path: path, Err: err}
	}

	mono := audio.Downmix(pcm, channels)
	mono = audio.Resample(mono, rate, e.sampleRate)

	frames := audio.SliceFrames(mono, e.enc.FrameSamples())
	packets := make([][]byte, 0, len(frames))
	for _, frame := range frames {
		packet, err := e.enc.Encode(frame)
		if err != nil {
			return nil, 0, &Error{Path: path, Err: err}
		}
		packets = append(packets, packet)
	}
	return packets, audio.Duration(len(mono), e.sampleRate), nil
}

// EncodePCM packs already-decoded mono PCM at the transport rate, for
// synthesized speech segments.
func (e *Encoder) EncodePCM(pcm []int16) ([][]byte, time.Duration, error) {
	frames := audio.SliceFrames(pcm, e.enc.FrameSamples())
	packets := make([][]byte, 0, len(frames))
	for _, frame := range frames {
		packet, err := e.enc.Encode(frame)
		if err != nil {
			return nil, 0, &Error{Path: "(pcm)", Err: err}
		}
		packets = append(packets, packet)
	}
	return packets, audio.Duration(len(pcm), e.sampleRate), nil
}
