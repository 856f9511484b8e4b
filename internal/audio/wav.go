package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAVFile persists 16-bit PCM as a WAV file at path.
func WriteWAVFile(path string, pcm []int16, sampleRate, channels int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer file.Close()

	buffer := &gaudio.IntBuffer{Format: &gaudio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm))
	for i, s := range pcm {
		samples[i] = int(s)
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// ReadWAVFile loads a WAV asset and returns its samples and geometry.
func ReadWAVFile(path string) ([]int16, int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open wav file: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buffer, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buffer == nil || buffer.Format == nil || len(buffer.Data) == 0 {
		return nil, 0, 0, fmt.Errorf("decode wav: empty audio in %s", path)
	}

	pcm := make([]int16, len(buffer.Data))
	for i, s := range buffer.Data {
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		pcm[i] = int16(s)
	}
	return pcm, buffer.Format.SampleRate, buffer.Format.NumChannels, nil
}

// WAVBytes wraps PCM in a RIFF/WAVE header in memory, for HTTP uploads where
// a file round-trip would only add latency.
func WAVBytes(pcm []int16, sampleRate, channels int) []byte {
	data := PCMToBytes(pcm)
	byteRate := uint32(sampleRate * channels * 2)
	blockAlign := uint16(channels * 2)
	dataLen := uint32(len(data))
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)
	buf.Write(data)
	return buf.Bytes()
}
