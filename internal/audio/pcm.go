package audio

import "time"

// Downmix averages interleaved multi-channel PCM down to mono. Mono input is
// returned unchanged.
func Downmix(pcm []int16, channels int) []int16 {
	if channels <= 1 {
		return pcm
	}
	out := make([]int16, len(pcm)/channels)
	for i := range out {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(pcm[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// Resample converts mono PCM between sample rates by linear interpolation.
// Good enough for speech assets; callers needing fidelity should provide
// assets at the transport rate.
func Resample(pcm []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(pcm) == 0 {
		return pcm
	}
	outLen := int(int64(len(pcm)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(pcm)-1 {
			out[i] = pcm[len(pcm)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(pcm[idx])
		b := float64(pcm[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// SliceFrames splits PCM into fixed-size frames, zero-padding the final
// partial frame to full length.
func SliceFrames(pcm []int16, frameSamples int) [][]int16 {
	if frameSamples <= 0 || len(pcm) == 0 {
		return nil
	}
	count := (len(pcm) + frameSamples - 1) / frameSamples
	frames := make([][]int16, 0, count)
	for i := 0; i < len(pcm); i += frameSamples {
		end := i + frameSamples
		if end <= len(pcm) {
			frames = append(frames, pcm[i:end])
			continue
		}
		padded := make([]int16, frameSamples)
		copy(padded, pcm[i:])
		frames = append(frames, padded)
	}
	return frames
}

// Duration reports the playback time of a mono sample count at rate.
func Duration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// BytesToPCM reinterprets little-endian 16-bit PCM bytes as samples. Odd
// trailing bytes are dropped.
func BytesToPCM(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return out
}

// PCMToBytes renders samples as little-endian 16-bit PCM bytes.
func PCMToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}
