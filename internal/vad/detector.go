package vad

import "math"

// Detector reports voice presence for successive PCM frames. Implementations
// keep per-session state and must not be shared across sessions.
type Detector interface {
	HasVoice(pcm []int16) bool
	Reset()
}

// RMSDetector is an energy detector with hysteresis: it needs several
// consecutive speech frames to enter speech and a hangover of silent frames
// to leave it, which keeps single-frame noise from flapping the turn state.
type RMSDetector struct {
	speechThreshold  float64
	silenceThreshold float64
	speechFrames     int
	hangoverFrames   int

	inSpeech     bool
	speechCount  int
	silenceCount int
}

func NewRMSDetector(speechThreshold, silenceThreshold float64, speechFrames, hangoverFrames int) *RMSDetector {
	if speechFrames < 1 {
		speechFrames = 1
	}
	if hangoverFrames < 1 {
		hangoverFrames = 1
	}
	return &RMSDetector{
		speechThreshold:  speechThreshold,
		silenceThreshold: silenceThreshold,
		speechFrames:     speechFrames,
		hangoverFrames:   hangoverFrames,
	}
}

func (d *RMSDetector) HasVoice(pcm []int16) bool {
	level := rms(pcm)

	if d.inSpeech {
		if level < d.silenceThreshold {
			d.silenceCount++
			d.speechCount = 0
			if d.silenceCount >= d.hangoverFrames {
				d.inSpeech = false
				d.silenceCount = 0
			}
		} else {
			d.silenceCount = 0
		}
	} else {
		if level >= d.speechThreshold {
			d.speechCount++
			d.silenceCount = 0
			if d.speechCount >= d.speechFrames {
				d.inSpeech = true
				d.speechCount = 0
			}
		} else {
			d.speechCount = 0
		}
	}

	return d.inSpeech
}

func (d *RMSDetector) Reset() {
	d.inSpeech = false
	d.speechCount = 0
	d.silenceCount = 0
}

// EnergyGate is a stateless, coarser detector used by the incremental
// transcription provider. It has no hysteresis on purpose: the provider does
// its own silence accounting across frames.
type EnergyGate struct {
	threshold float64
}

func NewEnergyGate(threshold float64) *EnergyGate {
	if threshold <= 0 {
		threshold = 0.01
	}
	return &EnergyGate{threshold: threshold}
}

func (g *EnergyGate) HasVoice(pcm []int16) bool {
	return rms(pcm) >= g.threshold
}

func (g *EnergyGate) Reset() {}

// rms returns the root-mean-square level normalized to [0, 1].
func rms(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
