package vad

import "testing"

func loudFrame(n int) []int16 {
	frame := make([]int16, n)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = 8000
		} else {
			frame[i] = -8000
		}
	}
	return frame
}

func quietFrame(n int) []int16 {
	return make([]int16, n)
}

func TestRMSDetectorEntersSpeechAfterConsecutiveFrames(t *testing.T) {
	d := NewRMSDetector(0.015, 0.008, 3, 5)

	if d.HasVoice(loudFrame(480)) {
		t.Fatal("one loud frame should not enter speech")
	}
	d.HasVoice(loudFrame(480))
	if !d.HasVoice(loudFrame(480)) {
		t.Fatal("expected speech after three consecutive loud frames")
	}
}

func TestRMSDetectorHangover(t *testing.T) {
	d := NewRMSDetector(0.015, 0.008, 1, 4)
	if !d.HasVoice(loudFrame(480)) {
		t.Fatal("expected speech")
	}
	for i := 0; i < 3; i++ {
		if !d.HasVoice(quietFrame(480)) {
			t.Fatalf("expected hangover to hold at silent frame %d", i+1)
		}
	}
	if d.HasVoice(quietFrame(480)) {
		t.Fatal("expected speech to end after hangover")
	}
}

func TestRMSDetectorReset(t *testing.T) {
	d := NewRMSDetector(0.015, 0.008, 1, 10)
	d.HasVoice(loudFrame(480))
	d.Reset()
	if d.HasVoice(quietFrame(480)) {
		t.Fatal("expected silence after reset")
	}
}

func TestEnergyGateIsStateless(t *testing.T) {
	g := NewEnergyGate(0.01)
	if !g.HasVoice(loudFrame(480)) {
		t.Fatal("expected voice for loud frame")
	}
	if g.HasVoice(quietFrame(480)) {
		t.Fatal("expected no voice for quiet frame")
	}
	if !g.HasVoice(loudFrame(480)) {
		t.Fatal("gate must not latch state between frames")
	}
}
