package turn

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/voxline-labs/voxline-core/internal/audio"
	"github.com/voxline-labs/voxline-core/internal/config"
	"github.com/voxline-labs/voxline-core/internal/vad"
)

type pcmPacketDecoder struct{}

func (pcmPacketDecoder) Decode(packet []byte) ([]int16, error) {
	return audio.BytesToPCM(packet), nil
}

func frame(amplitude int16) []byte {
	pcm := make([]int16, 960)
	for i := range pcm {
		pcm[i] = amplitude
	}
	return audio.PCMToBytes(pcm)
}

func testController(mode string, closeNoVoiceSec int) *Controller {
	cfg := config.SessionConfig{ListenMode: mode, CloseNoVoiceSec: closeNoVoiceSec}
	det := vad.NewRMSDetector(0.015, 0.008, 1, 2)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewController(cfg, pcmPacketDecoder{}, det, logger)
}

func TestControllerBuffersSpeechAndFinalizesOnSilence(t *testing.T) {
	c := testController("auto", 120)
	st := NewState("s1")

	for i := 0; i < 5; i++ {
		if got := c.OnFrame(st, frame(3000)); got != ActionBuffer {
			t.Fatalf("frame %d: expected ActionBuffer, got %v", i, got)
		}
	}
	if len(st.Buffer) != 5 {
		t.Fatalf("expected 5 buffered frames, got %d", len(st.Buffer))
	}

	// One silent frame is inside the detector hangover: still voiced.
	if got := c.OnFrame(st, frame(0)); got != ActionBuffer {
		t.Fatalf("expected hangover frame to buffer, got %v", got)
	}
	// The second silent frame crosses the hangover: endpoint.
	if got := c.OnFrame(st, frame(0)); got != ActionFinalize {
		t.Fatalf("expected ActionFinalize, got %v", got)
	}
	if !st.VoiceStopped || st.Listening {
		t.Fatalf("expected voice-stopped state, got listening=%v stopped=%v", st.Listening, st.VoiceStopped)
	}
}

func TestControllerIgnoresWhileReceiveDisabled(t *testing.T) {
	c := testController("auto", 120)
	st := NewState("s1")
	st.ReceiveEnabled = false

	if got := c.OnFrame(st, frame(3000)); got != ActionIgnore {
		t.Fatalf("expected ActionIgnore, got %v", got)
	}
	if len(st.Buffer) != 0 {
		t.Fatal("buffer must stay empty while receive is disabled")
	}
}

func TestControllerManualModeUsesClientFlag(t *testing.T) {
	c := testController("manual", 120)
	st := NewState("s1")

	st.ClientHaveVoice = true
	// Loud or quiet does not matter in manual mode.
	if got := c.OnFrame(st, frame(0)); got != ActionBuffer {
		t.Fatalf("expected ActionBuffer, got %v", got)
	}
	st.ClientHaveVoice = false
	if got := c.OnFrame(st, frame(0)); got != ActionFinalize {
		t.Fatalf("expected ActionFinalize, got %v", got)
	}
}

func TestControllerIdlePromptFiresOnce(t *testing.T) {
	c := testController("auto", 120)
	st := NewState("s1")

	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	if got := c.OnFrame(st, frame(0)); got != ActionIgnore {
		t.Fatalf("expected silence onset to be ignored, got %v", got)
	}

	current = current.Add(121 * time.Second)
	if got := c.OnFrame(st, frame(0)); got != ActionIdlePrompt {
		t.Fatalf("expected ActionIdlePrompt after 121s, got %v", got)
	}

	// Further silence must not re-prompt.
	for i := 0; i < 5; i++ {
		current = current.Add(time.Second)
		if got := c.OnFrame(st, frame(0)); got != ActionIgnore {
			t.Fatalf("expected repeat silence to be ignored, got %v", got)
		}
	}
}

func TestFinishFinalizeRestoresIntake(t *testing.T) {
	st := NewState("s1")
	st.Buffer = [][]byte{frame(3000)}
	st.Listening = true
	st.VoiceStopped = true
	st.AbortRequested = true

	buffered := st.BeginFinalize()
	if len(buffered) != 1 {
		t.Fatalf("expected 1 buffered frame, got %d", len(buffered))
	}
	if st.ReceiveEnabled {
		t.Fatal("receive must be gated during finalize")
	}
	if st.AbortRequested {
		t.Fatal("an abort from an earlier response must not carry into a new finalize")
	}

	st.FinishFinalize()
	if !st.ReceiveEnabled {
		t.Fatal("receive must be restored after finalize")
	}
	if len(st.Buffer) != 0 {
		t.Fatal("buffer must be cleared after finalize")
	}
	if st.Listening || st.VoiceStopped {
		t.Fatal("voice flags must reset after finalize")
	}
}

func TestNormalizeStripsPunctuationAndEmoji(t *testing.T) {
	cases := map[string]string{
		"goodbye.":        "goodbye",
		"  bye   bye!! ":  "bye bye",
		"goodbye \U0001F60A": "goodbye",
		"play music, please": "play music please",
		"":                "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExitCommandExactMatch(t *testing.T) {
	c := NewClassifier(config.SessionConfig{
		ExitCommands:     []string{"goodbye", "bye bye"},
		MaxCommandLength: 12,
	}, config.PlaybackConfig{})

	if !c.IsExitCommand("goodbye.") {
		t.Fatal("punctuation-stripped transcript must match exit phrase")
	}
	if c.IsExitCommand("goodbye now") {
		t.Fatal("exit match must be exact, not a prefix")
	}
	if c.IsExitCommand("Goodbye") {
		t.Fatal("exit match must be case-sensitive")
	}
}

func TestExitCommandLengthGateCountsRunes(t *testing.T) {
	c := NewClassifier(config.SessionConfig{
		ExitCommands:     []string{"goodbye"},
		MaxCommandLength: 5,
	}, config.PlaybackConfig{})

	// "goodbye" is one word but seven runes, over the five-rune gate.
	if c.IsExitCommand("goodbye") {
		t.Fatal("transcript over the rune limit must not match")
	}

	c = NewClassifier(config.SessionConfig{
		ExitCommands:     []string{"goodbye"},
		MaxCommandLength: 7,
	}, config.PlaybackConfig{})
	if !c.IsExitCommand("goodbye") {
		t.Fatal("transcript at the rune limit must match")
	}
}

func TestFarewellContainment(t *testing.T) {
	c := NewClassifier(config.SessionConfig{
		FarewellTokens: []string{"goodbye", "bye bye"},
	}, config.PlaybackConfig{})

	if !c.HasFarewell("Alright then, goodbye!") {
		t.Fatal("segment containing farewell token must match")
	}
	if c.HasFarewell("see you soon") {
		t.Fatal("segment without farewell token must not match")
	}
}

func TestPlaybackRequest(t *testing.T) {
	c := NewClassifier(config.SessionConfig{}, config.PlaybackConfig{
		RequestPhrases: []string{"play music"},
	})

	if !c.IsPlaybackRequest("Hey, could you Play Music now?") {
		t.Fatal("playback request should match case-insensitively")
	}
	if c.IsPlaybackRequest("tell me a story") {
		t.Fatal("unrelated transcript must not match")
	}
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("Hello there. How are you? Fine!")
	want := []string{"Hello there", "How are you", "Fine"}
	if len(got) != len(want) {
		t.Fatalf("expected %d segments, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("segment %d: %q != %q", i, got[i], want[i])
		}
	}
}
