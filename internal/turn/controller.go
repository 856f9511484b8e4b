package turn

import (
	"log/slog"
	"time"

	"github.com/voxline-labs/voxline-core/internal/codec"
	"github.com/voxline-labs/voxline-core/internal/config"
	"github.com/voxline-labs/voxline-core/internal/vad"
)

// Action is the controller's verdict for one inbound frame.
type Action int

const (
	// ActionIgnore drops the frame without touching the utterance buffer.
	ActionIgnore Action = iota
	// ActionBuffer appended the frame to the current utterance.
	ActionBuffer
	// ActionFinalize closed the utterance; the caller submits the buffer
	// for transcription.
	ActionFinalize
	// ActionIdlePrompt means the session has been silent past the idle
	// window; the caller routes a synthetic farewell through the normal
	// response pipeline.
	ActionIdlePrompt
)

// Controller decides utterance boundaries for one session. In auto mode it
// consults the voice detector per decoded frame; in manual mode it trusts the
// client's push-to-talk flag on the state.
type Controller struct {
	mode         string
	dec          codec.PacketDecoder
	det          vad.Detector
	closeNoVoice time.Duration
	logger       *slog.Logger

	now func() time.Time
}

func NewController(cfg config.SessionConfig, dec codec.PacketDecoder, det vad.Detector, logger *slog.Logger) *Controller {
	return &Controller{
		mode:         cfg.ListenMode,
		dec:          dec,
		det:          det,
		closeNoVoice: time.Duration(cfg.CloseNoVoiceSec) * time.Second,
		logger:       logger.With(slog.String("component", "turn")),
		now:          time.Now,
	}
}

// OnFrame advances the boundary machine by one frame. It mutates voice flags
// on st and never blocks.
func (c *Controller) OnFrame(st *State, frame []byte) Action {
	if !st.ReceiveEnabled {
		return ActionIgnore
	}

	voice := st.ClientHaveVoice
	if c.mode != "manual" {
		pcm, err := c.dec.Decode(frame)
		if err != nil {
			// Malformed frame: drop it, keep the utterance going.
			c.logger.Warn("dropping undecodable frame",
				slog.String("session_id", st.ID),
				slog.String("error", err.Error()))
			return ActionIgnore
		}
		voice = c.det.HasVoice(pcm)
	}

	if voice {
		st.NoVoiceSince = time.Time{}
		st.Listening = true
		st.Buffer = append(st.Buffer, frame)
		return ActionBuffer
	}

	if st.Listening {
		// Endpoint: the detector's hangover (or the client's flag) just
		// declared the utterance over.
		st.Listening = false
		st.VoiceStopped = true
		st.Buffer = append(st.Buffer, frame)
		return ActionFinalize
	}

	if st.NoVoiceSince.IsZero() {
		st.NoVoiceSince = c.now()
		return ActionIgnore
	}
	if !st.IdlePromptSent && c.now().Sub(st.NoVoiceSince) > c.closeNoVoice {
		st.IdlePromptSent = true
		st.Buffer = nil
		return ActionIdlePrompt
	}
	return ActionIgnore
}
