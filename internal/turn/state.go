// Package turn owns per-session voice state: the utterance boundary machine,
// transcript normalization, and the cheap text intent checks.
package turn

import "time"

// State is the mutable voice state of one session. It is owned exclusively by
// the session's connection handler and must never be shared across sessions.
type State struct {
	ID string

	Listening       bool
	VoiceStopped    bool
	AbortRequested  bool
	ReceiveEnabled  bool
	ClientHaveVoice bool

	// Buffer holds the compressed frames of the current utterance. It is
	// cleared after every finalize attempt, successful or not.
	Buffer [][]byte

	// NoVoiceSince is the wall-clock onset of the current silence span,
	// zero while voice is active.
	NoVoiceSince   time.Time
	IdlePromptSent bool
}

func NewState(id string) *State {
	return &State{ID: id, ReceiveEnabled: true}
}

// BeginFinalize gates audio intake while a finalize attempt is in flight. An
// abort from an earlier response must not carry into this utterance, so the
// flag resets here at voice-stop.
func (s *State) BeginFinalize() [][]byte {
	s.ReceiveEnabled = false
	s.AbortRequested = false
	buffered := s.Buffer
	s.Buffer = nil
	return buffered
}

// FinishFinalize restores intake after a finalize attempt. Every finalize
// path, success or failure, must end here so the session can keep listening.
func (s *State) FinishFinalize() {
	s.Buffer = nil
	s.Listening = false
	s.VoiceStopped = false
	s.ReceiveEnabled = true
	s.NoVoiceSince = time.Time{}
}
