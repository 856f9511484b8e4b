package protocol

import "time"

// Client-facing messages. Field names and ordering (stt -> llm -> tts:start ->
// tts:sentence_start(+audio)* -> tts:stop) are fixed for device compatibility.

const (
	TypeSTT = "stt"
	TypeLLM = "llm"
	TypeTTS = "tts"

	TTSStateStart         = "start"
	TTSStateSentenceStart = "sentence_start"
	TTSStateStop          = "stop"
)

// STTMessage carries the recognized transcript back to the client.
type STTMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// LLMMessage is the transitional notice sent while generation is in flight.
type LLMMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Emotion   string `json:"emotion"`
	SessionID string `json:"session_id"`
}

// TTSMessage announces playback state transitions. Text is only present on
// sentence_start.
type TTSMessage struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id"`
}

// ListenMessage is sent by clients in manual (push-to-talk) mode.
type ListenMessage struct {
	Type  string `json:"type"`
	State string `json:"state"` // start, stop, detect
}

// AbortMessage signals barge-in: the client wants in-flight playback cancelled.
type AbortMessage struct {
	Type string `json:"type"`
}

func NewSTTMessage(sessionID, text string) STTMessage {
	return STTMessage{Type: TypeSTT, Text: text, SessionID: sessionID}
}

func NewLLMThinkingMessage(sessionID string) LLMMessage {
	return LLMMessage{Type: TypeLLM, Text: "😊", Emotion: "happy", SessionID: sessionID}
}

func NewTTSMessage(sessionID, state, text string) TTSMessage {
	return TTSMessage{Type: TypeTTS, State: state, Text: text, SessionID: sessionID}
}

// TurnEvent is broadcast on the bus so integrations can follow conversation
// progress without tapping the websocket.
type TurnEvent struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"` // transcript, tts_state, session_close
	Text      string    `json:"text,omitempty"`
	State     string    `json:"state,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTurnTranscript = "turn.transcript"
	SubjectTurnTTSState   = "turn.tts.state"
	SubjectSessionClose   = "turn.session.close"
)
