// Package session runs one conversation: it feeds inbound frames through the
// turn controller, drives transcription on finalize, and times the outbound
// response messages against the playback cursor.
package session

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxline-labs/voxline-core/internal/asr"
	"github.com/voxline-labs/voxline-core/internal/audio"
	"github.com/voxline-labs/voxline-core/internal/bus"
	"github.com/voxline-labs/voxline-core/internal/config"
	"github.com/voxline-labs/voxline-core/internal/eventstore"
	"github.com/voxline-labs/voxline-core/internal/llm"
	"github.com/voxline-labs/voxline-core/internal/playback"
	"github.com/voxline-labs/voxline-core/internal/protocol"
	"github.com/voxline-labs/voxline-core/internal/sched"
	"github.com/voxline-labs/voxline-core/internal/tts"
	"github.com/voxline-labs/voxline-core/internal/turn"
)

// Sink is the outbound side of the client transport. Implementations must be
// safe for concurrent use; the handler serializes its own sends through the
// scheduler timeline but teardown may race a late notification.
type Sink interface {
	SendJSON(v any) error
	SendBinary(data []byte) error
	Close() error
}

// Deps collects the collaborators for one session. Bus and Store may be nil.
type Deps struct {
	Controller  *turn.Controller
	Intents     *turn.Classifier
	Transcriber asr.Transcriber
	Generator   llm.Generator
	Synthesizer tts.Synthesizer
	Encoder     *playback.Encoder
	Sink        Sink
	Bus         *bus.Client
	Store       *eventstore.Store
}

// Handler owns the state of one connected session.
type Handler struct {
	cfg    config.Config
	deps   Deps
	st     *turn.State
	sched  *sched.Scheduler
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	finalizing bool
	closing    atomic.Bool
}

func NewHandler(parent context.Context, cfg config.Config, sessionID string, deps Deps, logger *slog.Logger) *Handler {
	ctx, cancel := context.WithCancel(parent)
	return &Handler{
		cfg:        cfg,
		deps:       deps,
		st:         turn.NewState(sessionID),
		sched:      sched.New(),
		logger:     logger.With(slog.String("component", "session"), slog.String("session_id", sessionID)),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ID returns the session identifier.
func (h *Handler) ID() string { return h.st.ID }

// Start records the session in the timeline store.
func (h *Handler) Start() {
	if h.deps.Store != nil {
		if err := h.deps.Store.AppendSession(h.ctx, h.st.ID, h.cfg.Session.ListenMode); err != nil {
			h.logger.Warn("failed to record session", slogError(err))
		}
	}
}

// HandleAudioFrame advances the turn machine with one inbound packet. Called
// from the transport read loop only.
func (h *Handler) HandleAudioFrame(frame []byte) {
	h.mu.Lock()
	if h.finalizing || h.closing.Load() {
		h.mu.Unlock()
		return
	}
	action := h.deps.Controller.OnFrame(h.st, frame)
	switch action {
	case turn.ActionFinalize:
		buffered := h.st.BeginFinalize()
		h.finalizing = true
		h.mu.Unlock()
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.runFinalize(buffered)
		}()
	case turn.ActionIdlePrompt:
		h.st.BeginFinalize()
		h.finalizing = true
		h.mu.Unlock()
		h.logger.Info("session idle past threshold, prompting farewell")
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			defer h.finishFinalize()
			h.respond(h.cfg.Session.IdleFarewellPrompt, false)
		}()
	default:
		h.mu.Unlock()
	}
}

// HandleListen applies the client's push-to-talk signal (manual mode).
func (h *Handler) HandleListen(state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch state {
	case "start":
		h.st.ClientHaveVoice = true
	case "stop":
		h.st.ClientHaveVoice = false
	}
}

// HandleAbort is barge-in: every outstanding notification is revoked and the
// client is told playback stopped.
func (h *Handler) HandleAbort() {
	h.mu.Lock()
	h.st.AbortRequested = true
	h.mu.Unlock()

	h.sched.CancelAll()
	h.sched.Schedule(0, func() {
		h.sendJSON(protocol.NewTTSMessage(h.st.ID, protocol.TTSStateStop, ""))
	})
	h.logger.Info("playback aborted by client")
}

func (h *Handler) finishFinalize() {
	h.mu.Lock()
	h.st.FinishFinalize()
	h.st.AbortRequested = false
	h.finalizing = false
	h.mu.Unlock()
}

// runFinalize is one transcription attempt. Every exit restores audio intake.
func (h *Handler) runFinalize(frames [][]byte) {
	defer h.finishFinalize()

	result, err := h.deps.Transcriber.Transcribe(h.ctx, frames, h.st.ID)
	if err != nil {
		// Recoverable for the session: log it and keep listening.
		h.logger.Warn("transcription failed", slogError(err))
		return
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return
	}
	h.logger.Info("utterance transcribed", slog.String("text", text))

	h.publishEvent(protocol.SubjectTurnTranscript, protocol.TurnEvent{
		SessionID: h.st.ID,
		Kind:      "transcript",
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	h.record("user", text, result.Artifact)

	switch {
	case h.deps.Intents.IsExitCommand(text):
		h.logger.Info("exit command received")
		h.Teardown()
	case h.deps.Intents.IsPlaybackRequest(text):
		h.streamAsset(text)
	default:
		h.respond(text, true)
	}
}

// respond generates a reply, synthesizes it per sentence, and schedules the
// outbound messages so their timing tracks expected playback.
func (h *Handler) respond(prompt string, announceTranscript bool) {
	sessionID := h.st.ID

	// First notification fires immediately: transcript notice, the
	// transitional generation message, then playback start.
	h.sched.Schedule(0, func() {
		if announceTranscript {
			h.sendJSON(protocol.NewSTTMessage(sessionID, turn.Normalize(prompt)))
		}
		h.sendJSON(protocol.NewLLMThinkingMessage(sessionID))
		h.sendJSON(protocol.NewTTSMessage(sessionID, protocol.TTSStateStart, ""))
	})
	h.publishEvent(protocol.SubjectTurnTTSState, protocol.TurnEvent{
		SessionID: sessionID,
		Kind:      "tts_state",
		State:     protocol.TTSStateStart,
		Timestamp: time.Now().UTC(),
	})

	reply, err := h.generate(prompt)
	if err != nil {
		h.logger.Warn("generation failed", slogError(err))
		h.sched.Schedule(0, func() {
			h.sendJSON(protocol.NewTTSMessage(sessionID, protocol.TTSStateStop, ""))
		})
		return
	}
	h.record("assistant", reply, "")

	segments := turn.SplitSentences(reply)
	if len(segments) == 0 {
		h.sched.Schedule(0, func() {
			h.sendJSON(protocol.NewTTSMessage(sessionID, protocol.TTSStateStop, ""))
		})
		return
	}

	farewell := h.deps.Intents.HasFarewell(segments[0]) ||
		h.deps.Intents.HasFarewell(segments[len(segments)-1])

	var cursor time.Duration
	var firstSegmentAt time.Time
	for _, segment := range segments {
		h.mu.Lock()
		aborted := h.st.AbortRequested
		h.mu.Unlock()
		if aborted || h.closing.Load() {
			return
		}
		pcm, err := h.synthesize(segment)
		if err != nil {
			h.logger.Warn("synthesis failed, skipping segment", slogError(err))
			continue
		}
		packets, duration, err := h.deps.Encoder.EncodePCM(pcm)
		if err != nil {
			h.logger.Warn("encode failed, skipping segment", slogError(err))
			continue
		}
		if firstSegmentAt.IsZero() {
			firstSegmentAt = time.Now()
		}
		segText := segment
		h.sched.Schedule(cursor, func() {
			h.sendJSON(protocol.NewTTSMessage(sessionID, protocol.TTSStateSentenceStart, segText))
			for _, packet := range packets {
				h.sendBinary(packet)
			}
		})
		// The cursor advances by playback time, not synthesis time, so
		// the next sentence lands while this one is still playing.
		cursor += duration
	}

	stopDelay := cursor
	if !firstSegmentAt.IsZero() {
		stopDelay = cursor - time.Since(firstSegmentAt)
	}
	if stopDelay < 0 {
		stopDelay = 0
	}
	h.sched.Schedule(stopDelay, func() {
		h.sendJSON(protocol.NewTTSMessage(sessionID, protocol.TTSStateStop, ""))
		if farewell {
			// Termination rides with stop, never before the final
			// segment has had its playback window.
			h.Teardown()
		}
	})
}

func (h *Handler) generate(prompt string) (string, error) {
	req := llm.OptionsFromConfig(h.cfg.LLM, "")
	req.SessionID = h.st.ID
	req.Prompt = prompt

	var b strings.Builder
	err := h.deps.Generator.Generate(h.ctx, req, func(chunk llm.Chunk) error {
		b.WriteString(chunk.Content)
		return nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

func (h *Handler) synthesize(text string) ([]int16, error) {
	chunks, errs := h.deps.Synthesizer.Synthesize(h.ctx, tts.SynthRequest{
		SessionID: h.st.ID,
		Text:      text,
		Voice:     h.cfg.TTS.Voice,
	})

	var pcm []int16
	for chunk := range chunks {
		pcm = append(pcm, audio.BytesToPCM(chunk.PCM)...)
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	return pcm, nil
}

// streamAsset plays an asset from the configured directory through the same
// notification scheme as spoken responses.
func (h *Handler) streamAsset(transcript string) {
	sessionID := h.st.ID
	path, err := h.pickAsset()
	if err != nil {
		h.logger.Warn("no playable asset", slogError(err))
		return
	}

	packets, duration, err := h.deps.Encoder.EncodeAsset(path)
	if err != nil {
		// finishFinalize in the caller restores receive gating.
		h.logger.Warn("asset playback failed", slogError(err))
		return
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	h.sched.Schedule(0, func() {
		h.sendJSON(protocol.NewSTTMessage(sessionID, turn.Normalize(transcript)))
		h.sendJSON(protocol.NewTTSMessage(sessionID, protocol.TTSStateStart, ""))
		h.sendJSON(protocol.NewTTSMessage(sessionID, protocol.TTSStateSentenceStart, title))
		for _, packet := range packets {
			h.sendBinary(packet)
		}
	})
	started := time.Now()

	stopDelay := duration - time.Since(started)
	if stopDelay < 0 {
		stopDelay = 0
	}
	h.sched.Schedule(stopDelay, func() {
		h.sendJSON(protocol.NewTTSMessage(sessionID, protocol.TTSStateStop, ""))
	})
	h.record("assistant", "[playback] "+title, path)
}

func (h *Handler) pickAsset() (string, error) {
	entries, err := os.ReadDir(h.cfg.Playback.AssetDir)
	if err != nil {
		return "", err
	}
	var wavs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			wavs = append(wavs, filepath.Join(h.cfg.Playback.AssetDir, entry.Name()))
		}
	}
	if len(wavs) == 0 {
		return "", os.ErrNotExist
	}
	return wavs[rand.Intn(len(wavs))], nil
}

// Teardown cancels outstanding notifications and closes the transport. Safe
// to call more than once.
func (h *Handler) Teardown() {
	if !h.closing.CompareAndSwap(false, true) {
		return
	}
	h.sched.CancelAll()
	h.publishEvent(protocol.SubjectSessionClose, protocol.TurnEvent{
		SessionID: h.st.ID,
		Kind:      "session_close",
		Timestamp: time.Now().UTC(),
	})
	if h.deps.Store != nil {
		if err := h.deps.Store.CloseSession(context.Background(), h.st.ID); err != nil {
			h.logger.Warn("failed to stamp session close", slogError(err))
		}
	}
	if err := h.deps.Sink.Close(); err != nil {
		h.logger.Debug("transport close", slogError(err))
	}
	h.logger.Info("session closed")
}

// Close is called when the transport read loop exits. It tears the session
// down and waits for in-flight work.
func (h *Handler) Close() {
	h.Teardown()
	h.cancel()
	h.wg.Wait()
	h.sched.Close()
}

func (h *Handler) sendJSON(v any) {
	if h.closing.Load() {
		return
	}
	if err := h.deps.Sink.SendJSON(v); err != nil {
		h.logger.Warn("failed to send message", slogError(err))
	}
}

func (h *Handler) sendBinary(data []byte) {
	if h.closing.Load() {
		return
	}
	if err := h.deps.Sink.SendBinary(data); err != nil {
		h.logger.Warn("failed to send audio packet", slogError(err))
	}
}

func (h *Handler) publishEvent(subject string, event protocol.TurnEvent) {
	h.deps.Bus.PublishTurnEvent(subject, event)
}

func (h *Handler) record(role, text, artifact string) {
	if h.deps.Store == nil {
		return
	}
	err := h.deps.Store.AppendUtterance(h.ctx, eventstore.Utterance{
		SessionID: h.st.ID,
		Role:      role,
		Text:      text,
		Artifact:  artifact,
	})
	if err != nil {
		h.logger.Warn("failed to record utterance", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
