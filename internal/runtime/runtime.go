// Package runtime wires the process together: telemetry, the optional NATS
// bus, the timeline store, and the websocket endpoint sessions speak over.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxline-labs/voxline-core/internal/asr"
	"github.com/voxline-labs/voxline-core/internal/bus"
	"github.com/voxline-labs/voxline-core/internal/codec"
	"github.com/voxline-labs/voxline-core/internal/config"
	"github.com/voxline-labs/voxline-core/internal/eventstore"
	"github.com/voxline-labs/voxline-core/internal/llm"
	"github.com/voxline-labs/voxline-core/internal/natsserver"
	"github.com/voxline-labs/voxline-core/internal/playback"
	"github.com/voxline-labs/voxline-core/internal/session"
	"github.com/voxline-labs/voxline-core/internal/transport"
	"github.com/voxline-labs/voxline-core/internal/tts"
	"github.com/voxline-labs/voxline-core/internal/turn"
	"github.com/voxline-labs/voxline-core/internal/vad"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			embedded.Shutdown()
			return fmt.Errorf("connect bus: %w", err)
		}
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		busClient.Close()
		embedded.Shutdown()
		return fmt.Errorf("open event store: %w", err)
	}

	factory, err := r.sessionFactory(ctx, busClient, store)
	if err != nil {
		store.Close()
		busClient.Close()
		embedded.Shutdown()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.Handle("/ws", transport.NewServer(factory, r.logger))

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	store.Close()
	busClient.Close()
	embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// sessionFactory builds the per-connection wiring. The codec, detector, and
// transcriber are all stateful per session and must not be shared.
func (r *Runtime) sessionFactory(ctx context.Context, busClient *bus.Client, store *eventstore.Store) (transport.HandlerFactory, error) {
	cfg := r.cfg

	generator, err := llm.New(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build generator: %w", err)
	}
	synthesizer, err := tts.New(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("build synthesizer: %w", err)
	}

	return func(sessionID string, sink session.Sink) *session.Handler {
		logger := r.logger

		// The controller and the transcriber each decode the frame
		// stream independently, and opus decoders carry state, so each
		// gets its own instance.
		vadDecoder, err := codec.NewOpusDecoder(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.FrameDurationMS)
		if err != nil {
			logger.Error("failed to build decoder", slog.String("error", err.Error()))
			return nil
		}
		asrDecoder, err := codec.NewOpusDecoder(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.FrameDurationMS)
		if err != nil {
			logger.Error("failed to build decoder", slog.String("error", err.Error()))
			return nil
		}
		encoder, err := codec.NewOpusEncoder(cfg.Audio.SampleRate, cfg.Audio.Channels, cfg.Audio.FrameDurationMS)
		if err != nil {
			logger.Error("failed to build encoder", slog.String("error", err.Error()))
			return nil
		}
		transcriber, err := asr.New(cfg.ASR, cfg.Audio, asrDecoder, logger)
		if err != nil {
			logger.Error("failed to build transcriber", slog.String("error", err.Error()))
			return nil
		}

		detector := vad.NewRMSDetector(cfg.VAD.SpeechRMS, cfg.VAD.SilenceRMS, cfg.VAD.SpeechFrames, cfg.VAD.HangoverFrames)
		deps := session.Deps{
			Controller:  turn.NewController(cfg.Session, vadDecoder, detector, logger),
			Intents:     turn.NewClassifier(cfg.Session, cfg.Playback),
			Transcriber: transcriber,
			Generator:   generator,
			Synthesizer: synthesizer,
			Encoder:     playback.NewEncoder(cfg.Audio, encoder),
			Sink:        sink,
			Bus:         busClient,
			Store:       store,
		}
		return session.NewHandler(ctx, cfg, sessionID, deps, logger)
	}, nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
