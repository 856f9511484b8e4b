package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	VAD         VADConfig        `yaml:"vad"`
	Session     SessionConfig    `yaml:"session"`
	ASR         ASRConfig        `yaml:"asr"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Playback    PlaybackConfig   `yaml:"playback"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// AudioConfig fixes the transport frame geometry. One inbound packet decodes
// to FrameDurationMS of PCM at SampleRate/Channels.
type AudioConfig struct {
	SampleRate      int `yaml:"sample_rate"`
	Channels        int `yaml:"channels"`
	FrameDurationMS int `yaml:"frame_duration_ms"`
}

type VADConfig struct {
	SpeechRMS      float64 `yaml:"speech_rms"`
	SilenceRMS     float64 `yaml:"silence_rms"`
	SpeechFrames   int     `yaml:"speech_frames"`
	HangoverFrames int     `yaml:"hangover_frames"`
}

type SessionConfig struct {
	ListenMode         string   `yaml:"listen_mode"` // auto, manual
	ExitCommands       []string `yaml:"exit_commands"`
	MaxCommandLength   int      `yaml:"max_command_length"`
	CloseNoVoiceSec    int      `yaml:"close_connection_no_voice_time"`
	FarewellTokens     []string `yaml:"farewell_tokens"`
	IdleFarewellPrompt string   `yaml:"idle_farewell_prompt"`
}

type ASRConfig struct {
	Provider        string `yaml:"provider"` // batch, incremental, mock
	OutputDir       string `yaml:"output_dir"`
	DeleteArtifacts bool   `yaml:"delete_artifacts"`

	// batch provider
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`

	// incremental provider
	BaseURL            string `yaml:"base_url"`
	SilenceThresholdMS int    `yaml:"silence_threshold_ms"`
	HeadWindowMS       int    `yaml:"head_window_ms"`
	MaxDurationSec     int    `yaml:"max_duration_s"`
	MaxRetries         int    `yaml:"max_retries"`
	RetryDelayMS       int    `yaml:"retry_delay_ms"`
	VerifySSL          bool   `yaml:"verify_ssl"`
	HTTPFallback       bool   `yaml:"http_fallback"`
	SliceDurationMS    int    `yaml:"slice_duration_ms"`
	VADFrameMS         int    `yaml:"vad_frame_ms"`
}

type LLMConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Mode          string  `yaml:"mode"` // mock, ollama, exec
	Endpoint      string  `yaml:"endpoint"`
	Command       string  `yaml:"command"`
	ModelFast     string  `yaml:"model_fast"`
	ModelBalanced string  `yaml:"model_balanced"`
	DefaultTier   string  `yaml:"default_tier"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
}

type TTSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

type PlaybackConfig struct {
	AssetDir       string   `yaml:"asset_dir"`
	RequestPhrases []string `yaml:"request_phrases"`
}

func Default() Config {
	return Config{
		RuntimeName: "voxline-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voxline-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Audio: AudioConfig{
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 60,
		},
		VAD: VADConfig{
			SpeechRMS:      0.015,
			SilenceRMS:     0.008,
			SpeechFrames:   2,
			HangoverFrames: 10,
		},
		Session: SessionConfig{
			ListenMode:         "auto",
			ExitCommands:       []string{"goodbye", "bye bye"},
			MaxCommandLength:   12,
			CloseNoVoiceSec:    120,
			FarewellTokens:     []string{"goodbye", "bye bye"},
			IdleFarewellPrompt: "It has been quiet for a while. Please say a short goodbye ending with \"goodbye\" or \"bye bye\".",
		},
		ASR: ASRConfig{
			Provider:           "mock",
			OutputDir:          "./data/asr",
			DeleteArtifacts:    true,
			SilenceThresholdMS: 300,
			HeadWindowMS:       1000,
			MaxDurationSec:     10,
			MaxRetries:         3,
			RetryDelayMS:       1000,
			VerifySSL:          false,
			HTTPFallback:       true,
			SliceDurationMS:    600,
			VADFrameMS:         30,
		},
		LLM: LLMConfig{
			Enabled:       false,
			Mode:          "mock",
			Endpoint:      "http://localhost:11434",
			ModelFast:     "llama3.2:latest",
			ModelBalanced: "llama3.2:latest",
			DefaultTier:   "balanced",
			MaxTokens:     256,
			Temperature:   0.7,
		},
		TTS: TTSConfig{
			Enabled:    false,
			Mode:       "mock",
			SampleRate: 16000,
			Channels:   1,
		},
		Playback: PlaybackConfig{
			AssetDir:       "./assets",
			RequestPhrases: []string{"play music", "play a song"},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOX_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOX_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOX_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOX_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOX_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOX_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOX_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Enabled, "VOX_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOX_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOX_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOX_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOX_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOX_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOX_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOX_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOX_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "VOX_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VOX_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VOX_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "VOX_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VOX_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Audio.SampleRate, "VOX_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "VOX_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "VOX_AUDIO_FRAME_DURATION_MS")
	overrideFloat(&cfg.VAD.SpeechRMS, "VOX_VAD_SPEECH_RMS")
	overrideFloat(&cfg.VAD.SilenceRMS, "VOX_VAD_SILENCE_RMS")
	overrideInt(&cfg.VAD.SpeechFrames, "VOX_VAD_SPEECH_FRAMES")
	overrideInt(&cfg.VAD.HangoverFrames, "VOX_VAD_HANGOVER_FRAMES")
	overrideString(&cfg.Session.ListenMode, "VOX_SESSION_LISTEN_MODE")
	overrideStringSlice(&cfg.Session.ExitCommands, "VOX_SESSION_EXIT_COMMANDS")
	overrideInt(&cfg.Session.MaxCommandLength, "VOX_SESSION_MAX_COMMAND_LENGTH")
	overrideInt(&cfg.Session.CloseNoVoiceSec, "VOX_SESSION_CLOSE_NO_VOICE_TIME")
	overrideStringSlice(&cfg.Session.FarewellTokens, "VOX_SESSION_FAREWELL_TOKENS")
	overrideString(&cfg.Session.IdleFarewellPrompt, "VOX_SESSION_IDLE_FAREWELL_PROMPT")
	overrideString(&cfg.ASR.Provider, "VOX_ASR_PROVIDER")
	overrideString(&cfg.ASR.OutputDir, "VOX_ASR_OUTPUT_DIR")
	overrideBool(&cfg.ASR.DeleteArtifacts, "VOX_ASR_DELETE_ARTIFACTS")
	overrideString(&cfg.ASR.Command, "VOX_ASR_COMMAND")
	overrideString(&cfg.ASR.ModelPath, "VOX_ASR_MODEL_PATH")
	overrideString(&cfg.ASR.Language, "VOX_ASR_LANGUAGE")
	overrideString(&cfg.ASR.BaseURL, "VOX_ASR_BASE_URL")
	overrideInt(&cfg.ASR.SilenceThresholdMS, "VOX_ASR_SILENCE_THRESHOLD_MS")
	overrideInt(&cfg.ASR.HeadWindowMS, "VOX_ASR_HEAD_WINDOW_MS")
	overrideInt(&cfg.ASR.MaxDurationSec, "VOX_ASR_MAX_DURATION_S")
	overrideInt(&cfg.ASR.MaxRetries, "VOX_ASR_MAX_RETRIES")
	overrideInt(&cfg.ASR.RetryDelayMS, "VOX_ASR_RETRY_DELAY_MS")
	overrideBool(&cfg.ASR.VerifySSL, "VOX_ASR_VERIFY_SSL")
	overrideBool(&cfg.ASR.HTTPFallback, "VOX_ASR_HTTP_FALLBACK")
	overrideInt(&cfg.ASR.SliceDurationMS, "VOX_ASR_SLICE_DURATION_MS")
	overrideInt(&cfg.ASR.VADFrameMS, "VOX_ASR_VAD_FRAME_MS")
	overrideBool(&cfg.LLM.Enabled, "VOX_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "VOX_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "VOX_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "VOX_LLM_COMMAND")
	overrideString(&cfg.LLM.ModelFast, "VOX_LLM_MODEL_FAST")
	overrideString(&cfg.LLM.ModelBalanced, "VOX_LLM_MODEL_BALANCED")
	overrideString(&cfg.LLM.DefaultTier, "VOX_LLM_DEFAULT_TIER")
	overrideInt(&cfg.LLM.MaxTokens, "VOX_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "VOX_LLM_TEMPERATURE")
	overrideBool(&cfg.TTS.Enabled, "VOX_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "VOX_TTS_MODE")
	overrideString(&cfg.TTS.Command, "VOX_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "VOX_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "VOX_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "VOX_TTS_CHANNELS")
	overrideString(&cfg.Playback.AssetDir, "VOX_PLAYBACK_ASSET_DIR")
	overrideStringSlice(&cfg.Playback.RequestPhrases, "VOX_PLAYBACK_REQUEST_PHRASES")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.FrameDurationMS <= 0 {
		return errors.New("audio.frame_duration_ms must be positive")
	}
	if cfg.VAD.SpeechRMS < cfg.VAD.SilenceRMS {
		return errors.New("vad.speech_rms must be >= vad.silence_rms")
	}
	switch cfg.Session.ListenMode {
	case "auto", "manual":
	default:
		return errors.New("session.listen_mode must be one of auto|manual")
	}
	if cfg.Session.CloseNoVoiceSec <= 0 {
		return errors.New("session.close_connection_no_voice_time must be positive")
	}
	switch cfg.ASR.Provider {
	case "batch", "incremental", "mock":
	default:
		return errors.New("asr.provider must be one of batch|incremental|mock")
	}
	if cfg.ASR.Provider == "batch" && cfg.ASR.Command == "" {
		return errors.New("asr.command must be set when provider=batch")
	}
	if cfg.ASR.Provider == "incremental" {
		if cfg.ASR.BaseURL == "" {
			return errors.New("asr.base_url must be set when provider=incremental")
		}
		if cfg.ASR.SilenceThresholdMS <= 0 {
			return errors.New("asr.silence_threshold_ms must be positive")
		}
		if cfg.ASR.MaxDurationSec <= 0 {
			return errors.New("asr.max_duration_s must be positive")
		}
		if cfg.ASR.MaxRetries < 1 {
			return errors.New("asr.max_retries must be >= 1")
		}
	}
	if cfg.ASR.OutputDir == "" {
		return errors.New("asr.output_dir must not be empty")
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "ollama", "exec":
		default:
			return errors.New("llm.mode must be one of mock|ollama|exec")
		}
		if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
		if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec":
		default:
			return errors.New("tts.mode must be one of mock|exec")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
	}
	return nil
}
