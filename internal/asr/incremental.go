package asr

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/voxline-labs/voxline-core/internal/audio"
	"github.com/voxline-labs/voxline-core/internal/codec"
	"github.com/voxline-labs/voxline-core/internal/config"
	"github.com/voxline-labs/voxline-core/internal/vad"
)

// incrementalTranscriber streams partial segments of a finalized utterance to
// a remote HTTP backend. On each transition into silence it uploads everything
// accumulated so far and keeps the best transcript seen; once accumulated
// silence passes the threshold, or the overall deadline fires, it returns that
// transcript rather than failing.
type incrementalTranscriber struct {
	cfg    config.ASRConfig
	rate   int
	dec    codec.PacketDecoder
	gate   *vad.EnergyGate
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	baseURL string

	maxDuration time.Duration
	retryDelay  time.Duration
}

type predictResponse struct {
	Transcription string `json:"transcription"`
	Error         string `json:"error"`
}

func newIncrementalTranscriber(cfg config.ASRConfig, audioCfg config.AudioConfig, dec codec.PacketDecoder, logger *slog.Logger) (Transcriber, error) {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("asr base_url is empty")
	}
	transport := &http.Transport{}
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &incrementalTranscriber{
		cfg:         cfg,
		rate:        audioCfg.SampleRate,
		dec:         dec,
		gate:        vad.NewEnergyGate(0.01),
		client:      &http.Client{Transport: transport},
		logger:      logger.With(slog.String("component", "asr.incremental")),
		baseURL:     base,
		maxDuration: time.Duration(cfg.MaxDurationSec) * time.Second,
		retryDelay:  time.Duration(cfg.RetryDelayMS) * time.Millisecond,
	}, nil
}

func (t *incrementalTranscriber) Transcribe(ctx context.Context, frames [][]byte, sessionID string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.maxDuration)
	defer cancel()

	// Each call decodes from scratch; the slice cursor is never shared
	// across retries or across calls.
	var pcm []int16
	for _, frame := range frames {
		samples, err := t.dec.Decode(frame)
		if err != nil {
			return Result{}, fmt.Errorf("decode utterance frame: %w", err)
		}
		pcm = append(pcm, samples...)
	}
	if len(pcm) == 0 {
		return Result{}, nil
	}

	sliceSamples := t.rate * t.cfg.SliceDurationMS / 1000
	vadSamples := t.rate * t.cfg.VADFrameMS / 1000
	if sliceSamples <= 0 || vadSamples <= 0 {
		return Result{}, fmt.Errorf("invalid slice geometry: slice=%dms vad=%dms", t.cfg.SliceDurationMS, t.cfg.VADFrameMS)
	}

	var (
		segment   []int16
		last      string
		elapsedMS int
		silenceMS int
		inSilence bool
	)

	for start := 0; start < len(pcm); start += sliceSamples {
		if ctx.Err() != nil {
			return Result{Text: last}, nil
		}
		end := min(start+sliceSamples, len(pcm))
		slice := pcm[start:end]
		segment = append(segment, slice...)

		for off := 0; off < len(slice); off += vadSamples {
			frame := slice[off:min(off+vadSamples, len(slice))]
			elapsedMS += len(frame) * 1000 / t.rate
			// The head window suppresses voice evaluation so a slow
			// utterance start cannot terminate the transcript early.
			if elapsedMS <= t.cfg.HeadWindowMS {
				continue
			}
			if t.gate.HasVoice(frame) {
				silenceMS = 0
				inSilence = false
				continue
			}
			if !inSilence {
				inSilence = true
				text, err := t.upload(ctx, segment, sessionID)
				if errors.Is(err, ErrBackendFailed) {
					return Result{}, err
				}
				if err != nil {
					t.logger.Warn("partial upload failed, keeping previous transcript", slogError(err))
				} else if text != "" {
					last = text
				}
			}
			silenceMS += len(frame) * 1000 / t.rate
			if silenceMS >= t.cfg.SilenceThresholdMS {
				return Result{Text: last}, nil
			}
		}
	}

	// Audio ran out before the silence threshold: one last upload of the
	// full segment so trailing speech is not lost.
	if ctx.Err() == nil {
		text, err := t.upload(ctx, segment, sessionID)
		if errors.Is(err, ErrBackendFailed) {
			return Result{}, err
		}
		if err == nil && text != "" {
			last = text
		}
	}
	return Result{Text: last}, nil
}

// upload posts the accumulated segment, retrying transport failures a fixed
// number of times with a fixed delay. SSL failures downgrade the endpoint
// scheme once when the HTTP fallback is enabled.
func (t *incrementalTranscriber) upload(ctx context.Context, segment []int16, sessionID string) (string, error) {
	body := audio.WAVBytes(segment, t.rate, 1)

	var lastErr error
	for attempt := 0; attempt < t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(t.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", &TransportError{Err: ctx.Err()}
			case <-timer.C:
			}
		}

		text, err := t.post(ctx, body)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, ErrBackendFailed) {
			return "", err
		}
		lastErr = err
		if t.cfg.HTTPFallback && isSSLError(err) {
			t.downgrade()
		}
		t.logger.Debug("upload attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("session_id", sessionID),
			slogError(err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", &TransportError{Err: lastErr}
}

func (t *incrementalTranscriber) post(ctx context.Context, wavBytes []byte) (string, error) {
	var buf strings.Builder
	writer := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="content"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(wavBytes); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(), strings.NewReader(buf.String()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("post segment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	var parsed predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode backend response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrBackendFailed, parsed.Error)
	}
	return parsed.Transcription, nil
}

func (t *incrementalTranscriber) endpoint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseURL + "/predict"
}

func (t *incrementalTranscriber) downgrade() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if strings.HasPrefix(t.baseURL, "https://") {
		t.baseURL = "http://" + strings.TrimPrefix(t.baseURL, "https://")
		t.logger.Warn("ssl failure, downgrading transcription endpoint to http")
	}
}

func isSSLError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "tls") ||
		strings.Contains(msg, "x509") ||
		strings.Contains(msg, "certificate")
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
