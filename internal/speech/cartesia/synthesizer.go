package cartesia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/audio"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/config"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/observability"
)

const (
	apiURL = "https://api.cartesia.ai/v1/tts"

	// Cartesia returns PCM at 24kHz; the client leg runs mulaw at 8kHz.
	sourceSampleRate = 24000
	targetSampleRate = 8000

	// 100ms of source PCM per read keeps cancellation latency well under
	// the barge-in budget.
	readChunkBytes = sourceSampleRate / 10 * 2
)

// synthesisRequest is the Cartesia TTS API request payload.
type synthesisRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voice_id"`
	ModelID      string  `json:"model_id,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`
	SampleRate   int     `json:"sample_rate,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
}

// inflight identifies one synthesis call so a late cleanup cannot clobber
// a newer call's cancel handle.
type inflight struct {
	cancel context.CancelFunc
}

// Synthesizer implements speech.Synthesizer against Cartesia's HTTP API.
// Responses are streamed in small pieces so a cancel never waits behind a
// large buffered read.
type Synthesizer struct {
	apiKey     string
	voiceID    string
	modelID    string
	httpClient *http.Client
	logger     zerolog.Logger

	mu  sync.Mutex
	cur *inflight // non-nil while a synthesis is in flight
}

// New creates a Cartesia synthesizer adapter from service configuration.
func New(cfg *config.Config) *Synthesizer {
	return &Synthesizer{
		apiKey:     cfg.CartesiaAPIKey,
		voiceID:    cfg.CartesiaVoiceID,
		modelID:    cfg.CartesiaModelID,
		httpClient: &http.Client{},
		logger:     observability.GetLogger().With().Str("component", "cartesia").Logger(),
	}
}

// Synthesize converts text to a stream of PCMU 8kHz audio payloads.
func (c *Synthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	call := &inflight{cancel: cancel}

	c.mu.Lock()
	if c.cur != nil {
		c.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("cartesia synthesizer is already active")
	}
	c.cur = call
	c.mu.Unlock()

	reqBody := synthesisRequest{
		Text:         text,
		VoiceID:      c.voiceID,
		ModelID:      c.modelID,
		OutputFormat: "pcm",
		SampleRate:   sourceSampleRate,
		Speed:        1.0,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		c.finish(call)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
	if err != nil {
		c.finish(call)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.finish(call)
		return nil, fmt.Errorf("failed to call cartesia: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.finish(call)
		return nil, fmt.Errorf("cartesia API returned status %d", resp.StatusCode)
	}

	out := make(chan []byte, 4)

	go func() {
		defer func() {
			resp.Body.Close()
			close(out)
			c.finish(call)
		}()

		buf := make([]byte, readChunkBytes)
		for {
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 {
				// 16-bit samples; drop a trailing odd byte on the last read
				pcm := buf[: n-(n%2) : n]
				payload, convErr := audio.PCMToMulaw(pcm, sourceSampleRate, targetSampleRate)
				if convErr != nil {
					c.logger.Error().Err(convErr).Msg("Audio conversion failed")
					return
				}

				select {
				case out <- payload:
				case <-ctx.Done():
					return
				}
			}

			if err != nil {
				if err != io.EOF && err != io.ErrUnexpectedEOF && ctx.Err() == nil {
					c.logger.Error().Err(err).Msg("Error reading cartesia response")
				}
				return
			}
		}
	}()

	return out, nil
}

// Cancel aborts any in-flight synthesis.
func (c *Synthesizer) Cancel() error {
	c.mu.Lock()
	cur := c.cur
	c.mu.Unlock()

	if cur != nil {
		cur.cancel()
	}
	return nil
}

// finish releases the in-flight slot if it still belongs to this call.
func (c *Synthesizer) finish(call *inflight) {
	call.cancel()
	c.mu.Lock()
	if c.cur == call {
		c.cur = nil
	}
	c.mu.Unlock()
}
