package deepgram

import (
	"context"
	"fmt"
	"sync"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/config"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/observability"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/speech"
)

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we need;
// everything it does is forwarded onto the adapter's event channel, never
// into shared state.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse)
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.onMessage(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.onError(errorResponse)
	return nil
}

// Recognizer implements speech.Recognizer against Deepgram's streaming
// API. Reconnect policy is owned by the transcription layer; on transport
// failure this adapter just reports the event and goes inactive.
type Recognizer struct {
	apiKey string
	logger zerolog.Logger

	mu     sync.Mutex
	client *listenClient.WSCallback
	active bool
	cancel context.CancelFunc

	events chan speech.RecognizerEvent
}

// New creates a Deepgram recognizer adapter from service configuration.
func New(cfg *config.Config) *Recognizer {
	return &Recognizer{
		apiKey: cfg.DeepgramAPIKey,
		logger: observability.GetLogger().With().Str("component", "deepgram").Logger(),
		events: make(chan speech.RecognizerEvent, 100),
	}
}

// Start opens a Deepgram streaming session.
func (d *Recognizer) Start(ctx context.Context, rcfg speech.RecognizerConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return fmt.Errorf("deepgram recognizer is already active")
	}

	ctx, cancel := context.WithCancel(ctx)

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          rcfg.Model,
		Language:       rcfg.Language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       rcfg.Encoding,
		Channels:       rcfg.Channels,
		SampleRate:     rcfg.SampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              d.handleMessage,
		onError:                d.handleError,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, d.apiKey, nil, tOptions, callback)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create deepgram client: %w", err)
	}

	d.client = client
	d.cancel = cancel
	d.active = true

	d.logger.Info().
		Str("model", rcfg.Model).
		Str("language", rcfg.Language).
		Msg("Deepgram streaming session started")
	return nil
}

// handleMessage bridges Deepgram messages onto the event channel.
func (d *Recognizer) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		d.logger.Debug().Msg("Deepgram metadata received")

	case "SpeechStarted":
		d.emit(speech.RecognizerEvent{Kind: speech.EventSpeechStarted})

	case "UtteranceEnd":
		d.emit(speech.RecognizerEvent{Kind: speech.EventUtteranceEnd})

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}

		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		d.emit(speech.RecognizerEvent{
			Kind:       speech.EventTranscript,
			Text:       alt.Transcript,
			Confidence: alt.Confidence,
			IsFinal:    msg.IsFinal,
		})

	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Deepgram: unknown message type")
	}
}

// handleError reports the fault and marks the session inactive so the
// transcription layer can decide on reconnecting.
func (d *Recognizer) handleError(errorResponse *msginterfaces.ErrorResponse) {
	d.logger.Warn().
		Str("code", errorResponse.ErrCode).
		Str("description", errorResponse.Description).
		Msg("Deepgram error")

	d.mu.Lock()
	d.active = false
	d.mu.Unlock()

	d.emit(speech.RecognizerEvent{
		Kind: speech.EventClosed,
		Err:  fmt.Errorf("deepgram: %s (%s)", errorResponse.Description, errorResponse.ErrCode),
	})
}

func (d *Recognizer) emit(ev speech.RecognizerEvent) {
	select {
	case d.events <- ev:
	default:
		d.logger.Warn().Msg("Deepgram event channel full, dropping event")
	}
}

// Send forwards an audio frame to Deepgram.
func (d *Recognizer) Send(audio []byte) error {
	d.mu.Lock()
	active := d.active
	client := d.client
	d.mu.Unlock()

	if !active || client == nil {
		return fmt.Errorf("deepgram recognizer is not active")
	}

	if _, err := client.Write(audio); err != nil {
		return fmt.Errorf("failed to send audio to deepgram: %w", err)
	}
	return nil
}

// Events returns the session event channel.
func (d *Recognizer) Events() <-chan speech.RecognizerEvent {
	return d.events
}

// Stop closes the streaming session. The event channel stays open so a
// restarted session can reuse it.
func (d *Recognizer) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	d.client.Finish()
	if d.cancel != nil {
		d.cancel()
	}
	d.active = false

	d.logger.Info().Msg("Deepgram streaming session stopped")
	return nil
}
