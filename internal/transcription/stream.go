// Package transcription wraps a speech recognizer session and normalizes
// its events into a uniform transcript stream. It owns the recognizer
// handle exclusively; nothing else talks to the provider.
package transcription

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/resilience"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/speech"
)

// Stream normalizes recognizer events into TranscriptEvents and applies
// the single-reconnect policy for provider faults.
type Stream struct {
	recognizer speech.Recognizer
	cfg        speech.RecognizerConfig
	logger     zerolog.Logger

	out    chan speech.TranscriptEvent
	failed chan error

	ready atomic.Bool
}

// NewStream creates a transcription stream over the given recognizer.
func NewStream(recognizer speech.Recognizer, cfg speech.RecognizerConfig, logger zerolog.Logger) *Stream {
	return &Stream{
		recognizer: recognizer,
		cfg:        cfg,
		logger:     logger,
		out:        make(chan speech.TranscriptEvent, 100),
		failed:     make(chan error, 1),
	}
}

// Start opens the recognizer session.
func (s *Stream) Start(ctx context.Context) error {
	if err := s.recognizer.Start(ctx, s.cfg); err != nil {
		return fmt.Errorf("failed to start recognizer: %w", err)
	}
	s.ready.Store(true)
	return nil
}

// Send forwards an audio frame to the recognizer. Implements the ingest
// gateway's sink contract.
func (s *Stream) Send(audio []byte) error {
	if !s.ready.Load() {
		return fmt.Errorf("recognizer session not active")
	}
	return s.recognizer.Send(audio)
}

// Ready reports whether a recognizer session is currently active.
func (s *Stream) Ready() bool {
	return s.ready.Load()
}

// Events returns the normalized transcript event stream, in provider
// emission order.
func (s *Stream) Events() <-chan speech.TranscriptEvent {
	return s.out
}

// Failed delivers at most one terminal error: the recognizer closed and
// the single reconnect attempt did not bring it back.
func (s *Stream) Failed() <-chan error {
	return s.failed
}

// Run consumes recognizer events until ctx is cancelled or the session
// fails terminally.
func (s *Stream) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-s.recognizer.Events():
			switch ev.Kind {
			case speech.EventTranscript:
				s.emit(ctx, speech.TranscriptEvent{
					Text:       ev.Text,
					Confidence: ev.Confidence,
					IsFinal:    ev.IsFinal,
				})

			case speech.EventSpeechStarted:
				s.emit(ctx, speech.TranscriptEvent{IsSpeechStart: true})

			case speech.EventUtteranceEnd:
				s.emit(ctx, speech.TranscriptEvent{IsEndpoint: true})

			case speech.EventClosed, speech.EventError:
				if !s.reconnect(ctx, ev.Err) {
					return
				}
			}
		}
	}
}

// reconnect makes one attempt to reopen the session with the same
// configuration. Returns false when the stream is terminally failed.
func (s *Stream) reconnect(ctx context.Context, cause error) bool {
	s.ready.Store(false)

	if ctx.Err() != nil {
		return false
	}

	s.logger.Warn().Err(cause).Msg("Recognizer connection lost, attempting reconnect")

	err := resilience.Reconnect(ctx, func() error {
		return s.recognizer.Start(ctx, s.cfg)
	}, &resilience.ReconnectConfig{
		MaxAttempts: 1,
		Backoff:     250 * time.Millisecond,
		Multiplier:  1.0,
		MaxBackoff:  250 * time.Millisecond,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Recognizer reconnect failed, stream is terminal")
		select {
		case s.failed <- fmt.Errorf("recognizer failed: %w", cause):
		default:
		}
		return false
	}

	s.ready.Store(true)
	s.logger.Info().Msg("Recognizer reconnected")
	return true
}

// Stop closes the recognizer session.
func (s *Stream) Stop() error {
	s.ready.Store(false)
	return s.recognizer.Stop()
}

func (s *Stream) emit(ctx context.Context, ev speech.TranscriptEvent) {
	select {
	case s.out <- ev:
	case <-ctx.Done():
	}
}
