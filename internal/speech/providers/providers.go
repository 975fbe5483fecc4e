// Package providers selects speech vendor adapters by configuration.
// This is the only place vendor names appear outside their adapters.
package providers

import (
	"fmt"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/config"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/speech"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/speech/cartesia"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/speech/deepgram"
)

// NewRecognizer builds the configured speech-to-text adapter.
func NewRecognizer(cfg *config.Config) (speech.Recognizer, error) {
	switch cfg.STTProvider {
	case "deepgram":
		return deepgram.New(cfg), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STTProvider)
	}
}

// NewSynthesizer builds the configured text-to-speech adapter.
func NewSynthesizer(cfg *config.Config) (speech.Synthesizer, error) {
	switch cfg.TTSProvider {
	case "cartesia":
		return cartesia.New(cfg), nil
	default:
		return nil, fmt.Errorf("unknown TTS provider %q", cfg.TTSProvider)
	}
}

// RecognizerConfig derives the vendor-neutral streaming parameters for
// the client audio leg (PCMU 8kHz mono).
func RecognizerConfig(cfg *config.Config) speech.RecognizerConfig {
	return speech.RecognizerConfig{
		Model:      cfg.DeepgramModel,
		Language:   cfg.DeepgramLanguage,
		Encoding:   "mulaw",
		SampleRate: 8000,
		Channels:   1,
	}
}
