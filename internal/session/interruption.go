package session

import (
	"github.com/rs/zerolog"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/observability"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/synthesis"
)

// InterruptionController tears down in-flight playback when the user
// barges in over the assistant's reply.
type InterruptionController struct {
	synth   *synthesis.Stream
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewInterruptionController wires the controller to the session's
// synthesis stream.
func NewInterruptionController(synth *synthesis.Stream, metrics *observability.Metrics, logger zerolog.Logger) *InterruptionController {
	return &InterruptionController{
		synth:   synth,
		metrics: metrics,
		logger:  logger,
	}
}

// HandleBargeIn cancels the active playback. It returns only after the
// synthesis pump has stopped, so the caller can rely on no further audio
// chunks being produced.
func (ic *InterruptionController) HandleBargeIn() {
	ic.synth.Cancel()
	if ic.metrics != nil {
		ic.metrics.RecordBargeIn()
	}
	ic.logger.Info().Msg("Barge-in: playback cancelled")
}
