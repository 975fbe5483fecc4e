package speech

import "context"

// Synthesizer is the capability contract a text-to-speech vendor adapter
// implements. Synthesize returns raw audio (PCMU 8kHz mono) in pieces
// small enough that cancellation latency stays bounded; the channel is
// closed when the utterance is fully synthesized or cancelled.
type Synthesizer interface {
	// Synthesize converts text to a stream of audio payloads.
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)

	// Cancel aborts any in-flight synthesis. Safe to call at any time.
	Cancel() error
}
