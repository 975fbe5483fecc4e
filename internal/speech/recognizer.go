package speech

import "context"

// RecognizerEventKind discriminates the events a recognizer session emits.
type RecognizerEventKind int

const (
	// EventTranscript carries transcribed text (interim or final).
	EventTranscript RecognizerEventKind = iota
	// EventSpeechStarted signals the provider detected voice onset.
	EventSpeechStarted
	// EventUtteranceEnd signals the provider endpointed the utterance.
	EventUtteranceEnd
	// EventClosed signals the provider connection closed unexpectedly.
	EventClosed
	// EventError carries a provider-side error.
	EventError
)

// RecognizerEvent is the semi-raw event a vendor adapter emits. Adapters
// bridge their SDK callbacks onto the Events channel and never touch
// session state; normalization into TranscriptEvents happens downstream.
type RecognizerEvent struct {
	Kind       RecognizerEventKind
	Text       string
	Confidence float64
	IsFinal    bool
	Err        error
}

// RecognizerConfig carries the vendor-neutral streaming parameters.
type RecognizerConfig struct {
	Model      string
	Language   string
	Encoding   string // audio encoding of the inbound stream, e.g. "mulaw"
	SampleRate int
	Channels   int
}

// Recognizer is the capability contract a speech-to-text vendor adapter
// implements. A started recognizer owns one upstream streaming session;
// Send and Stop must only be called after a successful Start.
type Recognizer interface {
	// Start opens a streaming session with the provider.
	Start(ctx context.Context, cfg RecognizerConfig) error

	// Send forwards an audio frame to the provider.
	Send(audio []byte) error

	// Events returns the channel on which session events are delivered,
	// in provider emission order.
	Events() <-chan RecognizerEvent

	// Stop closes the streaming session.
	Stop() error
}
