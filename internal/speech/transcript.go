package speech

// TranscriptEvent is the normalized transcription event the pipeline
// operates on, regardless of vendor. Immutable once produced.
type TranscriptEvent struct {
	// Text is the transcribed text (may be interim)
	Text string

	// Confidence is the recognizer confidence (0.0 to 1.0) if available
	Confidence float64

	// IsFinal indicates a finalized transcript segment
	IsFinal bool

	// IsSpeechStart indicates voice onset was detected
	IsSpeechStart bool

	// IsEndpoint indicates the provider signaled utterance end
	IsEndpoint bool
}
