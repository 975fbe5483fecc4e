// Package session runs one duplex voice conversation per WebSocket
// connection: inbound audio flows through ingestion and transcription
// into the turn coordinator, replies flow back as synthesized audio.
package session

// Frame type tags on the JSON control channel. Inbound binary WebSocket
// messages carry raw PCMU audio and have no JSON envelope.
const (
	frameTranscript      = "transcript"
	frameStatus          = "status"
	frameAudioChunk      = "audio_chunk"
	framePlaybackStopped = "playback_stopped"
	frameError           = "error"
	frameStop            = "stop"
)

// clientFrame is an inbound JSON control message.
type clientFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
}

// transcriptFrame streams recognized text to the client as it firms up.
type transcriptFrame struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence,omitempty"`
}

// statusFrame announces a conversational phase change.
type statusFrame struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// audioChunkFrame carries one piece of synthesized reply audio. Payload
// is PCMU at 8kHz, base64-encoded by JSON marshaling.
type audioChunkFrame struct {
	Type     string `json:"type"`
	Sequence int    `json:"sequence"`
	Payload  []byte `json:"payload,omitempty"`
	IsLast   bool   `json:"is_last"`
}

// playbackStoppedFrame tells the client to flush its jitter buffer: the
// reply it was playing has been interrupted and no more of it will come.
type playbackStoppedFrame struct {
	Type string `json:"type"`
}

// errorFrame reports a session-level failure to the client.
type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
