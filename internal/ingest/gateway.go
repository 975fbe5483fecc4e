// Package ingest accepts raw audio frames from the client transport and
// forwards them to the active speech recognizer through a bounded queue.
// The client read loop must never block on a slow recognizer: when the
// queue fills, the oldest frames are dropped and backpressure is signaled.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/audio"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/observability"
)

// ErrRecognizerUnavailable is returned while no STT session is active
// (e.g. mid-reconnect). Frames are dropped and counted; losing a little
// audio during a short reconnect window is acceptable, blocking the
// caller is not.
var ErrRecognizerUnavailable = errors.New("ingest: recognizer unavailable")

// AudioSink is where ingested frames go. Implemented by the
// transcription stream, which owns the recognizer handle.
type AudioSink interface {
	// Send forwards an audio frame upstream.
	Send(audio []byte) error

	// Ready reports whether an upstream session is currently active.
	Ready() bool
}

// Gateway buffers inbound client audio and pumps it to the recognizer.
type Gateway struct {
	sink    AudioSink
	queue   chan []byte
	vad     *audio.VADDetector
	logger  zerolog.Logger
	metrics *observability.Metrics

	backpressure chan struct{}
	speechStarts chan struct{}

	droppedFrames atomic.Int64
}

// New creates a gateway with the given frame queue capacity.
func New(sink AudioSink, queueFrames int, vadConfig *audio.VADConfig, logger zerolog.Logger, metrics *observability.Metrics) *Gateway {
	if queueFrames <= 0 {
		queueFrames = 150
	}
	return &Gateway{
		sink:         sink,
		queue:        make(chan []byte, queueFrames),
		vad:          audio.NewVADDetector(vadConfig),
		logger:       logger,
		metrics:      metrics,
		backpressure: make(chan struct{}, 1),
		speechStarts: make(chan struct{}, 1),
	}
}

// Ingest accepts one audio frame from the client transport. It never
// blocks: a full queue sheds its oldest frame first.
func (g *Gateway) Ingest(frame []byte) error {
	if !g.sink.Ready() {
		g.recordDrop("recognizer_unavailable")
		return ErrRecognizerUnavailable
	}

	for {
		select {
		case g.queue <- frame:
			return nil
		default:
		}

		// Queue full: shed the oldest frame and signal backpressure.
		select {
		case <-g.queue:
			g.recordDrop("backpressure")
			g.signalBackpressure()
		default:
		}
	}
}

// Run pumps queued frames to the sink until ctx is cancelled. VAD runs
// here, on the forwarded stream, and raises local speech-start edges for
// providers that never signal them.
func (g *Gateway) Run(ctx context.Context) {
	for {
		select {
		case frame := <-g.queue:
			if g.metrics != nil {
				g.metrics.RecordAudioBytes("in", int64(len(frame)))
			}

			if started, _ := g.vad.ProcessFrame(frame); started {
				select {
				case g.speechStarts <- struct{}{}:
				default:
				}
			}

			if err := g.sink.Send(frame); err != nil {
				g.recordDrop("recognizer_unavailable")
				g.logger.Debug().Err(err).Msg("Frame dropped: recognizer send failed")
			}

		case <-ctx.Done():
			return
		}
	}
}

// Backpressure returns a coalesced signal raised whenever frames are shed
// because the queue overflowed.
func (g *Gateway) Backpressure() <-chan struct{} {
	return g.backpressure
}

// SpeechStarts returns a coalesced signal raised on locally detected
// voice onset.
func (g *Gateway) SpeechStarts() <-chan struct{} {
	return g.speechStarts
}

// DroppedFrames returns the total number of frames shed so far.
func (g *Gateway) DroppedFrames() int64 {
	return g.droppedFrames.Load()
}

func (g *Gateway) recordDrop(reason string) {
	g.droppedFrames.Add(1)
	if g.metrics != nil {
		g.metrics.RecordDroppedFrame(reason)
	}
}

func (g *Gateway) signalBackpressure() {
	select {
	case g.backpressure <- struct{}{}:
	default:
	}
}
