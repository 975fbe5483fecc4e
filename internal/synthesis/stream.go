// Package synthesis turns reply text into an ordered, cancellable stream
// of audio chunks. It owns the synthesizer handle exclusively.
package synthesis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/speech"
)

// Chunk is one piece of synthesized audio. Within a response, Sequence
// increases monotonically from 0 and exactly one chunk carries IsLast.
type Chunk struct {
	Sequence int
	Payload  []byte
	IsLast   bool
}

// Stream wraps a Synthesizer and produces ordered chunk streams, one
// response at a time.
type Stream struct {
	synthesizer speech.Synthesizer
	lookahead   int
	logger      zerolog.Logger

	mu     sync.Mutex
	active *Playback
}

// NewStream creates a synthesis stream. lookahead bounds how many
// already-produced chunks may sit unsent; that bound is exactly how much
// audio gets thrown away on interruption.
func NewStream(synthesizer speech.Synthesizer, lookahead int, logger zerolog.Logger) *Stream {
	if lookahead < 1 {
		lookahead = 2
	}
	return &Stream{
		synthesizer: synthesizer,
		lookahead:   lookahead,
		logger:      logger,
	}
}

// Synthesize starts synthesizing text and returns the playback handle.
// Only one playback may be active at a time.
func (s *Stream) Synthesize(ctx context.Context, text string) (*Playback, error) {
	s.mu.Lock()
	if s.active != nil && !s.active.finished() {
		s.mu.Unlock()
		return nil, fmt.Errorf("synthesis already in progress")
	}
	s.mu.Unlock()

	src, err := s.synthesizer.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("synthesizer failed: %w", err)
	}

	p := &Playback{
		out:         make(chan Chunk, s.lookahead),
		cancelled:   make(chan struct{}),
		stopped:     make(chan struct{}),
		synthesizer: s.synthesizer,
	}

	s.mu.Lock()
	s.active = p
	s.mu.Unlock()

	go p.pump(src)
	return p, nil
}

// Cancel aborts the active playback, if any.
func (s *Stream) Cancel() {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()

	if p != nil {
		p.Cancel()
	}
}

// Playback is one response's chunk stream.
type Playback struct {
	out         chan Chunk
	synthesizer speech.Synthesizer

	cancelOnce sync.Once
	cancelled  chan struct{}
	stopped    chan struct{}
}

// Chunks returns the ordered chunk stream. The channel closes when the
// response is fully emitted or cancelled.
func (p *Playback) Chunks() <-chan Chunk {
	return p.out
}

// Cancel stops the playback. When it returns, no further chunk will ever
// be emitted; chunks already queued but unread should be discarded by
// the consumer.
func (p *Playback) Cancel() {
	p.cancelOnce.Do(func() {
		close(p.cancelled)
		p.synthesizer.Cancel()
	})
	<-p.stopped
}

// Cancelled reports whether Cancel was called.
func (p *Playback) Cancelled() bool {
	select {
	case <-p.cancelled:
		return true
	default:
		return false
	}
}

func (p *Playback) finished() bool {
	select {
	case <-p.stopped:
		return true
	default:
		return false
	}
}

// pump converts raw synthesizer payloads into sequenced chunks. It holds
// one payload back so the final chunk can be marked IsLast when the
// source closes. Every blocking operation selects on the cancel channel,
// which is what makes Cancel's no-further-emission guarantee hold.
func (p *Playback) pump(src <-chan []byte) {
	defer func() {
		close(p.out)
		close(p.stopped)
	}()

	seq := 0
	var pending []byte
	havePending := false

	emit := func(payload []byte, last bool) bool {
		select {
		case p.out <- Chunk{Sequence: seq, Payload: payload, IsLast: last}:
			seq++
			return true
		case <-p.cancelled:
			return false
		}
	}

	for {
		select {
		case payload, ok := <-src:
			if !ok {
				// Source complete: flush the held payload as the final
				// chunk. A response with no audio still gets its one
				// IsLast chunk so the consumer sees completion.
				if havePending {
					emit(pending, true)
				} else {
					emit(nil, true)
				}
				return
			}

			if havePending {
				if !emit(pending, false) {
					return
				}
			}
			pending = payload
			havePending = true

		case <-p.cancelled:
			return
		}
	}
}

// LookaheadChunks derives a chunk-count bound from a buffering horizon:
// audio is PCMU at 8kHz (one byte per sample), delivered in chunks of
// roughly chunk duration each.
func LookaheadChunks(horizon, chunk time.Duration) int {
	if chunk <= 0 {
		chunk = 100 * time.Millisecond
	}
	n := int(horizon / chunk)
	if n < 1 {
		n = 1
	}
	return n
}
