package synthesis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/observability"
)

type fakeSynthesizer struct {
	mu        sync.Mutex
	src       chan []byte
	cancelled bool
}

func newFakeSynthesizer() *fakeSynthesizer {
	return &fakeSynthesizer{src: make(chan []byte, 16)}
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	return f.src, nil
}

func (f *fakeSynthesizer) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	return nil
}

func (f *fakeSynthesizer) wasCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func collect(t *testing.T, p *Playback) []Chunk {
	t.Helper()
	var chunks []Chunk
	timeout := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-p.Chunks():
			if !ok {
				return chunks
			}
			chunks = append(chunks, chunk)
		case <-timeout:
			t.Fatal("Timed out collecting chunks")
		}
	}
}

func TestPlayback_OrderedChunks(t *testing.T) {
	synth := newFakeSynthesizer()
	s := NewStream(synth, 4, observability.GetLogger())

	p, err := s.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	synth.src <- []byte{1}
	synth.src <- []byte{2}
	synth.src <- []byte{3}
	close(synth.src)

	chunks := collect(t, p)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}

	lastCount := 0
	for i, chunk := range chunks {
		if chunk.Sequence != i {
			t.Errorf("Chunk %d: expected sequence %d, got %d", i, i, chunk.Sequence)
		}
		if chunk.IsLast {
			lastCount++
		}
	}
	if lastCount != 1 {
		t.Errorf("Expected exactly one IsLast chunk, got %d", lastCount)
	}
	if !chunks[len(chunks)-1].IsLast {
		t.Error("Expected the final chunk to carry IsLast")
	}
}

func TestPlayback_EmptyResponseStillCompletes(t *testing.T) {
	synth := newFakeSynthesizer()
	s := NewStream(synth, 4, observability.GetLogger())

	p, err := s.Synthesize(context.Background(), "")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	close(synth.src)

	chunks := collect(t, p)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 completion chunk, got %d", len(chunks))
	}
	if !chunks[0].IsLast {
		t.Error("Expected completion chunk to carry IsLast")
	}
}

func TestPlayback_CancelStopsEmission(t *testing.T) {
	synth := newFakeSynthesizer()
	s := NewStream(synth, 2, observability.GetLogger())

	p, err := s.Synthesize(context.Background(), "long reply")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	synth.src <- []byte{1}
	synth.src <- []byte{2}

	// Read one chunk, then cancel mid-stream.
	select {
	case <-p.Chunks():
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for first chunk")
	}

	p.Cancel()

	if !p.Cancelled() {
		t.Error("Expected Cancelled() true after Cancel")
	}
	if !synth.wasCancelled() {
		t.Error("Expected upstream synthesizer Cancel to be called")
	}

	// After Cancel returns, the pump is stopped: the channel drains and
	// closes with no IsLast chunk.
	for chunk := range p.Chunks() {
		if chunk.IsLast {
			t.Error("No IsLast chunk should be emitted after cancellation")
		}
	}
}

func TestPlayback_CancelIdempotent(t *testing.T) {
	synth := newFakeSynthesizer()
	s := NewStream(synth, 2, observability.GetLogger())

	p, err := s.Synthesize(context.Background(), "reply")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	p.Cancel()
	p.Cancel() // second call must not panic or block
}

func TestStream_RejectsConcurrentSynthesis(t *testing.T) {
	synth := newFakeSynthesizer()
	s := NewStream(synth, 2, observability.GetLogger())

	p, err := s.Synthesize(context.Background(), "first")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	if _, err := s.Synthesize(context.Background(), "second"); err == nil {
		t.Error("Expected error for concurrent synthesis")
	}

	p.Cancel()
}

func TestStream_CancelActive(t *testing.T) {
	synth := newFakeSynthesizer()
	s := NewStream(synth, 2, observability.GetLogger())

	p, err := s.Synthesize(context.Background(), "reply")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	s.Cancel()

	if !p.Cancelled() {
		t.Error("Expected Stream.Cancel to cancel the active playback")
	}
}

func TestStream_SequentialResponses(t *testing.T) {
	synth := newFakeSynthesizer()
	s := NewStream(synth, 2, observability.GetLogger())

	p, err := s.Synthesize(context.Background(), "first")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	close(synth.src)
	collect(t, p)

	// A finished playback frees the slot; sequences restart at 0.
	synth.src = make(chan []byte, 4)
	p2, err := s.Synthesize(context.Background(), "second")
	if err != nil {
		t.Fatalf("Second Synthesize failed: %v", err)
	}

	synth.src <- []byte{9}
	close(synth.src)

	chunks := collect(t, p2)
	if len(chunks) != 1 || chunks[0].Sequence != 0 {
		t.Errorf("Expected fresh sequence numbering, got %+v", chunks)
	}
}

func TestLookaheadChunks(t *testing.T) {
	if n := LookaheadChunks(250*time.Millisecond, 100*time.Millisecond); n != 2 {
		t.Errorf("Expected 2 lookahead chunks for 250ms/100ms, got %d", n)
	}
	if n := LookaheadChunks(50*time.Millisecond, 100*time.Millisecond); n != 1 {
		t.Errorf("Expected minimum of 1, got %d", n)
	}
	if n := LookaheadChunks(250*time.Millisecond, 0); n != 2 {
		t.Errorf("Expected default chunk size fallback, got %d", n)
	}
}
