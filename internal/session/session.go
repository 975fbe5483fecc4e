package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/audio"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/config"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/dispatch"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/ingest"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/observability"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/speech"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/speech/providers"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/synthesis"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/transcription"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/turn"
)

const (
	// Bytes of PCMU per outgoing frame: 20ms at 8kHz.
	outFrameBytes = 160
	// Pacing interval for outgoing audio.
	outFrameInterval = 20 * time.Millisecond
	// Clock for the silence-window endpoint trigger.
	tickInterval = 100 * time.Millisecond
	// Conversation history kept per session, in entries.
	maxHistoryEntries = 20
)

// transport is the duplex message connection a session runs over.
// Satisfied by *websocket.Conn; tests substitute an in-memory pipe.
type transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type queryOutcome struct {
	dispatchID string
	replyText  string
	err        error
}

// Session is one live voice conversation. The coordinator loop is the
// only goroutine that touches the turn state machine and the
// conversation history; everything else talks to it over channels.
type Session struct {
	id            string
	correlationID string
	userID        string
	cfg           *config.Config
	conn          transport
	writeMu       sync.Mutex

	coordinator *turn.Coordinator
	gateway     *ingest.Gateway
	transcripts *transcription.Stream
	synth       *synthesis.Stream
	interrupts  *InterruptionController
	dispatcher  dispatch.Dispatcher

	history []dispatch.HistoryEntry

	outcomes     chan queryOutcome
	playbackDone chan struct{}
	// Closed when the current playback goroutine has fully exited.
	// Owned by the coordinator loop.
	playbackExit chan struct{}

	cancel  context.CancelFunc
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewSession assembles the per-connection pipeline around an accepted
// transport.
func NewSession(conn transport, recognizer speech.Recognizer, synthesizer speech.Synthesizer, dispatcher dispatch.Dispatcher, cfg *config.Config) *Session {
	sessionID := uuid.New().String()
	correlationID := observability.NewCorrelationID()
	logger := observability.WithSession(sessionID, correlationID)
	metrics := observability.NewSessionMetrics(sessionID)

	transcripts := transcription.NewStream(recognizer, providers.RecognizerConfig(cfg), logger)

	vadCfg := &audio.VADConfig{
		EnergyThreshold: cfg.VADEnergyThreshold,
		SilenceFrames:   cfg.VADSilenceFrames,
	}
	gateway := ingest.New(transcripts, cfg.IngestQueueFrames, vadCfg, logger, metrics)

	lookahead := synthesis.LookaheadChunks(cfg.SynthBuffer(), 100*time.Millisecond)
	synth := synthesis.NewStream(synthesizer, lookahead, logger)

	return &Session{
		id:            sessionID,
		correlationID: correlationID,
		cfg:           cfg,
		conn:          conn,
		coordinator: turn.NewCoordinator(turn.Config{
			SilenceWindow:   cfg.SilenceWindow(),
			DedupWindow:     cfg.DedupWindow(),
			ConfidenceFloor: cfg.ConfidenceFloor,
		}),
		gateway:      gateway,
		transcripts:  transcripts,
		synth:        synth,
		interrupts:   NewInterruptionController(synth, metrics, logger),
		dispatcher:   dispatcher,
		outcomes:     make(chan queryOutcome, 4),
		playbackDone: make(chan struct{}, 1),
		metrics:      metrics,
		logger:       logger,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Run drives the session until the client disconnects, sends a stop
// frame, or the pipeline fails. It blocks for the session's lifetime.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()
	defer s.conn.Close()

	s.metrics.RecordSessionStart()
	defer s.metrics.RecordSessionEnd()

	s.logger.Info().Msg("Session started")

	if err := s.transcripts.Start(ctx); err != nil {
		s.metrics.RecordError("stt_connect", "session")
		s.sendError("speech recognition unavailable")
		return err
	}
	defer s.transcripts.Stop()

	go s.transcripts.Run(ctx)
	go s.gateway.Run(ctx)
	go s.readLoop()

	err := s.coordinatorLoop(ctx)
	s.logger.Info().Msg("Session ended")
	return err
}

// Stop terminates the session from outside, e.g. on server shutdown.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// readLoop pulls client messages off the wire: binary frames are audio,
// text frames are control messages.
func (s *Session) readLoop() {
	defer s.cancel()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Debug().Err(err).Msg("Client connection closed")
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := s.gateway.Ingest(data); err != nil && !errors.Is(err, ingest.ErrRecognizerUnavailable) {
				s.logger.Warn().Err(err).Msg("Audio frame rejected")
			}

		case websocket.TextMessage:
			var frame clientFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				s.logger.Debug().Err(err).Msg("Unparseable control frame")
				continue
			}
			switch frame.Type {
			case frameStop:
				s.logger.Info().Msg("Client requested stop")
				return
			default:
				if frame.UserID != "" {
					s.userID = frame.UserID
				}
			}
		}
	}
}

// coordinatorLoop owns the turn state machine. All mutations funnel
// through here.
func (s *Session) coordinatorLoop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-s.transcripts.Events():
			if !ok {
				return nil
			}
			if ev.Text != "" {
				s.writeJSON(transcriptFrame{
					Type:       frameTranscript,
					Text:       ev.Text,
					IsFinal:    ev.IsFinal,
					Confidence: ev.Confidence,
				})
			}
			s.apply(ctx, s.coordinator.OnTranscript(ev, time.Now()))

		case <-s.gateway.SpeechStarts():
			s.apply(ctx, s.coordinator.OnBargeIn(time.Now()))

		case <-ticker.C:
			s.apply(ctx, s.coordinator.OnTick(time.Now()))

		case o := <-s.outcomes:
			if o.err != nil {
				s.logger.Error().Err(o.err).Str("dispatch_id", o.dispatchID).Msg("Dispatch failed")
				s.metrics.RecordError("dispatch", "session")
			} else {
				s.appendHistory("assistant", o.replyText)
			}
			s.apply(ctx, s.coordinator.OnQueryOutcome(o.dispatchID, o.replyText, o.err, time.Now()))

		case <-s.playbackDone:
			s.apply(ctx, s.coordinator.OnSynthesisDone(time.Now()))

		case <-s.gateway.Backpressure():
			s.logger.Warn().Int64("dropped_frames", s.gateway.DroppedFrames()).Msg("Ingest backpressure: shedding oldest audio")

		case err := <-s.transcripts.Failed():
			s.metrics.RecordError("stt_failed", "session")
			s.sendError("speech recognition unavailable")
			return err

		case <-ctx.Done():
			return nil
		}
	}
}

// apply executes the side effects the coordinator asked for, in order.
func (s *Session) apply(ctx context.Context, actions []turn.Action) {
	for _, a := range actions {
		switch a.Kind {
		case turn.ActionDispatch:
			s.logger.Info().Str("dispatch_id", a.DispatchID).Str("utterance", a.Text).Msg("Dispatching utterance")
			s.metrics.RecordDispatchStart()
			s.appendHistory("user", a.Text)
			go s.runDispatch(ctx, a.DispatchID, a.Text, s.historySnapshot())

		case turn.ActionSpeak:
			s.startPlayback(ctx, a.Text)

		case turn.ActionCancelSynthesis:
			s.interrupts.HandleBargeIn()
			// Wait for the playback goroutine to emit its stop marker
			// and exit before any later action can start a new reply,
			// so playback_stopped can never trail the next response's
			// audio. Bounded: the synthesis pump has already stopped.
			s.waitPlaybackExit(ctx)

		case turn.ActionStateChanged:
			s.writeJSON(statusFrame{Type: frameStatus, State: a.State.String()})

		case turn.ActionDedupSuppressed:
			s.metrics.RecordDedupSuppressed()
			s.logger.Debug().Str("utterance", a.Text).Msg("Duplicate utterance suppressed")
		}
	}
}

func (s *Session) runDispatch(ctx context.Context, dispatchID, utterance string, history []dispatch.HistoryEntry) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.AgentTimeout())
	defer cancel()

	result, err := s.dispatcher.Dispatch(dctx, utterance, dispatchID, dispatch.SessionContext{
		SessionID: s.id,
		UserID:    s.userID,
		History:   history,
	})
	s.metrics.RecordDispatchEnd(err == nil)

	select {
	case s.outcomes <- queryOutcome{dispatchID: dispatchID, replyText: result.ReplyText, err: err}:
	case <-ctx.Done():
	}
}

func (s *Session) startPlayback(ctx context.Context, text string) {
	s.metrics.RecordSynthesisStart()

	playback, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		s.logger.Error().Err(err).Msg("Synthesis failed")
		s.metrics.RecordSynthesisEnd(false)
		s.metrics.RecordError("tts", "session")
		s.sendError("speech synthesis unavailable")
		s.signalPlaybackDone()
		return
	}

	exit := make(chan struct{})
	s.playbackExit = exit
	go func() {
		defer close(exit)
		s.runPlayback(ctx, playback)
	}()
}

func (s *Session) waitPlaybackExit(ctx context.Context) {
	if s.playbackExit == nil {
		return
	}
	select {
	case <-s.playbackExit:
	case <-ctx.Done():
	}
}

// runPlayback drains one reply's chunk stream to the client at roughly
// real-time pace. Synthesized audio passes through a ring buffer and
// leaves in fixed 20ms frames; blocking chunk intake on ring space
// pushes backpressure into the synthesis lookahead, which is what keeps
// the throw-away cost of a barge-in bounded.
func (s *Session) runPlayback(ctx context.Context, playback *synthesis.Playback) {
	// Release the playback on every exit path. Without this, a session
	// torn down mid-reply abandons the pump with a full lookahead
	// buffer and it blocks forever. Idempotent after normal completion.
	defer playback.Cancel()

	ring := audio.NewRingBuffer(s.cfg.AudioBufferSize)
	ticker := time.NewTicker(outFrameInterval)
	defer ticker.Stop()

	frame := make([]byte, outFrameBytes)
	seq := 0

	sendFrame := func() {
		n := ring.Read(frame)
		if n == 0 {
			return
		}
		s.metrics.RecordAudioBytes("out", int64(n))
		s.writeJSON(audioChunkFrame{Type: frameAudioChunk, Sequence: seq, Payload: frame[:n]})
		seq++
	}

	chunks := playback.Chunks()
	for chunks != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			payload := chunk.Payload
			for len(payload) > 0 {
				n := ring.Write(payload)
				payload = payload[n:]
				if len(payload) == 0 {
					break
				}
				// Ring full: wait for the pacer to make room.
				select {
				case <-ticker.C:
					sendFrame()
				case <-ctx.Done():
					return
				}
			}

		case <-ticker.C:
			sendFrame()

		case <-ctx.Done():
			return
		}
	}

	if playback.Cancelled() {
		// Interrupted: throw away buffered audio and mark the cut so
		// the client flushes its own buffer too.
		ring.Clear()
		s.writeJSON(playbackStoppedFrame{Type: framePlaybackStopped})
		s.metrics.RecordSynthesisEnd(false)
		return
	}

	// Completed: drain what's buffered, then mark the end of the reply.
	for !ring.IsEmpty() {
		select {
		case <-ticker.C:
			sendFrame()
		case <-ctx.Done():
			return
		}
	}
	s.writeJSON(audioChunkFrame{Type: frameAudioChunk, Sequence: seq, IsLast: true})
	s.metrics.RecordSynthesisEnd(true)
	s.signalPlaybackDone()
}

func (s *Session) signalPlaybackDone() {
	select {
	case s.playbackDone <- struct{}{}:
	default:
	}
}

func (s *Session) appendHistory(role, text string) {
	s.history = append(s.history, dispatch.HistoryEntry{
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	})
	if len(s.history) > maxHistoryEntries {
		s.history = s.history[len(s.history)-maxHistoryEntries:]
	}
}

func (s *Session) historySnapshot() []dispatch.HistoryEntry {
	snap := make([]dispatch.HistoryEntry, len(s.history))
	copy(snap, s.history)
	return snap
}

func (s *Session) sendError(message string) {
	s.writeJSON(errorFrame{Type: frameError, Message: message})
}

func (s *Session) writeJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal outbound frame")
		return
	}

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()

	if err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write frame")
	}
}
