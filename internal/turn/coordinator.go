package turn

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/speech"
)

// State is the coordinator's conversational phase.
type State int

const (
	// StateIdle means no user speech has been observed yet.
	StateIdle State = iota
	// StateListening means user speech is being accumulated.
	StateListening
	// StateDispatching means an utterance is in flight to the agent.
	StateDispatching
	// StateSpeaking means a reply is being synthesized and played.
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateDispatching:
		return "dispatching"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// ActionKind identifies what the session loop must do in response to a
// coordinator transition.
type ActionKind int

const (
	// ActionDispatch sends the utterance to the agent.
	ActionDispatch ActionKind = iota
	// ActionSpeak synthesizes and plays the given text.
	ActionSpeak
	// ActionCancelSynthesis stops in-flight synthesis and playback.
	ActionCancelSynthesis
	// ActionStateChanged notifies the client of the new phase.
	ActionStateChanged
	// ActionDedupSuppressed marks an utterance dropped as a duplicate.
	ActionDedupSuppressed
)

// Action is one side effect requested by the coordinator. The coordinator
// itself never performs I/O; the session loop executes actions in order.
type Action struct {
	Kind       ActionKind
	DispatchID string
	Text       string
	State      State
}

// ApologyText is spoken when a dispatch fails or times out.
const ApologyText = "Sorry, I'm having trouble with that right now. Could you try again?"

// Config holds the tunable endpointing and dedup parameters.
type Config struct {
	SilenceWindow   time.Duration
	DedupWindow     time.Duration
	ConfidenceFloor float64
}

// Coordinator decides when accumulated speech becomes a dispatch and what
// happens to in-flight playback when the user speaks again. It is a pure
// state machine: all inputs carry their own clock reading and all outputs
// are Actions, so a single goroutine must own it.
type Coordinator struct {
	cfg   Config
	state State

	// Finalized segments of the utterance being accumulated.
	pending     []string
	lastFinalAt time.Time

	// In-flight dispatch, if any.
	activeDispatchID string

	// Dedup memory.
	lastDispatchedHash uint64
	lastDispatchedAt   time.Time

	seq uint64
}

// NewCoordinator returns a coordinator in the idle state.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg, state: StateIdle}
}

// State returns the current phase.
func (c *Coordinator) State() State {
	return c.state
}

// OnTranscript feeds one recognizer event into the machine.
func (c *Coordinator) OnTranscript(ev speech.TranscriptEvent, now time.Time) []Action {
	if ev.IsSpeechStart {
		return c.onSpeechStart(now)
	}

	text := strings.TrimSpace(ev.Text)

	// Any recognized text means the user is talking, interim or not.
	var actions []Action
	if text != "" && c.state == StateIdle {
		c.state = StateListening
		actions = append(actions, Action{Kind: ActionStateChanged, State: StateListening})
	}

	if ev.IsEndpoint {
		// Endpoint markers may arrive with no text of their own.
		if text != "" && ev.IsFinal && ev.Confidence >= c.cfg.ConfidenceFloor {
			c.accumulate(text, now)
		}
		return append(actions, c.maybeDispatch(now)...)
	}

	if text == "" || !ev.IsFinal {
		return actions
	}
	if ev.Confidence < c.cfg.ConfidenceFloor {
		return actions
	}

	c.accumulate(text, now)

	if endsWithTerminalPunctuation(text) {
		return append(actions, c.maybeDispatch(now)...)
	}
	return actions
}

// OnTick advances the silence-window clock. The session loop calls it
// periodically; a finalized utterance with no trailing speech for the
// configured window is dispatched.
func (c *Coordinator) OnTick(now time.Time) []Action {
	if len(c.pending) == 0 {
		return nil
	}
	if now.Sub(c.lastFinalAt) < c.cfg.SilenceWindow {
		return nil
	}
	return c.maybeDispatch(now)
}

// OnQueryOutcome reports the result of a dispatch. A stale dispatch ID
// (from a turn already abandoned) is ignored.
func (c *Coordinator) OnQueryOutcome(dispatchID string, replyText string, err error, now time.Time) []Action {
	if c.state != StateDispatching || dispatchID != c.activeDispatchID {
		return nil
	}
	c.activeDispatchID = ""

	text := replyText
	if err != nil || strings.TrimSpace(text) == "" {
		text = ApologyText
	}

	c.state = StateSpeaking
	return []Action{
		{Kind: ActionSpeak, Text: text},
		{Kind: ActionStateChanged, State: StateSpeaking},
	}
}

// OnSynthesisDone reports that playback of a reply finished normally.
func (c *Coordinator) OnSynthesisDone(now time.Time) []Action {
	if c.state != StateSpeaking {
		return nil
	}
	c.state = StateListening
	return []Action{{Kind: ActionStateChanged, State: StateListening}}
}

// OnBargeIn reports user speech detected outside the transcript path,
// e.g. from frame-level voice activity.
func (c *Coordinator) OnBargeIn(now time.Time) []Action {
	return c.onSpeechStart(now)
}

func (c *Coordinator) onSpeechStart(now time.Time) []Action {
	switch c.state {
	case StateIdle:
		c.state = StateListening
		return []Action{{Kind: ActionStateChanged, State: StateListening}}
	case StateSpeaking:
		c.state = StateListening
		return []Action{
			{Kind: ActionCancelSynthesis},
			{Kind: ActionStateChanged, State: StateListening},
		}
	default:
		return nil
	}
}

func (c *Coordinator) accumulate(text string, now time.Time) {
	c.pending = append(c.pending, text)
	c.lastFinalAt = now
}

// maybeDispatch is the single exit from accumulation. Whichever endpoint
// trigger fires first wins; the pending buffer is cleared either way so a
// second trigger on the same utterance is a no-op.
func (c *Coordinator) maybeDispatch(now time.Time) []Action {
	if c.state != StateListening || len(c.pending) == 0 {
		return nil
	}

	utterance := strings.Join(c.pending, " ")
	c.pending = nil

	hash := normalizedHash(utterance)
	if hash == c.lastDispatchedHash && now.Sub(c.lastDispatchedAt) <= c.cfg.DedupWindow {
		return []Action{{Kind: ActionDedupSuppressed, Text: utterance}}
	}

	c.seq++
	c.lastDispatchedHash = hash
	c.lastDispatchedAt = now
	c.activeDispatchID = fmt.Sprintf("d-%d-%x", c.seq, hash)
	c.state = StateDispatching

	return []Action{
		{Kind: ActionDispatch, DispatchID: c.activeDispatchID, Text: utterance},
		{Kind: ActionStateChanged, State: StateDispatching},
	}
}

// normalizedHash fingerprints an utterance so immediate repeats from
// recognizer stutter collapse to one dispatch.
func normalizedHash(text string) uint64 {
	norm := strings.ToLower(strings.TrimSpace(text))
	norm = strings.Join(strings.Fields(norm), " ")
	norm = strings.TrimRight(norm, ".?!,")

	h := fnv.New64a()
	h.Write([]byte(norm))
	return h.Sum64()
}

func endsWithTerminalPunctuation(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasSuffix(t, ".") || strings.HasSuffix(t, "?") || strings.HasSuffix(t, "!")
}
