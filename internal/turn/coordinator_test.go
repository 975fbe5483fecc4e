package turn

import (
	"errors"
	"testing"
	"time"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/speech"
)

func testCoordinator() *Coordinator {
	return NewCoordinator(Config{
		SilenceWindow:   time.Second,
		DedupWindow:     2 * time.Second,
		ConfidenceFloor: 0.3,
	})
}

func finalEvent(text string, confidence float64) speech.TranscriptEvent {
	return speech.TranscriptEvent{Text: text, Confidence: confidence, IsFinal: true}
}

func findAction(actions []Action, kind ActionKind) (Action, bool) {
	for _, a := range actions {
		if a.Kind == kind {
			return a, true
		}
	}
	return Action{}, false
}

func TestEndpointTriggersDispatch(t *testing.T) {
	c := testCoordinator()
	now := time.Now()

	c.OnTranscript(finalEvent("find organic milk", 0.95), now)
	actions := c.OnTranscript(speech.TranscriptEvent{IsEndpoint: true}, now)

	dispatch, ok := findAction(actions, ActionDispatch)
	if !ok {
		t.Fatal("expected dispatch action on endpoint")
	}
	if dispatch.Text != "find organic milk" {
		t.Errorf("unexpected utterance: %q", dispatch.Text)
	}
	if dispatch.DispatchID == "" {
		t.Error("expected a dispatch ID")
	}
	if c.State() != StateDispatching {
		t.Errorf("expected dispatching state, got %v", c.State())
	}
}

func TestTerminalPunctuationTriggersDispatch(t *testing.T) {
	c := testCoordinator()
	actions := c.OnTranscript(finalEvent("what's on my list?", 0.9), time.Now())

	if _, ok := findAction(actions, ActionDispatch); !ok {
		t.Fatal("expected dispatch on terminal punctuation")
	}
}

func TestSilenceWindowTriggersDispatch(t *testing.T) {
	c := testCoordinator()
	now := time.Now()

	c.OnTranscript(finalEvent("add bananas", 0.9), now)

	if actions := c.OnTick(now.Add(500 * time.Millisecond)); len(actions) != 0 {
		t.Errorf("expected no dispatch before silence window, got %v", actions)
	}

	actions := c.OnTick(now.Add(1100 * time.Millisecond))
	dispatch, ok := findAction(actions, ActionDispatch)
	if !ok {
		t.Fatal("expected dispatch after silence window")
	}
	if dispatch.Text != "add bananas" {
		t.Errorf("unexpected utterance: %q", dispatch.Text)
	}
}

func TestExactlyOnceDispatch(t *testing.T) {
	c := testCoordinator()
	now := time.Now()

	c.OnTranscript(finalEvent("find organic milk", 0.95), now)
	c.OnTranscript(speech.TranscriptEvent{IsEndpoint: true}, now)

	// The other triggers fire on the same utterance afterwards.
	if actions := c.OnTick(now.Add(2 * time.Second)); len(actions) != 0 {
		t.Errorf("silence trigger re-dispatched: %v", actions)
	}
	if actions := c.OnTranscript(speech.TranscriptEvent{IsEndpoint: true}, now); len(actions) != 0 {
		t.Errorf("second endpoint re-dispatched: %v", actions)
	}
}

func TestSegmentsJoined(t *testing.T) {
	c := testCoordinator()
	now := time.Now()

	c.OnTranscript(finalEvent("find organic", 0.9), now)
	c.OnTranscript(finalEvent("whole milk", 0.9), now.Add(300*time.Millisecond))
	actions := c.OnTranscript(speech.TranscriptEvent{IsEndpoint: true}, now.Add(400*time.Millisecond))

	dispatch, ok := findAction(actions, ActionDispatch)
	if !ok {
		t.Fatal("expected dispatch")
	}
	if dispatch.Text != "find organic whole milk" {
		t.Errorf("expected joined segments, got %q", dispatch.Text)
	}
}

func TestLowConfidenceIgnored(t *testing.T) {
	c := testCoordinator()
	now := time.Now()

	c.OnTranscript(finalEvent("mumble mumble", 0.1), now)
	if actions := c.OnTranscript(speech.TranscriptEvent{IsEndpoint: true}, now); len(actions) != 0 {
		t.Errorf("expected nothing dispatched below confidence floor, got %v", actions)
	}
	if actions := c.OnTick(now.Add(2 * time.Second)); len(actions) != 0 {
		t.Errorf("expected nothing dispatched on tick, got %v", actions)
	}
}

func TestInterimResultsIgnored(t *testing.T) {
	c := testCoordinator()
	now := time.Now()

	c.OnTranscript(speech.TranscriptEvent{Text: "find org", Confidence: 0.8}, now)
	if actions := c.OnTranscript(speech.TranscriptEvent{IsEndpoint: true}, now); len(actions) != 0 {
		t.Errorf("interim text dispatched: %v", actions)
	}
}

func TestDedupSuppressesRepeat(t *testing.T) {
	c := testCoordinator()
	now := time.Now()

	runTurn := func(at time.Time) []Action {
		c.OnTranscript(finalEvent("find milk", 0.9), at)
		actions := c.OnTranscript(speech.TranscriptEvent{IsEndpoint: true}, at)
		if d, ok := findAction(actions, ActionDispatch); ok {
			c.OnQueryOutcome(d.DispatchID, "here you go", nil, at)
			c.OnSynthesisDone(at)
		}
		return actions
	}

	if _, ok := findAction(runTurn(now), ActionDispatch); !ok {
		t.Fatal("first utterance should dispatch")
	}

	actions := runTurn(now.Add(time.Second))
	if _, ok := findAction(actions, ActionDispatch); ok {
		t.Error("repeat inside dedup window should be suppressed")
	}
	if _, ok := findAction(actions, ActionDedupSuppressed); !ok {
		t.Error("expected dedup suppression action")
	}

	if _, ok := findAction(runTurn(now.Add(5*time.Second)), ActionDispatch); !ok {
		t.Error("repeat outside dedup window should dispatch")
	}
}

func TestQueryOutcomeSpeaksReply(t *testing.T) {
	c := testCoordinator()
	now := time.Now()

	c.OnTranscript(finalEvent("find milk", 0.9), now)
	actions := c.OnTranscript(speech.TranscriptEvent{IsEndpoint: true}, now)
	d, _ := findAction(actions, ActionDispatch)

	actions = c.OnQueryOutcome(d.DispatchID, "We have organic milk in aisle 3.", nil, now)
	speak, ok := findAction(actions, ActionSpeak)
	if !ok {
		t.Fatal("expected speak action on success")
	}
	if speak.Text != "We have organic milk in aisle 3." {
		t.Errorf("unexpected reply: %q", speak.Text)
	}
	if c.State() != StateSpeaking {
		t.Errorf("expected speaking state, got %v", c.State())
	}

	c.OnSynthesisDone(now)
	if c.State() != StateListening {
		t.Errorf("expected listening after playback, got %v", c.State())
	}
}

func TestQueryFailureSpeaksApology(t *testing.T) {
	c := testCoordinator()
	now := time.Now()

	c.OnTranscript(finalEvent("find milk", 0.9), now)
	actions := c.OnTranscript(speech.TranscriptEvent{IsEndpoint: true}, now)
	d, _ := findAction(actions, ActionDispatch)

	actions = c.OnQueryOutcome(d.DispatchID, "", errors.New("agent timeout"), now)
	speak, ok := findAction(actions, ActionSpeak)
	if !ok {
		t.Fatal("expected speak action on failure")
	}
	if speak.Text != ApologyText {
		t.Errorf("expected apology, got %q", speak.Text)
	}
}

func TestStaleOutcomeIgnored(t *testing.T) {
	c := testCoordinator()
	now := time.Now()

	c.OnTranscript(finalEvent("find milk", 0.9), now)
	c.OnTranscript(speech.TranscriptEvent{IsEndpoint: true}, now)

	if actions := c.OnQueryOutcome("d-bogus", "late reply", nil, now); len(actions) != 0 {
		t.Errorf("stale dispatch ID produced actions: %v", actions)
	}
	if c.State() != StateDispatching {
		t.Errorf("state changed on stale outcome: %v", c.State())
	}
}

func TestBargeInCancelsSynthesis(t *testing.T) {
	c := testCoordinator()
	now := time.Now()

	c.OnTranscript(finalEvent("find milk", 0.9), now)
	actions := c.OnTranscript(speech.TranscriptEvent{IsEndpoint: true}, now)
	d, _ := findAction(actions, ActionDispatch)
	c.OnQueryOutcome(d.DispatchID, "We have milk.", nil, now)

	actions = c.OnBargeIn(now.Add(100 * time.Millisecond))
	if _, ok := findAction(actions, ActionCancelSynthesis); !ok {
		t.Fatal("expected synthesis cancelled on barge-in")
	}
	if c.State() != StateListening {
		t.Errorf("expected listening after barge-in, got %v", c.State())
	}

	// Follow-up speech dispatches a fresh turn.
	c.OnTranscript(finalEvent("actually add eggs", 0.9), now.Add(500*time.Millisecond))
	actions = c.OnTranscript(speech.TranscriptEvent{IsEndpoint: true}, now.Add(600*time.Millisecond))
	if _, ok := findAction(actions, ActionDispatch); !ok {
		t.Error("expected dispatch of follow-up utterance")
	}
}

func TestInterimTextEntersListening(t *testing.T) {
	c := testCoordinator()

	actions := c.OnTranscript(speech.TranscriptEvent{Text: "find org", Confidence: 0.5}, time.Now())
	sc, ok := findAction(actions, ActionStateChanged)
	if !ok {
		t.Fatal("expected state change on first interim text")
	}
	if sc.State != StateListening {
		t.Errorf("expected listening, got %v", sc.State)
	}
	if c.State() != StateListening {
		t.Errorf("coordinator not listening, got %v", c.State())
	}

	// Only the first text event announces the transition.
	if actions := c.OnTranscript(speech.TranscriptEvent{Text: "find organic", Confidence: 0.5}, time.Now()); len(actions) != 0 {
		t.Errorf("repeat interim produced actions: %v", actions)
	}
}

func TestSpeechStartFromIdle(t *testing.T) {
	c := testCoordinator()
	actions := c.OnTranscript(speech.TranscriptEvent{IsSpeechStart: true}, time.Now())

	sc, ok := findAction(actions, ActionStateChanged)
	if !ok {
		t.Fatal("expected state change on first speech")
	}
	if sc.State != StateListening {
		t.Errorf("expected listening, got %v", sc.State)
	}
}
