package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/config"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/dispatch"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/observability"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/speech/providers"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate origin once the client app's domains are fixed
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Manager tracks live sessions and accepts new ones.
type Manager struct {
	cfg        *config.Config
	dispatcher dispatch.Dispatcher

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(cfg *config.Config, dispatcher dispatch.Dispatcher) *Manager {
	return &Manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		sessions:   make(map[string]*Session),
	}
}

// HandleVoiceWS upgrades the request to a WebSocket and runs a session
// on it until the conversation ends.
func (m *Manager) HandleVoiceWS() http.HandlerFunc {
	logger := observability.GetLogger().With().Str("component", "session_manager").Logger()

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("WebSocket upgrade failed")
			http.Error(w, "Failed to upgrade to WebSocket", http.StatusBadRequest)
			return
		}

		recognizer, err := providers.NewRecognizer(m.cfg)
		if err != nil {
			logger.Error().Err(err).Msg("Recognizer init failed")
			conn.Close()
			return
		}
		synthesizer, err := providers.NewSynthesizer(m.cfg)
		if err != nil {
			logger.Error().Err(err).Msg("Synthesizer init failed")
			conn.Close()
			return
		}

		sess := NewSession(conn, recognizer, synthesizer, m.dispatcher, m.cfg)
		m.register(sess)
		defer m.unregister(sess)

		if err := sess.Run(r.Context()); err != nil {
			logger.Warn().Err(err).Str("session_id", sess.ID()).Msg("Session ended with error")
		}
	}
}

// ActiveSessions returns the number of live sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops every live session and waits for them to unregister or
// for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	for _, sess := range m.sessions {
		sess.Stop()
	}
	m.mu.Unlock()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.ActiveSessions() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) register(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID()] = sess
}

func (m *Manager) unregister(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sess.ID())
}
