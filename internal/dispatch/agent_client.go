package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/adeetya02/leafloaf-voice-gateway/internal/config"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/observability"
	"github.com/adeetya02/leafloaf-voice-gateway/internal/resilience"
)

// agentRequest is the JSON payload sent to the query subsystem.
type agentRequest struct {
	Utterance           string         `json:"utterance"`
	DispatchID          string         `json:"dispatch_id"`
	SessionID           string         `json:"session_id"`
	UserID              string         `json:"user_id,omitempty"`
	ConversationHistory []HistoryEntry `json:"conversation_history,omitempty"`
}

// agentResponse is the JSON payload the query subsystem returns.
type agentResponse struct {
	ReplyText         string          `json:"reply_text"`
	StructuredPayload json.RawMessage `json:"structured_payload,omitempty"`
	Error             string          `json:"error,omitempty"`
}

// AgentClient dispatches utterances to the agent subsystem over HTTP.
type AgentClient struct {
	url            string
	httpClient     *http.Client
	retryConfig    *resilience.RetryConfig
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewAgentClient creates a dispatcher backed by the configured agent
// endpoint.
func NewAgentClient(cfg *config.Config) *AgentClient {
	return &AgentClient{
		url: cfg.AgentURL,
		httpClient: &http.Client{
			Timeout: cfg.AgentTimeout(),
		},
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        time.Second,
			BackoffMultiplier: 2.0,
		},
		circuitBreaker: resilience.NewCircuitBreaker(
			"agent",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: observability.GetLogger().With().Str("component", "agent").Logger(),
	}
}

// Dispatch sends one utterance and returns its reply. The ctx deadline is
// the hard dispatch timeout; transient transport faults are retried
// within it.
func (c *AgentClient) Dispatch(ctx context.Context, utterance, dispatchID string, sctx SessionContext) (Result, error) {
	reqBody, err := json.Marshal(agentRequest{
		Utterance:           utterance,
		DispatchID:          dispatchID,
		SessionID:           sctx.SessionID,
		UserID:              sctx.UserID,
		ConversationHistory: sctx.History,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal dispatch request: %w", err)
	}

	var result Result
	err = c.circuitBreaker.Call(func() error {
		return resilience.Retry(ctx, func() error {
			var callErr error
			result, callErr = c.call(ctx, reqBody)
			return callErr
		}, c.retryConfig, resilience.IsRetryableNetworkError)
	})

	observability.UpdateCircuitBreakerState("agent", int(c.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("agent")
		return Result{}, err
	}

	return result, nil
}

func (c *AgentClient) call(ctx context.Context, reqBody []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		return Result{}, fmt.Errorf("agent returned status %d", resp.StatusCode)
	}

	var agentResp agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&agentResp); err != nil {
		return Result{}, fmt.Errorf("failed to decode agent response: %w", err)
	}

	if agentResp.Error != "" {
		return Result{}, fmt.Errorf("agent error: %s", agentResp.Error)
	}

	return Result{
		ReplyText:         agentResp.ReplyText,
		StructuredPayload: agentResp.StructuredPayload,
	}, nil
}

// HealthCheck probes the agent endpoint. Any HTTP response counts as
// reachable; the agent's own readiness is its business.
func (c *AgentClient) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("agent unreachable: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true, nil
}
