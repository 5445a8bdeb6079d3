package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NegotiateRequest describes the session this client wants the speech service
// to open.
type NegotiateRequest struct {
	Model              string         `json:"model"`
	Voice              string         `json:"voice,omitempty"`
	InputAudioFormat   string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat  string         `json:"output_audio_format,omitempty"`
	TranscriptionModel string         `json:"transcription_model,omitempty"`
	Instructions       string         `json:"instructions,omitempty"`
	TurnDetection      *TurnDetection `json:"turn_detection,omitempty"`
}

// Grant is the outcome of a successful negotiation. The client secret is an
// ephemeral credential used only to open the realtime transport; it is never
// handed to a browser as a long-lived key.
type Grant struct {
	SessionID    string    `json:"session_id"`
	ClientSecret string    `json:"client_secret"`
	ExpiresAt    time.Time `json:"expires_at"`
	Model        string    `json:"model,omitempty"`
}

// NegotiateError is a structured failure from the negotiation endpoint.
type NegotiateError struct {
	Status  int
	Code    string
	Message string
}

func (e *NegotiateError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("negotiate: %s (%s, status %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("negotiate: %s (status %d)", e.Message, e.Status)
}

// Negotiator requests sessions from the speech service.
type Negotiator struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Negotiate requests one session. The API key stays server-side; only the
// returned ephemeral grant travels onward.
func (n *Negotiator) Negotiate(ctx context.Context, req NegotiateRequest) (*Grant, error) {
	if strings.TrimSpace(n.APIKey) == "" {
		return nil, fmt.Errorf("negotiate: missing API key")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("negotiate: missing model")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("negotiate: marshal request: %w", err)
	}

	base := strings.TrimSuffix(n.BaseURL, "/")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("negotiate: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+n.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	client := n.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("negotiate: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("negotiate: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var wire struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(payload, &wire)
		msg := wire.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(payload))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &NegotiateError{Status: resp.StatusCode, Code: wire.Error.Code, Message: msg}
	}

	var grant Grant
	if err := json.Unmarshal(payload, &grant); err != nil {
		return nil, fmt.Errorf("negotiate: decode response: %w", err)
	}
	if grant.SessionID == "" || grant.ClientSecret == "" {
		return nil, fmt.Errorf("negotiate: response missing session id or client secret")
	}
	return &grant, nil
}
