package server

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/visage-live/visage/pkg/coordinator/apierror"
	"github.com/visage-live/visage/pkg/coordinator/config"
)

func testConfig() config.Config {
	return config.Config{
		Addr:               ":0",
		SpeechAPIKey:       "sk-test",
		SpeechBaseURL:      "http://127.0.0.1:0",
		SpeechWSURL:        "ws://127.0.0.1:0",
		Transport:          config.TransportWebSocket,
		Model:              "test-realtime",
		SSEPingInterval:    10 * time.Millisecond,
		ClientBuffer:       8,
		MaxBodyBytes:       1 << 20,
		MetricsNamespace:   "visage_test",
		CORSAllowedOrigins: map[string]struct{}{},
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(cfg, logger)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func TestHealthzReportsOK(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Request-ID"); got == "" {
		t.Fatal("request id middleware missing")
	}
}

func TestHealthzSurfacesConfigProblems(t *testing.T) {
	cfg := testConfig()
	cfg.SpeechAPIKey = ""
	cfg.Model = ""
	_, ts := newTestServer(t, cfg)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var body struct {
		OK     bool     `json:"ok"`
		Issues []string `json:"issues"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.OK || len(body.Issues) != 2 {
		t.Fatalf("body = %+v", body)
	}
}

func TestSessionMessageRejectedWhileUnconfigured(t *testing.T) {
	cfg := testConfig()
	cfg.SpeechAPIKey = ""
	_, ts := newTestServer(t, cfg)

	resp, err := http.Post(ts.URL+"/session/message", "application/json",
		strings.NewReader(`{"session_id":"alpha","type":"text","text":"hi"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	var env apierror.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error == nil || env.Error.Code != "configuration_incomplete" {
		t.Fatalf("error = %+v", env.Error)
	}
}

func TestTextMessageFallsBackWithoutTransport(t *testing.T) {
	// No speech service is reachable, so the turn must report fallback
	// delivery rather than hang or error.
	_, ts := newTestServer(t, testConfig())

	resp, err := http.Post(ts.URL+"/session/message", "application/json",
		strings.NewReader(`{"session_id":"alpha","type":"text","text":"hello"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Delivered bool   `json:"delivered"`
		Via       string `json:"via"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Delivered || body.Via != "fallback" {
		t.Fatalf("body = %+v", body)
	}
}

func TestMessageValidation(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	for _, tc := range []struct {
		name string
		body string
	}{
		{"missing session id", `{"type":"text","text":"hi"}`},
		{"missing text", `{"session_id":"a","type":"text"}`},
		{"bad type", `{"session_id":"a","type":"carrier_pigeon"}`},
		{"bad control", `{"session_id":"a","type":"control","control":"reboot"}`},
		{"unknown field", `{"session_id":"a","type":"text","text":"hi","extra":1}`},
	} {
		resp, err := http.Post(ts.URL+"/session/message", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("%s: post: %v", tc.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, resp.StatusCode)
		}
	}
}

func TestExternalContextRoundTrip(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := http.Post(ts.URL+"/external-context", "application/json",
		strings.NewReader(`{"sessionId":"alpha","text":"scene: kitchen"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var status struct {
		HasContext bool `json:"has_context"`
		Injected   bool `json:"injected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Stored, but not injected: the transport is down.
	if !status.HasContext || status.Injected {
		t.Fatalf("status = %+v", status)
	}

	check, err := http.Get(ts.URL + "/external-context/status?sessionId=alpha")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer check.Body.Close()
	if err := json.NewDecoder(check.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.HasContext {
		t.Fatal("stored context not visible on the status endpoint")
	}
}

func TestEventStreamReceivesPublishedEvents(t *testing.T) {
	s, ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/session/events?session_id=alpha")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if strings.HasPrefix(line, "event: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "event: "))
			}
		}
	}

	if evt := readEvent(); evt != "stream.connected" {
		t.Fatalf("first event = %q", evt)
	}

	s.Hub().Publish("alpha", "turn.state", map[string]string{"to": "listening"})
	if evt := readEvent(); evt != "turn.state" {
		t.Fatalf("second event = %q", evt)
	}
}

func TestDrainGuardRefusesSessionEndpoints(t *testing.T) {
	s, ts := newTestServer(t, testConfig())
	s.SetDraining()

	resp, err := http.Post(ts.URL+"/session/message", "application/json",
		strings.NewReader(`{"session_id":"a","type":"text","text":"hi"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}

	// Health stays reachable for the load balancer during drain.
	health, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("healthz during drain = %d", health.StatusCode)
	}
}

func TestUnknownRouteReturnsStructured404(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var env apierror.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error == nil || env.Error.Type != apierror.ErrNotFound {
		t.Fatalf("error = %+v", env.Error)
	}
}
