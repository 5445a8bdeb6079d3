package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNegotiateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/realtime/sessions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		var req NegotiateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "speech-1" {
			t.Errorf("model = %q", req.Model)
		}
		json.NewEncoder(w).Encode(Grant{
			SessionID:    "sess_abc",
			ClientSecret: "eph_123",
		})
	}))
	defer srv.Close()

	n := &Negotiator{BaseURL: srv.URL, APIKey: "sk-test"}
	grant, err := n.Negotiate(context.Background(), NegotiateRequest{Model: "speech-1"})
	if err != nil {
		t.Fatalf("negotiate: %v", err)
	}
	if grant.SessionID != "sess_abc" || grant.ClientSecret != "eph_123" {
		t.Fatalf("grant = %+v", grant)
	}
}

func TestNegotiateValidation(t *testing.T) {
	n := &Negotiator{BaseURL: "http://unused", APIKey: ""}
	if _, err := n.Negotiate(context.Background(), NegotiateRequest{Model: "m"}); err == nil {
		t.Fatal("expected error for missing API key")
	}

	n = &Negotiator{BaseURL: "http://unused", APIKey: "sk"}
	if _, err := n.Negotiate(context.Background(), NegotiateRequest{}); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestNegotiateStructuredServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"invalid_api_key","message":"bad key"}}`))
	}))
	defer srv.Close()

	n := &Negotiator{BaseURL: srv.URL, APIKey: "sk-bad"}
	_, err := n.Negotiate(context.Background(), NegotiateRequest{Model: "speech-1"})
	var negErr *NegotiateError
	if !errors.As(err, &negErr) {
		t.Fatalf("expected *NegotiateError, got %v", err)
	}
	if negErr.Status != http.StatusUnauthorized || negErr.Code != "invalid_api_key" {
		t.Fatalf("error = %+v", negErr)
	}
}

func TestNegotiateRejectsIncompleteGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Grant{SessionID: "sess_abc"}) // no secret
	}))
	defer srv.Close()

	n := &Negotiator{BaseURL: srv.URL, APIKey: "sk"}
	if _, err := n.Negotiate(context.Background(), NegotiateRequest{Model: "m"}); err == nil {
		t.Fatal("expected error for grant without a client secret")
	}
}
