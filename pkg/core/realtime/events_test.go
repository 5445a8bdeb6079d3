package realtime

import (
	"encoding/json"
	"testing"
)

func TestDecodeEventKnownTypes(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"type":"session.created","session_id":"sess_1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	created, ok := evt.(*SessionCreatedEvent)
	if !ok {
		t.Fatalf("decoded %T, want *SessionCreatedEvent", evt)
	}
	if created.SessionID != "sess_1" {
		t.Fatalf("session id = %q", created.SessionID)
	}

	evt, err = DecodeEvent([]byte(`{"type":"response.output_text.delta","response_id":"r1","delta":"hi"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	delta, ok := evt.(*ResponseTextDeltaEvent)
	if !ok {
		t.Fatalf("decoded %T, want *ResponseTextDeltaEvent", evt)
	}
	if delta.Delta != "hi" || delta.ResponseID != "r1" {
		t.Fatalf("delta = %+v", delta)
	}

	evt, err = DecodeEvent([]byte(`{"type":"error","code":"rate_limited","message":"slow down"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e := evt.(*ErrorEvent); e.Code != "rate_limited" {
		t.Fatalf("error code = %q", e.Code)
	}
}

func TestDecodeEventUnknownTypePassesThrough(t *testing.T) {
	raw := []byte(`{"type":"rate_limits.updated","limits":[]}`)
	evt, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("unknown types must not error: %v", err)
	}
	unknown, ok := evt.(*UnknownEvent)
	if !ok {
		t.Fatalf("decoded %T, want *UnknownEvent", evt)
	}
	if unknown.EventType() != "rate_limits.updated" {
		t.Fatalf("type = %q", unknown.EventType())
	}
	if string(unknown.Raw) != string(raw) {
		t.Fatal("raw payload must be preserved")
	}
}

func TestDecodeEventRejectsMissingType(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"delta":"hi"}`)); err == nil {
		t.Fatal("expected error for frame without a type")
	}
	if _, err := DecodeEvent([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestEncodeCommandSplicesType(t *testing.T) {
	data, err := EncodeCommand(&ItemCreateCommand{ItemID: "i1", Role: "user", Text: "hello"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame["type"] != "conversation.item.create" {
		t.Fatalf("type = %v", frame["type"])
	}
	if frame["item_id"] != "i1" || frame["role"] != "user" || frame["text"] != "hello" {
		t.Fatalf("frame = %v", frame)
	}
}

func TestEncodeSessionUpdateNullTurnDetection(t *testing.T) {
	// A nil detector must serialize as an explicit null so the service
	// disables auto-response rather than leaving it unchanged.
	data, err := EncodeCommand(&SessionUpdateCommand{TurnDetection: nil})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	raw, present := frame["turn_detection"]
	if !present {
		t.Fatal("turn_detection must be present")
	}
	if string(raw) != "null" {
		t.Fatalf("turn_detection = %s, want null", raw)
	}
}

func TestEncodeSessionUpdateCreateResponseAlwaysExplicit(t *testing.T) {
	data, err := EncodeCommand(&SessionUpdateCommand{
		TurnDetection: &TurnDetection{Type: "server_vad", CreateResponse: false},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var frame struct {
		TurnDetection map[string]json.RawMessage `json:"turn_detection"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	raw, present := frame.TurnDetection["create_response"]
	if !present || string(raw) != "false" {
		t.Fatalf("create_response = %s, want explicit false", raw)
	}
}

func TestDecodeEncodeRoundTripType(t *testing.T) {
	for _, cmd := range []Command{
		&SessionUpdateCommand{},
		&InputBufferClearCommand{},
		&ItemCreateCommand{Role: "user", Text: "x"},
		&ResponseCreateCommand{},
		&ResponseCancelCommand{},
	} {
		data, err := EncodeCommand(cmd)
		if err != nil {
			t.Fatalf("encode %s: %v", cmd.CommandType(), err)
		}
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal %s: %v", cmd.CommandType(), err)
		}
		if env.Type != cmd.CommandType() {
			t.Fatalf("wire type %q, want %q", env.Type, cmd.CommandType())
		}
	}
}
