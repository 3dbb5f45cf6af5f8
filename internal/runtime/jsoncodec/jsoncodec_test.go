package jsoncodec

import (
	"bytes"
	"strings"
	"testing"
)

type testPayload struct {
	ID    int    `json:"id"`
	Topic string `json:"topic"`
}

func TestMarshalAndUnmarshal(t *testing.T) {
	in := testPayload{ID: 42, Topic: "orders.created"}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var out testPayload
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if out != in {
		t.Fatalf("expected round trip to match, got %#v", out)
	}

	var fromText testPayload
	if err := UnmarshalString(string(data), &fromText); err != nil {
		t.Fatalf("unmarshal string failed: %v", err)
	}
	if fromText != in {
		t.Fatalf("expected string round trip to match, got %#v", fromText)
	}

	indented, err := MarshalIndent(in, "", "  ")
	if err != nil {
		t.Fatalf("marshal indent failed: %v", err)
	}
	if !strings.Contains(string(indented), "\n  \"id\"") {
		t.Fatalf("expected indented output, got %s", string(indented))
	}
}

func TestValid(t *testing.T) {
	if !Valid([]byte(`{"id":1}`)) {
		t.Fatal("expected object to be valid")
	}
	if Valid([]byte(`{"id":`)) {
		t.Fatal("expected truncated document to be invalid")
	}
}

func TestEncodeAndDecode(t *testing.T) {
	buf := &bytes.Buffer{}
	payload := testPayload{ID: 7, Topic: "stream"}

	if err := Encode(buf, payload); err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	var decoded testPayload
	if err := Decode(buf, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != payload {
		t.Fatalf("expected decoded payload to match, got %#v", decoded)
	}
}
