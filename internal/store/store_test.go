package store

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryStoreGetMissing(t *testing.T) {
	s := NewMemoryStore()
	_, ok, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Fatalf("Get() ok = true for missing key")
	}
}

func TestMemoryStoreSetGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Set(ctx, "k", json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v, %v", got, ok, err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("Get() = %s", got)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	in := json.RawMessage(`{"a":1}`)
	if err := s.Set(ctx, "k", in); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	in[1] = 'X'

	got, _, _ := s.Get(ctx, "k")
	if string(got) != `{"a":1}` {
		t.Fatalf("stored value aliased caller buffer: %s", got)
	}
	got[1] = 'Y'
	again, _, _ := s.Get(ctx, "k")
	if string(again) != `{"a":1}` {
		t.Fatalf("returned value aliased stored buffer: %s", again)
	}
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "   ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("NewStore(blank) = %T, want *MemoryStore", s)
	}
}

func TestMode(t *testing.T) {
	if got := Mode(""); got != "in-memory" {
		t.Fatalf("Mode(\"\") = %q", got)
	}
	if got := Mode("postgres://localhost/tabnap"); got != "postgres" {
		t.Fatalf("Mode(url) = %q", got)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	type payload struct {
		N int `json:"n"`
	}
	raw, err := MarshalEnvelope(3, payload{N: 7})
	if err != nil {
		t.Fatalf("MarshalEnvelope() error = %v", err)
	}
	var out payload
	if !UnmarshalEnvelope(raw, 3, &out) {
		t.Fatalf("UnmarshalEnvelope() = false")
	}
	if out.N != 7 {
		t.Fatalf("payload = %+v", out)
	}
}

func TestEnvelopeReadsAsAbsent(t *testing.T) {
	var out struct{}
	cases := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"malformed", "{not json"},
		{"versionMismatch", `{"schemaVersion":2,"payload":{}}`},
		{"missingPayload", `{"schemaVersion":1}`},
		{"payloadTypeMismatch", `{"schemaVersion":1,"payload":"string"}`},
	}
	for _, tc := range cases {
		if UnmarshalEnvelope(json.RawMessage(tc.data), 1, &out) {
			t.Fatalf("%s: UnmarshalEnvelope() = true, want absent", tc.name)
		}
	}
}
