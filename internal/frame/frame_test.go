package frame

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		{Command: CommandAuthenticate, Type: TypeTCP, Resource: "7000", Secret: "pw"},
		{Code: CodeOK, Message: "bound"},
		{Type: TypePing},
		{Command: CommandNewRequest, Identifier: "abc.123"},
		{Type: TypeNewMessage, SourceHost: "1.2.3.4", SourcePort: 5005, Payload: "deadbeef"},
	}

	for i, c := range cases {
		enc, err := Encode(c)
		if err != nil {
			t.Fatalf("case %d: Encode failed: %v", i, err)
		}
		got, err := Decode(enc)
		if err != nil {
			t.Fatalf("case %d: Decode failed: %v", i, err)
		}
		if got != c {
			t.Fatalf("case %d: round trip mismatch: got %+v want %+v", i, got, c)
		}
	}
}

func TestMarshalAppendsDelim(t *testing.T) {
	wire, err := Marshal(Frame{Type: TypePing})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if len(wire) == 0 || wire[len(wire)-1] != Delim {
		t.Fatalf("expected wire bytes to end with delimiter, got %q", wire)
	}
	body := wire[:len(wire)-1]
	got, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode of marshaled body failed: %v", err)
	}
	if got.Type != TypePing {
		t.Fatalf("got %+v, want Type=ping", got)
	}
}

func TestDecodeInvalidBase64(t *testing.T) {
	if _, err := Decode([]byte("not-valid-base64!!!")); err == nil {
		t.Fatalf("expected decode error for invalid base64")
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	// valid base64, but decodes to non-JSON bytes
	if _, err := Decode([]byte("bm90IGpzb24=")); err == nil {
		t.Fatalf("expected decode error for non-JSON payload")
	}
}
