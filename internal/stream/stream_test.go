package stream

import (
	"net"
	"testing"
	"time"
)

func pipePair() (*Stream, *Stream) {
	a, b := net.Pipe()
	return New(a), New(b)
}

func TestReadUntilDelim(t *testing.T) {
	a, b := pipePair()
	defer a.Close()
	defer b.Close()

	go func() {
		a.Write([]byte("hello;world"))
		a.Close()
	}()

	got, err := b.ReadUntil(';')
	if err != nil {
		t.Fatalf("ReadUntil failed: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}

	rest, err := b.ReadUntil(';')
	if err == nil {
		t.Fatalf("expected ErrNoData on EOF before a further delimiter, got data %q", rest)
	}
	if string(rest) != "world" {
		t.Fatalf("got %q, want leftover %q", rest, "world")
	}
}

func TestPushBack(t *testing.T) {
	a, b := pipePair()
	defer a.Close()
	defer b.Close()

	b.PushBack([]byte("peeked-"))
	go a.Write([]byte("live"))

	buf := make([]byte, 32)
	n, err := b.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "peeked-" {
		t.Fatalf("got %q, want pushed-back bytes first", buf[:n])
	}
}

func TestCloseIdempotent(t *testing.T) {
	a, _ := pipePair()
	if err := a.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got: %v", err)
	}
	if _, err := a.Write([]byte("x")); err != nil {
		t.Fatalf("write after close should fail silently, got error: %v", err)
	}
}

func TestSpliceFidelity(t *testing.T) {
	extA, intA := pipePair() // external-facing pair
	extB, intB := pipePair() // internal dial-back pair

	go Splice(intA, intB)

	done := make(chan struct{})
	go func() {
		defer close(done)
		extA.Write([]byte("payload"))
		buf := make([]byte, 32)
		n, _ := extA.Read(buf)
		if string(buf[:n]) != "echo" {
			t.Errorf("got %q, want echo", buf[:n])
		}
	}()

	buf := make([]byte, 32)
	n, err := extB.Read(buf)
	if err != nil {
		t.Fatalf("extB read failed: %v", err)
	}
	if string(buf[:n]) != "payload" {
		t.Fatalf("got %q, want payload", buf[:n])
	}
	extB.Write([]byte("echo"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("splice did not deliver echo in time")
	}
}
