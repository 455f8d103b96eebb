package authorizer

import (
	"crypto/sha256"
	"net"
	"testing"

	"dtltunnel/internal/frame"
	"dtltunnel/internal/resource"
	"dtltunnel/internal/stream"
)

func bindResource(t *testing.T, r *resource.Resource, secret string) {
	t.Helper()
	a, b := net.Pipe()
	host, client := stream.New(a), stream.New(b)
	t.Cleanup(func() { client.Close() })
	go r.Bind(frame.Frame{Command: frame.CommandAuthenticate, Type: string(r.Kind), Resource: r.Connector, Secret: secret, Auth: "admitcode"}, host)
	if _, err := client.ReadFrame(); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
}

func TestAuthorizeFlow(t *testing.T) {
	store := resource.NewStore()
	digest := sha256.Sum256([]byte("pw" + "salt"))
	r := resource.New(resource.HTTP, "a.example", digest, "salt")
	store.Add(r)
	bindResource(t, r, "pw")

	az := New(store)

	if got := az.Authorize("", "http", "a.example", "admitcode"); got != StatusInvalidIP {
		t.Fatalf("got %q, want %q", got, StatusInvalidIP)
	}
	if got := az.Authorize("1.2.3.4", "", "a.example", "admitcode"); got != StatusInvalidData {
		t.Fatalf("got %q, want %q", got, StatusInvalidData)
	}
	if got := az.Authorize("1.2.3.4", "http", "a.example", ""); got != StatusInvalidMessage {
		t.Fatalf("got %q, want %q", got, StatusInvalidMessage)
	}
	if got := az.Authorize("1.2.3.4", "http", "missing.example", "admitcode"); got != StatusInvalidData {
		t.Fatalf("got %q, want %q", got, StatusInvalidData)
	}
	if got := az.Authorize("1.2.3.4", "http", "a.example", "wrong"); got != StatusAccessBlocked {
		t.Fatalf("got %q, want %q", got, StatusAccessBlocked)
	}
	if got := az.Authorize("1.2.3.4", "http", "a.example", "admitcode"); got != StatusAccessProvided {
		t.Fatalf("got %q, want %q", got, StatusAccessProvided)
	}
}
