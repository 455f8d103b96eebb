package resource

import (
	"crypto/sha256"
	"net"
	"testing"
	"time"

	"dtltunnel/internal/frame"
	"dtltunnel/internal/stream"
)

func newTestResource(kind Kind, connector, secret, salt string) *Resource {
	digest := sha256.Sum256([]byte(secret + salt))
	return New(kind, connector, digest, salt)
}

func pipePair(t *testing.T) (*stream.Stream, *stream.Stream) {
	t.Helper()
	a, b := net.Pipe()
	return stream.New(a), stream.New(b)
}

// The Bind tests below avoid starting a real public listener, since
// TCP/UDP resources in these tests use connectors that aren't meant to be
// bound to a real socket. Authentication and admit-list invariants don't
// depend on the listener, so HTTP resources (no listener of their own)
// are used for the control-plane tests.
func TestBindAuthSuccess(t *testing.T) {
	r := newTestResource(HTTP, "a.example", "pw", "salt")
	host, client := pipePair(t)
	defer host.Close()

	go r.Bind(frame.Frame{Command: frame.CommandAuthenticate, Type: "http", Resource: "a.example", Secret: "pw"}, host)

	reply, err := client.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if reply.Code != frame.CodeOK {
		t.Fatalf("got code %q, want OK", reply.Code)
	}
	if r.State() != Bound {
		t.Fatalf("expected resource to be Bound")
	}
}

func TestBindAuthFailure(t *testing.T) {
	r := newTestResource(HTTP, "a.example", "pw", "salt")
	host, client := pipePair(t)
	defer host.Close()
	defer client.Close()

	go r.Bind(frame.Frame{Command: frame.CommandAuthenticate, Type: "http", Resource: "a.example", Secret: "wrong"}, host)

	reply, err := client.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if reply.Code != frame.CodeAuthError {
		t.Fatalf("got code %q, want AUTHENTICATION_ERROR", reply.Code)
	}
	if r.State() != Free {
		t.Fatalf("expected resource to remain Free after auth failure")
	}
}

func TestOccupancyRejection(t *testing.T) {
	r := newTestResource(HTTP, "a.example", "pw", "salt")

	host1, client1 := pipePair(t)
	defer host1.Close()
	defer client1.Close()
	go r.Bind(frame.Frame{Command: frame.CommandAuthenticate, Type: "http", Resource: "a.example", Secret: "pw"}, host1)
	if reply, err := client1.ReadFrame(); err != nil || reply.Code != frame.CodeOK {
		t.Fatalf("first bind should succeed: %+v %v", reply, err)
	}

	// net.Pipe gives every pipe the same placeholder address, so both
	// binds would resolve to the same PeerIP. Overwrite the recorded
	// bindingIP so the second bind comes from a distinct remote peer.
	r.mu.Lock()
	r.bindingIP = "203.0.113.9" // simulate a distinct remote peer
	r.mu.Unlock()

	host2, client2 := pipePair(t)
	defer host2.Close()
	defer client2.Close()
	go r.Bind(frame.Frame{Command: frame.CommandAuthenticate, Type: "http", Resource: "a.example", Secret: "pw"}, host2)

	reply, err := client2.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if reply.Code != frame.CodeResourceOccupied {
		t.Fatalf("got code %q, want RESOURCE_OCCUPIED", reply.Code)
	}
}

func TestRebindTakeoverPreservesAdmitList(t *testing.T) {
	r := newTestResource(HTTP, "a.example", "pw", "salt")

	host1, client1 := pipePair(t)
	go r.Bind(frame.Frame{Command: frame.CommandAuthenticate, Type: "http", Resource: "a.example", Secret: "pw"}, host1)
	if reply, err := client1.ReadFrame(); err != nil || reply.Code != frame.CodeOK {
		t.Fatalf("first bind should succeed: %+v %v", reply, err)
	}

	r.mu.Lock()
	r.admitSecret = "code1"
	r.admitList["198.51.100.1"] = struct{}{}
	firstSession := r.sessionID
	r.mu.Unlock()

	// Same peer IP reconnects (net.Pipe gives identical peer identity).
	host2, client2 := pipePair(t)
	defer host2.Close()
	defer client2.Close()
	go r.Bind(frame.Frame{Command: frame.CommandAuthenticate, Type: "http", Resource: "a.example", Secret: "pw"}, host2)

	reply, err := client2.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if reply.Code != frame.CodeOK {
		t.Fatalf("same-peer rebind should succeed, got %q", reply.Code)
	}

	r.mu.Lock()
	_, stillPresent := r.admitList["198.51.100.1"]
	newSession := r.sessionID
	r.mu.Unlock()
	if !stillPresent {
		t.Fatalf("admit_list must survive a Bound->Bound take-over (I4)")
	}
	if newSession == firstSession {
		t.Fatalf("session_id must advance on every successful bind")
	}
}

func TestAuthorize(t *testing.T) {
	r := newTestResource(HTTP, "a.example", "pw", "salt")
	r.mu.Lock()
	r.admitSecret = "secretcode"
	r.mu.Unlock()

	if r.Authorize("1.2.3.4", "wrong") {
		t.Fatalf("expected authorize to fail with wrong code")
	}
	if !r.Authorize("1.2.3.4", "secretcode") {
		t.Fatalf("expected authorize to succeed with correct code")
	}
	r.mu.Lock()
	_, ok := r.admitList["1.2.3.4"]
	r.mu.Unlock()
	if !ok {
		t.Fatalf("expected ip to be added to admit list")
	}
}

func TestAuthorizeEmptySecretAlwaysFails(t *testing.T) {
	r := newTestResource(HTTP, "a.example", "pw", "salt")
	if r.Authorize("1.2.3.4", "") {
		t.Fatalf("authorize must fail when admit_secret is unset")
	}
}

func TestDialBackMissOnUnknownIdentifier(t *testing.T) {
	r := newTestResource(TCP, "7000", "pw", "salt")
	_, dial := pipePair(t)
	r.OnDialBack(frame.Frame{Identifier: "does-not-exist"}, dial)
	// dial should be closed; verify that a read returns empty (closed
	// stream contract).
	buf := make([]byte, 1)
	n, err := dial.Read(buf)
	if err != nil || n != 0 {
		t.Fatalf("expected empty read from closed stream, got n=%d err=%v", n, err)
	}
}

func TestAdmitExternalWhenFreeCloses(t *testing.T) {
	r := newTestResource(TCP, "7000", "pw", "salt")
	_, ext := pipePair(t)
	r.AdmitExternal(ext, nil)
	buf := make([]byte, 1)
	n, err := ext.Read(buf)
	if err != nil || n != 0 {
		t.Fatalf("expected closed stream when resource is Free, got n=%d err=%v", n, err)
	}
}

func TestAdmitIPResolution(t *testing.T) {
	_, s := pipePair(t)
	defer s.Close()

	headers := map[string]string{"x-forwarded-for": "203.0.113.5, 10.0.0.1"}
	if got := admitIP(s, headers); got != "203.0.113.5" {
		t.Fatalf("got %q, want first XFF token", got)
	}

	headers = map[string]string{"x-real-ip": "203.0.113.6"}
	if got := admitIP(s, headers); got != "203.0.113.6" {
		t.Fatalf("got %q, want x-real-ip fallback", got)
	}
}

func TestPoolRoundRobinFairness(t *testing.T) {
	r := newTestResource(UDP, "5005", "pw", "salt")
	var sent [3]int
	members := make([]*stream.Stream, 3)
	for i := range members {
		host, client := pipePair(t)
		members[i] = host
		idx := i
		go func() {
			for {
				f, err := client.ReadFrame()
				if err != nil {
					return
				}
				if f.Type == frame.TypeNewMessage {
					sent[idx]++
				}
			}
		}()
	}
	r.mu.Lock()
	r.pool = members
	r.mu.Unlock()

	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 40000}
	const n = 30
	for i := 0; i < n; i++ {
		r.onDatagram([]byte("payload"), addr)
	}
	time.Sleep(100 * time.Millisecond)

	total := sent[0] + sent[1] + sent[2]
	if total != n {
		t.Fatalf("expected %d datagrams delivered, got %d (%v)", n, total, sent)
	}
	for _, c := range sent {
		if c < n/3-1 || c > n/3+1 {
			t.Fatalf("round robin not fair: %v", sent)
		}
	}
}
