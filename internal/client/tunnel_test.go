package client

import (
	"context"
	"net"
	"testing"
	"time"

	"dtltunnel/internal/conf"
	"dtltunnel/internal/frame"
	"dtltunnel/internal/stream"
)

func TestListenLoopRepliesPong(t *testing.T) {
	a, b := net.Pipe()
	control, remote := stream.New(a), stream.New(b)
	defer remote.Close()

	tun := New(&conf.ClientConf{AppType: "tcp"})
	tun.control = control

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go tun.listenLoop(ctx, control)

	if err := remote.WriteFrame(frame.Frame{Type: frame.TypePing}); err != nil {
		t.Fatalf("write ping failed: %v", err)
	}

	reply, err := remote.ReadFrame()
	if err != nil {
		t.Fatalf("expected a pong reply: %v", err)
	}
	if reply.Type != frame.TypePong {
		t.Fatalf("got %+v, want pong", reply)
	}
}

func TestWatchdogTripsOnStaleness(t *testing.T) {
	a, b := net.Pipe()
	control := stream.New(a)
	remote := stream.New(b)
	defer remote.Close()

	tun := New(&conf.ClientConf{})
	tun.control = control
	tun.lastInbound = time.Now().Add(-2 * WatchdogTimeout)

	stop := make(chan struct{})
	defer close(stop)
	go tun.watchdog(stop)

	buf := make([]byte, 1)
	done := make(chan struct{})
	go func() {
		remote.Read(buf) // blocks until peer closes
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected watchdog to close the stale control connection promptly")
	}
}

func TestNextPoolMemberRoundRobin(t *testing.T) {
	tun := New(&conf.ClientConf{})
	var members []*stream.Stream
	for i := 0; i < 3; i++ {
		a, _ := net.Pipe()
		members = append(members, stream.New(a))
	}
	tun.pool = members

	counts := map[*stream.Stream]int{}
	for i := 0; i < 30; i++ {
		counts[tun.nextPoolMember()]++
	}
	for _, m := range members {
		if counts[m] != 10 {
			t.Fatalf("expected perfectly even round robin over fixed pool, got %v", counts)
		}
	}
}
