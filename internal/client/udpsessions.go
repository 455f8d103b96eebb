package client

import (
	"net"
	"strconv"
	"sync"
	"time"
)

// udpRotateInterval is the wall-clock tick at which the session wheel
// rotates one slot (spec §4.9).
const udpRotateInterval = 180 * time.Second

// udpSession pairs a remote (ip, port) with an ephemeral local socket
// dialed to the Client's local application (spec §3 UDPSession).
type udpSession struct {
	remoteHost string
	remotePort int
	conn       *net.UDPConn
	lastUsed   time.Time
}

// udpSessions is the Client-side 3-generation LRU of spec §3/§4.9/§9:
// current/staged/closed, rotating one slot per tick; get promotes an
// older generation into current, re-opening nothing (the socket is kept
// alive across generations until it falls out of closed).
type udpSessions struct {
	mu      sync.Mutex
	current map[string]*udpSession
	staged  map[string]*udpSession
	closed  map[string]*udpSession

	localAddr string // the Client's local app address, dialed per session
}

func newUDPSessions(localAddr string) *udpSessions {
	return &udpSessions{
		current:   make(map[string]*udpSession),
		staged:    make(map[string]*udpSession),
		closed:    make(map[string]*udpSession),
		localAddr: localAddr,
	}
}

// get returns the session for (host, port), promoting it from staged or
// closed into current, or opening a fresh ephemeral local socket if no
// entry exists anywhere (spec §3 UDPSession.get).
func (u *udpSessions) get(host string, port int, onReply func(sess *udpSession, payload []byte)) (*udpSession, error) {
	key := host + "|" + strconv.Itoa(port)

	u.mu.Lock()
	if s, ok := u.current[key]; ok {
		s.lastUsed = time.Now()
		u.mu.Unlock()
		return s, nil
	}
	if s, ok := u.staged[key]; ok {
		delete(u.staged, key)
		s.lastUsed = time.Now()
		u.current[key] = s
		u.mu.Unlock()
		return s, nil
	}
	if s, ok := u.closed[key]; ok {
		delete(u.closed, key)
		s.lastUsed = time.Now()
		u.current[key] = s
		u.mu.Unlock()
		return s, nil
	}
	u.mu.Unlock()

	conn, err := net.DialUDP("udp", nil, mustResolveUDP(u.localAddr))
	if err != nil {
		return nil, err
	}
	s := &udpSession{remoteHost: host, remotePort: port, conn: conn, lastUsed: time.Now()}

	u.mu.Lock()
	u.current[key] = s
	u.mu.Unlock()

	go s.receiveLoop(onReply)
	return s, nil
}

func (s *udpSession) send(payload []byte) error {
	_, err := s.conn.Write(payload)
	return err
}

// receiveLoop reads reply datagrams from the local app and hands them to
// onReply, which frames them back to the Host over a pool member.
func (s *udpSession) receiveLoop(onReply func(sess *udpSession, payload []byte)) {
	buf := make([]byte, 64*1024)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		onReply(s, payload)
	}
}

// rotate advances the generation wheel: current becomes staged, staged
// becomes closed (sockets still open, so get can promote them), and the
// previous closed generation is dropped with its sockets closed.
func (u *udpSessions) rotate() {
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, s := range u.closed {
		s.conn.Close()
	}
	u.closed = u.staged
	u.staged = u.current
	u.current = make(map[string]*udpSession)
}

// run ticks rotate every udpRotateInterval until ctx stop channel closes.
func (u *udpSessions) run(stop <-chan struct{}) {
	ticker := time.NewTicker(udpRotateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			u.rotate()
		}
	}
}

func (u *udpSessions) closeAll() {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, m := range []map[string]*udpSession{u.current, u.staged, u.closed} {
		for _, s := range m {
			s.conn.Close()
		}
	}
}

func mustResolveUDP(addr string) *net.UDPAddr {
	a, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return &net.UDPAddr{}
	}
	return a
}
