// Package resource implements the per-resource state machine of spec
// §4.5: it owns a single bound Client, authenticates it, keeps liveness
// via ping/pong, admits external callers, and multiplexes them onto new
// data connections (TCP/HTTP) or a round-robin UDP pool.
package resource

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dtltunnel/internal/flog"
	"dtltunnel/internal/frame"
	"dtltunnel/internal/listener"
	"dtltunnel/internal/registry"
	"dtltunnel/internal/stream"
)

// Defaults per spec §3/§4.5.
const (
	MaxPools        = 5
	PingInterval    = 15 * time.Second
	PingTimeout     = 60 * time.Second
	RequestTimeout  = 90 * time.Second
	udpRetryDelay   = 3 * time.Second
	udpRetryCount   = 3
	poolRegistryCap = 2 * MaxPools
)

// Kind is one of the three advertised resource types.
type Kind string

const (
	TCP  Kind = "tcp"
	HTTP Kind = "http"
	UDP  Kind = "udp"
)

// State mirrors spec §4.5's four named states. Authenticating and Closing
// are transient and only ever observed inside Bind/unbind; State reports
// the steady states.
type State int

const (
	Free State = iota
	Bound
)

// noopCloser is the placeholder installed in poolReg: add_pool has no
// stream of its own to park, only a promise that a bind frame with a
// matching identifier will arrive on a fresh connection.
type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// Resource is one advertised (kind, connector) endpoint owned by the Host.
type Resource struct {
	Kind      Kind
	Connector string // port string for tcp/udp, hostname for http

	digest [sha256.Size]byte
	salt   string

	mu          sync.Mutex
	open        bool
	binding     *stream.Stream
	bindingIP   string
	sessionID   string
	lastPong    time.Time
	admitSecret string
	admitList   map[string]struct{}

	reg     *registry.Registry // dispatch: identifier -> parked external Stream
	poolReg *registry.Registry // UDP pool staging, bounded 2*MaxPools

	pool       []*stream.Stream
	poolCursor uint64

	pub     publicListener
	udpSend func(*net.UDPAddr, []byte) error
}

type publicListener interface {
	Start() error
	Stop() error
}

// New constructs a free Resource whose secret_digest is sha256(secret+salt)
// read directly from configuration (spec §6 CSV column sha256hex).
func New(kind Kind, connector string, digest [sha256.Size]byte, salt string) *Resource {
	return &Resource{
		Kind:      kind,
		Connector: connector,
		digest:    digest,
		salt:      salt,
		admitList: make(map[string]struct{}),
		reg:       registry.New(),
		poolReg:   registry.NewBounded(poolRegistryCap),
	}
}

// State reports whether the Resource currently has a binding.
func (r *Resource) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open {
		return Bound
	}
	return Free
}

// Bind is the entry point for a Client's authenticate frame (spec §4.5).
func (r *Resource) Bind(f frame.Frame, s *stream.Stream) {
	peerIP := s.PeerIP()

	r.mu.Lock()
	wasFree := !r.open
	if r.open {
		if r.bindingIP != peerIP {
			r.mu.Unlock()
			s.WriteFrame(frame.Frame{Code: frame.CodeResourceOccupied, Message: "resource already bound"})
			s.Close()
			return
		}
		// Same-peer take-over: close the old binding before installing
		// the new one so this is atomic from the new Client's view.
		old := r.binding
		r.mu.Unlock()
		old.Close()
		r.mu.Lock()
	}

	sum := sha256.Sum256([]byte(f.Secret + r.salt))
	if sum != r.digest {
		r.mu.Unlock()
		s.WriteFrame(frame.Frame{Code: frame.CodeAuthError, Message: "secret mismatch"})
		s.Close()
		return
	}

	r.open = true
	r.binding = s
	r.bindingIP = peerIP
	r.lastPong = time.Now()
	r.sessionID = uuid.NewString()
	r.admitSecret = f.Auth
	if wasFree {
		r.admitList = make(map[string]struct{}) // I4: clear only on free->bound
		r.poolCursor = 0                         // open question #1: reset cursor on free->bound
	}
	r.mu.Unlock()

	if err := r.startPublicListener(); err != nil {
		flog.Errorf("resource %s:%s: failed to start public listener: %v", r.Kind, r.Connector, err)
		s.WriteFrame(frame.Frame{Code: frame.CodeAuthError, Message: "listener start failed"})
		s.Close()
		return
	}

	s.WriteFrame(frame.Frame{Code: frame.CodeOK, Message: "bound"})
	flog.Infof("resource bound%s", flog.F{"kind": r.Kind, "connector": r.Connector, "peer": peerIP, "session": r.sessionID})

	done := make(chan struct{})
	go func() { r.listenLoop(s); close(done) }()
	go r.pingLoop(s, done)
}

// startPublicListener starts the Resource's own listener for tcp/udp
// kinds; http resources share the HTTPFrontEnd and have no listener of
// their own.
func (r *Resource) startPublicListener() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pub != nil {
		return nil
	}
	switch r.Kind {
	case TCP:
		addr := "0.0.0.0:" + r.Connector
		l := listener.NewTCP(addr, func(s *stream.Stream) { r.AdmitExternal(s, nil) })
		if err := l.Start(); err != nil {
			return err
		}
		r.pub = l
	case UDP:
		addr := "0.0.0.0:" + r.Connector
		l := listener.NewUDP(addr, r.onDatagram)
		if err := l.Start(); err != nil {
			return err
		}
		r.pub = l
		r.udpSend = l.Send
	}
	return nil
}

func (r *Resource) stopPublicListener() {
	r.mu.Lock()
	pub := r.pub
	r.pub = nil
	r.mu.Unlock()
	if pub != nil {
		pub.Stop()
	}
}

// listenLoop reads frames from the binding, refreshing lastPong on every
// successful read, until EOF/close.
func (r *Resource) listenLoop(s *stream.Stream) {
	for {
		f, err := s.ReadFrame()
		if err != nil {
			break
		}
		r.mu.Lock()
		r.lastPong = time.Now()
		r.mu.Unlock()

		switch f.Command {
		case frame.CommandAddPool:
			if r.Kind != UDP {
				// open question #3: add_pool on non-UDP is a ProtocolViolation
				continue
			}
			r.onAddPool()
		}
	}
	r.unbind(s)
}

// unbind transitions Bound->Free iff s is still the live binding (guards
// against a stale ListenLoop from an already-superseded connection).
func (r *Resource) unbind(s *stream.Stream) {
	r.mu.Lock()
	if r.binding != s {
		r.mu.Unlock()
		return
	}
	r.open = false
	r.binding = nil
	r.bindingIP = ""
	pool := r.pool
	r.pool = nil
	r.mu.Unlock()

	for _, p := range pool {
		p.Close()
	}
	r.stopPublicListener()
	flog.Infof("resource freed%s", flog.F{"kind": r.Kind, "connector": r.Connector})
}

// pingLoop writes a ping every PingInterval and closes the binding if no
// frame has been observed for more than PingTimeout.
func (r *Resource) pingLoop(s *stream.Stream, done <-chan struct{}) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			last := r.lastPong
			r.mu.Unlock()
			if time.Since(last) > PingTimeout {
				flog.Warnf("resource %s:%s: ping timeout, closing binding", r.Kind, r.Connector)
				s.Close()
				return
			}
			if err := s.WriteFrame(frame.Frame{Type: frame.TypePing}); err != nil {
				s.Close()
				return
			}
		}
	}
}

// admitIP resolves the caller's IP per spec §6: X-Forwarded-For first
// token, else X-Real-IP, else the socket peer IP.
func admitIP(s *stream.Stream, headers map[string]string) string {
	if headers != nil {
		if xff := headers["x-forwarded-for"]; xff != "" {
			if idx := strings.IndexByte(xff, ','); idx >= 0 {
				return strings.TrimSpace(xff[:idx])
			}
			return strings.TrimSpace(xff)
		}
		if xri := headers["x-real-ip"]; xri != "" {
			return strings.TrimSpace(xri)
		}
	}
	return s.PeerIP()
}

// AdmitExternal handles a new external caller (spec §4.5 admit_external).
func (r *Resource) AdmitExternal(s *stream.Stream, headers map[string]string) {
	r.mu.Lock()
	if !r.open {
		r.mu.Unlock()
		s.Close()
		return
	}
	binding := r.binding
	admitSecret := r.admitSecret
	r.mu.Unlock()

	ip := admitIP(s, headers)
	if admitSecret != "" {
		r.mu.Lock()
		_, ok := r.admitList[ip]
		r.mu.Unlock()
		if !ok {
			s.Close()
			return
		}
	}

	id := r.reg.Register(s)
	if err := binding.WriteFrame(frame.Frame{Command: frame.CommandNewRequest, Identifier: id}); err != nil {
		r.reg.Pop(id)
		s.Close()
		return
	}
	r.reg.ExpireAfter(id, RequestTimeout)
}

// OnDialBack handles a Client's bind frame on a fresh data connection: it
// either completes a parked external request (splice) or installs a new
// UDP pool member, depending on which registry the identifier is found in.
func (r *Resource) OnDialBack(f frame.Frame, s *stream.Stream) {
	if closer, ok := r.reg.Pop(f.Identifier); ok {
		ext, isStream := closer.(*stream.Stream)
		if !isStream {
			s.Close()
			return
		}
		go stream.Splice(ext, s)
		return
	}
	if _, ok := r.poolReg.Pop(f.Identifier); ok {
		r.installPoolMember(s)
		return
	}
	s.Close()
}

// onAddPool handles an add_pool command received inline on the binding
// (spec §4.5 on_add_pool): it mints an identifier, parks a placeholder in
// poolReg, and tells the Client to dial back with that identifier.
func (r *Resource) onAddPool() {
	r.mu.Lock()
	binding := r.binding
	r.mu.Unlock()
	if binding == nil {
		return
	}
	id := r.poolReg.Register(noopCloser{})
	binding.WriteFrame(frame.Frame{Command: frame.CommandNewPool, Identifier: id})
}

func (r *Resource) installPoolMember(s *stream.Stream) {
	r.mu.Lock()
	if len(r.pool) >= MaxPools {
		r.mu.Unlock()
		s.Close()
		return
	}
	r.pool = append(r.pool, s)
	r.mu.Unlock()
	go r.poolReader(s)
}

// poolReader reads frames off one pool member, decodes new_message
// frames, and forwards the payload to the original external source via
// the Resource's UDP listener.
func (r *Resource) poolReader(s *stream.Stream) {
	for {
		f, err := s.ReadFrame()
		if err != nil {
			break
		}
		if f.Type != frame.TypeNewMessage {
			continue
		}
		payload, err := hex.DecodeString(f.Payload)
		if err != nil {
			continue
		}
		r.mu.Lock()
		send := r.udpSend
		r.mu.Unlock()
		if send == nil {
			continue
		}
		addr := &net.UDPAddr{IP: net.ParseIP(f.SourceHost), Port: f.SourcePort}
		send(addr, payload)
	}
	r.mu.Lock()
	for i, p := range r.pool {
		if p == s {
			r.pool = append(r.pool[:i], r.pool[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	s.Close()
}

// onDatagram is the UDP listener's handler: round-robin select a pool
// member and forward the datagram as a new_message frame (spec §4.5
// on_datagram). If the pool is empty it retries up to udpRetryCount times
// at udpRetryDelay before dropping.
func (r *Resource) onDatagram(payload []byte, src *net.UDPAddr) {
	var member *stream.Stream
	for attempt := 0; attempt <= udpRetryCount; attempt++ {
		r.mu.Lock()
		n := len(r.pool)
		if n > 0 {
			idx := atomic.AddUint64(&r.poolCursor, 1) % uint64(n)
			member = r.pool[idx]
		}
		r.mu.Unlock()
		if member != nil {
			break
		}
		if attempt == udpRetryCount {
			flog.Warnf("resource udp:%s: pool empty, dropping datagram from %s", r.Connector, src)
			return
		}
		time.Sleep(udpRetryDelay)
	}

	f := frame.Frame{
		Type:       frame.TypeNewMessage,
		SourceHost: src.IP.String(),
		SourcePort: src.Port,
		Payload:    hex.EncodeToString(payload),
	}
	if err := member.WriteFrame(f); err != nil {
		flog.Warnf("resource udp:%s: failed to forward datagram to pool member: %v", r.Connector, err)
	}
}

// Authorize validates an admit code against the Resource's admit_secret
// and, on success, adds ip to the admit list (spec §4.5 authorize,
// §4.8 Authorizer).
func (r *Resource) Authorize(ip, code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.admitSecret == "" || code != r.admitSecret {
		return false
	}
	r.admitList[ip] = struct{}{}
	return true
}
