// Package listener implements the TCP accept loop and UDP datagram
// endpoint of spec §4.2, each dispatching to a handler and supporting a
// graceful Stop (no new accepts, in-flight handlers complete).
package listener

import (
	"net"
	"sync"

	"dtltunnel/internal/flog"
	"dtltunnel/internal/stream"
)

// TCPListener accepts connections on addr and schedules onStream(*Stream)
// for each, until Stop is called.
type TCPListener struct {
	addr     string
	onStream func(*stream.Stream)

	mu   sync.Mutex
	ln   net.Listener
	done chan struct{}
}

func NewTCP(addr string, onStream func(*stream.Stream)) *TCPListener {
	return &TCPListener{addr: addr, onStream: onStream}
}

func (l *TCPListener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.ln = ln
	l.done = make(chan struct{})
	l.mu.Unlock()

	go l.acceptLoop(ln, l.done)
	return nil
}

func (l *TCPListener) acceptLoop(ln net.Listener, done chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				return
			default:
				flog.Warnf("tcp listener %s: accept failed: %v", l.addr, err)
				return
			}
		}
		s := stream.New(conn)
		go l.onStream(s)
	}
}

// Stop closes the listening socket; in-flight onStream handlers are left
// to complete on their own.
func (l *TCPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	close(l.done)
	err := l.ln.Close()
	l.ln = nil
	return err
}

// UDPListener binds a datagram socket and delivers (payload, source) to
// onDatagram; Send writes a reply datagram back to an address.
type UDPListener struct {
	addr       string
	onDatagram func(payload []byte, src *net.UDPAddr)

	mu   sync.Mutex
	conn *net.UDPConn
	done chan struct{}
}

func NewUDP(addr string, onDatagram func(payload []byte, src *net.UDPAddr)) *UDPListener {
	return &UDPListener{addr: addr, onDatagram: onDatagram}
}

func (l *UDPListener) Start() error {
	laddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.conn = conn
	l.done = make(chan struct{})
	l.mu.Unlock()

	go l.readLoop(conn, l.done)
	return nil
}

func (l *UDPListener) readLoop(conn *net.UDPConn, done chan struct{}) {
	buf := make([]byte, 64*1024)
	for {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
				flog.Warnf("udp listener %s: read failed: %v", l.addr, err)
				return
			}
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		go l.onDatagram(payload, src)
	}
}

// Send writes a reply datagram to addr.
func (l *UDPListener) Send(addr *net.UDPAddr, payload []byte) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	_, err := conn.WriteToUDP(payload, addr)
	return err
}

func (l *UDPListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	close(l.done)
	err := l.conn.Close()
	l.conn = nil
	return err
}
