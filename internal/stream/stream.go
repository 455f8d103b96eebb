// Package stream implements the Stream contract of spec §4.1: a
// reliable byte stream with an owned read-ahead buffer, push-back, and
// idempotent close, wrapping a net.Conn (plaintext or TLS).
package stream

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"io"
	"net"
	"sync"

	"dtltunnel/internal/frame"
)

// Stream wraps a net.Conn with a read-ahead buffer and a single-writer
// output path, matching the teacher's pattern of never letting two
// goroutines race on one socket's write half.
type Stream struct {
	conn net.Conn

	readMu sync.Mutex
	br     *bufio.Reader
	pushed []byte // pending push-back bytes, consumed before br

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// New wraps an already-established connection as-is. NewTLSClient and
// NewTLSServer wrap it in a TLS handshake first; TLS is entirely
// transparent to callers above this layer.
func New(conn net.Conn) *Stream {
	return &Stream{conn: conn, br: bufio.NewReaderSize(conn, 4096)}
}

// NewTLSClient wraps conn in a TLS client handshake. The handshake is
// performed lazily on first read/write by the underlying tls.Conn.
func NewTLSClient(conn net.Conn, cfg *tls.Config) *Stream {
	return New(tls.Client(conn, cfg))
}

// NewTLSServer wraps conn in a TLS server handshake.
func NewTLSServer(conn net.Conn, cfg *tls.Config) *Stream {
	return New(tls.Server(conn, cfg))
}

// ErrNoData is returned by ReadUntil when the stream hit EOF or was closed
// before the delimiter was seen.
var ErrNoData = io.EOF

// ReadUntil returns all bytes up to (but not including) the first
// occurrence of delim, consuming the delimiter. On EOF/close it returns
// ErrNoData along with whatever partial bytes were buffered.
func (s *Stream) ReadUntil(delim byte) ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	var out []byte
	if len(s.pushed) > 0 {
		if idx := bytes.IndexByte(s.pushed, delim); idx >= 0 {
			out = append(out, s.pushed[:idx]...)
			s.pushed = s.pushed[idx+1:]
			return out, nil
		}
		out = append(out, s.pushed...)
		s.pushed = nil
	}

	line, err := s.br.ReadBytes(delim)
	if len(line) > 0 {
		if line[len(line)-1] == delim {
			out = append(out, line[:len(line)-1]...)
			return out, nil
		}
		out = append(out, line...)
	}
	if err != nil {
		return out, ErrNoData
	}
	return out, nil
}

// Read returns whatever is buffered (pushed-back or already read-ahead);
// otherwise it issues one fresh read of at most len(p) bytes. On EOF, or
// once the Stream has been closed, it returns 0, nil (empty read, not an
// error) per spec §4.1.
func (s *Stream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if len(s.pushed) > 0 {
		n := copy(p, s.pushed)
		s.pushed = s.pushed[n:]
		return n, nil
	}

	n, err := s.br.Read(p)
	if err != nil {
		if err == io.EOF || s.isClosed() {
			return n, nil
		}
		return n, err
	}
	return n, nil
}

// PushBack prepends bytes to the read buffer so a subsequent Read or
// ReadUntil observes them first. Used by the HTTP front-end to return the
// peeked request head before delegating to the dispatch path.
func (s *Stream) PushBack(b []byte) {
	if len(b) == 0 {
		return
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()
	s.pushed = append(append([]byte{}, b...), s.pushed...)
}

// Write appends to the connection's output; net.Conn.Write already blocks
// until the kernel accepts the bytes, so Write and Flush collapse to one
// call here, serialized behind writeMu so frames never interleave
// (spec §5, single-writer-per-Stream requirement).
func (s *Stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.isClosed() {
		return len(p), nil
	}
	n, err := s.conn.Write(p)
	if err != nil {
		return n, nil // write failure fails silently per spec §4.1
	}
	return n, nil
}

// Flush is a no-op: Write already waits for the kernel to accept the
// bytes. Kept as a named operation to mirror the spec's Stream contract.
func (s *Stream) Flush() error { return nil }

// WriteFrame serializes and writes a single frame, delimiter included.
func (s *Stream) WriteFrame(f frame.Frame) error {
	wire, err := frame.Marshal(f)
	if err != nil {
		return err
	}
	_, err = s.Write(wire)
	return err
}

// ReadFrame reads one delimited frame body and decodes it.
func (s *Stream) ReadFrame() (frame.Frame, error) {
	body, err := s.ReadUntil(frame.Delim)
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Decode(body)
}

func (s *Stream) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

// Close is idempotent: subsequent reads yield empty, writes fail silently.
func (s *Stream) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()
	return s.conn.Close()
}

// Peer returns the remote address if known.
func (s *Stream) Peer() net.Addr {
	return s.conn.RemoteAddr()
}

// PeerIP returns just the IP portion of Peer(), or "" if unavailable.
func (s *Stream) PeerIP() string {
	addr := s.Peer()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// Conn exposes the underlying connection for splicing with io.Copy.
func (s *Stream) Conn() net.Conn { return s.conn }
