package resource

import (
	"bytes"
	"strings"

	"dtltunnel/internal/flog"
	"dtltunnel/internal/stream"
)

const notFoundResponse = "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nConnection: close\r\n\r\n" +
	"<html><body><h1>404</h1><p>No tunnel bound for this host.</p></body></html>"

// HTTPFrontEnd peeks the request head, extracts Host:, selects the
// matching HTTP Resource, and delegates to AdmitExternal with the bytes
// already read pushed back (spec §4.7, invariant I5).
type HTTPFrontEnd struct {
	Store *Store
}

func NewHTTPFrontEnd(store *Store) *HTTPFrontEnd {
	return &HTTPFrontEnd{Store: store}
}

// HandleStream is the HTTP listener's onStream handler.
func (h *HTTPFrontEnd) HandleStream(s *stream.Stream) {
	head, ok := peekHead(s)
	if !ok {
		s.Close()
		return
	}
	s.PushBack(head)

	headers := parseHeaders(head)
	host := headers["host"]
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}

	res, ok := h.Store.Lookup(HTTP, host)
	if !ok {
		s.Write([]byte(notFoundResponse))
		s.Close()
		return
	}

	res.AdmitExternal(s, headers)
}

// peekHead reads bytes until the first "\r\n\r\n" or "\n\n", returning the
// full captured prefix (terminator included) so it can be pushed back
// verbatim.
func peekHead(s *stream.Stream) ([]byte, bool) {
	var buf []byte
	chunk := make([]byte, 512)
	for len(buf) < 64*1024 {
		n, err := s.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
				return buf, true
			}
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				return buf, true
			}
		}
		if err != nil || n == 0 {
			return buf, len(buf) > 0
		}
	}
	flog.Warnf("http front-end: request head exceeded bound without terminator")
	return buf, false
}

// parseHeaders extracts lowercase header-name -> value from a raw request
// head (request line plus CRLF-delimited header lines).
func parseHeaders(head []byte) map[string]string {
	out := make(map[string]string)
	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	for i, line := range lines {
		if i == 0 {
			continue // request line
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		out[name] = strings.TrimSpace(line[idx+1:])
	}
	return out
}
