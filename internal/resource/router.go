package resource

import (
	"dtltunnel/internal/flog"
	"dtltunnel/internal/frame"
	"dtltunnel/internal/stream"
)

// Router accepts each bridge connection, reads its first frame, and
// dispatches authenticate/bind to the matching Resource (spec §4.6).
type Router struct {
	Store *Store
}

func NewRouter(store *Store) *Router {
	return &Router{Store: store}
}

// HandleStream is the TCP listener's onStream handler for the control
// socket. Decode errors or an unresolvable resource are ProtocolViolations
// per spec §7: the connection is simply closed.
func (rt *Router) HandleStream(s *stream.Stream) {
	f, err := s.ReadFrame()
	if err != nil {
		s.Close()
		return
	}

	if !validKind(f.Type) || f.Resource == "" {
		s.Close()
		return
	}
	if f.Command != frame.CommandAuthenticate && f.Command != frame.CommandBind {
		s.Close()
		return
	}

	res, ok := rt.Store.Lookup(Kind(f.Type), f.Resource)
	if !ok {
		flog.Debugf("bridge: no resource for %s:%s", f.Type, f.Resource)
		s.Close()
		return
	}

	switch f.Command {
	case frame.CommandAuthenticate:
		if f.Secret == "" {
			s.Close()
			return
		}
		res.Bind(f, s)
	case frame.CommandBind:
		if f.Identifier == "" {
			s.Close()
			return
		}
		res.OnDialBack(f, s)
	default:
		s.Close()
	}
}

func validKind(t string) bool {
	switch Kind(t) {
	case TCP, HTTP, UDP:
		return true
	}
	return false
}
