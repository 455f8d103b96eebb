package client

import (
	"encoding/hex"

	"dtltunnel/internal/flog"
	"dtltunnel/internal/frame"
	"dtltunnel/internal/stream"
)

// poolReader reads framed UDP datagrams off one pool member, decodes
// new_message frames, and hands the payload to the matching UDPSession
// (spec §4.5 on_datagram / §4.9 pool reader).
func (t *Tunnel) poolReader(member *stream.Stream) {
	for {
		f, err := member.ReadFrame()
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
		sess, err := t.sessions.get(f.SourceHost, f.SourcePort, t.onUDPReply)
		if err != nil {
			flog.Warnf("tunnel: udp session for %s:%d failed: %v", f.SourceHost, f.SourcePort, err)
			continue
		}
		if err := sess.send(payload); err != nil {
			flog.Warnf("tunnel: forwarding to local app failed: %v", err)
		}
	}
	t.removePoolMember(member)
}

// onUDPReply is the UDPSession receive callback: it frames a reply
// datagram and sends it back to the Host over a round-robin pool member
// (spec §4.9: "replies ... delivered ... over a round-robin pool
// member").
func (t *Tunnel) onUDPReply(sess *udpSession, payload []byte) {
	member := t.nextPoolMember()
	if member == nil {
		flog.Warnf("tunnel: no pool member available to relay reply from %s:%d", sess.remoteHost, sess.remotePort)
		return
	}
	f := frame.Frame{
		Type:       frame.TypeNewMessage,
		SourceHost: sess.remoteHost,
		SourcePort: sess.remotePort,
		Payload:    hex.EncodeToString(payload),
	}
	if err := member.WriteFrame(f); err != nil {
		flog.Warnf("tunnel: failed to relay reply to host: %v", err)
	}
}

func (t *Tunnel) nextPoolMember() *stream.Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pool) == 0 {
		return nil
	}
	t.poolCursor++
	return t.pool[t.poolCursor%uint64(len(t.pool))]
}

func (t *Tunnel) removePoolMember(member *stream.Stream) {
	t.mu.Lock()
	for i, p := range t.pool {
		if p == member {
			t.pool = append(t.pool[:i], t.pool[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
	member.Close()
}
