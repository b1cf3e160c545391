// SPDX-License-Identifier: ice License 1.0

package conn

import (
	"github.com/ice-blockchain/webtransport/wtserver/internal"
)

type (
	// registry maps a session id to the send-ends feeding that session's
	// consumer. An id is present iff an upgrade was processed and no close
	// notification for it has been observed yet. Only the driver touches it.
	registry struct {
		sessions map[internal.SessionID]*sessionChannels
	}

	sessionChannels struct {
		bidi      chan<- internal.Stream
		uni       chan<- internal.ReceiveStream
		datagrams chan<- []byte
		done      <-chan struct{}
	}
)

func newRegistry() *registry {
	return &registry{sessions: make(map[internal.SessionID]*sessionChannels)}
}

func (r *registry) add(id internal.SessionID, channels *sessionChannels) {
	r.sessions[id] = channels
}

func (r *registry) remove(id internal.SessionID) {
	delete(r.sessions, id)
}

// deliverBidi try-sends a bidirectional stream to the session's consumer.
// The send never blocks: a saturated session must not stall the connection.
// An abandoned consumer (closed done channel) is removed on the spot and
// treated like an explicit close notification.
func (r *registry) deliverBidi(id internal.SessionID, stream internal.Stream) bool {
	channels, found := r.sessions[id]
	if !found {
		return false
	}
	select {
	case <-channels.done:
		r.remove(id)

		return false
	case channels.bidi <- stream:
		return true
	default:
		return false
	}
}

func (r *registry) deliverUni(id internal.SessionID, stream internal.ReceiveStream) bool {
	channels, found := r.sessions[id]
	if !found {
		return false
	}
	select {
	case <-channels.done:
		r.remove(id)

		return false
	case channels.uni <- stream:
		return true
	default:
		return false
	}
}

// deliverDatagram is best-effort: datagrams carry no delivery guarantee, so a
// saturated or missing session silently swallows the payload.
func (r *registry) deliverDatagram(id internal.SessionID, payload []byte) {
	channels, found := r.sessions[id]
	if !found {
		return
	}
	select {
	case <-channels.done:
		r.remove(id)
	case channels.datagrams <- payload:
	default:
	}
}
