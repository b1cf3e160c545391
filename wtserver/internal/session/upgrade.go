// SPDX-License-Identifier: ice License 1.0

package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/webtransport/wtserver/internal"
	"github.com/ice-blockchain/webtransport/wtserver/internal/conn"
)

// Public API.

type (
	// Pending is the consume-at-most-once capability that finalizes the
	// hand-off of a CONNECT request stream into a live session. Whether and
	// when to consume it is the application's decision; nothing blocks the
	// connection driver while that decision is pending.
	Pending struct {
		complete func(ctx context.Context, stream internal.RequestStream) (*Session, error)
		mx       sync.Mutex
	}
)

var (
	// ErrUpgradeConsumed is returned by the second and any further Upgrade
	// call; the caller keeps its stream untouched and may serve it as an
	// ordinary request instead.
	ErrUpgradeConsumed = errors.New("upgrade already consumed")
	// ErrConnectionGone means the connection driver stopped before the
	// session could be registered.
	ErrConnectionGone = errors.New("connection driver gone")
)

// Begin returns the pending upgrade for a WebTransport CONNECT request the
// driver tagged as upgradeable, or nil for any other request.
func Begin(req *http.Request) *Pending {
	capability, ok := conn.CanUpgradeFrom(req)
	if !ok {
		return nil
	}

	return &Pending{complete: func(ctx context.Context, stream internal.RequestStream) (*Session, error) {
		return establish(ctx, capability, stream)
	}}
}

// Upgrade consumes the capability over the request's stream, registering the
// session with the driver and answering the CONNECT exchange.
func (p *Pending) Upgrade(ctx context.Context, stream internal.RequestStream) (*Session, error) {
	p.mx.Lock()
	complete := p.complete
	p.complete = nil
	p.mx.Unlock()
	if complete == nil {
		return nil, ErrUpgradeConsumed
	}

	return complete(ctx, stream)
}

func establish(ctx context.Context, capability conn.CanUpgrade, stream internal.RequestStream) (*Session, error) {
	s := &Session{
		connectStream: stream,
		control:       capability.Control,
		bidi:          make(chan internal.Stream, channelBuffer),
		uni:           make(chan internal.ReceiveStream, channelBuffer),
		datagrams:     make(chan []byte, channelBuffer),
		done:          make(chan struct{}),
		id:            capability.Session,
	}
	reply := make(chan conn.UpgradeReply, 1)
	request := &conn.UpgradeRequest{
		Reply:     reply,
		Bidi:      s.bidi,
		Uni:       s.uni,
		Datagrams: s.datagrams,
		Done:      s.done,
		Session:   s.id,
	}
	select {
	case capability.Control <- request:
	case <-ctx.Done():
		return nil, refuse(stream, errors.Wrap(ctx.Err(), "failed to submit upgrade request"))
	}
	select {
	case registered := <-reply:
		s.opener, s.closeTx = registered.Opener, registered.CloseTx
	case <-ctx.Done():
		// Signal abandonment so the driver skips (or undoes) registration.
		close(s.done)

		return nil, refuse(stream, errors.Wrap(ctx.Err(), "failed to await upgrade registration"))
	}

	header := http.Header{}
	// The only header webtransport-capable browsers check on the 200.
	header.Set("sec-webtransport-http3-draft", "draft02")
	if err := stream.SendResponse(http.StatusOK, header); err != nil {
		_ = s.Close() //nolint:errcheck // Never fails.

		return nil, errors.Wrap(err, "failed to answer webtransport connect")
	}

	return s, nil
}

func refuse(stream internal.RequestStream, reason error) error {
	if err := stream.SendResponse(http.StatusInternalServerError, nil); err != nil {
		return errors.Wrapf(ErrConnectionGone, "%v (and refusal failed: %v)", reason, err)
	}

	return errors.Wrapf(ErrConnectionGone, "%v", reason)
}
