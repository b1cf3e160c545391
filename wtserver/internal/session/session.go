// SPDX-License-Identifier: ice License 1.0

package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/webtransport/wtserver/internal"
	"github.com/ice-blockchain/webtransport/wtserver/internal/conn"
)

// Public API.

type (
	// Session is an established WebTransport session. Its consumer only ever
	// reads from the three receive channels the driver feeds, or goes back
	// through handles the driver handed out at registration time; it never
	// touches the transport directly.
	Session struct {
		connectStream internal.RequestStream
		control       chan<- conn.ControlMessage
		closeTx       chan<- internal.SessionID
		opener        internal.StreamOpener
		bidi          chan internal.Stream
		uni           chan internal.ReceiveStream
		datagrams     chan []byte
		done          chan struct{}
		closeOnce     sync.Once
		id            internal.SessionID
	}
)

var (
	ErrSessionClosed = errors.New("session closed")
)

// channelBuffer bounds each of the per-session delivery channels. The driver
// try-sends into them, so a saturated session sheds load instead of stalling
// the connection.
const channelBuffer = 16

func (s *Session) ID() internal.SessionID {
	return s.id
}

// Done is closed when the session is closed; it can back a cancellation
// context for the session's consumer.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// AcceptStream yields the next incoming bidirectional stream of this session,
// in arrival order.
func (s *Session) AcceptStream(ctx context.Context) (internal.Stream, error) {
	select {
	case stream := <-s.bidi:
		return stream, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "failed to accept bidirectional stream")
	}
}

// AcceptUniStream yields the next incoming unidirectional stream of this
// session, in arrival order.
func (s *Session) AcceptUniStream(ctx context.Context) (internal.ReceiveStream, error) {
	select {
	case stream := <-s.uni:
		return stream, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "failed to accept unidirectional stream")
	}
}

// ReceiveDatagram yields the next datagram payload of this session. Delivery
// is best-effort: payloads the driver could not hand over were dropped.
func (s *Session) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-s.datagrams:
		return payload, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "failed to receive datagram")
	}
}

// OpenStream opens an outbound bidirectional stream bound to this session.
func (s *Session) OpenStream(ctx context.Context) (internal.Stream, error) {
	stream, err := s.opener.OpenStream(ctx, s.id)

	return stream, errors.Wrap(err, "failed to open bidirectional stream")
}

// OpenUniStream opens an outbound unidirectional stream bound to this session.
func (s *Session) OpenUniStream(ctx context.Context) (internal.SendStream, error) {
	stream, err := s.opener.OpenUniStream(ctx, s.id)

	return stream, errors.Wrap(err, "failed to open unidirectional stream")
}

// SendDatagram pushes an outbound datagram through the shared connection.
func (s *Session) SendDatagram(ctx context.Context, payload []byte) error {
	reply := make(chan error, 1)
	request := &conn.SendDatagramRequest{Session: s.id, Payload: payload, Reply: reply}
	select {
	case s.control <- request:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "failed to submit datagram")
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "failed to await datagram send result")
	}
}

// Close announces the session's end to the driver so routing stops promptly,
// then terminates both halves of the CONNECT stream.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closeTx != nil {
			select {
			case s.closeTx <- s.id:
			default:
				// The driver is gone; the registry died with it.
			}
		}
		s.connectStream.CancelRead(internal.CodeNoError)
		s.connectStream.CancelWrite(internal.CodeNoError)
	})

	return nil
}
