// SPDX-License-Identifier: ice License 1.0

package conn

import (
	"context"
	"net/http"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/webtransport/wtserver/internal"
)

func newDriver(transportConn internal.Conn, incoming *Incoming) *Driver {
	return &Driver{
		conn:         transportConn,
		registry:     newRegistry(),
		incoming:     incoming,
		control:      make(chan ControlMessage, controlBuffer),
		sessionClose: make(chan internal.SessionID, sessionCloseBuffer),
		requests:     make(chan requestEvent),
		uniStreams:   make(chan uniStreamEvent),
		datagrams:    make(chan internal.Datagram),
		errs:         make(chan error, 3),
	}
}

// Drive runs the event loop until the transport reaches a terminal condition.
// A clean end returns nil; a connection-scoped protocol error closes the
// connection with its code and is returned; anything else is returned as-is
// with the transport assumed already torn down.
func (d *Driver) Drive(ctx context.Context) error {
	pumpCtx, cancelPumps := context.WithCancel(ctx)
	defer cancelPumps()
	d.pumpsOnce.Do(func() {
		go d.pumpRequestStreams(pumpCtx)
		go d.pumpUniStreams(pumpCtx)
		go d.pumpDatagrams(pumpCtx)
	})

	for {
		event, err := d.nextEvent(ctx)
		if err != nil {
			return d.classify(err)
		}
		if err = d.handle(event); err != nil {
			return err
		}
	}
}

// nextEvent polls the event sources in fixed priority order: session closes
// first, then control requests, then new request streams, uni streams and
// datagrams. The ordered non-blocking pass picks the first ready source; only
// when none is ready does the driver suspend on all of them at once.
func (d *Driver) nextEvent(ctx context.Context) (any, error) {
	select {
	case id := <-d.sessionClose:
		return closeEvent(id), nil
	default:
	}
	select {
	case msg := <-d.control:
		return msg, nil
	default:
	}
	select {
	case event := <-d.requests:
		return event, nil
	default:
	}
	select {
	case event := <-d.uniStreams:
		return event, nil
	default:
	}
	select {
	case dgram := <-d.datagrams:
		return dgram, nil
	default:
	}
	select {
	case err := <-d.errs:
		return nil, err
	default:
	}

	select {
	case id := <-d.sessionClose:
		return closeEvent(id), nil
	case msg := <-d.control:
		return msg, nil
	case event := <-d.requests:
		return event, nil
	case event := <-d.uniStreams:
		return event, nil
	case dgram := <-d.datagrams:
		return dgram, nil
	case err := <-d.errs:
		return nil, err
	case <-ctx.Done():
		return nil, internal.ErrClosed
	}
}

func (d *Driver) handle(event any) error {
	switch event := event.(type) {
	case closeEvent:
		d.registry.remove(internal.SessionID(event))
	case *UpgradeRequest:
		d.handleUpgrade(event)
	case *SendDatagramRequest:
		event.Reply <- errors.Wrap(d.conn.SendDatagram(event.Session, event.Payload), "failed to send datagram")
	case uniStreamEvent:
		if !d.registry.deliverUni(event.session, event.stream) {
			event.stream.CancelRead(internal.CodeRequestRejected)
		}
	case internal.Datagram:
		d.registry.deliverDatagram(event.Session, event.Payload)
	case requestEvent:
		return d.handleRequestStream(event)
	}

	return nil
}

func (d *Driver) handleUpgrade(request *UpgradeRequest) {
	select {
	case <-request.Done:
		// The requester abandoned its reply, nobody would ever use the session.
		return
	default:
	}
	request.Reply <- UpgradeReply{Opener: d.conn.Opener(), CloseTx: d.sessionClose}
	d.registry.add(request.Session, &sessionChannels{
		bidi:      request.Bidi,
		uni:       request.Uni,
		datagrams: request.Datagrams,
		done:      request.Done,
	})
}

func (d *Driver) handleRequestStream(event requestEvent) error {
	if event.webTransport {
		if !d.registry.deliverBidi(event.session, event.stream) {
			event.stream.CancelRead(internal.CodeRequestRejected)
			event.stream.CancelWrite(internal.CodeRequestRejected)
		}

		return nil
	}
	if isWebTransportConnect(event.pair.Req) {
		event.pair.Req = WithCanUpgrade(event.pair.Req, CanUpgrade{
			Session: event.pair.Stream.ID(),
			Control: d.control,
		})
	}
	if !d.incoming.enqueue(event.pair) {
		connErr := &internal.ConnError{Code: internal.CodeInternalError, Reason: "request consumer gone"}
		_ = d.conn.CloseWithError(connErr.Code, connErr.Reason) //nolint:errcheck // Already failing.

		return connErr
	}

	return nil
}

func (d *Driver) classify(err error) error {
	if errors.Is(err, internal.ErrClosed) {
		return nil
	}
	var connErr *internal.ConnError
	if errors.As(err, &connErr) && !connErr.Remote {
		_ = d.conn.CloseWithError(connErr.Code, connErr.Reason) //nolint:errcheck // Best effort before surfacing.

		return err
	}

	return err
}

// pumpRequestStreams accepts bidirectional streams and classifies each by its
// first application frame before the driver routes it. Reads happen here so
// that a slow first frame never suspends the routing loop.
func (d *Driver) pumpRequestStreams(ctx context.Context) {
	for {
		stream, err := d.conn.AcceptRequestStream(ctx)
		if err != nil {
			d.fail(ctx, err)

			return
		}
		firstFrame, err := stream.ReadFirstFrame(ctx)
		if err != nil {
			d.fail(ctx, err)

			return
		}
		var event requestEvent
		if firstFrame.WebTransport {
			event = requestEvent{webTransport: true, session: firstFrame.Session, stream: stream}
		} else {
			req, rErr := stream.Resolve(ctx)
			if rErr != nil {
				d.fail(ctx, rErr)

				return
			}
			event = requestEvent{pair: &Request{Req: req, Stream: stream}}
		}
		select {
		case d.requests <- event:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Driver) pumpUniStreams(ctx context.Context) {
	for {
		session, stream, err := d.conn.AcceptUniStream(ctx)
		if err != nil {
			d.fail(ctx, err)

			return
		}
		select {
		case d.uniStreams <- uniStreamEvent{session: session, stream: stream}:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Driver) pumpDatagrams(ctx context.Context) {
	for {
		dgram, err := d.conn.ReceiveDatagram(ctx)
		if err != nil {
			d.fail(ctx, err)

			return
		}
		select {
		case d.datagrams <- dgram:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Driver) fail(ctx context.Context, err error) {
	select {
	case d.errs <- err:
	case <-ctx.Done():
	}
}

func isWebTransportConnect(req *http.Request) bool {
	return req.Method == http.MethodConnect && req.Proto == protocolWebTransport
}
