// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"bytes"
	"context"
	"net/http"
	stdlibtime "time"

	"github.com/ice-blockchain/webtransport/wtserver/internal"
)

func NewTransport() *Transport {
	return &Transport{
		requests:   make(chan internal.RequestStream, injectBuffer),
		uniStreams: make(chan uniStreamIn, injectBuffer),
		datagrams:  make(chan internal.Datagram, injectBuffer),
		failures:   make(chan error, 1),
		sent:       make(chan internal.Datagram, injectBuffer),
		closed:     make(chan struct{}),
		opener:     new(Opener),
	}
}

func (t *Transport) AcceptRequestStream(ctx context.Context) (internal.RequestStream, error) {
	select {
	case stream := <-t.requests:
		return stream, nil
	case err := <-t.failures:
		return nil, err
	case <-t.closed:
		return nil, internal.ErrClosed
	case <-ctx.Done():
		return nil, internal.ErrClosed
	}
}

func (t *Transport) AcceptUniStream(ctx context.Context) (internal.SessionID, internal.ReceiveStream, error) {
	select {
	case in := <-t.uniStreams:
		return in.session, in.stream, nil
	case err := <-t.failures:
		return 0, nil, err
	case <-t.closed:
		return 0, nil, internal.ErrClosed
	case <-ctx.Done():
		return 0, nil, internal.ErrClosed
	}
}

func (t *Transport) ReceiveDatagram(ctx context.Context) (internal.Datagram, error) {
	select {
	case dgram := <-t.datagrams:
		return dgram, nil
	case err := <-t.failures:
		return internal.Datagram{}, err
	case <-t.closed:
		return internal.Datagram{}, internal.ErrClosed
	case <-ctx.Done():
		return internal.Datagram{}, internal.ErrClosed
	}
}

func (t *Transport) SendDatagram(session internal.SessionID, payload []byte) error {
	t.mx.Lock()
	err := t.sendErr
	t.mx.Unlock()
	if err != nil {
		return err
	}
	t.sent <- internal.Datagram{Session: session, Payload: payload}

	return nil
}

func (t *Transport) Opener() internal.StreamOpener {
	return t.opener
}

func (t *Transport) CloseWithError(code uint64, reason string) error {
	t.mx.Lock()
	t.wasClosed, t.closeCode, t.closeText = true, code, reason
	t.mx.Unlock()
	t.closeOnce.Do(func() {
		close(t.closed)
	})

	return nil
}

// InjectRequest makes the transport yield a plain (or CONNECT) request stream.
func (t *Transport) InjectRequest(req *http.Request) *RequestStream {
	stream := &RequestStream{req: req, id: internal.SessionID(4 * len(t.requests)), payload: bytes.NewReader(nil)}
	t.requests <- stream

	return stream
}

// InjectRequestWithID is InjectRequest with an explicit request stream id.
func (t *Transport) InjectRequestWithID(req *http.Request, id internal.SessionID) *RequestStream {
	stream := &RequestStream{req: req, id: id, payload: bytes.NewReader(nil)}
	t.requests <- stream

	return stream
}

// InjectWebTransportStream makes the transport yield a bidirectional stream
// whose first frame binds it to the given session.
func (t *Transport) InjectWebTransportStream(session internal.SessionID, payload []byte) *RequestStream {
	stream := &RequestStream{
		first:   internal.FirstFrame{WebTransport: true, Session: session},
		payload: bytes.NewReader(payload),
	}
	t.requests <- stream

	return stream
}

func (t *Transport) InjectUniStream(session internal.SessionID, payload []byte) *ReceiveStream {
	stream := &ReceiveStream{payload: bytes.NewReader(payload)}
	t.uniStreams <- uniStreamIn{session: session, stream: stream}

	return stream
}

func (t *Transport) InjectDatagram(session internal.SessionID, payload []byte) {
	t.datagrams <- internal.Datagram{Session: session, Payload: payload}
}

// FailTransport injects a terminal transport failure observed by the next
// accept attempt.
func (t *Transport) FailTransport(err error) {
	t.failures <- err
}

// ClosePeer simulates the peer ending the connection cleanly.
func (t *Transport) ClosePeer() {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
}

func (t *Transport) SentDatagrams() <-chan internal.Datagram {
	return t.sent
}

func (t *Transport) SetSendDatagramError(err error) {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.sendErr = err
}

func (t *Transport) Closed() (bool, uint64, string) {
	t.mx.Lock()
	defer t.mx.Unlock()

	return t.wasClosed, t.closeCode, t.closeText
}

func (s *RequestStream) ID() internal.SessionID {
	return s.id
}

func (s *RequestStream) ReadFirstFrame(_ context.Context) (internal.FirstFrame, error) {
	return s.first, s.firstErr
}

func (s *RequestStream) Resolve(_ context.Context) (*http.Request, error) {
	return s.req, s.resolveErr
}

func (s *RequestStream) SendResponse(status int, header http.Header) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.responses = append(s.responses, Response{Status: status, Header: header})

	return nil
}

func (s *RequestStream) Responses() []Response {
	s.mx.Lock()
	defer s.mx.Unlock()

	return append([]Response(nil), s.responses...)
}

func (s *RequestStream) Read(p []byte) (int, error) {
	return s.payload.Read(p)
}

func (s *RequestStream) Write(p []byte) (int, error) {
	s.mx.Lock()
	defer s.mx.Unlock()

	return s.written.Write(p)
}

func (s *RequestStream) WriteData(p []byte) (int, error) {
	return s.Write(p)
}

func (s *RequestStream) Written() []byte {
	s.mx.Lock()
	defer s.mx.Unlock()

	return append([]byte(nil), s.written.Bytes()...)
}

func (s *RequestStream) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.closed = true

	return nil
}

func (s *RequestStream) CancelRead(errorCode uint64) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.readCancel = append(s.readCancel, errorCode)
}

func (s *RequestStream) CancelWrite(errorCode uint64) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.sendCancel = append(s.sendCancel, errorCode)
}

func (s *RequestStream) ReadCancels() []uint64 {
	s.mx.Lock()
	defer s.mx.Unlock()

	return append([]uint64(nil), s.readCancel...)
}

func (s *RequestStream) WriteCancels() []uint64 {
	s.mx.Lock()
	defer s.mx.Unlock()

	return append([]uint64(nil), s.sendCancel...)
}

func (*RequestStream) SetReadDeadline(_ stdlibtime.Time) error {
	return nil
}

func (*RequestStream) SetWriteDeadline(_ stdlibtime.Time) error {
	return nil
}

func (s *ReceiveStream) Read(p []byte) (int, error) {
	return s.payload.Read(p)
}

func (s *ReceiveStream) CancelRead(errorCode uint64) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.readCancel = append(s.readCancel, errorCode)
}

func (s *ReceiveStream) ReadCancels() []uint64 {
	s.mx.Lock()
	defer s.mx.Unlock()

	return append([]uint64(nil), s.readCancel...)
}

func (*ReceiveStream) SetReadDeadline(_ stdlibtime.Time) error {
	return nil
}

func (o *Opener) OpenStream(_ context.Context, session internal.SessionID) (internal.Stream, error) {
	o.mx.Lock()
	defer o.mx.Unlock()
	o.openedBidi = append(o.openedBidi, session)

	return &RequestStream{id: session, payload: bytes.NewReader(nil)}, nil
}

func (o *Opener) OpenUniStream(_ context.Context, session internal.SessionID) (internal.SendStream, error) {
	o.mx.Lock()
	defer o.mx.Unlock()
	o.openedUni = append(o.openedUni, session)

	return &RequestStream{id: session, payload: bytes.NewReader(nil)}, nil
}

func (o *Opener) OpenedBidi() []internal.SessionID {
	o.mx.Lock()
	defer o.mx.Unlock()

	return append([]internal.SessionID(nil), o.openedBidi...)
}

func (o *Opener) OpenedUni() []internal.SessionID {
	o.mx.Lock()
	defer o.mx.Unlock()

	return append([]internal.SessionID(nil), o.openedUni...)
}
