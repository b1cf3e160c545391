// SPDX-License-Identifier: ice License 1.0

package h3

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/ice-blockchain/webtransport/wtserver/internal"
	"github.com/ice-blockchain/webtransport/wtserver/internal/wire"
)

type (
	adapter struct {
		conn quic.Connection
	}
)

// New adapts a raw QUIC connection into the HTTP/3 capability consumed by the
// connection driver. It announces datagram, extended-CONNECT and WebTransport
// support on the control stream; everything else of HTTP/3 stays out of reach.
func New(qconn quic.Connection) (internal.Conn, error) {
	a := &adapter{conn: qconn}
	if err := a.sendSettings(); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *adapter) sendSettings() error {
	var payload []byte
	for _, setting := range [...]struct{ id, value uint64 }{
		{wire.SettingDatagram, 1},
		{wire.SettingExtendedConnect, 1},
		{wire.SettingEnableWebTransport, 1},
		{wire.SettingWebTransportMaxSessions, 1},
	} {
		payload = quicvarint.Append(payload, setting.id)
		payload = quicvarint.Append(payload, setting.value)
	}
	b := quicvarint.Append(nil, wire.StreamTypeControl)
	b = quicvarint.Append(b, wire.FrameTypeSettings)
	b = quicvarint.Append(b, uint64(len(payload)))
	b = append(b, payload...)

	stream, err := a.conn.OpenUniStream()
	if err != nil {
		return errors.Wrap(err, "failed to open control stream")
	}
	_, err = stream.Write(b)

	return errors.Wrap(err, "failed to send settings")
}

func (a *adapter) AcceptRequestStream(ctx context.Context) (internal.RequestStream, error) {
	stream, err := a.conn.AcceptStream(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	return newRequestStream(stream), nil
}

// AcceptUniStream drains newly opened unidirectional streams until one tagged
// with a WebTransport session id shows up. Control, push and QPACK streams are
// parked; a stream with an unreadable or unknown type fails only that one
// stream, not the accept loop.
func (a *adapter) AcceptUniStream(ctx context.Context) (internal.SessionID, internal.ReceiveStream, error) {
	for {
		stream, err := a.conn.AcceptUniStream(ctx)
		if err != nil {
			return 0, nil, mapError(err)
		}
		r := quicvarint.NewReader(stream)
		streamType, err := quicvarint.Read(r)
		if err != nil {
			stream.CancelRead(quic.StreamErrorCode(internal.CodeStreamCreation))

			continue
		}
		switch streamType {
		case wire.StreamTypeControl, wire.StreamTypePush, wire.StreamTypeQPACKEncoder, wire.StreamTypeQPACKDecoder:
			// Keep the peer's flow control happy without acting on the content.
			go func() {
				_, _ = io.Copy(io.Discard, r) //nolint:errcheck // Draining only.
			}()
		case wire.StreamTypeWebTransportUniStream:
			sessionID, sErr := wire.ReadSessionID(r)
			if sErr != nil {
				stream.CancelRead(quic.StreamErrorCode(internal.CodeGeneralProtocol))

				continue
			}

			return internal.SessionID(sessionID), &receiveStream{stream: stream, r: r}, nil
		default:
			stream.CancelRead(quic.StreamErrorCode(internal.CodeStreamCreation))
		}
	}
}

func (a *adapter) ReceiveDatagram(ctx context.Context) (internal.Datagram, error) {
	data, err := a.conn.ReceiveDatagram(ctx)
	if err != nil {
		return internal.Datagram{}, mapError(err)
	}
	sessionID, payload, err := wire.ParseDatagram(data)
	if err != nil {
		return internal.Datagram{}, &internal.ConnError{Code: internal.CodeDatagramError, Reason: "malformed datagram"}
	}

	return internal.Datagram{Session: internal.SessionID(sessionID), Payload: payload}, nil
}

func (a *adapter) SendDatagram(session internal.SessionID, payload []byte) error {
	b := wire.AppendDatagramHeader(make([]byte, 0, len(payload)+quicvarint.Len(uint64(session))), uint64(session))
	b = append(b, payload...)

	return errors.Wrap(a.conn.SendDatagram(b), "failed to send datagram")
}

func (a *adapter) Opener() internal.StreamOpener {
	return &opener{conn: a.conn}
}

func (a *adapter) CloseWithError(code uint64, reason string) error {
	return errors.Wrap(a.conn.CloseWithError(quic.ApplicationErrorCode(code), reason), "failed to close connection")
}
