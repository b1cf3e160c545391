// SPDX-License-Identifier: ice License 1.0

package h3

import (
	"context"
	stdlibtime "time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/ice-blockchain/webtransport/wtserver/internal"
	"github.com/ice-blockchain/webtransport/wtserver/internal/wire"
)

type (
	receiveStream struct {
		stream quic.ReceiveStream
		r      quicvarint.Reader
	}
	sendStream struct {
		stream quic.SendStream
	}
	rawStream struct {
		stream quic.Stream
	}
	opener struct {
		conn quic.Connection
	}
)

func (s *receiveStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *receiveStream) CancelRead(errorCode uint64) {
	s.stream.CancelRead(quic.StreamErrorCode(errorCode))
}

func (s *receiveStream) SetReadDeadline(deadline stdlibtime.Time) error {
	return s.stream.SetReadDeadline(deadline)
}

func (s *sendStream) Write(p []byte) (int, error) {
	return s.stream.Write(p)
}

func (s *sendStream) Close() error {
	return s.stream.Close()
}

func (s *sendStream) CancelWrite(errorCode uint64) {
	s.stream.CancelWrite(quic.StreamErrorCode(errorCode))
}

func (s *sendStream) SetWriteDeadline(deadline stdlibtime.Time) error {
	return s.stream.SetWriteDeadline(deadline)
}

func (s *rawStream) Read(p []byte) (int, error) {
	return s.stream.Read(p)
}

func (s *rawStream) Write(p []byte) (int, error) {
	return s.stream.Write(p)
}

func (s *rawStream) Close() error {
	return s.stream.Close()
}

func (s *rawStream) CancelRead(errorCode uint64) {
	s.stream.CancelRead(quic.StreamErrorCode(errorCode))
}

func (s *rawStream) CancelWrite(errorCode uint64) {
	s.stream.CancelWrite(quic.StreamErrorCode(errorCode))
}

func (s *rawStream) SetReadDeadline(deadline stdlibtime.Time) error {
	return s.stream.SetReadDeadline(deadline)
}

func (s *rawStream) SetWriteDeadline(deadline stdlibtime.Time) error {
	return s.stream.SetWriteDeadline(deadline)
}

// OpenStream opens an outbound bidirectional stream and binds it to the
// session with a WEBTRANSPORT_STREAM frame header. quic-go's open primitives
// are safe for concurrent use, so openers may live on session tasks.
func (o *opener) OpenStream(ctx context.Context, session internal.SessionID) (internal.Stream, error) {
	stream, err := o.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open bidirectional stream")
	}
	if _, err = stream.Write(wire.AppendStreamHeader(nil, uint64(session))); err != nil {
		stream.CancelWrite(quic.StreamErrorCode(internal.CodeInternalError))

		return nil, errors.Wrap(err, "failed to write stream header")
	}

	return &rawStream{stream: stream}, nil
}

func (o *opener) OpenUniStream(ctx context.Context, session internal.SessionID) (internal.SendStream, error) {
	stream, err := o.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open unidirectional stream")
	}
	if _, err = stream.Write(wire.AppendUniStreamHeader(nil, uint64(session))); err != nil {
		stream.CancelWrite(quic.StreamErrorCode(internal.CodeInternalError))

		return nil, errors.Wrap(err, "failed to write stream header")
	}

	return &sendStream{stream: stream}, nil
}
