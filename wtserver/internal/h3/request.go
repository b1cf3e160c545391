// SPDX-License-Identifier: ice License 1.0

package h3

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	stdlibtime "time"

	"github.com/pkg/errors"
	"github.com/quic-go/qpack"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/quicvarint"

	"github.com/ice-blockchain/webtransport/wtserver/internal"
	"github.com/ice-blockchain/webtransport/wtserver/internal/wire"
)

const maxHeaderBlockSize = 64 << 10

type (
	// requestStream is an accepted bidirectional stream. Until its first
	// application frame is read its purpose is unknown: a WEBTRANSPORT_STREAM
	// frame makes it a raw session stream, anything else resolves into an
	// ordinary HTTP exchange.
	requestStream struct {
		stream         quic.Stream
		r              quicvarint.Reader
		firstFrameType uint64
		peeked         bool
	}

	// bodyReader exposes the DATA frames following the request headers as a
	// plain byte stream.
	bodyReader struct {
		rs        *requestStream
		remaining uint64
		eof       bool
	}
)

func newRequestStream(stream quic.Stream) *requestStream {
	return &requestStream{stream: stream, r: quicvarint.NewReader(stream)}
}

func (s *requestStream) ID() internal.SessionID {
	return internal.SessionID(s.stream.StreamID())
}

func (s *requestStream) ReadFirstFrame(_ context.Context) (internal.FirstFrame, error) {
	frameType, err := quicvarint.Read(s.r)
	if err != nil {
		return internal.FirstFrame{}, mapError(err)
	}
	if frameType == wire.FrameTypeWebTransportStream {
		sessionID, sErr := wire.ReadSessionID(s.r)
		if sErr != nil {
			return internal.FirstFrame{}, &internal.ConnError{Code: internal.CodeFrameError, Reason: "malformed webtransport stream frame"}
		}

		return internal.FirstFrame{WebTransport: true, Session: internal.SessionID(sessionID)}, nil
	}
	s.firstFrameType, s.peeked = frameType, true

	return internal.FirstFrame{}, nil
}

func (s *requestStream) Resolve(_ context.Context) (*http.Request, error) {
	if !s.peeked {
		return nil, errors.New("request stream was not classified")
	}
	if s.firstFrameType != wire.FrameTypeHeaders {
		return nil, &internal.ConnError{Code: internal.CodeFrameUnexpected, Reason: "expected headers frame"}
	}
	blockLen, err := quicvarint.Read(s.r)
	if err != nil {
		return nil, mapError(err)
	}
	if blockLen > maxHeaderBlockSize {
		return nil, &internal.ConnError{Code: internal.CodeFrameError, Reason: "header block too large"}
	}
	block := make([]byte, blockLen)
	if _, err = io.ReadFull(s.r, block); err != nil {
		return nil, mapError(err)
	}
	fields, err := qpack.NewDecoder(nil).DecodeFull(block)
	if err != nil {
		return nil, &internal.ConnError{Code: internal.CodeGeneralProtocol, Reason: "malformed header block"}
	}

	return s.buildRequest(fields)
}

//nolint:funlen // Pseudo-header juggling is flat and readable as one unit.
func (s *requestStream) buildRequest(fields []qpack.HeaderField) (*http.Request, error) {
	var method, scheme, authority, path, protocol string
	header := make(http.Header, len(fields))
	for i := range fields {
		field := fields[i]
		switch field.Name {
		case ":method":
			method = field.Value
		case ":scheme":
			scheme = field.Value
		case ":authority":
			authority = field.Value
		case ":path":
			path = field.Value
		case ":protocol":
			protocol = field.Value
		default:
			if !strings.HasPrefix(field.Name, ":") {
				header.Add(field.Name, field.Value)
			}
		}
	}
	if method == "" {
		return nil, &internal.ConnError{Code: internal.CodeGeneralProtocol, Reason: "missing :method"}
	}
	reqURL, err := url.ParseRequestURI(path)
	if err != nil {
		if method != http.MethodConnect {
			return nil, &internal.ConnError{Code: internal.CodeGeneralProtocol, Reason: "malformed :path"}
		}
		reqURL = &url.URL{}
	}
	reqURL.Scheme, reqURL.Host = scheme, authority

	req := &http.Request{
		Method:        method,
		URL:           reqURL,
		Proto:         "HTTP/3.0",
		ProtoMajor:    3,
		Header:        header,
		Host:          authority,
		RequestURI:    path,
		ContentLength: -1,
		Body:          http.NoBody,
	}
	if cl := header.Get("Content-Length"); cl != "" {
		if length, pErr := strconv.ParseInt(cl, 10, 64); pErr == nil {
			req.ContentLength = length
		}
	}
	if method == http.MethodConnect && protocol != "" {
		// Extended CONNECT: the negotiated protocol token takes Proto's place,
		// mirroring how the stdlib-derived HTTP/3 servers expose it.
		req.Proto = protocol
	} else {
		req.Body = io.NopCloser(&bodyReader{rs: s})
	}

	return req, nil
}

func (s *requestStream) SendResponse(status int, header http.Header) error {
	var block bytes.Buffer
	encoder := qpack.NewEncoder(&block)
	if err := encoder.WriteField(qpack.HeaderField{Name: ":status", Value: strconv.Itoa(status)}); err != nil {
		return errors.Wrap(err, "failed to encode status")
	}
	for name, values := range header {
		for _, value := range values {
			if err := encoder.WriteField(qpack.HeaderField{Name: strings.ToLower(name), Value: value}); err != nil {
				return errors.Wrapf(err, "failed to encode header %q", name)
			}
		}
	}
	b := quicvarint.Append(nil, wire.FrameTypeHeaders)
	b = quicvarint.Append(b, uint64(block.Len()))
	b = append(b, block.Bytes()...)
	_, err := s.stream.Write(b)

	return errors.Wrap(err, "failed to write response headers")
}

// WriteData sends a response body chunk as a DATA frame.
func (s *requestStream) WriteData(p []byte) (int, error) {
	b := quicvarint.Append(nil, wire.FrameTypeData)
	b = quicvarint.Append(b, uint64(len(p)))
	b = append(b, p...)
	if _, err := s.stream.Write(b); err != nil {
		return 0, errors.Wrap(err, "failed to write data frame")
	}

	return len(p), nil
}

func (s *requestStream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *requestStream) Write(p []byte) (int, error) {
	return s.stream.Write(p)
}

func (s *requestStream) Close() error {
	return s.stream.Close()
}

func (s *requestStream) CancelRead(errorCode uint64) {
	s.stream.CancelRead(quic.StreamErrorCode(errorCode))
}

func (s *requestStream) CancelWrite(errorCode uint64) {
	s.stream.CancelWrite(quic.StreamErrorCode(errorCode))
}

func (s *requestStream) SetReadDeadline(deadline stdlibtime.Time) error {
	return s.stream.SetReadDeadline(deadline)
}

func (s *requestStream) SetWriteDeadline(deadline stdlibtime.Time) error {
	return s.stream.SetWriteDeadline(deadline)
}

func (b *bodyReader) Read(p []byte) (int, error) {
	if b.eof {
		return 0, io.EOF
	}
	for b.remaining == 0 {
		frameType, err := quicvarint.Read(b.rs.r)
		if err != nil {
			b.eof = true

			return 0, io.EOF
		}
		frameLen, err := quicvarint.Read(b.rs.r)
		if err != nil {
			b.eof = true

			return 0, io.ErrUnexpectedEOF
		}
		if frameType == wire.FrameTypeData {
			b.remaining = frameLen
		} else if _, err = io.CopyN(io.Discard, b.rs.r, int64(frameLen)); err != nil {
			b.eof = true

			return 0, errors.Wrap(err, "failed to skip frame")
		}
	}
	if uint64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rs.r.Read(p)
	b.remaining -= uint64(n)

	return n, err //nolint:wrapcheck // Raw stream semantics.
}
