// SPDX-License-Identifier: ice License 1.0

package wire

import (
	"io"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go/quicvarint"
)

// HTTP/3 frame types and stream types needed to route WebTransport traffic.
// Everything beyond routing stays with the HTTP/3 layer.
const (
	FrameTypeData               = 0x00
	FrameTypeHeaders            = 0x01
	FrameTypeSettings           = 0x04
	FrameTypeWebTransportStream = 0x41

	StreamTypeControl               = 0x00
	StreamTypePush                  = 0x01
	StreamTypeQPACKEncoder          = 0x02
	StreamTypeQPACKDecoder          = 0x03
	StreamTypeWebTransportUniStream = 0x54

	SettingDatagram                = 0x33
	SettingExtendedConnect         = 0x08
	SettingEnableWebTransport      = 0x2b603742
	SettingWebTransportMaxSessions = 0xc671706a
)

// ReadSessionID reads the varint session id that follows a WEBTRANSPORT_STREAM
// frame type or a WebTransport uni stream type.
func ReadSessionID(r io.ByteReader) (uint64, error) {
	id, err := quicvarint.Read(r)

	return id, errors.Wrap(err, "failed to read webtransport session id")
}

// AppendStreamHeader prepends the WEBTRANSPORT_STREAM frame header binding an
// outbound bidirectional stream to a session.
func AppendStreamHeader(b []byte, sessionID uint64) []byte {
	b = quicvarint.Append(b, FrameTypeWebTransportStream)

	return quicvarint.Append(b, sessionID)
}

// AppendUniStreamHeader prepends the WebTransport uni stream type binding an
// outbound unidirectional stream to a session.
func AppendUniStreamHeader(b []byte, sessionID uint64) []byte {
	b = quicvarint.Append(b, StreamTypeWebTransportUniStream)

	return quicvarint.Append(b, sessionID)
}

// ParseDatagram decodes the HTTP/3 datagram wrapper: a quarter stream id
// varint followed by the raw payload. The session id is the CONNECT request
// stream id, i.e. 4 times the quarter id.
func ParseDatagram(data []byte) (sessionID uint64, payload []byte, err error) {
	buf := &byteReader{data: data}
	quarterID, err := quicvarint.Read(buf)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to read datagram quarter stream id")
	}

	return quarterID * 4, data[buf.pos:], nil
}

// AppendDatagramHeader prepends the quarter stream id wrapper to an outbound
// datagram payload.
func AppendDatagramHeader(b []byte, sessionID uint64) []byte {
	return quicvarint.Append(b, sessionID/4)
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++

	return b, nil
}
