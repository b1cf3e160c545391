// SPDX-License-Identifier: ice License 1.0

package wire_test

import (
	"bytes"
	"testing"

	"github.com/quic-go/quic-go/quicvarint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/webtransport/wtserver/internal/wire"
)

func TestStreamHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	header := wire.AppendStreamHeader(nil, 1596)
	r := bytes.NewReader(header)
	frameType, err := quicvarint.Read(r)
	require.NoError(t, err)
	assert.EqualValues(t, wire.FrameTypeWebTransportStream, frameType)
	session, err := wire.ReadSessionID(r)
	require.NoError(t, err)
	assert.EqualValues(t, 1596, session)
	assert.Zero(t, r.Len())
}

func TestUniStreamHeaderRoundTrip(t *testing.T) {
	t.Parallel()
	header := wire.AppendUniStreamHeader(nil, 4)
	r := bytes.NewReader(header)
	streamType, err := quicvarint.Read(r)
	require.NoError(t, err)
	assert.EqualValues(t, wire.StreamTypeWebTransportUniStream, streamType)
	session, err := wire.ReadSessionID(r)
	require.NoError(t, err)
	assert.EqualValues(t, 4, session)
}

func TestDatagramQuarterStreamID(t *testing.T) {
	t.Parallel()
	payload := []byte("ping")
	wrapped := append(wire.AppendDatagramHeader(nil, 400), payload...)
	session, got, err := wire.ParseDatagram(wrapped)
	require.NoError(t, err)
	// The wrapper carries the quarter id; the session id is 4x it.
	assert.EqualValues(t, 400, session)
	assert.Equal(t, payload, got)
}

func TestParseDatagramEmptyPayload(t *testing.T) {
	t.Parallel()
	session, payload, err := wire.ParseDatagram(wire.AppendDatagramHeader(nil, 0))
	require.NoError(t, err)
	assert.Zero(t, session)
	assert.Empty(t, payload)
}

func TestParseDatagramTruncated(t *testing.T) {
	t.Parallel()
	_, _, err := wire.ParseDatagram(nil)
	require.Error(t, err)
	// A varint with its length bits claiming more bytes than present.
	_, _, err = wire.ParseDatagram([]byte{0b01000000})
	require.Error(t, err)
}

func TestReadSessionIDTruncated(t *testing.T) {
	t.Parallel()
	_, err := wire.ReadSessionID(bytes.NewReader(nil))
	require.Error(t, err)
}
