// SPDX-License-Identifier: ice License 1.0

package session_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	stdlibtime "time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/webtransport/wtserver/fixture"
	"github.com/ice-blockchain/webtransport/wtserver/internal"
	"github.com/ice-blockchain/webtransport/wtserver/internal/conn"
	"github.com/ice-blockchain/webtransport/wtserver/internal/session"
)

const testDeadline = 10 * stdlibtime.Second

var errTransportBroken = errors.New("transport broken")

func connectRequest() *http.Request {
	req := httptest.NewRequest(http.MethodConnect, "https://localhost/wt", http.NoBody)
	req.Proto = "webtransport"

	return req
}

func acceptConnect(ctx context.Context, t *testing.T, id internal.SessionID) (*conn.Connection, *fixture.Transport, *conn.Request) {
	t.Helper()
	transport := fixture.NewTransport()
	wtConn := conn.New(transport)
	t.Cleanup(func() {
		_ = wtConn.Close(internal.CodeNoError, "test over")
	})
	transport.InjectRequestWithID(connectRequest(), id)
	pair, err := wtConn.Accept(ctx)
	require.NoError(t, err)
	require.NotNil(t, pair)

	return wtConn, transport, pair
}

func establish(ctx context.Context, t *testing.T, id internal.SessionID) (*session.Session, *fixture.Transport, *fixture.RequestStream) {
	t.Helper()
	_, transport, pair := acceptConnect(ctx, t, id)
	pending := session.Begin(pair.Req)
	require.NotNil(t, pending)
	wt, err := pending.Upgrade(ctx, pair.Stream)
	require.NoError(t, err)
	connectStream, ok := pair.Stream.(*fixture.RequestStream)
	require.True(t, ok)

	return wt, transport, connectStream
}

func TestUpgradeEstablishesSession(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	wt, transport, connectStream := establish(ctx, t, 8)
	assert.Equal(t, internal.SessionID(8), wt.ID())
	responses := connectStream.Responses()
	require.Len(t, responses, 1)
	assert.Equal(t, http.StatusOK, responses[0].Status)
	assert.Equal(t, "draft02", responses[0].Header.Get("sec-webtransport-http3-draft"))

	transport.InjectWebTransportStream(8, []byte("bidi"))
	stream, err := wt.AcceptStream(ctx)
	require.NoError(t, err)
	payload, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "bidi", string(payload))

	transport.InjectUniStream(8, []byte("uni"))
	uniStream, err := wt.AcceptUniStream(ctx)
	require.NoError(t, err)
	payload, err = io.ReadAll(uniStream)
	require.NoError(t, err)
	assert.Equal(t, "uni", string(payload))

	transport.InjectDatagram(8, []byte("dgram"))
	payload, err = wt.ReceiveDatagram(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dgram", string(payload))
}

func TestUpgradeIsConsumedExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	_, _, pair := acceptConnect(ctx, t, 0)
	pending := session.Begin(pair.Req)
	require.NotNil(t, pending)
	wt, err := pending.Upgrade(ctx, pair.Stream)
	require.NoError(t, err)
	require.NotNil(t, wt)

	again, err := pending.Upgrade(ctx, pair.Stream)
	require.ErrorIs(t, err, session.ErrUpgradeConsumed)
	assert.Nil(t, again)
}

func TestBeginIsNilForOrdinaryRequests(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	transport := fixture.NewTransport()
	wtConn := conn.New(transport)
	t.Cleanup(func() {
		_ = wtConn.Close(internal.CodeNoError, "test over")
	})
	transport.InjectRequest(httptest.NewRequest(http.MethodGet, "https://localhost/status", http.NoBody))
	pair, err := wtConn.Accept(ctx)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Nil(t, session.Begin(pair.Req))
}

func TestOpenStreamsAreBoundToTheSession(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	wt, transport, _ := establish(ctx, t, 12)
	_, err := wt.OpenStream(ctx)
	require.NoError(t, err)
	_, err = wt.OpenUniStream(ctx)
	require.NoError(t, err)

	opener, ok := transport.Opener().(*fixture.Opener)
	require.True(t, ok)
	assert.Equal(t, []internal.SessionID{12}, opener.OpenedBidi())
	assert.Equal(t, []internal.SessionID{12}, opener.OpenedUni())
}

func TestSendDatagram(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	wt, transport, _ := establish(ctx, t, 4)
	require.NoError(t, wt.SendDatagram(ctx, []byte("hello")))
	select {
	case sent := <-transport.SentDatagrams():
		assert.Equal(t, internal.SessionID(4), sent.Session)
		assert.Equal(t, []byte("hello"), sent.Payload)
	case <-stdlibtime.After(testDeadline):
		t.Fatal("timed out waiting for outbound datagram")
	}

	transport.SetSendDatagramError(errTransportBroken)
	err := wt.SendDatagram(ctx, []byte("nope"))
	require.ErrorIs(t, err, errTransportBroken)
}

func TestCloseStopsAcceptAndRouting(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	wt, transport, connectStream := establish(ctx, t, 0)
	require.NoError(t, wt.Close())
	require.NoError(t, wt.Close())

	_, err := wt.AcceptStream(ctx)
	require.ErrorIs(t, err, session.ErrSessionClosed)
	_, err = wt.AcceptUniStream(ctx)
	require.ErrorIs(t, err, session.ErrSessionClosed)
	_, err = wt.ReceiveDatagram(ctx)
	require.ErrorIs(t, err, session.ErrSessionClosed)
	select {
	case <-wt.Done():
	default:
		t.Fatal("done channel is still open after close")
	}

	assert.Equal(t, []uint64{internal.CodeNoError}, connectStream.ReadCancels())
	assert.Equal(t, []uint64{internal.CodeNoError}, connectStream.WriteCancels())

	rejected := transport.InjectWebTransportStream(0, nil)
	require.Eventually(t, func() bool {
		return len(rejected.ReadCancels()) == 1
	}, testDeadline, stdlibtime.Millisecond)
	assert.Equal(t, []uint64{internal.CodeRequestRejected}, rejected.ReadCancels())
}

func TestUpgradeRefusedWhenDriverGone(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), testDeadline)
	defer cancel()

	wtConn, transport, pair := acceptConnect(ctx, t, 0)
	transport.ClosePeer()
	ended, err := wtConn.Accept(ctx)
	require.NoError(t, err)
	require.Nil(t, ended)

	pending := session.Begin(pair.Req)
	require.NotNil(t, pending)
	abortedCtx, abort := context.WithCancel(context.Background())
	abort()
	wt, err := pending.Upgrade(abortedCtx, pair.Stream)
	require.ErrorIs(t, err, session.ErrConnectionGone)
	assert.Nil(t, wt)

	connectStream, ok := pair.Stream.(*fixture.RequestStream)
	require.True(t, ok)
	responses := connectStream.Responses()
	require.Len(t, responses, 1)
	assert.Equal(t, http.StatusInternalServerError, responses[0].Status)
}
