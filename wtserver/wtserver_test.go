// SPDX-License-Identifier: ice License 1.0

package wtserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	stdlibtime "time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/webtransport/wtserver/fixture"
	"github.com/ice-blockchain/webtransport/wtserver/internal"
	"github.com/ice-blockchain/webtransport/wtserver/internal/conn"
)

const testDeadline = 10 * stdlibtime.Second

type testService struct {
	sessions chan *Session
	released chan struct{}
}

func newTestService() *testService {
	return &testService{sessions: make(chan *Session, 1), released: make(chan struct{})}
}

func (*testService) RegisterRoutes(router *Router) {
	router.GET("/status", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
}

func (s *testService) HandleSession(_ context.Context, wt *Session) {
	s.sessions <- wt
	<-s.released
}

func (*testService) Init(_ context.Context, _ context.CancelFunc) {}

func (*testService) Close(_ context.Context) error {
	return nil
}

func startServedConnection(t *testing.T, service *testService) *fixture.Transport {
	t.Helper()
	server, ok := New(service, "self").(*srv)
	require.True(t, ok)
	transport := fixture.NewTransport()
	wtConn := conn.New(transport)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = wtConn.Close(internal.CodeNoError, "test over")
	})
	go server.serveConn(ctx, wtConn, "test-connection")

	return transport
}

func TestPlainRequestServedThroughRouter(t *testing.T) {
	service := newTestService()
	transport := startServedConnection(t, service)

	stream := transport.InjectRequest(httptest.NewRequest(http.MethodGet, "https://localhost/status", http.NoBody))
	require.Eventually(t, func() bool {
		return len(stream.Responses()) == 1 && string(stream.Written()) == "ok"
	}, testDeadline, stdlibtime.Millisecond)
	assert.Equal(t, http.StatusOK, stream.Responses()[0].Status)
}

func TestUnknownRouteAnswered(t *testing.T) {
	service := newTestService()
	transport := startServedConnection(t, service)

	stream := transport.InjectRequest(httptest.NewRequest(http.MethodGet, "https://localhost/nope", http.NoBody))
	require.Eventually(t, func() bool {
		return len(stream.Responses()) == 1
	}, testDeadline, stdlibtime.Millisecond)
	assert.Equal(t, http.StatusNotFound, stream.Responses()[0].Status)
}

func TestConnectUpgradedIntoSession(t *testing.T) {
	service := newTestService()
	transport := startServedConnection(t, service)

	req := httptest.NewRequest(http.MethodConnect, "https://localhost/wt", http.NoBody)
	req.Proto = "webtransport"
	connectStream := transport.InjectRequestWithID(req, 4)

	var wt *Session
	select {
	case wt = <-service.sessions:
	case <-stdlibtime.After(testDeadline):
		t.Fatal("timed out waiting for the session handler")
	}
	assert.Equal(t, SessionID(4), wt.ID())
	responses := connectStream.Responses()
	require.Len(t, responses, 1)
	assert.Equal(t, http.StatusOK, responses[0].Status)
	assert.Equal(t, "draft02", responses[0].Header.Get("sec-webtransport-http3-draft"))

	// The session is closed as soon as its handler returns.
	close(service.released)
	require.Eventually(t, func() bool {
		return len(connectStream.ReadCancels()) == 1
	}, testDeadline, stdlibtime.Millisecond)
	assert.Equal(t, []uint64{internal.CodeNoError}, connectStream.ReadCancels())
	select {
	case <-wt.Done():
	case <-stdlibtime.After(testDeadline):
		t.Fatal("session still open after its handler returned")
	}
}

func TestStreamResponseWriter(t *testing.T) {
	stream := &fixture.RequestStream{}
	writer := newStreamResponseWriter(stream)
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusAccepted)
	writer.WriteHeader(http.StatusTeapot) // Ignored, headers already sent.
	n, err := writer.Write([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	writer.finish()

	responses := stream.Responses()
	require.Len(t, responses, 1)
	assert.Equal(t, http.StatusAccepted, responses[0].Status)
	assert.Equal(t, "application/json", responses[0].Header.Get("Content-Type"))
	assert.Equal(t, `{}`, string(stream.Written()))
}

func TestStreamResponseWriterDefaultsTo200(t *testing.T) {
	stream := &fixture.RequestStream{}
	writer := newStreamResponseWriter(stream)
	writer.finish()

	responses := stream.Responses()
	require.Len(t, responses, 1)
	assert.Equal(t, http.StatusOK, responses[0].Status)
	assert.Empty(t, stream.Written())
}
