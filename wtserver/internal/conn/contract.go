// SPDX-License-Identifier: ice License 1.0

package conn

import (
	"context"
	"net/http"
	"sync"

	"github.com/ice-blockchain/webtransport/wtserver/internal"
)

// Public API.

type (
	// Request is an ordinary (non-WebTransport) request/stream pair popped by
	// the application from the incoming queue.
	Request struct {
		Req    *http.Request
		Stream internal.RequestStream
	}

	// ControlMessage is driver-internal work submitted by session tasks
	// through the bounded control channel. The submitter awaits a one-shot
	// reply, so the driver services these ahead of new transport work.
	ControlMessage interface {
		isControlMessage()
	}

	// UpgradeRequest registers a new session under Session. The driver replies
	// with the stream opener and the close-notifier sender, then inserts the
	// three send-ends into the registry. A closed Done channel means the
	// requester is gone and registration is skipped.
	UpgradeRequest struct {
		Reply     chan<- UpgradeReply
		Bidi      chan<- internal.Stream
		Uni       chan<- internal.ReceiveStream
		Datagrams chan<- []byte
		Done      <-chan struct{}
		Session   internal.SessionID
	}

	UpgradeReply struct {
		Opener  internal.StreamOpener
		CloseTx chan<- internal.SessionID
	}

	// SendDatagramRequest pushes an outbound datagram through the shared
	// connection on behalf of a session.
	SendDatagramRequest struct {
		Reply   chan<- error
		Payload []byte
		Session internal.SessionID
	}

	// CanUpgrade is the capability the driver attaches to a WebTransport
	// CONNECT request before handing it to the application.
	CanUpgrade struct {
		Control chan<- ControlMessage
		Session internal.SessionID
	}
)

func (*UpgradeRequest) isControlMessage()      {}
func (*SendDatagramRequest) isControlMessage() {}

type canUpgradeCtxKey struct{}

// WithCanUpgrade attaches the upgrade capability to a request.
func WithCanUpgrade(req *http.Request, capability CanUpgrade) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), canUpgradeCtxKey{}, capability))
}

// CanUpgradeFrom extracts the upgrade capability, if the driver attached one.
func CanUpgradeFrom(req *http.Request) (CanUpgrade, bool) {
	capability, ok := req.Context().Value(canUpgradeCtxKey{}).(CanUpgrade)

	return capability, ok
}

const (
	controlBuffer      = 128
	incomingBuffer     = 128
	sessionCloseBuffer = 128

	protocolWebTransport = "webtransport"
)

type (
	// Connection combines the incoming request queue with the connection
	// driver and exposes Accept/Close to the embedding server.
	Connection struct {
		driver    *Driver
		incoming  *Incoming
		ctx       context.Context //nolint:containedctx // Connection lifetime.
		cancel    context.CancelFunc
		driveDone chan struct{}
		driveErr  error
		driveOnce sync.Once
		closeOnce sync.Once
	}

	// Driver owns the transport and runs the single cooperative event loop
	// that services all event sources of the connection.
	Driver struct {
		conn         internal.Conn
		registry     *registry
		incoming     *Incoming
		control      chan ControlMessage
		sessionClose chan internal.SessionID
		requests     chan requestEvent
		uniStreams   chan uniStreamEvent
		datagrams    chan internal.Datagram
		errs         chan error
		pumpsOnce    sync.Once
	}

	// Incoming queues ordinary requests for the application.
	Incoming struct {
		ch        chan *Request
		done      chan struct{}
		closeOnce sync.Once
	}
)

type (
	closeEvent internal.SessionID

	// requestEvent is the classified outcome of an accepted bidirectional
	// stream: either an ordinary request/stream pair or a WebTransport stream
	// already bound to a session.
	requestEvent struct {
		pair         *Request
		stream       internal.Stream
		session      internal.SessionID
		webTransport bool
	}

	uniStreamEvent struct {
		stream  internal.ReceiveStream
		session internal.SessionID
	}
)
