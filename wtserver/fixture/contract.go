// SPDX-License-Identifier: ice License 1.0

package fixture

import (
	"bytes"
	"net/http"
	"sync"

	"github.com/ice-blockchain/webtransport/wtserver/internal"
)

// Public API.

type (
	// Transport is an in-memory stand-in for the HTTP/3+QUIC capability. Tests
	// inject streams and datagrams as if the peer had opened them and observe
	// what the driver did in response.
	Transport struct {
		requests   chan internal.RequestStream
		uniStreams chan uniStreamIn
		datagrams  chan internal.Datagram
		failures   chan error
		sent       chan internal.Datagram
		closed     chan struct{}
		opener     *Opener
		closeOnce  sync.Once
		mx         sync.Mutex
		closeCode  uint64
		closeText  string
		wasClosed  bool
		sendErr    error
	}

	// RequestStream is a scriptable bidirectional stream double.
	RequestStream struct {
		req        *http.Request
		resolveErr error
		firstErr   error
		written    bytes.Buffer
		payload    *bytes.Reader
		responses  []Response
		readCancel []uint64
		sendCancel []uint64
		mx         sync.Mutex
		first      internal.FirstFrame
		id         internal.SessionID
		closed     bool
	}

	// ReceiveStream is a scriptable unidirectional stream double.
	ReceiveStream struct {
		payload    *bytes.Reader
		readCancel []uint64
		mx         sync.Mutex
	}

	Response struct {
		Header http.Header
		Status int
	}

	// Opener records the outbound streams the driver's handle opened.
	Opener struct {
		mx         sync.Mutex
		openedBidi []internal.SessionID
		openedUni  []internal.SessionID
	}
)

type (
	uniStreamIn struct {
		stream  internal.ReceiveStream
		session internal.SessionID
	}
)

const injectBuffer = 64
