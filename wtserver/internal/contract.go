// SPDX-License-Identifier: ice License 1.0

package internal

import (
	"context"
	"io"
	"net/http"
	stdlibtime "time"
)

// Public API.

type (
	// SessionID identifies a WebTransport session within one connection. It is
	// the QUIC stream id of the CONNECT request stream that established the
	// session and is never reused while the session is still registered.
	SessionID uint64

	ReceiveStream interface {
		io.Reader
		CancelRead(errorCode uint64)
		SetReadDeadline(deadline stdlibtime.Time) error
	}
	SendStream interface {
		io.WriteCloser
		CancelWrite(errorCode uint64)
		SetWriteDeadline(deadline stdlibtime.Time) error
	}
	Stream interface {
		ReceiveStream
		SendStream
	}

	// FirstFrame is the outcome of peeking the leading application frame of a
	// freshly accepted bidirectional stream. The stream's purpose is unknown
	// until that frame arrives.
	FirstFrame struct {
		Session      SessionID
		WebTransport bool
	}

	// RequestStream is an accepted bidirectional stream. Callers must classify
	// it via ReadFirstFrame before touching it: a WebTransport frame turns it
	// into a raw session stream, anything else resolves into an ordinary HTTP
	// exchange.
	RequestStream interface {
		Stream
		ID() SessionID
		ReadFirstFrame(ctx context.Context) (FirstFrame, error)
		Resolve(ctx context.Context) (*http.Request, error)
		SendResponse(status int, header http.Header) error
		WriteData(p []byte) (int, error)
	}

	Datagram struct {
		Payload []byte
		Session SessionID
	}

	// StreamOpener opens outbound streams already bound to a session. The
	// transport keeps its open primitives safely shareable, so openers may be
	// handed out to session tasks.
	StreamOpener interface {
		OpenStream(ctx context.Context, session SessionID) (Stream, error)
		OpenUniStream(ctx context.Context, session SessionID) (SendStream, error)
	}

	// Conn is the consumed HTTP/3+QUIC capability. It is exclusively drained
	// by the connection driver; everybody else goes through control channels
	// or through handles the driver handed out.
	Conn interface {
		AcceptRequestStream(ctx context.Context) (RequestStream, error)
		AcceptUniStream(ctx context.Context) (SessionID, ReceiveStream, error)
		ReceiveDatagram(ctx context.Context) (Datagram, error)
		SendDatagram(session SessionID, payload []byte) error
		Opener() StreamOpener
		CloseWithError(code uint64, reason string) error
	}

	Config struct {
		WTServer struct {
			CertPath     string              `yaml:"certPath"`
			KeyPath      string              `yaml:"keyPath"`
			Port         uint16              `yaml:"port"`
			WriteTimeout stdlibtime.Duration `yaml:"writeTimeout"`
			ReadTimeout  stdlibtime.Duration `yaml:"readTimeout"`
		} `yaml:"wtServer"`
		Development bool `yaml:"development"`
	}
)

type (
	customCancelContext struct {
		context.Context //nolint:containedctx // Custom implementation.
		ch              <-chan struct{}
	}
)
