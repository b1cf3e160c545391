// SPDX-License-Identifier: ice License 1.0

package wtserver

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/quic-go/quic-go"

	"github.com/ice-blockchain/webtransport/wtserver/internal"
	"github.com/ice-blockchain/webtransport/wtserver/internal/session"
)

type (
	Server interface {
		// ListenAndServe starts everything and blocks indefinitely.
		ListenAndServe(ctx context.Context, cancel context.CancelFunc)
	}

	Service interface {
		RegisterRoutes(router *Router)
		// HandleSession owns an upgraded WebTransport session; it is called on
		// its own goroutine and the session is closed when it returns.
		HandleSession(ctx context.Context, wt *Session)
		Init(ctx context.Context, cancel context.CancelFunc)
		Close(ctx context.Context) error
	}

	Router        = gin.Engine
	Session       = session.Session
	Pending       = session.Pending
	SessionID     = internal.SessionID
	Stream        = internal.Stream
	ReceiveStream = internal.ReceiveStream
	SendStream    = internal.SendStream
	RequestStream = internal.RequestStream
)

// ErrUpgradeConsumed is surfaced when the same CONNECT request is upgraded
// twice; the second caller keeps its stream and may answer it as plain HTTP.
var ErrUpgradeConsumed = session.ErrUpgradeConsumed

type (
	srv struct {
		cfg      *internal.Config
		router   *Router
		service  Service
		listener *quic.Listener
		quit     chan<- os.Signal
	}
)
