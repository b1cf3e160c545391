// SPDX-License-Identifier: ice License 1.0

package wtserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	stdlibtime "time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	appcfg "github.com/ice-blockchain/webtransport/config"
	"github.com/ice-blockchain/webtransport/log"
	"github.com/ice-blockchain/webtransport/wtserver/internal"
	"github.com/ice-blockchain/webtransport/wtserver/internal/conn"
	"github.com/ice-blockchain/webtransport/wtserver/internal/h3"
	"github.com/ice-blockchain/webtransport/wtserver/internal/session"
)

func New(service Service, cfgKey string) Server {
	var cfg internal.Config
	appcfg.MustLoadFromKey(cfgKey, &cfg)
	s := &srv{cfg: &cfg, service: service}
	s.setupRouter()

	return s
}

func (s *srv) setupRouter() {
	if !s.cfg.Development {
		gin.SetMode(gin.ReleaseMode)
		s.router = gin.New()
		s.router.Use(gin.Recovery())
	} else {
		gin.ForceConsoleColor()
		s.router = gin.Default()
	}
	log.Info(fmt.Sprintf("GIN Mode: %v\n", gin.Mode()))
	s.router.HandleMethodNotAllowed = true
	s.router.RedirectFixedPath = true
	s.router.RemoveExtraSlash = true
	s.router.UseRawPath = true

	log.Info("registering routes...")
	s.service.RegisterRoutes(s.router)
	log.Info(fmt.Sprintf("%v routes registered", len(s.router.Routes())))
}

func (s *srv) ListenAndServe(ctx context.Context, cancel context.CancelFunc) {
	s.service.Init(ctx, cancel)
	quit := make(chan os.Signal, 1)
	s.quit = quit
	go s.startServer(ctx)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case <-quit:
	}
	s.shutDown(ctx)
}

func (s *srv) startServer(ctx context.Context) {
	defer log.Info("server stopped listening")
	log.Info(fmt.Sprintf("server started listening on %v...", s.cfg.WTServer.Port))

	tlsConfig, err := s.tlsConfig()
	if err != nil {
		log.Error(errors.Wrap(err, "failed to load tls key pair"))
		s.quit <- syscall.SIGTERM

		return
	}
	listener, err := quic.ListenAddr(fmt.Sprintf(":%v", s.cfg.WTServer.Port), tlsConfig, &quic.Config{EnableDatagrams: true})
	if err != nil {
		log.Error(errors.Wrap(err, "failed to start http3/udp listener"))
		s.quit <- syscall.SIGTERM

		return
	}
	s.listener = listener
	s.acceptConnections(ctx)
}

func (s *srv) tlsConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.cfg.WTServer.CertPath, s.cfg.WTServer.KeyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %q/%q", s.cfg.WTServer.CertPath, s.cfg.WTServer.KeyPath)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3"},
	}, nil
}

func (s *srv) acceptConnections(ctx context.Context) {
	retry := backoff.NewExponentialBackOff()
	retry.MaxInterval = stdlibtime.Second
	for ctx.Err() == nil {
		qconn, err := s.listener.Accept(ctx)
		if err != nil {
			if errors.Is(err, quic.ErrServerClosed) || ctx.Err() != nil {
				return
			}
			log.Error(errors.Wrap(err, "failed to accept quic connection"))
			select {
			case <-ctx.Done():
				return
			case <-stdlibtime.After(retry.NextBackOff()):
			}

			continue
		}
		retry.Reset()
		go s.serveQUICConn(ctx, qconn)
	}
}

func (s *srv) serveQUICConn(ctx context.Context, qconn quic.Connection) {
	connID := uuid.NewString()
	transportConn, err := h3.New(qconn)
	if err != nil {
		log.Error(errors.Wrap(err, "failed to set up http3 connection"), "connectionId", connID)
		_ = qconn.CloseWithError(quic.ApplicationErrorCode(internal.CodeInternalError), "setup failed") //nolint:errcheck // Already failing.

		return
	}
	wtConn := conn.New(transportConn)
	defer func() {
		log.Error(errors.Wrap(wtConn.Close(internal.CodeNoError, ""), "failed to close connection"), "connectionId", connID)
	}()
	s.serveConn(ctx, wtConn, connID)
}

// serveConn pulls request/stream pairs off one connection, upgrading eligible
// CONNECT requests into sessions and serving everything else through the
// router.
func (s *srv) serveConn(ctx context.Context, wtConn *conn.Connection, connID string) {
	for ctx.Err() == nil {
		pair, err := wtConn.Accept(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error(errors.Wrap(err, "connection failed"), "connectionId", connID)
			}

			return
		}
		if pair == nil {
			log.Debug("connection ended", "connectionId", connID)

			return
		}
		if pending := session.Begin(pair.Req); pending != nil {
			go s.upgradeSession(ctx, pending, pair, connID)

			continue
		}
		go s.serveRequest(pair)
	}
}

func (s *srv) upgradeSession(ctx context.Context, pending *Pending, pair *conn.Request, connID string) {
	wt, err := pending.Upgrade(ctx, pair.Stream)
	if err != nil {
		log.Error(errors.Wrap(err, "webtransport upgrade failed"), "connectionId", connID)

		return
	}
	defer func() {
		log.Error(errors.Wrap(wt.Close(), "failed to close session"), "connectionId", connID)
	}()
	s.service.HandleSession(internal.NewCustomCancelContext(ctx, wt.Done()), wt)
}

func (s *srv) serveRequest(pair *conn.Request) {
	if timeout := s.cfg.WTServer.ReadTimeout; timeout > 0 {
		log.Error(errors.Wrap(pair.Stream.SetReadDeadline(stdlibtime.Now().Add(timeout)), "failed to set read deadline"))
	}
	if timeout := s.cfg.WTServer.WriteTimeout; timeout > 0 {
		log.Error(errors.Wrap(pair.Stream.SetWriteDeadline(stdlibtime.Now().Add(timeout)), "failed to set write deadline"))
	}
	writer := newStreamResponseWriter(pair.Stream)
	s.router.ServeHTTP(writer, pair.Req)
	writer.finish()
	log.Error(errors.Wrap(pair.Stream.Close(), "failed to finish request stream"))
}

func (s *srv) shutDown(_ context.Context) {
	log.Info("shutting down server...")
	closeCtx, closeCancel := context.WithCancel(context.Background())
	defer closeCancel()

	err := multierror.Append(nil, s.service.Close(closeCtx)) //nolint:contextcheck // Graceful shutdown runs on a fresh context.
	if s.listener != nil {
		err = multierror.Append(err, s.listener.Close())
	}
	if fErr := err.ErrorOrNil(); fErr != nil {
		log.Error(errors.Wrap(fErr, "server shutdown failed"))
	} else {
		log.Info("server shutdown succeeded")
	}
}
