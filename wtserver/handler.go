// SPDX-License-Identifier: ice License 1.0

package wtserver

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/ice-blockchain/webtransport/log"
	"github.com/ice-blockchain/webtransport/wtserver/internal"
)

type (
	// streamResponseWriter adapts an HTTP/3 request stream to the router's
	// http.ResponseWriter so plain requests are served the regular way.
	streamResponseWriter struct {
		stream      internal.RequestStream
		header      http.Header
		wroteHeader bool
	}
)

func newStreamResponseWriter(stream internal.RequestStream) *streamResponseWriter {
	return &streamResponseWriter{stream: stream, header: make(http.Header)}
}

func (w *streamResponseWriter) Header() http.Header {
	return w.header
}

func (w *streamResponseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	log.Error(errors.Wrap(w.stream.SendResponse(status, w.header), "failed to send response headers"))
}

func (w *streamResponseWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}

	return w.stream.WriteData(p) //nolint:wrapcheck // Raw stream semantics.
}

// finish makes sure empty-bodied handlers still answer the exchange.
func (w *streamResponseWriter) finish() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
}
