// SPDX-License-Identifier: ice License 1.0

package h3

import (
	"context"
	"io"
	"net"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/ice-blockchain/webtransport/wtserver/internal"
)

// mapError translates quic-go failures into the driver's taxonomy: terminal
// but clean conditions become ErrClosed, coded application errors become
// ConnError, everything else propagates as-is.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return internal.ErrClosed
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		if uint64(appErr.ErrorCode) == internal.CodeNoError {
			return internal.ErrClosed
		}

		return &internal.ConnError{Code: uint64(appErr.ErrorCode), Reason: appErr.ErrorMessage, Remote: appErr.Remote}
	}

	return errors.Wrap(err, "transport failure")
}
