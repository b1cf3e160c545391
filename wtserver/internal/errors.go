// SPDX-License-Identifier: ice License 1.0

package internal

import (
	"fmt"

	"github.com/pkg/errors"
)

// HTTP/3 application error codes surfaced by the multiplexer.
const (
	CodeNoError         uint64 = 0x100
	CodeGeneralProtocol uint64 = 0x101
	CodeInternalError   uint64 = 0x102
	CodeStreamCreation  uint64 = 0x103
	CodeFrameUnexpected uint64 = 0x105
	CodeFrameError      uint64 = 0x106
	CodeRequestRejected uint64 = 0x10b
	CodeDatagramError   uint64 = 0x33
)

// ErrClosed is the terminal condition of a transport that ended without a
// protocol violation. Draining loops treat it as a clean end, not a failure.
var ErrClosed = errors.New("connection closed")

type (
	// ConnError is a connection-scoped protocol error carrying the HTTP/3
	// application error code it was (or should be) closed with.
	ConnError struct {
		Reason string
		Code   uint64
		Remote bool
	}
)

func (e *ConnError) Error() string {
	side := "local"
	if e.Remote {
		side = "remote"
	}

	return fmt.Sprintf("%s connection error %#x: %s", side, e.Code, e.Reason)
}
