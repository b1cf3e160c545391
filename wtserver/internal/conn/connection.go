// SPDX-License-Identifier: ice License 1.0

package conn

import (
	"context"

	"github.com/ice-blockchain/webtransport/wtserver/internal"
)

// New wraps an HTTP/3 transport into a WebTransport-capable connection.
func New(transportConn internal.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	incoming := newIncoming()

	return &Connection{
		driver:    newDriver(transportConn, incoming),
		incoming:  incoming,
		ctx:       ctx,
		cancel:    cancel,
		driveDone: make(chan struct{}),
	}
}

// Accept yields the next ordinary request/stream pair. It also (lazily) starts
// driving the connection so the transport keeps being serviced between calls:
// popping the queue races against the driver's own termination. A (nil, nil)
// result means the connection ended cleanly.
func (c *Connection) Accept(ctx context.Context) (*Request, error) {
	c.driveOnce.Do(func() {
		go func() {
			c.driveErr = c.driver.Drive(c.ctx)
			close(c.driveDone)
		}()
	})

	select {
	case pair := <-c.incoming.ch:
		return pair, nil
	case <-c.driveDone:
		// Drain requests that were queued before the driver stopped.
		select {
		case pair := <-c.incoming.ch:
			return pair, nil
		default:
		}

		return nil, c.driveErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears the connection down with the given code and reason and stops the
// driver loop.
func (c *Connection) Close(code uint64, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.incoming.close()
		err = c.driver.conn.CloseWithError(code, reason)
		c.cancel()
	})

	return err
}
