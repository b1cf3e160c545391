// SPDX-License-Identifier: ice License 1.0

package conn

func newIncoming() *Incoming {
	return &Incoming{
		ch:   make(chan *Request, incomingBuffer),
		done: make(chan struct{}),
	}
}

// enqueue hands a resolved request to the application. It blocks while the
// queue is saturated and reports false once the consumer is gone, which the
// driver treats as connection-fatal.
func (i *Incoming) enqueue(pair *Request) bool {
	select {
	case <-i.done:
		return false
	default:
	}
	select {
	case i.ch <- pair:
		return true
	case <-i.done:
		return false
	}
}

func (i *Incoming) close() {
	i.closeOnce.Do(func() {
		close(i.done)
	})
}
