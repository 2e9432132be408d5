// Package netcard exposes the acoustic link as a plain duplex byte stream,
// hiding the MAC controller's CSMA/CA machinery behind a small facade.
package netcard

import (
	"context"

	"github.com/cwsl/acoustic-netstack/internal/mac"
)

// Completion resolves once a send attempt finishes, reporting whether the
// payload was acknowledged end to end.
type Completion struct {
	done chan bool
}

// Wait blocks until the send completes and reports its outcome.
func (c *Completion) Wait() bool {
	return <-c.done
}

// NetCard owns a MAC controller and exposes send/recv as a duplex stream.
type NetCard struct {
	ctrl *mac.Controller
}

// New wraps an already-constructed MAC controller.
func New(ctrl *mac.Controller) *NetCard {
	return &NetCard{ctrl: ctrl}
}

// SendNonblocking chunks and transmits bytes to dst in the background,
// returning immediately with a Completion the caller can wait on.
func (n *NetCard) SendNonblocking(ctx context.Context, dst byte, bytes []byte) *Completion {
	c := &Completion{done: make(chan bool, 1)}
	go func() {
		err := n.ctrl.Send(ctx, dst, bytes)
		c.done <- err == nil
	}()
	return c
}

// Send chunks and transmits bytes to dst, blocking until the send resolves.
func (n *NetCard) Send(ctx context.Context, dst byte, bytes []byte) bool {
	return n.SendNonblocking(ctx, dst, bytes).Wait()
}

// RecvNext blocks until the next reassembled application payload directed
// to this node arrives, or ctx is cancelled.
func (n *NetCard) RecvNext(ctx context.Context) ([]byte, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case payload, ok := <-n.ctrl.Recv:
		return payload, ok
	}
}
