package source

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrStreamClosed is reported when the upstream ends a stream the client did
// not close.
var ErrStreamClosed = errors.New("source: stream closed by upstream")

// handle stops a receive goroutine. Close only cancels, it never waits.
type handle struct {
	cancel context.CancelFunc
	closed atomic.Bool
}

func newHandle(cancel context.CancelFunc) *handle {
	return &handle{cancel: cancel}
}

func (h *handle) Close() error {
	h.closed.Store(true)
	h.cancel()
	return nil
}

func (h *handle) isClosed() bool {
	return h.closed.Load()
}
