package feed

import (
	"context"

	"github.com/bartke/accountstream/account"
)

// MessageHandler is invoked by a StreamSource for every inbound update.
type MessageHandler func(account.Message)

// ErrorHandler is invoked by a StreamSource when its stream fails. After an
// error the handle delivers nothing further.
type ErrorHandler func(error)

// Handle is one open upstream subscription.
//
// Close must be idempotent, must return in bounded time and must not wait for
// the goroutine delivering messages, which may be the caller.
type Handle interface {
	Close() error
}

// StreamSource opens subscriptions scoped to a set of accounts.
//
// Hooks run on a goroutine owned by the source, never from inside OpenStream.
// Messages for a single account are delivered in upstream order.
type StreamSource interface {
	OpenStream(ctx context.Context, keys []account.Key, onMessage MessageHandler, onError ErrorHandler) (Handle, error)
}

type noopHandle struct{}

func (noopHandle) Close() error { return nil }
