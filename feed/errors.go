package feed

import (
	"errors"
	"fmt"

	"github.com/bartke/accountstream/account"
)

// ErrClosed is returned by AddSubscriptions after Close.
var ErrClosed = errors.New("feed: client closed")

// CallbackError reports a callback that failed while handling an update.
type CallbackError struct {
	Key account.Key
	// Address is the readable form of Key
	Address string
	Seq     account.Sequence
	Index   int
	Err     error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %d for account %s failed at seq %d: %v", e.Index, e.Address, e.Seq, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// TransportError reports the failure of the active upstream stream.
type TransportError struct {
	Generation uint64
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("account update stream %d failed: %v", e.Generation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
