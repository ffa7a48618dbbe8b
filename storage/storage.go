package storage

import (
	"context"
	"time"

	"github.com/bartke/accountstream/account"
)

// DefaultSyncInterval is how often polling backends look for new updates.
const DefaultSyncInterval = 5 * time.Second

// Account is the stored state of one account.
type Account struct {
	Key        account.Key      `msgpack:"key"`
	Data       []byte           `msgpack:"data"`
	Lamports   uint64           `msgpack:"lamports"`
	Owner      account.Key      `msgpack:"owner"`
	Executable bool             `msgpack:"executable"`
	Slot       uint64           `msgpack:"slot"`
	Seq        account.Sequence `msgpack:"seq"`
	UpdatedAt  time.Time        `msgpack:"updated_at"`
}

// Message converts the stored state into a feed message.
func (a Account) Message(startup bool) account.Message {
	return account.Message{
		Key:        a.Key,
		Seq:        a.Seq,
		Data:       a.Data,
		Executable: a.Executable,
		Lamports:   a.Lamports,
		Owner:      a.Owner,
		Slot:       a.Slot,
		Timestamp:  a.UpdatedAt,
		IsStartup:  startup,
	}
}

type Storage interface {
	// ListAccounts returns the keys of all stored accounts
	ListAccounts() ([]account.Key, error)

	// Sync retrieves the current state of the specified accounts. Unknown
	// accounts are left out of the result.
	Sync(keys []account.Key) (map[account.Key]Account, error)

	// Subscribe returns a channel that will receive updates for the
	// specified accounts. The channel is closed when ctx is done or the
	// backend fails.
	Subscribe(ctx context.Context, keys []account.Key) (<-chan Account, error)

	// PushUpdate stores a new state for an account and assigns it the next
	// sequence number, which is written back to a.Seq.
	PushUpdate(ctx context.Context, a *Account) error
}
