package geyser

import (
	"fmt"

	"github.com/bartke/accountstream/account"
)

// NewTimestampedAccountUpdate converts a feed message into its wire form.
func NewTimestampedAccountUpdate(msg account.Message) *TimestampedAccountUpdate {
	return &TimestampedAccountUpdate{
		Ts: msg.Timestamp,
		AccountUpdate: &AccountUpdate{
			Slot:         msg.Slot,
			Pubkey:       msg.Key.Bytes(),
			Lamports:     msg.Lamports,
			Owner:        msg.Owner.Bytes(),
			IsExecutable: msg.Executable,
			Data:         msg.Data,
			Seq:          uint64(msg.Seq),
			IsStartup:    msg.IsStartup,
		},
	}
}

// Message converts the wire form into a feed message. An empty owner decodes
// to the zero key.
func (m *TimestampedAccountUpdate) Message() (account.Message, error) {
	u := m.AccountUpdate
	if u == nil {
		return account.Message{}, fmt.Errorf("geyser: update without account")
	}
	key, err := account.KeyFromBytes(u.Pubkey)
	if err != nil {
		return account.Message{}, fmt.Errorf("geyser: pubkey: %w", err)
	}
	var owner account.Key
	if len(u.Owner) > 0 {
		if owner, err = account.KeyFromBytes(u.Owner); err != nil {
			return account.Message{}, fmt.Errorf("geyser: owner: %w", err)
		}
	}
	return account.Message{
		Key:        key,
		Seq:        account.Sequence(u.Seq),
		Data:       u.Data,
		Executable: u.IsExecutable,
		Lamports:   u.Lamports,
		Owner:      owner,
		Slot:       u.Slot,
		Timestamp:  m.Ts,
		IsStartup:  u.IsStartup,
	}, nil
}

// KeysToBytes converts account keys to their raw wire form.
func KeysToBytes(keys []account.Key) [][]byte {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = k.Bytes()
	}
	return out
}

// KeysFromBytes parses raw wire keys.
func KeysFromBytes(raw [][]byte) ([]account.Key, error) {
	keys := make([]account.Key, len(raw))
	for i, r := range raw {
		k, err := account.KeyFromBytes(r)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		keys[i] = k
	}
	return keys, nil
}
