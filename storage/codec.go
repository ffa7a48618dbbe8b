package storage

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func encodeAccount(a *Account) ([]byte, error) {
	b, err := msgpack.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode account %s: %w", a.Key, err)
	}
	return b, nil
}

func decodeAccount(b []byte) (Account, error) {
	var a Account
	if err := msgpack.Unmarshal(b, &a); err != nil {
		return Account{}, fmt.Errorf("failed to decode account: %w", err)
	}
	return a, nil
}

// timeNow is truncated to microseconds so stored timestamps survive every
// backend's encoding unchanged.
func timeNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
