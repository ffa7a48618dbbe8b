package geyser

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

var errWireType = errors.New("geyser: unexpected wire type")

// Message is implemented by every request and response type of the Geyser
// service.
type Message interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire([]byte) error
}

type AccountUpdate struct {
	Slot         uint64
	Pubkey       []byte
	Lamports     uint64
	Owner        []byte
	IsExecutable bool
	Data         []byte
	Seq          uint64
	IsStartup    bool
}

type TimestampedAccountUpdate struct {
	Ts            time.Time
	AccountUpdate *AccountUpdate
}

type SubscribeAccountUpdatesRequest struct {
	Accounts [][]byte
}

type SyncAccountsRequest struct {
	Accounts [][]byte
}

type SyncAccountsResponse struct {
	Updates []*TimestampedAccountUpdate
}

type ListAccountsRequest struct{}

type ListAccountsResponse struct {
	Accounts [][]byte
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	return appendRepeated(b, num, v)
}

func appendRepeated(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, errWireType
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

// consumeBytes copies the field, the input buffer may be reused by the
// transport.
func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errWireType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return bytes.Clone(v), n, nil
}

// walk calls field for each field in b. A field func returning 0 consumed
// bytes marks the field unknown and it is skipped.
func walk(b []byte, field func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := field(num, typ, b)
		if err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return nil
}

func (m *AccountUpdate) MarshalWire() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, m.Slot)
	b = appendBytes(b, 2, m.Pubkey)
	b = appendVarint(b, 3, m.Lamports)
	b = appendBytes(b, 4, m.Owner)
	b = appendBool(b, 5, m.IsExecutable)
	b = appendBytes(b, 6, m.Data)
	b = appendVarint(b, 7, m.Seq)
	b = appendBool(b, 8, m.IsStartup)
	return b, nil
}

func (m *AccountUpdate) UnmarshalWire(b []byte) error {
	*m = AccountUpdate{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		var (
			v   uint64
			n   int
			err error
		)
		switch num {
		case 1:
			m.Slot, n, err = consumeVarint(typ, b)
		case 2:
			m.Pubkey, n, err = consumeBytes(typ, b)
		case 3:
			m.Lamports, n, err = consumeVarint(typ, b)
		case 4:
			m.Owner, n, err = consumeBytes(typ, b)
		case 5:
			v, n, err = consumeVarint(typ, b)
			m.IsExecutable = protowire.DecodeBool(v)
		case 6:
			m.Data, n, err = consumeBytes(typ, b)
		case 7:
			m.Seq, n, err = consumeVarint(typ, b)
		case 8:
			v, n, err = consumeVarint(typ, b)
			m.IsStartup = protowire.DecodeBool(v)
		}
		return n, err
	})
}

func (m *TimestampedAccountUpdate) MarshalWire() ([]byte, error) {
	var b []byte
	if !m.Ts.IsZero() {
		ts, err := proto.Marshal(timestamppb.New(m.Ts))
		if err != nil {
			return nil, err
		}
		b = appendRepeated(b, 1, ts)
	}
	if m.AccountUpdate != nil {
		u, err := m.AccountUpdate.MarshalWire()
		if err != nil {
			return nil, err
		}
		b = appendRepeated(b, 2, u)
	}
	return b, nil
}

func (m *TimestampedAccountUpdate) UnmarshalWire(b []byte) error {
	*m = TimestampedAccountUpdate{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(raw, &ts); err != nil {
				return 0, err
			}
			m.Ts = ts.AsTime()
			return n, nil
		case 2:
			raw, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			m.AccountUpdate = new(AccountUpdate)
			return n, m.AccountUpdate.UnmarshalWire(raw)
		}
		return 0, nil
	})
}

func marshalKeys(keys [][]byte) ([]byte, error) {
	var b []byte
	for _, k := range keys {
		b = appendRepeated(b, 1, k)
	}
	return b, nil
}

func unmarshalKeys(b []byte) ([][]byte, error) {
	var keys [][]byte
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		k, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		keys = append(keys, k)
		return n, nil
	})
	return keys, err
}

func (m *SubscribeAccountUpdatesRequest) MarshalWire() ([]byte, error) {
	return marshalKeys(m.Accounts)
}

func (m *SubscribeAccountUpdatesRequest) UnmarshalWire(b []byte) (err error) {
	m.Accounts, err = unmarshalKeys(b)
	return err
}

func (m *SyncAccountsRequest) MarshalWire() ([]byte, error) {
	return marshalKeys(m.Accounts)
}

func (m *SyncAccountsRequest) UnmarshalWire(b []byte) (err error) {
	m.Accounts, err = unmarshalKeys(b)
	return err
}

func (m *ListAccountsResponse) MarshalWire() ([]byte, error) {
	return marshalKeys(m.Accounts)
}

func (m *ListAccountsResponse) UnmarshalWire(b []byte) (err error) {
	m.Accounts, err = unmarshalKeys(b)
	return err
}

func (m *ListAccountsRequest) MarshalWire() ([]byte, error) {
	return nil, nil
}

func (m *ListAccountsRequest) UnmarshalWire(b []byte) error {
	return walk(b, func(protowire.Number, protowire.Type, []byte) (int, error) { return 0, nil })
}

func (m *SyncAccountsResponse) MarshalWire() ([]byte, error) {
	var b []byte
	for _, u := range m.Updates {
		raw, err := u.MarshalWire()
		if err != nil {
			return nil, err
		}
		b = appendRepeated(b, 1, raw)
	}
	return b, nil
}

func (m *SyncAccountsResponse) UnmarshalWire(b []byte) error {
	m.Updates = nil
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		raw, n, err := consumeBytes(typ, b)
		if err != nil {
			return 0, err
		}
		u := new(TimestampedAccountUpdate)
		if err := u.UnmarshalWire(raw); err != nil {
			return 0, err
		}
		m.Updates = append(m.Updates, u)
		return n, nil
	})
}
