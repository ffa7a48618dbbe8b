package account

import (
	"bytes"
	"time"
)

// Sequence is the per-account update counter assigned by the upstream feed.
// There is no ordering between sequences of different accounts.
type Sequence uint64

// NoSequence marks an account for which no update has been accepted yet.
const NoSequence Sequence = 0

// Record is a snapshot of an account's state as handed to callbacks.
type Record struct {
	Data       []byte
	Executable bool
	Lamports   uint64
	Owner      Key
	Seq        Sequence
}

// Clone returns a copy that shares no memory with r.
func (r Record) Clone() Record {
	r.Data = bytes.Clone(r.Data)
	return r
}

// Message is a single update as delivered by a stream source.
type Message struct {
	Key        Key
	Seq        Sequence
	Data       []byte
	Executable bool
	Lamports   uint64
	Owner      Key
	Slot       uint64
	Timestamp  time.Time

	// IsStartup marks the initial state replay a feed sends when a
	// subscription is opened.
	IsStartup bool
}

// Record returns the callback view of the message.
func (m Message) Record() Record {
	return Record{
		Data:       m.Data,
		Executable: m.Executable,
		Lamports:   m.Lamports,
		Owner:      m.Owner,
		Seq:        m.Seq,
	}
}

// Callback receives accepted updates for a subscribed account. A returned
// error is logged and reported but does not stop delivery to other callbacks.
type Callback func(Record) error
