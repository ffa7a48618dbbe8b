package feed

import "sync/atomic"

type counters struct {
	accepted         atomic.Uint64
	stale            atomic.Uint64
	unknownKey       atomic.Uint64
	startupSkipped   atomic.Uint64
	callbackFailures atomic.Uint64
	resubscriptions  atomic.Uint64
	handleCloses     atomic.Uint64
}

// Stats counts what happened to inbound updates since the client was created.
type Stats struct {
	Accepted         uint64
	Stale            uint64
	UnknownKey       uint64
	StartupSkipped   uint64
	CallbackFailures uint64
	Resubscriptions  uint64
	HandleCloses     uint64
}

func (c *AccountUpdateClient) Stats() Stats {
	return Stats{
		Accepted:         c.stats.accepted.Load(),
		Stale:            c.stats.stale.Load(),
		UnknownKey:       c.stats.unknownKey.Load(),
		StartupSkipped:   c.stats.startupSkipped.Load(),
		CallbackFailures: c.stats.callbackFailures.Load(),
		Resubscriptions:  c.stats.resubscriptions.Load(),
		HandleCloses:     c.stats.handleCloses.Load(),
	}
}
