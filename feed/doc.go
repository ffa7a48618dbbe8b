// Package feed multiplexes account subscriptions over a single upstream
// stream.
//
// An AccountUpdateClient owns one StreamSource handle scoped to every account
// registered with it. Adding subscriptions reopens the stream for the whole
// set, since the upstream has no per-account add or remove. Each inbound
// update is checked against the Registry: startup snapshots, duplicates and
// regressions are dropped, and accepted updates are handed to the account's
// callbacks in registration order.
//
// The client never reconnects on its own. A transport failure moves it to
// StateFailed and is reported on the configured error channel; the owner
// decides whether to dial again and call AddSubscriptions.
package feed
