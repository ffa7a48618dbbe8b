// Package source provides feed.StreamSource implementations: GeyserSource
// reads a remote Geyser gRPC feed, StorageSource adapts a local storage
// backend.
package source
