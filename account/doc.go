// Package account holds the account types shared by the feed client, the
// stream sources and the storage backends: keys, sequence numbers, update
// messages and the record view handed to consumer callbacks.
package account
