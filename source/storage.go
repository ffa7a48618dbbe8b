package source

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/bartke/accountstream/account"
	"github.com/bartke/accountstream/feed"
	"github.com/bartke/accountstream/storage"
)

// StorageSource streams account updates straight from a storage backend in
// the same process. Like a Geyser server it replays the current state as
// startup messages before live updates.
type StorageSource struct {
	store storage.Storage
	log   logrus.FieldLogger
}

func NewStorageSource(store storage.Storage, logger logrus.FieldLogger) *StorageSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StorageSource{store: store, log: logger}
}

func (s *StorageSource) OpenStream(ctx context.Context, keys []account.Key, onMessage feed.MessageHandler, onError feed.ErrorHandler) (feed.Handle, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	updates, err := s.store.Subscribe(streamCtx, keys)
	if err != nil {
		cancel()
		return nil, err
	}
	snapshot, err := s.store.Sync(keys)
	if err != nil {
		cancel()
		return nil, err
	}

	h := newHandle(cancel)
	go func() {
		for _, k := range keys {
			a, ok := snapshot[k]
			if !ok {
				continue
			}
			if h.isClosed() {
				return
			}
			onMessage(a.Message(true))
		}

		for a := range updates {
			if h.isClosed() {
				return
			}
			onMessage(a.Message(false))
		}

		if h.isClosed() {
			return
		}
		err := streamCtx.Err()
		if err == nil {
			err = ErrStreamClosed
		}
		s.log.WithError(err).Debug("storage subscription ended")
		onError(err)
	}()
	return h, nil
}

var _ feed.StreamSource = (*StorageSource)(nil)
