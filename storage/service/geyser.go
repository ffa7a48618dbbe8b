package service

import (
	"context"

	"github.com/golang/protobuf/ptypes/empty"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bartke/accountstream/account"
	"github.com/bartke/accountstream/geyser"
	"github.com/bartke/accountstream/storage"
)

// GeyserServer serves account state from a storage backend over the Geyser
// gRPC service.
type GeyserServer struct {
	store storage.Storage
	log   logrus.FieldLogger
	keys  *account.KeyCache
	geyser.UnimplementedGeyserServer
}

func NewGeyserServer(store storage.Storage, logger logrus.FieldLogger) *GeyserServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &GeyserServer{
		store: store,
		log:   logger,
		keys:  account.NewKeyCache(),
	}
}

func (s *GeyserServer) ListAccounts(ctx context.Context, in *geyser.ListAccountsRequest) (*geyser.ListAccountsResponse, error) {
	keys, err := s.store.ListAccounts()
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list accounts: %v", err)
	}
	return &geyser.ListAccountsResponse{Accounts: geyser.KeysToBytes(keys)}, nil
}

func (s *GeyserServer) SyncAccounts(ctx context.Context, in *geyser.SyncAccountsRequest) (*geyser.SyncAccountsResponse, error) {
	keys, err := geyser.KeysFromBytes(in.Accounts)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid accounts: %v", err)
	}

	accounts, err := s.store.Sync(keys)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to sync accounts: %v", err)
	}

	resp := &geyser.SyncAccountsResponse{}
	for _, k := range keys {
		if a, ok := accounts[k]; ok {
			resp.Updates = append(resp.Updates, geyser.NewTimestampedAccountUpdate(a.Message(false)))
		}
	}
	return resp, nil
}

// SubscribeAccountUpdates replays the current state of every requested
// account flagged as startup, then streams live updates until the client
// goes away.
func (s *GeyserServer) SubscribeAccountUpdates(in *geyser.SubscribeAccountUpdatesRequest, stream geyser.Geyser_SubscribeAccountUpdatesServer) error {
	keys, err := geyser.KeysFromBytes(in.Accounts)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid accounts: %v", err)
	}
	if len(keys) == 0 {
		return status.Error(codes.InvalidArgument, "no accounts requested")
	}

	ctx := stream.Context()
	log := s.log.WithFields(logrus.Fields{
		"subscriber": uuid.NewString(),
		"accounts":   len(keys),
	})

	// subscribe before taking the snapshot so no write falls in between
	updates, err := s.store.Subscribe(ctx, keys)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to subscribe: %v", err)
	}

	snapshot, err := s.store.Sync(keys)
	if err != nil {
		return status.Errorf(codes.Internal, "failed to sync accounts: %v", err)
	}
	for _, k := range keys {
		a, ok := snapshot[k]
		if !ok {
			continue
		}
		if err := stream.Send(geyser.NewTimestampedAccountUpdate(a.Message(true))); err != nil {
			return err
		}
	}
	log.WithField("startup", len(snapshot)).Info("subscriber connected")

	for {
		select {
		case <-ctx.Done():
			log.Info("subscriber disconnected")
			return nil
		case a, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				log.Warn("storage subscription ended")
				return status.Error(codes.Unavailable, "storage subscription ended")
			}
			if err := stream.Send(geyser.NewTimestampedAccountUpdate(a.Message(false))); err != nil {
				log.WithError(err).Warn("failed to send update")
				return err
			}
		}
	}
}

func (s *GeyserServer) PushAccountUpdate(ctx context.Context, in *geyser.AccountUpdate) (*empty.Empty, error) {
	msg, err := (&geyser.TimestampedAccountUpdate{AccountUpdate: in}).Message()
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid update: %v", err)
	}

	a := &storage.Account{
		Key:        msg.Key,
		Data:       msg.Data,
		Lamports:   msg.Lamports,
		Owner:      msg.Owner,
		Executable: msg.Executable,
		Slot:       msg.Slot,
	}
	if err := s.store.PushUpdate(ctx, a); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to store update: %v", err)
	}
	s.log.WithFields(logrus.Fields{
		"key": s.keys.String(a.Key),
		"seq": a.Seq,
	}).Debug("account updated")
	return &empty.Empty{}, nil
}

var _ geyser.GeyserServer = (*GeyserServer)(nil)
