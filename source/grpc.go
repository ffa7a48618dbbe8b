package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/bartke/accountstream/account"
	"github.com/bartke/accountstream/config"
	"github.com/bartke/accountstream/feed"
	"github.com/bartke/accountstream/geyser"
)

const tokenHeader = "x-token"

// tokenAuth attaches the feed access token to every call.
type tokenAuth struct {
	token      string
	requireTLS bool
}

func (t tokenAuth) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{tokenHeader: t.token}, nil
}

func (t tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}

// GeyserSource subscribes to a Geyser gRPC feed.
type GeyserSource struct {
	conn   *grpc.ClientConn
	client geyser.GeyserClient
	log    logrus.FieldLogger
}

// Dial connects to the feed described by cfg. Extra options are appended
// after the ones derived from cfg.
func Dial(ctx context.Context, cfg config.Geyser, logger logrus.FieldLogger, extra ...grpc.DialOption) (*GeyserSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid geyser config: %w", err)
	}

	opts := []grpc.DialOption{
		geyser.DialOption(),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	}
	if cfg.AccessToken != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(tokenAuth{token: cfg.AccessToken, requireTLS: !cfg.Insecure}))
	}
	opts = append(opts, extra...)

	conn, err := grpc.DialContext(ctx, cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.URL, err)
	}

	s := NewGeyserSource(conn, logger)
	s.conn = conn
	return s, nil
}

// NewGeyserSource uses an existing connection, which must have been dialed
// with geyser.DialOption. Close does not close it.
func NewGeyserSource(cc grpc.ClientConnInterface, logger logrus.FieldLogger) *GeyserSource {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &GeyserSource{
		client: geyser.NewGeyserClient(cc),
		log:    logger,
	}
}

// Close closes the connection opened by Dial.
func (s *GeyserSource) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// OpenStream opens one server stream for keys. The stream ends when the
// handle is closed or ctx is done.
func (s *GeyserSource) OpenStream(ctx context.Context, keys []account.Key, onMessage feed.MessageHandler, onError feed.ErrorHandler) (feed.Handle, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := s.client.SubscribeAccountUpdates(streamCtx, &geyser.SubscribeAccountUpdatesRequest{
		Accounts: geyser.KeysToBytes(keys),
	})
	if err != nil {
		cancel()
		return nil, err
	}

	h := newHandle(cancel)
	log := s.log.WithFields(logrus.Fields{
		"stream_id": uuid.NewString(),
		"accounts":  len(keys),
	})
	go s.receive(h, stream, log, onMessage, onError)
	return h, nil
}

func (s *GeyserSource) receive(h *handle, stream geyser.Geyser_SubscribeAccountUpdatesClient, log logrus.FieldLogger, onMessage feed.MessageHandler, onError feed.ErrorHandler) {
	log.Debug("account update stream opened")
	for {
		u, err := stream.Recv()
		if h.isClosed() {
			log.Debug("account update stream closed")
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrStreamClosed
			}
			h.cancel()
			onError(err)
			return
		}

		msg, err := u.Message()
		if err != nil {
			log.WithError(err).Warn("dropping malformed account update")
			continue
		}
		onMessage(msg)
	}
}

// ListAccounts returns every account the feed knows about.
func (s *GeyserSource) ListAccounts(ctx context.Context) ([]account.Key, error) {
	resp, err := s.client.ListAccounts(ctx, &geyser.ListAccountsRequest{})
	if err != nil {
		return nil, err
	}
	return geyser.KeysFromBytes(resp.Accounts)
}

// Sync fetches the current state of keys. Unknown accounts are left out.
func (s *GeyserSource) Sync(ctx context.Context, keys []account.Key) ([]account.Message, error) {
	resp, err := s.client.SyncAccounts(ctx, &geyser.SyncAccountsRequest{Accounts: geyser.KeysToBytes(keys)})
	if err != nil {
		return nil, err
	}
	msgs := make([]account.Message, 0, len(resp.Updates))
	for _, u := range resp.Updates {
		msg, err := u.Message()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Push publishes a new account state. The feed assigns the sequence.
func (s *GeyserSource) Push(ctx context.Context, msg account.Message) error {
	_, err := s.client.PushAccountUpdate(ctx, geyser.NewTimestampedAccountUpdate(msg).AccountUpdate)
	return err
}

var _ feed.StreamSource = (*GeyserSource)(nil)
