package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/bartke/accountstream/account"
)

// S3Storage implements the Storage interface for S3-compatible storage. Each
// account is one msgpack object named {prefix}/{address}.
//
// S3 offers no atomic counter, sequences are therefore allocated per account.
type S3Storage struct {
	client       *s3.S3
	bucket       string
	prefix       string
	keys         *account.KeyCache
	syncInterval time.Duration
	errorChannel chan<- error

	// serializes read-increment-write of sequences within this process
	mu sync.Mutex
}

type S3StorageConfig struct {
	// S3 compatible storage endpoint
	Endpoint string
	// S3 compatible storage region
	Region string
	// S3 compatible storage access key
	AccessKey string
	// S3 compatible storage secret key
	SecretKey string
	// S3 compatible storage bucket
	Bucket string

	// optional object prefix, default is "accounts"
	Prefix string

	// optional aws access token
	AccessToken string

	// optional sync interval, default is 5 seconds
	SyncInterval time.Duration

	// optional error channel
	ErrorChan chan<- error
}

// NewS3Storage creates a new S3Storage instance
func NewS3Storage(config S3StorageConfig) (*S3Storage, error) {
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(config.Endpoint),
		Region:           aws.String(config.Region),
		Credentials:      credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, config.AccessToken),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}

	if config.SyncInterval == 0 {
		config.SyncInterval = DefaultSyncInterval
	}
	if config.Prefix == "" {
		config.Prefix = "accounts"
	}

	return &S3Storage{
		client:       s3.New(sess),
		bucket:       config.Bucket,
		prefix:       strings.TrimSuffix(config.Prefix, "/") + "/",
		keys:         account.NewKeyCache(),
		syncInterval: config.SyncInterval,
		errorChannel: config.ErrorChan,
	}, nil
}

func (s *S3Storage) forwardError(err error) {
	if s.errorChannel != nil {
		s.errorChannel <- err
	}
}

func (s *S3Storage) objectKey(k account.Key) string {
	return s.prefix + s.keys.String(k)
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// ListAccounts lists the accounts stored under the prefix
func (s *S3Storage) ListAccounts() ([]account.Key, error) {
	var keys []account.Key
	var parseErr error
	err := s.client.ListObjectsV2Pages(&s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, object := range page.Contents {
			k, err := s.keys.Parse(strings.TrimPrefix(*object.Key, s.prefix))
			if err != nil {
				parseErr = fmt.Errorf("unexpected object %s in bucket %s: %w", *object.Key, s.bucket, err)
				return false
			}
			keys = append(keys, k)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return keys, parseErr
}

func (s *S3Storage) Sync(keys []account.Key) (map[account.Key]Account, error) {
	data := make(map[account.Key]Account)
	for _, key := range keys {
		a, _, err := s.fetch(context.Background(), key)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		data[key] = a
	}
	return data, nil
}

func (s *S3Storage) fetch(ctx context.Context, key account.Key) (Account, string, error) {
	obj, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return Account{}, "", fmt.Errorf("failed to retrieve object %s from bucket %s: %w", s.objectKey(key), s.bucket, err)
	}
	defer obj.Body.Close()

	value, err := io.ReadAll(obj.Body)
	if err != nil {
		return Account{}, "", fmt.Errorf("failed to read contents of object %s from bucket %s: %w", s.objectKey(key), s.bucket, err)
	}
	a, err := decodeAccount(value)
	if err != nil {
		return Account{}, "", err
	}
	return a, aws.StringValue(obj.ETag), nil
}

func (s *S3Storage) etag(ctx context.Context, key account.Key) (string, error) {
	head, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return aws.StringValue(head.ETag), nil
}

func (s *S3Storage) Subscribe(ctx context.Context, keys []account.Key) (<-chan Account, error) {
	lastETag := make(map[account.Key]string, len(keys))
	for _, key := range keys {
		tag, err := s.etag(ctx, key)
		if err != nil {
			return nil, err
		}
		lastETag[key] = tag
	}

	updates := make(chan Account)
	go func() {
		defer close(updates)
		ticker := time.NewTicker(s.syncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			for _, key := range keys {
				tag, err := s.etag(ctx, key)
				if err != nil {
					if ctx.Err() == nil {
						s.forwardError(err)
					}
					return
				}
				if tag == "" || tag == lastETag[key] {
					continue
				}

				a, tag, err := s.fetch(ctx, key)
				if err != nil {
					s.forwardError(err)
					continue
				}
				lastETag[key] = tag

				select {
				case updates <- a:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return updates, nil
}

// PushUpdate assigns the next per-account sequence. Writers in other processes
// are not serialized, one S3Storage should own the prefix.
func (s *S3Storage) PushUpdate(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _, err := s.fetch(ctx, a.Key)
	switch {
	case isNotFound(err):
		a.Seq = 1
	case err != nil:
		return err
	default:
		a.Seq = current.Seq + 1
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = timeNow()
	}

	value, err := encodeAccount(a)
	if err != nil {
		return err
	}
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(a.Key)),
		Body:   bytes.NewReader(value),
	})
	return err
}
