package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartke/accountstream/account"
)

func TestS3ObjectKey(t *testing.T) {
	s, err := NewS3Storage(S3StorageConfig{Endpoint: "http://localhost:9000", Region: "us-east-1", Bucket: "b", Prefix: "state/"})
	require.NoError(t, err)
	assert.Equal(t, "state/"+testKey(1).String(), s.objectKey(testKey(1)))
	assert.Equal(t, DefaultSyncInterval, s.syncInterval)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(awserr.New(s3.ErrCodeNoSuchKey, "gone", nil)))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", awserr.New("NotFound", "gone", nil))))
	assert.False(t, isNotFound(awserr.New(s3.ErrCodeNoSuchBucket, "gone", nil)))
	assert.False(t, isNotFound(nil))
}

// memoryS3 serves GET and PUT of path-style objects from memory.
type memoryS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		m.objects[r.URL.Path] = body
		w.Header().Set("ETag", etagOf(body))
	case http.MethodGet:
		body, ok := m.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			return
		}
		w.Header().Set("ETag", etagOf(body))
		w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func etagOf(b []byte) string {
	sum := md5.Sum(b)
	return `"` + hex.EncodeToString(sum[:]) + `"`
}

func TestS3StorageConcurrentPush(t *testing.T) {
	server := httptest.NewServer(&memoryS3{objects: make(map[string][]byte)})
	t.Cleanup(server.Close)

	s, err := NewS3Storage(S3StorageConfig{Endpoint: server.URL, Region: "us-east-1", AccessKey: "key", SecretKey: "secret", Bucket: "b"})
	require.NoError(t, err)

	ctx := context.Background()
	k := testKey(1)

	const writers = 8
	seqs := make([]account.Sequence, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a := &Account{Key: k, Lamports: uint64(i)}
			assert.NoError(t, s.PushUpdate(ctx, a))
			seqs[i] = a.Seq
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []account.Sequence{1, 2, 3, 4, 5, 6, 7, 8}, seqs)

	state, err := s.Sync([]account.Key{k})
	require.NoError(t, err)
	assert.Equal(t, account.Sequence(writers), state[k].Seq)
}
