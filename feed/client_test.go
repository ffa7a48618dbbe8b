package feed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bartke/accountstream/account"
)

type fakeHandle struct {
	keys      []account.Key
	onMessage MessageHandler
	onError   ErrorHandler

	mu     sync.Mutex
	closes int
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}

func (h *fakeHandle) closed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

// fakeSource records every handle it opens. Tests drive delivery directly
// through the stored hooks.
type fakeSource struct {
	mu      sync.Mutex
	handles []*fakeHandle
	openErr error

	// when set, OpenStream signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (s *fakeSource) OpenStream(ctx context.Context, keys []account.Key, onMessage MessageHandler, onError ErrorHandler) (Handle, error) {
	if s.release != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	h := &fakeHandle{keys: keys, onMessage: onMessage, onError: onError}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSource) last() *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[len(s.handles)-1]
}

func (s *fakeSource) opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func setupClient(t *testing.T) (*AccountUpdateClient, *fakeSource, chan error) {
	src := &fakeSource{}
	errs := make(chan error, 16)
	c, err := New(Config{Source: src, ErrorChan: errs})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, src, errs
}

func update(k account.Key, seq account.Sequence, data string) account.Message {
	return account.Message{Key: k, Seq: seq, Data: []byte(data), Lamports: uint64(seq) * 10, Owner: testKey(200)}
}

func recorder(out *[]account.Record) account.Callback {
	return func(r account.Record) error {
		*out = append(*out, r)
		return nil
	}
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	c, err := New(Config{Source: &fakeSource{}})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, c.State())
	assert.NotNil(t, c.Keys())
}

func TestAddSubscriptionsOpensOneHandle(t *testing.T) {
	c, src, _ := setupClient(t)
	ctx := context.Background()
	k1, k2 := testKey(1), testKey(2)

	err := c.AddSubscriptions(ctx, map[account.Key][]account.Callback{
		k1: {func(account.Record) error { return nil }},
		k2: {func(account.Record) error { return nil }},
	})
	require.NoError(t, err)

	require.Equal(t, 1, src.opened())
	first := src.last()
	assert.ElementsMatch(t, []account.Key{k1, k2}, first.keys)
	assert.Equal(t, 0, first.closed())
	assert.Equal(t, StateActive, c.State())

	k3 := testKey(3)
	err = c.AddSubscriptions(ctx, map[account.Key][]account.Callback{
		k3: {func(account.Record) error { return nil }},
	})
	require.NoError(t, err)

	require.Equal(t, 2, src.opened())
	assert.Equal(t, 1, first.closed())
	assert.ElementsMatch(t, []account.Key{k1, k2, k3}, src.last().keys)
	assert.Equal(t, 0, src.last().closed())

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Resubscriptions)
	assert.Equal(t, uint64(1), stats.HandleCloses)
}

func TestAddSubscriptionsEmpty(t *testing.T) {
	c, src, _ := setupClient(t)
	require.NoError(t, c.AddSubscriptions(context.Background(), nil))
	assert.Equal(t, 0, src.opened())
	assert.Equal(t, StateIdle, c.State())
}

func TestStaleUpdatesAreDropped(t *testing.T) {
	c, src, _ := setupClient(t)
	k1 := testKey(1)

	var got []account.Record
	require.NoError(t, c.AddSubscriptions(context.Background(), map[account.Key][]account.Callback{
		k1: {recorder(&got)},
	}))
	h := src.last()

	h.onMessage(update(k1, 5, "five"))
	require.Len(t, got, 1)
	want := account.Record{Data: []byte("five"), Lamports: 50, Owner: testKey(200), Seq: 5}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}

	h.onMessage(update(k1, 3, "three"))
	assert.Len(t, got, 1)

	h.onMessage(update(k1, 5, "five again"))
	assert.Len(t, got, 1)

	h.onMessage(update(k1, 7, "seven"))
	require.Len(t, got, 2)
	assert.Equal(t, "seven", string(got[1].Data))

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Accepted)
	assert.Equal(t, uint64(2), stats.Stale)
}

func TestStartupSnapshotsNeverDispatched(t *testing.T) {
	c, src, _ := setupClient(t)
	k1 := testKey(1)

	var got []account.Record
	require.NoError(t, c.AddSubscriptions(context.Background(), map[account.Key][]account.Callback{
		k1: {recorder(&got)},
	}))
	h := src.last()

	for _, seq := range []account.Sequence{1, 100, 1000} {
		msg := update(k1, seq, "snapshot")
		msg.IsStartup = true
		h.onMessage(msg)
	}
	assert.Empty(t, got)
	assert.Equal(t, uint64(3), c.Stats().StartupSkipped)

	// Startup messages must not advance the sequence either.
	h.onMessage(update(k1, 2, "live"))
	assert.Len(t, got, 1)
}

func TestUnknownKeyIsDropped(t *testing.T) {
	c, src, _ := setupClient(t)
	var got []account.Record
	require.NoError(t, c.AddSubscriptions(context.Background(), map[account.Key][]account.Callback{
		testKey(1): {recorder(&got)},
	}))

	src.last().onMessage(update(testKey(2), 1, "other"))
	assert.Empty(t, got)
	assert.Equal(t, uint64(1), c.Stats().UnknownKey)
}

func TestReRegistrationResetsDedup(t *testing.T) {
	c, src, _ := setupClient(t)
	ctx := context.Background()
	k := testKey(1)

	var got []account.Record
	cb := recorder(&got)

	require.NoError(t, c.AddSubscriptions(ctx, map[account.Key][]account.Callback{k: {cb}}))
	src.last().onMessage(update(k, 1, "a"))
	require.Len(t, got, 1)

	require.NoError(t, c.AddSubscriptions(ctx, map[account.Key][]account.Callback{k: {cb}}))
	src.last().onMessage(update(k, 1, "b"))

	// The callback is registered twice now, so the second epoch delivers twice.
	require.Len(t, got, 3)
	assert.Equal(t, "b", string(got[1].Data))
	assert.Equal(t, "b", string(got[2].Data))
}

func TestCallbackOrderAndIsolation(t *testing.T) {
	c, src, errs := setupClient(t)
	k := testKey(1)

	var order []string
	cb1 := func(r account.Record) error {
		order = append(order, "cb1")
		r.Data[0] = 'X'
		return errors.New("boom")
	}
	cb2 := func(r account.Record) error {
		order = append(order, "cb2")
		assert.Equal(t, "data", string(r.Data), "cb2 must not see cb1's mutation")
		return nil
	}
	require.NoError(t, c.AddSubscriptions(context.Background(), map[account.Key][]account.Callback{
		k: {cb1, cb2},
	}))

	msg := update(k, 1, "data")
	src.last().onMessage(msg)

	assert.Equal(t, []string{"cb1", "cb2"}, order)
	assert.Equal(t, "data", string(msg.Data))
	assert.Equal(t, uint64(1), c.Stats().CallbackFailures)

	select {
	case err := <-errs:
		var cbErr *CallbackError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, k, cbErr.Key)
		assert.Equal(t, c.Keys().String(k), cbErr.Address)
		assert.Contains(t, cbErr.Error(), k.String())
		assert.Equal(t, account.Sequence(1), cbErr.Seq)
		assert.Equal(t, 0, cbErr.Index)
		assert.EqualError(t, cbErr.Unwrap(), "boom")
	default:
		t.Fatal("expected a callback error")
	}
}

func TestCallbackPanicIsContained(t *testing.T) {
	c, src, errs := setupClient(t)
	k := testKey(1)

	called := false
	require.NoError(t, c.AddSubscriptions(context.Background(), map[account.Key][]account.Callback{
		k: {
			func(account.Record) error { panic("bad consumer") },
			func(account.Record) error { called = true; return nil },
		},
	}))
	src.last().onMessage(update(k, 1, "x"))

	assert.True(t, called)
	require.Len(t, errs, 1)
	assert.Contains(t, (<-errs).Error(), "bad consumer")
}

func TestTransportFailure(t *testing.T) {
	c, src, errs := setupClient(t)
	ctx := context.Background()
	k := testKey(1)

	var got []account.Record
	require.NoError(t, c.AddSubscriptions(ctx, map[account.Key][]account.Callback{k: {recorder(&got)}}))
	h := src.last()

	h.onError(errors.New("connection reset"))
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, 1, h.closed())

	var terr *TransportError
	require.ErrorAs(t, c.Err(), &terr)
	assert.Contains(t, terr.Error(), "connection reset")

	require.Len(t, errs, 1)
	require.ErrorAs(t, <-errs, &terr)

	// Nothing is dispatched once failed.
	h.onMessage(update(k, 1, "late"))
	assert.Empty(t, got)

	// A supervisor recovers by subscribing again.
	require.NoError(t, c.AddSubscriptions(ctx, nil))
	assert.Equal(t, StateActive, c.State())
	assert.NoError(t, c.Err())
	src.last().onMessage(update(k, 1, "fresh"))
	assert.Len(t, got, 1)
}

func TestSupersededHandleErrorIgnored(t *testing.T) {
	c, src, errs := setupClient(t)
	ctx := context.Background()

	require.NoError(t, c.AddSubscriptions(ctx, map[account.Key][]account.Callback{testKey(1): nil}))
	old := src.last()
	require.NoError(t, c.AddSubscriptions(ctx, map[account.Key][]account.Callback{testKey(2): nil}))

	old.onError(context.Canceled)
	assert.Equal(t, StateActive, c.State())
	assert.Empty(t, errs)
}

func TestOpenStreamFailure(t *testing.T) {
	c, src, _ := setupClient(t)
	src.openErr = errors.New("unauthenticated")

	err := c.AddSubscriptions(context.Background(), map[account.Key][]account.Callback{testKey(1): nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthenticated")
	assert.Equal(t, StateFailed, c.State())
}

func TestClose(t *testing.T) {
	c, src, _ := setupClient(t)
	ctx := context.Background()
	require.NoError(t, c.AddSubscriptions(ctx, map[account.Key][]account.Callback{testKey(1): nil}))
	h := src.last()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, h.closed())
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.AddSubscriptions(ctx, nil), ErrClosed)

	// Errors raised by the torn down stream are not failures.
	h.onError(context.Canceled)
	assert.Equal(t, StateClosed, c.State())
}

func TestConcurrentDeliveryKeepsPerKeyOrder(t *testing.T) {
	c, src, _ := setupClient(t)
	k := testKey(1)

	var mu sync.Mutex
	var seqs []account.Sequence
	require.NoError(t, c.AddSubscriptions(context.Background(), map[account.Key][]account.Callback{
		k: {func(r account.Record) error {
			mu.Lock()
			seqs = append(seqs, r.Seq)
			mu.Unlock()
			return nil
		}},
	}))
	h := src.last()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.onMessage(update(k, account.Sequence(i*4+offset+1), "x"))
			}
		}(w)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seqs)
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestSlowOpenStreamDoesNotBlockClient(t *testing.T) {
	src := &fakeSource{entered: make(chan struct{}), release: make(chan struct{})}
	c, err := New(Config{Source: src})
	require.NoError(t, err)
	k := testKey(1)

	var got []account.Record
	done := make(chan error, 1)
	go func() {
		done <- c.AddSubscriptions(context.Background(), map[account.Key][]account.Callback{k: {recorder(&got)}})
	}()
	<-src.entered

	assert.Equal(t, StateSubscribing, c.State())
	assert.NoError(t, c.Err())
	c.processUpdate(update(k, 1, "early"))
	require.Len(t, got, 1)

	require.NoError(t, c.Close())
	close(src.release)

	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, 1, src.last().closed())
}

func TestStreamFailsWhileOpening(t *testing.T) {
	src := &fakeSource{entered: make(chan struct{}), release: make(chan struct{})}
	errs := make(chan error, 4)
	c, err := New(Config{Source: src, ErrorChan: errs})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	done := make(chan error, 1)
	go func() {
		done <- c.AddSubscriptions(context.Background(), map[account.Key][]account.Callback{testKey(1): nil})
	}()
	<-src.entered
	c.handleStreamError(1, errors.New("reset"))
	close(src.release)

	require.NoError(t, <-done)
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, 1, src.last().closed())

	var terr *TransportError
	require.ErrorAs(t, <-errs, &terr)
	assert.Equal(t, uint64(1), terr.Generation)
}
