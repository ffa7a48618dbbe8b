package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bartke/accountstream/account"
)

// State is the lifecycle state of an AccountUpdateClient.
type State int

const (
	StateIdle State = iota
	StateSubscribing
	StateActive
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Config struct {
	// Source opens the upstream account update stream.
	Source StreamSource

	// Optional, defaults to the logrus standard logger
	Logger logrus.FieldLogger

	// Optional, receives *CallbackError and *TransportError values. Sends
	// never block; errors are dropped when the channel is full.
	ErrorChan chan<- error

	// Optional, shared with other components that convert addresses
	Keys *account.KeyCache
}

// AccountUpdateClient keeps a single upstream subscription covering every
// registered account and dispatches fresh updates to their callbacks.
//
// Any change to the set of accounts closes the current stream and opens a new
// one for the full set; updates published during the switch are not
// delivered.
type AccountUpdateClient struct {
	source       StreamSource
	log          logrus.FieldLogger
	errorChannel chan<- error
	keys         *account.KeyCache
	registry     *Registry
	stats        counters

	// subscribeMu serializes resubscriptions
	subscribeMu sync.Mutex

	mu         sync.Mutex
	state      State
	handle     Handle
	generation uint64
	err        error

	// dispatchMu serializes deliveries so that an old handle draining while
	// a new one starts cannot reorder callbacks for the same account.
	dispatchMu sync.Mutex
}

func New(config Config) (*AccountUpdateClient, error) {
	if config.Source == nil {
		return nil, errors.New("feed: stream source is required")
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}
	if config.Keys == nil {
		config.Keys = account.NewKeyCache()
	}

	return &AccountUpdateClient{
		source:       config.Source,
		log:          config.Logger,
		errorChannel: config.ErrorChan,
		keys:         config.Keys,
		registry:     NewRegistry(),
		state:        StateIdle,
		handle:       noopHandle{},
	}, nil
}

// AddSubscriptions registers callbacks per account and resubscribes to the
// full set of registered accounts. Registering an account again resets its
// deduplication state and appends the new callbacks to the existing ones.
//
// The call returns once the new stream has been requested; it does not wait
// for the first update. It is also how a supervisor recovers a failed client.
func (c *AccountUpdateClient) AddSubscriptions(ctx context.Context, subscriptions map[account.Key][]account.Callback) error {
	c.subscribeMu.Lock()
	defer c.subscribeMu.Unlock()

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	for key, callbacks := range subscriptions {
		c.registry.Register(key, callbacks...)
	}
	c.mu.Unlock()

	return c.subscribe(ctx)
}

// subscribe must be called with c.subscribeMu held. c.mu is released while
// the source opens the stream so updates, State and Close are never blocked
// behind a slow upstream.
func (c *AccountUpdateClient) subscribe(ctx context.Context) error {
	keys := c.registry.CurrentKeys().ToSlice()
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i][:]) < string(keys[j][:])
	})

	c.mu.Lock()
	c.generation++
	generation := c.generation
	c.closeHandle()

	log := c.log.WithField("generation", generation)
	if len(keys) == 0 {
		c.state = StateIdle
		c.mu.Unlock()
		return nil
	}

	log.Debugf("Subscribing to %d accounts", len(keys))
	c.state = StateSubscribing
	c.err = nil
	c.mu.Unlock()

	handle, err := c.source.OpenStream(ctx, keys,
		func(msg account.Message) { c.processUpdate(msg) },
		func(err error) { c.handleStreamError(generation, err) },
	)

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		// closed while the stream was being opened
		if err == nil {
			c.stats.handleCloses.Add(1)
			handle.Close()
		}
		return ErrClosed
	}
	if err != nil {
		err = &TransportError{Generation: generation, Err: err}
		c.state = StateFailed
		c.err = err
		log.WithError(err).Error("failed to open account update stream")
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	c.stats.resubscriptions.Add(1)
	if c.state == StateFailed {
		// the stream already failed, the error has been reported
		c.stats.handleCloses.Add(1)
		handle.Close()
		return nil
	}
	c.handle = handle
	c.state = StateActive
	return nil
}

// closeHandle must be called with c.mu held.
func (c *AccountUpdateClient) closeHandle() {
	if _, ok := c.handle.(noopHandle); !ok {
		c.stats.handleCloses.Add(1)
	}
	if err := c.handle.Close(); err != nil {
		c.log.WithError(err).Warn("failed to close account update stream")
	}
	c.handle = noopHandle{}
}

func (c *AccountUpdateClient) processUpdate(msg account.Message) {
	if msg.IsStartup {
		c.stats.startupSkipped.Add(1)
		return
	}

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == StateFailed || state == StateClosed {
		return
	}

	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if !c.registry.Accept(msg.Key, msg.Seq) {
		if c.registry.Has(msg.Key) {
			c.stats.stale.Add(1)
		} else {
			c.stats.unknownKey.Add(1)
		}
		return
	}
	c.stats.accepted.Add(1)

	record := msg.Record()
	for i, callback := range c.registry.CallbacksFor(msg.Key) {
		if err := invoke(callback, record.Clone()); err != nil {
			c.stats.callbackFailures.Add(1)
			address := c.keys.String(msg.Key)
			cbErr := &CallbackError{Key: msg.Key, Address: address, Seq: msg.Seq, Index: i, Err: err}
			c.log.WithFields(logrus.Fields{
				"key": address,
				"seq": msg.Seq,
			}).WithError(err).Error("account update callback failed")
			c.forwardError(cbErr)
		}
	}
}

func invoke(callback account.Callback, record account.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return callback(record)
}

func (c *AccountUpdateClient) handleStreamError(generation uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.log.WithField("generation", generation)
	if generation != c.generation || c.state == StateClosed {
		log.WithError(err).Debug("ignoring error from superseded account update stream")
		return
	}

	terr := &TransportError{Generation: generation, Err: err}
	c.state = StateFailed
	c.err = terr
	c.closeHandle()
	log.WithError(err).Error("account update stream failed")
	c.forwardError(terr)
}

func (c *AccountUpdateClient) forwardError(err error) {
	if c.errorChannel == nil {
		return
	}
	select {
	case c.errorChannel <- err:
	default:
		c.log.WithError(err).Warn("error channel full, dropping error")
	}
}

// State returns the current lifecycle state.
func (c *AccountUpdateClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the transport failure that moved the client to StateFailed, if
// the client is currently failed.
func (c *AccountUpdateClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Keys returns the key cache used for log output.
func (c *AccountUpdateClient) Keys() *account.KeyCache {
	return c.keys
}

// Close tears down the active stream. The client cannot be reused.
func (c *AccountUpdateClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}
	c.generation++
	c.closeHandle()
	c.state = StateClosed
	return nil
}
