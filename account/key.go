package account

import (
	"fmt"
	"sync"

	"github.com/mr-tron/base58"
)

// KeySize is the length of a raw account public key.
const KeySize = 32

// Key identifies an account. It is comparable and safe to use as a map key.
type Key [KeySize]byte

// ParseKey decodes a base58 account address.
func ParseKey(s string) (Key, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Key{}, fmt.Errorf("invalid base58 key %q: %w", s, err)
	}
	return KeyFromBytes(raw)
}

// KeyFromBytes copies a raw 32-byte public key.
func KeyFromBytes(raw []byte) (Key, error) {
	var k Key
	if len(raw) != KeySize {
		return k, fmt.Errorf("invalid key length %d, expected %d", len(raw), KeySize)
	}
	copy(k[:], raw)
	return k, nil
}

// Bytes returns a copy of the raw key.
func (k Key) Bytes() []byte {
	out := make([]byte, KeySize)
	copy(out, k[:])
	return out
}

// String encodes the key as base58. Prefer KeyCache.String on hot paths.
func (k Key) String() string {
	return base58.Encode(k[:])
}

// KeyCache memoizes base58 conversions so each distinct key is encoded and
// each distinct address is decoded at most once.
type KeyCache struct {
	mu      sync.RWMutex
	encoded map[Key]string
	decoded map[string]Key
}

func NewKeyCache() *KeyCache {
	return &KeyCache{
		encoded: make(map[Key]string),
		decoded: make(map[string]Key),
	}
}

// Parse decodes address, reusing a previous decoding if there is one.
func (c *KeyCache) Parse(address string) (Key, error) {
	c.mu.RLock()
	k, ok := c.decoded[address]
	c.mu.RUnlock()
	if ok {
		return k, nil
	}

	k, err := ParseKey(address)
	if err != nil {
		return Key{}, err
	}

	c.mu.Lock()
	c.decoded[address] = k
	if _, ok := c.encoded[k]; !ok {
		c.encoded[k] = address
	}
	c.mu.Unlock()
	return k, nil
}

// String returns the base58 form of k, encoding it on first use only.
func (c *KeyCache) String(k Key) string {
	c.mu.RLock()
	s, ok := c.encoded[k]
	c.mu.RUnlock()
	if ok {
		return s
	}

	s = k.String()

	c.mu.Lock()
	if prev, ok := c.encoded[k]; ok {
		s = prev
	} else {
		c.encoded[k] = s
		c.decoded[s] = k
	}
	c.mu.Unlock()
	return s
}

// Len reports how many distinct keys are cached.
func (c *KeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.encoded)
}
