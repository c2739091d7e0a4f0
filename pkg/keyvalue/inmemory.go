package keyvalue

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// memoryEntry is a value plus its absolute expiry. A zero expiresAt means the
// entry never expires.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a thread-safe, in-memory implementation of Store. It mirrors
// the Redis semantics closely enough for unit tests and local development:
// lazy TTL expiry, glob key matching, atomic counters, set-if-absent locks,
// and channel fan-out for pub/sub.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	subs map[string][]*memorySubscription

	// now is replaceable in tests to step time without sleeping.
	now func() time.Time

	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]memoryEntry),
		subs: make(map[string][]*memorySubscription),
		now:  time.Now,
	}
}

// SetClock replaces the store's time source. Tests use this to advance past
// TTL boundaries deterministically.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// expired reports whether the entry is past its TTL. Callers must hold s.mu.
func (s *MemoryStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}

// lookup fetches a live entry, lazily deleting it if expired. Callers must hold s.mu.
func (s *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if s.expired(e) {
		delete(s.data, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) Get(_ context.Context, key string) (GetResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return GetResult{}, nil
	}
	value := make([]byte, len(e.value))
	copy(value, e.value)
	return GetResult{Value: value, Found: true}, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, key := range keys {
		if _, ok := s.lookup(key); ok {
			delete(s.data, key)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.data {
		if _, ok := s.lookup(key); !ok {
			continue
		}
		if matched, err := path.Match(pattern, key); err == nil && matched {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (TTLResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return TTLResult{}, nil
	}
	if e.expiresAt.IsZero() {
		return TTLResult{Exists: true}, nil
	}
	return TTLResult{Remaining: e.expiresAt.Sub(s.now()), HasTTL: true, Exists: true}, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	e, ok := s.lookup(key)
	if ok {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++

	// An existing expiry survives the increment; a fresh key has none until
	// the caller sets one with Expire.
	e.value = []byte(strconv.FormatInt(n, 10))
	s.data[key] = e
	return n, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return false, nil
	}
	e.expiresAt = s.now().Add(ttl)
	s.data[key] = e
	return true, nil
}

func (s *MemoryStore) AcquireLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.lookup(key); held {
		return false, nil
	}
	e := memoryEntry{value: []byte("1")}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.data[key] = e
	return true, nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Publish delivers payload to every current subscriber of channel. Delivery is
// best-effort fan-out: a subscriber whose buffer is full misses the message,
// matching the fire-and-forget semantics of the real store's pub/sub.
func (s *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	subs := make([]*memorySubscription, len(s.subs[channel]))
	copy(subs, s.subs[channel])
	s.mu.Unlock()

	msg := ChannelMessage{Channel: channel, Payload: append([]byte(nil), payload...)}
	for _, sub := range subs {
		select {
		case sub.out <- msg:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		store:   s,
		channel: channel,
		out:     make(chan ChannelMessage, 64),
	}

	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.mu.Unlock()
	return sub, nil
}

type memorySubscription struct {
	store     *MemoryStore
	channel   string
	out       chan ChannelMessage
	closeOnce sync.Once
}

func (m *memorySubscription) Messages() <-chan ChannelMessage { return m.out }

func (m *memorySubscription) Close() error {
	m.closeOnce.Do(func() {
		m.store.mu.Lock()
		subs := m.store.subs[m.channel]
		for i, sub := range subs {
			if sub == m {
				m.store.subs[m.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		m.store.mu.Unlock()
		close(m.out)
	})
	return nil
}

// Close drops all data and closes every open subscription.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.data = make(map[string]memoryEntry)
	var all []*memorySubscription
	for _, subs := range s.subs {
		all = append(all, subs...)
	}
	s.mu.Unlock()

	for _, sub := range all {
		_ = sub.Close()
	}
	return nil
}
