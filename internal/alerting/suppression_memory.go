package alerting

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// expirySweepEvery is the number of saves between sweeps of expired states.
const expirySweepEvery = 256

// MemoryStore keeps suppression state in process. States expire after ttl
// (the longest window) since nothing older can suppress a firing.
type MemoryStore struct {
	states *cache.Cache
	saves  atomic.Uint64

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a per-key semaphore. refs counts holders and waiters so the
// entry can be dropped once nobody needs it.
type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewMemoryStore creates a MemoryStore. Expired entries are swept inline on
// save rather than by a janitor goroutine.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &MemoryStore{
		states: cache.New(ttl, 0),
		locks:  make(map[string]*keyLock),
	}
}

func (m *MemoryStore) Lock(ctx context.Context, key Key) (func(), error) {
	k := key.String()

	m.mu.Lock()
	l, ok := m.locks[k]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		m.locks[k] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(k, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			m.release(k, l)
		})
	}, nil
}

func (m *MemoryStore) release(k string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, k)
	}
}

func (m *MemoryStore) Load(_ context.Context, key Key) (State, error) {
	if v, ok := m.states.Get(key.String()); ok {
		return v.(State), nil
	}
	return State{}, nil
}

func (m *MemoryStore) Save(_ context.Context, key Key, state State) error {
	m.states.Set(key.String(), state, cache.DefaultExpiration)
	if m.saves.Add(1)%expirySweepEvery == 0 {
		m.states.DeleteExpired()
	}
	return nil
}

func (m *MemoryStore) Reset(_ context.Context) error {
	m.states.Flush()
	return nil
}

// Len returns the number of stored states, expired ones included until swept.
func (m *MemoryStore) Len() int {
	return m.states.ItemCount()
}
