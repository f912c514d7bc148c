package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pavelkalin/typeorm/logger"
)

type memoryShard struct {
	mutex   sync.RWMutex
	entries map[string]*Entry
}

// memoryProvider keeps entries in a set of independently locked map shards.
// A janitor goroutine sweeps expired entries so an idle cache does not grow
// without bound; reads never depend on the sweep because Get checks the
// write-time ttl itself.
type memoryProvider struct {
	shards    []*memoryShard
	sweep     time.Duration
	logger    logger.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
}

var _ Provider = (*memoryProvider)(nil)

func newMemoryProvider(ctx context.Context, cfg Config, log logger.Logger) *memoryProvider {
	shards := make([]*memoryShard, cfg.Memory.Shards)
	for i := range shards {
		shards[i] = &memoryShard{entries: make(map[string]*Entry)}
	}
	child, cancel := context.WithCancel(ctx)
	return &memoryProvider{
		shards: shards,
		sweep:  cfg.Memory.SweepInterval,
		logger: log.WithPrefix("[memory]"),
		ctx:    child,
		cancel: cancel,
	}
}

func (m *memoryProvider) shard(identifier string) *memoryShard {
	return m.shards[xxhash.Sum64String(identifier)%uint64(len(m.shards))]
}

func (m *memoryProvider) Connect(ctx context.Context) error {
	if m.sweep > 0 {
		m.waitGroup.Add(1)
		go m.janitor()
	}
	return nil
}

func (m *memoryProvider) janitor() {
	defer m.waitGroup.Done()
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.expire(time.Now())
		}
	}
}

func (m *memoryProvider) expire(now time.Time) {
	var removed int
	for _, shard := range m.shards {
		shard.mutex.Lock()
		for id, entry := range shard.entries {
			if entry.Expired(now) {
				delete(shard.entries, id)
				removed++
			}
		}
		shard.mutex.Unlock()
	}
	if removed > 0 {
		m.logger.Trace("swept %d expired entries", removed)
	}
}

func (m *memoryProvider) Get(ctx context.Context, identifier string) (*Entry, bool, error) {
	shard := m.shard(identifier)
	shard.mutex.RLock()
	entry, ok := shard.entries[identifier]
	shard.mutex.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if entry.Expired(time.Now()) {
		shard.mutex.Lock()
		// Re-check under the write lock; a store may have replaced the
		// entry since the read lock was dropped.
		if current, ok := shard.entries[identifier]; ok && current == entry {
			delete(shard.entries, identifier)
		}
		shard.mutex.Unlock()
		return nil, false, nil
	}
	value := *entry
	return &value, true, nil
}

func (m *memoryProvider) Store(ctx context.Context, entry Entry) error {
	shard := m.shard(entry.Identifier)
	shard.mutex.Lock()
	shard.entries[entry.Identifier] = &entry
	shard.mutex.Unlock()
	return nil
}

func (m *memoryProvider) Remove(ctx context.Context, identifiers ...string) error {
	for _, id := range identifiers {
		shard := m.shard(id)
		shard.mutex.Lock()
		delete(shard.entries, id)
		shard.mutex.Unlock()
	}
	return nil
}

func (m *memoryProvider) Clear(ctx context.Context) error {
	for _, shard := range m.shards {
		shard.mutex.Lock()
		shard.entries = make(map[string]*Entry)
		shard.mutex.Unlock()
	}
	return nil
}

func (m *memoryProvider) Close(ctx context.Context) error {
	m.once.Do(func() {
		m.cancel()
		m.waitGroup.Wait()
	})
	return nil
}

// size reports the live entry count across shards. Test helper.
func (m *memoryProvider) size() int {
	var n int
	for _, shard := range m.shards {
		shard.mutex.RLock()
		n += len(shard.entries)
		shard.mutex.RUnlock()
	}
	return n
}
