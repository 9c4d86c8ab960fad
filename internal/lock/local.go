package lock

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
)

// numShards bounds memory regardless of how many distinct identities are seen.
// Unrelated keys may share a shard; that only costs contention, never correctness.
const numShards = 128

// LocalLocker is an in-process Locker backed by sharded one-slot semaphores.
type LocalLocker struct {
	shards [numShards]chan struct{}
}

// NewLocalLocker returns a ready LocalLocker.
func NewLocalLocker() *LocalLocker {
	l := &LocalLocker{}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

// Acquire locks the shards of every key in ascending shard order. Waiting honours ctx.
func (l *LocalLocker) Acquire(ctx context.Context, keys ...string) (Release, error) {
	shards := l.shardsFor(normalizeKeys(keys))

	held := make([]int, 0, len(shards))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-l.shards[held[i]]
		}
		held = held[:0]
	}

	for _, shard := range shards {
		select {
		case l.shards[shard] <- struct{}{}:
			held = append(held, shard)
		case <-ctx.Done():
			unlock()
			return nil, ErrNotAcquired
		}
	}

	var once sync.Once
	return func() { once.Do(unlock) }, nil
}

func (l *LocalLocker) shardsFor(keys []string) []int {
	seen := make(map[int]struct{}, len(keys))
	shards := make([]int, 0, len(keys))
	for _, k := range keys {
		h := fnv.New32a()
		h.Write([]byte(k))
		shard := int(h.Sum32() % numShards)
		if _, ok := seen[shard]; ok {
			continue
		}
		seen[shard] = struct{}{}
		shards = append(shards, shard)
	}
	sort.Ints(shards)
	return shards
}
