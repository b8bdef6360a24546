package lock

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// numShards bounds memory while keeping contention low for unrelated keys.
const numShards = 128

// Local locks keys with a fixed array of one-slot semaphores selected by
// FNV-1a hash. Distinct keys may share a shard; shards are taken in ascending
// order so overlapping key sets cannot deadlock. Waiting for a shard ends
// when ctx does.
type Local struct {
	shards [numShards]chan struct{}
}

func NewLocal() *Local {
	l := &Local{}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

func (l *Local) Lock(ctx context.Context, keys ...string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotAcquired, err)
	}

	shards := make([]int, 0, len(keys))
	for _, k := range normalizeKeys(keys) {
		shards = append(shards, int(hashKey(k)%numShards))
	}
	slices.Sort(shards)
	shards = slices.Compact(shards)

	held := 0
	unlock := func() {
		for i := held - 1; i >= 0; i-- {
			<-l.shards[shards[i]]
		}
	}
	for _, s := range shards {
		select {
		case l.shards[s] <- struct{}{}:
			held++
		case <-ctx.Done():
			unlock()
			return nil, fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
		}
	}
	return sync.OnceFunc(unlock), nil
}

func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
