package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, normalizeKeys([]string{"b", "", "a", "b"}))
	assert.Empty(t, normalizeKeys(nil))
}

func TestLocalSerializesSharedKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every worker shares "email:a" with a different second key.
			release, err := l.Lock(ctx, "email:a", "phone:"+string(rune('a'+i)))
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLocalOverlappingKeySetsDoNotDeadlock(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				release, err := l.Lock(ctx, "email:x", "phone:y")
				if err == nil {
					release()
				}
			}()
			go func() {
				defer wg.Done()
				release, err := l.Lock(ctx, "phone:y", "email:x")
				if err == nil {
					release()
				}
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("lock acquisition deadlocked")
	}
}

func TestLocalReleaseIsIdempotent(t *testing.T) {
	l := NewLocal()
	release, err := l.Lock(context.Background(), "email:a")
	require.NoError(t, err)
	release()
	release()

	again, err := l.Lock(context.Background(), "email:a")
	require.NoError(t, err)
	again()
}

func TestLocalHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocal().Lock(ctx, "email:a")

	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalWaitEndsWithContext(t *testing.T) {
	l := NewLocal()
	// "phone:2" hashes to a lower shard than "email:b", so the waiter holds
	// it while blocked on "email:b".
	holder, err := l.Lock(context.Background(), "email:b")
	require.NoError(t, err)
	defer holder()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	started := time.Now()
	_, err = l.Lock(ctx, "email:b", "phone:2")

	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), time.Second)

	// Shards taken before the wait gave up must be free again.
	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, err := l.Lock(ctx, "phone:2")
	require.NoError(t, err)
	release()
}
