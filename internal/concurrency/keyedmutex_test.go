package concurrency

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()

	var mu sync.Mutex
	active := 0
	maxActive := 0
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("guild-1:user-1")
			defer unlock()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "only one holder of the same key should run at a time")
}

func TestKeyedMutex_DistinctKeysDoNotBlockEachOther(t *testing.T) {
	km := NewKeyedMutex()

	unlockA := km.Lock("guild-1:user-a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("guild-1:user-b")
		defer unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key should not block")
	}
}

func TestKeyedMutex_ReleasesEntryAfterUnlock(t *testing.T) {
	km := NewKeyedMutex()

	unlock := km.Lock("guild-1:user-1")
	unlock()

	km.mu.Lock()
	_, stillTracked := km.locks["guild-1:user-1"]
	km.mu.Unlock()

	assert.False(t, stillTracked, "entry should be cleaned up once no one waits on it")
}
