package keymutex

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSameKeySerializes(t *testing.T) {
	km := New()

	const n = 100
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("k")
			counter++
			km.Unlock("k")
		}()
	}
	wg.Wait()

	assert.Equal(t, n, counter)
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	km := New()

	km.Lock("a")
	defer km.Unlock("a")

	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a distinct key blocked")
	}
}

func TestForgetAllowsFreshMutex(t *testing.T) {
	km := New()

	km.Lock("k")
	km.Unlock("k")
	km.Forget("k")

	// After Forget the key locks again without contention.
	km.Lock("k")
	km.Unlock("k")
}

func TestLenTracksKeys(t *testing.T) {
	km := New()
	assert.Equal(t, 0, km.Len())

	km.Lock("a")
	km.Unlock("a")
	km.Lock("b")
	km.Unlock("b")
	assert.Equal(t, 2, km.Len())

	km.Forget("a")
	assert.Equal(t, 1, km.Len())
}
