package turn

import (
	"sync"
	"testing"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	t.Parallel()

	km := NewKeyedMutex()
	const workers = 20

	var counter int
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			unlock := km.Lock("sess-1")
			defer unlock()
			// Unsynchronized read-modify-write; only safe if the keyed
			// mutex actually serializes holders of the same key.
			counter++
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Errorf("counter = %d, want %d", counter, workers)
	}
}

func TestKeyedMutex_IndependentKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	km := NewKeyedMutex()
	unlockA := km.Lock("a")

	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()

	<-done // would deadlock if "b" waited on "a"
	unlockA()
}

func TestKeyedMutex_EntriesAreReleased(t *testing.T) {
	t.Parallel()

	km := NewKeyedMutex()
	for i := 0; i < 10; i++ {
		unlock := km.Lock("sess-1")
		unlock()
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	if len(km.entries) != 0 {
		t.Errorf("entries leaked: %d", len(km.entries))
	}
}
