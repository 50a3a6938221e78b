package causal

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_NewClockAt(t *testing.T) {
	c := NewClockAt(100)
	assert.Equal(t, int64(100), c.Current())
	assert.Equal(t, int64(101), c.Next())
}

func TestClock_Next_Incrementing(t *testing.T) {
	c := NewClock()

	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestClock_Observe(t *testing.T) {
	c := NewClockAt(10)

	c.Observe(5)
	assert.Equal(t, int64(10), c.Current(), "observing the past must not rewind")

	c.Observe(42)
	assert.Equal(t, int64(42), c.Current())
	assert.Equal(t, int64(43), c.Next())
}

func TestClock_ThreadSafe(t *testing.T) {
	c := NewClock()
	const goroutines = 50
	const calls = 100

	var wg sync.WaitGroup
	seqs := make(chan int64, goroutines*calls)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seqs <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "seq %d issued twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, goroutines*calls)
	assert.Equal(t, int64(goroutines*calls), c.Current())
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("ev")
	assert.Equal(t, "ev-1", g.Generate())
	assert.Equal(t, "ev-2", g.Generate())
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
