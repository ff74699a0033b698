package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitKeepsOrderPerKey(t *testing.T) {
	d := New(64, time.Second)
	defer d.Close()

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		i := i
		require.True(t, d.Submit("conversation:1", func() {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	wg.Wait()

	for i := range got {
		assert.Equal(t, i, got[i])
	}
}

func TestKeysRunIndependently(t *testing.T) {
	d := New(8, time.Second)
	defer d.Close()

	block := make(chan struct{})
	require.True(t, d.Submit("call:slow", func() { <-block }))

	done := make(chan struct{})
	require.True(t, d.Submit("conversation:fast", func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fast key was blocked by slow key")
	}
	close(block)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	d := New(1, time.Second)
	defer d.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, d.Submit("k", func() { close(started); <-release }))
	<-started

	assert.True(t, d.Submit("k", func() {}))
	assert.False(t, d.Submit("k", func() {}))
	close(release)
}

func TestIdleWorkerExits(t *testing.T) {
	d := New(4, 20*time.Millisecond)
	defer d.Close()

	var ran atomic.Bool
	require.True(t, d.Submit("k", func() { ran.Store(true) }))

	assert.Eventually(t, func() bool { return ran.Load() && d.Active() == 0 }, time.Second, 5*time.Millisecond)

	// the key gets a fresh worker after exit
	done := make(chan struct{})
	require.True(t, d.Submit("k", func() { close(done) }))
	<-done
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	d := New(4, time.Second)
	defer d.Close()

	require.True(t, d.Submit("k", func() { panic("boom") }))
	done := make(chan struct{})
	require.True(t, d.Submit("k", func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task after panic did not run")
	}
}

func TestCloseDrainsAndRejects(t *testing.T) {
	d := New(16, time.Second)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		d.Submit("k", func() { n.Add(1) })
	}
	d.Close()

	assert.Equal(t, int32(10), n.Load())
	assert.False(t, d.Submit("k", func() {}))
}
