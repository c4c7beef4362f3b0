package coalesce

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *flushLog) add(key int, v string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, v)
}

func (l *flushLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func TestCoalescerLastWriteWins(t *testing.T) {
	clock := clockwork.NewFakeClock()
	log := &flushLog{}
	c := New(clock, 100*time.Millisecond, log.add)

	assert.True(t, c.Submit(7, "first"))
	assert.False(t, c.Submit(7, "second"))
	assert.False(t, c.Submit(7, "third"))
	assert.True(t, c.Pending(7))
	assert.Equal(t, 1, c.Len())

	clock.Advance(99 * time.Millisecond)
	assert.Empty(t, log.get())

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"third"}, log.get())
	assert.False(t, c.Pending(7))
	assert.Equal(t, 0, c.Len())
}

func TestCoalescerRearmsAfterFlush(t *testing.T) {
	clock := clockwork.NewFakeClock()
	log := &flushLog{}
	c := New(clock, 100*time.Millisecond, log.add)

	c.Submit(1, "a")
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, time.Millisecond)

	assert.True(t, c.Submit(1, "b"))
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(log.get()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, log.get())
}

func TestCoalescerKeysAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	log := &flushLog{}
	c := New(clock, 100*time.Millisecond, log.add)

	assert.True(t, c.Submit(1, "one"))
	assert.True(t, c.Submit(2, "two"))
	assert.Equal(t, 2, c.Len())

	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(log.get()) == 2 }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []string{"one", "two"}, log.get())
}

func TestCoalescerFireOnEmptySlot(t *testing.T) {
	c := New(clockwork.NewFakeClock(), time.Millisecond, func(int, string) {
		t.Fatal("flush must not run for an empty slot")
	})

	c.fire(42)
	assert.Equal(t, 0, c.Len())
}

func TestCoalescerSurvivesPanickingFlush(t *testing.T) {
	clock := clockwork.NewFakeClock()
	log := &flushLog{}
	c := New(clock, 100*time.Millisecond, func(key int, v string) {
		if v == "boom" {
			panic("flush failed")
		}
		log.add(key, v)
	})

	c.Submit(1, "boom")
	c.Submit(2, "ok")
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, time.Millisecond)

	assert.True(t, c.Submit(1, "after"))
	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return len(log.get()) == 2 }, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []string{"ok", "after"}, log.get())
}
