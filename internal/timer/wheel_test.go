package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAdvanceFiresDueEntriesAndRearms(t *testing.T) {
	w := New()
	w.RegisterMainIdle(t0, 10*time.Millisecond)
	w.RegisterGarbageCollect(t0, 30*time.Millisecond)

	next, ok := w.NextExpectedTick()
	require.True(t, ok)
	assert.Equal(t, t0.Add(10*time.Millisecond), next)

	assert.Empty(t, w.Advance(t0.Add(5*time.Millisecond), nil))

	fired := w.Advance(t0.Add(10*time.Millisecond), nil)
	assert.Equal(t, []Key{MainIdleKey()}, fired)

	next, _ = w.NextExpectedTick()
	assert.Equal(t, t0.Add(20*time.Millisecond), next)

	fired = w.Advance(t0.Add(35*time.Millisecond), fired[:0])
	assert.Equal(t, []Key{MainIdleKey(), GarbageCollectKey()}, fired)

	next, _ = w.NextExpectedTick()
	assert.Equal(t, t0.Add(45*time.Millisecond), next, "re-armed at now+period")
}

func TestAdvanceLateFiresOnce(t *testing.T) {
	w := New()
	w.RegisterMainIdle(t0, 10*time.Millisecond)
	fired := w.Advance(t0.Add(time.Second), nil)
	assert.Len(t, fired, 1, "a late tick is coalesced, not replayed")
}

func TestPluginTimers(t *testing.T) {
	w := New()
	w.RegisterPluginTimer(t0, 7, 1, 20*time.Millisecond)
	w.RegisterPluginTimer(t0, 7, 2, 20*time.Millisecond)
	w.RegisterPluginTimer(t0, 8, 1, 20*time.Millisecond)
	require.Equal(t, 3, w.Len())

	assert.True(t, w.UnregisterPluginTimer(8, 1))
	assert.False(t, w.UnregisterPluginTimer(8, 1))

	assert.Equal(t, 2, w.UnregisterAllOnPlugin(7))
	assert.Equal(t, 0, w.Len())
	_, ok := w.NextExpectedTick()
	assert.False(t, ok)
}

func TestSameDeadlineKeepsRegistrationOrder(t *testing.T) {
	w := New()
	w.RegisterPluginTimer(t0, 1, 5, 10*time.Millisecond)
	w.RegisterMainIdle(t0, 10*time.Millisecond)

	fired := w.Advance(t0.Add(10*time.Millisecond), nil)
	assert.Equal(t, []Key{PluginTimerKey(1, 5), MainIdleKey()}, fired)
}

func TestReRegisterReplacesPeriod(t *testing.T) {
	w := New()
	w.RegisterMainIdle(t0, 10*time.Millisecond)
	w.RegisterMainIdle(t0, 50*time.Millisecond)
	assert.Equal(t, 1, w.Len())

	next, _ := w.NextExpectedTick()
	assert.Equal(t, t0.Add(50*time.Millisecond), next)
}

func TestMinPeriod(t *testing.T) {
	w := New()
	w.RegisterMainIdle(t0, 0)
	next, _ := w.NextExpectedTick()
	assert.Equal(t, t0.Add(MinPeriod), next)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "main_idle", MainIdleKey().String())
	assert.Equal(t, "plugin_timer(3,4)", PluginTimerKey(3, 4).String())
}
