package stream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// manualScheduler fires frames only when the test calls tick.
type manualScheduler struct {
	mu      sync.Mutex
	pending []func()
	calls   int
}

func (s *manualScheduler) Schedule(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	idx := len(s.pending)
	s.pending = append(s.pending, fn)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.pending) {
			s.pending[idx] = nil
		}
	}
}

func (s *manualScheduler) tick() {
	s.mu.Lock()
	fns := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

type recorder struct {
	mu       sync.Mutex
	texts    []string
	versions []uint64
}

func (r *recorder) fn(v uint64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append(r.versions, v)
	r.texts = append(r.texts, text)
}

func (r *recorder) snapshot() ([]uint64, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.versions...), append([]string(nil), r.texts...)
}

func TestBufferCoalescesAppendsPerFrame(t *testing.T) {
	sched := &manualScheduler{}
	b := NewBuffer(sched)
	rec := &recorder{}
	b.Subscribe(rec.fn)

	for _, tok := range []string{"Hel", "lo", ", ", "world"} {
		b.Append(tok)
	}
	require.Equal(t, 1, sched.calls, "one frame scheduled for a burst of appends")
	v, _ := rec.snapshot()
	require.Empty(t, v, "nothing delivered before the frame fires")

	sched.tick()
	v, texts := rec.snapshot()
	require.Equal(t, []uint64{1}, v)
	require.Equal(t, []string{"Hello, world"}, texts)

	b.Append("!")
	sched.tick()
	v, texts = rec.snapshot()
	require.Equal(t, []uint64{1, 2}, v)
	require.Equal(t, "Hello, world!", texts[1])
	require.Equal(t, uint64(2), b.Version())
}

func TestBufferSetContentFlushesImmediately(t *testing.T) {
	sched := &manualScheduler{}
	b := NewBuffer(sched)
	rec := &recorder{}
	b.Subscribe(rec.fn)

	b.Append("draft")
	b.SetContent("corrected")
	_, texts := rec.snapshot()
	require.Equal(t, []string{"corrected"}, texts)

	// The cancelled frame must not deliver again.
	sched.tick()
	v, _ := rec.snapshot()
	require.Len(t, v, 1)
}

func TestBufferDrainStopReset(t *testing.T) {
	sched := &manualScheduler{}
	b := NewBuffer(sched)
	rec := &recorder{}
	unsubscribe := b.Subscribe(rec.fn)

	b.Append("partial")
	require.Equal(t, "partial", b.Drain())
	_, texts := rec.snapshot()
	require.Equal(t, []string{"partial"}, texts, "drain delivers the pending frame")

	b.Stop()
	b.Append(" ignored")
	require.Equal(t, "partial", b.Text())
	require.True(t, b.Stopped())

	b.Reset()
	require.False(t, b.Stopped())
	require.Equal(t, "", b.Text())
	_, texts = rec.snapshot()
	require.Equal(t, "", texts[len(texts)-1], "reset publishes the empty text")

	unsubscribe()
	b.SetContent("after")
	_, after := rec.snapshot()
	require.Len(t, after, len(texts))
}

func TestImmediateSchedulerFlushesEveryAppend(t *testing.T) {
	b := NewBuffer(ImmediateScheduler{})
	rec := &recorder{}
	b.Subscribe(rec.fn)
	b.Append("a")
	b.Append("b")
	v, texts := rec.snapshot()
	require.Equal(t, []uint64{1, 2}, v)
	require.Equal(t, []string{"a", "ab"}, texts)
}

func TestTickerSchedulerInterval(t *testing.T) {
	require.Equal(t, int64(16666666), NewTickerScheduler(60).Interval().Nanoseconds())
	require.Equal(t, NewTickerScheduler(DefaultFPS).Interval(), NewTickerScheduler(0).Interval())
}
