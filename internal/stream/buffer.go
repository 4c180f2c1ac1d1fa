// Package stream bridges a live token stream into the chat tree: a frame-coalesced text buffer
// and the session machine that creates, fills and finalizes a placeholder message.
package stream

import (
	"strings"
	"sync"
	"time"
)

const DefaultFPS = 60

// FrameScheduler runs fn once at the next frame boundary. The returned func cancels a call that
// has not fired yet.
type FrameScheduler interface {
	Schedule(fn func()) (cancel func())
}

// TickerScheduler fires one frame interval after Schedule.
type TickerScheduler struct {
	interval time.Duration
}

func NewTickerScheduler(fps int) *TickerScheduler {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &TickerScheduler{interval: time.Second / time.Duration(fps)}
}

func (s *TickerScheduler) Interval() time.Duration { return s.interval }

func (s *TickerScheduler) Schedule(fn func()) func() {
	t := time.AfterFunc(s.interval, fn)
	return func() { t.Stop() }
}

// ImmediateScheduler flushes synchronously on every append.
type ImmediateScheduler struct{}

func (ImmediateScheduler) Schedule(fn func()) func() {
	fn()
	return func() {}
}

// Subscriber receives the full buffer text after each flush.
type Subscriber func(version uint64, text string)

// Buffer accumulates streamed text and pushes it to subscribers at most once per frame.
type Buffer struct {
	sched FrameScheduler

	mu      sync.Mutex
	text    strings.Builder
	version uint64
	stopped bool
	pending bool
	gen     uint64
	// epoch changes on Reset
	epoch   uint64
	cancel  func()
	subs    map[uint64]Subscriber
	nextSub uint64

	// serializes delivery so subscribers observe versions in order
	deliverMu sync.Mutex
}

func NewBuffer(sched FrameScheduler) *Buffer {
	if sched == nil {
		sched = NewTickerScheduler(DefaultFPS)
	}
	return &Buffer{sched: sched, subs: make(map[uint64]Subscriber)}
}

// Append adds s and schedules a flush unless one is already pending. Ignored after Stop.
func (b *Buffer) Append(s string) {
	if s == "" {
		return
	}
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.text.WriteString(s)
	if b.pending {
		b.mu.Unlock()
		return
	}
	b.pending = true
	b.gen++
	gen := b.gen
	b.mu.Unlock()

	cancel := b.sched.Schedule(func() { b.flushScheduled(gen) })

	b.mu.Lock()
	if b.pending && b.gen == gen {
		b.cancel = cancel
	}
	b.mu.Unlock()
}

// SetContent replaces the text wholesale and flushes immediately.
func (b *Buffer) SetContent(s string) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.text.Reset()
	b.text.WriteString(s)
	b.clearPendingLocked()
	b.mu.Unlock()
	b.flush()
}

func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text.String()
}

func (b *Buffer) Version() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Drain delivers any pending frame now and returns the text.
func (b *Buffer) Drain() string {
	b.mu.Lock()
	hadPending := b.pending
	b.clearPendingLocked()
	b.mu.Unlock()
	if hadPending {
		b.flush()
	}
	return b.Text()
}

// Reset clears the text and re-arms a stopped buffer. Subscribers see the empty text.
func (b *Buffer) Reset() { b.reset()() }

// reset clears the buffer without notifying anyone. publish delivers the cleared frame, unless
// the buffer has been reset again since.
func (b *Buffer) reset() (publish func()) {
	b.mu.Lock()
	b.text.Reset()
	b.stopped = false
	b.epoch++
	b.clearPendingLocked()
	epoch := b.epoch
	b.mu.Unlock()
	return func() { b.deliver(&epoch) }
}

// seal stops the buffer and returns its text. publish delivers a frame that was pending at seal
// time, unless the buffer has been reset since.
func (b *Buffer) seal() (text string, publish func()) {
	b.mu.Lock()
	hadPending := b.pending
	b.clearPendingLocked()
	b.stopped = true
	text = b.text.String()
	epoch := b.epoch
	b.mu.Unlock()
	if !hadPending {
		return text, func() {}
	}
	return text, func() { b.deliver(&epoch) }
}

// Stop drops any pending frame and ignores writes until the next Reset. The text is kept.
func (b *Buffer) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.clearPendingLocked()
	b.mu.Unlock()
}

func (b *Buffer) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// Subscribe registers fn and returns its unsubscribe func.
func (b *Buffer) Subscribe(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Buffer) clearPendingLocked() {
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	b.pending = false
	b.gen++
}

func (b *Buffer) flushScheduled(gen uint64) {
	b.mu.Lock()
	if !b.pending || b.gen != gen {
		b.mu.Unlock()
		return
	}
	b.pending = false
	b.cancel = nil
	b.mu.Unlock()
	b.flush()
}

func (b *Buffer) flush() { b.deliver(nil) }

// deliver publishes the current text. A non-nil epoch skips delivery after a Reset.
func (b *Buffer) deliver(epoch *uint64) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()

	b.mu.Lock()
	if epoch != nil && *epoch != b.epoch {
		b.mu.Unlock()
		return
	}
	b.version++
	v := b.version
	text := b.text.String()
	subs := make([]Subscriber, 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(v, text)
	}
}
