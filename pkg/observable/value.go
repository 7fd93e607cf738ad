// Package observable provides a small latest-value container that several
// goroutines can watch.
//
// A Value always has a current value. Subscribers receive it immediately and
// then every later change; a slow subscriber only ever sees the most recent
// value (intermediate values are coalesced, never queued).
package observable

import "sync"

// Value is a concurrency-safe holder of a T with change notification.
type Value[T any] struct {
	mu    sync.Mutex
	cur   T
	subs  map[int]chan T
	next  int
	equal func(a, b T) bool
}

// New returns a Value initialised to v.
func New[T any](v T) *Value[T] {
	return &Value[T]{cur: v, subs: make(map[int]chan T)}
}

// NewComparable returns a Value that skips notifications when Set is called
// with a value equal to the current one.
func NewComparable[T comparable](v T) *Value[T] {
	val := New(v)
	val.equal = func(a, b T) bool { return a == b }
	return val
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set replaces the current value and notifies subscribers.
func (v *Value[T]) Set(next T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.equal != nil && v.equal(v.cur, next) {
		return
	}
	v.cur = next
	for _, ch := range v.subs {
		push(ch, next)
	}
}

// Update applies fn to the current value atomically and stores the result.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()

	next := fn(v.cur)
	if v.equal != nil && v.equal(v.cur, next) {
		return next
	}
	v.cur = next
	for _, ch := range v.subs {
		push(ch, next)
	}
	return next
}

// Subscribe returns a channel that yields the current value followed by every
// change, and a cancel func that closes the channel. Cancel is safe to call
// more than once.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.next
	v.next++
	ch := make(chan T, 1)
	ch <- v.cur
	v.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// push delivers val to a buffered(1) channel, replacing an undelivered value.
// Callers hold v.mu, so nothing else sends on ch concurrently.
func push[T any](ch chan T, val T) {
	select {
	case <-ch:
	default:
	}
	ch <- val
}
