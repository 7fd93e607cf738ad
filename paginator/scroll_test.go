package paginator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScroller struct {
	mu         sync.Mutex
	metrics    ScrollMetrics
	scrolledTo []float64
	listeners  map[int]func()
	nextID     int
}

func newFakeScroller(m ScrollMetrics) *fakeScroller {
	return &fakeScroller{metrics: m, listeners: make(map[int]func())}
}

func (f *fakeScroller) ScrollMetrics() ScrollMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

func (f *fakeScroller) ScrollTo(top float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics.Top = top
	f.scrolledTo = append(f.scrolledTo, top)
}

func (f *fakeScroller) OnScroll(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeScroller) scroll(top float64) {
	f.mu.Lock()
	f.metrics.Top = top
	fns := make([]func(), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *fakeScroller) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func newScrollPaginator(t *testing.T, src *fakeSource, mock *clock.Mock) *Paginator[string, string] {
	t.Helper()
	p := New(src.load, staticStart(initialPage()), WithClock[string, string](mock))
	t.Cleanup(p.Close)
	waitForItems(t, p)
	return p
}

func TestScrollNearTopLoadsHeadAfterDebounce(t *testing.T) {
	mock := clock.NewMock()
	src := newFakeSource()
	src.replyPage(Head, Page[string]{Items: []string{"m0"}, Position: PositionHead, Prev: true, Next: true})
	p := newScrollPaginator(t, src, mock)

	scroller := newFakeScroller(ScrollMetrics{Top: 500, Height: 2000, ClientHeight: 600})
	p.AttachScrollSource(scroller, ScrollOptions{})
	defer p.Detach()

	scroller.scroll(40)

	mock.Add(DefaultDebounce - time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, src.callCount(), "no load before the debounce elapses")

	mock.Add(time.Millisecond)
	require.Eventually(t, func() bool { return src.callCount() == 1 }, time.Second, 5*time.Millisecond)

	call := <-src.started
	assert.Equal(t, Head, call.dir)
	require.Eventually(t, func() bool { return len(p.Items().Get()) == 2 }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, src.callCount())
	assert.Equal(t, []float64{40 + DefaultEdgeOffset}, scroller.scrolledTo, "viewport is nudged before prepending")
}

func TestScrollAtTopLoadsOneHeadPage(t *testing.T) {
	mock := clock.NewMock()
	src := newFakeSource()
	src.replyPage(Head, Page[string]{Items: []string{"m0"}, Position: PositionHead, Prev: true, Next: true})
	p := newScrollPaginator(t, src, mock)

	scroller := newFakeScroller(ScrollMetrics{Top: 500, Height: 2000, ClientHeight: 600})
	p.AttachScrollSource(scroller, ScrollOptions{})
	defer p.Detach()

	scroller.scroll(0)
	mock.Add(DefaultDebounce)
	require.Eventually(t, func() bool { return len(p.Items().Get()) == 2 }, time.Second, 5*time.Millisecond)

	// the prepended page re-arms the debounce
	mock.Add(DefaultDebounce)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, src.callCount())
	assert.Equal(t, []float64{DefaultEdgeOffset}, scroller.scrolledTo)
}

func TestScrollEventsAreDebounced(t *testing.T) {
	mock := clock.NewMock()
	src := newFakeSource()
	src.replyPage(Head, Page[string]{Items: []string{"m0"}, Position: PositionHead, Prev: false, Next: true})
	p := newScrollPaginator(t, src, mock)

	scroller := newFakeScroller(ScrollMetrics{Top: 500, Height: 2000, ClientHeight: 600})
	p.AttachScrollSource(scroller, ScrollOptions{Debounce: 100 * time.Millisecond})
	defer p.Detach()

	for i := 0; i < 5; i++ {
		scroller.scroll(float64(50 - i*10))
		mock.Add(50 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, src.callCount())

	mock.Add(50 * time.Millisecond)
	require.Eventually(t, func() bool { return src.callCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScrollNearBottomLoadsTail(t *testing.T) {
	mock := clock.NewMock()
	src := newFakeSource()
	src.replyPage(Tail, Page[string]{Items: []string{"m4"}, Position: PositionTail, Prev: true, Next: false})
	p := newScrollPaginator(t, src, mock)

	scroller := newFakeScroller(ScrollMetrics{Top: 500, Height: 2000, ClientHeight: 600})
	p.AttachScrollSource(scroller, ScrollOptions{})
	defer p.Detach()

	scroller.scroll(1350) // 50px from the bottom
	mock.Add(DefaultDebounce)

	require.Eventually(t, func() bool { return src.callCount() == 1 }, time.Second, 5*time.Millisecond)
	call := <-src.started
	assert.Equal(t, Tail, call.dir)
	assert.Empty(t, scroller.scrolledTo)
}

func TestScrollIgnoresEdgeWithoutMore(t *testing.T) {
	mock := clock.NewMock()
	src := newFakeSource()
	p := New(src.load, staticStart(Page[string]{Items: []string{"m1"}, Position: PositionInitial}), WithClock[string, string](mock))
	defer p.Close()
	waitForItems(t, p)

	scroller := newFakeScroller(ScrollMetrics{Top: 0, Height: 300, ClientHeight: 300})
	p.AttachScrollSource(scroller, ScrollOptions{})
	defer p.Detach()

	scroller.scroll(0)
	mock.Add(DefaultDebounce)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, src.callCount())
}

func TestScrollLoadErrorIsReported(t *testing.T) {
	mock := clock.NewMock()
	src := newFakeSource()
	boom := errors.New("offline")
	src.reply(Tail, func(context.Context) (Page[string], error) { return Page[string]{}, boom })
	p := newScrollPaginator(t, src, mock)

	reported := make(chan error, 1)
	scroller := newFakeScroller(ScrollMetrics{Top: 1400, Height: 2000, ClientHeight: 600})
	p.AttachScrollSource(scroller, ScrollOptions{OnError: func(dir Direction, err error) {
		assert.Equal(t, Tail, dir)
		reported <- err
	}})
	defer p.Detach()

	mock.Add(DefaultDebounce)
	select {
	case err := <-reported:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("error was not reported")
	}
}

func TestDetachRemovesListenerAndIsIdempotent(t *testing.T) {
	mock := clock.NewMock()
	src := newFakeSource()
	p := newScrollPaginator(t, src, mock)

	scroller := newFakeScroller(ScrollMetrics{Top: 0, Height: 2000, ClientHeight: 600})
	p.AttachScrollSource(scroller, ScrollOptions{})
	assert.Equal(t, 1, scroller.listenerCount())

	p.Detach()
	p.Detach()
	assert.Equal(t, 0, scroller.listenerCount())

	scroller.scroll(0)
	mock.Add(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, src.callCount())
}

func TestAttachReplacesPreviousSource(t *testing.T) {
	mock := clock.NewMock()
	p := newScrollPaginator(t, newFakeSource(), mock)

	first := newFakeScroller(ScrollMetrics{Top: 500, Height: 2000, ClientHeight: 600})
	second := newFakeScroller(ScrollMetrics{Top: 500, Height: 2000, ClientHeight: 600})
	p.AttachScrollSource(first, ScrollOptions{})
	p.AttachScrollSource(second, ScrollOptions{})
	defer p.Detach()

	assert.Equal(t, 0, first.listenerCount())
	assert.Equal(t, 1, second.listenerCount())
}
