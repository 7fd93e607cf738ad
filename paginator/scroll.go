package paginator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	DefaultDebounce   = 300 * time.Millisecond
	DefaultEdgeOffset = 100.0
)

// ScrollMetrics is a snapshot of a scrollable element's geometry in pixels.
type ScrollMetrics struct {
	Top          float64 // current scroll offset from the top
	Height       float64 // total content height
	ClientHeight float64 // visible height
}

// DistanceToBottom returns how far the visible area is from the content end.
func (m ScrollMetrics) DistanceToBottom() float64 {
	return m.Height - (m.Top + m.ClientHeight)
}

// ScrollSource is a scrollable element the paginator can watch.
type ScrollSource interface {
	ScrollMetrics() ScrollMetrics
	ScrollTo(top float64)
	// OnScroll registers fn to run after every scroll position change and
	// returns a func that removes it.
	OnScroll(fn func()) (unsubscribe func())
}

// ScrollOptions tune AttachScrollSource. Zero values pick the defaults.
type ScrollOptions struct {
	Debounce   time.Duration
	EdgeOffset float64
	// OnError receives failures of scroll-triggered loads. Abandoned loads
	// (query change, detach, close) are not reported.
	OnError func(dir Direction, err error)
}

// AttachScrollSource starts loading pages automatically when src is scrolled
// near an edge that has more items. A previously attached source is
// detached first.
func (p *Paginator[T, Q]) AttachScrollSource(src ScrollSource, opts ScrollOptions) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.EdgeOffset <= 0 {
		opts.EdgeOffset = DefaultEdgeOffset
	}

	p.Detach()

	w := &scrollWatcher[T, Q]{
		p:      p,
		src:    src,
		opts:   opts,
		clock:  p.clock,
		log:    p.log.Named("scroll"),
		checks: make(chan struct{}, 1),
	}
	w.ctx, w.cancel = context.WithCancel(p.ctx)

	p.scrollMu.Lock()
	p.scroll = w
	p.scrollMu.Unlock()

	w.start()
}

// Detach stops watching the attached scroll source, if any.
func (p *Paginator[T, Q]) Detach() {
	p.scrollMu.Lock()
	w := p.scroll
	p.scroll = nil
	p.scrollMu.Unlock()

	if w != nil {
		w.stop()
	}
}

type scrollWatcher[T any, Q comparable] struct {
	p     *Paginator[T, Q]
	src   ScrollSource
	opts  ScrollOptions
	clock clock.Clock
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	checks chan struct{}

	mu          sync.Mutex
	timer       *clock.Timer
	stopped     bool
	unsubscribe func()
	itemsCancel func()
	stopOnce    sync.Once
}

func (w *scrollWatcher[T, Q]) start() {
	items, cancel := w.p.items.Subscribe()
	<-items

	w.mu.Lock()
	w.itemsCancel = cancel
	w.unsubscribe = w.src.OnScroll(w.schedule)
	w.mu.Unlock()

	w.schedule()

	go func() {
		for range items {
			w.schedule()
		}
	}()
	go w.loop()
}

// schedule (re)arms the debounce timer.
func (w *scrollWatcher[T, Q]) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = w.clock.AfterFunc(w.opts.Debounce, func() {
		select {
		case w.checks <- struct{}{}:
		default:
		}
	})
}

func (w *scrollWatcher[T, Q]) loop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.checks:
			w.check()
		}
	}
}

func (w *scrollWatcher[T, Q]) check() {
	pages := w.p.items.Get()
	if pages == nil {
		return
	}

	// The edge zone excludes its boundary: a viewport nudged from the very
	// top lands exactly on it and must not trigger another head load.
	m := w.src.ScrollMetrics()
	switch {
	case m.Top < w.opts.EdgeOffset && HasPrevious(pages):
		// Keep the viewport off the very top so prepended content does not
		// make the browser jump.
		w.src.ScrollTo(max(m.Top, 0) + w.opts.EdgeOffset)
		w.request(Head)
	case m.DistanceToBottom() < w.opts.EdgeOffset && HasNext(pages):
		w.request(Tail)
	}
}

func (w *scrollWatcher[T, Q]) request(dir Direction) {
	err := w.p.RequestMore(w.ctx, dir)
	if err == nil {
		return
	}
	if errors.Is(err, ErrQueryChanged) || errors.Is(err, ErrReset) || errors.Is(err, ErrClosed) || w.ctx.Err() != nil {
		return
	}

	w.log.Warn("scroll load failed", zap.String("direction", string(dir)), zap.Error(err))
	if w.opts.OnError != nil {
		w.opts.OnError(dir, err)
	}
}

func (w *scrollWatcher[T, Q]) stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		if w.timer != nil {
			w.timer.Stop()
		}
		unsubscribe, itemsCancel := w.unsubscribe, w.itemsCancel
		w.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		if itemsCancel != nil {
			itemsCancel()
		}
		w.cancel()
	})
}
