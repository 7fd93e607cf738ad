package paginator

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/akinalp/casedesk/pkg/observable"
)

// LoadFunc fetches one page relative to edge: the first page of the window
// for Head, the last for Tail. edge is nil when the window holds no page.
type LoadFunc[T any, Q comparable] func(ctx context.Context, query Q, dir Direction, edge *Page[T]) (Page[T], error)

// StartFunc fetches the page a window is seeded with after a reset.
type StartFunc[T any, Q comparable] func(ctx context.Context, query Q) (Page[T], error)

// Option configures a Paginator.
type Option[T any, Q comparable] func(*Paginator[T, Q])

// WithQuery sets the query the first seed runs with. Without it the zero
// value of Q is used.
func WithQuery[T any, Q comparable](q Q) Option[T, Q] {
	return func(p *Paginator[T, Q]) { p.query = q }
}

// WithQuerySource feeds every value received on src into SetQuery until src
// is closed or the paginator is closed.
func WithQuerySource[T any, Q comparable](src <-chan Q) Option[T, Q] {
	return func(p *Paginator[T, Q]) { p.querySrc = src }
}

// WithClock replaces the wall clock used for scroll debouncing.
func WithClock[T any, Q comparable](c clock.Clock) Option[T, Q] {
	return func(p *Paginator[T, Q]) { p.clock = c }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger[T any, Q comparable](l *zap.Logger) Option[T, Q] {
	return func(p *Paginator[T, Q]) { p.log = l }
}

type request[T any, Q comparable] struct {
	epoch uint64
	dir   Direction
	start StartFunc[T, Q] // set for seeds
	ctx   context.Context
	done  chan error
}

// Paginator accumulates pages for the current query. All mutations of the
// window go through a single worker goroutine that processes requests in
// FIFO order.
type Paginator[T any, Q comparable] struct {
	load     LoadFunc[T, Q]
	start    StartFunc[T, Q]
	clock    clock.Clock
	log      *zap.Logger
	querySrc <-chan Q

	items   *observable.Value[[]Page[T]]
	hasPrev *observable.Value[bool]
	hasNext *observable.Value[bool]
	loading *observable.Value[bool]

	mu       sync.Mutex
	query    Q
	epoch    uint64
	queue    []*request[T, Q]
	inflight context.CancelFunc
	closed   bool
	wake     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	scrollMu sync.Mutex
	scroll   *scrollWatcher[T, Q]
}

// New creates a paginator and immediately seeds it for the initial query.
func New[T any, Q comparable](load LoadFunc[T, Q], start StartFunc[T, Q], opts ...Option[T, Q]) *Paginator[T, Q] {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Paginator[T, Q]{
		load:    load,
		start:   start,
		clock:   clock.New(),
		log:     zap.NewNop(),
		items:   observable.New[[]Page[T]](nil),
		hasPrev: observable.NewComparable(false),
		hasNext: observable.NewComparable(false),
		loading: observable.NewComparable(false),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.mu.Lock()
	p.resetLocked(p.start, context.Background(), ErrQueryChanged)
	p.mu.Unlock()

	go p.run()
	if p.querySrc != nil {
		go p.pumpQueries()
	}
	return p
}

// Items is the current window, nil while a reset is in progress.
func (p *Paginator[T, Q]) Items() *observable.Value[[]Page[T]] { return p.items }

// HaveMorePrevious mirrors the first page's Prev flag.
func (p *Paginator[T, Q]) HaveMorePrevious() *observable.Value[bool] { return p.hasPrev }

// HaveMoreNext mirrors the last page's Next flag.
func (p *Paginator[T, Q]) HaveMoreNext() *observable.Value[bool] { return p.hasNext }

// Loading is true while a page load is running.
func (p *Paginator[T, Q]) Loading() *observable.Value[bool] { return p.loading }

// Query returns the current query.
func (p *Paginator[T, Q]) Query() Q {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.query
}

// SetQuery switches to q: the window is cleared to nil, queued and in-flight
// loads of the previous query are abandoned and a new seed is queued.
func (p *Paginator[T, Q]) SetQuery(q Q) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.query = q
	p.resetLocked(p.start, context.Background(), ErrQueryChanged)
}

// Restart clears the window and seeds the current query with start instead
// of the default start function. It returns once the seed is applied.
func (p *Paginator[T, Q]) Restart(ctx context.Context, start StartFunc[T, Q]) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if start == nil {
		start = p.start
	}
	req := p.resetLocked(start, ctx, ErrReset)
	p.mu.Unlock()

	return p.wait(ctx, req)
}

// RequestMore queues the load of one page at the dir edge and waits for it
// to be applied. A failed load leaves the window untouched.
func (p *Paginator[T, Q]) RequestMore(ctx context.Context, dir Direction) error {
	if !dir.Valid() {
		return ErrInvalidDirection
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	req := &request[T, Q]{epoch: p.epoch, dir: dir, ctx: ctx, done: make(chan error, 1)}
	p.enqueueLocked(req)
	p.mu.Unlock()

	return p.wait(ctx, req)
}

// Close detaches any scroll source, abandons queued work and stops the
// worker. It is safe to call more than once.
func (p *Paginator[T, Q]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.epoch++
	queued := p.queue
	p.queue = nil
	p.mu.Unlock()

	p.Detach()
	p.cancel()
	for _, r := range queued {
		r.done <- ErrClosed
	}
	<-p.done
}

func (p *Paginator[T, Q]) wait(ctx context.Context, req *request[T, Q]) error {
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrClosed
	}
}

// resetLocked bumps the epoch, abandons everything queued or running with
// reason, publishes a nil window and queues a seed.
func (p *Paginator[T, Q]) resetLocked(start StartFunc[T, Q], ctx context.Context, reason error) *request[T, Q] {
	p.epoch++
	if p.inflight != nil {
		p.inflight()
	}
	for _, r := range p.queue {
		r.done <- reason
	}
	p.queue = nil
	p.publish(nil)

	req := &request[T, Q]{epoch: p.epoch, start: start, ctx: ctx, done: make(chan error, 1)}
	p.enqueueLocked(req)
	return req
}

func (p *Paginator[T, Q]) enqueueLocked(req *request[T, Q]) {
	p.queue = append(p.queue, req)
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Paginator[T, Q]) run() {
	defer close(p.done)
	for {
		req, ok := p.dequeue()
		if !ok {
			return
		}
		req.done <- p.process(req)
	}
}

func (p *Paginator[T, Q]) dequeue() (*request[T, Q], bool) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			req := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return req, true
		}
		p.mu.Unlock()

		select {
		case <-p.wake:
		case <-p.ctx.Done():
			return nil, false
		}
	}
}

func (p *Paginator[T, Q]) process(req *request[T, Q]) error {
	p.mu.Lock()
	if req.epoch != p.epoch {
		p.mu.Unlock()
		return ErrQueryChanged
	}
	query := p.query

	var edge *Page[T]
	if req.start == nil {
		if pages := p.items.Get(); len(pages) > 0 {
			e := pages[len(pages)-1]
			if req.dir == Head {
				e = pages[0]
			}
			edge = &e
		}
	}

	loadCtx, cancel := context.WithCancel(p.ctx)
	stop := context.AfterFunc(req.ctx, cancel)
	p.inflight = cancel
	p.mu.Unlock()

	defer stop()
	defer cancel()

	p.loading.Set(true)
	var (
		page Page[T]
		err  error
	)
	if req.start != nil {
		page, err = req.start(loadCtx, query)
	} else {
		page, err = p.load(loadCtx, query, req.dir, edge)
	}
	p.loading.Set(false)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight = nil

	if req.epoch != p.epoch {
		p.log.Debug("discarding stale page", zap.Uint64("epoch", req.epoch), zap.Uint64("current", p.epoch))
		return ErrQueryChanged
	}
	if err != nil {
		p.log.Warn("page load failed", zap.String("direction", string(req.dir)), zap.Bool("seed", req.start != nil), zap.Error(err))
		return err
	}

	p.publish(fold(p.items.Get(), page))
	return nil
}

func (p *Paginator[T, Q]) publish(pages []Page[T]) {
	p.items.Set(pages)
	p.hasPrev.Set(HasPrevious(pages))
	p.hasNext.Set(HasNext(pages))
}

func (p *Paginator[T, Q]) pumpQueries() {
	for {
		select {
		case q, ok := <-p.querySrc:
			if !ok {
				return
			}
			p.SetQuery(q)
		case <-p.ctx.Done():
			return
		}
	}
}
