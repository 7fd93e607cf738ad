package chatview

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/paginator"
	"github.com/akinalp/casedesk/pkg/observable"
)

const (
	DefaultReadMarkEvery         = 3000 * time.Millisecond
	DefaultScrollButtonThreshold = 300.0
)

// ErrNoChat is returned by operations that need an active chat.
var ErrNoChat = errors.New("chatview: no chat selected")

type messagePage = paginator.Page[models.Message]

// Option configures a View.
type Option func(*View)

// WithClock replaces the wall clock used for debouncing and throttling.
func WithClock(clk clock.Clock) Option {
	return func(v *View) { v.clock = clk }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(v *View) { v.log = l }
}

// WithReadMarkEvery sets the minimum interval between read-marking checks.
func WithReadMarkEvery(d time.Duration) Option {
	return func(v *View) { v.readEvery = d }
}

// WithScrollButtonThreshold sets the distance from the bottom, in pixels,
// past which the scroll-to-bottom button shows.
func WithScrollButtonThreshold(px float64) Option {
	return func(v *View) { v.buttonThreshold = px }
}

// WithScrollOptions tunes edge loading of an attached viewport.
func WithScrollOptions(opts paginator.ScrollOptions) Option {
	return func(v *View) { v.scrollOpts = opts }
}

// View is the state of one chat screen. Create it with New and release it
// with Close.
type View struct {
	svc             ChatService
	clock           clock.Clock
	log             *zap.Logger
	readEvery       time.Duration
	buttonThreshold float64
	scrollOpts      paginator.ScrollOptions

	pg          *paginator.Paginator[models.Message, string]
	readLimiter *rate.Limiter

	messages     *observable.Value[[]models.Message]
	scrollButton *observable.Value[bool]
	errLoading   *observable.Value[bool]
	filesLoading *observable.Value[bool]
	files        *observable.Value[[]models.FileUpload]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	chat     *models.Chat
	lastRead string // newest message known to be read in chat
	liveTail bool
	hot      hotState
	vp       Viewport
	vpUnsub  []func()
	closed   bool

	// render-driven scroll actions
	awaitingWindow bool
	lastReadArmed  bool
	scrollBottom   bool
	scrollBottomOn string
}

// hotState is the live subscription of the active chat.
type hotState struct {
	active  bool
	chatID  string
	afterID string // last window message when subscribed, "" for an empty window
	list    []models.Message
	cancel  context.CancelFunc
	gen     uint64
}

// New creates a View with no chat selected.
func New(svc ChatService, opts ...Option) *View {
	v := &View{
		svc:             svc,
		clock:           clock.New(),
		log:             zap.NewNop(),
		readEvery:       DefaultReadMarkEvery,
		buttonThreshold: DefaultScrollButtonThreshold,
		messages:        observable.New[[]models.Message](nil),
		scrollButton:    observable.NewComparable(false),
		errLoading:      observable.NewComparable(false),
		filesLoading:    observable.NewComparable(false),
		files:           observable.New[[]models.FileUpload](nil),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.log = v.log.Named("chatview")
	v.readLimiter = rate.NewLimiter(rate.Every(v.readEvery), 1)
	v.ctx, v.cancel = context.WithCancel(context.Background())

	v.pg = paginator.New(v.load, v.startWithLastRead,
		paginator.WithClock[models.Message, string](v.clock),
		paginator.WithLogger[models.Message, string](v.log),
	)

	watch(v, v.pg.Items(), func([]messagePage) { v.refresh() })
	watch(v, v.pg.HaveMoreNext(), func(bool) { v.updateScrollButton() })
	return v
}

// Items is the paged window of the active chat.
func (v *View) Items() *observable.Value[[]messagePage] { return v.pg.Items() }

// HaveMorePrevious is true when older messages can be paged in.
func (v *View) HaveMorePrevious() *observable.Value[bool] { return v.pg.HaveMorePrevious() }

// HaveMoreNext is true when newer messages can be paged in.
func (v *View) HaveMoreNext() *observable.Value[bool] { return v.pg.HaveMoreNext() }

// Loading is true while a page is loading.
func (v *View) Loading() *observable.Value[bool] { return v.pg.Loading() }

// Messages is the list to render.
func (v *View) Messages() *observable.Value[[]models.Message] { return v.messages }

// IsScrollButtonVisible says whether to offer a jump to the newest message.
func (v *View) IsScrollButtonVisible() *observable.Value[bool] { return v.scrollButton }

// ErrorLoadingChat is set when a page fails to load and cleared by the next
// successful load or chat switch.
func (v *View) ErrorLoadingChat() *observable.Value[bool] { return v.errLoading }

// FilesLoading is true while a message with attachments is being sent.
func (v *View) FilesLoading() *observable.Value[bool] { return v.filesLoading }

// Files are the attachments of the message being written.
func (v *View) Files() *observable.Value[[]models.FileUpload] { return v.files }

// SelectChat makes chat the active chat. The window is cleared and seeded
// around the chat's last read message, which is scrolled to once the new
// window has rendered.
func (v *View) SelectChat(chat models.Chat) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}

	v.chat = &chat
	v.lastRead = ""
	if chat.LastReadMessageID != nil {
		v.lastRead = *chat.LastReadMessageID
	}
	v.awaitingWindow = true
	v.lastReadArmed = false
	v.scrollBottom = false
	v.scrollBottomOn = ""
	v.stopHotLocked()

	v.files.Set(nil)
	v.errLoading.Set(false)
	v.pg.SetQuery(chat.ID)
	v.messages.Set(nil)
	v.log.Debug("chat_selected", zap.String("chat_id", chat.ID))
}

// LoadLastPage replaces the window with the newest page and scrolls to the
// bottom once it renders.
func (v *View) LoadLastPage(ctx context.Context) error {
	if _, err := v.activeChat(); err != nil {
		return err
	}
	if err := v.pg.Restart(ctx, v.startWithLastPage); err != nil {
		return err
	}
	v.refreshWith(func() { v.scrollBottom = true })
	return nil
}

// OnFileAttached adds files to the message being written.
func (v *View) OnFileAttached(files ...models.FileUpload) {
	v.files.Update(func(cur []models.FileUpload) []models.FileUpload {
		return append(slices.Clip(cur), files...)
	})
}

// OnNewMessageFormSubmitted sends text with the attached files.
//
// When the window already reaches the newest message the view scrolls to
// the bottom once the sent message renders. Otherwise the next tail page is
// loaded first and the view scrolls to the bottom after it renders.
func (v *View) OnNewMessageFormSubmitted(ctx context.Context, text string) (*models.Message, error) {
	chat, err := v.activeChat()
	if err != nil {
		return nil, err
	}

	files := v.files.Get()
	if len(files) > 0 {
		v.filesLoading.Set(true)
	}
	msg, err := v.svc.SendTextMessage(ctx, chat, text, files)
	v.filesLoading.Set(false)
	if err != nil {
		return nil, err
	}
	v.files.Set(nil)

	v.mu.Lock()
	if v.chat != nil && v.chat.ID == chat.ID {
		v.lastRead = msg.ID
	}
	v.mu.Unlock()

	if !paginator.HasNext(v.pg.Items().Get()) {
		v.scrollToBottomOnRender(msg.ID)
		return msg, nil
	}

	if err := v.pg.RequestMore(ctx, paginator.Tail); err != nil {
		v.log.Warn("catch_up_after_send_failed", zap.String("chat_id", chat.ID), zap.Error(err))
		return msg, nil
	}
	v.refreshWith(func() { v.scrollBottom = true })
	return msg, nil
}

// AttachScrollSource starts watching vp: edge loading, read marking, the
// scroll button and render-driven scrolling. A previous viewport is
// detached first.
func (v *View) AttachScrollSource(vp Viewport) {
	v.Detach()

	opts := v.scrollOpts
	onError := opts.OnError
	opts.OnError = func(dir paginator.Direction, err error) {
		v.errLoading.Set(true)
		if onError != nil {
			onError(dir, err)
		}
	}
	v.pg.AttachScrollSource(vp, opts)

	unsub := []func(){
		vp.OnScroll(v.onScroll),
		vp.OnMouseMove(v.markRead),
		vp.OnRendered(v.onRendered),
	}

	v.mu.Lock()
	v.vp = vp
	v.vpUnsub = unsub
	v.mu.Unlock()

	v.updateScrollButton()
}

// Detach stops watching the viewport. It is safe to call more than once.
func (v *View) Detach() {
	v.pg.Detach()

	v.mu.Lock()
	unsub := v.vpUnsub
	v.vp = nil
	v.vpUnsub = nil
	v.mu.Unlock()

	for _, fn := range unsub {
		fn()
	}
}

// Close detaches, stops the live subscription and the paginator.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.stopHotLocked()
	v.mu.Unlock()

	v.Detach()
	v.pg.Close()
	v.cancel()
	v.wg.Wait()
}

func (v *View) activeChat() (models.Chat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.chat == nil {
		return models.Chat{}, ErrNoChat
	}
	return *v.chat, nil
}

// chatFor returns the active chat if it is still the one query refers to.
func (v *View) chatFor(query string) (models.Chat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.chat == nil || v.chat.ID != query {
		return models.Chat{}, paginator.ErrQueryChanged
	}
	return *v.chat, nil
}

func (v *View) startWithLastRead(ctx context.Context, query string) (messagePage, error) {
	if query == "" {
		return messagePage{Position: paginator.PositionInitial}, nil
	}
	chat, err := v.chatFor(query)
	if err != nil {
		return messagePage{}, err
	}
	page, err := v.svc.MessagesPageWithLastRead(ctx, chat)
	return page, v.loaded(err)
}

func (v *View) startWithLastPage(ctx context.Context, query string) (messagePage, error) {
	chat, err := v.chatFor(query)
	if err != nil {
		return messagePage{}, err
	}
	page, err := v.svc.LastPageMessages(ctx, chat)
	return page, v.loaded(err)
}

func (v *View) load(ctx context.Context, query string, dir paginator.Direction, edge *messagePage) (messagePage, error) {
	chat, err := v.chatFor(query)
	if err != nil {
		return messagePage{}, err
	}
	page, err := v.svc.MessagesPage(ctx, chat, edge, dir)
	return page, v.loaded(err)
}

// loaded updates the error flag. Abandoned loads leave it alone.
func (v *View) loaded(err error) error {
	switch {
	case err == nil:
		v.errLoading.Set(false)
	case errors.Is(err, context.Canceled), errors.Is(err, paginator.ErrQueryChanged), errors.Is(err, paginator.ErrReset):
	default:
		v.errLoading.Set(true)
	}
	return err
}

func (v *View) refresh() { v.refreshWith(nil) }

// refreshWith recomputes Messages from the window and the live list, then
// runs then under the same lock.
func (v *View) refreshWith(then func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	if then != nil {
		defer then()
	}

	pages := v.pg.Items().Get()
	if v.chat == nil || pages == nil {
		v.messages.Set(nil)
		return
	}
	if v.awaitingWindow {
		v.awaitingWindow = false
		v.lastReadArmed = true
	}

	window := paginator.Flatten(pages)
	if !v.liveTail && !paginator.HasNext(pages) {
		v.liveTail = true
		v.log.Debug("live_tail_enabled", zap.String("chat_id", v.chat.ID))
	}
	if !v.liveTail {
		v.messages.Set(window)
		return
	}

	var last *models.Message
	if n := len(window); n > 0 {
		last = &window[n-1]
	}
	if !v.hotCoversLocked(last) {
		v.startHotLocked(*v.chat, last)
	}
	v.messages.Set(merge(window, v.hot.list, last))
}

func (v *View) hotCoversLocked(last *models.Message) bool {
	if !v.hot.active || v.hot.chatID != v.chat.ID {
		return false
	}
	if last == nil {
		return v.hot.afterID == ""
	}
	return last.ID == v.hot.afterID || indexOf(v.hot.list, last.ID) >= 0
}

func (v *View) startHotLocked(chat models.Chat, last *models.Message) {
	v.stopHotLocked()

	ctx, cancel := context.WithCancel(v.ctx)
	gen := v.hot.gen + 1
	v.hot = hotState{active: true, chatID: chat.ID, cancel: cancel, gen: gen}

	var after *models.Message
	if last != nil {
		m := *last
		after = &m
		v.hot.afterID = m.ID
	}

	v.wg.Add(1)
	go v.consumeHot(ctx, gen, chat, after)
}

func (v *View) stopHotLocked() {
	if v.hot.cancel != nil {
		v.hot.cancel()
	}
	v.hot = hotState{gen: v.hot.gen + 1}
}

func (v *View) consumeHot(ctx context.Context, gen uint64, chat models.Chat, after *models.Message) {
	defer v.wg.Done()

	ch, err := v.svc.HotMessages(ctx, chat, after)
	if err != nil {
		v.hotLost(ctx, gen, chat.ID, err)
		return
	}
	v.errLoading.Set(false)

	for {
		select {
		case <-ctx.Done():
			return
		case list, ok := <-ch:
			if !ok {
				v.hotLost(ctx, gen, chat.ID, errHotClosed)
				return
			}
			v.mu.Lock()
			current := v.hot.gen == gen
			if current {
				v.hot.list = list
			}
			v.mu.Unlock()
			if !current {
				return
			}
			v.refresh()
		}
	}
}

var errHotClosed = errors.New("live message stream closed")

// hotLost reports a failed or ended live subscription and marks it inactive
// so the next refresh subscribes again. Cancelled or replaced subscriptions
// are ignored.
func (v *View) hotLost(ctx context.Context, gen uint64, chatID string, err error) {
	if ctx.Err() != nil {
		return
	}
	v.mu.Lock()
	current := v.hot.gen == gen
	if current {
		v.hot.active = false
	}
	v.mu.Unlock()
	if !current {
		return
	}
	v.log.Warn("hot_messages_lost", zap.String("chat_id", chatID), zap.Error(err))
	v.errLoading.Set(true)
}

// resubscribe restarts a lost live subscription.
func (v *View) resubscribe() {
	v.mu.Lock()
	lost := v.liveTail && v.chat != nil && !v.hot.active
	v.mu.Unlock()
	if lost {
		v.refresh()
	}
}

// merge appends the live messages newer than last to window, skipping any
// already in it.
func merge(window, hot []models.Message, last *models.Message) []models.Message {
	start := 0
	if last != nil {
		if i := indexOf(hot, last.ID); i >= 0 {
			start = i + 1
		}
	}

	out := make([]models.Message, len(window), len(window)+len(hot)-start)
	copy(out, window)
	seen := make(map[string]bool, len(window))
	for _, m := range window {
		seen[m.ID] = true
	}
	for _, m := range hot[start:] {
		if !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}

func indexOf(msgs []models.Message, id string) int {
	return slices.IndexFunc(msgs, func(m models.Message) bool { return m.ID == id })
}

func watch[T any](v *View, val *observable.Value[T], fn func(T)) {
	ch, cancel := val.Subscribe()
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		defer cancel()
		for {
			select {
			case <-v.ctx.Done():
				return
			case x, ok := <-ch:
				if !ok {
					return
				}
				fn(x)
			}
		}
	}()
}
