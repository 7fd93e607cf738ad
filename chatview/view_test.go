package chatview

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akinalp/casedesk/chatclient"
	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/paginator"
)

var _ ChatService = (*chatclient.Client)(nil)

const waitFor = 2 * time.Second

// fakeService serves pages of size messages from an in-memory list.
type fakeService struct {
	mu        sync.Mutex
	size      int
	msgs      []models.Message
	loadErr   error
	sendErr   error
	onSend    func()
	hotAfter  []string
	hot       chan []models.Message
	tailCalls int
	marked    []string
	sent      [][]models.FileUpload
}

func newFakeService(n, size int) *fakeService {
	f := &fakeService{size: size}
	for range n {
		f.appendLocked("")
	}
	return f
}

func (f *fakeService) appendLocked(text string) models.Message {
	id := fmt.Sprintf("m%d", len(f.msgs)+1)
	if text == "" {
		text = id
	}
	m := models.Message{ID: id, ChatID: "c1", Content: &text}
	f.msgs = append(f.msgs, m)
	return m
}

func (f *fakeService) indexLocked(id string) int {
	return slices.IndexFunc(f.msgs, func(m models.Message) bool { return m.ID == id })
}

func (f *fakeService) pageLocked(i int, pos paginator.Position) messagePage {
	end := min(i+f.size, len(f.msgs))
	return messagePage{
		Items:    slices.Clone(f.msgs[i:end]),
		Position: pos,
		Prev:     i > 0,
		Next:     end < len(f.msgs),
	}
}

func (f *fakeService) MessagesPageWithLastRead(_ context.Context, chat models.Chat) (messagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return messagePage{}, f.loadErr
	}
	i := 0
	if chat.LastReadMessageID != nil {
		i = max(0, f.indexLocked(*chat.LastReadMessageID))
	}
	return f.pageLocked(i, paginator.PositionInitial), nil
}

func (f *fakeService) LastPageMessages(_ context.Context, _ models.Chat) (messagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return messagePage{}, f.loadErr
	}
	return f.pageLocked(max(0, len(f.msgs)-f.size), paginator.PositionInitial), nil
}

func (f *fakeService) MessagesPage(ctx context.Context, chat models.Chat, edge *messagePage, dir paginator.Direction) (messagePage, error) {
	if dir == paginator.Tail {
		f.mu.Lock()
		f.tailCalls++
		f.mu.Unlock()
	}
	if edge == nil || len(edge.Items) == 0 {
		return f.LastPageMessages(ctx, chat)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return messagePage{}, f.loadErr
	}
	if dir == paginator.Head {
		j := f.indexLocked(edge.Items[0].ID)
		i := max(0, j-f.size)
		return messagePage{Items: slices.Clone(f.msgs[i:j]), Position: paginator.PositionHead, Prev: i > 0, Next: true}, nil
	}
	k := f.indexLocked(edge.Items[len(edge.Items)-1].ID)
	return f.pageLocked(k+1, paginator.PositionTail), nil
}

func (f *fakeService) HotMessages(_ context.Context, _ models.Chat, after *models.Message) (<-chan []models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := ""
	if after != nil {
		id = after.ID
	}
	f.hotAfter = append(f.hotAfter, id)
	f.hot = make(chan []models.Message)
	return f.hot, nil
}

func (f *fakeService) SetLastReadMessage(_ context.Context, _ models.Chat, msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, msg.ID)
	return nil
}

func (f *fakeService) SendTextMessage(_ context.Context, _ models.Chat, text string, files []models.FileUpload) (*models.Message, error) {
	if f.onSend != nil {
		f.onSend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, files)
	m := f.appendLocked(text)
	return &m, nil
}

func (f *fakeService) setLoadErr(err error) {
	f.mu.Lock()
	f.loadErr = err
	f.mu.Unlock()
}

func (f *fakeService) hotCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.hotAfter)
}

func (f *fakeService) tailLoads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tailCalls
}

// endHot closes the newest hot subscription as a dropped socket would.
func (f *fakeService) endHot() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.hot)
	f.hot = nil
}

func (f *fakeService) markedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.marked)
}

// push delivers a live list on the newest hot subscription.
func (f *fakeService) push(t *testing.T, ids ...string) {
	t.Helper()
	f.mu.Lock()
	ch := f.hot
	var list []models.Message
	for _, id := range ids {
		if i := f.indexLocked(id); i >= 0 {
			list = append(list, f.msgs[i])
		}
	}
	f.mu.Unlock()
	require.NotNil(t, ch, "no hot subscription")

	select {
	case ch <- list:
	case <-time.After(waitFor):
		t.Fatal("hot list not consumed")
	}
}

// fakeViewport is a scrollable list with fixed element positions.
type fakeViewport struct {
	mu       sync.Mutex
	metrics  paginator.ScrollMetrics
	tops     map[string]float64
	handlers map[string]map[int]func()
	next     int
	scrolled []string
	bottoms  int
}

func newFakeViewport(m paginator.ScrollMetrics) *fakeViewport {
	return &fakeViewport{metrics: m, tops: make(map[string]float64), handlers: make(map[string]map[int]func())}
}

func (vp *fakeViewport) on(kind string, fn func()) func() {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	if vp.handlers[kind] == nil {
		vp.handlers[kind] = make(map[int]func())
	}
	id := vp.next
	vp.next++
	vp.handlers[kind][id] = fn
	return func() {
		vp.mu.Lock()
		defer vp.mu.Unlock()
		delete(vp.handlers[kind], id)
	}
}

func (vp *fakeViewport) fire(kind string) {
	vp.mu.Lock()
	var fns []func()
	for _, fn := range vp.handlers[kind] {
		fns = append(fns, fn)
	}
	vp.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (vp *fakeViewport) OnScroll(fn func()) func()    { return vp.on("scroll", fn) }
func (vp *fakeViewport) OnMouseMove(fn func()) func() { return vp.on("mouse", fn) }
func (vp *fakeViewport) OnRendered(fn func()) func()  { return vp.on("render", fn) }

func (vp *fakeViewport) ScrollMetrics() paginator.ScrollMetrics {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.metrics
}

func (vp *fakeViewport) ScrollTo(top float64) {
	vp.mu.Lock()
	vp.metrics.Top = top
	vp.mu.Unlock()
}

func (vp *fakeViewport) ItemTop(id string) (float64, bool) {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	top, ok := vp.tops[id]
	return top, ok
}

func (vp *fakeViewport) ScrollToItem(id string) bool {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	if _, ok := vp.tops[id]; !ok {
		return false
	}
	vp.scrolled = append(vp.scrolled, id)
	return true
}

func (vp *fakeViewport) ScrollToBottom() {
	vp.mu.Lock()
	vp.bottoms++
	vp.metrics.Top = vp.metrics.Height - vp.metrics.ClientHeight
	vp.mu.Unlock()
}

func (vp *fakeViewport) scroll(top float64) {
	vp.ScrollTo(top)
	vp.fire("scroll")
}

func (vp *fakeViewport) layout(ids ...string) {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	for i, id := range ids {
		vp.tops[id] = float64(i * 100)
	}
}

func (vp *fakeViewport) bottomCount() int {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.bottoms
}

func (vp *fakeViewport) scrolledTo() []string {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return slices.Clone(vp.scrolled)
}

func newView(t *testing.T, svc *fakeService) (*View, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	v := New(svc, WithClock(clk))
	t.Cleanup(v.Close)
	return v, clk
}

func chatReadUpTo(id string) models.Chat {
	c := models.Chat{ID: "c1", Title: "Estate of Doe"}
	if id != "" {
		c.LastReadMessageID = &id
	}
	return c
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func waitMessages(t *testing.T, v *View, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return slices.Equal(ids(v.Messages().Get()), want)
	}, waitFor, 5*time.Millisecond, "messages never became %v, last %v", want, ids(v.Messages().Get()))
}

// tallViewport is scrolled far from both edges so no edge load triggers.
func tallViewport() *fakeViewport {
	return newFakeViewport(paginator.ScrollMetrics{Top: 5000, Height: 10000, ClientHeight: 500})
}

func TestSelectChatScrollsToLastReadOnFirstRender(t *testing.T) {
	svc := newFakeService(10, 3)
	v, _ := newView(t, svc)
	vp := tallViewport()
	vp.layout("m4", "m5", "m6")
	v.AttachScrollSource(vp)

	v.SelectChat(chatReadUpTo("m4"))
	waitMessages(t, v, "m4", "m5", "m6")
	require.Eventually(t, func() bool {
		return v.HaveMoreNext().Get() && v.HaveMorePrevious().Get()
	}, waitFor, 5*time.Millisecond)

	vp.fire("render")
	vp.fire("render")
	assert.Equal(t, []string{"m4"}, vp.scrolledTo())
}

func TestMissingLastReadElementIsIgnored(t *testing.T) {
	svc := newFakeService(5, 3)
	v, _ := newView(t, svc)
	vp := tallViewport()
	v.AttachScrollSource(vp)

	v.SelectChat(chatReadUpTo("m2"))
	waitMessages(t, v, "m2", "m3", "m4")

	vp.fire("render")
	assert.Empty(t, vp.scrolledTo())
}

func TestLiveTailMergesHotMessages(t *testing.T) {
	svc := newFakeService(3, 3)
	v, _ := newView(t, svc)

	v.SelectChat(chatReadUpTo(""))
	waitMessages(t, v, "m1", "m2", "m3")
	require.Eventually(t, func() bool { return slices.Equal(svc.hotCalls(), []string{"m3"}) }, waitFor, 5*time.Millisecond)

	svc.mu.Lock()
	svc.appendLocked("")
	svc.appendLocked("")
	svc.mu.Unlock()

	svc.push(t, "m4")
	waitMessages(t, v, "m1", "m2", "m3", "m4")

	svc.push(t, "m3", "m4", "m5")
	waitMessages(t, v, "m1", "m2", "m3", "m4", "m5")
	assert.Len(t, svc.hotCalls(), 1)
	assert.Zero(t, svc.tailLoads(), "live messages arrive without tail loads")
}

func TestLostLiveStreamIsReportedAndResubscribed(t *testing.T) {
	svc := newFakeService(3, 3)
	v, _ := newView(t, svc)
	vp := tallViewport()
	v.AttachScrollSource(vp)

	v.SelectChat(chatReadUpTo(""))
	waitMessages(t, v, "m1", "m2", "m3")
	require.Eventually(t, func() bool { return slices.Equal(svc.hotCalls(), []string{"m3"}) }, waitFor, 5*time.Millisecond)

	svc.endHot()
	require.Eventually(t, v.ErrorLoadingChat().Get, waitFor, 5*time.Millisecond)

	vp.scroll(4000)
	require.Eventually(t, func() bool { return slices.Equal(svc.hotCalls(), []string{"m3", "m3"}) }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !v.ErrorLoadingChat().Get() }, waitFor, 5*time.Millisecond)

	svc.mu.Lock()
	svc.appendLocked("")
	svc.mu.Unlock()
	svc.push(t, "m4")
	waitMessages(t, v, "m1", "m2", "m3", "m4")
}

func TestNoLiveTailWhileNewerPagesExist(t *testing.T) {
	svc := newFakeService(10, 3)
	v, _ := newView(t, svc)

	v.SelectChat(chatReadUpTo("m1"))
	waitMessages(t, v, "m1", "m2", "m3")
	assert.Never(t, func() bool { return len(svc.hotCalls()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestLiveTailStaysOnAfterChatSwitch(t *testing.T) {
	svc := newFakeService(10, 3)
	v, _ := newView(t, svc)

	v.SelectChat(chatReadUpTo("m1"))
	waitMessages(t, v, "m1", "m2", "m3")
	require.NoError(t, v.LoadLastPage(context.Background()))
	waitMessages(t, v, "m8", "m9", "m10")
	require.Eventually(t, func() bool { return slices.Equal(svc.hotCalls(), []string{"m10"}) }, waitFor, 5*time.Millisecond)

	v.SelectChat(chatReadUpTo("m1"))
	waitMessages(t, v, "m1", "m2", "m3")
	require.Eventually(t, func() bool { return slices.Equal(svc.hotCalls(), []string{"m10", "m3"}) }, waitFor, 5*time.Millisecond)

	svc.push(t, "m4", "m5")
	waitMessages(t, v, "m1", "m2", "m3", "m4", "m5")
}

func TestLoadLastPageScrollsToBottom(t *testing.T) {
	svc := newFakeService(10, 3)
	v, _ := newView(t, svc)
	vp := tallViewport()
	v.AttachScrollSource(vp)

	v.SelectChat(chatReadUpTo("m1"))
	waitMessages(t, v, "m1", "m2", "m3")
	vp.fire("render")

	require.NoError(t, v.LoadLastPage(context.Background()))
	assert.Equal(t, []string{"m8", "m9", "m10"}, ids(v.Messages().Get()))
	assert.Zero(t, vp.bottomCount())

	vp.fire("render")
	assert.Equal(t, 1, vp.bottomCount())
	vp.fire("render")
	assert.Equal(t, 1, vp.bottomCount())
}

func TestSendAtEndScrollsWhenMessageRenders(t *testing.T) {
	svc := newFakeService(3, 3)
	v, _ := newView(t, svc)
	vp := tallViewport()
	v.AttachScrollSource(vp)

	v.SelectChat(chatReadUpTo(""))
	waitMessages(t, v, "m1", "m2", "m3")
	require.Eventually(t, func() bool { return len(svc.hotCalls()) == 1 }, waitFor, 5*time.Millisecond)
	vp.fire("render")

	msg, err := v.OnNewMessageFormSubmitted(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "m4", msg.ID)

	vp.fire("render")
	assert.Zero(t, vp.bottomCount())

	svc.push(t, "m4")
	waitMessages(t, v, "m1", "m2", "m3", "m4")
	vp.fire("render")
	assert.Equal(t, 1, vp.bottomCount())
}

func TestSendWithNewerPagesLoadsTail(t *testing.T) {
	svc := newFakeService(10, 3)
	v, _ := newView(t, svc)
	vp := tallViewport()
	v.AttachScrollSource(vp)

	v.SelectChat(chatReadUpTo("m1"))
	waitMessages(t, v, "m1", "m2", "m3")
	vp.fire("render")

	_, err := v.OnNewMessageFormSubmitted(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5", "m6"}, ids(v.Messages().Get()))

	vp.fire("render")
	assert.Equal(t, 1, vp.bottomCount())
}

func TestSendFiles(t *testing.T) {
	svc := newFakeService(3, 3)
	v, _ := newView(t, svc)

	_, err := v.OnNewMessageFormSubmitted(context.Background(), "early")
	require.ErrorIs(t, err, ErrNoChat)

	v.SelectChat(chatReadUpTo(""))
	waitMessages(t, v, "m1", "m2", "m3")

	var sawLoading bool
	svc.onSend = func() { sawLoading = v.FilesLoading().Get() }
	svc.sendErr = errors.New("upload failed")

	v.OnFileAttached(models.FileUpload{Filename: "will.pdf", ContentType: "application/pdf", Content: []byte("%PDF")})
	_, err = v.OnNewMessageFormSubmitted(context.Background(), "see attached")
	require.Error(t, err)
	assert.True(t, sawLoading)
	assert.False(t, v.FilesLoading().Get())
	assert.Len(t, v.Files().Get(), 1, "files are kept for a retry")

	svc.mu.Lock()
	svc.sendErr = nil
	svc.mu.Unlock()
	_, err = v.OnNewMessageFormSubmitted(context.Background(), "see attached")
	require.NoError(t, err)
	assert.False(t, v.FilesLoading().Get())
	assert.Empty(t, v.Files().Get())
	require.Len(t, svc.sent, 1)
	assert.Equal(t, "will.pdf", svc.sent[0][0].Filename)
}

func TestMarkReadIsThrottled(t *testing.T) {
	svc := newFakeService(10, 5)
	v, clk := newView(t, svc)
	vp := newFakeViewport(paginator.ScrollMetrics{Top: 0, Height: 10000, ClientHeight: 250})
	vp.layout("m1", "m2", "m3", "m4", "m5")
	v.AttachScrollSource(vp)

	v.SelectChat(chatReadUpTo("m1"))
	waitMessages(t, v, "m1", "m2", "m3", "m4", "m5")

	vp.fire("mouse")
	require.Eventually(t, func() bool { return slices.Equal(svc.markedIDs(), []string{"m3"}) }, waitFor, 5*time.Millisecond)

	vp.ScrollTo(200)
	vp.fire("mouse")
	assert.Never(t, func() bool { return len(svc.markedIDs()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	clk.Add(DefaultReadMarkEvery)
	vp.fire("mouse")
	require.Eventually(t, func() bool { return slices.Equal(svc.markedIDs(), []string{"m3", "m5"}) }, waitFor, 5*time.Millisecond)

	clk.Add(DefaultReadMarkEvery)
	vp.fire("mouse")
	assert.Never(t, func() bool { return len(svc.markedIDs()) > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestScrollButton(t *testing.T) {
	svc := newFakeService(10, 3)
	v, _ := newView(t, svc)
	vp := newFakeViewport(paginator.ScrollMetrics{Top: 500, Height: 1000, ClientHeight: 500})
	v.AttachScrollSource(vp)

	v.SelectChat(chatReadUpTo("m1"))
	require.Eventually(t, v.IsScrollButtonVisible().Get, waitFor, 5*time.Millisecond)

	require.NoError(t, v.LoadLastPage(context.Background()))
	require.Eventually(t, func() bool { return !v.IsScrollButtonVisible().Get() }, waitFor, 5*time.Millisecond)

	vp.scroll(150)
	assert.True(t, v.IsScrollButtonVisible().Get())
	vp.scroll(400)
	assert.False(t, v.IsScrollButtonVisible().Get())
}

func TestLoadFailureSetsErrorFlag(t *testing.T) {
	svc := newFakeService(10, 3)
	v, _ := newView(t, svc)

	svc.setLoadErr(errors.New("offline"))
	v.SelectChat(chatReadUpTo("m1"))
	require.Eventually(t, v.ErrorLoadingChat().Get, waitFor, 5*time.Millisecond)
	assert.Nil(t, v.Messages().Get())

	svc.setLoadErr(nil)
	require.NoError(t, v.LoadLastPage(context.Background()))
	assert.False(t, v.ErrorLoadingChat().Get())
	assert.Equal(t, []string{"m8", "m9", "m10"}, ids(v.Messages().Get()))
}

func TestMarkReadSkipsOnceClosing(t *testing.T) {
	svc := newFakeService(5, 5)
	v, _ := newView(t, svc)
	vp := newFakeViewport(paginator.ScrollMetrics{Top: 0, Height: 10000, ClientHeight: 250})
	vp.layout("m1", "m2", "m3", "m4", "m5")
	v.AttachScrollSource(vp)

	v.SelectChat(chatReadUpTo("m1"))
	waitMessages(t, v, "m1", "m2", "m3", "m4", "m5")

	// Close marks the view closed before it detaches the viewport; a mouse
	// event landing in between must not start a request.
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	vp.fire("mouse")

	v.mu.Lock()
	v.closed = false
	v.mu.Unlock()

	assert.Never(t, func() bool { return len(svc.markedIDs()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}
