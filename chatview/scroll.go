package chatview

import (
	"go.uber.org/zap"

	"github.com/akinalp/casedesk/models"
)

func (v *View) onScroll() {
	v.resubscribe()
	v.updateScrollButton()
	v.markRead()
}

func (v *View) updateScrollButton() {
	v.mu.Lock()
	vp := v.vp
	v.mu.Unlock()

	visible := v.pg.HaveMoreNext().Get()
	if !visible && vp != nil {
		visible = vp.ScrollMetrics().DistanceToBottom() > v.buttonThreshold
	}
	v.scrollButton.Set(visible)
}

// scrollToBottomOnRender scrolls to the bottom once messageID is rendered,
// right away if it already is.
func (v *View) scrollToBottomOnRender(messageID string) {
	v.mu.Lock()
	vp := v.vp
	rendered := indexOf(v.messages.Get(), messageID) >= 0
	if !rendered {
		v.scrollBottomOn = messageID
	}
	v.mu.Unlock()

	if rendered && vp != nil {
		vp.ScrollToBottom()
	}
}

func (v *View) onRendered() {
	v.mu.Lock()
	vp := v.vp
	var target string
	if v.lastReadArmed {
		v.lastReadArmed = false
		if v.chat != nil && v.chat.LastReadMessageID != nil {
			target = *v.chat.LastReadMessageID
		}
	}
	bottom := v.scrollBottom
	v.scrollBottom = false
	if v.scrollBottomOn != "" && indexOf(v.messages.Get(), v.scrollBottomOn) >= 0 {
		v.scrollBottomOn = ""
		bottom = true
	}
	v.mu.Unlock()

	if vp == nil {
		return
	}
	if target != "" && !vp.ScrollToItem(target) {
		v.log.Debug("last_read_not_rendered", zap.String("message_id", target))
	}
	if bottom {
		vp.ScrollToBottom()
	}
	v.updateScrollButton()
}

// markRead marks the newest unread message inside the viewport as read. It
// runs at most once per read-mark interval.
func (v *View) markRead() {
	if !v.readLimiter.AllowN(v.clock.Now(), 1) {
		return
	}

	v.mu.Lock()
	vp, chat := v.vp, v.chat
	if v.closed || vp == nil || chat == nil {
		v.mu.Unlock()
		return
	}
	msg, ok := lastVisibleUnread(vp, v.messages.Get(), v.lastRead)
	if !ok {
		v.mu.Unlock()
		return
	}
	v.lastRead = msg.ID
	c := *chat
	// Close sets closed under mu before it waits.
	v.wg.Add(1)
	v.mu.Unlock()

	go func() {
		defer v.wg.Done()
		if err := v.svc.SetLastReadMessage(v.ctx, c, msg); err != nil && v.ctx.Err() == nil {
			v.log.Warn("mark_read_failed", zap.String("chat_id", c.ID), zap.String("message_id", msg.ID), zap.Error(err))
		}
	}()
}

// lastVisibleUnread returns the newest message after lastRead whose element
// top is inside the viewport. A lastRead not in msgs counts every message as
// unread.
func lastVisibleUnread(vp Viewport, msgs []models.Message, lastRead string) (models.Message, bool) {
	start := 0
	if lastRead != "" {
		if i := indexOf(msgs, lastRead); i >= 0 {
			start = i + 1
		}
	}

	m := vp.ScrollMetrics()
	for i := len(msgs) - 1; i >= start; i-- {
		top, ok := vp.ItemTop(msgs[i].ID)
		if ok && top >= m.Top && top <= m.Top+m.ClientHeight {
			return msgs[i], true
		}
	}
	return models.Message{}, false
}
