// Package chatview assembles what a chat screen shows: the paged message
// history of the active chat plus, once the end of history has been seen,
// the messages that arrive live. It also drives the scroll side effects
// around it: jumping to the last read message, following new messages,
// marking messages read and the scroll-to-bottom button.
//
// The host renders Messages and reports scroll, mouse and render events
// through a Viewport.
package chatview

import (
	"context"

	"github.com/akinalp/casedesk/models"
	"github.com/akinalp/casedesk/paginator"
)

// ChatService is the backend a View reads from and writes to.
// *chatclient.Client implements it.
type ChatService interface {
	MessagesPageWithLastRead(ctx context.Context, chat models.Chat) (paginator.Page[models.Message], error)
	LastPageMessages(ctx context.Context, chat models.Chat) (paginator.Page[models.Message], error)
	MessagesPage(ctx context.Context, chat models.Chat, edge *paginator.Page[models.Message], dir paginator.Direction) (paginator.Page[models.Message], error)
	// HotMessages streams the cumulative list of messages newer than after.
	HotMessages(ctx context.Context, chat models.Chat, after *models.Message) (<-chan []models.Message, error)
	SetLastReadMessage(ctx context.Context, chat models.Chat, msg models.Message) error
	SendTextMessage(ctx context.Context, chat models.Chat, text string, files []models.FileUpload) (*models.Message, error)
}

// Viewport is the scrollable message list of the host.
type Viewport interface {
	paginator.ScrollSource
	// OnMouseMove registers fn for pointer movement over the list.
	OnMouseMove(fn func()) (unsubscribe func())
	// OnRendered registers fn to run after the host has rendered a new
	// value of Messages.
	OnRendered(fn func()) (unsubscribe func())
	// ItemTop returns the top offset of the element showing messageID, in
	// the same coordinates as ScrollMetrics.Top.
	ItemTop(messageID string) (top float64, ok bool)
	// ScrollToItem scrolls the element showing messageID into view and
	// reports whether it exists.
	ScrollToItem(messageID string) bool
	ScrollToBottom()
}
