// Package paginator keeps a growing, gap-free window of items fetched page by
// page from a cursor-based source.
//
// The window is an ordered list of pages. A page loaded at the head edge is
// prepended, a page loaded at the tail edge is appended and an initial page
// replaces the whole window. Loads are processed one at a time in request
// order, so the edge page handed to a loader is always the one produced by
// the previous load.
package paginator

import "errors"

// Position tells where a page goes relative to the pages already held.
type Position string

const (
	PositionHead    Position = "head"
	PositionTail    Position = "tail"
	PositionInitial Position = "initial"
)

// Direction selects which edge of the window to extend.
type Direction string

const (
	Head Direction = "head"
	Tail Direction = "tail"
)

// Valid reports whether d is Head or Tail.
func (d Direction) Valid() bool {
	return d == Head || d == Tail
}

// Page is one cursor page. Next is true when more items exist after it,
// Prev when more items exist before it. Pages are not modified after they
// enter a window.
type Page[T any] struct {
	Items    []T
	Position Position
	Next     bool
	Prev     bool
}

var (
	// ErrQueryChanged is returned for loads abandoned because the query changed
	// before they were applied.
	ErrQueryChanged = errors.New("paginator: query changed")
	// ErrReset is returned for loads abandoned by Restart.
	ErrReset = errors.New("paginator: window reset")
	// ErrClosed is returned once the paginator has been closed.
	ErrClosed = errors.New("paginator: closed")
	// ErrInvalidDirection is returned by RequestMore for anything but Head or Tail.
	ErrInvalidDirection = errors.New("paginator: invalid direction")
)

// Flatten concatenates the items of pages in order.
func Flatten[T any](pages []Page[T]) []T {
	n := 0
	for _, p := range pages {
		n += len(p.Items)
	}
	out := make([]T, 0, n)
	for _, p := range pages {
		out = append(out, p.Items...)
	}
	return out
}

// HasPrevious reports whether the first page says more items exist before it.
func HasPrevious[T any](pages []Page[T]) bool {
	return len(pages) > 0 && pages[0].Prev
}

// HasNext reports whether the last page says more items exist after it.
func HasNext[T any](pages []Page[T]) bool {
	return len(pages) > 0 && pages[len(pages)-1].Next
}

// fold applies page to the window according to its position.
func fold[T any](pages []Page[T], page Page[T]) []Page[T] {
	switch page.Position {
	case PositionHead:
		out := make([]Page[T], 0, len(pages)+1)
		out = append(out, page)
		return append(out, pages...)
	case PositionTail:
		out := make([]Page[T], 0, len(pages)+1)
		out = append(out, pages...)
		return append(out, page)
	default:
		return []Page[T]{page}
	}
}
