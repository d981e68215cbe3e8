package eventbus

import (
	"container/list"
	"sync"

	"github.com/dukex/chatflow/pkg/events"
)

const defaultDeduperSize = 1024

// Deduper drops conversation.message events whose message was already seen.
// Other event types pass through: consumers apply them as idempotent overwrites.
type Deduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int
}

func NewDeduper(maxSize int) *Deduper {
	if maxSize <= 0 {
		maxSize = defaultDeduperSize
	}

	return &Deduper{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Accept reports whether event should be applied.
func (d *Deduper) Accept(event events.Event) bool {
	msgEvent, ok := event.(*events.ConversationMessage)
	if !ok || msgEvent.Message == nil {
		return true
	}

	key := msgEvent.Message.ID

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, dup := d.seen[key]; dup {
		return false
	}

	d.seen[key] = d.order.PushBack(key)

	for d.order.Len() > d.maxSize {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.seen, oldest.Value.(string))
	}

	return true
}
