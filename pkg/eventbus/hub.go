package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dukex/chatflow/pkg/events"
	"github.com/google/uuid"
)

const (
	subscriberBufferSize = 256
	dispatchBufferSize   = 1024
)

// ErrHubClosed is returned when subscribing to or publishing on a closed hub.
var ErrHubClosed = errors.New("event hub closed")

// ErrInvalidScope is returned when a subscription scope has no organization.
var ErrInvalidScope = errors.New("scope requires an organization id")

// Subscription is one live push connection registered on the hub.
type Subscription struct {
	ID    string
	Scope events.Scope

	ch     chan events.Event
	cancel func()
}

// Events returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan events.Event {
	return s.ch
}

// Close removes the subscription from the hub. Safe to call more than once.
func (s *Subscription) Close() {
	s.cancel()
}

// Matches reports whether an event addressed to scope must reach a subscriber
// that asked for want.
func Matches(want, scope events.Scope) bool {
	if want.OrganizationID != scope.OrganizationID {
		return false
	}

	if want.ConversationID != "" && want.ConversationID != scope.ConversationID {
		return false
	}

	if want.SessionID != "" && want.SessionID != scope.SessionID {
		return false
	}

	return true
}

// Hub is the in-process subscriber registry keyed by organization.
// Delivery is non-blocking: a subscriber whose buffer is full misses the event.
type Hub struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[string]*Subscription // organizationID -> subID -> sub
	handlers    map[events.EventType][]EventHandler
	closed      bool

	dispatch chan events.Event
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewHub creates a hub and starts its handler dispatcher.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		logger:      logger.With("module", "event_hub"),
		subscribers: make(map[string]map[string]*Subscription),
		handlers:    make(map[events.EventType][]EventHandler),
		dispatch:    make(chan events.Event, dispatchBufferSize),
		done:        make(chan struct{}),
	}

	h.wg.Add(1)

	go h.runHandlers()

	return h
}

// Subscribe registers a subscriber for scope. The subscription is removed
// when ctx is cancelled or Close is called.
func (h *Hub) Subscribe(ctx context.Context, scope events.Scope) (*Subscription, error) {
	if scope.OrganizationID == "" {
		return nil, ErrInvalidScope
	}

	sub := &Subscription{
		ID:    uuid.New().String(),
		Scope: scope,
		ch:    make(chan events.Event, subscriberBufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()

		return nil, ErrHubClosed
	}

	if _, ok := h.subscribers[scope.OrganizationID]; !ok {
		h.subscribers[scope.OrganizationID] = make(map[string]*Subscription)
	}

	h.subscribers[scope.OrganizationID][sub.ID] = sub
	h.mu.Unlock()

	var once sync.Once

	stop := make(chan struct{})
	sub.cancel = func() {
		once.Do(func() {
			close(stop)
			h.unsubscribe(sub)
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.cancel()
		case <-stop:
		}
	}()

	h.logger.DebugContext(ctx, "subscriber added",
		"sub_id", sub.ID,
		"organization_id", scope.OrganizationID,
		"conversation_id", scope.ConversationID,
		"session_id", scope.SessionID)

	return sub, nil
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[sub.Scope.OrganizationID]
	if !ok {
		return
	}

	if _, exists := subs[sub.ID]; !exists {
		return
	}

	delete(subs, sub.ID)
	close(sub.ch)

	if len(subs) == 0 {
		delete(h.subscribers, sub.Scope.OrganizationID)
	}

	h.logger.Debug("subscriber removed", "sub_id", sub.ID)
}

// Publish delivers event to every matching subscriber and queues it for the
// registered in-process handlers.
func (h *Hub) Publish(ctx context.Context, event events.Event) error {
	scope := event.GetScope()

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()

		return ErrHubClosed
	}

	for _, sub := range h.subscribers[scope.OrganizationID] {
		if !Matches(sub.Scope, scope) {
			continue
		}

		select {
		case sub.ch <- event:
		default:
			h.logger.WarnContext(ctx, "dropped event for slow subscriber",
				"sub_id", sub.ID, "event_id", event.GetID(), "event_type", event.GetType())
		}
	}

	_, hasHandlers := h.handlers[event.GetType()]
	h.mu.RUnlock()

	if hasHandlers {
		select {
		case h.dispatch <- event:
		default:
			h.logger.WarnContext(ctx, "handler queue full, dropping event",
				"event_id", event.GetID(), "event_type", event.GetType())
		}
	}

	return nil
}

// Handle registers an in-process handler. Handlers run sequentially on a
// dedicated goroutine, never on the publisher's goroutine.
func (h *Hub) Handle(eventType events.EventType, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers[eventType] = append(h.handlers[eventType], handler)
}

func (h *Hub) runHandlers() {
	defer h.wg.Done()

	for {
		select {
		case <-h.done:
			return
		case event := <-h.dispatch:
			h.mu.RLock()
			handlers := h.handlers[event.GetType()]
			h.mu.RUnlock()

			for _, handler := range handlers {
				if err := handler(context.Background(), event); err != nil {
					h.logger.Error("event handler failed",
						"event_id", event.GetID(), "event_type", event.GetType(), "error", err)
				}
			}
		}
	}
}

// SubscriberCount returns the number of live subscriptions for an organization.
func (h *Hub) SubscriberCount(organizationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subscribers[organizationID])
}

// Close stops the dispatcher and ends every subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()

		return nil
	}

	h.closed = true

	for orgID, subs := range h.subscribers {
		for id, sub := range subs {
			close(sub.ch)
			delete(subs, id)
		}

		delete(h.subscribers, orgID)
	}
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()

	return nil
}
