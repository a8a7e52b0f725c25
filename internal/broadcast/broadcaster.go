// Package broadcast fans domain events out to per-user real-time subscribers.
package broadcast

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

const (
	DefaultBufferSize = 64
	// DefaultMaxDrops is how many consecutive events a subscriber may miss
	// before it is considered dead and evicted.
	DefaultMaxDrops = 16
)

type subscriber struct {
	id    string
	ch    chan domain.Event
	drops int
}

// Broadcaster is an in-process pub/sub registry keyed by user id. A user may
// hold several subscriptions at once (one per open tab or socket).
type Broadcaster struct {
	mu      sync.RWMutex
	streams map[string]map[string]*subscriber

	buffer    int
	maxDrops  int
	heartbeat time.Duration

	started atomic.Bool
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func New(buffer int, heartbeat time.Duration) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	return &Broadcaster{
		streams:   map[string]map[string]*subscriber{},
		buffer:    buffer,
		maxDrops:  DefaultMaxDrops,
		heartbeat: heartbeat,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Subscribe registers one connection for userID. The returned channel is
// closed by cancel or when the subscriber is evicted.
func (b *Broadcaster) Subscribe(userID string) (string, <-chan domain.Event, func()) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		ch := make(chan domain.Event)
		close(ch)
		return "", ch, func() {}
	}

	sub := &subscriber{id: uuid.NewString(), ch: make(chan domain.Event, b.buffer)}

	b.mu.Lock()
	streams, ok := b.streams[userID]
	if !ok {
		streams = map[string]*subscriber{}
		b.streams[userID] = streams
	}
	streams[sub.id] = sub
	b.mu.Unlock()

	logger.WithFields(logger.Fields{"user_id": userID, "subscription_id": sub.id}).Debug("Subscriber connected")

	var once sync.Once
	cancel := func() {
		once.Do(func() { b.remove(userID, sub.id) })
	}

	return sub.id, sub.ch, cancel
}

func (b *Broadcaster) remove(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	streams := b.streams[userID]
	if streams == nil {
		return
	}
	if sub, ok := streams[subID]; ok {
		delete(streams, subID)
		close(sub.ch)
	}
	if len(streams) == 0 {
		delete(b.streams, userID)
	}
}

// Publish delivers event to every subscription of event.UserID without
// blocking. Subscribers that keep missing events are evicted.
func (b *Broadcaster) Publish(event domain.Event) {
	if b == nil || strings.TrimSpace(event.UserID) == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var evicted []string

	b.mu.Lock()
	for id, sub := range b.streams[event.UserID] {
		select {
		case sub.ch <- event:
			sub.drops = 0
		default:
			sub.drops++
			if sub.drops >= b.maxDrops {
				evicted = append(evicted, id)
			}
		}
	}
	b.mu.Unlock()

	for _, id := range evicted {
		logger.WithFields(logger.Fields{
			"user_id":         event.UserID,
			"subscription_id": id,
		}).Warn("Evicting slow subscriber")
		b.remove(event.UserID, id)
	}
}

// SubscriberCount returns the number of live subscriptions for userID, or for
// all users when userID is empty.
func (b *Broadcaster) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if userID != "" {
		return len(b.streams[userID])
	}

	total := 0
	for _, streams := range b.streams {
		total += len(streams)
	}
	return total
}

func (b *Broadcaster) users() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	users := make([]string, 0, len(b.streams))
	for userID := range b.streams {
		users = append(users, userID)
	}
	return users
}

// Start runs the connection-status heartbeat until ctx is done or Stop is called.
func (b *Broadcaster) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	if b.heartbeat <= 0 {
		close(b.done)
		return
	}

	go func() {
		defer close(b.done)

		ticker := time.NewTicker(b.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				b.Heartbeat()
			case <-b.quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Heartbeat publishes a CONNECTION_STATUS event to every connected user.
func (b *Broadcaster) Heartbeat() {
	now := time.Now().UTC()
	for _, userID := range b.users() {
		b.Publish(domain.Event{
			Type:      domain.EventConnectionStatus,
			UserID:    userID,
			Payload:   map[string]any{"status": "connected", "subscriptions": b.SubscriberCount(userID)},
			Timestamp: now,
		})
	}
}

// Stop ends the heartbeat and closes every subscription.
func (b *Broadcaster) Stop() {
	b.once.Do(func() {
		close(b.quit)
	})
	if b.started.Load() {
		<-b.done
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, streams := range b.streams {
		for id, sub := range streams {
			close(sub.ch)
			delete(streams, id)
		}
		delete(b.streams, userID)
	}

	logger.Infof("Broadcaster stopped")
}
