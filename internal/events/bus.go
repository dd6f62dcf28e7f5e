// Package events fans out lifecycle notifications to in-process
// subscribers. Publishing never blocks: a subscriber that falls behind
// loses events and the loss is counted.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind is the change type carried by an event.
type Kind string

const (
	Added   Kind = "ADDED"
	Removed Kind = "REMOVED"
)

// Event is one notification on a collection.
type Event struct {
	Collection string    `json:"collection"`
	Kind       Kind      `json:"kind"`
	Fields     any       `json:"fields"`
	Time       time.Time `json:"-"`
}

type subscriber struct {
	collection string
	ch         chan Event
}

// Bus is an in-process publish/subscribe hub. The zero value is not
// usable; call NewBus.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64

	dropped atomic.Uint64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Publish delivers an event to every subscriber of collection.
func (b *Bus) Publish(collection string, kind Kind, fields any) {
	ev := Event{Collection: collection, Kind: kind, Fields: fields, Time: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.collection != collection && s.collection != "*" {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers for events on collection ("*" for all). The
// returned cancel function unsubscribes and closes the channel; it is
// safe to call more than once.
func (b *Bus) Subscribe(collection string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	s := &subscriber{collection: collection, ch: make(chan Event, buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

// Dropped returns how many events were discarded because a subscriber
// was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
