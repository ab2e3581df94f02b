package eventbus

import (
	"github.com/google/uuid"
)

// Subscription is a live registration on one topic. Events() yields
// published events until Unsubscribe is called; Catchup returns the
// replay buffer captured at subscribe time so a caller can render
// history before switching to the live channel.
type Subscription struct {
	id      string
	topic   string
	bus     *Bus
	ch      chan Event
	catchup []Event
}

// Subscribe registers a new subscriber on topic with a buffered channel
// of the given size (minimum 1) and returns the topic's current replay
// buffer alongside it, so the caller never has to choose between missing
// events published between "query history" and "start listening" — both
// come back from one call, under the same lock.
func (b *Bus) Subscribe(topic string, bufferSize int) *Subscription {
	if bufferSize < 1 {
		bufferSize = 1
	}
	sub := &subscriber{id: uuid.New().String(), ch: make(chan Event, bufferSize)}

	b.mu.Lock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[string]*subscriber)
	}
	b.subscribers[topic][sub.id] = sub
	catchup := append([]Event(nil), b.history[topic]...)
	b.mu.Unlock()

	return &Subscription{id: sub.id, topic: topic, bus: b, ch: sub.ch, catchup: catchup}
}

// Catchup returns the events on this topic that were published before
// Subscribe was called.
func (s *Subscription) Catchup() []Event {
	return s.catchup
}

// Events returns the channel new events arrive on.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Unsubscribe removes this subscription from the bus and closes its
// channel. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	if subs, ok := s.bus.subscribers[s.topic]; ok {
		if _, exists := subs[s.id]; exists {
			delete(subs, s.id)
			close(s.ch)
		}
		if len(subs) == 0 {
			delete(s.bus.subscribers, s.topic)
		}
	}
	s.bus.mu.Unlock()
}
