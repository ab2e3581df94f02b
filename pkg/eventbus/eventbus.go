// Package eventbus is an in-process publish/subscribe bus for progress
// events — phase transitions, heartbeats, pool health — surfaced by the
// long-running operations this module exposes (ingestion, queries,
// question generation). It carries no UI transport of its own; a caller
// bridges it to whatever surface it has (a CLI progress line, a log
// sink, a future websocket layer) by subscribing and rendering.
package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one published occurrence on a topic.
type Event struct {
	Topic   string
	Type    string
	Payload map[string]any
	Seq     int
	Time    time.Time
}

// EnvironmentTopic is the topic conventionally used for one Environment's
// events (ingestion progress, query iterations, generate-qa phases).
func EnvironmentTopic(envID string) string {
	return "environment:" + envID
}

// GlobalTopic carries events not scoped to a single Environment (registry
// lifecycle, retention sweeps).
const GlobalTopic = "global"

// subscriber is one live listener on a topic.
type subscriber struct {
	id string
	ch chan Event
}

// Bus fans published events out to every current subscriber of a topic
// and keeps a bounded replay buffer per topic so a subscriber that joins
// late can catch up, mirroring the connection-manager idiom of
// broadcast-to-current-subscribers plus a catchup query, minus the
// network transport and persistence.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber // topic -> subscriber id -> subscriber
	history     map[string][]Event                // topic -> bounded ring, oldest first
	seq         map[string]int                     // topic -> next sequence number
	historyCap  int

	clock func() time.Time
}

// NewBus constructs a Bus. historyCap bounds the per-topic replay buffer
// (0 disables replay, keeping only live fan-out).
func NewBus(historyCap int) *Bus {
	return &Bus{
		subscribers: make(map[string]map[string]*subscriber),
		history:     make(map[string][]Event),
		seq:         make(map[string]int),
		historyCap:  historyCap,
		clock:       time.Now,
	}
}

// Publish broadcasts an event to every current subscriber of topic and
// appends it to that topic's replay buffer. Never blocks on a slow
// subscriber: a subscriber whose buffered channel is full drops the
// event rather than stalling the publisher, the same trade-off the
// connection manager's write-timeout makes for a stalled socket.
func (b *Bus) Publish(topic, eventType string, payload map[string]any) Event {
	b.mu.Lock()
	b.seq[topic]++
	evt := Event{Topic: topic, Type: eventType, Payload: payload, Seq: b.seq[topic], Time: b.clock()}
	if b.historyCap > 0 {
		buf := append(b.history[topic], evt)
		if len(buf) > b.historyCap {
			buf = buf[len(buf)-b.historyCap:]
		}
		b.history[topic] = buf
	}
	subs := make([]*subscriber, 0, len(b.subscribers[topic]))
	for _, s := range b.subscribers[topic] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- evt:
		default:
			slog.Warn("eventbus: dropping event for slow subscriber", "topic", topic, "subscriber", s.id, "type", eventType)
		}
	}
	return evt
}

// subscriberCount reports how many subscribers a topic currently has.
// Unexported — exercised by tests instead of sleeping on a race.
func (b *Bus) subscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}
