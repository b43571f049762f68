// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// FFConvert - FFmpeg 单文件转换引擎

package convert

import (
	"sync"
	"time"
)

// EventType of a convert-log event
type EventType string

const (
	EventLog      EventType = "log"
	EventProgress EventType = "progress"
	EventDone     EventType = "done"
)

// Event is one entry of the convert-log stream
type Event struct {
	Seq      uint64    `json:"seq"`
	Type     EventType `json:"type"`
	JobID    string    `json:"jobId"`
	Message  string    `json:"message,omitempty"`
	Percent  *float64  `json:"percent,omitempty"`
	State    State     `json:"state,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	ExitCode *int      `json:"exitCode,omitempty"`
	Time     time.Time `json:"time"`
}

// Hub fans events out to every subscriber in publish order. Subscribers
// have unbounded queues, so a slow consumer never loses events and never
// blocks the publisher.
type Hub struct {
	lock   sync.Mutex
	seq    uint64
	nextID uint64
	subs   map[uint64]*Subscription
	closed bool
}

// NewHub creates an empty Hub
func NewHub() *Hub {
	return &Hub{subs: map[uint64]*Subscription{}}
}

// Publish stamps e with the next sequence number and queues it for all
// current subscribers.
func (h *Hub) Publish(e Event) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return
	}
	h.seq++
	e.Seq = h.seq
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, s := range h.subs {
		s.push(e)
	}
}

// Subscribe returns a subscription receiving every event published from now on
func (h *Hub) Subscribe() (*Subscription, error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	h.nextID++
	s := &Subscription{
		hub:  h,
		id:   h.nextID,
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	h.subs[s.id] = s
	go s.pump()
	return s, nil
}

// Close ends all subscriptions
func (h *Hub) Close() {
	h.lock.Lock()
	subs := h.subs
	h.subs = map[uint64]*Subscription{}
	h.closed = true
	h.lock.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

func (h *Hub) remove(id uint64) {
	h.lock.Lock()
	delete(h.subs, id)
	h.lock.Unlock()
}

// Subscription is one consumer of a Hub
type Subscription struct {
	hub *Hub
	id  uint64
	out chan Event

	lock  sync.Mutex
	queue []Event
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// Events is closed after Close
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Close unsubscribes; pending events are dropped
func (s *Subscription) Close() {
	s.hub.remove(s.id)
	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) push(e Event) {
	s.lock.Lock()
	s.queue = append(s.queue, e)
	s.lock.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)

	for {
		s.lock.Lock()
		if len(s.queue) == 0 {
			s.lock.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.lock.Unlock()

		select {
		case s.out <- e:
		case <-s.done:
			return
		}
	}
}
