package services

import (
	"sync"

	"github.com/tripalgpt/tripal-chat/internal/models"
)

const eventBufferSize = 64

// eventQueue is the channel every transport publishes on. Sends never block once the queue is shut, so
// reader goroutines can always exit after Close.
type eventQueue struct {
	ch   chan models.Event
	done chan struct{}
	once sync.Once
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		ch:   make(chan models.Event, eventBufferSize),
		done: make(chan struct{}),
	}
}

func (q *eventQueue) emit(ev models.Event) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- ev:
		return true
	case <-q.done:
		return false
	}
}

func (q *eventQueue) chunk(session int, s string) bool {
	return q.emit(models.Event{Kind: models.EventChunk, Session: session, Chunk: s})
}

func (q *eventQueue) complete(session int) bool {
	return q.emit(models.Event{Kind: models.EventComplete, Session: session})
}

func (q *eventQueue) fail(session int, err error) bool {
	return q.emit(models.Event{Kind: models.EventError, Session: session, Err: err})
}

// shut delivers a final Closed event if there is room for it and stops all further sends.
func (q *eventQueue) shut() {
	q.once.Do(func() {
		select {
		case q.ch <- models.Event{Kind: models.EventClosed}:
		default:
		}
		close(q.done)
	})
}

func (q *eventQueue) isShut() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
