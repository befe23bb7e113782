package transport

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/star371/netsession/pkg/command"
)

type eventKind int

const (
	eventOpen eventKind = iota
	eventMessage
	eventResponse
	eventTimeout
	eventCommandError
	eventError
	eventClose
)

type transportEvent struct {
	kind eventKind

	conn *websocket.Conn

	data     []byte
	status   int
	sequence string

	req    command.Command
	header *HeaderMap

	err  error
	code int
}

// eventQueue hands events from background goroutines to the goroutine that
// owns the transport. Events raised by the owner itself skip the channel.
type eventQueue struct {
	events  chan transportEvent
	pending []transportEvent

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	disposed bool
}

func newEventQueue(bufferLength int) *eventQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &eventQueue{
		events: make(chan transportEvent, bufferLength),
		ctx:    ctx,
		cancel: cancel,
	}
}

// emit is called from background goroutines. It returns false once the queue
// has been disposed.
func (q *eventQueue) emit(ev transportEvent) bool {
	select {
	case <-q.ctx.Done():
		return false
	default:
	}

	select {
	case q.events <- ev:
		return true
	case <-q.ctx.Done():
		return false
	}
}

// post is called from the owner goroutine.
func (q *eventQueue) post(ev transportEvent) {
	q.pending = append(q.pending, ev)
}

func (q *eventQueue) drain(handle func(ev transportEvent)) int {
	delivered := 0
	for !q.disposed {
		var ev transportEvent
		if len(q.pending) > 0 {
			ev = q.pending[0]
			q.pending = q.pending[1:]
		} else {
			select {
			case ev = <-q.events:
			default:
				return delivered
			}
		}
		handle(ev)
		delivered++
	}
	return delivered
}

func (q *eventQueue) dispose() {
	q.once.Do(func() {
		q.disposed = true
		q.pending = nil
		q.cancel()
	})
}

func (q *eventQueue) Context() context.Context {
	return q.ctx
}
