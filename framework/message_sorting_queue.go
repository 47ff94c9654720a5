package framework

import (
	"sort"
	"sync"
)

// MessageSortingQueue delivers messages on C in order of their counters, starting at 1, even if
// they arrive out of order. The test service numbers its callback requests because concurrent
// HTTP requests can reach us in any order.
type MessageSortingQueue struct {
	C           chan []byte
	lastCounter int
	deferred    []deferredMessage
	closed      bool
	lock        sync.Mutex
}

type deferredMessage struct {
	counter int
	message []byte
}

func NewMessageSortingQueue(channelSize int) *MessageSortingQueue {
	return &MessageSortingQueue{C: make(chan []byte, channelSize)}
}

// Accept adds a message. Messages accepted after Close are dropped.
func (q *MessageSortingQueue) Accept(counter int, message []byte) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.closed {
		return
	}
	if counter > q.lastCounter+1 {
		q.deferred = append(q.deferred, deferredMessage{counter: counter, message: message})
		sort.Slice(q.deferred, func(i, j int) bool { return q.deferred[i].counter < q.deferred[j].counter })
		return
	}
	q.lastCounter = counter
	q.C <- message
	for len(q.deferred) > 0 {
		next := q.deferred[0]
		if next.counter != q.lastCounter+1 {
			break
		}
		q.deferred = q.deferred[1:]
		q.lastCounter++
		q.C <- next.message
	}
}

func (q *MessageSortingQueue) Deferred() [][]byte {
	q.lock.Lock()
	ret := make([][]byte, 0, len(q.deferred))
	for _, d := range q.deferred {
		ret = append(ret, d.message)
	}
	q.lock.Unlock()
	return ret
}

func (q *MessageSortingQueue) Close() {
	q.lock.Lock()
	if !q.closed {
		q.closed = true
		close(q.C)
	}
	q.lock.Unlock()
}
