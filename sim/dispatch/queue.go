package dispatch

import (
	"fmt"
	"strings"
	"sync"
)

// EndOfInput is the reserved run ID that tells the dispatcher no further
// runs will be enqueued.
const EndOfInput int64 = 0

// runQueue is the dispatcher's FIFO of pending run IDs.
// Plain run IDs are queued at most once; the sentinel is never duplicated at
// the tail.
type runQueue struct {
	mu     sync.Mutex
	items  []int64
	queued map[int64]bool
	// accepting counts ids reserved by pushThen whose callback is running.
	accepting int
	notify    chan struct{} // buffered(1): wakes a blocked pop
}

func newRunQueue() *runQueue {
	return &runQueue{queued: make(map[int64]bool), notify: make(chan struct{}, 1)}
}

// push appends id and reports whether it was added.
func (q *runQueue) push(id int64) bool { return q.pushThen(id, nil) }

// pushThen is push with a callback that runs once id is accepted but before
// any pop can observe it. The id is reserved under the lock, so duplicates
// are rejected while accepted runs; accepted itself runs unlocked and may
// call back into the queue.
func (q *runQueue) pushThen(id int64, accepted func()) bool {
	q.mu.Lock()
	if id == EndOfInput {
		if n := len(q.items); n > 0 && q.items[n-1] == EndOfInput {
			q.mu.Unlock()
			return false
		}
	} else if q.queued[id] {
		q.mu.Unlock()
		return false
	} else {
		q.queued[id] = true
	}
	if accepted != nil {
		q.accepting++
		q.mu.Unlock()
		accepted()
		q.mu.Lock()
		q.accepting--
	}
	q.items = append(q.items, id)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// pop removes the head, blocking while the queue is empty.
// Returns false if stop is closed first.
func (q *runQueue) pop(stop <-chan struct{}) (int64, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items = q.items[1:]
			delete(q.queued, id)
			q.mu.Unlock()
			return id, true
		}
		q.mu.Unlock()
		select {
		case <-q.notify:
		case <-stop:
			return 0, false
		}
	}
}

// Len returns the number of queued entries, sentinel and ids still being
// accepted included.
func (q *runQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + q.accepting
}

func (q *runQueue) String() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var sb strings.Builder
	sb.WriteString("[")
	for i, id := range q.items {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(fmt.Sprint(id))
	}
	sb.WriteString("]")
	return sb.String()
}
