package tools

import (
	"errors"
	"sync"
)

var (
	// ErrQueueFull is returned when pushing in a full queue
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueEmpty is returned when popping from an empty queue
	ErrQueueEmpty = errors.New("queue is empty")
)

// Queue is an interface representing a simple queue that can be popped and pushed
type Queue[T any] interface {
	// Push a new element in the queue. Returns an error if the queue is full
	Push(T) error
	// Pop the oldest element in the queue. Returns an error if the queue is empty
	Pop() (T, error)
	// Peek returns the oldest element without removing it
	Peek() (T, bool)
	// Len returns the number of queued elements
	Len() int
	// IsEmpty returns true if the map is empty
	IsEmpty() bool
	// IsFull returns true if the map is full
	IsFull() bool
}

// ConcurrentQueue is an implementation of Queue that is thread safe
type ConcurrentQueue[T any] struct {
	queue    []T
	capacity int
	head     int
	tail     int
	empty    bool
	sync.RWMutex
}

// NewConcurrentQueue returns a new empty ConcurrentQueue with the given max capacity
func NewConcurrentQueue[T any](capacity int) *ConcurrentQueue[T] {
	return &ConcurrentQueue[T]{
		queue:    make([]T, capacity),
		capacity: capacity,
		head:     0,
		tail:     0,
		empty:    true,
		RWMutex:  sync.RWMutex{},
	}
}

// Push implements the Push method from Queue
func (q *ConcurrentQueue[T]) Push(el T) error {
	q.Lock()
	defer q.Unlock()
	// Check if the queue is full
	if q.IsFull() {
		return ErrQueueFull
	}

	// Push the new element at the current tail
	q.queue[q.tail] = el
	// Update the tail pointer
	q.tail = (q.tail + 1) % q.capacity
	q.empty = false
	return nil
}

// Pop implements the Pop method from Queue
func (q *ConcurrentQueue[T]) Pop() (T, error) {
	q.Lock()
	defer q.Unlock()
	// Check if the queue is empty
	if q.IsEmpty() {
		var zero T
		return zero, ErrQueueEmpty
	}
	// Return the element at the current head position
	msg := q.queue[q.head]
	var zero T
	q.queue[q.head] = zero
	// Update the head pointer
	q.head = (q.head + 1) % q.capacity
	if q.head == q.tail {
		q.empty = true
	}
	return msg, nil
}

// Peek implements the Peek method from Queue
func (q *ConcurrentQueue[T]) Peek() (T, bool) {
	q.RLock()
	defer q.RUnlock()
	if q.empty {
		var zero T
		return zero, false
	}
	return q.queue[q.head], true
}

// Len implements the Len method from Queue
func (q *ConcurrentQueue[T]) Len() int {
	q.RLock()
	defer q.RUnlock()
	if q.empty {
		return 0
	}
	if q.tail > q.head {
		return q.tail - q.head
	}
	return q.capacity - q.head + q.tail
}

// IsEmpty implements the IsEmpty method from Queue
func (q *ConcurrentQueue[T]) IsEmpty() bool {
	return q.empty
}

// IsFull implements the IsFull method from Queue
func (q *ConcurrentQueue[T]) IsFull() bool {
	return q.tail == q.head && !q.empty
}
