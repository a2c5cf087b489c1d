package channel

// Buffered is a fixed-capacity queue. Writers never block; a full queue
// rejects the value instead.
type Buffered[T any] struct {
	ch chan T
}

// NewBuffered creates a queue holding up to size values. Sizes below 1 are raised to 1.
func NewBuffered[T any](size int) *Buffered[T] {
	if size < 1 {
		size = 1
	}
	return &Buffered[T]{ch: make(chan T, size)}
}

// TrySend enqueues v and reports false when the queue is full.
func (b *Buffered[T]) TrySend(v T) bool {
	select {
	case b.ch <- v:
		return true
	default:
		return false
	}
}

// Receive returns the receive-only channel
func (b *Buffered[T]) Receive() <-chan T {
	return b.ch
}

// Len returns the number of items currently in the buffer
func (b *Buffered[T]) Len() int {
	return len(b.ch)
}

// Cap returns the buffer capacity.
func (b *Buffered[T]) Cap() int {
	return cap(b.ch)
}
