// Package channel provides generic bounded queues for per-session outbound traffic.
package channel

// Receiver provides read access to a queue.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
	Cap() int
}

// Sender provides non-blocking write access to a queue.
type Sender[T any] interface {
	TrySend(T) bool
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
}
