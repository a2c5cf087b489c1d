package simulation

// Window is a fixed-capacity FIFO of the most recent values.
// It is not safe for concurrent use; Simulator guards it.
type Window struct {
	values []float64
	start  int
}

// NewWindow creates a window of the given capacity pre-filled with zeros.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{values: make([]float64, capacity)}
}

// Push evicts the oldest value and appends v as the newest.
func (w *Window) Push(v float64) {
	w.values[w.start] = v
	w.start = (w.start + 1) % len(w.values)
}

// Len returns the window capacity, which is also its length.
func (w *Window) Len() int {
	return len(w.values)
}

// Values returns a copy ordered oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, 0, len(w.values))
	out = append(out, w.values[w.start:]...)
	out = append(out, w.values[:w.start]...)
	return out
}
