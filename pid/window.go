package pid

// window is a fixed-capacity ring buffer of float64 values, pre-filled with
// zeros.  It is not concurrent safe.
type window struct {
	buf    []float64
	cursor int
}

func newWindow(size int) window {
	return window{buf: make([]float64, size)}
}

// push overwrites the oldest value with f
func (w *window) push(f float64) {
	w.buf[w.cursor] = f
	w.cursor++
	if w.cursor == len(w.buf) {
		w.cursor = 0
	}
}

// mean is the arithmetic mean over the full capacity
func (w *window) mean() float64 {
	var sum float64
	for _, v := range w.buf {
		sum += v
	}
	return sum / float64(len(w.buf))
}

// contiguous returns a copy of the buffer from least to most recent
func (w *window) contiguous() []float64 {
	out := make([]float64, 0, len(w.buf))
	out = append(out, w.buf[w.cursor:]...)
	return append(out, w.buf[:w.cursor]...)
}
