package ratelimit

import "time"

// window is a fixed-capacity ring buffer of call timestamps, oldest first.
// Not thread-safe; Limiter guards it.
type window struct {
	times []time.Time
	head  int
	size  int
}

func newWindow(capacity int) *window {
	return &window{times: make([]time.Time, capacity)}
}

// prune drops timestamps that are at least period old at now.
func (w *window) prune(now time.Time, period time.Duration) {
	for w.size > 0 && now.Sub(w.times[w.head]) >= period {
		w.times[w.head] = time.Time{}
		w.head = (w.head + 1) % len(w.times)
		w.size--
	}
}

func (w *window) full() bool {
	return w.size == len(w.times)
}

func (w *window) oldest() time.Time {
	return w.times[w.head]
}

// push appends t. Callers must prune until !full() first.
func (w *window) push(t time.Time) {
	w.times[(w.head+w.size)%len(w.times)] = t
	w.size++
}

func (w *window) len() int {
	return w.size
}
