package metrics

// ring is a fixed capacity FIFO buffer; once full, each push overwrites the oldest element.
type ring[T any] struct {
	items []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.size < len(r.items) {
		r.items[(r.start+r.size)%len(r.items)] = v
		r.size++
		return
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % len(r.items)
}

func (r *ring[T]) len() int {
	return r.size
}

// each visits elements oldest first.
func (r *ring[T]) each(f func(T)) {
	for i := 0; i < r.size; i++ {
		f(r.items[(r.start+i)%len(r.items)])
	}
}

func (r *ring[T]) slice() []T {
	out := make([]T, 0, r.size)
	r.each(func(v T) { out = append(out, v) })
	return out
}
