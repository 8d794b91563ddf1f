package broadcast

import "sync/atomic"

// View is an immutable snapshot of a Buffer. Indices are absolute: an
// index below Base was trimmed away before the snapshot was taken.
type View[E any] struct {
	items []E
	base  int
}

// Len is the absolute length: one past the last readable index.
func (v View[E]) Len() int { return v.base + len(v.items) }

// Base is the first readable index.
func (v View[E]) Base() int { return v.base }

// At returns the element at absolute index i.
func (v View[E]) At(i int) (E, bool) {
	if i < v.base || i >= v.Len() {
		var zero E
		return zero, false
	}
	return v.items[i-v.base], true
}

// Buffer is an append-only sequence with an atomically published
// snapshot. It has a single writer; readers never lock. A reader holding a
// View of length L may read [Base, L) for as long as it keeps the View,
// even while the writer appends or trims.
type Buffer[E any] struct {
	snap atomic.Pointer[View[E]]
}

// NewBuffer returns an empty Buffer.
func NewBuffer[E any]() *Buffer[E] {
	b := &Buffer[E]{}
	b.snap.Store(&View[E]{})
	return b
}

// View returns the current snapshot.
func (b *Buffer[E]) View() View[E] { return *b.snap.Load() }

// Append adds e and returns the new absolute length. Only the owning
// writer may call it.
func (b *Buffer[E]) Append(e E) int {
	cur := b.snap.Load()
	// Writing past len of a shared backing array never touches an index a
	// published View can read.
	next := &View[E]{items: append(cur.items, e), base: cur.base}
	b.snap.Store(next)
	return next.Len()
}

// TrimBefore releases every element below absolute index idx. Views taken
// earlier keep their elements alive.
func (b *Buffer[E]) TrimBefore(idx int) {
	cur := b.snap.Load()
	if idx <= cur.base {
		return
	}
	if idx > cur.Len() {
		idx = cur.Len()
	}
	rest := cur.items[idx-cur.base:]
	items := make([]E, len(rest), max(len(rest), 16))
	copy(items, rest)
	b.snap.Store(&View[E]{items: items, base: idx})
}
