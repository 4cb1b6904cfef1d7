// Package events provides a small synchronous publish/subscribe topic used to
// pass state changes between components without back-references.
package events

import "sync"

// Topic fans values out to subscribers. Publish calls subscribers in
// subscription order on the publishing goroutine.
type Topic[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]func(T)
	ids  []int
	last T
	set  bool
}

// NewTopic returns an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: map[int]func(T){}}
}

// Subscribe registers fn and returns a function that removes it.
func (t *Topic[T]) Subscribe(fn func(T)) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.next
	t.next++
	t.subs[id] = fn
	t.ids = append(t.ids, id)
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			for i, candidate := range t.ids {
				if candidate == id {
					t.ids = append(t.ids[:i], t.ids[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers value to every current subscriber.
func (t *Topic[T]) Publish(value T) {
	t.mu.Lock()
	t.last = value
	t.set = true
	fns := make([]func(T), 0, len(t.ids))
	for _, id := range t.ids {
		fns = append(fns, t.subs[id])
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn(value)
	}
}

// Last returns the most recently published value.
func (t *Topic[T]) Last() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.set
}
