// Package linkedlist implements a generic doubly-linked list whose nodes can be
// removed in O(1) given a reference.
package linkedlist

// Node is an element of a List. A node belongs to at most one list.
type Node[T any] struct {
	Value T

	prev, next *Node[T]
	list       *List[T]
}

// Next returns the next (newer) node or nil.
func (n *Node[T]) Next() *Node[T] {
	return n.next
}

// Prev returns the previous (older) node or nil.
func (n *Node[T]) Prev() *Node[T] {
	return n.prev
}

// List is a doubly-linked list. The zero value is an empty list ready to use.
type List[T any] struct {
	first, last *Node[T]
	count       int
}

// First returns the oldest node or nil.
func (l *List[T]) First() *Node[T] {
	return l.first
}

// Last returns the newest node or nil.
func (l *List[T]) Last() *Node[T] {
	return l.last
}

// Count returns the number of nodes.
func (l *List[T]) Count() int {
	return l.count
}

// Prepend inserts v before the first node.
func (l *List[T]) Prepend(v T) *Node[T] {
	n := &Node[T]{Value: v, next: l.first, list: l}
	if l.first != nil {
		l.first.prev = n
	} else {
		l.last = n
	}
	l.first = n
	l.count++
	return n
}

// Append inserts v after the last node.
func (l *List[T]) Append(v T) *Node[T] {
	n := &Node[T]{Value: v, prev: l.last, list: l}
	if l.last != nil {
		l.last.next = n
	} else {
		l.first = n
	}
	l.last = n
	l.count++
	return n
}

// Remove unlinks n. It returns false when n does not belong to l.
func (l *List[T]) Remove(n *Node[T]) bool {
	if n == nil || n.list != l {
		return false
	}
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.first = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.last = n.prev
	}
	n.prev, n.next, n.list = nil, nil, nil
	l.count--
	return true
}

// FirstMatching scans from the oldest end and returns the first node whose value
// satisfies pred, or nil.
func (l *List[T]) FirstMatching(pred func(T) bool) *Node[T] {
	for n := l.first; n != nil; n = n.next {
		if pred(n.Value) {
			return n
		}
	}
	return nil
}

// ToArray returns the values oldest to newest.
func (l *List[T]) ToArray() []T {
	out := make([]T, 0, l.count)
	for n := l.first; n != nil; n = n.next {
		out = append(out, n.Value)
	}
	return out
}

// ToReversedArray returns the values newest to oldest.
func (l *List[T]) ToReversedArray() []T {
	out := make([]T, 0, l.count)
	for n := l.last; n != nil; n = n.prev {
		out = append(out, n.Value)
	}
	return out
}
