package acktracker

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// sortedMultiset is an ordered, insert-sorted ring buffer, adapted from
// the teacher's catrate rate-limiter ring buffer (there used to track a
// sliding window of event timestamps). Here it tracks the LSNs of
// currently-pending (registered, not yet completed) events, so the
// tracker can answer "what is the minimum pending LSN" in O(log n)
// instead of scanning the whole pending map on every Complete call.
type sortedMultiset[E constraints.Ordered] struct {
	s    []E
	r, w uint
}

func newSortedMultiset[E constraints.Ordered](size int) *sortedMultiset[E] {
	if size <= 0 || size&(size-1) != 0 {
		size = 8
	}
	return &sortedMultiset[E]{s: make([]E, size)}
}

func (x *sortedMultiset[E]) mask(val uint) uint {
	return val & (uint(len(x.s)) - 1)
}

func (x *sortedMultiset[E]) bounds() (i1, l1, l2 int) {
	if x.r == x.w {
		return
	}
	i1 = int(x.mask(x.r))
	l1 = int(x.mask(x.w))
	if l1 <= i1 {
		l2 = l1
		l1 = len(x.s)
	}
	return
}

// Len returns the number of elements currently stored.
func (x *sortedMultiset[E]) Len() int {
	return int(x.w - x.r)
}

// Get returns the element at sorted position i.
func (x *sortedMultiset[E]) Get(i int) E {
	if i < 0 || i >= x.Len() {
		panic(`acktracker: ring: get: index out of range`)
	}
	return x.s[x.mask(x.r+uint(i))]
}

// Min returns the smallest element. Len() must be > 0.
func (x *sortedMultiset[E]) Min() E {
	return x.Get(0)
}

// search returns the index of the first element >= value.
func (x *sortedMultiset[E]) search(value E) int {
	return sort.Search(x.Len(), func(i int) bool {
		return x.Get(i) >= value
	})
}

// Insert adds value, keeping the buffer sorted, growing it if full.
func (x *sortedMultiset[E]) Insert(value E) {
	index := x.search(value)
	l := x.Len()

	if l == len(x.s) {
		s := make([]E, uint(len(x.s))<<1)
		i1, l1, l2 := x.bounds()
		l = l1 - i1
		if index < l {
			copy(s, x.s[i1:i1+index])
			s[index] = value
			copy(s[index+1:], x.s[i1+index:l1])
			l++
			copy(s[l:], x.s[:l2])
			l += l2
		} else {
			copy(s, x.s[i1:l1])
			copy(s[l:], x.s[:index-l])
			s[index] = value
			copy(s[index+1:], x.s[index-l:l2])
			l += l2 + 1
		}

		x.r = 0
		x.w = uint(l)
		x.s = s
		return
	}

	var i, j int
	if l == 0 {
		x.r = 0
		x.w = 0
	} else {
		i = int(x.mask(x.r))
		j = int(x.mask(x.w))
	}

	if l == 0 || i < j {
		copy(x.s[i+index+1:], x.s[i+index:j])
		x.s[i+index] = value
		x.w++
		return
	}

	if index >= len(x.s)-i {
		index -= len(x.s) - i
		copy(x.s[index+1:], x.s[index:j])
		x.s[index] = value
		x.w++
		return
	}

	copy(x.s[1:], x.s[:j])
	x.s[0] = x.s[len(x.s)-1]
	copy(x.s[i+index+1:], x.s[i+index:])
	x.s[i+index] = value
	x.w++
}

// Remove deletes a single occurrence of value, if present, and reports
// whether one was found.
func (x *sortedMultiset[E]) Remove(value E) bool {
	index := x.search(value)
	if index >= x.Len() || x.Get(index) != value {
		return false
	}

	// shift everything after index down by one position.
	for i := index; i < x.Len()-1; i++ {
		x.set(i, x.Get(i+1))
	}
	x.w--
	return true
}

func (x *sortedMultiset[E]) set(i int, value E) {
	x.s[x.mask(x.r+uint(i))] = value
}
