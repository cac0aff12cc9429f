// Package index assigns and recycles compact 1-byte identifiers within a
// bounded collection.
//
// The domain is 1..254; 0 and 255 are reserved. The counter advances
// monotonically and wraps from 254 back to 1. A candidate that is still live
// is skipped, so a wrapped counter never hands out an index that is already in
// use.
package index

import "errors"

// Index is a compact record identifier.
type Index uint8

const (
	// MinIndex is the first assignable index.
	MinIndex Index = 1
	// MaxIndex is the last assignable index.
	MaxIndex Index = 254

	domainSize = int(MaxIndex-MinIndex) + 1
)

var (
	// ErrLimitReached is returned when the live set is at capacity.
	ErrLimitReached = errors.New("index: limit reached")
	// ErrIndexNotFound is returned when releasing an index that is not live.
	ErrIndexNotFound = errors.New("index: not found")
)

// Allocator tracks the live indices of one collection and the next candidate.
// The zero value is not usable; call New.
type Allocator struct {
	Max  int     `json:"max"`
	Next Index   `json:"next"`
	Live []Index `json:"live"`
}

// New returns an allocator bounded to max live indices.
func New(max int) Allocator {
	if max > domainSize {
		max = domainSize
	}
	return Allocator{
		Max:  max,
		Next: MinIndex,
		Live: make([]Index, 0, max),
	}
}

// Allocate assigns the next free index and marks it live.
func (a *Allocator) Allocate() (Index, error) {
	if len(a.Live) >= a.Max {
		return 0, ErrLimitReached
	}
	if a.Next < MinIndex || a.Next > MaxIndex {
		a.Next = MinIndex
	}

	for i := 0; i < domainSize; i++ {
		candidate := a.Next
		a.Next = advance(a.Next)
		if !a.Contains(candidate) {
			a.Live = append(a.Live, candidate)
			return candidate, nil
		}
	}
	return 0, ErrLimitReached
}

// Release removes idx from the live set. Order is not preserved.
func (a *Allocator) Release(idx Index) error {
	pos := a.position(idx)
	if pos < 0 {
		return ErrIndexNotFound
	}
	last := len(a.Live) - 1
	a.Live[pos] = a.Live[last]
	a.Live = a.Live[:last]
	return nil
}

// Contains reports whether idx is live.
func (a *Allocator) Contains(idx Index) bool {
	return a.position(idx) >= 0
}

// Len returns the number of live indices.
func (a *Allocator) Len() int {
	return len(a.Live)
}

// Full reports whether another index can be allocated.
func (a *Allocator) Full() bool {
	return len(a.Live) >= a.Max
}

// Clone returns a deep copy.
func (a Allocator) Clone() Allocator {
	live := make([]Index, len(a.Live), max(len(a.Live), a.Max))
	copy(live, a.Live)
	a.Live = live
	return a
}

func (a *Allocator) position(idx Index) int {
	for i, v := range a.Live {
		if v == idx {
			return i
		}
	}
	return -1
}

func advance(n Index) Index {
	if n >= MaxIndex {
		return MinIndex
	}
	return n + 1
}
