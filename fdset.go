package hostloop

import (
	"math/bits"

	"github.com/joeycumines/go-hostloop/gmain"
)

// FDSet is a growable set of descriptors, like fd_set without the
// FD_SETSIZE bound. The zero value is an empty set.
type FDSet struct {
	words []uint64
}

// Set adds fd. Negative descriptors are ignored.
func (s *FDSet) Set(fd int) {
	if fd < 0 {
		return
	}
	w := fd / 64
	if w >= len(s.words) {
		if w < cap(s.words) {
			s.words = s.words[:w+1]
		} else {
			s.words = append(s.words, make([]uint64, w+1-len(s.words))...)
		}
	}
	s.words[w] |= 1 << (uint(fd) % 64)
}

// Clear removes fd.
func (s *FDSet) Clear(fd int) {
	if fd < 0 || fd/64 >= len(s.words) {
		return
	}
	s.words[fd/64] &^= 1 << (uint(fd) % 64)
}

// IsSet reports whether fd is in the set.
func (s *FDSet) IsSet(fd int) bool {
	if fd < 0 || fd/64 >= len(s.words) {
		return false
	}
	return s.words[fd/64]&(1<<(uint(fd)%64)) != 0
}

// Zero empties the set, retaining its storage.
func (s *FDSet) Zero() {
	clear(s.words)
	s.words = s.words[:0]
}

// Len returns the number of descriptors in the set.
func (s *FDSet) Len() (n int) {
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Range calls fn for each descriptor in ascending order, stopping if fn
// returns false.
func (s *FDSet) Range(fn func(fd int) bool) {
	for i, w := range s.words {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			if !fn(i*64 + b) {
				return
			}
			w &^= 1 << uint(b)
		}
	}
}

// FDSets are the select-style working sets of one iteration. Collaborators
// add the descriptors they want watched during Fill, and test the observed
// readiness during Poll.
type FDSets struct {
	Read   FDSet
	Write  FDSet
	Except FDSet
	// MaxFD is the highest descriptor in any set, or -1.
	MaxFD int
}

// Reset empties all three sets.
func (s *FDSets) Reset() {
	s.Read.Zero()
	s.Write.Zero()
	s.Except.Zero()
	s.MaxFD = -1
}

// Add adds fd to the sets selected by events (IOIn, IOOut and IOErr),
// tracking MaxFD.
func (s *FDSets) Add(fd int, events gmain.IOCondition) {
	if fd < 0 {
		return
	}
	var added bool
	if events&gmain.IOIn != 0 {
		s.Read.Set(fd)
		added = true
	}
	if events&gmain.IOOut != 0 {
		s.Write.Set(fd)
		added = true
	}
	if events&gmain.IOErr != 0 {
		s.Except.Set(fd)
		added = true
	}
	if added && fd > s.MaxFD {
		s.MaxFD = fd
	}
}

// Events returns the conditions fd is a member of.
func (s *FDSets) Events(fd int) (events gmain.IOCondition) {
	if s.Read.IsSet(fd) {
		events |= gmain.IOIn
	}
	if s.Write.IsSet(fd) {
		events |= gmain.IOOut
	}
	if s.Except.IsSet(fd) {
		events |= gmain.IOErr
	}
	return events
}

// Empty reports whether no descriptor is requested.
func (s *FDSets) Empty() bool {
	return s.MaxFD < 0
}
