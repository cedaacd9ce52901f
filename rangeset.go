package froxel

import (
	"fmt"
	"sort"
)

// BufferRange is a half-open interval [Start, End) of buffer offsets.
type BufferRange struct {
	Start int
	End   int
}

// RangeSet tracks which regions of a buffer need to be re-uploaded, as a
// sorted list of disjoint half-open intervals. The number of live intervals
// is bounded by a capacity fixed at construction; when an insertion would
// exceed it, the new coverage is absorbed into the positionally nearest
// interval instead. The tracked region is therefore never under-reported,
// only potentially over-reported.
//
// Intervals that touch (one's End equals the other's Start) always merge,
// and a single insertion can bridge and collapse several intervals at once.
//
// RangeSet does no locking; the owner must serialize access.
type RangeSet struct {
	// len is the live interval count; cap is the fixed capacity.
	// The backing array never reallocates.
	ranges []BufferRange
}

// NewRangeSet creates a RangeSet with the given fixed interval capacity.
// Panics if capacity is not positive.
func NewRangeSet(capacity int) *RangeSet {
	if capacity <= 0 {
		panic(fmt.Sprintf("froxel: RangeSet capacity must be positive, got %d", capacity))
	}
	return &RangeSet{ranges: make([]BufferRange, 0, capacity)}
}

// Capacity returns the fixed interval capacity.
func (rs *RangeSet) Capacity() int { return cap(rs.ranges) }

// IsEmpty reports whether no interval is tracked.
func (rs *RangeSet) IsEmpty() bool { return len(rs.ranges) == 0 }

// Clear drops all intervals in constant time.
func (rs *RangeSet) Clear() { rs.ranges = rs.ranges[:0] }

// Ranges returns the live intervals in ascending order. The returned slice
// aliases internal storage and is only valid until the next mutation;
// callers must not modify it.
func (rs *RangeSet) Ranges() []BufferRange { return rs.ranges }

// Set inserts [start, start+length) into the set, merging with every
// existing interval it overlaps or touches. A zero length is a no-op.
// Panics on negative length.
func (rs *RangeSet) Set(start, length int) {
	if length < 0 {
		panic(fmt.Sprintf("froxel: RangeSet.Set with negative length %d", length))
	}
	if length == 0 {
		return
	}
	end := start + length
	r := rs.ranges

	// r[i:j] is the run of intervals that overlap or touch [start, end).
	i := sort.Search(len(r), func(k int) bool { return r[k].End >= start })
	j := i
	for j < len(r) && r[j].Start <= end {
		j++
	}

	if i == j {
		// Disjoint from everything.
		if len(r) < cap(r) {
			r = r[:len(r)+1]
			copy(r[i+1:], r[i:])
			r[i] = BufferRange{Start: start, End: end}
			rs.ranges = r
			return
		}
		// At capacity: extend the nearest neighbor over the gap.
		switch {
		case i == 0:
			r[0].Start = start
		case i == len(r):
			r[len(r)-1].End = end
		default:
			if start-r[i-1].End <= r[i].Start-end {
				r[i-1].End = end
			} else {
				r[i].Start = start
			}
		}
		return
	}

	grewRight := end > r[j-1].End
	if r[i].Start < start {
		start = r[i].Start
	}
	if r[j-1].End > end {
		end = r[j-1].End
	}
	r[i] = BufferRange{Start: start, End: end}
	copy(r[i+1:], r[j:])
	r = r[:len(r)-(j-i-1)]

	// When still at capacity after a rightward growth, coalesce with the
	// successor so the next insertion has a free slot.
	if grewRight && len(r) == cap(r) && i+1 < len(r) {
		r[i].End = r[i+1].End
		copy(r[i+1:], r[i+2:])
		r = r[:len(r)-1]
	}
	rs.ranges = r
}
