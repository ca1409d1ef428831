package buffer

import (
	"fmt"
	"slices"
	"strings"
)

// Tolerance absorbs floating point rounding in the ranges reported by a sink,
// so a timestamp exactly on a boundary still counts as buffered.
const Tolerance = 1.0 / 60

// TimeRange is a buffered interval in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Contains reports whether t lies within the range widened by Tolerance.
func (r TimeRange) Contains(t float64) bool {
	return t >= r.Start-Tolerance && t <= r.End+Tolerance
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%.3f, %.3f]", r.Start, r.End)
}

// TimeRanges is an ordered, non-overlapping list of ranges.
type TimeRanges []TimeRange

// Find returns the first range containing t within tolerance.
func (rs TimeRanges) Find(t float64) (TimeRange, bool) {
	for _, r := range rs {
		if r.Contains(t) {
			return r, true
		}
	}
	return TimeRange{}, false
}

// Add returns rs with r merged in. Ranges that overlap or touch r are
// coalesced with it.
func (rs TimeRanges) Add(r TimeRange) TimeRanges {
	if r.End <= r.Start {
		return rs
	}
	out := make(TimeRanges, 0, len(rs)+1)
	for _, cur := range rs {
		if cur.End < r.Start || cur.Start > r.End {
			out = append(out, cur)
			continue
		}
		r.Start = min(r.Start, cur.Start)
		r.End = max(r.End, cur.End)
	}
	out = append(out, r)
	slices.SortFunc(out, func(a, b TimeRange) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	return out
}

// Remove returns rs with [start, end) cut out.
func (rs TimeRanges) Remove(start, end float64) TimeRanges {
	if end <= start {
		return rs
	}
	out := make(TimeRanges, 0, len(rs)+1)
	for _, cur := range rs {
		if cur.End <= start || cur.Start >= end {
			out = append(out, cur)
			continue
		}
		if cur.Start < start {
			out = append(out, TimeRange{Start: cur.Start, End: start})
		}
		if cur.End > end {
			out = append(out, TimeRange{Start: end, End: cur.End})
		}
	}
	return out
}

// Start returns the start of the first range, or 0.
func (rs TimeRanges) Start() float64 {
	if len(rs) == 0 {
		return 0
	}
	return rs[0].Start
}

// End returns the end of the last range, or 0.
func (rs TimeRanges) End() float64 {
	if len(rs) == 0 {
		return 0
	}
	return rs[len(rs)-1].End
}

func (rs TimeRanges) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}
