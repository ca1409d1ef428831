package httpclient

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// StatusCodeRange is an inclusive range of HTTP status codes.
type StatusCodeRange struct {
	Min int
	Max int
}

// Contains returns true if the code falls within this range.
func (r StatusCodeRange) Contains(code int) bool {
	return code >= r.Min && code <= r.Max
}

// StatusCodeSet is a set of HTTP status codes, written as a comma separated
// list of codes and inclusive ranges:
//   - "404" - single code
//   - "404,412" - multiple codes
//   - "500-599,404" - ranges and codes mixed
type StatusCodeSet struct {
	codes  map[int]struct{}
	ranges []StatusCodeRange
}

// NewStatusCodeSet creates an empty StatusCodeSet.
func NewStatusCodeSet() *StatusCodeSet {
	return &StatusCodeSet{codes: make(map[int]struct{})}
}

// ParseStatusCodes parses a string like "404,500-599" into a StatusCodeSet.
// Returns nil for empty input.
func ParseStatusCodes(s string) (*StatusCodeSet, error) {
	set := NewStatusCodeSet()

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi, isRange := strings.Cut(part, "-")
		min, err := parseStatusCode(lo)
		if err != nil {
			return nil, err
		}
		if !isRange {
			set.codes[min] = struct{}{}
			continue
		}

		max, err := parseStatusCode(hi)
		if err != nil {
			return nil, err
		}
		if min > max {
			return nil, fmt.Errorf("invalid range %d-%d: min > max", min, max)
		}
		set.ranges = append(set.ranges, StatusCodeRange{Min: min, Max: max})
	}

	if set.IsEmpty() {
		return nil, nil
	}
	return set, nil
}

func parseStatusCode(s string) (int, error) {
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid status code %q: %w", s, err)
	}
	if code < 100 || code > 599 {
		return 0, fmt.Errorf("invalid HTTP status code %d: must be 100-599", code)
	}
	return code, nil
}

// MustParseStatusCodes is like ParseStatusCodes but panics on error.
func MustParseStatusCodes(s string) *StatusCodeSet {
	set, err := ParseStatusCodes(s)
	if err != nil {
		panic(err)
	}
	return set
}

// StatusCodesFromSlice creates a StatusCodeSet from individual codes.
func StatusCodesFromSlice(codes []int) *StatusCodeSet {
	if len(codes) == 0 {
		return nil
	}
	set := NewStatusCodeSet()
	for _, code := range codes {
		set.codes[code] = struct{}{}
	}
	return set
}

// Add adds an individual status code to the set.
func (s *StatusCodeSet) Add(code int) {
	if s.codes == nil {
		s.codes = make(map[int]struct{})
	}
	s.codes[code] = struct{}{}
}

// AddRange adds an inclusive range of status codes to the set.
func (s *StatusCodeSet) AddRange(min, max int) {
	s.ranges = append(s.ranges, StatusCodeRange{Min: min, Max: max})
}

// Contains reports whether code is in the set. A nil set contains nothing.
func (s *StatusCodeSet) Contains(code int) bool {
	if s == nil {
		return false
	}
	if _, ok := s.codes[code]; ok {
		return true
	}
	for _, r := range s.ranges {
		if r.Contains(code) {
			return true
		}
	}
	return false
}

// IsEmpty returns true if the set has no codes or ranges.
func (s *StatusCodeSet) IsEmpty() bool {
	return s == nil || (len(s.codes) == 0 && len(s.ranges) == 0)
}

// String renders the set in the form accepted by ParseStatusCodes, ranges
// first, then codes in ascending order.
func (s *StatusCodeSet) String() string {
	if s.IsEmpty() {
		return ""
	}

	parts := make([]string, 0, len(s.ranges)+len(s.codes))
	for _, r := range s.ranges {
		if r.Min == r.Max {
			parts = append(parts, strconv.Itoa(r.Min))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", r.Min, r.Max))
		}
	}

	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		parts = append(parts, strconv.Itoa(code))
	}

	return strings.Join(parts, ",")
}

// Clone returns a deep copy of the set.
func (s *StatusCodeSet) Clone() *StatusCodeSet {
	if s == nil {
		return nil
	}
	clone := NewStatusCodeSet()
	for code := range s.codes {
		clone.codes[code] = struct{}{}
	}
	clone.ranges = slices.Clone(s.ranges)
	return clone
}
