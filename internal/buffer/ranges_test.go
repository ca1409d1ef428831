package buffer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeRange_Contains(t *testing.T) {
	r := TimeRange{Start: 10, End: 20}

	tests := []struct {
		name string
		t    float64
		want bool
	}{
		{"inside", 15, true},
		{"at start", 10, true},
		{"at end", 20, true},
		{"just before start within tolerance", 10 - Tolerance/2, true},
		{"just after end within tolerance", 20 + Tolerance/2, true},
		{"before start beyond tolerance", 10 - 2*Tolerance, false},
		{"after end beyond tolerance", 20 + 2*Tolerance, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Contains(tt.t))
		})
	}
}

func TestTimeRanges_Add(t *testing.T) {
	var rs TimeRanges
	rs = rs.Add(TimeRange{Start: 4, End: 6})
	rs = rs.Add(TimeRange{Start: 0, End: 2})
	assert.Equal(t, TimeRanges{{0, 2}, {4, 6}}, rs)

	// touching ranges coalesce
	rs = rs.Add(TimeRange{Start: 2, End: 4})
	assert.Equal(t, TimeRanges{{0, 6}}, rs)

	// overlap extends
	rs = rs.Add(TimeRange{Start: 5, End: 8})
	assert.Equal(t, TimeRanges{{0, 8}}, rs)

	// empty ranges are ignored
	rs = rs.Add(TimeRange{Start: 10, End: 10})
	assert.Equal(t, TimeRanges{{0, 8}}, rs)

	assert.Equal(t, "[0.000, 8.000]", rs.String())
}

func TestTimeRanges_Remove(t *testing.T) {
	rs := TimeRanges{{0, 10}, {20, 30}}

	assert.Equal(t, TimeRanges{{0, 4}, {6, 10}, {20, 30}}, rs.Remove(4, 6))
	assert.Equal(t, TimeRanges{{0, 5}, {25, 30}}, rs.Remove(5, 25))
	assert.Empty(t, rs.Remove(0, math.Inf(1)))
	assert.Equal(t, rs, rs.Remove(12, 18))
	assert.Equal(t, rs, rs.Remove(5, 5))
}

func TestTimeRanges_Bounds(t *testing.T) {
	var empty TimeRanges
	assert.Zero(t, empty.Start())
	assert.Zero(t, empty.End())

	rs := TimeRanges{{1, 2}, {5, 9}}
	assert.Equal(t, 1.0, rs.Start())
	assert.Equal(t, 9.0, rs.End())

	r, ok := rs.Find(5)
	assert.True(t, ok)
	assert.Equal(t, TimeRange{5, 9}, r)

	_, ok = rs.Find(3)
	assert.False(t, ok)
}
