package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentReference_Duration(t *testing.T) {
	ref := SegmentReference{ID: 5, URL: "A", StartByte: 0, EndByte: 999, StartTime: 10, EndTime: 12}
	assert.True(t, ref.HasTime())
	assert.InDelta(t, 2.0, ref.Duration(), 1e-9)
	assert.Equal(t, "segment 5 A [0-999]", ref.String())

	untimed := SegmentReference{ID: 1, URL: "B"}
	assert.False(t, untimed.HasTime())
	assert.Zero(t, untimed.Duration())
}

func TestContext_IsLegacy(t *testing.T) {
	tests := []struct {
		name string
		ctx  *Context
		want bool
	}{
		{"nil", nil, false},
		{"dash", &Context{Protocol: ProtocolDASH}, false},
		{"smooth", &Context{Protocol: ProtocolSmooth}, true},
		{"smooth uppercase", &Context{Protocol: "SMOOTH"}, true},
		{"unset", &Context{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ctx.IsLegacy())
		})
	}
}

func TestContext_EffectiveTimescale(t *testing.T) {
	var nilCtx *Context
	assert.Equal(t, uint64(DefaultSmoothTimescale), nilCtx.EffectiveTimescale())
	assert.Equal(t, uint64(90000), (&Context{Timescale: 90000}).EffectiveTimescale())
}

func TestContext_ResolveURL(t *testing.T) {
	ctx := &Context{BaseURL: "https://cdn.example.com/live/stream.ism/Manifest"}

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"relative", "QualityLevels(128000)/Fragments(audio=0)", "https://cdn.example.com/live/stream.ism/QualityLevels(128000)/Fragments(audio=0)"},
		{"rooted", "/other/seg.m4s", "https://cdn.example.com/other/seg.m4s"},
		{"absolute", "http://origin.example.org/seg.m4s", "http://origin.example.org/seg.m4s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ctx.ResolveURL(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := (&Context{}).ResolveURL("seg.m4s")
	require.NoError(t, err)
	assert.Equal(t, "seg.m4s", got)

	_, err = ctx.ResolveURL("%zz")
	assert.Error(t, err)
}

func TestContext_Validate(t *testing.T) {
	assert.NoError(t, (&Context{Protocol: "smooth"}).Validate())
	assert.NoError(t, (&Context{}).Validate())
	assert.Error(t, (&Context{Protocol: "hls"}).Validate())
}

const jobYAML = `
stream:
  base_url: https://cdn.example.com/vod/
  protocol: smooth
  protected: true
  timescale: 10000000
init_segment: init.mp4
early_stop_statuses: "404,412"
segments:
  - id: 0
    url: frag0.ismv
    start_byte: 0
    end_byte: 999
    start_time: 0
    end_time: 2
  - id: 20000000
    url: frag1.ismv
`

func TestParseJob(t *testing.T) {
	job, err := ParseJob([]byte(jobYAML))
	require.NoError(t, err)

	assert.True(t, job.Stream.IsLegacy())
	assert.True(t, job.Stream.Protected)
	assert.Equal(t, uint64(10_000_000), job.Stream.Timescale)
	assert.Equal(t, "init.mp4", job.InitSegment)
	assert.Equal(t, "404,412", job.EarlyStopStatuses)

	require.Len(t, job.Segments, 2)
	assert.Equal(t, SegmentReference{ID: 0, URL: "frag0.ismv", StartByte: 0, EndByte: 999, StartTime: 0, EndTime: 2}, job.Segments[0])
	assert.Equal(t, int64(-1), job.Segments[1].EndByte)
	assert.Equal(t, uint64(20_000_000), job.Segments[1].ID)

	resolved, err := job.ResolvedSegments()
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/vod/frag0.ismv", resolved[0].URL)
	assert.Equal(t, "frag0.ismv", job.Segments[0].URL)
}

func TestParseJob_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no segments", "stream: {protocol: dash}\n", "no segments"},
		{"missing url", "segments: [{id: 1}]\n", "missing url"},
		{"inverted range", "segments: [{id: 1, url: a, start_byte: 10, end_byte: 5}]\n", "before start_byte"},
		{"bad protocol", "stream: {protocol: rtmp}\nsegments: [{id: 1, url: a}]\n", "unknown protocol"},
		{"bad yaml", "segments: [", "decoding job"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJob([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(jobYAML), 0o600))

	job, err := LoadJob(path)
	require.NoError(t, err)
	assert.Len(t, job.Segments, 2)

	_, err = LoadJob(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
