// Package manifest holds the parts of the stream model the buffer pipeline
// and the fragment rewriter consume: segment references and the per-stream
// context that used to live in process-wide state.
package manifest

import (
	"fmt"
	"net/url"
	"strings"
)

// Protocol identifies the streaming protocol a stream was described with.
type Protocol string

// Supported protocols.
const (
	ProtocolDASH   Protocol = "dash"
	ProtocolSmooth Protocol = "smooth"
)

// DefaultSmoothTimescale is the Smooth Streaming default timescale (100ns units).
const DefaultSmoothTimescale = 10_000_000

// SegmentReference identifies one fetchable unit. It is immutable once built.
type SegmentReference struct {
	// ID is unique per logical segment. For Smooth Streaming it is also the
	// fragment's absolute start time in track timescale units.
	ID        uint64  `yaml:"id" json:"id"`
	URL       string  `yaml:"url" json:"url"`
	StartByte int64   `yaml:"start_byte" json:"start_byte"`
	EndByte   int64   `yaml:"end_byte" json:"end_byte"` // inclusive, -1 for end of resource
	StartTime float64 `yaml:"start_time,omitempty" json:"start_time,omitempty"`
	EndTime   float64 `yaml:"end_time,omitempty" json:"end_time,omitempty"`
}

// HasTime reports whether the reference carries a presentation time window.
func (r SegmentReference) HasTime() bool {
	return r.EndTime > r.StartTime
}

// Duration returns the length of the presentation window in seconds, or 0.
func (r SegmentReference) Duration() float64 {
	if !r.HasTime() {
		return 0
	}
	return r.EndTime - r.StartTime
}

// String implements fmt.Stringer.
func (r SegmentReference) String() string {
	return fmt.Sprintf("segment %d %s [%d-%d]", r.ID, r.URL, r.StartByte, r.EndByte)
}

// Context is the per-stream state threaded through the pipeline.
type Context struct {
	// BaseURL resolves relative segment URLs.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Protocol is the protocol the stream was described with.
	Protocol Protocol `yaml:"protocol" json:"protocol"`
	// Protected reports whether the stream carries sample encryption.
	Protected bool `yaml:"protected" json:"protected"`
	// Timescale is the track timescale; 0 means the protocol default.
	Timescale uint64 `yaml:"timescale" json:"timescale"`
}

// IsLegacy reports whether fragments need rewriting before they can be
// appended, which is the case for Smooth Streaming.
func (c *Context) IsLegacy() bool {
	return c != nil && strings.EqualFold(string(c.Protocol), string(ProtocolSmooth))
}

// EffectiveTimescale returns Timescale or the protocol default.
func (c *Context) EffectiveTimescale() uint64 {
	if c != nil && c.Timescale > 0 {
		return c.Timescale
	}
	return DefaultSmoothTimescale
}

// ResolveURL resolves ref against the base URL. Absolute references and a
// missing base URL return ref unchanged.
func (c *Context) ResolveURL(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing segment url %q: %w", ref, err)
	}
	if u.IsAbs() || c == nil || c.BaseURL == "" {
		return ref, nil
	}

	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url %q: %w", c.BaseURL, err)
	}
	return base.ResolveReference(u).String(), nil
}

// Validate checks the context for values the pipeline cannot work with.
func (c *Context) Validate() error {
	switch Protocol(strings.ToLower(string(c.Protocol))) {
	case ProtocolDASH, ProtocolSmooth, "":
	default:
		return fmt.Errorf("unknown protocol %q", c.Protocol)
	}
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil {
			return fmt.Errorf("invalid base url: %w", err)
		}
	}
	return nil
}
