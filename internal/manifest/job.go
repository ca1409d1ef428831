package manifest

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNoSegments is returned for a job without segments.
var ErrNoSegments = errors.New("job has no segments")

// Job describes a fetch run: a stream, its optional init segment and the
// segment references to fetch in order.
type Job struct {
	Stream Context `yaml:"stream"`
	// InitSegment is a URL or local file path of the initialization segment.
	InitSegment string `yaml:"init_segment,omitempty"`
	// EarlyStopStatuses overrides the configured early-stop status set.
	EarlyStopStatuses string             `yaml:"early_stop_statuses,omitempty"`
	Segments          []SegmentReference `yaml:"-"`
}

type jobSegment struct {
	ID        uint64  `yaml:"id"`
	URL       string  `yaml:"url"`
	StartByte int64   `yaml:"start_byte"`
	EndByte   *int64  `yaml:"end_byte"`
	StartTime float64 `yaml:"start_time"`
	EndTime   float64 `yaml:"end_time"`
}

type jobFile struct {
	Job      `yaml:",inline"`
	Segments []jobSegment `yaml:"segments"`
}

// LoadJob reads and validates a YAML job file.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job file: %w", err)
	}
	job, err := ParseJob(data)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", path, err)
	}
	return job, nil
}

// ParseJob decodes and validates a YAML job. A segment without end_byte
// covers the rest of its resource.
func ParseJob(data []byte) (*Job, error) {
	var f jobFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}

	job := f.Job
	job.Segments = make([]SegmentReference, 0, len(f.Segments))
	for _, s := range f.Segments {
		end := int64(-1)
		if s.EndByte != nil {
			end = *s.EndByte
		}
		job.Segments = append(job.Segments, SegmentReference{
			ID:        s.ID,
			URL:       s.URL,
			StartByte: s.StartByte,
			EndByte:   end,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
		})
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Validate checks the job for structural problems.
func (j *Job) Validate() error {
	if err := j.Stream.Validate(); err != nil {
		return err
	}
	if len(j.Segments) == 0 {
		return ErrNoSegments
	}
	for i, s := range j.Segments {
		if s.URL == "" {
			return fmt.Errorf("segment %d: missing url", i)
		}
		if s.StartByte < 0 {
			return fmt.Errorf("segment %d: negative start_byte", i)
		}
		if s.EndByte >= 0 && s.EndByte < s.StartByte {
			return fmt.Errorf("segment %d: end_byte %d before start_byte %d", i, s.EndByte, s.StartByte)
		}
	}
	return nil
}

// ResolvedSegments returns the segments with URLs resolved against the
// stream's base URL.
func (j *Job) ResolvedSegments() ([]SegmentReference, error) {
	out := make([]SegmentReference, len(j.Segments))
	for i, s := range j.Segments {
		u, err := j.Stream.ResolveURL(s.URL)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		s.URL = u
		out[i] = s
	}
	return out, nil
}
