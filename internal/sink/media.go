package sink

import (
	"bytes"
	"fmt"

	mp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"

	"github.com/jmylchreest/ssbridge/internal/buffer"
)

// Flags read from tfhd and trun.
const (
	tfhdDefaultSampleDurationPresent = 0x000008
	trunSampleDurationPresent        = 0x000100
)

// segmentInfo is what an appended chunk contributes to the buffer state.
type segmentInfo struct {
	timescales map[uint32]uint32
	ranges     []trackRange
}

// trackRange is a decode-time window of one track fragment, in track units.
type trackRange struct {
	trackID  uint32
	base     uint64
	duration uint64
}

// inspect reads the init and media boxes of data.
func inspect(data []byte) (segmentInfo, error) {
	var info segmentInfo
	r := bytes.NewReader(data)

	moov, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMoov()})
	if err != nil {
		return info, fmt.Errorf("reading boxes: %w", err)
	}
	if len(moov) > 0 {
		ts, err := initTimescales(data)
		if err != nil {
			return info, err
		}
		info.timescales = ts
	}

	trafs, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMoof(), mp4.BoxTypeTraf()})
	if err != nil {
		return info, fmt.Errorf("reading track fragments: %w", err)
	}
	for _, traf := range trafs {
		tr, ok, err := fragmentRange(r, traf)
		if err != nil {
			return info, err
		}
		if ok {
			info.ranges = append(info.ranges, tr)
		}
	}
	return info, nil
}

// initTimescales maps track ids to timescales. Protected sample entries are
// not understood by the fmp4 decoder, so the track headers are read directly
// when it fails.
func initTimescales(data []byte) (map[uint32]uint32, error) {
	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(data)); err == nil {
		ts := make(map[uint32]uint32, len(init.Tracks))
		for _, t := range init.Tracks {
			ts[uint32(t.ID)] = t.TimeScale
		}
		return ts, nil
	}

	r := bytes.NewReader(data)
	traks, err := mp4.ExtractBox(r, nil, mp4.BoxPath{mp4.BoxTypeMoov(), mp4.BoxTypeTrak()})
	if err != nil {
		return nil, fmt.Errorf("reading tracks: %w", err)
	}

	ts := make(map[uint32]uint32, len(traks))
	for _, trak := range traks {
		boxes, err := mp4.ExtractBoxesWithPayload(r, trak, []mp4.BoxPath{
			{mp4.BoxTypeTkhd()},
			{mp4.BoxTypeMdia(), mp4.BoxTypeMdhd()},
		})
		if err != nil {
			return nil, fmt.Errorf("reading track header: %w", err)
		}

		var (
			id    uint32
			scale uint32
		)
		for _, b := range boxes {
			switch p := b.Payload.(type) {
			case *mp4.Tkhd:
				id = p.TrackID
			case *mp4.Mdhd:
				scale = p.Timescale
			}
		}
		if id != 0 && scale != 0 {
			ts[id] = scale
		}
	}
	return ts, nil
}

// fragmentRange sums the sample durations of one traf. Fragments without a
// tfdt cannot be placed on the timeline and are skipped.
func fragmentRange(r *bytes.Reader, traf *mp4.BoxInfo) (trackRange, bool, error) {
	boxes, err := mp4.ExtractBoxesWithPayload(r, traf, []mp4.BoxPath{
		{mp4.BoxTypeTfhd()},
		{mp4.BoxTypeTfdt()},
		{mp4.BoxTypeTrun()},
	})
	if err != nil {
		return trackRange{}, false, fmt.Errorf("reading track fragment: %w", err)
	}

	var (
		tfhd *mp4.Tfhd
		tfdt *mp4.Tfdt
		runs []*mp4.Trun
	)
	for _, b := range boxes {
		switch p := b.Payload.(type) {
		case *mp4.Tfhd:
			tfhd = p
		case *mp4.Tfdt:
			tfdt = p
		case *mp4.Trun:
			runs = append(runs, p)
		}
	}
	if tfhd == nil || tfdt == nil {
		return trackRange{}, false, nil
	}

	var defaultDuration uint64
	if tfhd.CheckFlag(tfhdDefaultSampleDurationPresent) {
		defaultDuration = uint64(tfhd.DefaultSampleDuration)
	}

	tr := trackRange{trackID: tfhd.TrackID, base: tfdt.GetBaseMediaDecodeTime()}
	for _, run := range runs {
		if !run.CheckFlag(trunSampleDurationPresent) {
			tr.duration += defaultDuration * uint64(run.SampleCount)
			continue
		}
		for _, s := range run.Entries {
			tr.duration += uint64(s.SampleDuration)
		}
	}
	return tr, true, nil
}

// timeRange converts a track window to seconds.
func (tr trackRange) timeRange(timescale uint32) buffer.TimeRange {
	scale := float64(timescale)
	return buffer.TimeRange{
		Start: float64(tr.base) / scale,
		End:   float64(tr.base+tr.duration) / scale,
	}
}
