package bmff

import "encoding/binary"

// Track fragment header flags.
const (
	TfhdBaseDataOffsetPresent = 0x000001
	TfhdDefaultBaseIsMoof     = 0x020000
)

// Track run flags.
const (
	TrunDataOffsetPresent = 0x000001
)

// DefaultSampleInfoSize is the per-sample auxiliary information size written
// into generated saiz boxes.
const DefaultSampleInfoSize = 16

// SencSubsamplePresent marks senc entries as carrying subsample maps.
const SencSubsamplePresent = 0x000002

// Version returns the full-box version byte of payload.
func Version(payload []byte) uint8 {
	if len(payload) < 4 {
		return 0
	}
	return payload[0]
}

// Flags returns the 24-bit full-box flags of payload.
func Flags(payload []byte) uint32 {
	if len(payload) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(payload) & 0x00ffffff
}

// SetFlags overwrites the 24-bit full-box flags of payload, keeping the version.
func SetFlags(payload []byte, flags uint32) {
	if len(payload) < 4 {
		return
	}
	payload[1] = byte(flags >> 16)
	payload[2] = byte(flags >> 8)
	payload[3] = byte(flags)
}

func fullBoxHeader(version uint8, flags uint32) []byte {
	return []byte{version, byte(flags >> 16), byte(flags >> 8), byte(flags)}
}

// NewTfdt builds a version 1 track fragment decode time box.
func NewTfdt(baseMediaDecodeTime uint64) Box {
	p := fullBoxHeader(1, 0)
	p = binary.BigEndian.AppendUint64(p, baseMediaDecodeTime)
	return Box{Type: TypeTfdt, Payload: p}
}

// TfdtBaseTime decodes the base media decode time of a tfdt payload.
func TfdtBaseTime(payload []byte) (uint64, bool) {
	switch {
	case Version(payload) == 1 && len(payload) >= 12:
		return binary.BigEndian.Uint64(payload[4:]), true
	case Version(payload) == 0 && len(payload) >= 8:
		return uint64(binary.BigEndian.Uint32(payload[4:])), true
	}
	return 0, false
}

// NewSaiz builds a sample auxiliary information sizes box with one entry of
// infoSize bytes per sample.
func NewSaiz(sampleCount uint32, infoSize uint8) Box {
	p := fullBoxHeader(0, 0)
	p = append(p, 0) // default_sample_info_size: sizes follow per sample
	p = binary.BigEndian.AppendUint32(p, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		p = append(p, infoSize)
	}
	return Box{Type: TypeSaiz, Payload: p}
}

// SaioOffsetField is the payload position of offset[0] in a version 0 saio.
const SaioOffsetField = 8

// NewSaio builds a sample auxiliary information offsets box with a single entry.
func NewSaio(offset uint32) Box {
	p := fullBoxHeader(0, 0)
	p = binary.BigEndian.AppendUint32(p, 1)
	p = binary.BigEndian.AppendUint32(p, offset)
	return Box{Type: TypeSaio, Payload: p}
}

// SencHeaderSize is the number of bytes preceding the per-sample data of a senc
// box: size, type, version/flags and sample count.
const SencHeaderSize = 16

// NewSenc builds a sample encryption box around raw per-sample data.
func NewSenc(flags, sampleCount uint32, samples []byte) Box {
	p := make([]byte, 0, 8+len(samples))
	p = append(p, fullBoxHeader(0, flags)...)
	p = binary.BigEndian.AppendUint32(p, sampleCount)
	p = append(p, samples...)
	return Box{Type: TypeSenc, Payload: p}
}

// TrunSampleCount returns the sample count of a trun payload.
func TrunSampleCount(payload []byte) uint32 {
	if len(payload) < 8 {
		return 0
	}
	return binary.BigEndian.Uint32(payload[4:])
}

// TrunDataOffsetField is the payload position of data_offset in a trun.
const TrunDataOffsetField = 8
