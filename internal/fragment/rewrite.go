// Package fragment rewrites Smooth Streaming media fragments into the layout
// expected by DASH/CMAF demuxers.
//
// Rewrite is a pure function: it touches nothing but its inputs and is safe to
// call concurrently.
package fragment

import (
	"encoding/binary"
	"math"

	"github.com/jmylchreest/ssbridge/internal/bmff"
)

// minIVSize is the smallest per-sample initialization vector.
const minIVSize = 8

// piffHeaderSize is the number of bytes preceding the per-sample data of a PIFF
// sample encryption uuid box: size, type, extended type, version/flags and count.
const piffHeaderSize = 32

// Meta is the per-fragment metadata the rewriter needs from the manifest.
type Meta struct {
	// BaseTimestamp is the fragment's absolute decode time in track timescale units.
	BaseTimestamp uint64
	// Encrypted reports whether the stream carries sample encryption data.
	Encrypted bool
}

// Rewrite converts one moof+mdat fragment. Input that does not contain a
// recognizable fragment is returned unchanged with rewritten=false.
func Rewrite(data []byte, meta Meta) (out []byte, rewritten bool) {
	tree, err := bmff.Parse(data)
	if err != nil {
		return data, false
	}

	f, ok := locate(tree)
	if !ok {
		return data, false
	}

	senc := bmff.None
	if meta.Encrypted {
		if senc, ok = rebuildProtected(tree, f, meta); !ok {
			return data, false
		}
	}
	if senc == bmff.None {
		rebuildClear(tree, f, meta)
	}

	tree.SetChildren(f.moof, []int{f.mfhd, f.traf})
	ensureDataOffset(tree, f.trun)

	layout, err := tree.Layout()
	if err != nil {
		return data, false
	}

	moofStart := layout.Offset(f.moof)
	dataOffset := layout.Offset(f.mdat) + 8 - moofStart
	if !putUint32(tree.Payload(f.trun), bmff.TrunDataOffsetField, dataOffset) {
		return data, false
	}

	if senc != bmff.None {
		saio := tree.Find(f.traf, bmff.TypeSaio)
		auxOffset := layout.Offset(senc) - moofStart + bmff.SencHeaderSize
		if !putUint32(tree.Payload(saio), bmff.SaioOffsetField, auxOffset) {
			return data, false
		}
	}

	out, err = tree.Bytes()
	if err != nil {
		return data, false
	}
	return out, true
}

// boxes of the fragment being rewritten.
type parts struct {
	moof, mfhd, traf, tfhd, trun, mdat int
}

func locate(tree *bmff.Tree) (parts, bool) {
	var f parts
	f.moof = tree.Find(bmff.None, bmff.TypeMoof)
	if f.moof == bmff.None {
		return f, false
	}
	f.mfhd = tree.Find(f.moof, bmff.TypeMfhd)
	f.traf = tree.Find(f.moof, bmff.TypeTraf)
	f.mdat = tree.FindAfter(f.moof, bmff.TypeMdat)
	if f.mfhd == bmff.None || f.traf == bmff.None || f.mdat == bmff.None {
		return f, false
	}
	f.tfhd = tree.Find(f.traf, bmff.TypeTfhd)
	f.trun = tree.Find(f.traf, bmff.TypeTrun)
	if f.tfhd == bmff.None || f.trun == bmff.None || len(tree.Payload(f.trun)) < 8 {
		return f, false
	}
	return f, true
}

// rebuildClear anchors the fragment with a tfdt and drops the Smooth
// timestamp boxes it supersedes.
func rebuildClear(tree *bmff.Tree, f parts, meta Meta) {
	for _, ut := range []bmff.UserType{bmff.UserTypeTfxd, bmff.UserTypeTfrf} {
		if id := tree.FindUUID(f.traf, ut); id != bmff.None {
			tree.RemoveChild(f.traf, id)
		}
	}
	for _, typ := range []bmff.Type{bmff.TypeTfxd, bmff.TypeTfrf} {
		for _, id := range tree.FindAll(f.traf, typ) {
			tree.RemoveChild(f.traf, id)
		}
	}

	if p, ok := dropBaseDataOffset(tree.Payload(f.tfhd)); ok {
		tree.SetPayload(f.tfhd, p)
	}

	tfdt := bmff.NewTfdt(meta.BaseTimestamp)
	if existing := tree.Find(f.traf, bmff.TypeTfdt); existing != bmff.None {
		tree.SetPayload(existing, tfdt.Payload)
		return
	}
	tree.AppendChild(f.traf, tree.Add(tfdt))
}

// rebuildProtected reassembles traf as tfhd, trun, saiz, saio, tfdt, senc and
// returns the senc box. It returns None when the fragment has no IV data, and
// false when the sample count claims more IVs than the data holds.
func rebuildProtected(tree *bmff.Tree, f parts, meta Meta) (int, bool) {
	ivs, ok := sampleEncryptionData(tree, f.traf)
	if !ok {
		return bmff.None, true
	}

	count := bmff.TrunSampleCount(tree.Payload(f.trun))
	if uint64(count)*minIVSize > uint64(len(ivs)) {
		return bmff.None, false
	}
	saiz := tree.Add(bmff.NewSaiz(count, bmff.DefaultSampleInfoSize))
	saio := tree.Add(bmff.NewSaio(0))
	tfdt := tree.Add(bmff.NewTfdt(meta.BaseTimestamp))
	senc := tree.Add(bmff.NewSenc(bmff.SencSubsamplePresent, count, ivs))

	tree.SetChildren(f.traf, []int{f.tfhd, f.trun, saiz, saio, tfdt, senc})
	setBaseIsMoof(tree, f.tfhd)
	return senc, true
}

// sampleEncryptionData returns the raw per-sample data of the PIFF sample
// encryption box, or of an existing senc box.
func sampleEncryptionData(tree *bmff.Tree, traf int) ([]byte, bool) {
	// Payload offsets are relative to the end of the 8-byte box header.
	if id := tree.FindUUID(traf, bmff.UserTypePIFFSampleEncryption); id != bmff.None {
		p := tree.Payload(id)
		if len(p) >= piffHeaderSize-8 {
			return append([]byte(nil), p[piffHeaderSize-8:]...), true
		}
	}
	if id := tree.Find(traf, bmff.TypeSenc); id != bmff.None {
		p := tree.Payload(id)
		if len(p) >= bmff.SencHeaderSize-8 {
			return append([]byte(nil), p[bmff.SencHeaderSize-8:]...), true
		}
	}
	return nil, false
}

// setBaseIsMoof makes sample data offsets relative to the moof.
func setBaseIsMoof(tree *bmff.Tree, tfhd int) {
	p := tree.Payload(tfhd)
	if len(p) < 8 {
		return
	}
	if stripped, ok := dropBaseDataOffset(p); ok {
		p = stripped
	}
	p[1] = byte(bmff.TfhdDefaultBaseIsMoof >> 16)
	tree.SetPayload(tfhd, p)
}

// dropBaseDataOffset removes an explicit base data offset from a tfhd
// payload. The trun data offset is always written relative to the moof, which
// an explicit base would override.
func dropBaseDataOffset(p []byte) ([]byte, bool) {
	if len(p) < 16 || bmff.Flags(p)&bmff.TfhdBaseDataOffsetPresent == 0 {
		return nil, false
	}
	// version/flags(4) track_ID(4) base_data_offset(8)
	out := append(p[:8:8], p[16:]...)
	bmff.SetFlags(out, bmff.Flags(out)&^bmff.TfhdBaseDataOffsetPresent)
	return out, true
}

// ensureDataOffset makes sure trun carries a data_offset field.
func ensureDataOffset(tree *bmff.Tree, trun int) {
	p := tree.Payload(trun)
	flags := bmff.Flags(p)
	if flags&bmff.TrunDataOffsetPresent != 0 {
		return
	}
	// version/flags(4) sample_count(4) then the optional data_offset
	out := make([]byte, 0, len(p)+4)
	out = append(out, p[:bmff.TrunDataOffsetField]...)
	out = append(out, 0, 0, 0, 0)
	out = append(out, p[bmff.TrunDataOffsetField:]...)
	bmff.SetFlags(out, flags|bmff.TrunDataOffsetPresent)
	tree.SetPayload(trun, out)
}

func putUint32(payload []byte, at, v int) bool {
	if v < 0 || v > math.MaxUint32 || len(payload) < at+4 {
		return false
	}
	binary.BigEndian.PutUint32(payload[at:], uint32(v))
	return true
}
