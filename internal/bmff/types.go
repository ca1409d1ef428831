// Package bmff models ISO base media file format boxes as an arena tree.
//
// A Tree is built by a single parse pass. Boxes are addressed by index and
// linked to their parent and children by index, so callers can restructure the
// tree freely and serialize it once; sizes are recomputed bottom-up and every
// box offset is known before any byte is written.
package bmff

// Type is a 4-byte box type tag.
type Type [4]byte

func (t Type) String() string {
	return string(t[:])
}

// Box types used by fragmented media.
var (
	TypeFtyp = Type{'f', 't', 'y', 'p'}
	TypeStyp = Type{'s', 't', 'y', 'p'}
	TypeMoov = Type{'m', 'o', 'o', 'v'}
	TypeTrak = Type{'t', 'r', 'a', 'k'}
	TypeMdia = Type{'m', 'd', 'i', 'a'}
	TypeMinf = Type{'m', 'i', 'n', 'f'}
	TypeDinf = Type{'d', 'i', 'n', 'f'}
	TypeStbl = Type{'s', 't', 'b', 'l'}
	TypeEdts = Type{'e', 'd', 't', 's'}
	TypeMvex = Type{'m', 'v', 'e', 'x'}
	TypeTrex = Type{'t', 'r', 'e', 'x'}
	TypeMoof = Type{'m', 'o', 'o', 'f'}
	TypeMfhd = Type{'m', 'f', 'h', 'd'}
	TypeTraf = Type{'t', 'r', 'a', 'f'}
	TypeTfhd = Type{'t', 'f', 'h', 'd'}
	TypeTrun = Type{'t', 'r', 'u', 'n'}
	TypeTfdt = Type{'t', 'f', 'd', 't'}
	TypeSdtp = Type{'s', 'd', 't', 'p'}
	TypeSenc = Type{'s', 'e', 'n', 'c'}
	TypeSaiz = Type{'s', 'a', 'i', 'z'}
	TypeSaio = Type{'s', 'a', 'i', 'o'}
	TypeTfxd = Type{'t', 'f', 'x', 'd'}
	TypeTfrf = Type{'t', 'f', 'r', 'f'}
	TypeUUID = Type{'u', 'u', 'i', 'd'}
	TypeMdat = Type{'m', 'd', 'a', 't'}
)

// UserType is the 16-byte extended type carried by uuid boxes.
type UserType [16]byte

// Extended types of the Smooth Streaming (PIFF) uuid boxes.
var (
	// UserTypePIFFSampleEncryption holds per-sample IVs and subsample maps.
	UserTypePIFFSampleEncryption = UserType{0xa2, 0x39, 0x4f, 0x52, 0x5a, 0x9b, 0x4f, 0x14, 0xa2, 0x44, 0x6c, 0x42, 0x7c, 0x64, 0x8d, 0xf4}
	// UserTypeTfxd carries the fragment's absolute time and duration.
	UserTypeTfxd = UserType{0x6d, 0x1d, 0x9b, 0x05, 0x42, 0xd5, 0x44, 0xe6, 0x80, 0xe2, 0x14, 0x1d, 0xaf, 0xf7, 0x57, 0xb2}
	// UserTypeTfrf announces upcoming live fragments.
	UserTypeTfrf = UserType{0xd4, 0x80, 0x7e, 0xf2, 0xca, 0x39, 0x46, 0x95, 0x8e, 0x54, 0x26, 0xcb, 0x9e, 0x46, 0xa7, 0x9f}
)

// IsContainer reports whether boxes of type t hold child boxes rather than a payload.
func IsContainer(t Type) bool {
	switch t {
	case TypeMoov, TypeTrak, TypeMdia, TypeMinf, TypeDinf, TypeStbl,
		TypeEdts, TypeMvex, TypeMoof, TypeTraf:
		return true
	}
	return false
}
