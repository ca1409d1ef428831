package bmff

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to create a simple box
func makeBox(boxType string, content []byte) []byte {
	size := uint32(8 + len(content))
	box := make([]byte, size)
	binary.BigEndian.PutUint32(box[0:4], size)
	copy(box[4:8], boxType)
	copy(box[8:], content)
	return box
}

// Helper to create an extended size box
func makeExtendedBox(boxType string, content []byte) []byte {
	size := uint64(16 + len(content))
	box := make([]byte, size)
	binary.BigEndian.PutUint32(box[0:4], 1)
	copy(box[4:8], boxType)
	binary.BigEndian.PutUint64(box[8:16], size)
	copy(box[16:], content)
	return box
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func makeFragment() []byte {
	mfhd := makeBox("mfhd", []byte{0, 0, 0, 0, 0, 0, 0, 7})
	tfhd := makeBox("tfhd", []byte{0, 0, 0, 0, 0, 0, 0, 1})
	trun := makeBox("trun", []byte{0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 0})
	traf := makeBox("traf", concat(tfhd, trun))
	moof := makeBox("moof", concat(mfhd, traf))
	mdat := makeBox("mdat", []byte("payload"))
	return concat(moof, mdat)
}

func types(tree *Tree, ids []int) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, tree.Type(id).String())
	}
	return out
}

func TestParse_Structure(t *testing.T) {
	tree, err := Parse(makeFragment())
	require.NoError(t, err)

	roots := tree.Roots()
	assert.Equal(t, []string{"moof", "mdat"}, types(tree, roots))

	moof := tree.Find(None, TypeMoof)
	require.NotEqual(t, None, moof)
	assert.Equal(t, []string{"mfhd", "traf"}, types(tree, tree.Children(moof)))

	traf := tree.Find(moof, TypeTraf)
	require.NotEqual(t, None, traf)
	assert.Equal(t, moof, tree.Parent(traf))
	assert.Equal(t, []string{"tfhd", "trun"}, types(tree, tree.Children(traf)))

	mdat := tree.FindAfter(moof, TypeMdat)
	assert.Equal(t, []byte("payload"), tree.Payload(mdat))
	assert.Nil(t, tree.Payload(moof))
}

func TestParse_RoundTrip(t *testing.T) {
	data := makeFragment()
	tree, err := Parse(data)
	require.NoError(t, err)

	out, err := tree.Bytes()
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestParse_ExtendedAndOpenEndedSizes(t *testing.T) {
	t.Run("largesize is rewritten compact", func(t *testing.T) {
		data := makeExtendedBox("free", []byte{1, 2, 3})
		tree, err := Parse(data)
		require.NoError(t, err)

		out, err := tree.Bytes()
		require.NoError(t, err)
		assert.Equal(t, makeBox("free", []byte{1, 2, 3}), out)
	})

	t.Run("size zero extends to end", func(t *testing.T) {
		data := concat(makeBox("free", nil), []byte{0, 0, 0, 0, 'm', 'd', 'a', 't', 9, 9})
		tree, err := Parse(data)
		require.NoError(t, err)

		mdat := tree.Find(None, TypeMdat)
		require.NotEqual(t, None, mdat)
		assert.Equal(t, []byte{9, 9}, tree.Payload(mdat))
	})
}

func TestParse_Truncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short header", []byte{0, 0, 0, 8}},
		{"size past end", makeBox("mdat", []byte{1, 2, 3})[:10]},
		{"size below header", []byte{0, 0, 0, 4, 'f', 'r', 'e', 'e'}},
		{"bad child", makeBox("moof", []byte{0, 0, 0, 99, 'm', 'f', 'h', 'd'})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.ErrorIs(t, err, ErrTruncated)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	tree, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, tree.Roots())
}

func TestTree_Mutation(t *testing.T) {
	tree, err := Parse(makeFragment())
	require.NoError(t, err)

	moof := tree.Find(None, TypeMoof)
	traf := tree.Find(moof, TypeTraf)
	tfdt := tree.Add(NewTfdt(0x0102030405060708))
	tree.AppendChild(traf, tfdt)

	l, err := tree.Layout()
	require.NoError(t, err)

	// tfdt v1 is 20 bytes
	assert.Equal(t, 20, l.Size(tfdt))
	assert.Equal(t, 8+16+20+20, l.Size(traf))
	assert.Equal(t, 8+16+l.Size(traf), l.Size(moof))
	assert.Equal(t, l.Size(moof), l.Offset(tree.Find(None, TypeMdat)))

	out, err := tree.Bytes()
	require.NoError(t, err)
	assert.Equal(t, uint32(l.Size(moof)), binary.BigEndian.Uint32(out[0:4]))
	assert.Equal(t, l.Len(), len(out))

	reparsed, err := Parse(out)
	require.NoError(t, err)
	rtraf := reparsed.Find(reparsed.Find(None, TypeMoof), TypeTraf)
	base, ok := TfdtBaseTime(reparsed.Payload(reparsed.Find(rtraf, TypeTfdt)))
	require.True(t, ok)
	assert.Equal(t, uint64(0x0102030405060708), base)
}

func TestTree_SetChildrenDetaches(t *testing.T) {
	tree, err := Parse(makeFragment())
	require.NoError(t, err)

	moof := tree.Find(None, TypeMoof)
	traf := tree.Find(moof, TypeTraf)
	trun := tree.Find(traf, TypeTrun)
	tfhd := tree.Find(traf, TypeTfhd)

	tree.SetChildren(traf, []int{trun})
	assert.Equal(t, None, tree.Parent(tfhd))
	assert.Equal(t, traf, tree.Parent(trun))

	out, err := tree.Bytes()
	require.NoError(t, err)
	assert.Len(t, out, len(makeFragment())-16)
}

func TestTree_RemoveChild(t *testing.T) {
	tree, err := Parse(makeFragment())
	require.NoError(t, err)

	mdat := tree.Find(None, TypeMdat)
	tree.RemoveChild(None, mdat)
	assert.Equal(t, []string{"moof"}, types(tree, tree.Roots()))
	assert.Equal(t, None, tree.Find(None, TypeMdat))
}

func TestTree_FindUUID(t *testing.T) {
	piff := concat(UserTypePIFFSampleEncryption[:], []byte{0, 0, 0, 0, 0, 0, 0, 0})
	tfxd := concat(UserTypeTfxd[:], []byte{1, 0, 0, 0})
	traf := makeBox("traf", concat(makeBox("uuid", tfxd), makeBox("uuid", piff)))

	tree, err := Parse(traf)
	require.NoError(t, err)
	root := tree.Find(None, TypeTraf)

	got := tree.FindUUID(root, UserTypePIFFSampleEncryption)
	require.NotEqual(t, None, got)
	ut, ok := tree.UserType(got)
	assert.True(t, ok)
	assert.Equal(t, UserTypePIFFSampleEncryption, ut)

	assert.Equal(t, None, tree.FindUUID(root, UserTypeTfrf))
}

func TestBuilders(t *testing.T) {
	tests := []struct {
		name string
		box  Box
		want []byte
	}{
		{
			name: "tfdt",
			box:  NewTfdt(90000),
			want: []byte{1, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0x5f, 0x90},
		},
		{
			name: "saiz",
			box:  NewSaiz(3, DefaultSampleInfoSize),
			want: []byte{0, 0, 0, 0, 0, 0, 0, 0, 3, 16, 16, 16},
		},
		{
			name: "saio",
			box:  NewSaio(0x40),
			want: []byte{0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0x40},
		},
		{
			name: "senc",
			box:  NewSenc(SencSubsamplePresent, 1, []byte{0xaa, 0xbb}),
			want: []byte{0, 0, 0, 2, 0, 0, 0, 1, 0xaa, 0xbb},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.box.Payload); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFlags(t *testing.T) {
	payload := []byte{1, 0x00, 0x03, 0x01, 0xff}
	assert.Equal(t, uint8(1), Version(payload))
	assert.Equal(t, uint32(0x000301), Flags(payload))

	SetFlags(payload, TfhdDefaultBaseIsMoof)
	assert.Equal(t, []byte{1, 0x02, 0x00, 0x00, 0xff}, payload)

	assert.Equal(t, uint32(0), Flags([]byte{1}))
}

func TestTfdtBaseTime(t *testing.T) {
	v0 := []byte{0, 0, 0, 0, 0, 0, 0x03, 0xe8}
	got, ok := TfdtBaseTime(v0)
	assert.True(t, ok)
	assert.Equal(t, uint64(1000), got)

	_, ok = TfdtBaseTime([]byte{1, 0, 0, 0, 1})
	assert.False(t, ok)
}
