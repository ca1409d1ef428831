package bmff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// None is the index used for "no box", and as the parent of top-level boxes.
const None = -1

// headerSize is the size of a compact box header (32-bit size + type).
const headerSize = 8

// Errors returned by parsing and serialization.
var (
	ErrTruncated   = errors.New("box extends past end of data")
	ErrBoxTooLarge = errors.New("box exceeds 32-bit size field")
)

// Box is a node of the arena. Container boxes carry children, every other box
// carries its payload (the bytes after the 8-byte header).
type Box struct {
	Type    Type
	Payload []byte

	parent   int
	children []int
}

// Tree is an arena of boxes with an ordered list of top-level boxes.
type Tree struct {
	boxes []Box
	roots []int
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{}
}

// Parse builds a tree from data in a single pass. Payloads are copied, so the
// tree does not alias data.
func Parse(data []byte) (*Tree, error) {
	t := NewTree()
	roots, err := t.parseRange(data, 0, None)
	if err != nil {
		return nil, err
	}
	t.roots = roots
	return t, nil
}

func (t *Tree) parseRange(data []byte, base, parent int) ([]int, error) {
	var ids []int
	pos := 0
	for pos < len(data) {
		remaining := len(data) - pos
		if remaining < headerSize {
			return nil, fmt.Errorf("%w: %d trailing bytes at offset %d", ErrTruncated, remaining, base+pos)
		}

		size := uint64(binary.BigEndian.Uint32(data[pos:]))
		var typ Type
		copy(typ[:], data[pos+4:pos+8])
		hdr := headerSize

		switch size {
		case 1:
			if remaining < 16 {
				return nil, fmt.Errorf("%w: largesize header of %s at offset %d", ErrTruncated, typ, base+pos)
			}
			size = binary.BigEndian.Uint64(data[pos+8:])
			hdr = 16
		case 0:
			size = uint64(remaining)
		}

		if size < uint64(hdr) || size > uint64(remaining) {
			return nil, fmt.Errorf("%w: %s declares %d bytes at offset %d, %d available",
				ErrTruncated, typ, size, base+pos, remaining)
		}

		end := pos + int(size)
		id := t.Add(Box{Type: typ})
		t.boxes[id].parent = parent

		if IsContainer(typ) {
			children, err := t.parseRange(data[pos+hdr:end], base+pos+hdr, id)
			if err != nil {
				return nil, err
			}
			t.boxes[id].children = children
		} else {
			t.boxes[id].Payload = append([]byte(nil), data[pos+hdr:end]...)
		}

		ids = append(ids, id)
		pos = end
	}
	return ids, nil
}

// Add stores b as a detached box and returns its index. Attach it with
// AppendChild, SetChildren or SetRoots.
func (t *Tree) Add(b Box) int {
	b.parent = None
	b.children = nil
	t.boxes = append(t.boxes, b)
	return len(t.boxes) - 1
}

// Box returns the box at id.
func (t *Tree) Box(id int) *Box {
	return &t.boxes[id]
}

// Type returns the type of the box at id.
func (t *Tree) Type(id int) Type {
	return t.boxes[id].Type
}

// Payload returns the payload of the box at id. The slice is owned by the tree
// and may be modified in place.
func (t *Tree) Payload(id int) []byte {
	return t.boxes[id].Payload
}

// SetPayload replaces the payload of the box at id.
func (t *Tree) SetPayload(id int, payload []byte) {
	t.boxes[id].Payload = payload
}

// Parent returns the parent of id, or None for top-level and detached boxes.
func (t *Tree) Parent(id int) int {
	return t.boxes[id].parent
}

// Roots returns the top-level boxes in order.
func (t *Tree) Roots() []int {
	return append([]int(nil), t.roots...)
}

// Children returns the children of id in order. Children(None) returns the roots.
func (t *Tree) Children(id int) []int {
	if id == None {
		return t.Roots()
	}
	return append([]int(nil), t.boxes[id].children...)
}

// Find returns the first child of parent with the given type, or None.
// A parent of None searches the top-level boxes.
func (t *Tree) Find(parent int, typ Type) int {
	for _, id := range t.childList(parent) {
		if t.boxes[id].Type == typ {
			return id
		}
	}
	return None
}

// FindAll returns every child of parent with the given type.
func (t *Tree) FindAll(parent int, typ Type) []int {
	var ids []int
	for _, id := range t.childList(parent) {
		if t.boxes[id].Type == typ {
			ids = append(ids, id)
		}
	}
	return ids
}

// FindAfter returns the first top-level box of the given type that follows
// the top-level box after, or None.
func (t *Tree) FindAfter(after int, typ Type) int {
	seen := false
	for _, id := range t.roots {
		if id == after {
			seen = true
			continue
		}
		if seen && t.boxes[id].Type == typ {
			return id
		}
	}
	return None
}

// FindUUID returns the first uuid child of parent carrying the given extended type.
func (t *Tree) FindUUID(parent int, ut UserType) int {
	for _, id := range t.FindAll(parent, TypeUUID) {
		if got, ok := t.UserType(id); ok && got == ut {
			return id
		}
	}
	return None
}

// UserType returns the extended type of a uuid box.
func (t *Tree) UserType(id int) (UserType, bool) {
	var ut UserType
	b := &t.boxes[id]
	if b.Type != TypeUUID || len(b.Payload) < len(ut) {
		return ut, false
	}
	copy(ut[:], b.Payload)
	return ut, true
}

func (t *Tree) childList(parent int) []int {
	if parent == None {
		return t.roots
	}
	return t.boxes[parent].children
}

// AppendChild attaches the detached box child as the last child of parent.
func (t *Tree) AppendChild(parent, child int) {
	t.boxes[child].parent = parent
	t.boxes[parent].children = append(t.boxes[parent].children, child)
}

// SetChildren replaces the children of parent. Previous children that are not
// in ids become detached and are no longer serialized.
func (t *Tree) SetChildren(parent int, ids []int) {
	for _, old := range t.boxes[parent].children {
		t.boxes[old].parent = None
	}
	for _, id := range ids {
		t.boxes[id].parent = parent
	}
	t.boxes[parent].children = append([]int(nil), ids...)
}

// RemoveChild detaches child from parent. A parent of None removes a top-level box.
func (t *Tree) RemoveChild(parent, child int) {
	list := t.childList(parent)
	kept := make([]int, 0, len(list))
	for _, id := range list {
		if id != child {
			kept = append(kept, id)
		}
	}
	if parent == None {
		t.roots = kept
	} else {
		t.boxes[parent].children = kept
	}
	t.boxes[child].parent = None
}

// SetRoots replaces the ordered list of top-level boxes.
func (t *Tree) SetRoots(ids []int) {
	for _, id := range ids {
		t.boxes[id].parent = None
	}
	t.roots = append([]int(nil), ids...)
}

// Layout holds the serialized size and absolute offset of every attached box.
type Layout struct {
	sizes   map[int]int
	offsets map[int]int
	total   int
}

// Size returns the serialized size of box id, header included.
func (l *Layout) Size(id int) int {
	return l.sizes[id]
}

// Offset returns the absolute offset of box id in the serialized output.
func (l *Layout) Offset(id int) int {
	return l.offsets[id]
}

// Len returns the total serialized length.
func (l *Layout) Len() int {
	return l.total
}

// Layout computes sizes bottom-up and offsets top-down for every attached box.
func (t *Tree) Layout() (*Layout, error) {
	l := &Layout{
		sizes:   make(map[int]int),
		offsets: make(map[int]int),
	}
	pos := 0
	for _, id := range t.roots {
		size, err := t.measure(l, id)
		if err != nil {
			return nil, err
		}
		t.place(l, id, pos)
		pos += size
	}
	l.total = pos
	return l, nil
}

func (t *Tree) measure(l *Layout, id int) (int, error) {
	b := &t.boxes[id]
	size := headerSize + len(b.Payload)
	for _, child := range b.children {
		n, err := t.measure(l, child)
		if err != nil {
			return 0, err
		}
		size += n
	}
	if size > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %s is %d bytes", ErrBoxTooLarge, b.Type, size)
	}
	l.sizes[id] = size
	return size, nil
}

func (t *Tree) place(l *Layout, id, offset int) {
	l.offsets[id] = offset
	pos := offset + headerSize + len(t.boxes[id].Payload)
	for _, child := range t.boxes[id].children {
		t.place(l, child, pos)
		pos += l.sizes[child]
	}
}

// Bytes serializes the attached boxes in one walk. Every box is written with
// a 32-bit size field.
func (t *Tree) Bytes() ([]byte, error) {
	l, err := t.Layout()
	if err != nil {
		return nil, err
	}
	out := make([]byte, l.total)
	for _, id := range t.roots {
		t.write(out, l, id)
	}
	return out, nil
}

func (t *Tree) write(out []byte, l *Layout, id int) {
	b := &t.boxes[id]
	off := l.offsets[id]
	binary.BigEndian.PutUint32(out[off:], uint32(l.sizes[id]))
	copy(out[off+4:], b.Type[:])
	copy(out[off+headerSize:], b.Payload)
	for _, child := range b.children {
		t.write(out, l, child)
	}
}
