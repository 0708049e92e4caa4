package classfile

import (
	"fmt"

	"fortio.org/safecast"
)

// Constant pool tags.
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

// Constant is one constant pool entry. Which fields are meaningful depends
// on Tag: Utf8 uses Str, numeric constants use Value, reference constants
// use A and B, MethodHandle uses Kind and A.
type Constant struct {
	Tag   uint8
	Str   string
	Value uint64
	Kind  uint8
	A, B  uint16
}

func (c Constant) wide() bool {
	return c.Tag == TagLong || c.Tag == TagDouble
}

// Pool is a constant pool. Entries read from a class file keep their
// indexes; new entries are only ever appended, so raw attributes that
// reference the pool stay valid after rewriting.
type Pool struct {
	entries []Constant // index 0 and the slot after a wide constant are unused
	index   map[Constant]uint16
}

// NewPool returns an empty constant pool.
func NewPool() *Pool {
	return &Pool{entries: make([]Constant, 1)}
}

func readPool(r *reader) (*Pool, error) {
	count := int(r.u16())
	if r.err != nil {
		return nil, r.err
	}
	p := &Pool{entries: make([]Constant, count)}
	for i := 1; i < count; i++ {
		c := Constant{Tag: r.u8()}
		switch c.Tag {
		case TagUtf8:
			c.Str = decodeModifiedUTF8(r.bytes(int(r.u16())))
		case TagInteger, TagFloat:
			c.Value = uint64(r.u32())
		case TagLong, TagDouble:
			c.Value = r.u64()
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			c.A = r.u16()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			c.A = r.u16()
			c.B = r.u16()
		case TagMethodHandle:
			c.Kind = r.u8()
			c.A = r.u16()
		default:
			if r.err != nil {
				return nil, r.err
			}
			return nil, fmt.Errorf("constant pool entry %d: unknown tag %d", i, c.Tag)
		}
		if r.err != nil {
			return nil, r.err
		}
		p.entries[i] = c
		if c.wide() {
			i++
		}
	}
	return p, nil
}

func (p *Pool) write(w *writer) {
	w.count(len(p.entries), "constant pool")
	for i := 1; i < len(p.entries); i++ {
		c := p.entries[i]
		w.u8(c.Tag)
		switch c.Tag {
		case TagUtf8:
			b := encodeModifiedUTF8(c.Str)
			w.count(len(b), "utf8")
			w.raw(b)
		case TagInteger, TagFloat:
			w.u32(uint32(c.Value))
		case TagLong, TagDouble:
			w.u64(c.Value)
			i++
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			w.u16(c.A)
		case TagMethodHandle:
			w.u8(c.Kind)
			w.u16(c.A)
		default:
			w.u16(c.A)
			w.u16(c.B)
		}
	}
}

// Len returns the constant_pool_count value of the pool.
func (p *Pool) Len() int {
	return len(p.entries)
}

// At returns the entry at index i.
func (p *Pool) At(i uint16) (Constant, error) {
	if i == 0 || int(i) >= len(p.entries) || p.entries[i].Tag == 0 {
		return Constant{}, fmt.Errorf("invalid constant pool index %d", i)
	}
	return p.entries[i], nil
}

func (p *Pool) expect(i uint16, tag uint8) (Constant, error) {
	c, err := p.At(i)
	if err != nil {
		return c, err
	}
	if c.Tag != tag {
		return c, fmt.Errorf("constant pool index %d: tag %d, want %d", i, c.Tag, tag)
	}
	return c, nil
}

// Utf8 returns the string stored at index i.
func (p *Pool) Utf8(i uint16) (string, error) {
	c, err := p.expect(i, TagUtf8)
	return c.Str, err
}

// ClassName returns the internal name referenced by the Class entry at i.
func (p *Pool) ClassName(i uint16) (string, error) {
	c, err := p.expect(i, TagClass)
	if err != nil {
		return "", err
	}
	return p.Utf8(c.A)
}

// NameAndType resolves the NameAndType entry at i.
func (p *Pool) NameAndType(i uint16) (name, desc string, err error) {
	c, err := p.expect(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = p.Utf8(c.A); err != nil {
		return "", "", err
	}
	desc, err = p.Utf8(c.B)
	return name, desc, err
}

// MemberRef is a resolved Fieldref, Methodref or InterfaceMethodref.
type MemberRef struct {
	Tag   uint8
	Owner string
	Name  string
	Desc  string
}

// IsField reports whether the reference names a field.
func (r MemberRef) IsField() bool {
	return r.Tag == TagFieldref
}

// Member resolves the member reference at index i.
func (p *Pool) Member(i uint16) (MemberRef, error) {
	c, err := p.At(i)
	if err != nil {
		return MemberRef{}, err
	}
	if c.Tag != TagFieldref && c.Tag != TagMethodref && c.Tag != TagInterfaceMethodref {
		return MemberRef{}, fmt.Errorf("constant pool index %d: tag %d is not a member reference", i, c.Tag)
	}
	ref := MemberRef{Tag: c.Tag}
	if ref.Owner, err = p.ClassName(c.A); err != nil {
		return MemberRef{}, err
	}
	if ref.Name, ref.Desc, err = p.NameAndType(c.B); err != nil {
		return MemberRef{}, err
	}
	return ref, nil
}

// MemberRefs returns every field and method reference in the pool in index
// order.
func (p *Pool) MemberRefs() ([]MemberRef, error) {
	var refs []MemberRef
	for i := 1; i < len(p.entries); i++ {
		switch p.entries[i].Tag {
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			ref, err := p.Member(uint16(i))
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func (p *Pool) add(c Constant) (uint16, error) {
	if p.index == nil {
		p.index = make(map[Constant]uint16, len(p.entries))
		for i := len(p.entries) - 1; i > 0; i-- {
			if p.entries[i].Tag != 0 {
				p.index[p.entries[i]] = uint16(i)
			}
		}
	}
	if i, ok := p.index[c]; ok {
		return i, nil
	}
	i, err := safecast.Conv[uint16](len(p.entries))
	if err != nil || i == 0xffff {
		return 0, fmt.Errorf("%w: constant pool full", ErrTooLarge)
	}
	p.entries = append(p.entries, c)
	if c.wide() {
		p.entries = append(p.entries, Constant{})
	}
	p.index[c] = i
	return i, nil
}

// AddUtf8 returns the index of a Utf8 entry holding s, appending one if
// needed.
func (p *Pool) AddUtf8(s string) (uint16, error) {
	return p.add(Constant{Tag: TagUtf8, Str: s})
}

// AddClass returns the index of a Class entry for the internal name.
func (p *Pool) AddClass(name string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: TagClass, A: n})
}

// AddInteger returns the index of an Integer entry.
func (p *Pool) AddInteger(v int32) (uint16, error) {
	return p.add(Constant{Tag: TagInteger, Value: uint64(uint32(v))})
}

// AddString returns the index of a String entry.
func (p *Pool) AddString(s string) (uint16, error) {
	n, err := p.AddUtf8(s)
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: TagString, A: n})
}

// AddMember returns the index of a member reference entry. tag must be
// TagFieldref, TagMethodref or TagInterfaceMethodref.
func (p *Pool) AddMember(tag uint8, owner, name, desc string) (uint16, error) {
	cls, err := p.AddClass(owner)
	if err != nil {
		return 0, err
	}
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.AddUtf8(desc)
	if err != nil {
		return 0, err
	}
	nat, err := p.add(Constant{Tag: TagNameAndType, A: n, B: d})
	if err != nil {
		return 0, err
	}
	return p.add(Constant{Tag: tag, A: cls, B: nat})
}
