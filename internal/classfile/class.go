// Package classfile decodes and re-encodes Java class files.
//
// Decoding keeps the constant pool intact and turns every Code attribute
// into a label-based instruction list. Encoding writes untouched methods
// back byte for byte; modified methods are laid out again, their branches
// relocated, and their maximums and stack map frames recomputed.
package classfile

import (
	"fmt"
)

// Magic is the first four bytes of every class file.
const Magic = 0xCAFEBABE

// Attribute is an attribute kept as raw bytes.
type Attribute struct {
	Name string
	Data []byte
}

// Member is a field or a method.
type Member struct {
	Access     uint16
	Name       string
	Desc       string
	Attributes []Attribute // everything except Code
	Code       *Code       // methods with a body only
}

// Class is a decoded class file.
type Class struct {
	Minor, Major uint16
	Pool         *Pool
	Access       uint16
	Name         string
	Super        string // empty for java/lang/Object and module-info
	Interfaces   []string
	Fields       []*Member
	Methods      []*Member
	Attributes   []Attribute
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool {
	return c.Access&AccInterface != 0
}

// Method returns the method with the given name and descriptor, or nil.
func (c *Class) Method(name, desc string) *Member {
	for _, m := range c.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}
	return nil
}

// HasMethodNamed reports whether any method is called name.
func (c *Class) HasMethodNamed(name string) bool {
	for _, m := range c.Methods {
		if m.Name == name {
			return true
		}
	}
	return false
}

func readPrologue(r *reader) (minor, major uint16, err error) {
	magic := r.u32()
	minor, major = r.u16(), r.u16()
	if r.err != nil {
		return 0, 0, r.err
	}
	if magic != Magic {
		return 0, 0, fmt.Errorf("bad magic 0x%08x", magic)
	}
	return minor, major, nil
}

// Version returns the major version recorded in a class file image.
func Version(image []byte) (uint16, error) {
	_, major, err := readPrologue(&reader{buf: image})
	return major, err
}

// MemberRefs parses only the constant pool of image and returns its field
// and method references. It does not look at any method body.
func MemberRefs(image []byte) ([]MemberRef, error) {
	r := &reader{buf: image}
	if _, _, err := readPrologue(r); err != nil {
		return nil, err
	}
	pool, err := readPool(r)
	if err != nil {
		return nil, err
	}
	return pool.MemberRefs()
}

// Header is the part of a class file that describes its place in the type
// hierarchy.
type Header struct {
	Access     uint16
	Name       string
	Super      string
	Interfaces []string
}

// ReadHeader decodes the class name, superclass and interfaces without
// reading fields, methods or attributes.
func ReadHeader(image []byte) (Header, error) {
	r := &reader{buf: image}
	if _, _, err := readPrologue(r); err != nil {
		return Header{}, err
	}
	pool, err := readPool(r)
	if err != nil {
		return Header{}, err
	}
	return readHeader(r, pool)
}

func readHeader(r *reader, pool *Pool) (Header, error) {
	h := Header{Access: r.u16()}
	this, super := r.u16(), r.u16()
	n := int(r.u16())
	ifaces := make([]uint16, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		ifaces = append(ifaces, r.u16())
	}
	if r.err != nil {
		return Header{}, r.err
	}
	var err error
	if h.Name, err = pool.ClassName(this); err != nil {
		return Header{}, fmt.Errorf("this_class: %w", err)
	}
	if super != 0 {
		if h.Super, err = pool.ClassName(super); err != nil {
			return Header{}, fmt.Errorf("super_class: %w", err)
		}
	}
	for _, i := range ifaces {
		name, err := pool.ClassName(i)
		if err != nil {
			return Header{}, fmt.Errorf("interfaces: %w", err)
		}
		h.Interfaces = append(h.Interfaces, name)
	}
	return h, nil
}

// Parse decodes a complete class file.
func Parse(image []byte) (*Class, error) {
	r := &reader{buf: image}
	c := &Class{}
	var err error
	if c.Minor, c.Major, err = readPrologue(r); err != nil {
		return nil, err
	}
	if c.Pool, err = readPool(r); err != nil {
		return nil, fmt.Errorf("constant pool: %w", err)
	}
	h, err := readHeader(r, c.Pool)
	if err != nil {
		return nil, err
	}
	c.Access, c.Name, c.Super, c.Interfaces = h.Access, h.Name, h.Super, h.Interfaces

	if c.Fields, err = readMembers(r, c.Pool, false); err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	if c.Methods, err = readMembers(r, c.Pool, true); err != nil {
		return nil, fmt.Errorf("methods: %w", err)
	}
	if c.Attributes, err = readAttributes(r, c.Pool); err != nil {
		return nil, fmt.Errorf("class attributes: %w", err)
	}
	if r.pos != len(image) {
		return nil, fmt.Errorf("%d trailing bytes after class file", len(image)-r.pos)
	}
	return c, nil
}

func readMembers(r *reader, pool *Pool, methods bool) ([]*Member, error) {
	n := int(r.u16())
	members := make([]*Member, 0, n)
	for i := 0; i < n; i++ {
		m := &Member{Access: r.u16()}
		nameIdx, descIdx := r.u16(), r.u16()
		if r.err != nil {
			return nil, r.err
		}
		var err error
		if m.Name, err = pool.Utf8(nameIdx); err != nil {
			return nil, err
		}
		if m.Desc, err = pool.Utf8(descIdx); err != nil {
			return nil, err
		}
		attrs, err := readAttributes(r, pool)
		if err != nil {
			return nil, fmt.Errorf("%s%s: %w", m.Name, m.Desc, err)
		}
		for _, a := range attrs {
			if methods && a.Name == "Code" {
				if m.Code, err = decodeCode(a.Data, pool); err != nil {
					return nil, fmt.Errorf("%s%s: %w", m.Name, m.Desc, err)
				}
				continue
			}
			m.Attributes = append(m.Attributes, a)
		}
		members = append(members, m)
	}
	return members, r.err
}

func readAttributes(r *reader, pool *Pool) ([]Attribute, error) {
	n := int(r.u16())
	var attrs []Attribute
	for i := 0; i < n; i++ {
		nameIdx := r.u16()
		data := r.bytes(int(r.u32()))
		if r.err != nil {
			return nil, r.err
		}
		name, err := pool.Utf8(nameIdx)
		if err != nil {
			return nil, fmt.Errorf("attribute name: %w", err)
		}
		attrs = append(attrs, Attribute{Name: name, Data: data})
	}
	return attrs, r.err
}
