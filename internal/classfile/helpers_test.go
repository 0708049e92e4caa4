package classfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func newClass(name string, major uint16) *Class {
	return &Class{
		Major:  major,
		Pool:   NewPool(),
		Access: AccPublic,
		Name:   name,
		Super:  ObjectClass,
	}
}

func addMethod(c *Class, access uint16, name, desc string, build func(l *InsnList)) *Member {
	var l InsnList
	build(&l)
	m := &Member{Access: access, Name: name, Desc: desc, Code: &Code{Insns: l.Insns()}}
	c.Methods = append(c.Methods, m)
	return m
}

func encode(t *testing.T, c *Class, h Hierarchy) []byte {
	t.Helper()
	image, err := Encode(c, h)
	require.NoError(t, err)
	return image
}

// codeAttribute returns the raw body of the named attribute inside the Code
// attribute of m, or nil.
func codeAttribute(t *testing.T, pool *Pool, m *Member, name string) []byte {
	t.Helper()
	r := &reader{buf: m.Code.raw}
	r.u16()
	r.u16()
	r.skip(int(r.u32()))
	r.skip(8 * int(r.u16()))
	attrs, err := readAttributes(r, pool)
	require.NoError(t, err)
	for _, a := range attrs {
		if a.Name == name {
			return a.Data
		}
	}
	return nil
}

// codeBytes returns the bytecode array of m.
func codeBytes(t *testing.T, m *Member) []byte {
	t.Helper()
	r := &reader{buf: m.Code.raw}
	r.u16()
	r.u16()
	b := r.bytes(int(r.u32()))
	require.NoError(t, r.err)
	return b
}

// replaceUtf8 swaps the Utf8 constant from for to in an encoded class file.
func replaceUtf8(t *testing.T, image []byte, from, to string) []byte {
	t.Helper()
	entry := func(s string) []byte {
		return append([]byte{TagUtf8, byte(len(s) >> 8), byte(len(s))}, s...)
	}
	require.Equal(t, 1, bytes.Count(image, entry(from)), from)
	return bytes.Replace(image, entry(from), entry(to), 1)
}

type fakeHierarchy struct {
	calls  [][2]string
	result string
}

func (h *fakeHierarchy) CommonSuperClass(a, b string) (string, error) {
	h.calls = append(h.calls, [2]string{a, b})
	if h.result == "" {
		return ObjectClass, nil
	}
	return h.result, nil
}
