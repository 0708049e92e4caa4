package bytecompat

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pboyd/bytecompat/internal/classfile"
)

const (
	widget   = "org/example/Widget"
	client   = "org/example/Client"
	listDesc = "Ljava/util/List;"
	arrDesc  = "Ljava/util/ArrayList;"
)

// classImage assembles a class file with one static method per entry of
// methods, keyed by "name desc".
func classImage(t *testing.T, name string, major uint16, methods map[string]func(*classfile.InsnList)) []byte {
	t.Helper()
	return classImageIn(t, nil, name, major, methods)
}

// classImageIn is classImage for methods whose frames merge reference types
// that locator must resolve.
func classImageIn(t *testing.T, locator Locator, name string, major uint16, methods map[string]func(*classfile.InsnList)) []byte {
	t.Helper()
	c := &classfile.Class{
		Major:  major,
		Pool:   classfile.NewPool(),
		Access: classfile.AccPublic,
		Name:   name,
		Super:  classfile.ObjectClass,
	}
	for key, build := range methods {
		var nameDesc [2]string
		_, err := fmt.Sscan(key, &nameDesc[0], &nameDesc[1])
		require.NoError(t, err)
		var l classfile.InsnList
		build(&l)
		c.Methods = append(c.Methods, &classfile.Member{
			Access: classfile.AccPublic | classfile.AccStatic,
			Name:   nameDesc[0],
			Desc:   nameDesc[1],
			Code:   &classfile.Code{Insns: l.Insns()},
		})
	}
	var h classfile.Hierarchy
	if locator != nil {
		h = newResolver(c, locator)
	}
	image, err := classfile.Encode(c, h)
	require.NoError(t, err)
	return image
}

// readsItems is "static List read(Widget w) { return w.items; }".
func readsItems(l *classfile.InsnList) {
	l.Var(classfile.Aload, 0)
	l.Field(classfile.Getfield, widget, "items", listDesc)
	l.Op(classfile.Areturn)
}

// writesItems is "static void write(Widget w, List v) { w.items = v; }".
func writesItems(l *classfile.InsnList) {
	l.Var(classfile.Aload, 0)
	l.Var(classfile.Aload, 1)
	l.Field(classfile.Putfield, widget, "items", listDesc)
	l.Op(classfile.Return)
}

// listing returns the instructions of a method in a compact form, skipping
// labels and jump targets.
func listing(t *testing.T, c *classfile.Class, name, desc string) []string {
	t.Helper()
	m := c.Method(name, desc)
	require.NotNil(t, m, "%s%s", name, desc)
	require.NotNil(t, m.Code)

	var out []string
	for _, in := range m.Code.Insns {
		switch op := in.Op; {
		case op == classfile.OpLabel:
		case op.IsFieldAccess() || op.IsInvoke():
			out = append(out, fmt.Sprintf("%s %s.%s:%s", op, in.Owner, in.Name, in.Desc))
		case op == classfile.Checkcast:
			out = append(out, fmt.Sprintf("%s %s", op, in.Owner))
		case op == classfile.Ldc:
			cls, err := c.Pool.ClassName(in.Index)
			require.NoError(t, err)
			out = append(out, fmt.Sprintf("%s %s", op, cls))
		case op == classfile.Aload || op == classfile.Iload:
			out = append(out, fmt.Sprintf("%s %d", op, in.Var))
		default:
			out = append(out, op.String())
		}
	}
	return out
}

// replaceUtf8 swaps the Utf8 constant from for to in an encoded class file.
func replaceUtf8(t *testing.T, image []byte, from, to string) []byte {
	t.Helper()
	entry := func(s string) []byte {
		return append([]byte{classfile.TagUtf8, byte(len(s) >> 8), byte(len(s))}, s...)
	}
	require.Equal(t, 1, bytes.Count(image, entry(from)), from)
	return bytes.Replace(image, entry(from), entry(to), 1)
}

func parse(t *testing.T, image []byte) *classfile.Class {
	t.Helper()
	c, err := classfile.Parse(image)
	require.NoError(t, err)
	return c
}

// testLogger returns a logger writing to buf at debug level.
func testLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func itemsField(was ...string) Declaration {
	return Declaration{
		Recipe:     "adapt-field",
		Type:       widget,
		Member:     "items",
		Descriptor: arrDesc,
		Was:        was,
	}
}
