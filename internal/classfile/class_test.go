package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addClass(c *Class) {
	addMethod(c, AccPublic|AccStatic, "add", "(II)I", func(l *InsnList) {
		l.Var(Iload, 0)
		l.Var(Iload, 1)
		l.Op(Iadd)
		l.Op(Ireturn)
	})
}

func TestEncodeParse(t *testing.T) {
	assert := assert.New(t)

	c := newClass("demo/Adder", 52)
	c.Interfaces = []string{"java/io/Serializable"}
	c.Fields = append(c.Fields, &Member{Access: AccPrivate, Name: "count", Desc: "I"})
	addClass(c)
	image := encode(t, c, nil)

	parsed, err := Parse(image)
	require.NoError(t, err)
	assert.Equal(uint16(52), parsed.Major)
	assert.Equal("demo/Adder", parsed.Name)
	assert.Equal(ObjectClass, parsed.Super)
	assert.Equal([]string{"java/io/Serializable"}, parsed.Interfaces)
	require.Len(t, parsed.Fields, 1)
	assert.Equal("count", parsed.Fields[0].Name)

	m := parsed.Method("add", "(II)I")
	require.NotNil(t, m)
	assert.Equal(2, m.Code.MaxStack)
	assert.Equal(2, m.Code.MaxLocals)
	assert.False(m.Code.Modified())
	assert.Equal([]byte{byte(Iload0), byte(Iload1), byte(Iadd), byte(Ireturn)}, codeBytes(t, m))
	assert.Nil(parsed.Method("add", "(JJ)J"))
	assert.True(parsed.HasMethodNamed("add"))
}

func TestEncodeUnmodifiedIsIdentical(t *testing.T) {
	c := newClass("demo/Adder", 52)
	addClass(c)
	image := encode(t, c, nil)

	parsed, err := Parse(image)
	require.NoError(t, err)
	again, err := Encode(parsed, nil)
	require.NoError(t, err)
	assert.Equal(t, image, again)
}

func TestParseErrors(t *testing.T) {
	c := newClass("demo/Adder", 52)
	addClass(c)
	image := encode(t, c, nil)

	t.Run("truncated", func(t *testing.T) {
		for _, n := range []int{0, 3, 9, len(image) / 2, len(image) - 1} {
			_, err := Parse(image[:n])
			assert.ErrorIs(t, err, ErrTruncated, "length %d", n)
		}
	})

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte{0xca, 0xfe, 0xd0, 0x0d}, image[4:]...)
		_, err := Parse(bad)
		assert.ErrorContains(t, err, "bad magic")
	})

	t.Run("trailing bytes", func(t *testing.T) {
		_, err := Parse(append(append([]byte{}, image...), 0))
		assert.ErrorContains(t, err, "trailing")
	})

	t.Run("malformed descriptor", func(t *testing.T) {
		tests := map[string]struct {
			build    func(l *InsnList)
			from, to string
			err      string
		}{
			"empty field": {
				build: func(l *InsnList) { l.Field(Getstatic, "demo/Config", "limit", "Ldemo/Limit;") },
				from:  "Ldemo/Limit;",
				err:   `getstatic at 0: malformed field descriptor ""`,
			},
			"unterminated field": {
				build: func(l *InsnList) { l.Field(Getstatic, "demo/Config", "limit", "Ldemo/Limit;") },
				from:  "Ldemo/Limit;",
				to:    "Ldemo/Limit",
				err:   "malformed field descriptor",
			},
			"method": {
				build: func(l *InsnList) { l.Invoke(Invokestatic, "demo/Config", "load", "()Ldemo/Limit;", false) },
				from:  "()Ldemo/Limit;",
				to:    "()",
				err:   "malformed method descriptor",
			},
		}
		for name, tc := range tests {
			t.Run(name, func(t *testing.T) {
				c := newClass("demo/Reader", 52)
				addMethod(c, AccPublic|AccStatic, "f", "()V", func(l *InsnList) {
					tc.build(l)
					l.Op(Pop)
					l.Op(Return)
				})
				bad := replaceUtf8(t, encode(t, c, nil), tc.from, tc.to)
				var err error
				assert.NotPanics(t, func() { _, err = Parse(bad) })
				assert.ErrorContains(t, err, tc.err)
			})
		}
	})
}

func TestHeaderAndRefs(t *testing.T) {
	assert := assert.New(t)

	c := newClass("demo/Caller", 49)
	addMethod(c, AccPublic|AccStatic, "run", "()I", func(l *InsnList) {
		l.Field(Getstatic, "demo/Config", "limit", "I")
		l.Invoke(Invokestatic, "demo/Util", "twice", "(I)I", false)
		l.Op(Ireturn)
	})
	image := encode(t, c, nil)

	major, err := Version(image)
	require.NoError(t, err)
	assert.Equal(uint16(49), major)

	h, err := ReadHeader(image)
	require.NoError(t, err)
	assert.Equal("demo/Caller", h.Name)
	assert.Equal(ObjectClass, h.Super)

	refs, err := MemberRefs(image)
	require.NoError(t, err)
	assert.ElementsMatch([]MemberRef{
		{Tag: TagFieldref, Owner: "demo/Config", Name: "limit", Desc: "I"},
		{Tag: TagMethodref, Owner: "demo/Util", Name: "twice", Desc: "(I)I"},
	}, refs)
}

func TestShortForms(t *testing.T) {
	assert := assert.New(t)

	c := newClass("demo/Locals", 49)
	addMethod(c, AccPublic|AccStatic, "f", "()V", func(l *InsnList) {
		l.Int(300)
		l.Var(Istore, 3)
		l.Int(7)
		l.Var(Istore, 4)
		l.Int(-1)
		l.Var(Istore, 300)
		l.Add(Insn{Op: Iinc, Var: 4, Int: 1000})
		l.Op(Return)
	})
	image := encode(t, c, nil)
	parsed, err := Parse(image)
	require.NoError(t, err)
	m := parsed.Method("f", "()V")
	assert.Equal([]byte{
		byte(Sipush), 0x01, 0x2c,
		byte(Istore3),
		byte(Bipush), 7,
		byte(Istore), 4,
		byte(IconstM1),
		byte(Wide), byte(Istore), 0x01, 0x2c,
		byte(Wide), byte(Iinc), 0x00, 0x04, 0x03, 0xe8,
		byte(Return),
	}, codeBytes(t, m))
	assert.Equal(301, m.Code.MaxLocals)

	var ops []Opcode
	for _, in := range m.Code.Insns {
		ops = append(ops, in.Op)
	}
	assert.Equal([]Opcode{Sipush, Istore, Bipush, Istore, IconstM1, Istore, Iinc, Return}, ops)
	assert.Equal(300, m.Code.Insns[5].Var)
}

func TestDisassemble(t *testing.T) {
	c := newClass("demo/Adder", 52)
	addClass(c)
	out, err := Disassemble(encode(t, c, nil))
	require.NoError(t, err)
	assert.Contains(t, out, "class demo/Adder version 52.0")
	assert.Contains(t, out, "add(II)I stack=2 locals=2")
	assert.Contains(t, out, "     0\t1a")
	assert.Contains(t, out, "iadd")
}
