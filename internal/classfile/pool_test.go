package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolDeduplicates(t *testing.T) {
	assert := assert.New(t)
	p := NewPool()

	a, err := p.AddMember(TagMethodref, "demo/A", "run", "()V")
	require.NoError(t, err)
	b, err := p.AddMember(TagMethodref, "demo/A", "run", "()V")
	require.NoError(t, err)
	assert.Equal(a, b)

	itf, err := p.AddMember(TagInterfaceMethodref, "demo/A", "run", "()V")
	require.NoError(t, err)
	assert.NotEqual(a, itf)

	ref, err := p.Member(itf)
	require.NoError(t, err)
	assert.Equal(MemberRef{Tag: TagInterfaceMethodref, Owner: "demo/A", Name: "run", Desc: "()V"}, ref)
	assert.False(ref.IsField())
}

func TestPoolWideConstants(t *testing.T) {
	c := newClass("demo/Wide", 49)
	long, err := c.Pool.add(Constant{Tag: TagLong, Value: 1 << 40})
	require.NoError(t, err)
	after, err := c.Pool.AddUtf8("after")
	require.NoError(t, err)
	assert.Equal(t, long+2, after)

	addMethod(c, AccPublic|AccStatic, "f", "()J", func(l *InsnList) {
		l.Add(Insn{Op: Ldc2W, Index: long})
		l.Op(Lreturn)
	})
	parsed, m := reparse(t, c, nil, "f", "()J")
	got, err := parsed.Pool.At(long)
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), got.Value)
	assert.Equal(t, 2, m.Code.MaxStack)

	_, err = parsed.Pool.At(long + 1)
	assert.Error(t, err)
}

func TestPoolLookupErrors(t *testing.T) {
	p := NewPool()
	i, err := p.AddUtf8("x")
	require.NoError(t, err)

	_, err = p.At(0)
	assert.Error(t, err)
	_, err = p.At(99)
	assert.Error(t, err)
	_, err = p.ClassName(i)
	assert.ErrorContains(t, err, "want 7")
	_, err = p.Member(i)
	assert.ErrorContains(t, err, "not a member reference")
}

func TestPoolModifiedUTF8(t *testing.T) {
	tests := map[string]struct {
		s   string
		enc []byte
	}{
		"ascii":          {"run", []byte("run")},
		"nul":            {"a\x00b", []byte{'a', 0xc0, 0x80, 'b'}},
		"two bytes":      {"é", []byte{0xc3, 0xa9}},
		"supplementary":  {"x\U0001F600", []byte{'x', 0xed, 0xa0, 0xbd, 0xed, 0xb8, 0x80}},
		"lone surrogate": {"\xed\xa0\xbd", []byte{0xed, 0xa0, 0xbd}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.enc, encodeModifiedUTF8(tc.s))
			assert.Equal(t, tc.s, decodeModifiedUTF8(tc.enc))
		})
	}

	t.Run("class file", func(t *testing.T) {
		c := newClass("demo/Names", 52)
		i, err := c.Pool.AddUtf8("a\x00\U0001F600")
		require.NoError(t, err)
		image := encode(t, c, nil)
		assert.Contains(t, string(image), "\x01\x00\x09a\xc0\x80\xed\xa0\xbd\xed\xb8\x80")

		parsed, err := Parse(image)
		require.NoError(t, err)
		s, err := parsed.Pool.Utf8(i)
		require.NoError(t, err)
		assert.Equal(t, "a\x00\U0001F600", s)
	})
}
