package classfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMethod(t *testing.T) {
	params, ret, err := SplitMethod("(IJ[Ljava/lang/String;D)Ljava/util/List;")
	require.NoError(t, err)
	assert.Equal(t, []string{"I", "J", "[Ljava/lang/String;", "D"}, params)
	assert.Equal(t, "Ljava/util/List;", ret)

	n, err := ArgSlots("(IJ[Ljava/lang/String;D)V")
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	for _, bad := range []string{"", "I", "(I", "(Q)V", "(I)", "(L;)V", "()VV"} {
		_, _, err := SplitMethod(bad)
		assert.Error(t, err, bad)
	}
}

func TestFieldDescriptors(t *testing.T) {
	assert := assert.New(t)

	assert.True(ValidField("I"))
	assert.True(ValidField("[[Ljava/lang/Object;"))
	assert.False(ValidField("V"))
	assert.False(ValidField("II"))
	assert.False(ValidField("Ljava/lang/Object"))

	assert.True(IsReference("Ljava/lang/String;"))
	assert.True(IsReference("[I"))
	assert.False(IsReference("J"))

	assert.Equal("java/lang/String", InternalName("Ljava/lang/String;"))
	assert.Equal("[I", InternalName("[I"))
	assert.Equal("Ljava/lang/String;", Descriptor("java/lang/String"))
	assert.Equal("[I", Descriptor("[I"))

	assert.Equal(2, Slots("D"))
	assert.Equal(1, Slots("[J"))
	assert.Equal(0, Slots("V"))
}
