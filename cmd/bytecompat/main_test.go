package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pboyd/bytecompat/internal/classfile"
)

const rules = `
[[rule]]
recipe = "adapt-field"
type = "org/example/Widget"
member = "items"
descriptor = "Ljava/util/ArrayList;"
was = ["Ljava/util/List;"]
`

func writeClass(t *testing.T, dir, name string, build func(*classfile.InsnList)) {
	t.Helper()
	c := &classfile.Class{Major: 52, Access: classfile.AccPublic, Name: name, Super: classfile.ObjectClass}
	if build != nil {
		var l classfile.InsnList
		build(&l)
		c.Methods = append(c.Methods, &classfile.Member{
			Access: classfile.AccPublic | classfile.AccStatic,
			Name:   "read",
			Desc:   "(Lorg/example/Widget;)Ljava/util/List;",
			Code:   &classfile.Code{Insns: l.Insns()},
		})
	}
	image, err := classfile.Encode(c, nil)
	require.NoError(t, err)
	path := filepath.Join(dir, filepath.FromSlash(name)+".class")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, image, 0o644))
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--color", "off"}, args...))
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	in, out := filepath.Join(dir, "in"), filepath.Join(dir, "out")
	rulesPath, indexPath := filepath.Join(dir, "rules.toml"), filepath.Join(dir, "rules.idx")
	require.NoError(t, os.WriteFile(rulesPath, []byte(rules), 0o644))

	writeClass(t, in, "org/example/Client", func(l *classfile.InsnList) {
		l.Var(classfile.Aload, 0)
		l.Field(classfile.Getfield, "org/example/Widget", "items", "Ljava/util/List;")
		l.Op(classfile.Areturn)
	})
	writeClass(t, in, "org/example/Other", nil)

	assert.Contains(t, run(t, "index", "-o", indexPath, rulesPath), "wrote 1 declarations (1 rules)")

	assert.Equal(t, "org/example/Client\n1 of 2 classes may need rewriting\n", run(t, "check", "--index", indexPath, in))

	assert.Equal(t, "rewrote 1 of 2 classes\n", run(t, "rewrite", "--index", indexPath, in, out))
	before, err := os.ReadFile(filepath.Join(in, "org/example/Other.class"))
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(out, "org/example/Other.class"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	listing := run(t, "dump", filepath.Join(out, "org/example/Client.class"))
	assert.Contains(t, listing, "class org/example/Client version 52.0")
	assert.Contains(t, listing, "invokestatic org/example/Client.____isAssignableFrom0:(Ljava/lang/Class;)Z")
	assert.Contains(t, listing, "getfield org/example/Widget.items:Ljava/util/ArrayList;")
}

func TestClassName(t *testing.T) {
	assert.Equal(t, "org/example/Client", className(filepath.Join("org", "example", "Client.class")))
}

func TestOpenClassPath(t *testing.T) {
	dir := t.TempDir()
	cp, closer, err := openClassPath([]string{dir})
	require.NoError(t, err)
	defer closer.Close()
	assert.Len(t, cp, 1)

	file := filepath.Join(dir, "x.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, _, err = openClassPath([]string{file})
	assert.ErrorContains(t, err, "directories or jars")

	_, _, err = openClassPath([]string{filepath.Join(dir, "missing.jar")})
	assert.Error(t, err)
}
