package bytecompat

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipes(t *testing.T) {
	tests := map[string]struct {
		decl   Declaration
		method bool
		keys   []MemberKey
		err    string
	}{
		"field": {
			decl: itemsField(listDesc, "Ljava/util/Collection;"),
			keys: []MemberKey{{"items", listDesc}, {"items", "Ljava/util/Collection;"}},
		},
		"accessor with name": {
			decl: Declaration{Recipe: "adapt-field", Type: widget, Member: "getItems", Descriptor: "()Ljava/util/List;", Name: "items", Was: []string{listDesc}},
			keys: []MemberKey{{"items", listDesc}},
		},
		"method": {
			decl:   Declaration{Recipe: "adapt-method", Type: widget, Member: "size", Descriptor: "()J", Name: "count", Was: []string{"()I"}},
			method: true,
			keys:   []MemberKey{{"count", "()I"}},
		},
		"method with field descriptor": {
			decl: Declaration{Recipe: "adapt-method", Type: widget, Member: "size", Descriptor: "J", Was: []string{"()I"}},
			err:  "not a method descriptor",
		},
		"wrong kind of previous descriptor": {
			decl: itemsField("()Ljava/util/List;"),
			err:  "wrong kind",
		},
		"nothing previous": {
			decl: itemsField(),
			err:  "no previous descriptors",
		},
		"no type": {
			decl: Declaration{Recipe: "adapt-field", Member: "items", Descriptor: arrDesc, Was: []string{listDesc}},
			err:  "type and member are required",
		},
	}

	recipes := DefaultRecipes()
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rules, err := recipes[tc.decl.Recipe](tc.decl)
			if tc.err != "" {
				assert.ErrorContains(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			var keys []MemberKey
			for _, r := range rules {
				assert.Equal(t, tc.method, r.Method)
				assert.Equal(t, widget, r.Adapter.Owner())
				keys = append(keys, r.Key)
			}
			assert.Equal(t, tc.keys, keys)
		})
	}
}

func TestLoadRules(t *testing.T) {
	var logs bytes.Buffer
	tr := New(WithLogger(testLogger(&logs)))
	ctx := context.Background()

	require.NoError(t, tr.LoadRules(ctx, Declarations{
		itemsField(listDesc),
		{Recipe: "adapt-widget", Type: widget, Member: "x", Descriptor: "I", Was: []string{"J"}},
		{Recipe: "adapt-field", Type: widget, Member: "count", Descriptor: "J", Was: []string{"I"}},
	}))
	assert.Equal(t, 1, tr.Rules())
	assert.Contains(t, logs.String(), "unknown recipe")
	assert.Contains(t, logs.String(), "not interchangeable")

	t.Run("idempotent", func(t *testing.T) {
		before := tr.table.Load()
		require.NoError(t, tr.LoadRules(ctx, Declarations{itemsField(listDesc)}, Declarations{itemsField(listDesc)}))
		assert.Equal(t, 1, tr.Rules())
		assert.NotSame(t, before, tr.table.Load())
		adapters := tr.table.Load().fields.lookup(MemberKey{Name: "items", Desc: listDesc})
		require.Len(t, adapters, 1)
		assert.Len(t, adapters[0].strategies, 1)
	})

	t.Run("cumulative", func(t *testing.T) {
		before := tr.table.Load()
		require.NoError(t, tr.LoadRules(ctx, Declarations{itemsField("Ljava/util/Collection;")}))
		assert.Equal(t, 2, tr.Rules())
		assert.Equal(t, 1, before.size(), "published tables are never modified")
	})

	t.Run("source error", func(t *testing.T) {
		before := tr.table.Load()
		err := tr.LoadRules(ctx, Declarations{itemsField("Ljava/lang/Iterable;")}, TOMLFile(filepath.Join(t.TempDir(), "missing.toml")))
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.Same(t, before, tr.table.Load())
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		src := sourceFunc(func(ctx context.Context) ([]Declaration, error) {
			return nil, ctx.Err()
		})
		assert.ErrorIs(t, tr.LoadRules(ctx, src), context.Canceled)
	})
}

type sourceFunc func(context.Context) ([]Declaration, error)

func (f sourceFunc) Declarations(ctx context.Context) ([]Declaration, error) {
	return f(ctx)
}

func TestWithRecipes(t *testing.T) {
	var logs bytes.Buffer
	custom := func(d Declaration) ([]Rule, error) {
		if d.Type == "" {
			return nil, errors.New("no type")
		}
		return []Rule{{
			Key:     MemberKey{Name: d.Member, Desc: d.Was[0]},
			Adapter: NewMemberAdapter(d.Type, FieldToField{Name: d.Member, Desc: d.Descriptor}),
		}}, nil
	}
	tr := New(WithLogger(testLogger(&logs)), WithRecipes(map[string]Recipe{"rename-nothing": custom}))

	require.NoError(t, tr.LoadRules(context.Background(), Declarations{
		{Recipe: "rename-nothing", Type: widget, Member: "items", Descriptor: arrDesc, Was: []string{listDesc}},
		{Recipe: "rename-nothing", Member: "items", Descriptor: arrDesc, Was: []string{listDesc}},
		itemsField("Ljava/util/Collection;"),
	}))
	assert.Equal(t, 2, tr.Rules())
	assert.Contains(t, logs.String(), "no type")
}

func TestTOMLFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid", func(t *testing.T) {
		path := filepath.Join(dir, "rules.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[[rule]]
recipe = "adapt-field"
type = "org/example/Widget"
member = "items"
descriptor = "Ljava/util/ArrayList;"
was = ["Ljava/util/List;"]

[[rule]]
recipe = "adapt-method"
type = "org/example/Widget"
member = "size"
name = "count"
descriptor = "()J"
static = true
was = ["()I", "()S"]
`), 0o644))

		decls, err := TOMLFile(path).Declarations(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []Declaration{
			itemsField(listDesc),
			{Recipe: "adapt-method", Type: widget, Member: "size", Name: "count", Descriptor: "()J", Static: true, Was: []string{"()I", "()S"}},
		}, decls)
	})

	t.Run("unknown key", func(t *testing.T) {
		path := filepath.Join(dir, "typo.toml")
		require.NoError(t, os.WriteFile(path, []byte(`
[[rule]]
recipe = "adapt-field"
tpye = "org/example/Widget"
`), 0o644))
		_, err := TOMLFile(path).Declarations(context.Background())
		assert.ErrorContains(t, err, "unknown key rule.tpye")
	})

	t.Run("syntax", func(t *testing.T) {
		path := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(path, []byte("[[rule]\n"), 0o644))
		_, err := TOMLFile(path).Declarations(context.Background())
		assert.Error(t, err)
	})
}

func TestIndexFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.idx")
	decls := []Declaration{
		itemsField(listDesc),
		{Recipe: "adapt-method", Type: widget, Member: "size", Descriptor: "()J", Was: []string{"()I"}},
	}

	require.NoError(t, WriteIndex(path, decls))
	got, err := IndexFile(path).Declarations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, decls, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files are cleaned up")

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, WriteIndex(path, decls[:1]))
		got, err := IndexFile(path).Declarations(context.Background())
		require.NoError(t, err)
		assert.Equal(t, decls[:1], got)
	})

	t.Run("corrupt", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.idx")
		require.NoError(t, os.WriteFile(bad, []byte{0xc1}, 0o644))
		_, err := IndexFile(bad).Declarations(context.Background())
		assert.Error(t, err)
	})

	t.Run("load", func(t *testing.T) {
		tr := New(WithLogger(testLogger(&bytes.Buffer{})))
		require.NoError(t, tr.LoadRules(context.Background(), IndexFile(path)))
		assert.Equal(t, 1, tr.Rules())
	})
}
