package bytecompat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pboyd/bytecompat/internal/classfile"
)

// ErrUnknownRecipe is returned for a declaration whose recipe is not
// registered.
var ErrUnknownRecipe = errors.New("unknown recipe")

// Declaration states that a member of Type used to look different. It is
// the unit of every rule source.
type Declaration struct {
	// Recipe selects how the declaration becomes rules, e.g. "adapt-field".
	Recipe string `toml:"recipe" msgpack:"recipe"`
	// Type is the internal name of the declaring class.
	Type string `toml:"type" msgpack:"type"`
	// Member and Descriptor describe the member as it exists now.
	Member     string `toml:"member" msgpack:"member"`
	Descriptor string `toml:"descriptor" msgpack:"descriptor"`
	Static     bool   `toml:"static" msgpack:"static"`
	// Name is the name callers use. It defaults to Member.
	Name string `toml:"name,omitempty" msgpack:"name,omitempty"`
	// Was lists the descriptors callers may have been compiled against.
	Was []string `toml:"was" msgpack:"was"`
}

func (d Declaration) name() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Member
}

func (d Declaration) String() string {
	return fmt.Sprintf("%s %s.%s%s", d.Recipe, d.Type, d.Member, d.Descriptor)
}

// Rule is one adapter registered under one key.
type Rule struct {
	Method  bool // the key names a method rather than a field
	Key     MemberKey
	Adapter *MemberAdapter
}

// Recipe turns a declaration into rules.
type Recipe func(Declaration) ([]Rule, error)

// DefaultRecipes returns the built-in recipes:
//
//   - "adapt-field": callers access field Name with one of the Was
//     descriptors. If Descriptor is a field descriptor the access is
//     redirected to field Member; if it is a method descriptor Member is a
//     getter or setter standing in for the field.
//   - "adapt-method": callers invoke method Name with one of the Was
//     descriptors, which now is Member with Descriptor.
func DefaultRecipes() map[string]Recipe {
	return map[string]Recipe{
		"adapt-field":  adaptField,
		"adapt-method": adaptMethod,
	}
}

func adaptField(d Declaration) ([]Rule, error) {
	var s Strategy
	if strings.HasPrefix(d.Descriptor, "(") {
		s = FieldToAccessor{Method: d.Member, Desc: d.Descriptor, Static: d.Static}
	} else {
		s = FieldToField{Name: d.Member, Desc: d.Descriptor, Static: d.Static}
	}
	return expand(d, false, s)
}

func adaptMethod(d Declaration) ([]Rule, error) {
	if !strings.HasPrefix(d.Descriptor, "(") {
		return nil, fmt.Errorf("%s: %q is not a method descriptor", d, d.Descriptor)
	}
	return expand(d, true, MethodToMethod{Name: d.Member, Desc: d.Descriptor})
}

func expand(d Declaration, method bool, s Strategy) ([]Rule, error) {
	if d.Type == "" || d.Member == "" {
		return nil, fmt.Errorf("%s: type and member are required", d)
	}
	if len(d.Was) == 0 {
		return nil, fmt.Errorf("%s: no previous descriptors", d)
	}
	rules := make([]Rule, 0, len(d.Was))
	for _, was := range d.Was {
		if method != strings.HasPrefix(was, "(") {
			return nil, fmt.Errorf("%s: previous descriptor %q is the wrong kind", d, was)
		}
		rules = append(rules, Rule{
			Method:  method,
			Key:     MemberKey{Name: d.name(), Desc: was},
			Adapter: NewMemberAdapter(d.Type, s),
		})
	}
	return rules, nil
}

// RuleSource supplies declarations.
type RuleSource interface {
	Declarations(ctx context.Context) ([]Declaration, error)
}

// Declarations is a fixed list of declarations.
type Declarations []Declaration

func (d Declarations) Declarations(context.Context) ([]Declaration, error) {
	return d, nil
}

// TOMLFile reads declarations from a TOML file of [[rule]] tables:
//
//	[[rule]]
//	recipe = "adapt-field"
//	type = "org/example/Widget"
//	member = "items"
//	descriptor = "Ljava/util/ArrayList;"
//	was = ["Ljava/util/List;"]
type TOMLFile string

type tomlRules struct {
	Rule []Declaration `toml:"rule"`
}

func (path TOMLFile) Declarations(context.Context) ([]Declaration, error) {
	var doc tomlRules
	meta, err := toml.DecodeFile(string(path), &doc)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}
	return doc.Rule, nil
}

const indexSchemaVersion uint16 = 1

// index is the on-disk form of a rule index.
type index struct {
	Schema uint16
	Rules  []Declaration
}

// IndexFile reads declarations from a msgpack rule index written by
// WriteIndex.
type IndexFile string

func (path IndexFile) Declarations(context.Context) ([]Declaration, error) {
	f, err := os.Open(string(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var idx index
	if err := msgpack.NewDecoder(f).Decode(&idx); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if idx.Schema != indexSchemaVersion {
		return nil, fmt.Errorf("%s: index schema %d, want %d", path, idx.Schema, indexSchemaVersion)
	}
	return idx.Rules, nil
}

// WriteIndex writes declarations to path as a rule index. The file is
// replaced atomically.
func WriteIndex(path string, decls []Declaration) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if err := msgpack.NewEncoder(f).Encode(&index{Schema: indexSchemaVersion, Rules: decls}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// instantiate runs the recipe for d and sets each adapter's depth.
func (t *Transformer) instantiate(d Declaration) ([]Rule, error) {
	recipe, ok := t.recipes[d.Recipe]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownRecipe, d.Recipe)
	}
	rules, err := recipe(d)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		a := rules[i].Adapter
		if a == nil {
			return nil, fmt.Errorf("%s: recipe returned a rule without an adapter", d)
		}
		if !classfile.ValidField(rules[i].Key.Desc) && !strings.HasPrefix(rules[i].Key.Desc, "(") {
			return nil, fmt.Errorf("%s: bad descriptor %q", d, rules[i].Key.Desc)
		}
		rules[i].Adapter = a.withDepth(depth(t.locator, a.owner))
	}
	return rules, nil
}
