package bytecompat

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/hashicorp/go-set/v3"
	"golang.org/x/sync/singleflight"

	"github.com/pboyd/bytecompat/internal/classfile"
)

// ErrTypeNotFound is returned when a locator has no metadata for a type.
var ErrTypeNotFound = errors.New("type not found")

// maxHierarchyDepth bounds superclass walks so a cyclic class path cannot
// hang a rewrite.
const maxHierarchyDepth = 256

// TypeInfo is the structural metadata of a type.
type TypeInfo struct {
	Super      string // empty for java/lang/Object
	Interfaces []string
	Interface  bool
}

// Locator finds type metadata by internal name without loading or running
// anything.
type Locator interface {
	Locate(name string) (TypeInfo, error)
}

// LocatorFunc adapts a function to a Locator.
type LocatorFunc func(name string) (TypeInfo, error)

func (f LocatorFunc) Locate(name string) (TypeInfo, error) {
	return f(name)
}

// StaticLocator serves metadata from a map.
type StaticLocator map[string]TypeInfo

func (s StaticLocator) Locate(name string) (TypeInfo, error) {
	info, ok := s[name]
	if !ok {
		return TypeInfo{}, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
	}
	return info, nil
}

// ClassPath locates types in class file trees, such as a directory opened
// with os.DirFS or a jar opened with zip.NewReader. Roots are searched in
// order and only the class header is decoded.
type ClassPath []fs.FS

func (cp ClassPath) Locate(name string) (TypeInfo, error) {
	for _, root := range cp {
		image, err := fs.ReadFile(root, name+".class")
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return TypeInfo{}, err
		}
		h, err := classfile.ReadHeader(image)
		if err != nil {
			return TypeInfo{}, fmt.Errorf("%s: %w", name, err)
		}
		return TypeInfo{Super: h.Super, Interfaces: h.Interfaces, Interface: h.Access&classfile.AccInterface != 0}, nil
	}
	return TypeInfo{}, fmt.Errorf("%w: %s", ErrTypeNotFound, name)
}

// CachingLocator memoizes successful lookups of another locator. Concurrent
// lookups of the same name share one call.
type CachingLocator struct {
	next  Locator
	cache sync.Map
	group singleflight.Group
}

func NewCachingLocator(next Locator) *CachingLocator {
	return &CachingLocator{next: next}
}

func (c *CachingLocator) Locate(name string) (TypeInfo, error) {
	if v, ok := c.cache.Load(name); ok {
		return v.(TypeInfo), nil
	}
	v, err, _ := c.group.Do(name, func() (any, error) {
		info, err := c.next.Locate(name)
		if err != nil {
			return nil, err
		}
		c.cache.Store(name, info)
		return info, nil
	})
	if err != nil {
		return TypeInfo{}, err
	}
	return v.(TypeInfo), nil
}

// resolver answers common superclass questions for one class being
// rewritten. The class itself is served from its own header since it is
// usually not on the class path yet.
type resolver struct {
	unit    string
	self    TypeInfo
	locator Locator
}

func newResolver(c *classfile.Class, locator Locator) *resolver {
	return &resolver{
		unit:    c.Name,
		self:    TypeInfo{Super: c.Super, Interfaces: c.Interfaces, Interface: c.IsInterface()},
		locator: locator,
	}
}

func (r *resolver) info(name string) (TypeInfo, error) {
	if name == r.unit {
		return r.self, nil
	}
	if r.locator == nil {
		return TypeInfo{}, fmt.Errorf("%w: %s (no locator)", ErrTypeNotFound, name)
	}
	return r.locator.Locate(name)
}

// CommonSuperClass returns the nearest common ancestor of two internal
// names. A type that cannot be located is an error.
func (r *resolver) CommonSuperClass(a, b string) (string, error) {
	if a == classfile.ObjectClass || b == classfile.ObjectClass {
		return classfile.ObjectClass, nil
	}
	if a == b {
		return a, nil
	}
	ia, err := r.info(a)
	if err != nil {
		return "", err
	}
	ib, err := r.info(b)
	if err != nil {
		return "", err
	}

	if ia.Interface || ib.Interface {
		return r.commonInterface(a, ia, b, ib)
	}

	seen := set.New[string](8)
	if err := r.walkSupers(a, ia, func(name string) bool {
		seen.Insert(name)
		return true
	}); err != nil {
		return "", err
	}
	found := classfile.ObjectClass
	err = r.walkSupers(b, ib, func(name string) bool {
		if seen.Contains(name) {
			found = name
			return false
		}
		return true
	})
	return found, err
}

// commonInterface answers CommonSuperClass when a or b is an interface. If
// one is a subtype of the other the supertype wins, otherwise the result is
// the nearest supertype of a that b also has.
func (r *resolver) commonInterface(a string, ia TypeInfo, b string, ib TypeInfo) (string, error) {
	supersA, err := r.supertypes(a, ia)
	if err != nil {
		return "", err
	}
	supersB, err := r.supertypes(b, ib)
	if err != nil {
		return "", err
	}
	inA, inB := set.From(supersA), set.From(supersB)
	switch {
	case inB.Contains(a):
		return a, nil
	case inA.Contains(b):
		return b, nil
	}
	for _, name := range supersA {
		if inB.Contains(name) {
			return name, nil
		}
	}
	return classfile.ObjectClass, nil
}

// supertypes lists name followed by every class and interface it extends or
// implements, directly or not, breadth first. java/lang/Object comes last.
func (r *resolver) supertypes(name string, info TypeInfo) ([]string, error) {
	type entry struct {
		name string
		info TypeInfo
	}
	seen := set.From([]string{name, classfile.ObjectClass})
	out := []string{name}
	queue := []entry{{name, info}}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		next := e.info.Interfaces
		if e.info.Super != "" {
			next = append([]string{e.info.Super}, next...)
		}
		for _, s := range next {
			if !seen.Insert(s) {
				continue
			}
			si, err := r.info(s)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
			queue = append(queue, entry{s, si})
		}
	}
	return append(out, classfile.ObjectClass), nil
}

// walkSupers calls visit for name and each of its superclasses until visit
// returns false or java/lang/Object is reached.
func (r *resolver) walkSupers(name string, info TypeInfo, visit func(string) bool) error {
	for range maxHierarchyDepth {
		if !visit(name) || info.Super == "" {
			return nil
		}
		name = info.Super
		if name == classfile.ObjectClass {
			visit(name)
			return nil
		}
		var err error
		if info, err = r.info(name); err != nil {
			return err
		}
	}
	return fmt.Errorf("superclass chain of %s is too deep", name)
}

// depth counts the superclasses between name and java/lang/Object. It is
// used for ordering only, so any failure yields 0.
func depth(locator Locator, name string) int {
	if locator == nil {
		return 0
	}
	n := 0
	for name != classfile.ObjectClass && n < maxHierarchyDepth {
		info, err := locator.Locate(name)
		if err != nil || info.Super == "" {
			return 0
		}
		name = info.Super
		n++
	}
	return n
}
