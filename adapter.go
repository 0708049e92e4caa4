package bytecompat

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pboyd/bytecompat/internal/classfile"
)

// Strategy rewrites one kind of access to a member. The implementations are
// FieldToField, FieldToAccessor and MethodToMethod.
type Strategy interface {
	// adapt emits a replacement for site into out and reports whether it
	// did. A strategy that does not handle the access emits nothing.
	adapt(site Site, out *classfile.InsnList) bool
	validate(old string) error
}

// FieldToField redirects a field access to a field with a new name or
// descriptor.
//
// Reads become "(Old) owner.Name" and writes become "owner.Name = (New) v".
// The casts are only emitted for reference descriptors, so a mismatch
// surfaces as a ClassCastException at run time.
type FieldToField struct {
	Name   string
	Desc   string
	Static bool
}

func (s FieldToField) adapt(site Site, out *classfile.InsnList) bool {
	get, put := fieldOps(s.Static)
	switch site.Op {
	case get:
		out.Field(get, site.Owner, s.Name, s.Desc)
		castTo(out, site.Desc, s.Desc)
	case put:
		castTo(out, s.Desc, site.Desc)
		out.Field(put, site.Owner, s.Name, s.Desc)
	default:
		return false
	}
	return true
}

func (s FieldToField) validate(old string) error {
	if !classfile.ValidField(s.Desc) {
		return fmt.Errorf("bad field descriptor %q", s.Desc)
	}
	return convertible(old, s.Desc)
}

// FieldToAccessor replaces a field that no longer exists with a getter
// ("()T") or a setter ("(T)V" or "(T)R"). A getter only handles reads and a
// setter only handles writes; compose the two to cover both.
type FieldToAccessor struct {
	Method string
	Desc   string
	Static bool
}

func (s FieldToAccessor) getter() bool {
	return strings.HasPrefix(s.Desc, "()")
}

func (s FieldToAccessor) adapt(site Site, out *classfile.InsnList) bool {
	get, put := fieldOps(s.Static)
	invoke := classfile.Invokevirtual
	if s.Static {
		invoke = classfile.Invokestatic
	}

	params, ret, err := classfile.SplitMethod(s.Desc)
	if err != nil {
		return false
	}
	switch {
	case s.getter() && site.Op == get:
		out.Invoke(invoke, site.Owner, s.Method, s.Desc, false)
		castTo(out, site.Desc, ret)
	case !s.getter() && site.Op == put:
		castTo(out, params[0], site.Desc)
		out.Invoke(invoke, site.Owner, s.Method, s.Desc, false)
		discard(out, ret)
	default:
		return false
	}
	return true
}

func (s FieldToAccessor) validate(old string) error {
	params, ret, err := classfile.SplitMethod(s.Desc)
	if err != nil {
		return err
	}
	switch len(params) {
	case 0:
		if ret == "V" {
			return fmt.Errorf("getter %s%s returns nothing", s.Method, s.Desc)
		}
		return convertible(old, ret)
	case 1:
		return convertible(old, params[0])
	}
	return fmt.Errorf("%s%s is neither a getter nor a setter", s.Method, s.Desc)
}

// MethodToMethod redirects an invocation to a method with a new name or
// return type. Parameters must be unchanged. A reference return is cast
// back to what callers expect, and a value returned where callers expect
// void is popped.
type MethodToMethod struct {
	Name string
	Desc string
}

func (s MethodToMethod) adapt(site Site, out *classfile.InsnList) bool {
	if !site.Op.IsInvoke() {
		return false
	}
	_, was, err := classfile.SplitMethod(site.Desc)
	if err != nil {
		return false
	}
	_, now, err := classfile.SplitMethod(s.Desc)
	if err != nil {
		return false
	}
	out.Invoke(site.Op, site.Owner, s.Name, s.Desc, site.Interface)
	if was == "V" {
		discard(out, now)
	} else {
		castTo(out, was, now)
	}
	return true
}

func (s MethodToMethod) validate(old string) error {
	diff, err := diffDescriptors(old, s.Desc)
	if err != nil {
		return err
	}
	if err := diff.Error(); err != nil {
		return fmt.Errorf("%s%s cannot replace %s: %w", s.Name, s.Desc, old, err)
	}
	return nil
}

func fieldOps(static bool) (get, put classfile.Opcode) {
	if static {
		return classfile.Getstatic, classfile.Putstatic
	}
	return classfile.Getfield, classfile.Putfield
}

// castTo emits a checkcast to want when a value of descriptor have does not
// already satisfy it. Primitives are never cast.
func castTo(out *classfile.InsnList, want, have string) {
	if want == have || !classfile.IsReference(want) {
		return
	}
	out.Type(classfile.Checkcast, classfile.InternalName(want))
}

func discard(out *classfile.InsnList, desc string) {
	switch classfile.Slots(desc) {
	case 1:
		out.Op(classfile.Pop)
	case 2:
		out.Op(classfile.Pop2)
	}
}

// convertible reports whether values of the two field descriptors can be
// exchanged with at most a checkcast.
func convertible(a, b string) error {
	if a == b || (classfile.IsReference(a) && classfile.IsReference(b)) {
		return nil
	}
	return fmt.Errorf("%s and %s are not interchangeable", a, b)
}

// MemberAdapter holds every strategy registered for one member of one
// declaring type. It is immutable; Compose returns a new adapter.
type MemberAdapter struct {
	owner      string
	depth      int
	strategies []Strategy
}

// NewMemberAdapter returns an adapter for a member declared by owner, an
// internal class name such as "java/util/ArrayList". Strategies are tried in
// order.
func NewMemberAdapter(owner string, strategies ...Strategy) *MemberAdapter {
	return &MemberAdapter{owner: owner, strategies: slices.Clone(strategies)}
}

// Owner returns the internal name of the declaring type.
func (a *MemberAdapter) Owner() string {
	return a.owner
}

// Depth is the number of superclasses between the declaring type and
// java/lang/Object, or 0 if the hierarchy is unknown.
func (a *MemberAdapter) Depth() int {
	return a.depth
}

func (a *MemberAdapter) withDepth(depth int) *MemberAdapter {
	b := *a
	b.depth = depth
	return &b
}

// Rewrite emits the replacement for site from the first strategy that
// accepts it.
func (a *MemberAdapter) Rewrite(site Site, out *classfile.InsnList) bool {
	for _, s := range a.strategies {
		if s.adapt(site, out) {
			return true
		}
	}
	return false
}

// Compose returns an adapter that tries a's strategies first and falls back
// to b's. Strategies a already has are not repeated, so composing an adapter
// with itself changes nothing.
func (a *MemberAdapter) Compose(b *MemberAdapter) (*MemberAdapter, error) {
	if b == nil {
		return a, nil
	}
	if a.owner != b.owner {
		return nil, fmt.Errorf("cannot compose adapters for %s and %s", a.owner, b.owner)
	}
	c := &MemberAdapter{owner: a.owner, depth: max(a.depth, b.depth), strategies: slices.Clone(a.strategies)}
	for _, s := range b.strategies {
		if !slices.Contains(c.strategies, s) {
			c.strategies = append(c.strategies, s)
		}
	}
	return c, nil
}

func (a *MemberAdapter) validate(old string) error {
	errs := []error{}
	for _, s := range a.strategies {
		errs = append(errs, s.validate(old))
	}
	return errors.Join(errs...)
}

func (a *MemberAdapter) String() string {
	return fmt.Sprintf("%s%v", a.owner, a.strategies)
}
