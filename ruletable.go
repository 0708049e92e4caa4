package bytecompat

import (
	"cmp"
	"log/slog"

	"github.com/hashicorp/go-set/v3"

	"github.com/pboyd/bytecompat/internal/classfile"
)

// compareAdapters orders candidates most specific first. Within one key
// every adapter has a distinct owner, so the order is total.
func compareAdapters(a, b *MemberAdapter) int {
	if c := cmp.Compare(b.depth, a.depth); c != 0 {
		return c
	}
	return cmp.Compare(a.owner, b.owner)
}

// candidates maps each member key to the adapters of every declaring type
// that has a member with that key.
type candidates map[MemberKey]*set.TreeSet[*MemberAdapter]

func (c candidates) clone() candidates {
	out := make(candidates, len(c))
	for k, v := range c {
		s := set.NewTreeSet[*MemberAdapter](compareAdapters)
		s.InsertSlice(v.Slice())
		out[k] = s
	}
	return out
}

// add registers a under key. An adapter already present for the same
// declaring type is composed behind a and replaced.
func (c candidates) add(key MemberKey, a *MemberAdapter) error {
	s, ok := c[key]
	if !ok {
		s = set.NewTreeSet[*MemberAdapter](compareAdapters)
		c[key] = s
	}
	for _, existing := range s.Slice() {
		if existing.owner != a.owner {
			continue
		}
		composed, err := a.Compose(existing)
		if err != nil {
			return err
		}
		s.Remove(existing)
		a = composed
		break
	}
	s.Insert(a)
	return nil
}

func (c candidates) lookup(key MemberKey) []*MemberAdapter {
	s, ok := c[key]
	if !ok {
		return nil
	}
	return s.Slice()
}

// ruleTable is a snapshot of every loaded rule. A published table is never
// modified; loading more rules works on a clone.
type ruleTable struct {
	fields  candidates
	methods candidates
}

func newRuleTable() *ruleTable {
	return &ruleTable{fields: candidates{}, methods: candidates{}}
}

func (t *ruleTable) clone() *ruleTable {
	return &ruleTable{fields: t.fields.clone(), methods: t.methods.clone()}
}

// addRule registers a rule after checking its strategies against the
// descriptor callers use.
func (t *ruleTable) addRule(r Rule) error {
	if err := r.Adapter.validate(r.Key.Desc); err != nil {
		return err
	}
	if r.Method {
		return t.methods.add(r.Key, r.Adapter)
	}
	return t.fields.add(r.Key, r.Adapter)
}

func (t *ruleTable) size() int {
	n := 0
	for _, c := range []candidates{t.fields, t.methods} {
		for _, s := range c {
			n += s.Size()
		}
	}
	return n
}

// mayNeedRewrite scans only the constant pool of image. It returns true if
// any field or method reference matches a rule key. A pool that cannot be
// parsed is logged and treated as needing nothing.
func (t *ruleTable) mayNeedRewrite(image []byte, log *slog.Logger) bool {
	refs, err := classfile.MemberRefs(image)
	if err != nil {
		log.Warn("failed to parse the constant pool", "error", err)
		return false
	}
	for _, r := range refs {
		c := t.methods
		if r.IsField() {
			c = t.fields
		}
		if _, ok := c[MemberKey{Name: r.Name, Desc: r.Desc}]; ok {
			log.Debug("rewrite candidate", "owner", r.Owner, "member", r.Name, "desc", r.Desc)
			return true
		}
	}
	return false
}

// rewrite emits the replacement for one access site into out and reports
// whether anything was rewritten.
//
// Each candidate gets a branch guarded by a runtime check that its
// declaring type is assignable from the owner named by the site:
//
//	ldc Owner; invokestatic check(Class)Z; ifeq next
//	<replacement, or the original if the adapter declined>; goto end
//	next: ...
//	<original>
//	end:
//
// If no candidate produces a replacement the original instruction is
// emitted alone and no check is requested.
func (t *ruleTable) rewrite(ctx *typeCheck, site Site, out *classfile.InsnList) bool {
	c := t.methods
	if site.Op.IsFieldAccess() {
		c = t.fields
	}
	adapters := c.lookup(site.Key())
	original := site.insn()
	if len(adapters) == 0 {
		out.Add(original)
		return false
	}

	bodies := make([]classfile.InsnList, len(adapters))
	accepted := make([]bool, len(adapters))
	modified := false
	for i, a := range adapters {
		accepted[i] = a.Rewrite(site, &bodies[i])
		modified = modified || accepted[i]
	}
	if !modified {
		out.Add(original)
		return false
	}

	end := &classfile.Label{}
	for i, a := range adapters {
		next := &classfile.Label{}
		ctx.emitCheckCall(ctx.requestCheck(a.owner), site.Owner, out)
		out.Jump(classfile.Ifeq, next)
		if accepted[i] {
			for _, in := range bodies[i].Insns() {
				out.Add(in)
			}
		} else {
			out.Add(original)
		}
		out.Jump(classfile.Goto, end)
		out.Mark(next)
	}
	out.Add(original)
	out.Mark(end)
	return true
}
