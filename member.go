package bytecompat

import (
	"github.com/pboyd/bytecompat/internal/classfile"
)

// MemberKey identifies a member independently of the type that declares it:
// the member name and the descriptor callers were compiled against.
type MemberKey struct {
	Name string
	Desc string
}

func (k MemberKey) String() string {
	return k.Name + " " + k.Desc
}

// Site is one field access or method invocation found in a method body.
type Site struct {
	Op        classfile.Opcode
	Owner     string // the class named by the instruction, not necessarily the declaring class
	Name      string
	Desc      string
	Interface bool
}

func siteOf(in *classfile.Insn) Site {
	return Site{Op: in.Op, Owner: in.Owner, Name: in.Name, Desc: in.Desc, Interface: in.Interface}
}

// Key returns the lookup key of the referenced member.
func (s Site) Key() MemberKey {
	return MemberKey{Name: s.Name, Desc: s.Desc}
}

func (s Site) insn() classfile.Insn {
	return classfile.Insn{Op: s.Op, Owner: s.Owner, Name: s.Name, Desc: s.Desc, Interface: s.Interface}
}
