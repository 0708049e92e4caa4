package classfile

// InsnList accumulates instructions for a method body. It is the emit side
// of a rewrite: visitors copy the instructions they keep and append
// replacements through the typed helpers.
type InsnList struct {
	insns []Insn
}

// Insns returns the accumulated instructions.
func (l *InsnList) Insns() []Insn {
	return l.insns
}

// Len returns the number of entries, labels included.
func (l *InsnList) Len() int {
	return len(l.insns)
}

// Add appends an instruction as is.
func (l *InsnList) Add(in Insn) {
	l.insns = append(l.insns, in)
}

// Op appends an instruction without operands.
func (l *InsnList) Op(op Opcode) {
	l.insns = append(l.insns, Insn{Op: op})
}

// Mark places a label at the current position.
func (l *InsnList) Mark(label *Label) {
	l.insns = append(l.insns, Insn{Op: OpLabel, Label: label})
}

// Jump appends a branch to target.
func (l *InsnList) Jump(op Opcode, target *Label) {
	l.insns = append(l.insns, Insn{Op: op, Target: target})
}

// Field appends a field access.
func (l *InsnList) Field(op Opcode, owner, name, desc string) {
	l.insns = append(l.insns, Insn{Op: op, Owner: owner, Name: name, Desc: desc})
}

// Invoke appends a method invocation. itf selects an InterfaceMethodref.
func (l *InsnList) Invoke(op Opcode, owner, name, desc string, itf bool) {
	l.insns = append(l.insns, Insn{Op: op, Owner: owner, Name: name, Desc: desc, Interface: itf || op == Invokeinterface})
}

// Type appends new, anewarray, checkcast or instanceof on an internal name.
func (l *InsnList) Type(op Opcode, internalName string) {
	l.insns = append(l.insns, Insn{Op: op, Owner: internalName})
}

// Var appends a local variable load or store.
func (l *InsnList) Var(op Opcode, index int) {
	l.insns = append(l.insns, Insn{Op: op, Var: index})
}

// Class appends an ldc of a class literal.
func (l *InsnList) Class(internalName string) {
	l.insns = append(l.insns, Insn{Op: Ldc, Owner: internalName})
}

// Int appends the shortest instruction pushing the int constant v, which
// must fit in 16 bits.
func (l *InsnList) Int(v int) {
	switch {
	case v >= -1 && v <= 5:
		l.Op(Opcode(int(Iconst0) + v))
	case v >= -128 && v <= 127:
		l.insns = append(l.insns, Insn{Op: Bipush, Int: v})
	default:
		l.insns = append(l.insns, Insn{Op: Sipush, Int: v})
	}
}
