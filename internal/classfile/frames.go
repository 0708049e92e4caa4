package classfile

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

type vkind uint8

const (
	kTop vkind = iota
	kInt
	kFloat
	kLong
	kDouble
	kNull
	kUninitThis
	kUninit
	kObject
	kReturnAddress
)

// vtype is a verification type. Long and double values occupy two slots;
// the second one holds kTop.
type vtype struct {
	kind vkind
	name string // kObject: internal name, arrays as descriptors
	at   int    // kUninit: index of the new instruction
}

var (
	top       = vtype{kind: kTop}
	intType   = vtype{kind: kInt}
	floatType = vtype{kind: kFloat}
	longType  = vtype{kind: kLong}
	dblType   = vtype{kind: kDouble}
	nullType  = vtype{kind: kNull}
)

func object(name string) vtype {
	return vtype{kind: kObject, name: name}
}

func (t vtype) wide() bool {
	return t.kind == kLong || t.kind == kDouble
}

func (t vtype) reference() bool {
	return t.kind == kObject || t.kind == kNull
}

// fieldType returns the verification type of a field descriptor.
func fieldType(desc string) vtype {
	if desc == "" {
		return top
	}
	switch desc[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return intType
	case 'F':
		return floatType
	case 'J':
		return longType
	case 'D':
		return dblType
	}
	return object(InternalName(desc))
}

type frame struct {
	locals []vtype
	stack  []vtype
}

func (f *frame) clone() *frame {
	return &frame{locals: slices.Clone(f.locals), stack: slices.Clone(f.stack)}
}

// analysis is the result of a data-flow pass over one method body.
type analysis struct {
	typed     bool
	insns     []Insn
	offsets   []int
	handlers  []Handler
	frames    []*frame // state on entry to each instruction; nil if unreachable
	entry     []vtype
	maxStack  int
	maxLocals int
}

type analyzer struct {
	*analysis
	class *Class
	pool  *Pool
	refs  []uint16
	h     Hierarchy
	work  []int
	queue []bool
}

// analyze computes frames and maximums for m. In untyped mode reference
// merges never consult h and only stack heights need to agree.
func analyze(c *Class, m *Member, refs []uint16, offsets []int, typed bool, h Hierarchy) (*analysis, error) {
	insns := m.Code.Insns
	a := &analyzer{
		analysis: &analysis{
			typed:    typed,
			insns:    insns,
			offsets:  offsets,
			handlers: m.Code.Handlers,
			frames:   make([]*frame, len(insns)),
		},
		class:    c,
		pool:     c.Pool,
		refs:     refs,
		h:        h,
		queue:    make([]bool, len(insns)),
	}

	params, _, err := SplitMethod(m.Desc)
	if err != nil {
		return nil, err
	}
	static := m.Access&AccStatic != 0
	maxLocals := 0
	if !static {
		maxLocals = 1
	}
	for _, p := range params {
		maxLocals += Slots(p)
	}
	for i := range insns {
		in := &insns[i]
		switch op := in.Op; {
		case op == Lload || op == Dload || op == Lstore || op == Dstore:
			maxLocals = max(maxLocals, in.Var+2)
		case op >= Iload && op <= Aload, op >= Istore && op <= Astore, op == Iinc, op == Ret:
			maxLocals = max(maxLocals, in.Var+1)
		case typed && op == Jsr:
			return nil, errJSR
		}
	}
	a.maxLocals = maxLocals

	entry := &frame{locals: make([]vtype, maxLocals)}
	slot := 0
	if !static {
		if m.Name == "<init>" && c.Name != ObjectClass {
			entry.locals[0] = vtype{kind: kUninitThis}
		} else {
			entry.locals[0] = object(c.Name)
		}
		slot = 1
	}
	for _, p := range params {
		t := fieldType(p)
		entry.locals[slot] = t
		slot += Slots(p)
	}
	a.entry = entry.locals

	if len(insns) == 0 {
		return nil, fmt.Errorf("empty method body")
	}
	if err := a.merge(0, entry); err != nil {
		return nil, err
	}
	for len(a.work) > 0 {
		i := a.work[len(a.work)-1]
		a.work = a.work[:len(a.work)-1]
		a.queue[i] = false
		if err := a.step(i); err != nil {
			return nil, fmt.Errorf("%s at index %d: %w", insns[i].Op, i, err)
		}
	}
	return a.analysis, nil
}

func (a *analyzer) step(i int) error {
	in := &a.insns[i]
	f := a.frames[i].clone()
	a.maxStack = max(a.maxStack, len(f.stack))

	if in.Op == OpLabel {
		if i+1 >= len(a.insns) {
			return fmt.Errorf("control falls off the end of the code")
		}
		return a.merge(i+1, f)
	}

	before := a.frames[i]
	if err := a.execute(i, in, f); err != nil {
		return err
	}
	a.maxStack = max(a.maxStack, len(f.stack))

	for _, h := range a.handlersCovering(i) {
		catch := h.CatchType
		if catch == "" {
			catch = "java/lang/Throwable"
		}
		for _, locals := range [][]vtype{before.locals, f.locals} {
			hf := &frame{locals: slices.Clone(locals), stack: []vtype{object(catch)}}
			if err := a.merge(h.Handler.index, hf); err != nil {
				return fmt.Errorf("exception handler: %w", err)
			}
		}
	}

	switch op := in.Op; {
	case op == Jsr:
		// Untyped only: the subroutine returns to the next instruction with
		// the stack it was called with.
		if err := a.merge(in.Target.index, f); err != nil {
			return err
		}
		after := f.clone()
		after.stack = after.stack[:len(after.stack)-1]
		return a.flowNext(i, after)
	case op.IsJump():
		if err := a.merge(in.Target.index, f); err != nil {
			return err
		}
		if op == Goto {
			return nil
		}
	case op == Tableswitch || op == Lookupswitch:
		if err := a.merge(in.Default.index, f); err != nil {
			return err
		}
		for _, t := range in.Targets {
			if err := a.merge(t.index, f); err != nil {
				return err
			}
		}
		return nil
	case op.endsBlock():
		return nil
	}
	return a.flowNext(i, f)
}

func (a *analyzer) flowNext(i int, f *frame) error {
	if i+1 >= len(a.insns) {
		return fmt.Errorf("control falls off the end of the code")
	}
	return a.merge(i+1, f)
}

func (a *analyzer) handlersCovering(i int) []*Handler {
	var out []*Handler
	for j := range a.handlers {
		h := &a.handlers[j]
		if h.Start.index <= i && i < h.End.index {
			out = append(out, h)
		}
	}
	return out
}

// merge folds f into the state on entry to instruction j and schedules j
// when that state changed.
func (a *analyzer) merge(j int, f *frame) error {
	cur := a.frames[j]
	if cur == nil {
		a.frames[j] = f.clone()
		a.schedule(j)
		return nil
	}
	if len(cur.stack) != len(f.stack) {
		return fmt.Errorf("inconsistent stack height at index %d: %d != %d", j, len(cur.stack), len(f.stack))
	}
	changed := false
	for k := range cur.locals {
		t, err := a.mergeType(cur.locals[k], f.locals[k], true)
		if err != nil {
			return err
		}
		if t != cur.locals[k] {
			cur.locals[k] = t
			changed = true
		}
	}
	for k := range cur.stack {
		t, err := a.mergeType(cur.stack[k], f.stack[k], false)
		if err != nil {
			return fmt.Errorf("index %d: %w", j, err)
		}
		if t != cur.stack[k] {
			cur.stack[k] = t
			changed = true
		}
	}
	if changed {
		a.schedule(j)
	}
	return nil
}

func (a *analyzer) schedule(j int) {
	if !a.queue[j] {
		a.queue[j] = true
		a.work = append(a.work, j)
	}
}

func (a *analyzer) mergeType(x, y vtype, local bool) (vtype, error) {
	if x == y {
		return x, nil
	}
	if x.reference() && y.reference() {
		if x.kind == kNull {
			return y, nil
		}
		if y.kind == kNull {
			return x, nil
		}
		name, err := a.commonSuper(x.name, y.name)
		if err != nil {
			return top, err
		}
		return object(name), nil
	}
	if local || !a.typed {
		return top, nil
	}
	return top, fmt.Errorf("incompatible stack values %v and %v", x, y)
}

func (a *analyzer) commonSuper(x, y string) (string, error) {
	if !a.typed {
		return ObjectClass, nil
	}
	xa, ya := strings.HasPrefix(x, "["), strings.HasPrefix(y, "[")
	switch {
	case xa && ya:
		ex, ey := x[1:], y[1:]
		if IsReference(ex) && IsReference(ey) {
			e, err := a.commonSuper(InternalName(ex), InternalName(ey))
			if err != nil {
				return "", err
			}
			return "[" + Descriptor(e), nil
		}
		return ObjectClass, nil
	case xa || ya:
		return ObjectClass, nil
	}
	if a.h == nil {
		return "", fmt.Errorf("no class hierarchy to merge %s and %s", x, y)
	}
	return a.h.CommonSuperClass(x, y)
}

func (f *frame) push(t vtype) {
	f.stack = append(f.stack, t)
	if t.wide() {
		f.stack = append(f.stack, top)
	}
}

func (f *frame) pop(n int) ([]vtype, error) {
	if n > len(f.stack) {
		return nil, fmt.Errorf("stack underflow: need %d, have %d", n, len(f.stack))
	}
	popped := slices.Clone(f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return popped, nil
}

func (f *frame) setLocal(i int, t vtype) error {
	size := 1
	if t.wide() {
		size = 2
	}
	if i+size > len(f.locals) {
		return fmt.Errorf("local %d out of range", i)
	}
	if i > 0 && f.locals[i-1].wide() {
		f.locals[i-1] = top
	}
	f.locals[i] = t
	if size == 2 {
		f.locals[i+1] = top
	}
	return nil
}

// execute applies the effect of instruction i to f.
func (a *analyzer) execute(i int, in *Insn, f *frame) error {
	pop := func(n int) error {
		_, err := f.pop(n)
		return err
	}
	op := in.Op
	switch {
	case op == Nop:
	case op == AconstNull:
		f.push(nullType)
	case op >= IconstM1 && op <= Iconst5, op == Bipush, op == Sipush:
		f.push(intType)
	case op == Lconst0 || op == Lconst1:
		f.push(longType)
	case op >= Fconst0 && op <= Fconst2:
		f.push(floatType)
	case op == Dconst0 || op == Dconst1:
		f.push(dblType)
	case op == Ldc || op == Ldc2W:
		t, err := a.constantType(a.refs[i])
		if err != nil {
			return err
		}
		f.push(t)
	case op == Iload:
		f.push(intType)
	case op == Lload:
		f.push(longType)
	case op == Fload:
		f.push(floatType)
	case op == Dload:
		f.push(dblType)
	case op == Aload:
		if in.Var >= len(f.locals) {
			return fmt.Errorf("local %d out of range", in.Var)
		}
		f.push(f.locals[in.Var])
	case op == Iaload || op == Baload || op == Caload || op == Saload:
		if err := pop(2); err != nil {
			return err
		}
		f.push(intType)
	case op == Laload:
		if err := pop(2); err != nil {
			return err
		}
		f.push(longType)
	case op == Faload:
		if err := pop(2); err != nil {
			return err
		}
		f.push(floatType)
	case op == Daload:
		if err := pop(2); err != nil {
			return err
		}
		f.push(dblType)
	case op == Aaload:
		v, err := f.pop(2)
		if err != nil {
			return err
		}
		arr := v[0]
		switch {
		case arr.kind == kNull:
			f.push(nullType)
		case arr.kind == kObject && strings.HasPrefix(arr.name, "["):
			f.push(fieldType(arr.name[1:]))
		default:
			f.push(object(ObjectClass))
		}
	case op == Istore:
		if err := pop(1); err != nil {
			return err
		}
		return f.setLocal(in.Var, intType)
	case op == Fstore:
		if err := pop(1); err != nil {
			return err
		}
		return f.setLocal(in.Var, floatType)
	case op == Lstore:
		if err := pop(2); err != nil {
			return err
		}
		return f.setLocal(in.Var, longType)
	case op == Dstore:
		if err := pop(2); err != nil {
			return err
		}
		return f.setLocal(in.Var, dblType)
	case op == Astore:
		v, err := f.pop(1)
		if err != nil {
			return err
		}
		return f.setLocal(in.Var, v[0])
	case op == Lastore || op == Dastore:
		return pop(4)
	case op >= Iastore && op <= Sastore:
		return pop(3)
	case op == Pop:
		return pop(1)
	case op == Pop2:
		return pop(2)
	case op >= Dup && op <= Swap:
		return stackShuffle(f, op)
	case op == Iadd || op == Isub || op == Imul || op == Idiv || op == Irem ||
		op == Ishl || op == Ishr || op == Iushr || op == Iand || op == Ior || op == Ixor:
		if err := pop(2); err != nil {
			return err
		}
		f.push(intType)
	case op == Ladd || op == Lsub || op == Lmul || op == Ldiv || op == Lrem ||
		op == Land || op == Lor || op == Lxor:
		if err := pop(4); err != nil {
			return err
		}
		f.push(longType)
	case op == Lshl || op == Lshr || op == Lushr:
		if err := pop(3); err != nil {
			return err
		}
		f.push(longType)
	case op == Fadd || op == Fsub || op == Fmul || op == Fdiv || op == Frem:
		if err := pop(2); err != nil {
			return err
		}
		f.push(floatType)
	case op == Dadd || op == Dsub || op == Dmul || op == Ddiv || op == Drem:
		if err := pop(4); err != nil {
			return err
		}
		f.push(dblType)
	case op == Ineg || op == Fneg:
		// same type in and out
		if len(f.stack) < 1 {
			return fmt.Errorf("stack underflow")
		}
	case op == Lneg || op == Dneg:
		if len(f.stack) < 2 {
			return fmt.Errorf("stack underflow")
		}
	case op == Iinc:
		return f.setLocal(in.Var, intType)
	case op >= I2l && op <= I2s:
		return convert(f, op)
	case op == Lcmp || op == Dcmpl || op == Dcmpg:
		if err := pop(4); err != nil {
			return err
		}
		f.push(intType)
	case op == Fcmpl || op == Fcmpg:
		if err := pop(2); err != nil {
			return err
		}
		f.push(intType)
	case op >= Ifeq && op <= Ifle, op == Ifnull, op == Ifnonnull:
		return pop(1)
	case op >= IfIcmpeq && op <= IfAcmpne:
		return pop(2)
	case op == Goto:
	case op == Jsr:
		f.push(vtype{kind: kReturnAddress})
	case op == Ret:
	case op == Tableswitch || op == Lookupswitch:
		return pop(1)
	case op == Ireturn || op == Freturn || op == Areturn:
		return pop(1)
	case op == Lreturn || op == Dreturn:
		return pop(2)
	case op == Return:
	case op == Getstatic:
		f.push(fieldType(in.Desc))
	case op == Putstatic:
		return pop(Slots(in.Desc))
	case op == Getfield:
		if err := pop(1); err != nil {
			return err
		}
		f.push(fieldType(in.Desc))
	case op == Putfield:
		return pop(Slots(in.Desc) + 1)
	case op.IsInvoke() || op == Invokedynamic:
		return a.invoke(in, f)
	case op == New:
		f.push(vtype{kind: kUninit, at: i})
	case op == Newarray:
		if err := pop(1); err != nil {
			return err
		}
		desc, ok := newarrayTypes[in.Int]
		if !ok {
			return fmt.Errorf("bad newarray type %d", in.Int)
		}
		f.push(object(desc))
	case op == Anewarray:
		if err := pop(1); err != nil {
			return err
		}
		f.push(object("[" + Descriptor(in.Owner)))
	case op == Arraylength || op == Instanceof:
		if err := pop(1); err != nil {
			return err
		}
		f.push(intType)
	case op == Athrow || op == Monitorenter || op == Monitorexit:
		return pop(1)
	case op == Checkcast:
		if err := pop(1); err != nil {
			return err
		}
		f.push(object(in.Owner))
	case op == Multianewarray:
		if err := pop(in.Int); err != nil {
			return err
		}
		f.push(object(in.Owner))
	default:
		return fmt.Errorf("unsupported opcode")
	}
	return nil
}

var newarrayTypes = map[int]string{
	4: "[Z", 5: "[C", 6: "[F", 7: "[D", 8: "[B", 9: "[S", 10: "[I", 11: "[J",
}

func (a *analyzer) constantType(ref uint16) (vtype, error) {
	c, err := a.pool.At(ref)
	if err != nil {
		return top, err
	}
	switch c.Tag {
	case TagInteger:
		return intType, nil
	case TagFloat:
		return floatType, nil
	case TagLong:
		return longType, nil
	case TagDouble:
		return dblType, nil
	case TagString:
		return object("java/lang/String"), nil
	case TagClass:
		return object("java/lang/Class"), nil
	case TagMethodType:
		return object("java/lang/invoke/MethodType"), nil
	case TagMethodHandle:
		return object("java/lang/invoke/MethodHandle"), nil
	case TagDynamic:
		_, desc, err := a.pool.NameAndType(c.B)
		if err != nil {
			return top, err
		}
		if !ValidField(desc) {
			return top, fmt.Errorf("dynamic constant %d: malformed field descriptor %q", ref, desc)
		}
		return fieldType(desc), nil
	}
	return top, fmt.Errorf("constant pool index %d (tag %d) is not loadable", ref, c.Tag)
}

func (a *analyzer) invoke(in *Insn, f *frame) error {
	params, ret, err := SplitMethod(in.Desc)
	if err != nil {
		return err
	}
	n := 0
	for _, p := range params {
		n += Slots(p)
	}
	if _, err := f.pop(n); err != nil {
		return err
	}
	if in.Op != Invokestatic && in.Op != Invokedynamic {
		recv, err := f.pop(1)
		if err != nil {
			return err
		}
		if in.Op == Invokespecial && in.Name == "<init>" {
			var initialized vtype
			switch recv[0].kind {
			case kUninitThis:
				initialized = object(a.class.Name)
			case kUninit:
				initialized = object(a.insns[recv[0].at].Owner)
			default:
				return fmt.Errorf("<init> called on initialized value")
			}
			for k, t := range f.locals {
				if t == recv[0] {
					f.locals[k] = initialized
				}
			}
			for k, t := range f.stack {
				if t == recv[0] {
					f.stack[k] = initialized
				}
			}
		}
	}
	if ret != "V" {
		f.push(fieldType(ret))
	}
	return nil
}

func convert(f *frame, op Opcode) error {
	var in, out vtype
	switch op {
	case I2l:
		in, out = intType, longType
	case I2f:
		in, out = intType, floatType
	case I2d:
		in, out = intType, dblType
	case L2i:
		in, out = longType, intType
	case L2f:
		in, out = longType, floatType
	case L2d:
		in, out = longType, dblType
	case F2i:
		in, out = floatType, intType
	case F2l:
		in, out = floatType, longType
	case F2d:
		in, out = floatType, dblType
	case D2i:
		in, out = dblType, intType
	case D2l:
		in, out = dblType, longType
	case D2f:
		in, out = dblType, floatType
	default: // i2b, i2c, i2s
		in, out = intType, intType
	}
	n := 1
	if in.wide() {
		n = 2
	}
	if _, err := f.pop(n); err != nil {
		return err
	}
	f.push(out)
	return nil
}

// stackShuffle implements the dup, pop and swap family on slots, which
// covers every category-1/category-2 form at once.
func stackShuffle(f *frame, op Opcode) error {
	need := map[Opcode]int{Dup: 1, DupX1: 2, DupX2: 3, Dup2: 2, Dup2X1: 3, Dup2X2: 4, Swap: 2}[op]
	v, err := f.pop(need)
	if err != nil {
		return err
	}
	var out []vtype
	switch op {
	case Dup:
		out = []vtype{v[0], v[0]}
	case DupX1:
		out = []vtype{v[1], v[0], v[1]}
	case DupX2:
		out = []vtype{v[2], v[0], v[1], v[2]}
	case Dup2:
		out = []vtype{v[0], v[1], v[0], v[1]}
	case Dup2X1:
		out = []vtype{v[1], v[2], v[0], v[1], v[2]}
	case Dup2X2:
		out = []vtype{v[2], v[3], v[0], v[1], v[2], v[3]}
	case Swap:
		out = []vtype{v[1], v[0]}
	}
	f.stack = append(f.stack, out...)
	return nil
}

type deadRange struct {
	start, end int
}

// deadRanges returns the byte ranges of unreachable instructions. Only
// typed analyses report them; without frames dead code is left alone. Each
// range is later filled with nops ending in athrow, which needs one stack
// slot.
func (a *analysis) deadRanges(length int) []deadRange {
	if !a.typed {
		return nil
	}
	var out []deadRange
	open := -1
	for i := range a.insns {
		if a.insns[i].Op == OpLabel {
			continue
		}
		if a.frames[i] == nil {
			if open < 0 {
				open = a.offsets[i]
			}
			continue
		}
		if open >= 0 {
			out = append(out, deadRange{start: open, end: a.offsets[i]})
			open = -1
		}
	}
	if open >= 0 {
		out = append(out, deadRange{start: open, end: length})
	}
	if len(out) > 0 {
		a.maxStack = max(a.maxStack, 1)
	}
	return out
}

type stackMapFrame struct {
	offset int
	locals []vtype
	stack  []vtype
}

// compress turns slots into StackMapTable entries: a wide value is one
// entry and its second slot disappears.
func compress(slots []vtype, trim bool) []vtype {
	var out []vtype
	for i := 0; i < len(slots); i++ {
		out = append(out, slots[i])
		if slots[i].wide() {
			i++
		}
	}
	if trim {
		for len(out) > 0 && out[len(out)-1].kind == kTop {
			out = out[:len(out)-1]
		}
	}
	return out
}

// stackMapTable builds the StackMapTable attribute body, or nil when the
// method needs no explicit frames.
func (a *analysis) stackMapTable(pool *Pool, dead []deadRange) ([]byte, error) {
	need := map[int]bool{}
	for i := range a.insns {
		in := &a.insns[i]
		switch {
		case in.Op == Tableswitch || in.Op == Lookupswitch:
			need[in.Default.index] = true
			for _, t := range in.Targets {
				need[t.index] = true
			}
		case in.Op.IsJump():
			need[in.Target.index] = true
		}
		if in.Op != OpLabel && in.Op.endsBlock() && i+1 < len(a.insns) {
			need[i+1] = true
		}
	}

	firstAt := map[int]int{}
	for i := len(a.insns) - 1; i >= 0; i-- {
		if a.insns[i].Op != OpLabel {
			firstAt[a.offsets[i]] = i
		}
	}

	byOffset := map[int]stackMapFrame{}
	for i := range need {
		off := a.offsets[i]
		j, ok := firstAt[off]
		if !ok || a.frames[j] == nil {
			continue
		}
		f := a.frames[j]
		byOffset[off] = stackMapFrame{offset: off, locals: compress(f.locals, true), stack: compress(f.stack, false)}
	}
	for _, d := range dead {
		byOffset[d.start] = stackMapFrame{offset: d.start, stack: []vtype{object("java/lang/Throwable")}}
	}
	for _, h := range a.handlerTargets() {
		off := a.offsets[h]
		if _, ok := byOffset[off]; ok {
			continue
		}
		if j, ok := firstAt[off]; ok && a.frames[j] != nil {
			f := a.frames[j]
			byOffset[off] = stackMapFrame{offset: off, locals: compress(f.locals, true), stack: compress(f.stack, false)}
		}
	}
	if len(byOffset) == 0 {
		return nil, nil
	}

	frames := make([]stackMapFrame, 0, len(byOffset))
	for _, f := range byOffset {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].offset < frames[j].offset })

	w := &writer{}
	w.count(len(frames), "stack map frame")
	prev := compress(a.entry, true)
	last := -1
	for _, f := range frames {
		delta := f.offset - last - 1
		switch k := len(f.locals) - len(prev); {
		case len(f.stack) == 0 && k == 0 && slices.Equal(f.locals, prev):
			if delta < 64 {
				w.u8(uint8(delta))
			} else {
				w.u8(251)
				w.u16(uint16(delta))
			}
		case len(f.stack) == 1 && k == 0 && slices.Equal(f.locals, prev):
			if delta < 64 {
				w.u8(uint8(64 + delta))
			} else {
				w.u8(247)
				w.u16(uint16(delta))
			}
			if err := a.writeType(w, pool, f.stack[0]); err != nil {
				return nil, err
			}
		case len(f.stack) == 0 && k > 0 && k <= 3 && slices.Equal(f.locals[:len(prev)], prev):
			w.u8(uint8(251 + k))
			w.u16(uint16(delta))
			for _, t := range f.locals[len(prev):] {
				if err := a.writeType(w, pool, t); err != nil {
					return nil, err
				}
			}
		case len(f.stack) == 0 && k < 0 && k >= -3 && slices.Equal(prev[:len(f.locals)], f.locals):
			w.u8(uint8(251 + k))
			w.u16(uint16(delta))
		default:
			w.u8(255)
			w.u16(uint16(delta))
			w.count(len(f.locals), "frame locals")
			for _, t := range f.locals {
				if err := a.writeType(w, pool, t); err != nil {
					return nil, err
				}
			}
			w.count(len(f.stack), "frame stack")
			for _, t := range f.stack {
				if err := a.writeType(w, pool, t); err != nil {
					return nil, err
				}
			}
		}
		prev = f.locals
		last = f.offset
	}
	return w.buf, w.err
}

func (a *analysis) handlerTargets() []int {
	out := make([]int, 0, len(a.handlers))
	for _, h := range a.handlers {
		out = append(out, h.Handler.index)
	}
	return out
}

func (a *analysis) writeType(w *writer, pool *Pool, t vtype) error {
	switch t.kind {
	case kTop:
		w.u8(0)
	case kInt:
		w.u8(1)
	case kFloat:
		w.u8(2)
	case kDouble:
		w.u8(3)
	case kLong:
		w.u8(4)
	case kNull:
		w.u8(5)
	case kUninitThis:
		w.u8(6)
	case kObject:
		i, err := pool.AddClass(t.name)
		if err != nil {
			return err
		}
		w.u8(7)
		w.u16(i)
	case kUninit:
		w.u8(8)
		w.u16(uint16(a.offsets[t.at]))
	default:
		return fmt.Errorf("verification type %d cannot appear in a frame", t.kind)
	}
	return nil
}
