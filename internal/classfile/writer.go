package classfile

import (
	"errors"
	"fmt"
	"slices"

	"fortio.org/safecast"
)

// Hierarchy answers the class hierarchy question frame computation needs
// when two control-flow paths carry different reference types.
type Hierarchy interface {
	CommonSuperClass(a, b string) (string, error)
}

// Encode serializes c. Methods whose code was not modified keep their
// original Code attribute. Modified methods are re-encoded; for major
// version 50 and above their StackMapTable is recomputed using h.
//
// Branches keep their instruction: goto and the conditional jumps are never
// widened to goto_w. A method whose branch offsets no longer fit in 16 bits
// after rewriting fails with ErrTooLarge.
func Encode(c *Class, h Hierarchy) ([]byte, error) {
	pool := c.Pool
	if pool == nil {
		pool = NewPool()
		c.Pool = pool
	}
	body := &writer{}
	idx := func(i uint16, err error) uint16 {
		if err != nil && body.err == nil {
			body.err = err
		}
		return i
	}

	body.u16(c.Access)
	body.u16(idx(pool.AddClass(c.Name)))
	if c.Super == "" {
		body.u16(0)
	} else {
		body.u16(idx(pool.AddClass(c.Super)))
	}
	body.count(len(c.Interfaces), "interface")
	for _, i := range c.Interfaces {
		body.u16(idx(pool.AddClass(i)))
	}

	body.count(len(c.Fields), "field")
	for _, f := range c.Fields {
		if err := writeMember(body, c, f, h); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	body.count(len(c.Methods), "method")
	for _, m := range c.Methods {
		if err := writeMember(body, c, m, h); err != nil {
			return nil, fmt.Errorf("method %s%s: %w", m.Name, m.Desc, err)
		}
	}
	writeAttributes(body, pool, c.Attributes)
	if body.err != nil {
		return nil, body.err
	}

	// The pool goes last because writing everything else may append to it.
	out := &writer{buf: make([]byte, 0, len(body.buf)+pool.Len()*8+10)}
	out.u32(Magic)
	out.u16(c.Minor)
	out.u16(c.Major)
	pool.write(out)
	out.raw(body.buf)
	if out.err != nil {
		return nil, out.err
	}
	return out.buf, nil
}

func writeMember(w *writer, c *Class, m *Member, h Hierarchy) error {
	name, err := c.Pool.AddUtf8(m.Name)
	if err != nil {
		return err
	}
	desc, err := c.Pool.AddUtf8(m.Desc)
	if err != nil {
		return err
	}
	w.u16(m.Access)
	w.u16(name)
	w.u16(desc)

	n := len(m.Attributes)
	if m.Code != nil {
		n++
	}
	w.count(n, "attribute")
	if m.Code != nil {
		data := m.Code.raw
		if m.Code.Modified() {
			if data, err = encodeCode(c, m, h); err != nil {
				return err
			}
		}
		codeName, err := c.Pool.AddUtf8("Code")
		if err != nil {
			return err
		}
		w.attribute(codeName, data)
	}
	for _, a := range m.Attributes {
		i, err := c.Pool.AddUtf8(a.Name)
		if err != nil {
			return err
		}
		w.attribute(i, a.Data)
	}
	return w.err
}

func writeAttributes(w *writer, pool *Pool, attrs []Attribute) {
	w.count(len(attrs), "attribute")
	for _, a := range attrs {
		i, err := pool.AddUtf8(a.Name)
		if err != nil && w.err == nil {
			w.err = err
		}
		w.attribute(i, a.Data)
	}
}

// errJSR is returned by frame analysis for code that uses subroutines.
var errJSR = errors.New("jsr/ret cannot be described by stack map frames")

func encodeCode(c *Class, m *Member, h Hierarchy) ([]byte, error) {
	code := m.Code
	refs, err := internOperands(c.Pool, code.Insns)
	if err != nil {
		return nil, err
	}
	offsets, length, err := layout(code.Insns, refs)
	if err != nil {
		return nil, err
	}
	if err := checkLabels(code); err != nil {
		return nil, err
	}

	typed := c.Major >= 50
	a, err := analyze(c, m, refs, offsets, typed, h)
	if errors.Is(err, errJSR) && c.Major == 50 {
		// Version 50 verifiers fall back to type inference when there is
		// no usable StackMapTable.
		typed = false
		a, err = analyze(c, m, refs, offsets, false, h)
	}
	if err != nil {
		return nil, fmt.Errorf("computing frames: %w", err)
	}

	dead := a.deadRanges(length)

	w := &writer{}
	w.count(a.maxStack, "max_stack")
	w.count(a.maxLocals, "max_locals")
	w.length(length, "code")
	start := len(w.buf)
	for i := range code.Insns {
		writeInsn(w, &code.Insns[i], refs[i], start)
	}
	if w.err != nil {
		return nil, w.err
	}
	for _, d := range dead {
		for pc := d.start; pc < d.end-1; pc++ {
			w.buf[start+pc] = byte(Nop)
		}
		w.buf[start+d.end-1] = byte(Athrow)
	}

	handlers, err := liveHandlers(c.Pool, code.Handlers, dead)
	if err != nil {
		return nil, err
	}
	w.count(len(handlers), "exception table")
	for _, e := range handlers {
		w.u16(uint16(e.start))
		w.u16(uint16(e.end))
		w.u16(uint16(e.handler))
		w.u16(e.catch)
	}

	var attrs []Attribute
	if typed {
		smt, err := a.stackMapTable(c.Pool, dead)
		if err != nil {
			return nil, err
		}
		if smt != nil {
			attrs = append(attrs, Attribute{Name: "StackMapTable", Data: smt})
		}
	}
	if len(code.Lines) > 0 {
		lw := &writer{}
		lw.count(len(code.Lines), "line number")
		for _, l := range code.Lines {
			lw.u16(uint16(l.Start.offset))
			lw.u16(l.Line)
		}
		attrs = append(attrs, Attribute{Name: "LineNumberTable", Data: lw.buf})
	}
	for _, t := range []struct {
		name string
		vars []LocalVariable
	}{{"LocalVariableTable", code.Locals}, {"LocalVariableTypeTable", code.LocalTypes}} {
		if len(t.vars) == 0 {
			continue
		}
		data, err := encodeLocals(c.Pool, t.vars)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.name, err)
		}
		attrs = append(attrs, Attribute{Name: t.name, Data: data})
	}
	writeAttributes(w, c.Pool, attrs)
	if w.err != nil {
		return nil, w.err
	}
	code.MaxStack, code.MaxLocals = a.maxStack, a.maxLocals
	return w.buf, nil
}

func encodeLocals(pool *Pool, vars []LocalVariable) ([]byte, error) {
	w := &writer{}
	w.count(len(vars), "local variable")
	for _, v := range vars {
		name, err := pool.AddUtf8(v.Name)
		if err != nil {
			return nil, err
		}
		desc, err := pool.AddUtf8(v.Desc)
		if err != nil {
			return nil, err
		}
		w.u16(uint16(v.Start.offset))
		w.count(v.End.offset-v.Start.offset, "local variable range")
		w.u16(name)
		w.u16(desc)
		w.u16(v.Index)
	}
	return w.buf, w.err
}

// internOperands resolves the constant pool index every instruction refers
// to, adding entries for references introduced by a rewrite.
func internOperands(pool *Pool, insns []Insn) ([]uint16, error) {
	refs := make([]uint16, len(insns))
	for i := range insns {
		in := &insns[i]
		var err error
		switch {
		case in.Op.IsFieldAccess():
			refs[i], err = pool.AddMember(TagFieldref, in.Owner, in.Name, in.Desc)
		case in.Op.IsInvoke():
			tag := uint8(TagMethodref)
			if in.Interface {
				tag = TagInterfaceMethodref
			}
			refs[i], err = pool.AddMember(tag, in.Owner, in.Name, in.Desc)
		case in.Op == New, in.Op == Anewarray, in.Op == Checkcast, in.Op == Instanceof, in.Op == Multianewarray:
			refs[i], err = pool.AddClass(in.Owner)
		case in.Op == Ldc && in.Index == 0:
			if in.Owner == "" {
				return nil, fmt.Errorf("ldc at %d has no constant", i)
			}
			refs[i], err = pool.AddClass(in.Owner)
		case in.Op == Ldc, in.Op == Ldc2W, in.Op == Invokedynamic:
			refs[i] = in.Index
		}
		if err != nil {
			return nil, err
		}
	}
	return refs, nil
}

func insnSize(in *Insn, pc int, ref uint16) int {
	switch op := in.Op; {
	case op == OpLabel:
		return 0
	case op == Bipush, op == Newarray:
		return 2
	case op == Ldc:
		if ref <= 0xff {
			return 2
		}
		return 3
	case op >= Iload && op <= Aload, op >= Istore && op <= Astore:
		switch {
		case in.Var <= 3:
			return 1
		case in.Var <= 0xff:
			return 2
		}
		return 4
	case op == Ret:
		if in.Var <= 0xff {
			return 2
		}
		return 4
	case op == Iinc:
		if in.Var <= 0xff && in.Int >= -128 && in.Int <= 127 {
			return 3
		}
		return 6
	case op == Tableswitch:
		return 1 + (4-(pc+1)%4)%4 + 12 + 4*len(in.Targets)
	case op == Lookupswitch:
		return 1 + (4-(pc+1)%4)%4 + 8 + 8*len(in.Targets)
	case op == Invokeinterface, op == Invokedynamic:
		return 5
	case op == Multianewarray:
		return 4
	case op == Sipush, op == Ldc2W, op.IsJump(), op.IsFieldAccess(), op.IsInvoke(),
		op == New, op == Anewarray, op == Checkcast, op == Instanceof:
		return 3
	}
	return 1
}

// layout assigns an offset to every instruction and label and returns the
// offsets along with the code length.
func layout(insns []Insn, refs []uint16) ([]int, int, error) {
	offsets := make([]int, len(insns))
	pc := 0
	for i := range insns {
		in := &insns[i]
		offsets[i] = pc
		if in.Op == OpLabel {
			in.Label.offset = pc
			in.Label.index = i
		}
		pc += insnSize(in, pc, refs[i])
	}
	if pc == 0 || pc > 0xffff {
		return nil, 0, fmt.Errorf("%w: code length %d", ErrTooLarge, pc)
	}
	return offsets, pc, nil
}

// checkLabels makes sure every label the code refers to was placed.
func checkLabels(code *Code) error {
	placed := map[*Label]bool{}
	for _, in := range code.Insns {
		if in.Op == OpLabel {
			placed[in.Label] = true
		}
	}
	check := func(l *Label, what string) error {
		if l == nil || !placed[l] {
			return fmt.Errorf("%s refers to a label that is not in the code", what)
		}
		return nil
	}
	for _, in := range code.Insns {
		var err error
		switch {
		case in.Op == Tableswitch || in.Op == Lookupswitch:
			err = check(in.Default, in.Op.String())
			for _, t := range in.Targets {
				err = errors.Join(err, check(t, in.Op.String()))
			}
		case in.Op.IsJump():
			err = check(in.Target, in.Op.String())
		}
		if err != nil {
			return err
		}
	}
	for _, h := range code.Handlers {
		if err := errors.Join(check(h.Start, "handler"), check(h.End, "handler"), check(h.Handler, "handler")); err != nil {
			return err
		}
	}
	for _, l := range code.Lines {
		if err := check(l.Start, "line number"); err != nil {
			return err
		}
	}
	for _, v := range append(slices.Clone(code.Locals), code.LocalTypes...) {
		if err := errors.Join(check(v.Start, "local variable"), check(v.End, "local variable")); err != nil {
			return err
		}
	}
	return nil
}

func branch(w *writer, from int, to *Label, wide bool) {
	off := to.offset - from
	if wide {
		w.u32(uint32(int32(off)))
		return
	}
	v, err := safecast.Conv[int16](off)
	if err != nil && w.err == nil {
		w.err = fmt.Errorf("%w: branch offset %d at %d", ErrTooLarge, off, from)
	}
	w.u16(uint16(v))
}

// writeInsn encodes one instruction. base is the position of the first code
// byte in w.
func writeInsn(w *writer, in *Insn, ref uint16, base int) {
	op := in.Op
	pc := len(w.buf) - base
	switch {
	case op == OpLabel:
	case op == Bipush:
		w.u8(byte(op))
		w.u8(uint8(int8(in.Int)))
	case op == Sipush:
		w.u8(byte(op))
		w.u16(uint16(int16(in.Int)))
	case op == Newarray:
		w.u8(byte(op))
		w.u8(uint8(in.Int))
	case op == Ldc:
		if ref <= 0xff {
			w.u8(byte(Ldc))
			w.u8(uint8(ref))
		} else {
			w.u8(byte(LdcW))
			w.u16(ref)
		}
	case op == Ldc2W:
		w.u8(byte(op))
		w.u16(ref)
	case op >= Iload && op <= Aload, op >= Istore && op <= Astore:
		short := Iload0 + (op-Iload)*4
		if op >= Istore {
			short = Istore0 + (op-Istore)*4
		}
		switch {
		case in.Var <= 3:
			w.u8(byte(short + Opcode(in.Var)))
		case in.Var <= 0xff:
			w.u8(byte(op))
			w.u8(uint8(in.Var))
		default:
			w.u8(byte(Wide))
			w.u8(byte(op))
			w.u16(uint16(in.Var))
		}
	case op == Ret:
		if in.Var <= 0xff {
			w.u8(byte(op))
			w.u8(uint8(in.Var))
		} else {
			w.u8(byte(Wide))
			w.u8(byte(op))
			w.u16(uint16(in.Var))
		}
	case op == Iinc:
		if in.Var <= 0xff && in.Int >= -128 && in.Int <= 127 {
			w.u8(byte(op))
			w.u8(uint8(in.Var))
			w.u8(uint8(int8(in.Int)))
		} else {
			w.u8(byte(Wide))
			w.u8(byte(op))
			w.u16(uint16(in.Var))
			w.u16(uint16(int16(in.Int)))
		}
	case op.IsJump():
		w.u8(byte(op))
		branch(w, pc, in.Target, false)
	case op == Tableswitch || op == Lookupswitch:
		w.u8(byte(op))
		for (len(w.buf)-base)%4 != 0 {
			w.u8(0)
		}
		branch(w, pc, in.Default, true)
		if op == Tableswitch {
			w.u32(uint32(in.Low))
			w.u32(uint32(in.Low + int32(len(in.Targets)) - 1))
			for _, t := range in.Targets {
				branch(w, pc, t, true)
			}
		} else {
			w.u32(uint32(len(in.Targets)))
			for i, t := range in.Targets {
				w.u32(uint32(in.Keys[i]))
				branch(w, pc, t, true)
			}
		}
	case op == Invokeinterface:
		w.u8(byte(op))
		w.u16(ref)
		n, err := ArgSlots(in.Desc)
		if err != nil && w.err == nil {
			w.err = err
		}
		w.u8(uint8(n + 1))
		w.u8(0)
	case op == Invokedynamic:
		w.u8(byte(op))
		w.u16(ref)
		w.u16(0)
	case op == Multianewarray:
		w.u8(byte(op))
		w.u16(ref)
		w.u8(uint8(in.Int))
	case op.IsFieldAccess(), op.IsInvoke(), op == New, op == Anewarray, op == Checkcast, op == Instanceof:
		w.u8(byte(op))
		w.u16(ref)
	default:
		w.u8(byte(op))
	}
}

type handlerRange struct {
	start, end, handler int
	catch               uint16
}

// liveHandlers converts the exception table to offsets, cutting out code
// that was replaced because it is unreachable.
func liveHandlers(pool *Pool, handlers []Handler, dead []deadRange) ([]handlerRange, error) {
	var out []handlerRange
	for _, h := range handlers {
		var catch uint16
		if h.CatchType != "" {
			var err error
			if catch, err = pool.AddClass(h.CatchType); err != nil {
				return nil, err
			}
		}
		ranges := [][2]int{{h.Start.offset, h.End.offset}}
		for _, d := range dead {
			var next [][2]int
			for _, r := range ranges {
				if d.end <= r[0] || d.start >= r[1] {
					next = append(next, r)
					continue
				}
				if r[0] < d.start {
					next = append(next, [2]int{r[0], d.start})
				}
				if d.end < r[1] {
					next = append(next, [2]int{d.end, r[1]})
				}
			}
			ranges = next
		}
		for _, r := range ranges {
			if r[0] < r[1] {
				out = append(out, handlerRange{start: r[0], end: r[1], handler: h.Handler.offset, catch: catch})
			}
		}
	}
	return out, nil
}
