package classfile

import (
	"fmt"
	"math"
)

// Label marks a position in an instruction list. Labels are compared by
// identity.
type Label struct {
	offset int // byte offset, assigned during layout
	index  int // position in the instruction list, assigned during layout
}

// Insn is one entry of a decoded method body: either an instruction or, when
// Op is OpLabel, a position marker.
//
// Short forms are normalized on decode: iload_0 becomes iload with Var 0,
// ldc_w becomes ldc, goto_w becomes goto and wide prefixes disappear. The
// encoder picks the shortest form again.
type Insn struct {
	Op    Opcode
	Label *Label // OpLabel only

	Target *Label // jumps

	// Owner is the class of a field or method reference and the operand of
	// new, anewarray, checkcast, instanceof and multianewarray. For ldc with
	// Index 0 it names the class literal to load.
	Owner     string
	Name      string
	Desc      string
	Interface bool // the method reference is an InterfaceMethodref

	Var   int    // load, store, ret, iinc
	Int   int    // bipush, sipush, iinc increment, newarray type, multianewarray dimensions
	Index uint16 // ldc, ldc2_w, invokedynamic constant pool index

	Default *Label // switches
	Low     int32  // tableswitch
	Keys    []int32
	Targets []*Label
}

// Handler is one exception table entry. CatchType is empty for a catch-all.
type Handler struct {
	Start, End, Handler *Label
	CatchType           string
}

// LineNumber maps the instruction at Start to a source line.
type LineNumber struct {
	Start *Label
	Line  uint16
}

// LocalVariable is a LocalVariableTable or LocalVariableTypeTable entry. For
// the type table Desc holds the generic signature.
type LocalVariable struct {
	Start, End *Label
	Name, Desc string
	Index      uint16
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack, MaxLocals int
	Insns               []Insn
	Handlers            []Handler
	Lines               []LineNumber
	Locals              []LocalVariable
	LocalTypes          []LocalVariable

	// Attributes holds the Code sub-attributes that are not modelled above.
	// They are only written back while the code is unmodified.
	Attributes []Attribute

	raw []byte // original Code attribute body
}

// Modified reports whether the code has to be re-encoded.
func (c *Code) Modified() bool {
	return c.raw == nil
}

// Replace installs a new instruction list. The method will be re-encoded,
// which recomputes maximums and frames.
func (c *Code) Replace(insns []Insn) {
	c.Insns = insns
	c.raw = nil
}

type decodedInsn struct {
	pc      int
	insn    Insn
	targets []int // jump target, or switch default followed by cases
}

func decodeCode(data []byte, pool *Pool) (*Code, error) {
	r := &reader{buf: data}
	code := &Code{raw: data}
	code.MaxStack = int(r.u16())
	code.MaxLocals = int(r.u16())
	length := int(r.u32())
	body := r.bytes(length)
	if r.err != nil {
		return nil, r.err
	}

	decoded, err := decodeInsns(body, pool)
	if err != nil {
		return nil, err
	}

	labels := map[int]*Label{}
	boundary := make(map[int]bool, len(decoded)+1)
	for _, d := range decoded {
		boundary[d.pc] = true
	}
	boundary[len(body)] = true
	labelAt := func(pc int) (*Label, error) {
		if !boundary[pc] {
			return nil, fmt.Errorf("offset %d is not an instruction boundary", pc)
		}
		l, ok := labels[pc]
		if !ok {
			l = &Label{}
			labels[pc] = l
		}
		return l, nil
	}

	for i := range decoded {
		d := &decoded[i]
		if len(d.targets) == 0 {
			continue
		}
		var resolved []*Label
		for _, t := range d.targets {
			l, err := labelAt(t)
			if err != nil {
				return nil, fmt.Errorf("%s at %d: %w", d.insn.Op, d.pc, err)
			}
			resolved = append(resolved, l)
		}
		if d.insn.Op == Tableswitch || d.insn.Op == Lookupswitch {
			d.insn.Default = resolved[0]
			d.insn.Targets = resolved[1:]
		} else {
			d.insn.Target = resolved[0]
		}
	}

	handlers := int(r.u16())
	for i := 0; i < handlers && r.err == nil; i++ {
		start, end, handler, catch := int(r.u16()), int(r.u16()), int(r.u16()), r.u16()
		h := Handler{}
		if h.Start, err = labelAt(start); err != nil {
			return nil, fmt.Errorf("exception table: %w", err)
		}
		if h.End, err = labelAt(end); err != nil {
			return nil, fmt.Errorf("exception table: %w", err)
		}
		if h.Handler, err = labelAt(handler); err != nil {
			return nil, fmt.Errorf("exception table: %w", err)
		}
		if catch != 0 {
			if h.CatchType, err = pool.ClassName(catch); err != nil {
				return nil, fmt.Errorf("exception table: %w", err)
			}
		}
		code.Handlers = append(code.Handlers, h)
	}

	attrs, err := readAttributes(r, pool)
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		switch a.Name {
		case "StackMapTable":
			// recomputed whenever the code is re-encoded
		case "LineNumberTable":
			ar := &reader{buf: a.Data}
			n := int(ar.u16())
			for i := 0; i < n && ar.err == nil; i++ {
				pc, line := int(ar.u16()), ar.u16()
				l, err := labelAt(pc)
				if err != nil {
					return nil, fmt.Errorf("line number table: %w", err)
				}
				code.Lines = append(code.Lines, LineNumber{Start: l, Line: line})
			}
			if ar.err != nil {
				return nil, ar.err
			}
		case "LocalVariableTable", "LocalVariableTypeTable":
			vars, err := decodeLocals(a.Data, pool, labelAt)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.Name, err)
			}
			if a.Name == "LocalVariableTable" {
				code.Locals = vars
			} else {
				code.LocalTypes = vars
			}
		default:
			code.Attributes = append(code.Attributes, a)
		}
	}

	for _, d := range decoded {
		if l, ok := labels[d.pc]; ok {
			code.Insns = append(code.Insns, Insn{Op: OpLabel, Label: l})
		}
		code.Insns = append(code.Insns, d.insn)
	}
	if l, ok := labels[len(body)]; ok {
		code.Insns = append(code.Insns, Insn{Op: OpLabel, Label: l})
	}
	return code, nil
}

func decodeLocals(data []byte, pool *Pool, labelAt func(int) (*Label, error)) ([]LocalVariable, error) {
	r := &reader{buf: data}
	n := int(r.u16())
	vars := make([]LocalVariable, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		start, length := int(r.u16()), int(r.u16())
		nameIdx, descIdx, index := r.u16(), r.u16(), r.u16()
		if r.err != nil {
			break
		}
		v := LocalVariable{Index: index}
		var err error
		if v.Start, err = labelAt(start); err != nil {
			return nil, err
		}
		if v.End, err = labelAt(start + length); err != nil {
			return nil, err
		}
		if v.Name, err = pool.Utf8(nameIdx); err != nil {
			return nil, err
		}
		if v.Desc, err = pool.Utf8(descIdx); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, r.err
}

// decodeInsns decodes a bytecode array. Jump and switch targets are returned
// as absolute offsets.
func decodeInsns(body []byte, pool *Pool) ([]decodedInsn, error) {
	var out []decodedInsn
	r := &reader{buf: body}
	for r.pos < len(body) {
		pc := r.pos
		op := Opcode(r.u8())
		d := decodedInsn{pc: pc, insn: Insn{Op: op}}
		in := &d.insn

		switch {
		case op <= Dconst1, op >= Iaload && op <= Saload, op >= Iastore && op <= Lxor,
			op >= I2l && op <= Dcmpg, op >= Ireturn && op <= Return,
			op == Arraylength, op == Athrow, op == Monitorenter, op == Monitorexit:
			// no operands
		case op == Bipush:
			in.Int = int(int8(r.u8()))
		case op == Sipush:
			in.Int = int(int16(r.u16()))
		case op == Ldc:
			in.Index = uint16(r.u8())
		case op == LdcW:
			in.Op = Ldc
			in.Index = r.u16()
		case op == Ldc2W:
			in.Index = r.u16()
		case op >= Iload && op <= Aload, op >= Istore && op <= Astore, op == Ret:
			in.Var = int(r.u8())
		case op >= Iload0 && op <= Aload3:
			n := op - Iload0
			in.Op = Iload + n/4
			in.Var = int(n % 4)
		case op >= Istore0 && op <= Astore3:
			n := op - Istore0
			in.Op = Istore + n/4
			in.Var = int(n % 4)
		case op == Iinc:
			in.Var = int(r.u8())
			in.Int = int(int8(r.u8()))
		case op >= Ifeq && op <= Jsr, op == Ifnull, op == Ifnonnull:
			d.targets = []int{pc + int(int16(r.u16()))}
		case op == GotoW || op == JsrW:
			in.Op = Goto
			if op == JsrW {
				in.Op = Jsr
			}
			d.targets = []int{pc + int(int32(r.u32()))}
		case op == Tableswitch || op == Lookupswitch:
			r.skip((4 - (pc+1)%4) % 4)
			d.targets = []int{pc + int(int32(r.u32()))}
			if op == Tableswitch {
				low, high := int32(r.u32()), int32(r.u32())
				if r.err == nil && (high < low || int64(high)-int64(low) >= math.MaxUint16) {
					return nil, fmt.Errorf("tableswitch at %d: bad range %d..%d", pc, low, high)
				}
				in.Low = low
				for i := int64(low); i <= int64(high) && r.err == nil; i++ {
					d.targets = append(d.targets, pc+int(int32(r.u32())))
				}
			} else {
				n := int32(r.u32())
				if r.err == nil && (n < 0 || n > math.MaxUint16) {
					return nil, fmt.Errorf("lookupswitch at %d: bad pair count %d", pc, n)
				}
				for i := int32(0); i < n && r.err == nil; i++ {
					in.Keys = append(in.Keys, int32(r.u32()))
					d.targets = append(d.targets, pc+int(int32(r.u32())))
				}
			}
		case op.IsFieldAccess() || op.IsInvoke():
			ref, err := pool.Member(r.u16())
			if r.err != nil {
				break
			}
			if err == nil {
				err = checkRefDescriptor(op, ref.Desc)
			}
			if err != nil {
				return nil, fmt.Errorf("%s at %d: %w", op, pc, err)
			}
			in.Owner, in.Name, in.Desc = ref.Owner, ref.Name, ref.Desc
			in.Interface = ref.Tag == TagInterfaceMethodref
			if op == Invokeinterface {
				r.skip(2)
			}
		case op == Invokedynamic:
			in.Index = r.u16()
			r.skip(2)
			if r.err != nil {
				break
			}
			c, err := pool.expect(in.Index, TagInvokeDynamic)
			if err != nil {
				return nil, fmt.Errorf("invokedynamic at %d: %w", pc, err)
			}
			if in.Name, in.Desc, err = pool.NameAndType(c.B); err != nil {
				return nil, fmt.Errorf("invokedynamic at %d: %w", pc, err)
			}
		case op == New || op == Anewarray || op == Checkcast || op == Instanceof || op == Multianewarray:
			name, err := pool.ClassName(r.u16())
			if op == Multianewarray {
				in.Int = int(r.u8())
			}
			if r.err != nil {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("%s at %d: %w", op, pc, err)
			}
			in.Owner = name
		case op == Newarray:
			in.Int = int(r.u8())
		case op == Wide:
			wop := Opcode(r.u8())
			in.Op = wop
			switch {
			case wop >= Iload && wop <= Aload, wop >= Istore && wop <= Astore, wop == Ret:
				in.Var = int(r.u16())
			case wop == Iinc:
				in.Var = int(r.u16())
				in.Int = int(int16(r.u16()))
			default:
				if r.err == nil {
					return nil, fmt.Errorf("wide at %d: cannot widen %s", pc, wop)
				}
			}
		default:
			return nil, fmt.Errorf("unknown opcode %d at %d", uint16(op), pc)
		}
		if r.err != nil {
			return nil, fmt.Errorf("%s at %d: %w", op, pc, r.err)
		}
		out = append(out, d)
	}
	return out, nil
}
