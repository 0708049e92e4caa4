package classfile

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Disassemble returns a listing of every method body in a class file image.
// Each instruction is printed with its offset, its encoded bytes and its
// operands resolved through the constant pool.
func Disassemble(image []byte) (string, error) {
	c, err := Parse(image)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "class %s version %d.%d\n", c.Name, c.Major, c.Minor)
	for _, m := range c.Methods {
		fmt.Fprintf(&buf, "\n%s%s", m.Name, m.Desc)
		if m.Code == nil {
			buf.WriteString(" (no code)\n")
			continue
		}
		r := &reader{buf: m.Code.raw}
		maxStack, maxLocals := r.u16(), r.u16()
		body := r.bytes(int(r.u32()))
		if r.err != nil {
			return "", r.err
		}
		fmt.Fprintf(&buf, " stack=%d locals=%d\n", maxStack, maxLocals)

		decoded, err := decodeInsns(body, c.Pool)
		if err != nil {
			return "", fmt.Errorf("%s%s: %w", m.Name, m.Desc, err)
		}
		for i, d := range decoded {
			end := len(body)
			if i+1 < len(decoded) {
				end = decoded[i+1].pc
			}
			fmt.Fprintf(&buf, "%6d\t%-20s\t%s\n", d.pc, hex.EncodeToString(body[d.pc:end]), formatInsn(c.Pool, &d))
		}
	}
	return buf.String(), nil
}

func formatInsn(pool *Pool, d *decodedInsn) string {
	in := &d.insn
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	switch op := in.Op; {
	case op.IsFieldAccess() || op.IsInvoke():
		fmt.Fprintf(&sb, " %s.%s:%s", in.Owner, in.Name, in.Desc)
	case op == Invokedynamic:
		fmt.Fprintf(&sb, " #%d %s:%s", in.Index, in.Name, in.Desc)
	case op == New || op == Anewarray || op == Checkcast || op == Instanceof:
		fmt.Fprintf(&sb, " %s", in.Owner)
	case op == Multianewarray:
		fmt.Fprintf(&sb, " %s %d", in.Owner, in.Int)
	case op == Ldc || op == Ldc2W:
		fmt.Fprintf(&sb, " #%d", in.Index)
		if s := formatConstant(pool, in.Index); s != "" {
			sb.WriteString(" " + s)
		}
	case op >= Iload && op <= Aload, op >= Istore && op <= Astore, op == Ret:
		fmt.Fprintf(&sb, " %d", in.Var)
	case op == Iinc:
		fmt.Fprintf(&sb, " %d %d", in.Var, in.Int)
	case op == Bipush || op == Sipush || op == Newarray:
		fmt.Fprintf(&sb, " %d", in.Int)
	case op == Tableswitch:
		fmt.Fprintf(&sb, " default:%d", d.targets[0])
		for i, t := range d.targets[1:] {
			fmt.Fprintf(&sb, " %d:%d", int64(in.Low)+int64(i), t)
		}
	case op == Lookupswitch:
		fmt.Fprintf(&sb, " default:%d", d.targets[0])
		for i, t := range d.targets[1:] {
			fmt.Fprintf(&sb, " %d:%d", in.Keys[i], t)
		}
	case len(d.targets) == 1:
		fmt.Fprintf(&sb, " %d", d.targets[0])
	}
	return sb.String()
}

func formatConstant(pool *Pool, i uint16) string {
	c, err := pool.At(i)
	if err != nil {
		return ""
	}
	switch c.Tag {
	case TagInteger:
		return strconv.Itoa(int(int32(uint32(c.Value))))
	case TagLong:
		return strconv.FormatInt(int64(c.Value), 10) + "L"
	case TagString:
		s, _ := pool.Utf8(c.A)
		return strconv.Quote(s)
	case TagClass:
		s, _ := pool.ClassName(i)
		return s + ".class"
	}
	return ""
}
