package classfile

import (
	"fmt"
	"strings"
)

// ObjectClass is the internal name of the root of the class hierarchy.
const ObjectClass = "java/lang/Object"

// IsReference reports whether a field descriptor names a class or array
// type.
func IsReference(desc string) bool {
	return strings.HasPrefix(desc, "L") || strings.HasPrefix(desc, "[")
}

// InternalName returns the name used by class-typed instructions (checkcast,
// ldc, anewarray) for a reference descriptor. Array descriptors are their
// own internal name.
func InternalName(desc string) string {
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		return desc[1 : len(desc)-1]
	}
	return desc
}

// Descriptor returns the field descriptor for an internal name.
func Descriptor(internalName string) string {
	if strings.HasPrefix(internalName, "[") {
		return internalName
	}
	return "L" + internalName + ";"
}

// Slots returns the number of local variable or operand stack slots a value
// of the field descriptor occupies. void occupies none.
func Slots(desc string) int {
	switch desc {
	case "J", "D":
		return 2
	case "V", "":
		return 0
	}
	return 1
}

// fieldDescriptorLen returns the length of the field descriptor at the start
// of s, or 0 if s does not start with one.
func fieldDescriptorLen(s string) int {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end <= 1 {
			return 0
		}
		return i + end + 1
	}
	return 0
}

// ValidField reports whether desc is a single well-formed field descriptor.
func ValidField(desc string) bool {
	return desc != "" && fieldDescriptorLen(desc) == len(desc)
}

// SplitMethod splits a method descriptor into its parameter descriptors and
// return descriptor.
func SplitMethod(desc string) (params []string, ret string, err error) {
	if !strings.HasPrefix(desc, "(") {
		return nil, "", fmt.Errorf("malformed method descriptor %q", desc)
	}
	rest := desc[1:]
	for !strings.HasPrefix(rest, ")") {
		n := fieldDescriptorLen(rest)
		if n == 0 {
			return nil, "", fmt.Errorf("malformed method descriptor %q", desc)
		}
		params = append(params, rest[:n])
		rest = rest[n:]
	}
	ret = rest[1:]
	if ret != "V" && !ValidField(ret) {
		return nil, "", fmt.Errorf("malformed method descriptor %q", desc)
	}
	return params, ret, nil
}

// checkRefDescriptor rejects a member reference whose descriptor does not
// suit the instruction using it.
func checkRefDescriptor(op Opcode, desc string) error {
	if op.IsFieldAccess() {
		if !ValidField(desc) {
			return fmt.Errorf("malformed field descriptor %q", desc)
		}
		return nil
	}
	_, _, err := SplitMethod(desc)
	return err
}

// ArgSlots returns the number of slots taken by the parameters of a method
// descriptor.
func ArgSlots(desc string) (int, error) {
	params, _, err := SplitMethod(desc)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range params {
		n += Slots(p)
	}
	return n, nil
}
