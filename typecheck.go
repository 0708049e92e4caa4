package bytecompat

import (
	"strconv"

	"github.com/pboyd/bytecompat/internal/classfile"
)

const (
	checkMethodPrefix = "____isAssignableFrom"
	checkMethodDesc   = "(Ljava/lang/Class;)Z"
	illegalAccess     = "java/lang/IllegalAccessError"
)

// typeCheck remembers which assignability helpers the class being rewritten
// needs.
//
// "Suspected.class.isAssignableFrom(Owner.class)" cannot be emitted inline
// because Suspected might not be accessible from the class. Owner always is,
// since the original code already refers to it. So the check is moved into
// a private static helper per suspected type that treats IllegalAccessError
// as "not assignable".
type typeCheck struct {
	class     *classfile.Class
	index     map[string]int
	suspected []string
	names     []string
}

func newTypeCheck(c *classfile.Class) *typeCheck {
	return &typeCheck{class: c, index: map[string]int{}}
}

// requestCheck returns the helper index for a suspected declaring type,
// allocating one the first time the type is seen.
func (t *typeCheck) requestCheck(suspected string) int {
	if i, ok := t.index[suspected]; ok {
		return i
	}
	i := len(t.suspected)
	t.index[suspected] = i
	t.suspected = append(t.suspected, suspected)
	t.names = append(t.names, t.freeName(i))
	return i
}

func (t *typeCheck) freeName(i int) string {
	name := checkMethodPrefix + strconv.Itoa(i)
	for t.class.HasMethodNamed(name) {
		name += "$"
	}
	return name
}

// emitCheckCall emits "ldc owner; invokestatic helper", leaving an int on
// the stack that is non-zero when the helper's suspected type is assignable
// from owner.
func (t *typeCheck) emitCheckCall(i int, owner string, out *classfile.InsnList) {
	out.Class(owner)
	out.Invoke(classfile.Invokestatic, t.class.Name, t.names[i], checkMethodDesc, t.class.IsInterface())
}

func (t *typeCheck) empty() bool {
	return len(t.suspected) == 0
}

// synthesizeHelpers appends one helper per requested check:
//
//	private static boolean ____isAssignableFromN(Class t) {
//	    try {
//	        return Suspected.class.isAssignableFrom(t);
//	    } catch (IllegalAccessError e) {
//	        return false;
//	    }
//	}
func (t *typeCheck) synthesizeHelpers() {
	for i, suspected := range t.suspected {
		start, end, handler := &classfile.Label{}, &classfile.Label{}, &classfile.Label{}

		var l classfile.InsnList
		l.Mark(start)
		l.Class(suspected)
		l.Var(classfile.Aload, 0)
		l.Invoke(classfile.Invokevirtual, "java/lang/Class", "isAssignableFrom", checkMethodDesc, false)
		l.Op(classfile.Ireturn)
		l.Mark(end)
		l.Mark(handler)
		l.Op(classfile.Pop)
		l.Int(0)
		l.Op(classfile.Ireturn)

		t.class.Methods = append(t.class.Methods, &classfile.Member{
			Access: classfile.AccPrivate | classfile.AccStatic | classfile.AccSynthetic,
			Name:   t.names[i],
			Desc:   checkMethodDesc,
			Code: &classfile.Code{
				Insns: l.Insns(),
				Handlers: []classfile.Handler{
					{Start: start, End: end, Handler: handler, CatchType: illegalAccess},
				},
			},
		})
	}
}
