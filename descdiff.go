package bytecompat

import (
	"errors"
	"fmt"

	"github.com/pboyd/bytecompat/internal/classfile"
)

type descDifferences struct {
	In  []*argDifference
	Out *argDifference
}

// Error reports each mismatch on its own line, or nil if there are none.
func (d *descDifferences) Error() error {
	errs := []error{}
	for i, arg := range d.In {
		if arg != nil {
			errs = append(errs, fmt.Errorf("argument %d: %s != %s", i, orNone(arg.A), orNone(arg.B)))
		}
	}
	if d.Out != nil {
		errs = append(errs, fmt.Errorf("return: %s cannot stand in for %s", d.Out.B, d.Out.A))
	}

	return errors.Join(errs...)
}

type argDifference struct {
	A string
	B string
}

func orNone(desc string) string {
	if desc == "" {
		return "(none)"
	}
	return desc
}

// diffDescriptors compares the method descriptor callers were compiled
// against (a) with the one that replaced it (b). Parameters must match
// exactly. The return is acceptable when both are the same, when a was
// void, or when both are references and a cast can bridge them.
func diffDescriptors(a, b string) (*descDifferences, error) {
	aIn, aOut, err := classfile.SplitMethod(a)
	if err != nil {
		return nil, err
	}
	bIn, bOut, err := classfile.SplitMethod(b)
	if err != nil {
		return nil, err
	}

	diff := descDifferences{In: make([]*argDifference, max(len(aIn), len(bIn)))}
	for i := range diff.In {
		var x, y string
		if i < len(aIn) {
			x = aIn[i]
		}
		if i < len(bIn) {
			y = bIn[i]
		}
		if x != y {
			diff.In[i] = &argDifference{A: x, B: y}
		}
	}

	if !returnCompatible(aOut, bOut) {
		diff.Out = &argDifference{A: aOut, B: bOut}
	}

	return &diff, nil
}

// returnCompatible reports whether a value of descriptor now can be handed
// to code expecting was, possibly after a pop or a checkcast.
func returnCompatible(was, now string) bool {
	switch {
	case was == now, was == "V":
		return true
	case now == "V":
		return false
	}
	return classfile.IsReference(was) && classfile.IsReference(now)
}
