package bytecompat

import (
	"fmt"
	"log/slog"

	"github.com/pboyd/bytecompat/internal/classfile"
)

const (
	// minMajor is the lowest version a rewritten class file may have. ldc
	// of a class literal needs 49.
	minMajor = 49

	// minInterfaceMajor is the lowest version that allows the private
	// static helpers in an interface.
	minInterfaceMajor = 52
)

// rewriteUnit runs one pass over every method body of image. It returns
// image itself when no access site was rewritten.
func rewriteUnit(table *ruleTable, image []byte, locator Locator, log *slog.Logger) ([]byte, error) {
	cls, err := classfile.Parse(image)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	checks := newTypeCheck(cls)
	sites := 0
	for _, m := range cls.Methods {
		if m.Code == nil {
			continue
		}
		n, err := rewriteMethod(table, checks, m)
		if err != nil {
			return nil, fmt.Errorf("rewrite: %s%s: %w", m.Name, m.Desc, err)
		}
		if n == 0 {
			continue
		}
		sites += n
		log.Debug("rewrote method", "method", m.Name+m.Desc, "sites", n)
		if len(m.Code.Attributes) > 0 {
			names := make([]string, len(m.Code.Attributes))
			for i, a := range m.Code.Attributes {
				names[i] = a.Name
			}
			log.Debug("dropping code attributes", "method", m.Name+m.Desc, "attributes", names)
			m.Code.Attributes = nil
		}
	}
	if sites == 0 {
		log.Debug("not modified")
		return image, nil
	}
	if cls.IsInterface() && cls.Major < minInterfaceMajor {
		log.Warn("interface is too old to hold helper methods, leaving it unchanged", "version", cls.Major, "sites", sites)
		return image, nil
	}

	checks.synthesizeHelpers()
	if cls.Major < minMajor {
		cls.Major, cls.Minor = minMajor, 0
	}

	out, err := classfile.Encode(cls, newResolver(cls, locator))
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	log.Debug("modified", "sites", sites, "helpers", len(checks.suspected))
	return out, nil
}

// rewriteMethod re-emits the body of m through the rule table and returns
// the number of rewritten sites. The body is only replaced when that number
// is not zero.
func rewriteMethod(table *ruleTable, checks *typeCheck, m *classfile.Member) (int, error) {
	var out classfile.InsnList
	n := 0
	for i := range m.Code.Insns {
		in := &m.Code.Insns[i]
		if !in.Op.IsFieldAccess() && !in.Op.IsInvoke() {
			out.Add(*in)
			continue
		}
		if in.Owner == "" {
			return 0, fmt.Errorf("%s without an owner", in.Op)
		}
		if table.rewrite(checks, siteOf(in), &out) {
			n++
		}
	}
	if n > 0 {
		m.Code.Replace(out.Insns())
	}
	return n, nil
}
