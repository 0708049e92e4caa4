// Rewrite Java class files so they keep working after a dependency changes
// the type or name of a member.
//
// A rule says that a member of some class used to look different: a field
// that was a List is now an ArrayList, a field that became a getter and a
// setter, a method whose return type was narrowed. Transform finds every
// instruction in a class file that accesses such a member the old way and
// replaces it with code that works against the new shape. Nothing is
// recompiled and call sites keep their original bytecode as a fallback.
//
// The class named in an instruction may only inherit the member, and
// unrelated classes may declare members with the same name and descriptor.
// So every rewritten site is guarded by a runtime check that the rule's
// declaring class is assignable from the class named in the instruction.
// The checks live in private static helper methods added to the rewritten
// class.
//
// Limitations:
//   - Interfaces older than class file version 52 are never rewritten
//   - Methods using jsr/ret are only rewritten in version 50 and older class files
//   - Merging control flow with different reference types needs a Locator
package bytecompat
