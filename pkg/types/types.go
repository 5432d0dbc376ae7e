// Package types implements the wit type system: a closed set of type shapes
// (builtin integer kinds, pointers, fixed-size arrays) and the predicate
// tables that decide which operations each shape supports.
package types

import (
	"fmt"

	"github.com/kirbyfan64/wit/pkg/token"
)

// Type is implemented by exactly Builtin, Pointer, Array and Void. Adding a
// variant must break every type switch over these.
type Type interface {
	// Size is the storage size in bytes.
	Size() int
	// Equal reports structural equality: same shape, same base/size/count.
	Equal(other Type) bool
	// CanIndex reports whether values of this type may be indexed.
	CanIndex() bool
	// CanBeIndex reports whether values of this type may serve as an index.
	CanBeIndex() bool
	// Elem is the element type reached by indexing, or nil.
	Elem() Type
	// Supports reports whether the binary operator op is legal on this type.
	Supports(op token.Type) bool
	// SupportsWith reports whether op is legal between this type and other,
	// given that both individually support it.
	SupportsWith(op token.Type, other Type) bool
	String() string
}

// Builtin is one of the language's primitive integer kinds.
type Builtin struct {
	Name  string
	Bytes int
}

// The predeclared builtins. Every Builtin in a running compilation is one of
// these four values.
var (
	Byte = &Builtin{Name: "byte", Bytes: 1}
	Char = &Builtin{Name: "char", Bytes: 1}
	Int  = &Builtin{Name: "int", Bytes: 4}
	Long = &Builtin{Name: "long", Bytes: 8}
)

func (b *Builtin) Size() int       { return b.Bytes }
func (b *Builtin) CanIndex() bool  { return false }
func (b *Builtin) CanBeIndex() bool { return true }
func (b *Builtin) Elem() Type      { return nil }
func (b *Builtin) String() string  { return b.Name }

func (b *Builtin) Equal(other Type) bool {
	o, ok := other.(*Builtin)
	return ok && o.Name == b.Name && o.Bytes == b.Bytes
}

func (b *Builtin) Supports(op token.Type) bool { return true }

func (b *Builtin) SupportsWith(op token.Type, other Type) bool {
	switch other.(type) {
	case *Builtin, *Pointer:
		return true
	}
	return false
}

// Pointer wraps a base type; its size is always the machine word.
type Pointer struct {
	Base Type
}

func (p *Pointer) Size() int        { return 8 }
func (p *Pointer) CanIndex() bool   { return true }
func (p *Pointer) CanBeIndex() bool { return false }
func (p *Pointer) Elem() Type       { return p.Base }
func (p *Pointer) String() string   { return p.Base.String() + "*" }

func (p *Pointer) Equal(other Type) bool {
	o, ok := other.(*Pointer)
	return ok && p.Base.Equal(o.Base)
}

func (p *Pointer) Supports(op token.Type) bool {
	switch op {
	case token.Plus, token.Minus, token.Eq, token.Neq, token.Lt, token.Gt, token.Lte, token.Gte:
		return true
	}
	return false
}

func (p *Pointer) SupportsWith(op token.Type, other Type) bool {
	// Pointer arithmetic tolerates anything except a pointer to a
	// different base type.
	if o, ok := other.(*Pointer); ok {
		return p.Base.Equal(o.Base)
	}
	_, isArray := other.(*Array)
	return !isArray
}

// Array wraps a base type and a compile-time-constant element count.
type Array struct {
	Base  Type
	Count int
}

func (a *Array) Size() int        { return a.Count * a.Base.Size() }
func (a *Array) CanIndex() bool   { return true }
func (a *Array) CanBeIndex() bool { return false }
func (a *Array) Elem() Type       { return a.Base }
func (a *Array) String() string   { return fmt.Sprintf("%s[%d]", a.Base, a.Count) }

func (a *Array) Equal(other Type) bool {
	o, ok := other.(*Array)
	return ok && a.Count == o.Count && a.Base.Equal(o.Base)
}

func (a *Array) Supports(op token.Type) bool                   { return false }
func (a *Array) SupportsWith(op token.Type, other Type) bool   { return false }

// Void is the absence of a value (the result of calling a procedure that
// returns nothing).
type Void struct{}

func (v *Void) Size() int                                    { return 0 }
func (v *Void) CanIndex() bool                               { return false }
func (v *Void) CanBeIndex() bool                             { return false }
func (v *Void) Elem() Type                                   { return nil }
func (v *Void) String() string                               { return "void" }
func (v *Void) Equal(other Type) bool                        { _, ok := other.(*Void); return ok }
func (v *Void) Supports(op token.Type) bool                  { return false }
func (v *Void) SupportsWith(op token.Type, other Type) bool  { return false }
