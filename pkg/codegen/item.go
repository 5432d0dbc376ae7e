package codegen

import (
	"github.com/kirbyfan64/wit/pkg/types"
)

// Item is the compile-time representation of an expression's result. The
// variants are exactly Const, Register, Memory and None; type switches over
// them are meant to be exhaustive.
type Item interface {
	Type() types.Type
	// Addressable reports whether the value's address may be taken.
	Addressable() bool
	// WithType reinterprets the item under a new type without changing its
	// storage.
	WithType(t types.Type) Item
}

// Const is a value known at compile time.
type Const struct {
	T   types.Type
	Val int64
}

func (c *Const) Type() types.Type { return c.T }
func (c *Const) Addressable() bool { return false }
func (c *Const) WithType(t types.Type) Item {
	return &Const{T: t, Val: c.Val}
}

// Register is a value held in a machine register.
type Register struct {
	T types.Type
	R Reg
}

func (r *Register) Type() types.Type { return r.T }
func (r *Register) Addressable() bool { return false }
func (r *Register) WithType(t types.Type) Item {
	return &Register{T: t, R: r.R}
}

// Memory is a value in storage, addressed as [Base + Index*Scale + Disp] or
// [Label + Index*Scale + Disp]. Base and Index registers stay occupied until
// the item is consumed.
type Memory struct {
	T        types.Type
	Label    string // global storage; mutually exclusive with HasBase
	Base     Reg
	HasBase  bool
	Index    Reg
	HasIndex bool
	Scale    int
	Disp     int64
}

func (m *Memory) Type() types.Type { return m.T }
func (m *Memory) Addressable() bool { return true }
func (m *Memory) WithType(t types.Type) Item {
	clone := *m
	clone.T = t
	return &clone
}

// None is the absence of a value.
type None struct{}

func (n *None) Type() types.Type { return &types.Void{} }
func (n *None) Addressable() bool { return false }
func (n *None) WithType(t types.Type) Item { return n }

// uses reports whether it references r as its storage or as part of its
// address.
func uses(it Item, r Reg) bool {
	switch v := it.(type) {
	case *Register:
		return v.R == r
	case *Memory:
		return (v.HasBase && v.Base == r) || (v.HasIndex && v.Index == r)
	}
	return false
}
