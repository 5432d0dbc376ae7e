// Package symbols implements the scope stack: an ordered list of name→entity
// mappings, with the permanent global scope at the bottom.
package symbols

import (
	"github.com/kirbyfan64/wit/pkg/types"
)

// Entity is what a name in scope resolves to: a Variable, a TypeName or a
// Procedure.
type Entity interface {
	entity()
}

// Location is a variable's storage, assigned exactly once when code
// generation reaches its declaration.
type Location struct {
	Global bool
	Label  string // global storage only
	Offset int    // local storage only, positive, relative to the frame base
	Size   int
}

type Variable struct {
	Name     string
	Type     types.Type
	Exported bool
	Loc      *Location // nil until the declaration is emitted
}

type TypeName struct {
	Name string
	Type types.Type
}

// BuiltinProc identifies one of the fixed built-in procedures.
type BuiltinProc int

const (
	WriteLn BuiltinProc = iota
	DigitToInt
)

type Procedure struct {
	Name    string
	Builtin BuiltinProc
	Return  types.Type
	Params  []types.Type
}

func (*Variable) entity()  {}
func (*TypeName) entity()  {}
func (*Procedure) entity() {}

// Table is the scope stack. Index 0 is the global scope; it is created
// pre-populated with the builtin type and procedure names and never popped.
type Table struct {
	scopes []map[string]Entity
}

func NewTable() *Table {
	global := map[string]Entity{
		"byte": &TypeName{Name: "byte", Type: types.Byte},
		"char": &TypeName{Name: "char", Type: types.Char},
		"int":  &TypeName{Name: "int", Type: types.Int},
		"long": &TypeName{Name: "long", Type: types.Long},
		"writeln": &Procedure{
			Name:    "writeln",
			Builtin: WriteLn,
			Return:  &types.Void{},
		},
		"dtoi": &Procedure{
			Name:    "dtoi",
			Builtin: DigitToInt,
			Return:  types.Int,
			Params:  []types.Type{types.Char},
		},
	}
	return &Table{scopes: []map[string]Entity{global}}
}

func (t *Table) Push() {
	t.scopes = append(t.scopes, map[string]Entity{})
}

func (t *Table) Pop() {
	if len(t.scopes) > 1 {
		t.scopes = t.scopes[:len(t.scopes)-1]
	}
}

// Lookup walks innermost to outermost and returns the first match, or nil.
func (t *Table) Lookup(name string) Entity {
	for i := len(t.scopes) - 1; i >= 0; i-- {
		if e, ok := t.scopes[i][name]; ok {
			return e
		}
	}
	return nil
}

// Define adds e to the innermost scope. It reports false if the name is
// already declared in that scope.
func (t *Table) Define(name string, e Entity) bool {
	scope := t.scopes[len(t.scopes)-1]
	if _, ok := scope[name]; ok {
		return false
	}
	scope[name] = e
	return true
}

// Depth is the number of active scopes; 1 means only the global scope.
func (t *Table) Depth() int { return len(t.scopes) }
