// Package codegen translates typed operations directly into x86-64 assembly
// text (Intel/NASM syntax). There is no intermediate representation: the
// parser calls into the Generator as each construct is recognized, and every
// decision is final once emitted.
package codegen

import (
	"fmt"
	"io"
	"strings"

	"github.com/kirbyfan64/wit/pkg/diag"
	"github.com/kirbyfan64/wit/pkg/symbols"
	"github.com/kirbyfan64/wit/pkg/token"
	"github.com/kirbyfan64/wit/pkg/types"
)

// entryLabel is the linker entry point of the emitted program.
const entryLabel = "_start"

// newlineLabel is the data byte written by the writeln builtin.
const newlineLabel = "newline"

type Generator struct {
	Alloc *Allocator

	// frame totals, one per active program/procedure frame
	frames []int

	data []string
	bss  []string
	text []string

	needNewline bool
}

func New() *Generator {
	return &Generator{Alloc: &Allocator{}}
}

// emit appends one instruction, indented two spaces.
func (g *Generator) emit(format string, args ...interface{}) {
	g.text = append(g.text, "  "+fmt.Sprintf(format, args...))
}

func (g *Generator) raw(line string) {
	g.text = append(g.text, line)
}

// Flush writes the accumulated sections to w.
func (g *Generator) Flush(w io.Writer) error {
	var out []string
	if g.needNewline {
		out = append(out, "section .data", newlineLabel+": db 10", "")
	}
	if len(g.bss) > 0 {
		out = append(out, "section .bss")
		out = append(out, g.bss...)
		out = append(out, "")
	}
	out = append(out, g.text...)
	_, err := io.WriteString(w, strings.Join(out, "\n")+"\n")
	return err
}

func sizeKeyword(size int) string {
	switch size {
	case 1:
		return "byte"
	case 2:
		return "word"
	case 4:
		return "dword"
	case 8:
		return "qword"
	}
	diag.Faultf("no operand keyword for size %d", size)
	return ""
}

// memRef renders a Memory item's address, without an operand-size keyword.
func memRef(m *Memory) string {
	var sb strings.Builder
	sb.WriteByte('[')
	switch {
	case m.Label != "":
		sb.WriteString(m.Label)
	case m.HasBase:
		sb.WriteString(m.Base.Name(8))
	}
	if m.HasIndex {
		fmt.Fprintf(&sb, "+%s*%d", m.Index.Name(8), m.Scale)
	}
	if m.Disp > 0 {
		fmt.Fprintf(&sb, "+%d", m.Disp)
	} else if m.Disp < 0 {
		fmt.Fprintf(&sb, "-%d", -m.Disp)
	}
	sb.WriteByte(']')
	return sb.String()
}

// operand renders it as an instruction operand of the given size.
func (g *Generator) operand(it Item, size int) string {
	switch v := it.(type) {
	case *Const:
		return fmt.Sprintf("%d", v.Val)
	case *Register:
		return v.R.Name(size)
	case *Memory:
		return sizeKeyword(size) + " " + memRef(v)
	}
	diag.Faultf("item %T cannot be an operand", it)
	return ""
}

// free releases every register the given items reference.
func (g *Generator) free(items ...Item) {
	for _, it := range items {
		switch v := it.(type) {
		case *Register:
			g.Alloc.Release(v.R)
		case *Memory:
			if v.HasBase && v.Base != RBP {
				g.Alloc.Release(v.Base)
			}
			if v.HasIndex {
				g.Alloc.Release(v.Index)
			}
		}
	}
}

// Discard releases an expression result that is not consumed further, e.g.
// at the end of a statement.
func (g *Generator) Discard(it Item) {
	g.free(it)
}

// mov emits a sized move into dst, eliding useless register-to-register
// moves.
func (g *Generator) mov(dst Reg, size int, src Item) {
	if r, ok := src.(*Register); ok && r.R == dst {
		return
	}
	g.emit("mov %s, %s", dst.Name(size), g.operand(src, size))
}

// Load forces it into a register. Register items are returned unchanged.
func (g *Generator) Load(it Item) Item {
	if _, ok := it.(*Register); ok {
		return it
	}
	size := it.Type().Size()
	r := g.Alloc.Acquire()
	g.mov(r, size, it)
	g.free(it)
	return &Register{T: it.Type(), R: r}
}

// relocate moves a register-backed value into a different, freshly acquired
// register, used when a value occupies a register an operation is hard-wired
// to.
func (g *Generator) relocate(it Item) Item {
	size := it.Type().Size()
	r := g.Alloc.Acquire()
	g.mov(r, size, it)
	g.free(it)
	return &Register{T: it.Type(), R: r}
}

// ReserveFor saves each currently occupied register in regs before body and
// restores them, in reverse order, after it. This is the only spilling in
// the system and it is scoped to the specific registers an instruction is
// hard-wired to.
func (g *Generator) ReserveFor(regs []Reg, body func()) {
	var saved []Reg
	for _, r := range regs {
		if g.Alloc.Used(r) {
			g.emit("push %s", r.Name(8))
			saved = append(saved, r)
		}
	}
	body()
	for i := len(saved) - 1; i >= 0; i-- {
		g.emit("pop %s", saved[i].Name(8))
	}
}

// Declarations and frame layout

// DeclareGlobal reserves storage for v and records its location. Exported
// variables keep their source name as the label; the rest are mangled.
func (g *Generator) DeclareGlobal(v *symbols.Variable) {
	if v.Loc != nil {
		diag.Faultf("variable %s declared twice", v.Name)
	}
	label := "g_" + v.Name
	if v.Exported {
		label = v.Name
		g.bss = append(g.bss, "global "+label)
	}
	v.Loc = &symbols.Location{Global: true, Label: label, Size: v.Type.Size()}
	g.bss = append(g.bss, label+": "+reserve(v.Type))
}

func reserve(t types.Type) string {
	switch v := t.(type) {
	case *types.Builtin:
		return fmt.Sprintf("%s 1", resDirective(v.Bytes))
	case *types.Pointer:
		return "resq 1"
	case *types.Array:
		if b, ok := v.Base.(*types.Builtin); ok {
			return fmt.Sprintf("%s %d", resDirective(b.Bytes), v.Count)
		}
		return fmt.Sprintf("resb %d", v.Size())
	}
	diag.Faultf("cannot reserve storage for %s", t)
	return ""
}

func resDirective(size int) string {
	switch size {
	case 1:
		return "resb"
	case 2:
		return "resw"
	case 4:
		return "resd"
	case 8:
		return "resq"
	}
	diag.Faultf("no reserve directive for size %d", size)
	return ""
}

// BeginProgram opens the text section and the program entry label.
func (g *Generator) BeginProgram() {
	g.raw("section .text")
	g.raw("global " + entryLabel)
	g.raw(entryLabel + ":")
}

// EnterFrame pushes a zero total onto the frame stack.
func (g *Generator) EnterFrame() {
	g.frames = append(g.frames, 0)
}

func (g *Generator) LeaveFrame() {
	if len(g.frames) == 0 {
		diag.Faultf("frame stack underflow")
	}
	g.frames = g.frames[:len(g.frames)-1]
}

// FrameSize is the current frame's cumulative local size in bytes.
func (g *Generator) FrameSize() int {
	if len(g.frames) == 0 {
		diag.Faultf("no active frame")
	}
	return g.frames[len(g.frames)-1]
}

// DeclareLocal assigns v the next slot in the current frame. No code is
// emitted; the frame is materialized by Prolog once all locals are known.
func (g *Generator) DeclareLocal(v *symbols.Variable) {
	if v.Loc != nil {
		diag.Faultf("variable %s declared twice", v.Name)
	}
	size := v.Type.Size()
	g.frames[len(g.frames)-1] += size
	v.Loc = &symbols.Location{Offset: g.frames[len(g.frames)-1], Size: size}
}

// Prolog emits the frame setup. A frame with no locals costs nothing.
func (g *Generator) Prolog() {
	if total := g.FrameSize(); total > 0 {
		g.emit("push rbp")
		g.emit("mov rbp, rsp")
		g.emit("sub rsp, %d", total)
	}
}

// Epilog tears the frame down and exits the process with status 0.
func (g *Generator) Epilog() {
	if g.FrameSize() > 0 {
		g.emit("mov rsp, rbp")
		g.emit("pop rbp")
	}
	g.emit("mov rax, 60")
	g.emit("mov rdi, 0")
	g.emit("syscall")
}

// VarItem builds the Memory item addressing v's storage.
func (g *Generator) VarItem(v *symbols.Variable) Item {
	if v.Loc == nil {
		diag.Faultf("variable %s has no storage", v.Name)
	}
	if v.Loc.Global {
		return &Memory{T: v.Type, Label: v.Loc.Label}
	}
	return &Memory{T: v.Type, Base: RBP, HasBase: true, Disp: -int64(v.Loc.Offset)}
}

// Operations

// AddressOf loads the address of a Memory value into a fresh register.
func (g *Generator) AddressOf(it Item) Item {
	m, ok := it.(*Memory)
	if !ok {
		diag.Faultf("address-of on a non-memory item %T", it)
	}
	r := g.Alloc.Acquire()
	g.emit("lea %s, %s", r.Name(8), memRef(m))
	g.free(m)
	return &Register{T: &types.Pointer{Base: m.T}, R: r}
}

// Negate loads the operand into a fresh register and negates it. Constant
// operands are folded by the caller and never reach here.
func (g *Generator) Negate(it Item) Item {
	if _, ok := it.(*Const); ok {
		diag.Faultf("negate on a constant")
	}
	size := it.Type().Size()
	r := g.Alloc.Acquire()
	g.mov(r, size, it)
	g.emit("neg %s", r.Name(size))
	g.free(it)
	return &Register{T: it.Type(), R: r}
}

// Cast reinterprets it as type to, emitting the mask or extension the size
// change requires. Constants must be retyped by the caller, never cast.
func (g *Generator) Cast(it Item, to types.Type) Item {
	from := it.Type().Size()
	dest := to.Size()
	if from == dest {
		return it.WithType(to)
	}

	switch v := it.(type) {
	case *Const:
		diag.Faultf("cast on a constant")
	case *Register:
		// Mask off everything above the narrower of the two sizes.
		switch min(from, dest) {
		case 1:
			g.emit("and %s, 0xff", v.R.Name(4))
		case 4:
			g.emit("mov %s, %s", v.R.Name(4), v.R.Name(4))
		default:
			diag.Faultf("cast between sizes %d and %d", from, dest)
		}
		return v.WithType(to)
	case *Memory:
		r := g.Alloc.Acquire()
		switch {
		case dest > from && from == 4:
			// mov into the 32-bit register zero-extends for free.
			g.emit("mov %s, %s", r.Name(4), g.operand(v, 4))
		case dest > from:
			g.emit("movzx %s, %s", r.Name(dest), g.operand(v, from))
		default:
			g.emit("mov %s, %s", r.Name(dest), g.operand(v, dest))
		}
		g.free(v)
		return &Register{T: to, R: r}
	}
	diag.Faultf("cast on item %T", it)
	return nil
}

// Equalize widens the smaller-sized operand to the larger's type. Constants
// are retyped without code; anything else goes through Cast.
func (g *Generator) Equalize(a, b Item) (Item, Item) {
	as, bs := a.Type().Size(), b.Type().Size()
	switch {
	case as == bs:
	case as < bs:
		a = g.widen(a, b.Type())
	default:
		b = g.widen(b, a.Type())
	}
	return a, b
}

func (g *Generator) widen(it Item, to types.Type) Item {
	if _, ok := it.(*Const); ok {
		return it.WithType(to)
	}
	return g.Cast(it, to)
}

// BinaryOp combines two already-equalized operands. The caller must have
// checked operator support; a size mismatch here is a compiler bug.
func (g *Generator) BinaryOp(op token.Type, l, r Item) Item {
	if l.Type().Size() != r.Type().Size() {
		diag.Faultf("binary operand sizes differ: %s vs %s", l.Type(), r.Type())
	}

	switch op {
	case token.Star, token.Slash, token.Rem:
		return g.mulDiv(op, l, r)
	case token.Shl, token.Shr:
		return g.shift(op, l, r)
	}

	size := l.Type().Size()
	dst := g.intoRegister(l)
	switch op {
	case token.Plus:
		g.emit("add %s, %s", dst.Name(size), g.operand(r, size))
	case token.Minus:
		g.emit("sub %s, %s", dst.Name(size), g.operand(r, size))
	case token.Eq, token.Neq, token.Lt, token.Gt, token.Lte, token.Gte:
		g.emit("cmp %s, %s", dst.Name(size), g.operand(r, size))
		g.emit("set%s %s", conditionCode(op), dst.Name(1))
		if size > 1 {
			g.emit("movzx %s, %s", dst.Name(size), dst.Name(1))
		}
	default:
		diag.Faultf("unknown binary operator %s", op)
	}
	g.free(r)
	return &Register{T: l.Type(), R: dst}
}

// intoRegister reuses l's register as the destination when l is already
// register-backed (its last use), otherwise loads l into a fresh one.
func (g *Generator) intoRegister(l Item) Reg {
	if v, ok := l.(*Register); ok {
		return v.R
	}
	size := l.Type().Size()
	r := g.Alloc.Acquire()
	g.mov(r, size, l)
	g.free(l)
	return r
}

func conditionCode(op token.Type) string {
	switch op {
	case token.Eq:
		return "e"
	case token.Neq:
		return "ne"
	case token.Lt:
		return "l"
	case token.Gt:
		return "g"
	case token.Lte:
		return "le"
	case token.Gte:
		return "ge"
	}
	diag.Faultf("no condition code for %s", op)
	return ""
}

// mulDiv handles the operators hard-wired to the accumulator. The operands
// are staged through rax (and rdx for the sign extension / remainder), which
// are saved around the operation if live values occupy them.
func (g *Generator) mulDiv(op token.Type, l, r Item) Item {
	t := l.Type()
	size := t.Size()

	// The instruction set has no immediate forms for imul/idiv, and the
	// right operand must survive the staging moves through rax/rdx.
	if _, ok := r.(*Const); ok {
		r = g.relocate(r)
	} else if uses(r, RAX) || uses(r, RDX) {
		r = g.relocate(r)
	}

	var dst Reg
	if v, ok := l.(*Register); ok {
		dst = v.R
	} else {
		dst = g.Alloc.Acquire()
	}

	var save []Reg
	for _, hr := range []Reg{RAX, RDX} {
		if hr != dst {
			save = append(save, hr)
		}
	}

	g.ReserveFor(save, func() {
		g.mov(RAX, size, l)
		result := RAX
		if op == token.Star {
			g.emit("imul %s", g.operand(r, size))
		} else {
			g.signExtendAccumulator(size)
			g.emit("idiv %s", g.operand(r, size))
			if op == token.Rem {
				if size == 1 {
					// idiv r/m8 leaves the remainder in ah.
					g.emit("mov al, ah")
				} else {
					result = RDX
				}
			}
		}
		if dst != result {
			g.emit("mov %s, %s", dst.Name(size), result.Name(size))
		}
	})

	if v, ok := l.(*Register); !ok || v.R != dst {
		g.free(l)
	}
	g.free(r)
	return &Register{T: t, R: dst}
}

func (g *Generator) signExtendAccumulator(size int) {
	switch size {
	case 1:
		g.emit("cbw")
	case 4:
		g.emit("cdq")
	case 8:
		g.emit("cqo")
	default:
		diag.Faultf("no sign extension for size %d", size)
	}
}

// shift handles the operators whose variable count is hard-wired to cl.
func (g *Generator) shift(op token.Type, l, r Item) Item {
	t := l.Type()
	size := t.Size()
	mnemonic := "sal"
	if op == token.Shr {
		mnemonic = "sar"
	}

	if c, ok := r.(*Const); ok {
		dst := g.intoRegister(l)
		g.emit("%s %s, %d", mnemonic, dst.Name(size), c.Val)
		return &Register{T: t, R: dst}
	}

	dst := g.intoRegister(l)
	if dst == RCX {
		moved := g.relocate(&Register{T: t, R: dst})
		dst = moved.(*Register).R
	}

	g.ReserveFor([]Reg{RCX}, func() {
		g.mov(RCX, size, r)
		g.emit("%s %s, cl", mnemonic, dst.Name(size))
	})
	g.free(r)
	return &Register{T: t, R: dst}
}

// Index computes element addressing: byte offset = index × element size.
func (g *Generator) Index(arr, idx Item) Item {
	elem := arr.Type().Elem()
	if elem == nil {
		diag.Faultf("indexing a non-indexable item of type %s", arr.Type())
	}
	esize := int64(elem.Size())

	// An array designator is already an address, but a pointer held in
	// memory is a value: it must be loaded before it can serve as a base.
	if m, ok := arr.(*Memory); ok {
		if _, isPtr := m.T.(*types.Pointer); isPtr {
			arr = g.Load(arr)
		}
	}

	// A constant index folds to a constant displacement.
	if c, ok := idx.(*Const); ok {
		switch a := arr.(type) {
		case *Memory:
			out := a.WithType(elem).(*Memory)
			out.Disp += c.Val * esize
			return out
		case *Register:
			return &Memory{T: elem, Base: a.R, HasBase: true, Disp: c.Val * esize}
		}
		diag.Faultf("indexing item %T", arr)
	}

	if _, ok := idx.(*Memory); ok {
		idx = g.Load(idx)
	}
	ir, ok := idx.(*Register)
	if !ok {
		diag.Faultf("index item %T cannot address memory", idx)
	}

	// Addressing uses the full register; clear any stale high bits left by
	// a narrower index value.
	switch idx.Type().Size() {
	case 1:
		g.emit("movzx %s, %s", ir.R.Name(8), ir.R.Name(1))
	case 4:
		g.emit("mov %s, %s", ir.R.Name(4), ir.R.Name(4))
	}

	var base Reg
	switch a := arr.(type) {
	case *Register:
		base = a.R
	case *Memory:
		// The array value lives in memory: compute its address first. The
		// extra lea is known to be suboptimal but keeps the addressing mode
		// well-formed.
		base = g.Alloc.Acquire()
		g.emit("lea %s, %s", base.Name(8), memRef(a))
		g.free(a)
	default:
		diag.Faultf("indexing item %T", arr)
	}

	scale := esize
	if scale != 1 && scale != 2 && scale != 4 && scale != 8 {
		g.emit("imul %s, %s, %d", ir.R.Name(8), ir.R.Name(8), esize)
		scale = 1
	}
	return &Memory{T: elem, Base: base, HasBase: true, Index: ir.R, HasIndex: true, Scale: int(scale)}
}

// Call emits one of the built-in procedures. Argument registers are released
// afterwards regardless of outcome.
func (g *Generator) Call(proc *symbols.Procedure, args []Item) Item {
	defer g.free(args...)

	switch proc.Builtin {
	case symbols.WriteLn:
		g.needNewline = true
		g.ReserveFor([]Reg{RAX, RDI, RSI, RDX}, func() {
			g.emit("mov rax, 1")
			g.emit("mov rdi, 1")
			g.emit("mov rsi, %s", newlineLabel)
			g.emit("mov rdx, 1")
			g.emit("syscall")
		})
		return &None{}

	case symbols.DigitToInt:
		arg := args[0]
		r := g.Alloc.Acquire()
		switch v := arg.(type) {
		case *Const:
			g.emit("mov %s, %d", r.Name(4), v.Val)
		case *Register:
			g.emit("movzx %s, %s", r.Name(4), v.R.Name(1))
		case *Memory:
			g.emit("movzx %s, %s", r.Name(4), g.operand(v, 1))
		default:
			diag.Faultf("call argument %T", arg)
		}
		g.emit("sub %s, %d", r.Name(4), '0')
		return &Register{T: proc.Return, R: r}
	}

	diag.Faultf("unknown builtin procedure %q", proc.Name)
	return nil
}

// Assign stores src into dst and returns the stored-to location. Both items'
// registers are released.
func (g *Generator) Assign(dst, src Item) Item {
	m, ok := dst.(*Memory)
	if !ok {
		diag.Faultf("assignment to a non-memory item %T", dst)
	}
	size := m.T.Size()

	switch v := src.(type) {
	case *Const:
		g.emit("mov %s, %d", g.operand(m, size), v.Val)
	case *Register:
		g.emit("mov %s, %s", memRef(m), v.R.Name(size))
	case *Memory:
		// No memory-to-memory moves: stage through a scratch register.
		g.Alloc.WithTemporary(func(tmp Reg) {
			g.mov(tmp, size, v)
			g.emit("mov %s, %s", memRef(m), tmp.Name(size))
		})
	default:
		diag.Faultf("assignment from item %T", src)
	}

	g.free(dst, src)
	return dst
}
