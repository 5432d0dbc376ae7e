package codegen

import (
	"github.com/kirbyfan64/wit/pkg/diag"
)

// Reg is a machine register. RBP is addressable as a memory base but is
// never handed out by the allocator.
type Reg int

const (
	RAX Reg = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	R8
	R9
	R10
	R11
	RBP
	regCount
)

// Pool is the ordered list of registers eligible to hold temporaries.
var Pool = []Reg{RAX, RBX, RCX, RDX, RSI, RDI, R8, R9, R10, R11}

var regNames = map[int][regCount]string{
	8: {"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "r8", "r9", "r10", "r11", "rbp"},
	4: {"eax", "ebx", "ecx", "edx", "esi", "edi", "r8d", "r9d", "r10d", "r11d", "ebp"},
	2: {"ax", "bx", "cx", "dx", "si", "di", "r8w", "r9w", "r10w", "r11w", "bp"},
	1: {"al", "bl", "cl", "dl", "sil", "dil", "r8b", "r9b", "r10b", "r11b", "bpl"},
}

// Name returns r's assembly spelling at the given operand size.
func (r Reg) Name(size int) string {
	names, ok := regNames[size]
	if !ok || r < 0 || r >= regCount {
		diag.Faultf("no name for register %d at size %d", r, size)
	}
	return names[r]
}

func (r Reg) String() string { return r.Name(8) }

// Allocator hands out registers from the fixed pool. There is no spill path:
// exhausting the pool is an internal fault, which caps the complexity of a
// single expression.
type Allocator struct {
	used [regCount]bool
}

// Acquire returns the first free pool register and marks it occupied.
func (a *Allocator) Acquire() Reg {
	for _, r := range Pool {
		if !a.used[r] {
			a.used[r] = true
			return r
		}
	}
	diag.Faultf("out of registers")
	return -1
}

// Release frees the given registers. Releasing a free register is a no-op.
func (a *Allocator) Release(regs ...Reg) {
	for _, r := range regs {
		if r >= 0 && r < regCount {
			a.used[r] = false
		}
	}
}

// Used reports whether r currently holds a live value.
func (a *Allocator) Used(r Reg) bool {
	return r >= 0 && r < regCount && a.used[r]
}

// InUse returns the occupied registers in pool order.
func (a *Allocator) InUse() []Reg {
	var regs []Reg
	for _, r := range Pool {
		if a.used[r] {
			regs = append(regs, r)
		}
	}
	return regs
}

// WithTemporary acquires one register for the duration of body and releases
// it on every exit path.
func (a *Allocator) WithTemporary(body func(r Reg)) {
	r := a.Acquire()
	defer a.Release(r)
	body(r)
}
