// Package parser implements the single-pass front end: a recursive-descent
// parser that performs name resolution and type checking as it goes and
// drives the code generator directly, with no syntax tree in between.
package parser

import (
	"io"
	"math"
	"strconv"

	"github.com/kirbyfan64/wit/pkg/codegen"
	"github.com/kirbyfan64/wit/pkg/diag"
	"github.com/kirbyfan64/wit/pkg/symbols"
	"github.com/kirbyfan64/wit/pkg/token"
	"github.com/kirbyfan64/wit/pkg/types"
)

type Parser struct {
	toks []token.Token
	pos  int
	syms *symbols.Table
	gen  *codegen.Generator
}

// Compile parses the token stream, generating code as it goes, and writes
// the finished assembly to w. Diagnostics and internal faults raised during
// the pass are returned as errors.
func Compile(toks []token.Token, w io.Writer) (err error) {
	defer diag.Recover(&err)
	p := &Parser{toks: toks, syms: symbols.NewTable(), gen: codegen.New()}
	p.parseProgram()
	return p.gen.Flush(w)
}

func (p *Parser) cur() token.Token { return p.toks[p.pos] }

func (p *Parser) advance() token.Token {
	tok := p.toks[p.pos]
	if tok.Type != token.EOF {
		p.pos++
	}
	return tok
}

func (p *Parser) accept(tt token.Type) bool {
	if p.cur().Type == tt {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(tt token.Type) token.Token {
	if p.cur().Type != tt {
		diag.Errorf(p.cur(), "expected %s, got %s", tt, p.cur().Type)
	}
	return p.advance()
}

// program = {vardecl} "begin" {vardecl} {statement} "end" EOF
func (p *Parser) parseProgram() {
	for p.cur().Type == token.Var || p.cur().Type == token.Export {
		p.parseVarDecl(true)
	}
	p.expect(token.Begin)

	p.gen.BeginProgram()
	p.gen.EnterFrame()
	p.syms.Push()

	for p.cur().Type == token.Var || p.cur().Type == token.Export {
		p.parseVarDecl(false)
	}
	p.gen.Prolog()

	for p.cur().Type != token.End && p.cur().Type != token.EOF {
		p.parseStatement()
	}
	p.expect(token.End)

	p.gen.Epilog()
	p.syms.Pop()
	p.gen.LeaveFrame()

	if p.cur().Type != token.EOF {
		diag.Errorf(p.cur(), "unexpected input after 'end'")
	}
}

// vardecl = ["export"] "var" ident {"," ident} ":" type
func (p *Parser) parseVarDecl(global bool) {
	var exportTok token.Token
	exported := false
	if p.cur().Type == token.Export {
		exportTok = p.advance()
		exported = true
	}
	p.expect(token.Var)

	var names []token.Token
	names = append(names, p.expect(token.Ident))
	for p.accept(token.Comma) {
		names = append(names, p.expect(token.Ident))
	}
	p.expect(token.Colon)
	t := p.parseType()

	if exported && !global {
		diag.Errorf(exportTok, "only global variables can be exported")
	}

	for _, name := range names {
		v := &symbols.Variable{Name: name.Value, Type: t, Exported: exported}
		if !p.syms.Define(name.Value, v) {
			diag.Errorf(name, "'%s' is already declared in this scope", name.Value)
		}
		if global {
			p.gen.DeclareGlobal(v)
		} else {
			p.gen.DeclareLocal(v)
		}
	}
}

// type = ident {"[" constexpr "]" | "*"}
func (p *Parser) parseType() types.Type {
	nameTok := p.expect(token.Ident)
	ent := p.syms.Lookup(nameTok.Value)
	tn, ok := ent.(*symbols.TypeName)
	if !ok {
		diag.Errorf(nameTok, "'%s' is not a type", nameTok.Value)
	}
	t := tn.Type

	for {
		switch {
		case p.cur().Type == token.LBracket:
			lb := p.advance()
			bound := p.parseExpression(1)
			c, isConst := bound.(*codegen.Const)
			if !isConst || c.Val <= 0 {
				diag.Errorf(lb, "array bound must be a positive constant")
			}
			p.expect(token.RBracket)
			t = &types.Array{Base: t, Count: int(c.Val)}
		case p.accept(token.Star):
			t = &types.Pointer{Base: t}
		default:
			return t
		}
	}
}

// statement = designator ":=" expression | call
func (p *Parser) parseStatement() {
	nameTok := p.expect(token.Ident)
	switch e := p.syms.Lookup(nameTok.Value).(type) {
	case nil:
		diag.Errorf(nameTok, "undeclared identifier '%s'", nameTok.Value)
	case *symbols.TypeName:
		diag.Errorf(nameTok, "'%s' names a type", nameTok.Value)
	case *symbols.Procedure:
		p.gen.Discard(p.parseCall(e, nameTok))
	case *symbols.Variable:
		target := p.parseIndexChain(p.gen.VarItem(e))
		at := p.expect(token.Assign)
		val := p.parseExpression(1)
		if !target.Type().Equal(val.Type()) {
			diag.Errorf(at, "cannot assign %s to %s", val.Type(), target.Type())
		}
		if _, isArray := target.Type().(*types.Array); isArray {
			diag.Errorf(at, "cannot assign a value of array type %s", target.Type())
		}
		p.gen.Assign(target, val)
	}
}

// Operator precedence, high to low. Zero means not a binary operator.
func precedence(tt token.Type) int {
	switch tt {
	case token.Star, token.Slash, token.Rem:
		return 5
	case token.Plus, token.Minus:
		return 4
	case token.Shl, token.Shr:
		return 3
	case token.Eq, token.Neq, token.Lt, token.Gt, token.Lte, token.Gte:
		return 2
	}
	return 0
}

// expression = operand {binop operand}, by precedence climbing.
func (p *Parser) parseExpression(minPrec int) codegen.Item {
	left := p.parseOperand()
	for {
		op := p.cur()
		prec := precedence(op.Type)
		if prec == 0 || prec < minPrec {
			return left
		}
		p.advance()

		if !left.Type().Supports(op.Type) {
			diag.Errorf(op, "operator %s is not defined for %s", op.Type, left.Type())
		}
		right := p.parseExpression(prec + 1)
		if !left.Type().SupportsWith(op.Type, right.Type()) {
			diag.Errorf(op, "operator %s is not defined for %s and %s",
				op.Type, left.Type(), right.Type())
		}

		lc, lok := left.(*codegen.Const)
		rc, rok := right.(*codegen.Const)
		if lok && rok {
			left = p.foldBinary(op, lc, rc)
			continue
		}
		l, r := p.gen.Equalize(left, right)
		left = p.gen.BinaryOp(op.Type, l, r)
	}
}

// foldBinary evaluates an operator over two constants at compile time. The
// result takes the wider operand's type, matching what Equalize would do.
func (p *Parser) foldBinary(op token.Token, l, r *codegen.Const) codegen.Item {
	t := l.T
	if r.T.Size() > t.Size() {
		t = r.T
	}

	var val int64
	switch op.Type {
	case token.Plus:
		val = l.Val + r.Val
	case token.Minus:
		val = l.Val - r.Val
	case token.Star:
		val = l.Val * r.Val
	case token.Slash, token.Rem:
		if r.Val == 0 {
			diag.Errorf(op, "division by zero")
		}
		if op.Type == token.Slash {
			val = l.Val / r.Val
		} else {
			val = l.Val % r.Val
		}
	case token.Shl:
		val = l.Val << uint(r.Val)
	case token.Shr:
		val = l.Val >> uint(r.Val)
	case token.Eq, token.Neq, token.Lt, token.Gt, token.Lte, token.Gte:
		if compareFold(op.Type, l.Val, r.Val) {
			val = 1
		}
	default:
		diag.Faultf("cannot fold operator %s", op.Type)
	}
	return &codegen.Const{T: t, Val: val}
}

func compareFold(tt token.Type, a, b int64) bool {
	switch tt {
	case token.Eq:
		return a == b
	case token.Neq:
		return a != b
	case token.Lt:
		return a < b
	case token.Gt:
		return a > b
	case token.Lte:
		return a <= b
	case token.Gte:
		return a >= b
	}
	return false
}

// operand = unary {"as" type}
func (p *Parser) parseOperand() codegen.Item {
	it := p.parseUnary()
	for p.cur().Type == token.As {
		at := p.advance()
		it = p.castTo(it, p.parseType(), at)
	}
	return it
}

func (p *Parser) castTo(it codegen.Item, to types.Type, at token.Token) codegen.Item {
	if !castable(it.Type()) || !castable(to) {
		diag.Errorf(at, "cannot cast %s to %s", it.Type(), to)
	}
	if c, ok := it.(*codegen.Const); ok {
		val := c.Val
		if size := to.Size(); size < 8 {
			val &= 1<<(uint(size)*8) - 1
		}
		return &codegen.Const{T: to, Val: val}
	}
	return p.gen.Cast(it, to)
}

// Only sized scalar types participate in casts.
func castable(t types.Type) bool {
	switch t.(type) {
	case *types.Builtin, *types.Pointer:
		return true
	}
	return false
}

// unary = ["-" | "&"] unary | primary
func (p *Parser) parseUnary() codegen.Item {
	switch p.cur().Type {
	case token.Minus:
		op := p.advance()
		it := p.parseUnary()
		if c, ok := it.(*codegen.Const); ok {
			return &codegen.Const{T: c.T, Val: -c.Val}
		}
		if _, ok := it.Type().(*types.Builtin); !ok {
			diag.Errorf(op, "cannot negate a value of type %s", it.Type())
		}
		return p.gen.Negate(it)
	case token.Amp:
		op := p.advance()
		it := p.parseUnary()
		if !it.Addressable() {
			diag.Errorf(op, "cannot take the address of this expression")
		}
		return p.gen.AddressOf(it)
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() codegen.Item {
	switch p.cur().Type {
	case token.Number:
		tok := p.advance()
		val, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			diag.Faultf("lexer produced unparseable number %q", tok.Value)
		}
		t := types.Type(types.Int)
		if val > math.MaxInt32 || val < math.MinInt32 {
			t = types.Long
		}
		return &codegen.Const{T: t, Val: val}

	case token.CharLit:
		tok := p.advance()
		val, err := strconv.ParseInt(tok.Value, 10, 64)
		if err != nil {
			diag.Faultf("lexer produced unparseable character %q", tok.Value)
		}
		return &codegen.Const{T: types.Char, Val: val}

	case token.LParen:
		p.advance()
		it := p.parseExpression(1)
		p.expect(token.RParen)
		return it

	case token.Ident:
		nameTok := p.advance()
		switch e := p.syms.Lookup(nameTok.Value).(type) {
		case nil:
			diag.Errorf(nameTok, "undeclared identifier '%s'", nameTok.Value)
		case *symbols.TypeName:
			diag.Errorf(nameTok, "'%s' names a type", nameTok.Value)
		case *symbols.Procedure:
			return p.parseCall(e, nameTok)
		case *symbols.Variable:
			return p.parseIndexChain(p.gen.VarItem(e))
		}
	}

	diag.Errorf(p.cur(), "expected an expression, got %s", p.cur().Type)
	return nil
}

// parseIndexChain applies any number of "[expr]" suffixes to it.
func (p *Parser) parseIndexChain(it codegen.Item) codegen.Item {
	for p.cur().Type == token.LBracket {
		lb := p.advance()
		if !it.Type().CanIndex() {
			diag.Errorf(lb, "a value of type %s cannot be indexed", it.Type())
		}
		idx := p.parseExpression(1)
		if !idx.Type().CanBeIndex() {
			diag.Errorf(lb, "a value of type %s cannot be an index", idx.Type())
		}
		p.expect(token.RBracket)
		// A constant pointer has no addressable storage; materialize it
		// before forming the element address.
		if _, isConst := it.(*codegen.Const); isConst {
			it = p.gen.Load(it)
		}
		it = p.gen.Index(it, idx)
	}
	return it
}

// call = ident "(" [expression {"," expression}] ")"
func (p *Parser) parseCall(proc *symbols.Procedure, nameTok token.Token) codegen.Item {
	p.expect(token.LParen)
	var args []codegen.Item
	if p.cur().Type != token.RParen {
		args = append(args, p.parseExpression(1))
		for p.accept(token.Comma) {
			args = append(args, p.parseExpression(1))
		}
	}
	p.expect(token.RParen)

	if len(args) != len(proc.Params) {
		diag.Errorf(nameTok, "%s expects %d argument(s), got %d",
			proc.Name, len(proc.Params), len(args))
	}
	for i, param := range proc.Params {
		if !param.Equal(args[i].Type()) {
			diag.Errorf(nameTok, "argument %d of %s must be %s, not %s",
				i+1, proc.Name, param, args[i].Type())
		}
	}
	return p.gen.Call(proc, args)
}
