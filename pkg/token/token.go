package token

type Type int

const (
	EOF Type = iota
	Ident
	Number
	CharLit
	Var
	Export
	Begin
	End
	As
	LParen
	RParen
	LBracket
	RBracket
	Comma
	Colon
	Assign
	Amp
	Plus
	Minus
	Star
	Slash
	Rem
	Shl
	Shr
	Eq
	Neq
	Lt
	Gt
	Lte
	Gte
)

var KeywordMap = map[string]Type{
	"var":    Var,
	"export": Export,
	"begin":  Begin,
	"end":    End,
	"as":     As,
}

// names as they appear in diagnostics ("expected ')'", "operator '<<' ...").
var names = map[Type]string{
	EOF:      "end of input",
	Ident:    "identifier",
	Number:   "number",
	CharLit:  "character literal",
	Var:      "'var'",
	Export:   "'export'",
	Begin:    "'begin'",
	End:      "'end'",
	As:       "'as'",
	LParen:   "'('",
	RParen:   "')'",
	LBracket: "'['",
	RBracket: "']'",
	Comma:    "','",
	Colon:    "':'",
	Assign:   "':='",
	Amp:      "'&'",
	Plus:     "'+'",
	Minus:    "'-'",
	Star:     "'*'",
	Slash:    "'/'",
	Rem:      "'%'",
	Shl:      "'<<'",
	Shr:      "'>>'",
	Eq:       "'='",
	Neq:      "'!='",
	Lt:       "'<'",
	Gt:       "'>'",
	Lte:      "'<='",
	Gte:      "'>='",
}

func (t Type) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return "unknown token"
}

type Token struct {
	Type   Type
	Value  string
	Line   int
	Column int
	Len    int
}
