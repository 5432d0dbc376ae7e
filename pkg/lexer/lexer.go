// Package lexer turns wit source text into a stream of typed tokens with
// line/column positions.
package lexer

import (
	"strconv"
	"unicode"

	"github.com/kirbyfan64/wit/pkg/diag"
	"github.com/kirbyfan64/wit/pkg/token"
)

type Lexer struct {
	source []rune
	pos    int
	line   int
	column int
}

func New(source []rune) *Lexer {
	return &Lexer{source: source, line: 1, column: 1}
}

// Tokenize runs the lexer to completion, appending a terminal EOF token.
func Tokenize(source []rune) []token.Token {
	l := New(source)
	var toks []token.Token
	for {
		tok := l.Next()
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			return toks
		}
	}
}

func (l *Lexer) Next() token.Token {
	l.skipWhitespaceAndComments()
	startPos, startLine, startCol := l.pos, l.line, l.column

	if l.isAtEnd() {
		return l.makeToken(token.EOF, "", startPos, startLine, startCol)
	}

	ch := l.peek()
	if unicode.IsLetter(ch) || ch == '_' {
		l.advance()
		return l.identifierOrKeyword(startPos, startLine, startCol)
	}
	if unicode.IsDigit(ch) {
		return l.numberLiteral(startPos, startLine, startCol)
	}

	l.advance()
	switch ch {
	case '(':
		return l.makeToken(token.LParen, "", startPos, startLine, startCol)
	case ')':
		return l.makeToken(token.RParen, "", startPos, startLine, startCol)
	case '[':
		return l.makeToken(token.LBracket, "", startPos, startLine, startCol)
	case ']':
		return l.makeToken(token.RBracket, "", startPos, startLine, startCol)
	case ',':
		return l.makeToken(token.Comma, "", startPos, startLine, startCol)
	case '&':
		return l.makeToken(token.Amp, "", startPos, startLine, startCol)
	case '+':
		return l.makeToken(token.Plus, "", startPos, startLine, startCol)
	case '-':
		return l.makeToken(token.Minus, "", startPos, startLine, startCol)
	case '*':
		return l.makeToken(token.Star, "", startPos, startLine, startCol)
	case '/':
		return l.makeToken(token.Slash, "", startPos, startLine, startCol)
	case '%':
		return l.makeToken(token.Rem, "", startPos, startLine, startCol)
	case '=':
		return l.makeToken(token.Eq, "", startPos, startLine, startCol)
	case ':':
		return l.matchThen('=', token.Assign, token.Colon, startPos, startLine, startCol)
	case '!':
		if l.match('=') {
			return l.makeToken(token.Neq, "", startPos, startLine, startCol)
		}
	case '<':
		if l.match('<') {
			return l.makeToken(token.Shl, "", startPos, startLine, startCol)
		}
		return l.matchThen('=', token.Lte, token.Lt, startPos, startLine, startCol)
	case '>':
		if l.match('>') {
			return l.makeToken(token.Shr, "", startPos, startLine, startCol)
		}
		return l.matchThen('=', token.Gte, token.Gt, startPos, startLine, startCol)
	case '\'':
		return l.charLiteral(startPos, startLine, startCol)
	}

	diag.Errorf(l.makeToken(token.EOF, "", startPos, startLine, startCol), "unexpected character '%c'", ch)
	return token.Token{}
}

func (l *Lexer) peek() rune {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.pos]
}

func (l *Lexer) advance() rune {
	if l.isAtEnd() {
		return 0
	}
	ch := l.source[l.pos]
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	l.pos++
	return ch
}

func (l *Lexer) match(expected rune) bool {
	if l.isAtEnd() || l.source[l.pos] != expected {
		return false
	}
	l.advance()
	return true
}

func (l *Lexer) isAtEnd() bool { return l.pos >= len(l.source) }

func (l *Lexer) makeToken(tokType token.Type, value string, startPos, startLine, startCol int) token.Token {
	return token.Token{
		Type: tokType, Value: value,
		Line: startLine, Column: startCol, Len: l.pos - startPos,
	}
}

// A '#' opens a comment that runs until the next '#'. This lets test
// programs carry arbitrary prose (including their expected output) between
// two marker lines.
func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch l.peek() {
		case ' ', '\t', '\n', '\r':
			l.advance()
		case '#':
			startTok := l.makeToken(token.EOF, "", l.pos, l.line, l.column)
			l.advance()
			for !l.isAtEnd() && l.peek() != '#' {
				l.advance()
			}
			if l.isAtEnd() {
				diag.Errorf(startTok, "unterminated comment")
			}
			l.advance()
		default:
			return
		}
	}
}

func (l *Lexer) identifierOrKeyword(startPos, startLine, startCol int) token.Token {
	for unicode.IsLetter(l.peek()) || unicode.IsDigit(l.peek()) || l.peek() == '_' {
		l.advance()
	}
	value := string(l.source[startPos:l.pos])
	if tokType, isKeyword := token.KeywordMap[value]; isKeyword {
		return l.makeToken(tokType, "", startPos, startLine, startCol)
	}
	return l.makeToken(token.Ident, value, startPos, startLine, startCol)
}

// Literals are decimal or 0x-prefixed hex. Leading zeros do not mean octal.
func (l *Lexer) numberLiteral(startPos, startLine, startCol int) token.Token {
	base := 10
	if l.peek() == '0' {
		l.advance()
		if l.peek() == 'x' || l.peek() == 'X' {
			base = 16
			l.advance()
			for isHexDigit(l.peek()) {
				l.advance()
			}
		}
	}
	for unicode.IsDigit(l.peek()) {
		l.advance()
	}

	valueStr := string(l.source[startPos:l.pos])
	tok := l.makeToken(token.Number, "", startPos, startLine, startCol)
	digits := valueStr
	if base == 16 {
		digits = valueStr[2:]
	}
	val, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		diag.Errorf(tok, "invalid number literal '%s'", valueStr)
	}
	tok.Value = strconv.FormatInt(val, 10)
	return tok
}

func (l *Lexer) charLiteral(startPos, startLine, startCol int) token.Token {
	tok := l.makeToken(token.CharLit, "", startPos, startLine, startCol)
	if l.isAtEnd() {
		diag.Errorf(tok, "unterminated character literal")
	}

	var val int64
	c := l.advance()
	if c == '\\' {
		switch e := l.advance(); e {
		case 'n':
			val = '\n'
		case 't':
			val = '\t'
		case 'r':
			val = '\r'
		case '0':
			val = 0
		case '\\', '\'':
			val = int64(e)
		default:
			diag.Errorf(tok, "unrecognized escape sequence '\\%c'", e)
		}
	} else {
		val = int64(c)
	}

	if !l.match('\'') {
		diag.Errorf(tok, "unterminated character literal")
	}
	tok = l.makeToken(token.CharLit, strconv.FormatInt(val, 10), startPos, startLine, startCol)
	return tok
}

func (l *Lexer) matchThen(expected rune, thenType, elseType token.Type, sPos, sLine, sCol int) token.Token {
	if l.match(expected) {
		return l.makeToken(thenType, "", sPos, sLine, sCol)
	}
	return l.makeToken(elseType, "", sPos, sLine, sCol)
}

func isHexDigit(c rune) bool {
	return unicode.IsDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
