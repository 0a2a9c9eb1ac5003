// Package decision turns strategy rules into trading signals with a
// full explanation trace.
package decision

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"ktrdr/internal/kerr"
)

// Rule grammar:
//
//	expr    := and ( "or" and )*
//	and     := cmp ( "and" cmp )*
//	cmp     := "(" expr ")" | operand op operand
//	operand := identifier | number
//	op      := "<" | "<=" | ">" | ">=" | "==" | "!="
//
// Identifiers resolve into the row's bar, indicator, and fuzzy
// columns. An identifier that resolves to nothing is rejected at
// parse time, not at evaluation time.

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokOp
	tokAnd
	tokOr
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t') {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	c := l.src[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == '<' || c == '>':
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
		}
		return token{kind: tokOp, text: l.src[start:l.pos], pos: start}, nil
	case c == '=' || c == '!':
		if l.pos+1 >= len(l.src) || l.src[l.pos+1] != '=' {
			return token{}, l.errAt(start, "expected %q", string(c)+"=")
		}
		l.pos += 2
		return token{kind: tokOp, text: l.src[start:l.pos], pos: start}, nil
	case c == '-' || c == '.' || (c >= '0' && c <= '9'):
		for l.pos < len(l.src) && strings.ContainsRune("0123456789.eE+-", rune(l.src[l.pos])) {
			// A '-' or '+' only continues a number after an exponent marker.
			if (l.src[l.pos] == '-' || l.src[l.pos] == '+') && l.pos > start {
				prev := l.src[l.pos-1]
				if prev != 'e' && prev != 'E' {
					break
				}
			}
			l.pos++
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		word := l.src[start:l.pos]
		switch word {
		case "and":
			return token{kind: tokAnd, text: word, pos: start}, nil
		case "or":
			return token{kind: tokOr, text: word, pos: start}, nil
		}
		return token{kind: tokIdent, text: word, pos: start}, nil
	}
	return token{}, l.errAt(start, "unexpected character %q", string(c))
}

func (l *lexer) errAt(pos int, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return kerr.Newf(kerr.KindConfig, "rule %q: %s at offset %d", l.src, msg, pos)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '.' || (c >= '0' && c <= '9')
}

// operand is one side of a comparison: a column reference or a
// literal.
type operand struct {
	ident   string
	literal float64
}

// value reads the operand against a row. The second return is false
// when the referenced column is undefined at this row.
func (o operand) value(row map[string]float64) (float64, bool) {
	if o.ident == "" {
		return o.literal, true
	}
	v, ok := row[o.ident]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// expr is a parsed boolean expression over a row of column values.
type expr interface {
	// eval is false whenever any referenced column is undefined.
	eval(row map[string]float64) bool
}

type cmpExpr struct {
	left  operand
	op    string
	right operand
}

func (c cmpExpr) eval(row map[string]float64) bool {
	l, ok := c.left.value(row)
	if !ok {
		return false
	}
	r, ok := c.right.value(row)
	if !ok {
		return false
	}
	switch c.op {
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	case "==":
		return l == r
	case "!=":
		return l != r
	}
	return false
}

type binExpr struct {
	and   bool
	left  expr
	right expr
}

func (b binExpr) eval(row map[string]float64) bool {
	if b.and {
		return b.left.eval(row) && b.right.eval(row)
	}
	return b.left.eval(row) || b.right.eval(row)
}

// Rule is one parsed predicate plus the identifiers it references.
type Rule struct {
	Text   string
	Idents []string

	root expr
}

// Match evaluates the rule against one row of column values.
func (r *Rule) Match(row map[string]float64) bool {
	return r.root.eval(row)
}

type parser struct {
	lex     *lexer
	tok     token
	columns map[string]bool
	idents  map[string]bool
}

// ParseRule compiles a rule expression, resolving every identifier
// against the known column set.
func ParseRule(text string, columns map[string]bool) (*Rule, error) {
	p := &parser{
		lex:     &lexer{src: text},
		columns: columns,
		idents:  make(map[string]bool),
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.lex.errAt(p.tok.pos, "unexpected %q", p.tok.text)
	}
	idents := make([]string, 0, len(p.idents))
	for name := range p.idents {
		idents = append(idents, name)
	}
	return &Rule{Text: text, Idents: idents, root: root}, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binExpr{and: false, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseCmp()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseCmp()
		if err != nil {
			return nil, err
		}
		left = binExpr{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseCmp() (expr, error) {
	if p.tok.kind == tokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, p.lex.errAt(p.tok.pos, "expected closing parenthesis, got %q", p.tok.text)
		}
		return inner, p.advance()
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokOp {
		return nil, p.lex.errAt(p.tok.pos, "expected comparison operator, got %q", p.tok.text)
	}
	op := p.tok.text
	if err := p.advance(); err != nil {
		return nil, err
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return cmpExpr{left: left, op: op, right: right}, nil
}

func (p *parser) parseOperand() (operand, error) {
	switch p.tok.kind {
	case tokIdent:
		name := p.tok.text
		if !p.columns[name] {
			return operand{}, kerr.Newf(kerr.KindConfig, "rule %q: unknown identifier %q", p.lex.src, name)
		}
		p.idents[name] = true
		return operand{ident: name}, p.advance()
	case tokNumber:
		v, err := strconv.ParseFloat(p.tok.text, 64)
		if err != nil {
			return operand{}, p.lex.errAt(p.tok.pos, "bad number %q", p.tok.text)
		}
		return operand{literal: v}, p.advance()
	}
	return operand{}, p.lex.errAt(p.tok.pos, "expected identifier or number, got %q", p.tok.text)
}
