package filterexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// SyntaxError reports a malformed filter with the rune offset where parsing stopped.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("filterexpr: %s at offset %d", e.Msg, e.Pos)
}

// Expr is a parsed filter expression.
type Expr interface {
	// Match reports whether the record exposed by get satisfies the expression.
	Match(get Getter) bool
}

// Getter resolves a field name to its value on the record under test.
type Getter func(field string) (any, bool)

// OperandKind tells literals apart from field references.
type OperandKind int

const (
	OperandField OperandKind = iota
	OperandString
	OperandNumber
	OperandBool
	OperandNull
)

// Operand is one side of a comparison.
type Operand struct {
	Kind   OperandKind
	Text   string
	Number float64
	Bool   bool
}

// Comparison is `left op right`.
type Comparison struct {
	Left  Operand
	Op    string
	Right Operand
}

// Logical joins two expressions with "&&" or "||".
type Logical struct {
	Op    string
	Left  Expr
	Right Expr
}

// Parse compiles a filter string. An empty or blank filter matches everything
// and yields a nil Expr.
func Parse(input string) (Expr, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %s %q", tok.kind, tok.text)}
	}
	return expr, nil
}

// Match is a convenience for Parse followed by Expr.Match; a nil expression
// matches everything.
func Match(expr Expr, get Getter) bool {
	if expr == nil {
		return true
	}
	return expr.Match(get)
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &Logical{Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.peek().kind == tokLParen {
		p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if tok := p.next(); tok.kind != tokRParen {
			return nil, &SyntaxError{Pos: tok.pos, Msg: "expected )"}
		}
		return expr, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, &SyntaxError{Pos: opTok.pos, Msg: fmt.Sprintf("expected operator, got %s", opTok.kind)}
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &Comparison{Left: left, Op: opTok.text, Right: right}, nil
}

func (p *parser) parseOperand() (Operand, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return Operand{Kind: OperandString, Text: tok.text}, nil
	case tokNumber:
		n, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return Operand{}, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("invalid number %q", tok.text)}
		}
		return Operand{Kind: OperandNumber, Text: tok.text, Number: n}, nil
	case tokIdent:
		switch tok.text {
		case "true", "false":
			return Operand{Kind: OperandBool, Text: tok.text, Bool: tok.text == "true"}, nil
		case "null":
			return Operand{Kind: OperandNull, Text: tok.text}, nil
		}
		return Operand{Kind: OperandField, Text: tok.text}, nil
	default:
		return Operand{}, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("expected operand, got %s", tok.kind)}
	}
}
