package oql

import (
	"fmt"

	"github.com/xtxerr/strata/internal/errors"
)

// Expr is a node of the parsed expression tree.
type Expr interface {
	exprNode()
}

// AndExpr is a conjunction of two or more terms.
type AndExpr struct {
	Terms []Expr
}

// OrExpr is a disjunction of two or more terms.
type OrExpr struct {
	Terms []Expr
}

// NotExpr negates its operand.
type NotExpr struct {
	Operand Expr
}

// Comparison is "field op value" or "field op (v1, v2, ...)".
type Comparison struct {
	Field  Token
	Op     Token
	Values []Token
	List   bool
}

func (*AndExpr) exprNode()    {}
func (*OrExpr) exprNode()     {}
func (*NotExpr) exprNode()    {}
func (*Comparison) exprNode() {}

// Parser is a recursive-descent parser over a token slice.
//
//	expr       := orExpr
//	orExpr     := andExpr ('or' andExpr)*
//	andExpr    := term ('and' term)*
//	term       := 'not' '(' expr ')' | '(' expr ')' | comparison
//	comparison := IDENT op (value | '(' value (',' value)* ')')
//	op         := '=' | '!=' | '<' | '<=' | '>' | '>=' | '~' | 'in'
//	value      := STRING | NUMBER | IDENT
type Parser struct {
	input  string
	tokens []Token
	pos    int
}

// ParseExpr parses input into an expression tree. Blank input yields nil.
func ParseExpr(input string) (Expr, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}
	p := &Parser{input: input, tokens: tokens}
	if p.peek().Kind == TokenEOF {
		return nil, nil
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != TokenEOF {
		return nil, p.errorf(tok, "unexpected %s", describe(tok))
	}
	return expr, nil
}

func (p *Parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.peek().Kind == TokenOr {
		p.advance()
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, next)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &OrExpr{Terms: terms}, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.peek().Kind == TokenAnd {
		p.advance()
		next, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, next)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &AndExpr{Terms: terms}, nil
}

func (p *Parser) parseTerm() (Expr, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokenNot:
		p.advance()
		if _, err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return &NotExpr{Operand: inner}, nil
	case TokenLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return inner, nil
	case TokenIdent:
		return p.parseComparison()
	}
	return nil, p.errorf(tok, "expected field name, got %s", describe(tok))
}

func (p *Parser) parseComparison() (Expr, error) {
	field := p.advance()
	op := p.peek()
	switch op.Kind {
	case TokenEq, TokenNeq, TokenLt, TokenLte, TokenGt, TokenGte, TokenMatch, TokenIn:
		p.advance()
	default:
		return nil, p.errorf(op, "expected operator after %q, got %s", field.Text, describe(op))
	}

	cmp := &Comparison{Field: field, Op: op}
	if p.peek().Kind == TokenLParen {
		p.advance()
		cmp.List = true
		for {
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			cmp.Values = append(cmp.Values, v)
			if p.peek().Kind != TokenComma {
				break
			}
			p.advance()
		}
		if _, err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return cmp, nil
	}

	v, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	cmp.Values = []Token{v}
	return cmp, nil
}

func (p *Parser) parseValue() (Token, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokenString, TokenNumber, TokenIdent:
		p.advance()
		return tok, nil
	}
	return Token{}, p.errorf(tok, "expected value, got %s", describe(tok))
}

func (p *Parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	if tok.Kind != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) expect(kind TokenKind) (Token, error) {
	tok := p.peek()
	if tok.Kind != kind {
		return Token{}, p.errorf(tok, "expected %s, got %s", kind, describe(tok))
	}
	return p.advance(), nil
}

func (p *Parser) errorf(tok Token, format string, args ...any) error {
	return &errors.ParseError{Pos: tok.Pos, Input: p.input, Msg: fmt.Sprintf(format, args...)}
}

func describe(tok Token) string {
	switch tok.Kind {
	case TokenEOF:
		return tok.Kind.String()
	case TokenIdent, TokenNumber, TokenString:
		return fmt.Sprintf("%s %q", tok.Kind, tok.Text)
	}
	return tok.Kind.String()
}
