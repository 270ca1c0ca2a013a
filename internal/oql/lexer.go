// Package oql implements the object query language: a small boolean
// expression syntax that compiles to filter trees.
//
//	name = "core-01" and (attributes.site in (fra1, ams2) or not(uptime < 3600))
//
// Compilation runs in three stages: a Lexer produces tokens, a Parser builds
// an expression tree and a Compiler turns that tree into a filter.Filter.
package oql

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xtxerr/strata/internal/errors"
)

// TokenKind classifies a lexical token.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenNumber
	TokenString
	TokenEq
	TokenNeq
	TokenLt
	TokenLte
	TokenGt
	TokenGte
	TokenMatch
	TokenAnd
	TokenOr
	TokenNot
	TokenIn
	TokenLParen
	TokenRParen
	TokenComma
)

var tokenNames = map[TokenKind]string{
	TokenEOF:    "end of input",
	TokenIdent:  "identifier",
	TokenNumber: "number",
	TokenString: "string",
	TokenEq:     "'='",
	TokenNeq:    "'!='",
	TokenLt:     "'<'",
	TokenLte:    "'<='",
	TokenGt:     "'>'",
	TokenGte:    "'>='",
	TokenMatch:  "'~'",
	TokenAnd:    "'and'",
	TokenOr:     "'or'",
	TokenNot:    "'not'",
	TokenIn:     "'in'",
	TokenLParen: "'('",
	TokenRParen: "')'",
	TokenComma:  "','",
}

// String returns a human readable token name.
func (k TokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(k))
}

var keywords = map[string]TokenKind{
	"and": TokenAnd,
	"or":  TokenOr,
	"not": TokenNot,
	"in":  TokenIn,
}

// Token is a lexeme with its byte offset in the input.
type Token struct {
	Kind TokenKind
	Text string // unquoted text for strings
	Pos  int
}

// Lexer splits OQL text into tokens.
type Lexer struct {
	input string
	pos   int
}

// NewLexer returns a lexer over input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize returns all tokens up to and including EOF.
func Tokenize(input string) ([]Token, error) {
	lx := NewLexer(input)
	var out []Token
	for {
		tok, err := lx.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.Kind == TokenEOF {
			return out, nil
		}
	}
}

// Next returns the next token.
func (l *Lexer) Next() (Token, error) {
	l.skipSpace()
	if l.pos >= len(l.input) {
		return Token{Kind: TokenEOF, Pos: l.pos}, nil
	}

	start := l.pos
	c := l.input[l.pos]
	switch c {
	case '(':
		l.pos++
		return Token{Kind: TokenLParen, Text: "(", Pos: start}, nil
	case ')':
		l.pos++
		return Token{Kind: TokenRParen, Text: ")", Pos: start}, nil
	case ',':
		l.pos++
		return Token{Kind: TokenComma, Text: ",", Pos: start}, nil
	case '=':
		l.pos++
		return Token{Kind: TokenEq, Text: "=", Pos: start}, nil
	case '~':
		l.pos++
		return Token{Kind: TokenMatch, Text: "~", Pos: start}, nil
	case '!':
		if l.peek(1) == '=' {
			l.pos += 2
			return Token{Kind: TokenNeq, Text: "!=", Pos: start}, nil
		}
		return Token{}, l.errorf(start, "unexpected character '!'")
	case '<':
		if l.peek(1) == '=' {
			l.pos += 2
			return Token{Kind: TokenLte, Text: "<=", Pos: start}, nil
		}
		l.pos++
		return Token{Kind: TokenLt, Text: "<", Pos: start}, nil
	case '>':
		if l.peek(1) == '=' {
			l.pos += 2
			return Token{Kind: TokenGte, Text: ">=", Pos: start}, nil
		}
		l.pos++
		return Token{Kind: TokenGt, Text: ">", Pos: start}, nil
	case '"':
		return l.quoted()
	}

	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	if !isWordRune(r) {
		return Token{}, l.errorf(start, "unexpected character %q", r)
	}
	return l.word(), nil
}

func (l *Lexer) quoted() (Token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '"' {
			if l.peek(1) == '"' {
				sb.WriteByte('"')
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Kind: TokenString, Text: sb.String(), Pos: start}, nil
		}
		sb.WriteByte(c)
		l.pos++
	}
	return Token{}, l.errorf(start, "unterminated string")
}

func (l *Lexer) word() Token {
	start := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !isWordRune(r) {
			break
		}
		l.pos += size
	}
	text := l.input[start:l.pos]
	if kind, ok := keywords[strings.ToLower(text)]; ok {
		return Token{Kind: kind, Text: text, Pos: start}
	}
	if isNumber(text) {
		return Token{Kind: TokenNumber, Text: text, Pos: start}
	}
	return Token{Kind: TokenIdent, Text: text, Pos: start}
}

func (l *Lexer) skipSpace() {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}

func (l *Lexer) peek(offset int) byte {
	if l.pos+offset >= len(l.input) {
		return 0
	}
	return l.input[l.pos+offset]
}

func (l *Lexer) errorf(pos int, format string, args ...any) error {
	return &errors.ParseError{Pos: pos, Input: l.input, Msg: fmt.Sprintf(format, args...)}
}

// isWordRune reports whether r may appear in an unquoted identifier or
// number. Dots address nested fields; '-', '/', ':' and '$' allow hostnames,
// paths and similar values without quoting.
func isWordRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '_', '.', '-', '$', '/', ':', '+':
		return true
	}
	return false
}

// isNumber accepts an optional sign, digits and at most one decimal point.
func isNumber(s string) bool {
	if s == "" {
		return false
	}
	i := 0
	if s[0] == '-' || s[0] == '+' {
		i++
	}
	digits, dots := 0, 0
	for ; i < len(s); i++ {
		switch {
		case s[i] >= '0' && s[i] <= '9':
			digits++
		case s[i] == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}
