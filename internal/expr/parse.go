package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse reads a power-law expression. Supported syntax: numbers,
// identifiers (optionally ending in '.' to denote a time derivative),
// + - * / ^, unary minus and parentheses. Exponents must be constant.
func Parse(src string) (*Sum, error) {
	p := &parser{src: src}
	p.next()
	s, err := p.sum()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %q", p.tok.text)
	}
	return s, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(src string) *Sum {
	s, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return s
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

type parser struct {
	src string
	pos int
	tok token
	err error
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at %d in %q: %s", ErrSyntax, p.tok.pos, p.src, fmt.Sprintf(format, args...))
}

func (p *parser) next() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
	start := p.pos
	if p.pos >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}

	c := p.src[p.pos]
	switch {
	case isDigit(c) || (c == '.' && p.pos+1 < len(p.src) && isDigit(p.src[p.pos+1])):
		p.pos = scanNumber(p.src, p.pos)
		text := p.src[start:p.pos]
		v, err := strconv.ParseFloat(text, 64)
		if err != nil && p.err == nil {
			p.err = fmt.Errorf("%w: bad number %q", ErrSyntax, text)
		}
		p.tok = token{kind: tokNumber, text: text, num: v, pos: start}
	case isIdentStart(c):
		for p.pos < len(p.src) && isIdentPart(p.src[p.pos]) {
			p.pos++
		}
		// trailing '.' marks a derivative unless it starts a number
		if p.pos < len(p.src) && p.src[p.pos] == '.' &&
			(p.pos+1 >= len(p.src) || !isDigit(p.src[p.pos+1])) {
			p.pos++
		}
		p.tok = token{kind: tokIdent, text: p.src[start:p.pos], pos: start}
	default:
		p.pos++
		p.tok = token{kind: tokOp, text: string(c), pos: start}
	}
}

func (p *parser) is(op string) bool {
	return p.tok.kind == tokOp && p.tok.text == op
}

func (p *parser) sum() (*Sum, error) {
	s := &Sum{}
	negate := false
	if p.is("+") || p.is("-") {
		negate = p.is("-")
		p.next()
	}
	for {
		t, err := p.term()
		if err != nil {
			return nil, err
		}
		if negate {
			t.Coef = -t.Coef
		}
		s.Terms = append(s.Terms, t)

		if !p.is("+") && !p.is("-") {
			break
		}
		negate = p.is("-")
		p.next()
	}
	return s, p.err
}

func (p *parser) term() (Term, error) {
	t, err := p.unary()
	if err != nil {
		return Term{}, err
	}
	for p.is("*") || p.is("/") {
		div := p.is("/")
		p.next()
		rhs, err := p.unary()
		if err != nil {
			return Term{}, err
		}
		if div {
			if rhs.Coef == 0 {
				return Term{}, p.errorf("division by zero")
			}
			rhs = rhs.Invert()
		}
		t = t.Mul(rhs)
	}
	return t, nil
}

func (p *parser) unary() (Term, error) {
	if p.is("-") {
		p.next()
		t, err := p.unary()
		if err != nil {
			return Term{}, err
		}
		t.Coef = -t.Coef
		return t, nil
	}
	if p.is("+") {
		p.next()
		return p.unary()
	}
	return p.power()
}

func (p *parser) power() (Term, error) {
	base, err := p.primary()
	if err != nil {
		return Term{}, err
	}
	if !p.is("^") {
		return base, nil
	}
	p.next()
	expTerm, err := p.unary()
	if err != nil {
		return Term{}, err
	}
	if len(expTerm.Factors) != 0 {
		return Term{}, p.errorf("exponent must be constant, got %s", expTerm)
	}
	e := expTerm.Coef
	if len(base.Factors) == 1 && base.Coef == 1 && base.Factors[0].Group != nil {
		f := base.Factors[0]
		f.Exp *= e
		return Term{Coef: 1, Factors: []Factor{f}}, nil
	}
	return base.Pow(e), nil
}

func (p *parser) primary() (Term, error) {
	switch p.tok.kind {
	case tokNumber:
		v := p.tok.num
		p.next()
		return Term{Coef: v}, nil
	case tokIdent:
		name := p.tok.text
		p.next()
		return Term{Coef: 1, Factors: []Factor{{Name: name, Exp: 1}}}, nil
	case tokOp:
		if p.is("(") {
			p.next()
			inner, err := p.sum()
			if err != nil {
				return Term{}, err
			}
			if !p.is(")") {
				return Term{}, p.errorf("expected )")
			}
			p.next()
			if len(inner.Terms) == 1 {
				return inner.Terms[0], nil
			}
			return Term{Coef: 1, Factors: []Factor{{Group: inner, Exp: 1}}}, nil
		}
		return Term{}, p.errorf("unexpected %q", p.tok.text)
	default:
		return Term{}, p.errorf("unexpected end of input")
	}
}

func scanNumber(s string, i int) int {
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			i = j
			for i < len(s) && isDigit(s[i]) {
				i++
			}
		}
	}
	return i
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || unicode.IsLetter(rune(c)) }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

// Equation is lhs = rhs.
type Equation struct {
	LHS *Sum
	RHS *Sum
	Src string
}

// ParseEquation parses "lhs = rhs".
func ParseEquation(src string) (Equation, error) {
	parts := strings.Split(src, "=")
	if len(parts) != 2 {
		return Equation{}, fmt.Errorf("%w: equation %q must contain exactly one '='", ErrSyntax, src)
	}
	lhs, err := Parse(parts[0])
	if err != nil {
		return Equation{}, err
	}
	rhs, err := Parse(parts[1])
	if err != nil {
		return Equation{}, err
	}
	return Equation{LHS: lhs, RHS: rhs, Src: strings.TrimSpace(src)}, nil
}

// Name returns the variable named on the left-hand side, or "" when the
// lhs is not a single bare variable.
func (e Equation) Name() string {
	if e.LHS == nil || len(e.LHS.Terms) != 1 {
		return ""
	}
	t := e.LHS.Terms[0]
	if t.Coef != 1 || len(t.Factors) != 1 {
		return ""
	}
	f := t.Factors[0]
	if !f.IsVariable() || f.Exp != 1 {
		return ""
	}
	return f.Name
}

// IsDerivative reports whether the equation defines a time derivative
// ("X. = ...").
func (e Equation) IsDerivative() bool {
	return strings.HasSuffix(e.Name(), ".")
}

// Variable is the lhs name without the derivative marker.
func (e Equation) Variable() string {
	return strings.TrimSuffix(e.Name(), ".")
}

func (e Equation) String() string {
	if e.Src != "" {
		return e.Src
	}
	return e.LHS.String() + " = " + e.RHS.String()
}

// DerivativeSymbol returns the name used for the time derivative of name.
func DerivativeSymbol(name string) string { return name + "." }
