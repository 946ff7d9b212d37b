// Package expr implements the power-law expressions the simulation engine
// evaluates: sums of terms, each a scalar coefficient times a product of
// factors raised to constant exponents.
//
// The representation is structured so that symbolic steps such as
// isolating a variable in a conservation law work on exponents directly.
package expr

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/san-kum/dsdyn/internal/dynamo"
)

var (
	ErrUndefinedVariable = fmt.Errorf("expr: undefined variable: %w", dynamo.ErrMissingValue)
	ErrSyntax            = errors.New("expr: syntax error")
)

// Expression is the contract the rest of the engine relies on.
type Expression interface {
	// Variables returns every referenced name, sorted and unique.
	Variables() []string
	// Subst returns a new expression with the named variables replaced.
	Subst(mapping map[string]Expression) Expression
	Eval(env dynamo.Environment) (float64, error)
	String() string
}

// Factor is base^Exp where the base is either a variable (Name) or a
// parenthesised sub-expression (Group).
type Factor struct {
	Name  string
	Group Expression
	Exp   float64
}

func (f Factor) IsVariable() bool { return f.Group == nil }

func (f Factor) eval(env dynamo.Environment) (float64, error) {
	var base float64
	if f.Group != nil {
		v, err := f.Group.Eval(env)
		if err != nil {
			return 0, err
		}
		base = v
	} else {
		v, ok := env[f.Name]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUndefinedVariable, f.Name)
		}
		base = v
	}
	if f.Exp == 1 {
		return base, nil
	}
	return math.Pow(base, f.Exp), nil
}

func (f Factor) String() string {
	var base string
	if f.Group != nil {
		base = "(" + f.Group.String() + ")"
	} else {
		base = f.Name
	}
	if f.Exp == 1 {
		return base
	}
	return base + "^" + formatNumber(f.Exp)
}

// Term is Coef times the product of Factors.
type Term struct {
	Coef    float64
	Factors []Factor
}

// Monomial builds a term from a coefficient and factors, merging repeated
// variables.
func Monomial(coef float64, factors ...Factor) Term {
	return Term{Coef: coef}.Mul(Term{Coef: 1, Factors: factors})
}

func (t Term) Eval(env dynamo.Environment) (float64, error) {
	v := t.Coef
	for _, f := range t.Factors {
		fv, err := f.eval(env)
		if err != nil {
			return 0, err
		}
		v *= fv
	}
	return v, nil
}

// Exponent returns the exponent of name when it is a direct variable
// factor of the term.
func (t Term) Exponent(name string) (float64, bool) {
	for _, f := range t.Factors {
		if f.IsVariable() && f.Name == name {
			return f.Exp, true
		}
	}
	return 0, false
}

// References reports whether name appears anywhere in the term, including
// inside parenthesised bases.
func (t Term) References(name string) bool {
	for _, v := range t.Variables() {
		if v == name {
			return true
		}
	}
	return false
}

// Complement returns the product of every factor except the direct
// variable factor name, with a unit coefficient.
func (t Term) Complement(name string) Term {
	out := Term{Coef: 1}
	for _, f := range t.Factors {
		if f.IsVariable() && f.Name == name {
			continue
		}
		out.Factors = append(out.Factors, f)
	}
	return out
}

// Invert returns 1/t: reciprocal coefficient, every exponent negated.
func (t Term) Invert() Term {
	out := Term{Coef: 1 / t.Coef, Factors: make([]Factor, len(t.Factors))}
	for i, f := range t.Factors {
		f.Exp = -f.Exp
		out.Factors[i] = f
	}
	return out
}

// Mul multiplies two terms, merging repeated variable factors.
func (t Term) Mul(o Term) Term {
	out := Term{Coef: t.Coef * o.Coef}
	out.Factors = make([]Factor, 0, len(t.Factors)+len(o.Factors))
	out.Factors = append(out.Factors, t.Factors...)
	for _, f := range o.Factors {
		out.Factors = appendFactor(out.Factors, f)
	}
	return out.normalize()
}

// Pow raises the term to a constant exponent.
func (t Term) Pow(e float64) Term {
	out := Term{Coef: math.Pow(t.Coef, e), Factors: make([]Factor, len(t.Factors))}
	for i, f := range t.Factors {
		f.Exp *= e
		out.Factors[i] = f
	}
	return out.normalize()
}

func (t Term) Variables() []string {
	seen := make(map[string]struct{})
	for _, f := range t.Factors {
		if f.Group != nil {
			for _, v := range f.Group.Variables() {
				seen[v] = struct{}{}
			}
			continue
		}
		seen[f.Name] = struct{}{}
	}
	return sortedKeys(seen)
}

func (t Term) subst(mapping map[string]Expression) Term {
	out := Term{Coef: t.Coef}
	for _, f := range t.Factors {
		if f.Group != nil {
			out.Factors = append(out.Factors, Factor{Group: f.Group.Subst(mapping), Exp: f.Exp})
			continue
		}
		repl, ok := mapping[f.Name]
		if !ok {
			out.Factors = appendFactor(out.Factors, f)
			continue
		}
		if s, ok := repl.(*Sum); ok && len(s.Terms) == 1 {
			out = out.Mul(s.Terms[0].Pow(f.Exp))
			continue
		}
		out.Factors = append(out.Factors, Factor{Group: repl, Exp: f.Exp})
	}
	return out.normalize()
}

func (t Term) normalize() Term {
	kept := t.Factors[:0:0]
	for _, f := range t.Factors {
		if f.Exp == 0 {
			continue
		}
		kept = append(kept, f)
	}
	t.Factors = kept
	return t
}

func (t Term) String() string {
	return t.format(false)
}

// format renders the term; when abs is set the sign of the coefficient is
// dropped so Sum can print it as an operator.
func (t Term) format(abs bool) string {
	coef := t.Coef
	if abs {
		coef = math.Abs(coef)
	}
	parts := make([]string, 0, len(t.Factors)+1)
	switch {
	case len(t.Factors) == 0:
		return formatNumber(coef)
	case coef == -1:
		parts = append(parts, "-")
	case coef != 1:
		parts = append(parts, formatNumber(coef)+"*")
	}
	for i, f := range t.Factors {
		if i > 0 {
			parts = append(parts, "*")
		}
		parts = append(parts, f.String())
	}
	return strings.Join(parts, "")
}

// Sum is a sum of terms. It is the only concrete Expression.
type Sum struct {
	Terms []Term
}

// Const returns the constant expression v.
func Const(v float64) *Sum { return &Sum{Terms: []Term{{Coef: v}}} }

// Var returns the expression consisting of the single variable name.
func Var(name string) *Sum {
	return &Sum{Terms: []Term{{Coef: 1, Factors: []Factor{{Name: name, Exp: 1}}}}}
}

// SumOf builds a sum from terms, dropping zero terms.
func SumOf(terms ...Term) *Sum {
	s := &Sum{}
	for _, t := range terms {
		if t.Coef == 0 {
			continue
		}
		s.Terms = append(s.Terms, t.normalize())
	}
	return s
}

func (s *Sum) Eval(env dynamo.Environment) (float64, error) {
	total := 0.0
	for _, t := range s.Terms {
		v, err := t.Eval(env)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

func (s *Sum) Variables() []string {
	seen := make(map[string]struct{})
	for _, t := range s.Terms {
		for _, v := range t.Variables() {
			seen[v] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func (s *Sum) Subst(mapping map[string]Expression) Expression {
	out := &Sum{Terms: make([]Term, 0, len(s.Terms))}
	for _, t := range s.Terms {
		out.Terms = append(out.Terms, t.subst(mapping))
	}
	return out
}

// Neg returns -s.
func (s *Sum) Neg() *Sum {
	out := &Sum{Terms: make([]Term, len(s.Terms))}
	for i, t := range s.Terms {
		t.Coef = -t.Coef
		out.Terms[i] = t
	}
	return out
}

// Minus returns s - o as a flat sum.
func (s *Sum) Minus(o *Sum) *Sum {
	out := &Sum{}
	out.Terms = append(out.Terms, s.Terms...)
	out.Terms = append(out.Terms, o.Neg().Terms...)
	return SumOf(out.Terms...)
}

func (s *Sum) String() string {
	if len(s.Terms) == 0 {
		return "0"
	}
	var sb strings.Builder
	for i, t := range s.Terms {
		switch {
		case i == 0:
			sb.WriteString(t.format(false))
		case t.Coef < 0:
			sb.WriteString(" - ")
			sb.WriteString(t.format(true))
		default:
			sb.WriteString(" + ")
			sb.WriteString(t.format(true))
		}
	}
	return sb.String()
}

// ToSum converts any Expression to a *Sum, wrapping foreign
// implementations in a single group factor.
func ToSum(e Expression) *Sum {
	if s, ok := e.(*Sum); ok {
		return s
	}
	return &Sum{Terms: []Term{{Coef: 1, Factors: []Factor{{Group: e, Exp: 1}}}}}
}

func appendFactor(fs []Factor, f Factor) []Factor {
	if f.IsVariable() {
		for i := range fs {
			if fs[i].IsVariable() && fs[i].Name == f.Name {
				fs[i].Exp += f.Exp
				return fs
			}
		}
	}
	return append(fs, f)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
