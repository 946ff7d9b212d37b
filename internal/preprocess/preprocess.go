// Package preprocess turns a list of differential and algebraic equations
// into the reduced ODE system the solvers integrate.
//
// Three transformations are applied in order:
//
//  1. auxiliary definitions are resolved against each other and substituted
//     into every state equation;
//  2. each conservation law is solved symbolically for one state variable;
//  3. the differential equation of every such variable is dropped and its
//     value is reconstructed from the conservation map instead.
package preprocess

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/san-kum/dsdyn/internal/dynamo"
	"github.com/san-kum/dsdyn/internal/expr"
)

// ArtificialPrefix names the synthetic variables reserved for conservation
// equations: Xc1 ... Xcn.
const ArtificialPrefix = "Xc"

// Input describes the raw equation system.
type Input struct {
	// Equations are "X. = rhs" (differential) or "Y = rhs" (algebraic)
	// strings; the last Conservations entries are conservation laws.
	Equations []string
	// Auxiliary lists the names defined algebraically. Every name listed
	// must have a definition.
	Auxiliary []string
	// Conservations is the number of trailing conservation equations.
	Conservations int
	// Eliminate optionally names, per conservation equation, the state
	// variable it removes. When empty the first eligible state variable in
	// state-equation order is used.
	Eliminate []string

	Logger *slog.Logger
}

// StateEquation is one integrated variable and its right-hand side.
type StateEquation struct {
	Name string
	RHS  expr.Expression
}

// Conserved reconstructs a conserved variable: value = Expr/Coefficient.
type Conserved struct {
	Expr        expr.Expression
	Coefficient float64
	// Constraint is the zero form of the originating conservation law.
	Constraint expr.Expression
	Index      int
}

// value returns Expr/Coefficient as a single expression.
func (c Conserved) value() expr.Expression {
	s := expr.ToSum(c.Expr)
	terms := make([]expr.Term, len(s.Terms))
	for i, t := range s.Terms {
		t.Coef /= c.Coefficient
		terms[i] = t
	}
	return expr.SumOf(terms...)
}

// Eval reconstructs the conserved variable's value from env.
func (c Conserved) Eval(env dynamo.Environment) (float64, error) {
	v, err := c.Expr.Eval(env)
	if err != nil {
		return 0, err
	}
	return v / c.Coefficient, nil
}

// ReducedSystem is read-only after Reduce returns and may be shared across
// goroutines.
type ReducedSystem struct {
	StateEquations         []StateEquation
	ConservationMap        map[string]Conserved
	ConservedVariableOrder []string
	// Auxiliary holds the fully resolved auxiliary definitions, in
	// declaration order, so auxiliary trajectories can be reported.
	Auxiliary      []StateEquation
	dependentCount int
}

// HasConservation reports whether any state variable was eliminated.
func (r *ReducedSystem) HasConservation() bool { return len(r.ConservedVariableOrder) > 0 }

// StateNames returns the integrated variables in vector order.
func (r *ReducedSystem) StateNames() []string {
	names := make([]string, len(r.StateEquations))
	for i, eq := range r.StateEquations {
		names[i] = eq.Name
	}
	return names
}

// Dependent returns state names followed by conserved names, the order of
// the augmented DAE vector.
func (r *ReducedSystem) Dependent() []string {
	out := r.StateNames()
	return append(out, r.ConservedVariableOrder...)
}

// DependentCount is the number of originally differential variables.
func (r *ReducedSystem) DependentCount() int { return r.dependentCount }

// Constraints returns the conservation zero forms in conserved order.
func (r *ReducedSystem) Constraints() []expr.Expression {
	out := make([]expr.Expression, len(r.ConservedVariableOrder))
	for i, name := range r.ConservedVariableOrder {
		out[i] = r.ConservationMap[name].Constraint
	}
	return out
}

// Reduce runs the preprocessing pipeline.
func Reduce(in Input) (*ReducedSystem, error) {
	logger := in.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if in.Conservations < 0 || in.Conservations > len(in.Equations) {
		return nil, fmt.Errorf("%w: %d conservation equations declared for %d equations",
			dynamo.ErrInvalidSystem, in.Conservations, len(in.Equations))
	}
	if len(in.Eliminate) != 0 && len(in.Eliminate) != in.Conservations {
		return nil, fmt.Errorf("%w: %d eliminate entries for %d conservation equations",
			dynamo.ErrInvalidSystem, len(in.Eliminate), in.Conservations)
	}

	split := len(in.Equations) - in.Conservations
	eqs := make([]expr.Equation, len(in.Equations))
	for i, src := range in.Equations {
		eq, err := expr.ParseEquation(src)
		if err != nil {
			return nil, fmt.Errorf("equation %d: %w", i, err)
		}
		eqs[i] = eq
	}

	part, err := partition(eqs[:split], in.Auxiliary, in.Conservations)
	if err != nil {
		return nil, err
	}

	resolved, order, err := resolveAuxiliary(part.aux, part.auxOrder)
	if err != nil {
		return nil, err
	}

	sys := &ReducedSystem{
		ConservationMap: make(map[string]Conserved),
		dependentCount:  len(part.states),
	}
	for _, name := range order {
		sys.Auxiliary = append(sys.Auxiliary, StateEquation{Name: name, RHS: resolved[name]})
	}
	subst := make(map[string]expr.Expression, len(resolved))
	for k, v := range resolved {
		subst[k] = v
	}
	for _, st := range part.states {
		rhs := st.RHS
		if len(subst) > 0 {
			rhs = rhs.Subst(subst)
		}
		sys.StateEquations = append(sys.StateEquations, StateEquation{Name: st.Name, RHS: rhs})
	}

	if in.Conservations == 0 {
		logger.Debug("preprocess: reduced system",
			"states", len(sys.StateEquations), "auxiliary", len(sys.Auxiliary))
		return sys, nil
	}

	eliminated := make(map[string]bool)
	solved := make(map[string]expr.Expression)
	for k := 0; k < in.Conservations; k++ {
		index := split + k
		eq := eqs[index]
		constraint := zeroForm(eq, k)
		if len(subst) > 0 {
			constraint = expr.ToSum(constraint.Subst(subst))
		}
		zero := constraint
		if len(solved) > 0 {
			zero = expr.ToSum(zero.Subst(solved))
		}

		requested := ""
		if len(in.Eliminate) > 0 {
			requested = in.Eliminate[k]
		}
		name, err := selectVariable(sys.StateEquations, eliminated, zero, requested)
		if err != nil {
			return nil, &dynamo.ConservationParseError{Index: index, Equation: eq.String(), Reason: err.Error()}
		}

		conserved, err := isolate(zero, name, eliminated, sys.StateNames())
		if err != nil {
			return nil, &dynamo.ConservationParseError{Index: index, Equation: eq.String(), Reason: err.Error()}
		}
		conserved.Index = index
		conserved.Constraint = constraint

		eliminated[name] = true
		solved[name] = conserved.value()
		sys.ConservationMap[name] = conserved
		sys.ConservedVariableOrder = append(sys.ConservedVariableOrder, name)
		sys.StateEquations = removeState(sys.StateEquations, name)

		logger.Debug("preprocess: eliminated variable",
			"variable", name, "equation", index, "expr", conserved.Expr.String(),
			"coefficient", conserved.Coefficient)
	}

	backSubstitute(sys)

	if len(sys.StateEquations)+len(sys.ConservedVariableOrder) != sys.dependentCount {
		return nil, fmt.Errorf("%w: %d states + %d conserved != %d dependent variables",
			dynamo.ErrInvalidSystem, len(sys.StateEquations), len(sys.ConservedVariableOrder), sys.dependentCount)
	}

	logger.Debug("preprocess: reduced system",
		"states", len(sys.StateEquations), "conserved", len(sys.ConservedVariableOrder),
		"auxiliary", len(sys.Auxiliary))
	return sys, nil
}

type partitioned struct {
	states   []StateEquation
	aux      map[string]expr.Expression
	auxOrder []string
}

func partition(eqs []expr.Equation, declared []string, conservations int) (*partitioned, error) {
	p := &partitioned{aux: make(map[string]expr.Expression)}
	artificial := make(map[string]bool, conservations)
	for i := 1; i <= conservations; i++ {
		artificial[ArtificialPrefix+strconv.Itoa(i)] = true
	}

	seen := make(map[string]bool)
	for i, eq := range eqs {
		name := eq.Name()
		if name == "" {
			return nil, fmt.Errorf("%w: equation %d (%s) must have a single variable on the left",
				dynamo.ErrInvalidSystem, i, eq)
		}
		v := eq.Variable()
		if artificial[v] {
			return nil, fmt.Errorf("%w: equation %d defines reserved name %s",
				dynamo.ErrInvalidSystem, i, v)
		}
		if seen[v] {
			return nil, fmt.Errorf("%w: %s is defined twice", dynamo.ErrInvalidSystem, v)
		}
		seen[v] = true

		if eq.IsDerivative() {
			p.states = append(p.states, StateEquation{Name: v, RHS: eq.RHS})
			continue
		}
		p.aux[v] = eq.RHS
		p.auxOrder = append(p.auxOrder, v)
	}

	for _, name := range declared {
		if _, ok := p.aux[name]; !ok {
			return nil, fmt.Errorf("%w: auxiliary %s has no algebraic definition",
				dynamo.ErrInvalidSystem, name)
		}
	}
	return p, nil
}

// resolveAuxiliary substitutes auxiliary definitions into each other until
// none refers to another. Cycles are found by depth-first search before any
// substitution happens.
func resolveAuxiliary(defs map[string]expr.Expression, order []string) (map[string]expr.Expression, []string, error) {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(defs))
	resolved := make(map[string]expr.Expression, len(defs))
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case active:
			start := 0
			for i, n := range stack {
				if n == name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, stack[start:]...), name)
			return &dynamo.AuxiliaryCycleError{Cycle: cycle}
		}

		state[name] = active
		stack = append(stack, name)

		deps := make(map[string]expr.Expression)
		for _, v := range defs[name].Variables() {
			if _, ok := defs[v]; !ok {
				continue
			}
			if err := visit(v); err != nil {
				return err
			}
			deps[v] = resolved[v]
		}

		rhs := defs[name]
		if len(deps) > 0 {
			rhs = rhs.Subst(deps)
		}
		resolved[name] = rhs

		stack = stack[:len(stack)-1]
		state[name] = done
		return nil
	}

	for _, name := range order {
		if err := visit(name); err != nil {
			return nil, nil, err
		}
	}
	return resolved, order, nil
}

// zeroForm returns the expression that equals zero for conservation
// equation k (0-based): the rhs when the lhs is the artificial variable,
// rhs - lhs otherwise.
func zeroForm(eq expr.Equation, k int) *expr.Sum {
	if eq.Name() == ArtificialPrefix+strconv.Itoa(k+1) {
		return eq.RHS
	}
	return eq.RHS.Minus(eq.LHS)
}

func selectVariable(states []StateEquation, eliminated map[string]bool, zero *expr.Sum, requested string) (string, error) {
	refs := make(map[string]bool)
	for _, v := range zero.Variables() {
		refs[v] = true
	}

	if requested != "" {
		if eliminated[requested] {
			return "", fmt.Errorf("%s is already eliminated", requested)
		}
		for _, st := range states {
			if st.Name == requested {
				if !refs[requested] {
					return "", fmt.Errorf("%s does not appear in the equation", requested)
				}
				return requested, nil
			}
		}
		return "", fmt.Errorf("%s is not a state variable", requested)
	}

	if len(states) == 0 {
		return "", fmt.Errorf("no state variables left to eliminate")
	}
	for _, st := range states {
		if !eliminated[st.Name] && refs[st.Name] {
			return st.Name, nil
		}
	}
	return "", fmt.Errorf("no un-eliminated state variable appears in the equation")
}

// isolate solves zero = 0 for name. With T = c*F*name the selected term,
// name = -(sum of other terms)/F/c; the returned Conserved stores the
// numerator over F and c separately.
func isolate(zero *expr.Sum, name string, eliminated map[string]bool, states []string) (Conserved, error) {
	selected := -1
	for i, t := range zero.Terms {
		exp, direct := t.Exponent(name)
		switch {
		case direct && exp == 1 && selected < 0:
			selected = i
		case direct && exp == 1:
			return Conserved{}, fmt.Errorf("%s appears in more than one term", name)
		case direct:
			return Conserved{}, fmt.Errorf("%s appears with exponent %g, not 1", name, exp)
		case t.References(name):
			return Conserved{}, fmt.Errorf("%s appears inside a non-monomial factor", name)
		}
	}
	if selected < 0 {
		return Conserved{}, fmt.Errorf("%s is not a direct factor of any term", name)
	}

	term := zero.Terms[selected]
	if term.Coef == 0 || math.IsNaN(term.Coef) || math.IsInf(term.Coef, 0) {
		return Conserved{}, fmt.Errorf("%s has coefficient %g", name, term.Coef)
	}
	comp := term.Complement(name)
	for _, other := range states {
		if other != name && !eliminated[other] && comp.References(other) {
			return Conserved{}, fmt.Errorf("term %s references state variables %s and %s together",
				term, name, other)
		}
	}

	inv := comp.Invert()
	rest := make([]expr.Term, 0, len(zero.Terms)-1)
	for i, t := range zero.Terms {
		if i == selected {
			continue
		}
		neg := t
		neg.Coef = -neg.Coef
		rest = append(rest, neg.Mul(inv))
	}
	if len(rest) == 0 {
		return Conserved{}, fmt.Errorf("no terms remain after isolating %s", name)
	}

	return Conserved{Expr: expr.SumOf(rest...), Coefficient: term.Coef}, nil
}

// backSubstitute replaces conserved variables that were eliminated later
// inside earlier map entries, so every entry depends on integrated states
// and parameters only.
func backSubstitute(sys *ReducedSystem) {
	order := sys.ConservedVariableOrder
	for i := len(order) - 2; i >= 0; i-- {
		later := make(map[string]expr.Expression, len(order)-i-1)
		for _, name := range order[i+1:] {
			later[name] = sys.ConservationMap[name].value()
		}
		c := sys.ConservationMap[order[i]]
		c.Expr = c.Expr.Subst(later)
		sys.ConservationMap[order[i]] = c
	}
}

func removeState(states []StateEquation, name string) []StateEquation {
	out := make([]StateEquation, 0, len(states))
	for _, st := range states {
		if st.Name != name {
			out = append(out, st)
		}
	}
	return out
}
