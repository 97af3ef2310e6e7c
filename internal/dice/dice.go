// Package dice parses and rolls dice expressions like "1d20+5" or
// "2d6+1d4-2". Parsing is separate from rolling so formulas can be validated
// at load time and rolled later with a caller-supplied RNG.
package dice

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

// ErrBadExpression wraps every parse failure.
var ErrBadExpression = errors.New("dice: bad expression")

const (
	maxDicePerTerm = 100
	maxSides       = 1000
)

// term is one additive component of an expression: either count dice of
// sides faces, or a flat constant (sides == 0).
type term struct {
	sign  int
	count int
	sides int
	flat  int
}

// Expr is a parsed dice expression, ready to roll any number of times.
type Expr struct {
	source string
	terms  []term
}

// String returns the original expression text.
func (e Expr) String() string { return e.source }

// MinMax returns the lowest and highest possible totals.
func (e Expr) MinMax() (min, max int) {
	for _, t := range e.terms {
		if t.sides == 0 {
			min += t.sign * t.flat
			max += t.sign * t.flat
			continue
		}
		lo, hi := t.count, t.count*t.sides
		if t.sign < 0 {
			lo, hi = -hi, -lo
		}
		min += lo
		max += hi
	}
	return min, max
}

var termRe = regexp.MustCompile(`^(?:(\d*)[dD](\d+)|(\d+))$`)

// Parse compiles an expression. Terms are joined by + or -; each term is
// NdM, dM (one die), or a flat integer. Whitespace is ignored.
func Parse(expr string) (Expr, error) {
	compact := strings.ReplaceAll(expr, " ", "")
	if compact == "" {
		return Expr{}, fmt.Errorf("%w: empty", ErrBadExpression)
	}

	parsed := Expr{source: expr}
	sign := 1
	for i := 0; i < len(compact); {
		j := i
		for j < len(compact) && compact[j] != '+' && compact[j] != '-' {
			j++
		}
		raw := compact[i:j]
		t, err := parseTerm(raw, sign)
		if err != nil {
			return Expr{}, fmt.Errorf("%w: %q in %q: %v", ErrBadExpression, raw, expr, err)
		}
		parsed.terms = append(parsed.terms, t)

		if j < len(compact) {
			if compact[j] == '-' {
				sign = -1
			} else {
				sign = 1
			}
			j++
		}
		i = j
	}
	return parsed, nil
}

func parseTerm(raw string, sign int) (term, error) {
	m := termRe.FindStringSubmatch(raw)
	if m == nil {
		return term{}, errors.New("not NdM or integer")
	}
	if m[3] != "" {
		flat, err := strconv.Atoi(m[3])
		if err != nil {
			return term{}, err
		}
		return term{sign: sign, flat: flat}, nil
	}
	count := 1
	if m[1] != "" {
		var err error
		count, err = strconv.Atoi(m[1])
		if err != nil {
			return term{}, err
		}
	}
	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return term{}, err
	}
	if count < 1 || count > maxDicePerTerm {
		return term{}, fmt.Errorf("die count %d out of range", count)
	}
	if sides < 2 || sides > maxSides {
		return term{}, fmt.Errorf("sides %d out of range", sides)
	}
	return term{sign: sign, count: count, sides: sides}, nil
}

// Substitute replaces bare variable names (e.g. "MAG") with integer values
// before parsing. Unknown variables are left alone and will fail Parse.
func Substitute(expr string, vars map[string]int) string {
	for name, val := range vars {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
		expr = re.ReplaceAllString(expr, strconv.Itoa(val))
	}
	return expr
}

// Result is one roll of an expression.
type Result struct {
	Expression string `json:"expression"`
	Rolls      []int  `json:"rolls"`
	Modifier   int    `json:"modifier"`
	Total      int    `json:"total"`
}

// Roller rolls parsed expressions with a fixed RNG. The zero value is not
// usable; construct with New or NewSeeded.
type Roller struct {
	rng *rand.Rand
}

// New returns a roller backed by src.
func New(src rand.Source) *Roller {
	return &Roller{rng: rand.New(src)}
}

// NewSeeded returns a deterministic roller, mainly for tests and replays.
func NewSeeded(seed uint64) *Roller {
	return New(rand.NewPCG(seed, seed))
}

// Roll rolls a parsed expression.
func (r *Roller) Roll(e Expr) Result {
	res := Result{Expression: e.source}
	for _, t := range e.terms {
		if t.sides == 0 {
			res.Modifier += t.sign * t.flat
			res.Total += t.sign * t.flat
			continue
		}
		for i := 0; i < t.count; i++ {
			die := r.rng.IntN(t.sides) + 1
			res.Rolls = append(res.Rolls, t.sign*die)
			res.Total += t.sign * die
		}
	}
	return res
}

// RollString parses and rolls in one step.
func (r *Roller) RollString(expr string) (Result, error) {
	e, err := Parse(expr)
	if err != nil {
		return Result{}, err
	}
	return r.Roll(e), nil
}
