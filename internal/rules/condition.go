package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"caseflow/internal/domain"
)

type Operator string

const (
	OpEquals     Operator = "equals"
	OpNotEquals  Operator = "not_equals"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpIsEmpty    Operator = "is_empty"
	OpIsNotEmpty Operator = "is_not_empty"

	OpNumEquals   Operator = "num_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIsBetween   Operator = "is_between"

	OpDateEquals Operator = "date_equals"
	OpIsBefore   Operator = "is_before"
	OpIsAfter    Operator = "is_after"
)

type family int

const (
	familyString family = iota
	familyNumeric
	familyDate
)

var operators = map[Operator]family{
	OpEquals:      familyString,
	OpNotEquals:   familyString,
	OpContains:    familyString,
	OpStartsWith:  familyString,
	OpIsEmpty:     familyString,
	OpIsNotEmpty:  familyString,
	OpNumEquals:   familyNumeric,
	OpGreaterThan: familyNumeric,
	OpLessThan:    familyNumeric,
	OpIsBetween:   familyNumeric,
	OpDateEquals:  familyDate,
	OpIsBefore:    familyDate,
	OpIsAfter:     familyDate,
}

// ConfigError reports a rule that cannot be compiled.
type ConfigError struct {
	Field    string
	Operator string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Operator != "" {
		return fmt.Sprintf("condition %s %s: %s", e.Field, e.Operator, e.Reason)
	}
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

// ErrMalformedOperand marks a predicate whose configured value could not be parsed.
var ErrMalformedOperand = errors.New("malformed operand")

// Predicate is one compiled condition.
type Predicate struct {
	Field Field
	Op    Operator
	Raw   string

	num    float64
	lo, hi float64
	date   time.Time
	bad    error
}

// Predicates is an AND-list. An empty list always matches.
type Predicates []Predicate

// Compile resolves field names and parses operands once. Unknown fields and
// operators are configuration errors; unparsable operands compile into
// predicates that never match.
func Compile(conds []domain.Condition) (Predicates, error) {
	out := make(Predicates, 0, len(conds))
	for _, c := range conds {
		p, err := compileOne(c)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func compileOne(c domain.Condition) (Predicate, error) {
	field, ok := Lookup(c.Field)
	if !ok {
		return Predicate{}, &ConfigError{Field: c.Field, Operator: c.Operator, Reason: "unknown field"}
	}
	op := Operator(c.Operator)
	fam, ok := operators[op]
	if !ok {
		return Predicate{}, &ConfigError{Field: c.Field, Operator: c.Operator, Reason: "unknown operator"}
	}
	p := Predicate{Field: field, Op: op, Raw: c.Value}
	switch fam {
	case familyNumeric:
		if op == OpIsBetween {
			lo, hi, err := parseRange(c.Value)
			if err != nil {
				p.bad = err
			}
			p.lo, p.hi = lo, hi
			break
		}
		n, err := parseNumber(c.Value)
		if err != nil {
			p.bad = fmt.Errorf("%w: %q is not a number", ErrMalformedOperand, c.Value)
		}
		p.num = n
	case familyDate:
		d, err := time.Parse(domain.DateLayout, strings.TrimSpace(c.Value))
		if err != nil {
			p.bad = fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrMalformedOperand, c.Value)
		}
		p.date = d
	}
	return p, nil
}

// Warnings returns the operand problems found at compile time.
func (ps Predicates) Warnings() []error {
	var out []error
	for _, p := range ps {
		if p.bad != nil {
			out = append(out, fmt.Errorf("%s %s: %w", p.Field.Name, p.Op, p.bad))
		}
	}
	return out
}

// Match reports whether every predicate holds for c. A predicate that cannot
// be evaluated counts as unmet and its error is returned for logging.
func (ps Predicates) Match(c domain.Case) (bool, error) {
	for _, p := range ps {
		ok, err := p.Eval(c)
		if err != nil {
			return false, fmt.Errorf("%s %s %q: %w", p.Field.Name, p.Op, p.Raw, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Eval evaluates a single predicate.
func (p Predicate) Eval(c domain.Case) (bool, error) {
	if p.bad != nil {
		return false, p.bad
	}
	actual, present := p.Field.Value(c)
	switch operators[p.Op] {
	case familyNumeric:
		n := 0.0
		if present {
			if v, err := parseNumber(actual); err == nil {
				n = v
			}
		}
		switch p.Op {
		case OpNumEquals:
			return n == p.num, nil
		case OpGreaterThan:
			return n > p.num, nil
		case OpLessThan:
			return n < p.num, nil
		case OpIsBetween:
			return p.lo <= n && n <= p.hi, nil
		}
	case familyDate:
		if !present {
			return false, nil
		}
		d, err := ParseDate(actual)
		if err != nil {
			return false, err
		}
		switch p.Op {
		case OpDateEquals:
			return d.Equal(p.date), nil
		case OpIsBefore:
			return d.Before(p.date), nil
		case OpIsAfter:
			return d.After(p.date), nil
		}
	default:
		a := strings.ToLower(actual)
		v := strings.ToLower(p.Raw)
		switch p.Op {
		case OpEquals:
			return a == v, nil
		case OpNotEquals:
			return a != v, nil
		case OpContains:
			return strings.Contains(a, v), nil
		case OpStartsWith:
			return strings.HasPrefix(a, v), nil
		case OpIsEmpty:
			return strings.TrimSpace(actual) == "", nil
		case OpIsNotEmpty:
			return strings.TrimSpace(actual) != "", nil
		}
	}
	return false, fmt.Errorf("unsupported operator %s", p.Op)
}

func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseRange accepts "X,Y", "X-Y" and "X and Y".
func parseRange(s string) (float64, float64, error) {
	norm := strings.ToLower(s)
	norm = strings.ReplaceAll(norm, " and ", ",")
	norm = strings.ReplaceAll(norm, "-", ",")
	var parts []float64
	for _, raw := range strings.Split(norm, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: invalid range %q", ErrMalformedOperand, s)
		}
		parts = append(parts, n)
	}
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("%w: invalid range %q", ErrMalformedOperand, s)
	}
	return parts[0], parts[1], nil
}

// ParseDate reads a calendar date from YYYY-MM-DD or any longer timestamp
// that starts with one.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(domain.DateLayout) {
		s = s[:len(domain.DateLayout)]
	}
	return time.Parse(domain.DateLayout, s)
}
