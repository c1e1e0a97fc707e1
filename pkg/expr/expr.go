// Package expr implements the condition expression evaluator: logical and
// quantitative predicates over a bucket snapshot.
package expr

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/blackjack-run/blackjack/pkg/match"
)

// Expr is a closed tagged union. Exactly one field is non-nil/non-zero for
// a well-formed expression; UnmarshalYAML enforces that at decode time.
type Expr struct {
	And  []Expr         `yaml:"and,omitempty"`
	Or   []Expr         `yaml:"or,omitempty"`
	Not  *Expr          `yaml:"not,omitempty"`
	Size *uint64        `yaml:"size,omitempty"`
	One  map[string]any `yaml:"one,omitempty"`
	All  map[string]any `yaml:"all,omitempty"`
}

// form identifies which variant of Expr is populated.
type form int

const (
	formInvalid form = iota
	formAnd
	formOr
	formNot
	formSize
	formOne
	formAll
)

func (e Expr) activeForm() (form, error) {
	seen := formInvalid
	count := 0
	note := func(f form) {
		seen = f
		count++
	}
	if e.And != nil {
		note(formAnd)
	}
	if e.Or != nil {
		note(formOr)
	}
	if e.Not != nil {
		note(formNot)
	}
	if e.Size != nil {
		note(formSize)
	}
	if e.One != nil {
		note(formOne)
	}
	if e.All != nil {
		note(formAll)
	}
	if count == 0 {
		return formInvalid, fmt.Errorf("expression has no recognized form (and/or/not/size/one/all)")
	}
	if count > 1 {
		return formInvalid, fmt.Errorf("expression carries more than one form at once")
	}
	return seen, nil
}

// UnmarshalYAML enforces that a decoded expression node sets exactly one
// variant field, catching malformed specs before step execution.
func (e *Expr) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawExpr Expr
	var raw rawExpr
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*e = Expr(raw)
	if _, err := e.activeForm(); err != nil {
		return err
	}
	return nil
}

// Snapshot is the input to Eval: the list of resources currently observed
// in a bucket, taken at a single point in time.
type Snapshot []*unstructured.Unstructured

// Eval evaluates e over S. Eval is pure: it performs no I/O and has no
// observable side effects, so short-circuiting and evaluation order are
// implementation details.
func Eval(e Expr, s Snapshot) (bool, error) {
	f, err := e.activeForm()
	if err != nil {
		return false, err
	}

	switch f {
	case formAnd:
		for _, sub := range e.And {
			ok, err := Eval(sub, s)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case formOr:
		for _, sub := range e.Or {
			ok, err := Eval(sub, s)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case formNot:
		ok, err := Eval(*e.Not, s)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case formSize:
		return uint64(len(s)) == *e.Size, nil

	case formOne:
		for _, r := range s {
			if match.Matches(e.One, r.Object) {
				return true, nil
			}
		}
		return false, nil

	case formAll:
		for _, r := range s {
			if !match.Matches(e.All, r.Object) {
				return false, nil
			}
		}
		return true, nil

	default:
		return false, fmt.Errorf("unreachable expression form")
	}
}

// String renders e for log/diagnostic output.
func (e Expr) String() string {
	f, err := e.activeForm()
	if err != nil {
		return "<invalid expr>"
	}
	switch f {
	case formAnd:
		return fmt.Sprintf("and%v", e.And)
	case formOr:
		return fmt.Sprintf("or%v", e.Or)
	case formNot:
		return fmt.Sprintf("not(%v)", *e.Not)
	case formSize:
		return fmt.Sprintf("size==%d", *e.Size)
	case formOne:
		return fmt.Sprintf("one(%v)", e.One)
	case formAll:
		return fmt.Sprintf("all(%v)", e.All)
	default:
		return "<invalid expr>"
	}
}
