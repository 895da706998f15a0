package statequery

import "fmt"

// ValidationResult lists the problems found in a predicate tree.
type ValidationResult struct {
	// Valid is true when Problems is empty.
	Valid    bool
	Problems []string
}

// Validate checks that every Equals names a known field with a value of
// the field's kind. Trees built by Parse are always valid; Validate is for
// predicates built in code.
//
// Validate is a pure function with no side effects.
func Validate(p Predicate) ValidationResult {
	v := &validator{problems: []string{}}
	v.validatePredicate(p)
	return ValidationResult{
		Valid:    len(v.problems) == 0,
		Problems: v.problems,
	}
}

// validator accumulates problems during traversal.
type validator struct {
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validatePredicate(p Predicate) {
	switch pred := p.(type) {
	case nil:
		v.addProblem("nil predicate")
	case Equals:
		v.validateEquals(pred)
	case *Equals:
		v.validateEquals(*pred)
	case Not:
		v.validatePredicate(pred.Predicate)
	case *Not:
		v.validatePredicate(pred.Predicate)
	case And:
		v.validateAnd(pred)
	case *And:
		v.validateAnd(*pred)
	default:
		v.addProblem("unknown predicate type: %T", p)
	}
}

func (v *validator) validateEquals(eq Equals) {
	kind, ok := KindOf(eq.Field)
	if !ok {
		v.addProblem("unknown field %q", eq.Field)
		return
	}
	var match bool
	switch eq.Value.(type) {
	case string:
		match = kind == KindString
	case int64:
		match = kind == KindInt
	case bool:
		match = kind == KindBool
	}
	if !match {
		v.addProblem("field %q wants type %s, got %T", eq.Field, kind, eq.Value)
	}
}

func (v *validator) validateAnd(and And) {
	for _, sub := range and.Predicates {
		v.validatePredicate(sub)
	}
}
