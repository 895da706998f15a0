package statequery

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a malformed filter term.
type ParseError struct {
	Term    string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("filter term %q: %s", e.Term, e.Message)
}

// Parse parses a comma-separated list of field=value and field!=value
// terms into an And. An empty expression matches every snapshot.
func Parse(expr string) (Predicate, error) {
	and := And{}
	if strings.TrimSpace(expr) == "" {
		return and, nil
	}
	for _, term := range strings.Split(expr, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			return nil, &ParseError{Term: term, Message: "empty term"}
		}
		p, err := parseTerm(term)
		if err != nil {
			return nil, err
		}
		and.Predicates = append(and.Predicates, p)
	}
	return and, nil
}

func parseTerm(term string) (Predicate, error) {
	negate := false
	name, raw, ok := strings.Cut(term, "!=")
	if ok {
		negate = true
	} else if name, raw, ok = strings.Cut(term, "="); !ok {
		return nil, &ParseError{Term: term, Message: "expected field=value or field!=value"}
	}
	field := Field(strings.TrimSpace(name))
	kind, known := KindOf(field)
	if !known {
		return nil, &ParseError{Term: term, Message: fmt.Sprintf("unknown field %q", field)}
	}
	value, err := parseValue(kind, strings.TrimSpace(raw))
	if err != nil {
		return nil, &ParseError{Term: term, Message: err.Error()}
	}

	var p Predicate = Equals{Field: field, Value: value}
	if negate {
		p = Not{Predicate: p}
	}
	return p, nil
}

func parseValue(kind Kind, raw string) (any, error) {
	switch kind {
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", raw)
		}
		return n, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is not a boolean", raw)
		}
		return b, nil
	default:
		if raw == "" {
			return nil, fmt.Errorf("empty value")
		}
		return raw, nil
	}
}
