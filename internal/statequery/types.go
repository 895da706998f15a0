package statequery

// Predicate is a filter condition over snapshot columns.
//
// Predicate types:
//   - Equals: field = value
//   - Not: negation of one predicate
//   - And: all predicates must be true
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Field names a filterable snapshot column.
type Field string

// Filterable fields.
const (
	FieldRDN      Field = "rdn"
	FieldFormat   Field = "format"
	FieldPlugin   Field = "plugin"
	FieldUniqueID Field = "unique_id"
	FieldSeq      Field = "seq"
	FieldHash     Field = "state_hash"
	FieldRemoved  Field = "removed"
)

// Kind is the value type of a field.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindBool:
		return "boolean"
	default:
		return "string"
	}
}

var fieldKinds = map[Field]Kind{
	FieldRDN:      KindString,
	FieldFormat:   KindString,
	FieldPlugin:   KindString,
	FieldUniqueID: KindInt,
	FieldSeq:      KindInt,
	FieldHash:     KindString,
	FieldRemoved:  KindBool,
}

// KindOf returns the value type of f.
func KindOf(f Field) (Kind, bool) {
	k, ok := fieldKinds[f]
	return k, ok
}

// Equals is a field-equals-value predicate.
//
// Value is a string, int64 or bool matching the field's Kind.
//
// Example:
//
//	Equals{Field: FieldRDN, Value: "app.plughost.gain"}
//
// compiles to
//
//	rdn = ?
type Equals struct {
	Field Field
	Value any
}

func (Equals) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// And is a conjunction of predicates. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}
