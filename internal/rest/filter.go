package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/forestnet/forestnet/internal/message"
)

// Record is anything a filter can inspect.
type Record interface {
	// Field returns the named field; ok is false when the record has no
	// such field.
	Field(name string) (v Value, ok bool)
}

// Schema lists the filterable fields of a resource and their kinds.
type Schema map[string]Kind

// opsByKind lists the operators each kind accepts.
var opsByKind = map[Kind][]message.Op{
	KindString: message.Ops,
	KindInt:    {message.OpEq, message.OpNe, message.OpGt, message.OpGte, message.OpLt, message.OpLte},
	KindFloat:  {message.OpEq, message.OpNe, message.OpGt, message.OpGte, message.OpLt, message.OpLte},
	KindTime:   {message.OpEq, message.OpNe, message.OpGt, message.OpGte, message.OpLt, message.OpLte},
	KindBool:   {message.OpEq, message.OpNe},
}

func supports(k Kind, op message.Op) bool {
	for _, o := range opsByKind[k] {
		if o == op {
			return true
		}
	}
	return false
}

// FilterError reports a query parameter that cannot become a filter. It is a
// client error.
type FilterError struct {
	Field  string
	Op     message.Op
	Reason string
}

func (e *FilterError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("filter %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("filter %s[%s]: %s", e.Field, e.Op, e.Reason)
}

// Token renders the error as a "400;<message>" response token.
func (e *FilterError) Token() string {
	return Errorf(http.StatusBadRequest, "%s", e.Error())
}

// Filter is one predicate: field op value.
type Filter struct {
	Field string
	Op    message.Op
	Value Value
}

// ParseFilters turns query parameters into filters checked against schema.
// Every parameter must name a schema field with an operator valid for the
// field's kind and a value that parses as that kind.
func ParseFilters(params []message.Param, schema Schema) ([]Filter, error) {
	filters := make([]Filter, 0, len(params))
	for _, p := range params {
		kind, ok := schema[p.Name]
		if !ok {
			return nil, &FilterError{Field: p.Name, Reason: "unknown field"}
		}
		op := p.Op
		if op == "" {
			op = message.OpEq
		}
		if !p.Valid || !op.Known() {
			return nil, &FilterError{Field: p.Name, Op: op, Reason: "unknown operator"}
		}
		if !supports(kind, op) {
			return nil, &FilterError{Field: p.Name, Op: op, Reason: "operator not supported for " + kind.String() + " fields"}
		}
		v, err := ParseValue(kind, p.Value)
		if err != nil {
			return nil, &FilterError{Field: p.Name, Op: op, Reason: err.Error()}
		}
		filters = append(filters, Filter{Field: p.Name, Op: op, Value: v})
	}
	return filters, nil
}

// Match evaluates the predicate against r. A record without the field never
// matches.
func (f Filter) Match(r Record) bool {
	v, ok := r.Field(f.Field)
	if !ok || v.Kind() != f.Value.Kind() {
		return false
	}
	switch f.Op {
	case message.OpEq:
		return v.Compare(f.Value) == 0
	case message.OpNe:
		return v.Compare(f.Value) != 0
	case message.OpGt:
		return v.Compare(f.Value) > 0
	case message.OpGte:
		return v.Compare(f.Value) >= 0
	case message.OpLt:
		return v.Compare(f.Value) < 0
	case message.OpLte:
		return v.Compare(f.Value) <= 0
	case message.OpStarts:
		return strings.HasPrefix(v.String(), f.Value.String())
	case message.OpEnds:
		return strings.HasSuffix(v.String(), f.Value.String())
	}
	return false
}

// MatchAll reports whether r satisfies every filter.
func MatchAll(r Record, filters []Filter) bool {
	for _, f := range filters {
		if !f.Match(r) {
			return false
		}
	}
	return true
}

// Select returns the records matching every filter, in input order.
func Select[R Record](records []R, filters []Filter) []R {
	var out []R
	for _, r := range records {
		if MatchAll(r, filters) {
			out = append(out, r)
		}
	}
	return out
}
