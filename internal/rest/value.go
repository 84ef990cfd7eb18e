package rest

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the type of a Value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is one typed record field.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

func String(s string) Value { return Value{kind: KindString, s: s} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Kind returns the value's type.
func (v Value) Kind() Kind { return v.kind }

// String formats the value the way ParseValue reads it back.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339)
	}
	return v.s
}

// timeLayouts are tried in order by ParseValue.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// ParseValue reads raw as a value of kind k.
func ParseValue(k Kind, raw string) (Value, error) {
	switch k {
	case KindString:
		return String(raw), nil
	case KindInt:
		i, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not an integer", raw)
		}
		return Int(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a number", raw)
		}
		return Float(f), nil
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a boolean", raw)
		}
		return Bool(b), nil
	case KindTime:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
				return Time(t), nil
			}
		}
		return Value{}, fmt.Errorf("%q is not a date", raw)
	}
	return Value{}, fmt.Errorf("unsupported kind %v", k)
}

// Compare orders two values of the same kind: -1, 0 or +1. false sorts
// before true. Values of different kinds compare by kind.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		return cmp.Compare(v.kind, o.kind)
	}
	switch v.kind {
	case KindInt:
		return cmp.Compare(v.i, o.i)
	case KindFloat:
		return cmp.Compare(v.f, o.f)
	case KindBool:
		switch {
		case v.b == o.b:
			return 0
		case o.b:
			return -1
		}
		return 1
	case KindTime:
		return v.t.Compare(o.t)
	}
	return strings.Compare(v.s, o.s)
}

// Int returns the integer held by a KindInt value.
func (v Value) Int() int64 { return v.i }

// Float returns the number held by a KindFloat value.
func (v Value) Float() float64 { return v.f }

// Bool returns the flag held by a KindBool value.
func (v Value) Bool() bool { return v.b }

// Time returns the instant held by a KindTime value.
func (v Value) Time() time.Time { return v.t }
