package message

import (
	"net/url"
	"strings"
)

// Op is a filter operator carried in a query key as name[op].
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "ne"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpStarts Op = "starts"
	OpEnds   Op = "ends"
)

// Ops lists every known operator.
var Ops = []Op{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpStarts, OpEnds}

// Known reports whether op is one of Ops.
func (op Op) Known() bool {
	for _, o := range Ops {
		if o == op {
			return true
		}
	}
	return false
}

// Param is one query parameter. Op defaults to OpEq. Valid is false when the
// key carried an unknown operator or a malformed bracket suffix; the raw
// operator text is kept in Op either way.
type Param struct {
	Name  string
	Op    Op
	Value string
	Valid bool
}

// Key renders the parameter's query key; the eq operator is implicit.
func (p Param) Key() string {
	if p.Op == "" || p.Op == OpEq {
		return p.Name
	}
	return p.Name + "[" + string(p.Op) + "]"
}

// ParseParamKey splits "name[op]" into name and operator.
func ParseParamKey(key string) (name string, op Op, valid bool) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, OpEq, key != ""
	}
	name = key[:open]
	rest := key[open+1:]
	if !strings.HasSuffix(rest, "]") {
		return name, Op(rest), false
	}
	op = Op(strings.ToLower(rest[:len(rest)-1]))
	return name, op, name != "" && op.Known()
}

// ParseQuery parses a raw query string, keeping parameter order. Keys and
// values are unescaped; a pair that fails to unescape is an error.
func ParseQuery(raw string) ([]Param, error) {
	var params []Param
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, err
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, err
		}
		name, op, valid := ParseParamKey(key)
		params = append(params, Param{Name: name, Op: op, Value: value, Valid: valid})
	}
	return params, nil
}

// EncodeQuery renders params in order. Brackets stay literal so the
// operator grammar remains readable on the wire.
func EncodeQuery(params []Param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Name))
		if p.Op != "" && p.Op != OpEq {
			b.WriteByte('[')
			b.WriteString(url.QueryEscape(string(p.Op)))
			b.WriteByte(']')
		}
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}
