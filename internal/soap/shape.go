package soap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type genericElement struct {
	XMLName  xml.Name
	Children []struct {
		XMLName xml.Name
		Value   string `xml:",chardata"`
	} `xml:",any"`
}

// Check verifies that element carries only declared fields, each within its
// occurrence bounds, and that simple-typed values parse.
func (s Shape) Check(element []byte) error {
	var el genericElement
	if err := xml.NewDecoder(bytes.NewReader(element)).Decode(&el); err != nil {
		return fmt.Errorf("malformed %s element: %w", s.Element, err)
	}
	if el.XMLName.Local != s.Element {
		return fmt.Errorf("element is %s, want %s", el.XMLName.Local, s.Element)
	}

	counts := make(map[string]int)
	for _, c := range el.Children {
		f, ok := s.field(c.XMLName.Local)
		if !ok {
			return fmt.Errorf("%s: undeclared field %s", s.Element, c.XMLName.Local)
		}
		counts[f.Name]++
		if err := checkSimple(f.Type, c.Value); err != nil {
			return fmt.Errorf("%s.%s: %w", s.Element, f.Name, err)
		}
	}
	for _, f := range s.Fields {
		n := counts[f.Name]
		if n < f.MinOccurs {
			return fmt.Errorf("%s: missing field %s", s.Element, f.Name)
		}
		if f.MaxOccurs >= 0 && n > f.MaxOccurs {
			return fmt.Errorf("%s: field %s occurs %d times, at most %d allowed", s.Element, f.Name, n, f.MaxOccurs)
		}
	}
	return nil
}

func (s Shape) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// checkSimple validates text against the common xsd simple types; other
// types are accepted as-is.
func checkSimple(typ, text string) error {
	text = strings.TrimSpace(text)
	var err error
	switch typ {
	case "double", "float", "decimal":
		_, err = strconv.ParseFloat(text, 64)
	case "int", "integer", "long", "short", "byte":
		_, err = strconv.ParseInt(text, 10, 64)
	case "unsignedInt", "unsignedLong", "nonNegativeInteger":
		_, err = strconv.ParseUint(text, 10, 64)
	case "boolean":
		switch text {
		case "true", "false", "1", "0":
		default:
			err = fmt.Errorf("invalid boolean")
		}
	case "dateTime":
		_, err = time.Parse(time.RFC3339Nano, text)
	}
	if err != nil {
		return fmt.Errorf("%q is not a valid %s", text, typ)
	}
	return nil
}
