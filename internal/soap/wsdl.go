// Package soap binds WSDL 1.1 operations to Go handlers and calls them from
// clients, over SOAP 1.1 envelopes.
//
// A WSDL document is parsed once into a WSDL value: the xsd elements of its
// types section become Shapes, and each portType operation is joined with its
// messages and SOAP binding action. A Dispatcher serves only the operations
// the document declares; requests are checked against the declared input
// shape before the bound handler runs. Handler failures travel back as Fault
// envelopes, which clients surface as *Fault errors.
package soap

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Field is one element of a sequence.
type Field struct {
	Name string
	// Type is the local xsd type name, such as "double" or "string".
	Type      string
	MinOccurs int
	// MaxOccurs is -1 for unbounded.
	MaxOccurs int
}

// Shape is a declared message element and its child fields.
type Shape struct {
	Element string
	Fields  []Field
}

// Operation is one portType operation joined with its binding.
type Operation struct {
	Name   string
	Action string
	Input  Shape
	Output Shape
}

// WSDL is a parsed document. It is read-only after ParseWSDL.
type WSDL struct {
	Name            string
	TargetNamespace string
	Service         string
	Address         string

	operations map[string]*Operation
	order      []string
	raw        []byte
}

type wsdlDefinitions struct {
	XMLName         xml.Name      `xml:"definitions"`
	Name            string        `xml:"name,attr"`
	TargetNamespace string        `xml:"targetNamespace,attr"`
	Schemas         []xsdSchema   `xml:"types>schema"`
	Messages        []wsdlMessage `xml:"message"`
	PortTypes       []struct {
		Name       string `xml:"name,attr"`
		Operations []struct {
			Name   string        `xml:"name,attr"`
			Input  wsdlMessageIO `xml:"input"`
			Output wsdlMessageIO `xml:"output"`
		} `xml:"operation"`
	} `xml:"portType"`
	Bindings []struct {
		Name       string `xml:"name,attr"`
		Operations []struct {
			Name      string `xml:"name,attr"`
			Operation struct {
				Action string `xml:"soapAction,attr"`
			} `xml:"operation"`
		} `xml:"operation"`
	} `xml:"binding"`
	Services []struct {
		Name  string `xml:"name,attr"`
		Ports []struct {
			Address struct {
				Location string `xml:"location,attr"`
			} `xml:"address"`
		} `xml:"port"`
	} `xml:"service"`
}

type xsdSchema struct {
	Elements []xsdElement `xml:"element"`
}

type xsdElement struct {
	Name      string       `xml:"name,attr"`
	Type      string       `xml:"type,attr"`
	MinOccurs string       `xml:"minOccurs,attr"`
	MaxOccurs string       `xml:"maxOccurs,attr"`
	Sequence  []xsdElement `xml:"complexType>sequence>element"`
}

type wsdlMessage struct {
	Name  string `xml:"name,attr"`
	Parts []struct {
		Name    string `xml:"name,attr"`
		Element string `xml:"element,attr"`
	} `xml:"part"`
}

type wsdlMessageIO struct {
	Message string `xml:"message,attr"`
}

// localName strips a namespace prefix: "tns:Add" gives "Add".
func localName(qname string) string {
	if i := strings.LastIndexByte(qname, ':'); i >= 0 {
		return qname[i+1:]
	}
	return qname
}

func occurs(s string, def int) (int, error) {
	switch s {
	case "":
		return def, nil
	case "unbounded":
		return -1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid occurrence %q", s)
	}
	return n, nil
}

// ParseWSDL reads a WSDL 1.1 document. Every portType operation must resolve
// to messages whose part names a declared element.
func ParseWSDL(data []byte) (*WSDL, error) {
	var defs wsdlDefinitions
	if err := xml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse WSDL: %w", err)
	}

	shapes := make(map[string]Shape)
	for _, schema := range defs.Schemas {
		for _, el := range schema.Elements {
			shape := Shape{Element: el.Name}
			for _, f := range el.Sequence {
				minOccurs, err := occurs(f.MinOccurs, 1)
				if err != nil {
					return nil, fmt.Errorf("element %s field %s: %w", el.Name, f.Name, err)
				}
				maxOccurs, err := occurs(f.MaxOccurs, 1)
				if err != nil {
					return nil, fmt.Errorf("element %s field %s: %w", el.Name, f.Name, err)
				}
				shape.Fields = append(shape.Fields, Field{
					Name:      f.Name,
					Type:      localName(f.Type),
					MinOccurs: minOccurs,
					MaxOccurs: maxOccurs,
				})
			}
			shapes[el.Name] = shape
		}
	}

	messages := make(map[string]string)
	for _, m := range defs.Messages {
		if len(m.Parts) != 1 {
			return nil, fmt.Errorf("message %s: want exactly one part, got %d", m.Name, len(m.Parts))
		}
		messages[m.Name] = localName(m.Parts[0].Element)
	}

	actions := make(map[string]string)
	for _, b := range defs.Bindings {
		for _, op := range b.Operations {
			actions[op.Name] = op.Operation.Action
		}
	}

	w := &WSDL{
		Name:            defs.Name,
		TargetNamespace: defs.TargetNamespace,
		operations:      make(map[string]*Operation),
		raw:             append([]byte(nil), data...),
	}
	if len(defs.Services) > 0 {
		w.Service = defs.Services[0].Name
		if len(defs.Services[0].Ports) > 0 {
			w.Address = defs.Services[0].Ports[0].Address.Location
		}
	}

	shapeOf := func(op, msg string) (Shape, error) {
		el, ok := messages[localName(msg)]
		if !ok {
			return Shape{}, fmt.Errorf("operation %s: undeclared message %q", op, msg)
		}
		shape, ok := shapes[el]
		if !ok {
			return Shape{}, fmt.Errorf("operation %s: undeclared element %q", op, el)
		}
		return shape, nil
	}

	for _, pt := range defs.PortTypes {
		for _, o := range pt.Operations {
			if _, dup := w.operations[o.Name]; dup {
				return nil, fmt.Errorf("operation %s declared twice", o.Name)
			}
			in, err := shapeOf(o.Name, o.Input.Message)
			if err != nil {
				return nil, err
			}
			out, err := shapeOf(o.Name, o.Output.Message)
			if err != nil {
				return nil, err
			}
			w.operations[o.Name] = &Operation{
				Name:   o.Name,
				Action: actions[o.Name],
				Input:  in,
				Output: out,
			}
			w.order = append(w.order, o.Name)
		}
	}
	if len(w.operations) == 0 {
		return nil, fmt.Errorf("WSDL declares no operations")
	}
	return w, nil
}

// Bytes returns the document as parsed, for publishing at ?wsdl.
func (w *WSDL) Bytes() []byte { return w.raw }

// Operation returns the named operation.
func (w *WSDL) Operation(name string) (*Operation, bool) {
	op, ok := w.operations[name]
	return op, ok
}

// Operations returns the operation names in document order.
func (w *WSDL) Operations() []string {
	return append([]string(nil), w.order...)
}

// byAction finds the operation bound to a SOAPAction value.
func (w *WSDL) byAction(action string) (*Operation, bool) {
	if action == "" {
		return nil, false
	}
	for _, name := range w.order {
		if op := w.operations[name]; op.Action == action {
			return op, true
		}
	}
	return nil, false
}

// byElement finds the operation whose input element is local.
func (w *WSDL) byElement(local string) (*Operation, bool) {
	for _, name := range w.order {
		if op := w.operations[name]; op.Input.Element == local {
			return op, true
		}
	}
	return nil, false
}
