package soap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// EnvelopeNamespace is the SOAP 1.1 envelope namespace.
const EnvelopeNamespace = "http://schemas.xmlsoap.org/soap/envelope/"

// ContentType is sent with every envelope.
const ContentType = "text/xml; charset=utf-8"

const (
	envelopeHead = xml.Header + `<soap:Envelope xmlns:soap="` + EnvelopeNamespace + `"><soap:Body>`
	envelopeTail = `</soap:Body></soap:Envelope>`
)

// bodyElement is the first element inside an envelope's Body.
// Prefixes bound on ancestors stay unresolved in Raw; decoding matches on
// local names, so that is harmless.
type bodyElement struct {
	Name xml.Name
	// Raw holds the element itself, start tag to end tag.
	Raw []byte
}

func (b bodyElement) isFault() bool {
	return b.Name.Local == "Fault" && (b.Name.Space == EnvelopeNamespace || b.Name.Space == "")
}

// readEnvelope returns the first element of the envelope's Body.
func readEnvelope(data []byte) (bodyElement, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	inEnvelope, inBody := false, false
	for {
		offset := dec.InputOffset()
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return bodyElement{}, fmt.Errorf("envelope has no body element")
		}
		if err != nil {
			return bodyElement{}, fmt.Errorf("malformed envelope: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch {
		case !inEnvelope:
			if start.Name.Local != "Envelope" {
				return bodyElement{}, fmt.Errorf("root element is %s, want Envelope", start.Name.Local)
			}
			inEnvelope = true
		case !inBody:
			if start.Name.Local == "Body" {
				inBody = true
				continue
			}
			if err := dec.Skip(); err != nil {
				return bodyElement{}, fmt.Errorf("malformed envelope header: %w", err)
			}
		default:
			if err := dec.Skip(); err != nil {
				return bodyElement{}, fmt.Errorf("malformed body element: %w", err)
			}
			raw := data[offset:dec.InputOffset()]
			return bodyElement{Name: start.Name, Raw: append([]byte(nil), raw...)}, nil
		}
	}
}

// writeEnvelope wraps element in an envelope. element writes the body
// content to buf.
func writeEnvelope(element func(buf *bytes.Buffer) error) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(envelopeHead)
	if err := element(&buf); err != nil {
		return nil, err
	}
	buf.WriteString(envelopeTail)
	return buf.Bytes(), nil
}

// encodeElement marshals v as an element named local in namespace ns.
func encodeElement(buf *bytes.Buffer, ns, local string, v any) error {
	enc := xml.NewEncoder(buf)
	start := xml.StartElement{Name: xml.Name{Space: ns, Local: local}}
	if v == nil {
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return err
		}
		return enc.Flush()
	}
	if err := enc.EncodeElement(v, start); err != nil {
		return fmt.Errorf("failed to marshal %s: %w", local, err)
	}
	return enc.Flush()
}
