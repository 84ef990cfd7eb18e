package soap

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// SOAP 1.1 fault codes.
const (
	FaultClient = "Client"
	FaultServer = "Server"
)

// Fault is a SOAP fault. Handlers return it to send a fault envelope;
// clients receive it as the error from Call, distinct from transport errors.
type Fault struct {
	// Code is the local fault code, FaultClient or FaultServer.
	Code   string
	String string
	Actor  string
	Detail string
}

// NewFault returns a fault with a formatted fault string.
func NewFault(code, format string, args ...any) *Fault {
	return &Fault{Code: code, String: fmt.Sprintf(format, args...)}
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.String)
}

// faultBody is the wire form of a fault, read by clients.
type faultBody struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Actor  string `xml:"faultactor"`
	Detail struct {
		Inner string `xml:",innerxml"`
	} `xml:"detail"`
}

func (f *Fault) writeTo(buf *bytes.Buffer) {
	buf.WriteString("<soap:Fault><faultcode>soap:")
	xml.EscapeText(buf, []byte(f.Code))
	buf.WriteString("</faultcode><faultstring>")
	xml.EscapeText(buf, []byte(f.String))
	buf.WriteString("</faultstring>")
	if f.Actor != "" {
		buf.WriteString("<faultactor>")
		xml.EscapeText(buf, []byte(f.Actor))
		buf.WriteString("</faultactor>")
	}
	if f.Detail != "" {
		buf.WriteString("<detail>")
		xml.EscapeText(buf, []byte(f.Detail))
		buf.WriteString("</detail>")
	}
	buf.WriteString("</soap:Fault>")
}

func decodeFault(element []byte) (*Fault, error) {
	var fb faultBody
	if err := xml.Unmarshal(element, &fb); err != nil {
		return nil, fmt.Errorf("malformed fault: %w", err)
	}
	var detail bytes.Buffer
	dec := xml.NewDecoder(bytes.NewReader([]byte("<d>" + fb.Detail.Inner + "</d>")))
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if cd, ok := tok.(xml.CharData); ok {
			detail.Write(cd)
		}
	}
	return &Fault{
		Code:   localName(fb.Code),
		String: fb.String,
		Actor:  fb.Actor,
		Detail: detail.String(),
	}, nil
}
