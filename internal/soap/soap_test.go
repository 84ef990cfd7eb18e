package soap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/forestnet/forestnet/internal/message"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const echoWSDL = `<?xml version="1.0"?>
<definitions name="Echo" targetNamespace="urn:test:echo"
    xmlns="http://schemas.xmlsoap.org/wsdl/"
    xmlns:soap="http://schemas.xmlsoap.org/wsdl/soap/"
    xmlns:tns="urn:test:echo"
    xmlns:xsd="http://www.w3.org/2001/XMLSchema">
  <types>
    <xsd:schema targetNamespace="urn:test:echo">
      <xsd:element name="Echo">
        <xsd:complexType><xsd:sequence>
          <xsd:element name="text" type="xsd:string"/>
          <xsd:element name="times" type="xsd:int" minOccurs="0"/>
          <xsd:element name="tag" type="xsd:string" minOccurs="0" maxOccurs="unbounded"/>
        </xsd:sequence></xsd:complexType>
      </xsd:element>
      <xsd:element name="EchoResponse">
        <xsd:complexType><xsd:sequence>
          <xsd:element name="result" type="xsd:string"/>
        </xsd:sequence></xsd:complexType>
      </xsd:element>
      <xsd:element name="Ping"><xsd:complexType><xsd:sequence/></xsd:complexType></xsd:element>
      <xsd:element name="Pong"><xsd:complexType><xsd:sequence/></xsd:complexType></xsd:element>
    </xsd:schema>
  </types>
  <message name="EchoIn"><part name="parameters" element="tns:Echo"/></message>
  <message name="EchoOut"><part name="parameters" element="tns:EchoResponse"/></message>
  <message name="PingIn"><part name="parameters" element="tns:Ping"/></message>
  <message name="PingOut"><part name="parameters" element="tns:Pong"/></message>
  <portType name="EchoPort">
    <operation name="Echo"><input message="tns:EchoIn"/><output message="tns:EchoOut"/></operation>
    <operation name="Ping"><input message="tns:PingIn"/><output message="tns:PingOut"/></operation>
  </portType>
  <binding name="EchoBinding" type="tns:EchoPort">
    <soap:binding style="document" transport="http://schemas.xmlsoap.org/soap/http"/>
    <operation name="Echo"><soap:operation soapAction="urn:test:echo#Echo"/></operation>
    <operation name="Ping"><soap:operation soapAction="urn:test:echo#Ping"/></operation>
  </binding>
  <service name="EchoService">
    <port name="EchoPort" binding="tns:EchoBinding"><soap:address location="http://localhost/echo"/></port>
  </service>
</definitions>`

type echoRequest struct {
	Text  string   `xml:"text"`
	Times int      `xml:"times,omitempty"`
	Tags  []string `xml:"tag"`
}

type echoResponse struct {
	Result string `xml:"result"`
}

func parseEcho(t *testing.T) *WSDL {
	t.Helper()
	w, err := ParseWSDL([]byte(echoWSDL))
	if err != nil {
		t.Fatalf("ParseWSDL: %v", err)
	}
	return w
}

func TestParseWSDL(t *testing.T) {
	w := parseEcho(t)

	if w.Name != "Echo" || w.TargetNamespace != "urn:test:echo" || w.Service != "EchoService" || w.Address != "http://localhost/echo" {
		t.Errorf("document = %+v", w)
	}
	if got := strings.Join(w.Operations(), ","); got != "Echo,Ping" {
		t.Errorf("Operations = %s", got)
	}

	op, ok := w.Operation("Echo")
	if !ok {
		t.Fatal("Echo missing")
	}
	if op.Action != "urn:test:echo#Echo" || op.Input.Element != "Echo" || op.Output.Element != "EchoResponse" {
		t.Errorf("Echo = %+v", op)
	}
	want := []Field{
		{Name: "text", Type: "string", MinOccurs: 1, MaxOccurs: 1},
		{Name: "times", Type: "int", MinOccurs: 0, MaxOccurs: 1},
		{Name: "tag", Type: "string", MinOccurs: 0, MaxOccurs: -1},
	}
	if fmt.Sprint(op.Input.Fields) != fmt.Sprint(want) {
		t.Errorf("Echo fields = %+v, want %+v", op.Input.Fields, want)
	}
	if string(w.Bytes()) != echoWSDL {
		t.Error("Bytes must return the document unchanged")
	}
}

func TestParseWSDLErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not xml", "<definitions", "failed to parse WSDL"},
		{"no operations", `<definitions name="x"/>`, "no operations"},
		{"undeclared message", strings.Replace(echoWSDL, `message="tns:EchoIn"`, `message="tns:Nope"`, 1), "undeclared message"},
		{"undeclared element", strings.Replace(echoWSDL, `element="tns:EchoResponse"`, `element="tns:Missing"`, 1), "undeclared element"},
		{"bad occurs", strings.Replace(echoWSDL, `minOccurs="0"/>`, `minOccurs="some"/>`, 1), "invalid occurrence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseWSDL([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func echoDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d := NewDispatcher(parseEcho(t), nil)
	err := Bind(d, "Echo", func(_ context.Context, req *echoRequest) (*echoResponse, error) {
		switch req.Text {
		case "fault":
			return nil, &Fault{Code: FaultClient, String: "asked for a fault", Detail: "detail <text>"}
		case "error":
			return nil, errors.New("disk on fire")
		}
		n := req.Times
		if n == 0 {
			n = 1
		}
		return &echoResponse{Result: strings.Repeat(req.Text, n) + strings.Join(req.Tags, "")}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func envelope(body string) []byte {
	return []byte(`<?xml version="1.0"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:e="urn:test:echo">
  <soapenv:Header><e:Trace>abc</e:Trace></soapenv:Header>
  <soapenv:Body>
    ` + body + `
  </soapenv:Body>
</soapenv:Envelope>`)
}

func serve(d *Dispatcher, action string, body []byte) Response {
	h := &message.RequestHeader{Method: http.MethodPost, Header: make(http.Header)}
	if action != "" {
		h.Header.Set("SOAPAction", `"`+action+`"`)
	}
	return d.Serve(context.Background(), h, body)
}

func TestAddSOAPOperation(t *testing.T) {
	d := echoDispatcher(t)
	noop := HandlerFunc(func(context.Context, *Operation, []byte) (any, error) { return nil, nil })
	if err := d.AddSOAPOperation("Reverse", noop); err == nil {
		t.Error("undeclared operation accepted")
	}
	if err := d.AddSOAPOperation("Echo", noop); err == nil {
		t.Error("second binding of Echo accepted")
	}
}

func TestServe(t *testing.T) {
	d := echoDispatcher(t)
	tests := []struct {
		name       string
		action     string
		body       []byte
		wantStatus int
		want       string
	}{
		{"by action", "urn:test:echo#Echo", envelope(`<e:Echo><e:text>hi</e:text><e:times>3</e:times></e:Echo>`), 200, "<result>hihihi</result>"},
		{"by element", "", envelope(`<Echo xmlns="urn:test:echo"><text>a</text><tag>b</tag><tag>c</tag></Echo>`), 200, "<result>abc</result>"},
		{"unbound operation", "", envelope(`<e:Ping/>`), 500, "operation Ping is not implemented"},
		{"unknown element", "", envelope(`<e:Reverse><e:text>x</e:text></e:Reverse>`), 500, "unknown operation Reverse"},
		{"action mismatch", "urn:test:echo#Echo", envelope(`<e:Ping/>`), 500, "expects element Echo"},
		{"missing field", "", envelope(`<e:Echo><e:times>2</e:times></e:Echo>`), 500, "missing field text"},
		{"undeclared field", "", envelope(`<e:Echo><e:text>x</e:text><e:loud>1</e:loud></e:Echo>`), 500, "undeclared field loud"},
		{"bad type", "", envelope(`<e:Echo><e:text>x</e:text><e:times>many</e:times></e:Echo>`), 500, "is not a valid int"},
		{"too many", "", envelope(`<e:Echo><e:text>x</e:text><e:text>y</e:text></e:Echo>`), 500, "at most 1"},
		{"not an envelope", "", []byte(`<Echo><text>x</text></Echo>`), 500, "want Envelope"},
		{"malformed", "", []byte(`<soap:Envelope xmlns:soap="x"><soap:Body><Echo>`), 500, "faultcode>soap:Client"},
		{"empty body", "", envelope(``), 500, "no body element"},
		{"handler fault", "", envelope(`<e:Echo><e:text>fault</e:text></e:Echo>`), 500, "<detail>detail &lt;text&gt;</detail>"},
		{"handler error", "", envelope(`<e:Echo><e:text>error</e:text></e:Echo>`), 500, "<faultcode>soap:Server</faultcode><faultstring>disk on fire"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := serve(d, tt.action, tt.body)
			if res.Status != tt.wantStatus || !strings.Contains(string(res.Body), tt.want) {
				t.Errorf("Serve = %d %s\nwant %d containing %q", res.Status, res.Body, tt.wantStatus, tt.want)
			}
			if res.ContentType != ContentType {
				t.Errorf("ContentType = %q", res.ContentType)
			}
		})
	}
}

func TestMalformedEnvelopeIsLoggedRaw(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	d := NewDispatcher(parseEcho(t), zap.New(core))

	body := []byte(`<soap:Envelope xmlns:soap="x"><soap:Body><Echo>`)
	if res := serve(d, "", body); res.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d", res.Status)
	}
	entries := logs.FilterMessage("Malformed SOAP envelope").All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["ascii"]; got != string(body) {
		t.Errorf("ascii = %v", got)
	}
}

func TestServeResponseShape(t *testing.T) {
	d := echoDispatcher(t)
	res := serve(d, "", envelope(`<e:Echo><e:text>ok</e:text></e:Echo>`))
	el, err := readEnvelope(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if el.Name.Local != "EchoResponse" || el.Name.Space != "urn:test:echo" {
		t.Errorf("response element = %v", el.Name)
	}
	op, _ := d.WSDL().Operation("Echo")
	if err := op.Output.Check(el.Raw); err != nil {
		t.Errorf("response does not match declared output: %v", err)
	}
}

// loopback hands requests straight to a dispatcher.
type loopback struct {
	d    *Dispatcher
	last *message.ClientRequest
}

func (l *loopback) Do(ctx context.Context, req *message.ClientRequest) (*message.Response, error) {
	l.last = req
	h := &message.RequestHeader{Method: req.Method, Path: req.Path, Header: req.Header}
	res := l.d.Serve(ctx, h, req.Body)
	return &message.Response{
		StatusCode: res.Status,
		Status:     http.StatusText(res.Status),
		Header:     http.Header{"Content-Type": {res.ContentType}},
		Body:       res.Body,
	}, nil
}

func TestCall(t *testing.T) {
	d := echoDispatcher(t)
	lb := &loopback{d: d}
	c := &Client{Transport: lb, WSDL: d.WSDL(), Path: "/echo"}
	ctx := context.Background()

	res, err := Call[echoRequest, echoResponse](ctx, c, "Echo", &echoRequest{Text: "ab", Times: 2, Tags: []string{"!"}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if res.Result != "abab!" {
		t.Errorf("Result = %q", res.Result)
	}
	if got := lb.last.Header.Get("SOAPAction"); got != `"urn:test:echo#Echo"` {
		t.Errorf("SOAPAction = %s", got)
	}
	if lb.last.Method != http.MethodPost || lb.last.Path != "/echo" || lb.last.ContentType != ContentType {
		t.Errorf("request = %+v", lb.last)
	}

	_, err = Call[echoRequest, echoResponse](ctx, c, "Echo", &echoRequest{Text: "fault"})
	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want *Fault", err)
	}
	if f.Code != FaultClient || f.String != "asked for a fault" || f.Detail != "detail <text>" {
		t.Errorf("fault = %+v", f)
	}

	if _, err := Call[echoRequest, echoResponse](ctx, c, "Reverse", &echoRequest{}); err == nil || errors.As(err, &f) {
		t.Errorf("undeclared operation: err = %v", err)
	}
}

type failingTransport struct{}

func (failingTransport) Do(context.Context, *message.ClientRequest) (*message.Response, error) {
	return nil, errors.New("connection refused")
}

func TestCallTransportErrorIsNotFault(t *testing.T) {
	c := &Client{Transport: failingTransport{}, WSDL: parseEcho(t)}
	_, err := Call[echoRequest, echoResponse](context.Background(), c, "Echo", &echoRequest{Text: "x"})
	var f *Fault
	if err == nil || errors.As(err, &f) {
		t.Fatalf("err = %v, want non-fault error", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("err = %v", err)
	}
}
