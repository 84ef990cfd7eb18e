package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/forestnet/forestnet/internal/logging"
	"github.com/forestnet/forestnet/internal/message"
	"go.uber.org/zap"
)

// Handler serves one operation. body is the request element as received;
// the returned value is marshaled as the operation's output element. A nil
// value sends an empty element.
type Handler interface {
	ServeSOAP(ctx context.Context, op *Operation, body []byte) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, op *Operation, body []byte) (any, error)

func (f HandlerFunc) ServeSOAP(ctx context.Context, op *Operation, body []byte) (any, error) {
	return f(ctx, op, body)
}

// Bind registers fn for the named operation, decoding the request element
// into Req and encoding *Resp as the response element.
func Bind[Req, Resp any](d *Dispatcher, name string, fn func(ctx context.Context, req *Req) (*Resp, error)) error {
	return d.AddSOAPOperation(name, HandlerFunc(func(ctx context.Context, op *Operation, body []byte) (any, error) {
		req := new(Req)
		if err := xml.Unmarshal(body, req); err != nil {
			return nil, NewFault(FaultClient, "malformed %s request: %v", op.Name, err)
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, nil
		}
		return resp, nil
	}))
}

// Response is a serialized SOAP reply.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Dispatcher routes envelopes to the handlers bound to a WSDL's operations.
// Register every operation before serving; the registry is not locked.
type Dispatcher struct {
	wsdl     *WSDL
	handlers map[string]Handler
	logger   *zap.Logger
}

// NewDispatcher returns a Dispatcher with no operations bound.
func NewDispatcher(w *WSDL, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		wsdl:     w,
		handlers: make(map[string]Handler),
		logger:   logging.Or(logger),
	}
}

// WSDL returns the document the dispatcher serves.
func (d *Dispatcher) WSDL() *WSDL { return d.wsdl }

// AddSOAPOperation binds h to a declared operation.
func (d *Dispatcher) AddSOAPOperation(name string, h Handler) error {
	if _, ok := d.wsdl.Operation(name); !ok {
		return fmt.Errorf("operation %s is not declared in WSDL %s", name, d.wsdl.Name)
	}
	if _, dup := d.handlers[name]; dup {
		return fmt.Errorf("operation %s is already bound", name)
	}
	d.handlers[name] = h
	return nil
}

// Serve handles one request envelope. Faults are answered with status 500 as
// SOAP 1.1 requires.
func (d *Dispatcher) Serve(ctx context.Context, header *message.RequestHeader, body []byte) Response {
	el, err := readEnvelope(body)
	if err != nil {
		logging.LogRawBytes(d.logger, "Malformed SOAP envelope", body)
		return d.fault(NewFault(FaultClient, "%v", err))
	}

	op, f := d.resolve(header, el)
	if f != nil {
		return d.fault(f)
	}
	h, ok := d.handlers[op.Name]
	if !ok {
		return d.fault(NewFault(FaultServer, "operation %s is not implemented", op.Name))
	}
	if err := op.Input.Check(el.Raw); err != nil {
		return d.fault(NewFault(FaultClient, "%v", err))
	}

	d.logger.Debug("SOAP operation",
		zap.String("operation", op.Name),
		zap.Int("body_bytes", len(el.Raw)),
	)
	result, err := h.ServeSOAP(ctx, op, el.Raw)
	if err != nil {
		var f *Fault
		if errors.As(err, &f) {
			return d.fault(f)
		}
		d.logger.Warn("SOAP handler failed", zap.String("operation", op.Name), zap.Error(err))
		return d.fault(NewFault(FaultServer, "%v", err))
	}

	out, err := writeEnvelope(func(buf *bytes.Buffer) error {
		return encodeElement(buf, d.wsdl.TargetNamespace, op.Output.Element, result)
	})
	if err != nil {
		return d.fault(NewFault(FaultServer, "%v", err))
	}
	return Response{Status: http.StatusOK, ContentType: ContentType, Body: out}
}

// resolve picks the operation by SOAPAction, falling back to the body
// element name.
func (d *Dispatcher) resolve(header *message.RequestHeader, el bodyElement) (*Operation, *Fault) {
	action := ""
	if header != nil && header.Header != nil {
		action = strings.Trim(header.Header.Get("SOAPAction"), `"`)
	}
	if op, ok := d.wsdl.byAction(action); ok {
		if op.Input.Element != el.Name.Local {
			return nil, NewFault(FaultClient, "SOAPAction %s expects element %s, got %s", action, op.Input.Element, el.Name.Local)
		}
		return op, nil
	}
	if op, ok := d.wsdl.byElement(el.Name.Local); ok {
		return op, nil
	}
	return nil, NewFault(FaultClient, "unknown operation %s", el.Name.Local)
}

func (d *Dispatcher) fault(f *Fault) Response {
	out, _ := writeEnvelope(func(buf *bytes.Buffer) error {
		f.writeTo(buf)
		return nil
	})
	return Response{Status: http.StatusInternalServerError, ContentType: ContentType, Body: out}
}
