// Package calculator is a reference SOAP service with four arithmetic
// operations, described by an embedded WSDL.
package calculator

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/forestnet/forestnet/internal/soap"
	"go.uber.org/zap"
)

//go:embed calculator.wsdl
var calculatorWSDL []byte

var (
	wsdlOnce sync.Once
	wsdlDoc  *soap.WSDL
	wsdlErr  error
)

// WSDL returns the parsed service description. It is parsed once.
func WSDL() (*soap.WSDL, error) {
	wsdlOnce.Do(func() {
		wsdlDoc, wsdlErr = soap.ParseWSDL(calculatorWSDL)
	})
	return wsdlDoc, wsdlErr
}

// Operands is the request element of every operation.
type Operands struct {
	A float64 `xml:"a"`
	B float64 `xml:"b"`
}

// Result is the response element of every operation.
type Result struct {
	Result float64 `xml:"result"`
}

func arith(fn func(a, b float64) (float64, error)) func(context.Context, *Operands) (*Result, error) {
	return func(_ context.Context, req *Operands) (*Result, error) {
		r, err := fn(req.A, req.B)
		if err != nil {
			return nil, err
		}
		return &Result{Result: r}, nil
	}
}

// names lists the operations in WSDL order.
var names = []string{"Add", "Subtract", "Multiply", "Divide"}

var operations = map[string]func(a, b float64) (float64, error){
	"Add":      func(a, b float64) (float64, error) { return a + b, nil },
	"Subtract": func(a, b float64) (float64, error) { return a - b, nil },
	"Multiply": func(a, b float64) (float64, error) { return a * b, nil },
	"Divide": func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, soap.NewFault(soap.FaultClient, "division by zero")
		}
		return a / b, nil
	},
}

// Register binds the four operations to d, which must serve WSDL().
func Register(d *soap.Dispatcher) error {
	for _, name := range names {
		if err := soap.Bind(d, name, arith(operations[name])); err != nil {
			return fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}
	return nil
}

// RegisterDeclared binds those calculator operations that d's WSDL
// declares and returns their names. Operations must use the Operands and
// Result elements.
func RegisterDeclared(d *soap.Dispatcher) ([]string, error) {
	var bound []string
	for _, name := range names {
		if _, ok := d.WSDL().Operation(name); !ok {
			continue
		}
		if err := soap.Bind(d, name, arith(operations[name])); err != nil {
			return bound, fmt.Errorf("failed to bind %s: %w", name, err)
		}
		bound = append(bound, name)
	}
	return bound, nil
}

// NewDispatcher returns a dispatcher serving the calculator.
func NewDispatcher(logger *zap.Logger) (*soap.Dispatcher, error) {
	w, err := WSDL()
	if err != nil {
		return nil, err
	}
	disp := soap.NewDispatcher(w, logger)
	if err := Register(disp); err != nil {
		return nil, err
	}
	return disp, nil
}

// Client calls a remote calculator.
type Client struct {
	soap *soap.Client
}

// NewClient returns a client posting to path over t.
func NewClient(t soap.Transport, host, path string) (*Client, error) {
	w, err := WSDL()
	if err != nil {
		return nil, err
	}
	return &Client{soap: &soap.Client{Transport: t, WSDL: w, Host: host, Path: path}}, nil
}

// Call invokes one of the four operations by name.
func (c *Client) Call(ctx context.Context, op string, a, b float64) (float64, error) {
	res, err := soap.Call[Operands, Result](ctx, c.soap, op, &Operands{A: a, B: b})
	if err != nil {
		return 0, err
	}
	return res.Result, nil
}

func (c *Client) Add(ctx context.Context, a, b float64) (float64, error) {
	return c.Call(ctx, "Add", a, b)
}

func (c *Client) Subtract(ctx context.Context, a, b float64) (float64, error) {
	return c.Call(ctx, "Subtract", a, b)
}

func (c *Client) Multiply(ctx context.Context, a, b float64) (float64, error) {
	return c.Call(ctx, "Multiply", a, b)
}

func (c *Client) Divide(ctx context.Context, a, b float64) (float64, error) {
	return c.Call(ctx, "Divide", a, b)
}
