package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/forestnet/forestnet/internal/message"
)

// Transport sends one request and returns the complete response.
type Transport interface {
	Do(ctx context.Context, req *message.ClientRequest) (*message.Response, error)
}

// Client calls the operations of one WSDL.
type Client struct {
	Transport Transport
	WSDL      *WSDL
	// Host is sent in the Host header; Path is the endpoint path, "/" when
	// empty.
	Host string
	Path string
}

// Call invokes op with req and decodes the response element into Resp. A
// fault answer is returned as a *Fault; every other error comes from
// marshaling, the transport or a malformed reply.
func Call[Req, Resp any](ctx context.Context, c *Client, op string, req *Req) (*Resp, error) {
	o, ok := c.WSDL.Operation(op)
	if !ok {
		return nil, fmt.Errorf("operation %s is not declared in WSDL %s", op, c.WSDL.Name)
	}

	var element bytes.Buffer
	if err := encodeElement(&element, c.WSDL.TargetNamespace, o.Input.Element, req); err != nil {
		return nil, err
	}
	if err := o.Input.Check(element.Bytes()); err != nil {
		return nil, fmt.Errorf("request does not match WSDL: %w", err)
	}
	envelope, err := writeEnvelope(func(buf *bytes.Buffer) error {
		_, err := buf.Write(element.Bytes())
		return err
	})
	if err != nil {
		return nil, err
	}

	path := c.Path
	if path == "" {
		path = "/"
	}
	creq := &message.ClientRequest{
		Method:      http.MethodPost,
		Host:        c.Host,
		Path:        path,
		Header:      make(http.Header),
		Body:        envelope,
		ContentType: ContentType,
		KeepAlive:   true,
	}
	creq.Header.Set("SOAPAction", `"`+o.Action+`"`)

	res, err := c.Transport.Do(ctx, creq)
	if err != nil {
		return nil, fmt.Errorf("soap %s: %w", op, err)
	}

	el, err := readEnvelope(res.Body)
	if err != nil {
		return nil, fmt.Errorf("soap %s: status %d: %w", op, res.StatusCode, err)
	}
	if el.isFault() {
		f, err := decodeFault(el.Raw)
		if err != nil {
			return nil, err
		}
		return nil, f
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("soap %s: unexpected status %d %s", op, res.StatusCode, res.Status)
	}
	if err := o.Output.Check(el.Raw); err != nil {
		return nil, fmt.Errorf("response does not match WSDL: %w", err)
	}

	resp := new(Resp)
	if err := xml.Unmarshal(el.Raw, resp); err != nil {
		return nil, fmt.Errorf("soap %s: decode response: %w", op, err)
	}
	return resp, nil
}
