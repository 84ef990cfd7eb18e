// Package message is forestNET's HTTP/1.1 message model.
//
// Requests are read straight off a transport connection: ReadRequest parses
// the request line and headers through net/http, enforces header and body
// limits, splits the path into directory and file, keeps query parameters in
// order (including the name[op]=value filter grammar) and decodes URL-encoded
// and multipart bodies into a Form.
//
// Responses are written byte for byte by WriteResponse, without a Date header,
// so identical inputs produce identical bytes.
//
// The client half (ClientRequest, WriteRequest, ReadResponse) is used by the
// client task and by tests.
package message
