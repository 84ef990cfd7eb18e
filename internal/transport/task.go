package transport

import "context"

// ServerTask implements the server half of an application protocol on one
// accepted connection. Serve owns the exchange until it returns; the Server
// closes the connection afterwards.
type ServerTask interface {
	Serve(ctx context.Context, conn *Conn) error
}

// ClientTask implements the client half of an application protocol on one
// established connection.
type ClientTask interface {
	Run(ctx context.Context, conn *Conn) error
}

// TaskFactory returns a fresh ServerTask for every accepted connection.
type TaskFactory func() ServerTask

// ServerTaskFunc adapts a function to ServerTask.
type ServerTaskFunc func(ctx context.Context, conn *Conn) error

// Serve calls f(ctx, conn).
func (f ServerTaskFunc) Serve(ctx context.Context, conn *Conn) error {
	return f(ctx, conn)
}

// ClientTaskFunc adapts a function to ClientTask.
type ClientTaskFunc func(ctx context.Context, conn *Conn) error

// Run calls f(ctx, conn).
func (f ClientTaskFunc) Run(ctx context.Context, conn *Conn) error {
	return f(ctx, conn)
}
