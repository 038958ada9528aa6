package daemon

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/ctxengine/ctxd/internal/rpc"
)

// Handler answers one JSON-RPC request. Both *Server (single-root) and
// *RootRouter (multi-root, resolving "path" per call) implement it.
type Handler interface {
	Handle(ctx context.Context, req rpc.Request) rpc.Response
}

// Serve accepts connections on listener and dispatches each one's
// JSON-RPC requests to handler.Handle, one goroutine per connection
// (the daemon's socket, shared by every proxy session).
// It returns when listener is closed.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go serveConn(ctx, conn, handler)
	}
}

func serveConn(ctx context.Context, conn net.Conn, handler Handler) {
	defer conn.Close()
	ctx = WithSession(ctx, &SessionState{})
	r := rpc.NewReader(conn)
	w := rpc.NewWriter(conn)

	for {
		req, err := r.ReadRequest()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			return
		}
		if req.IsNotification() {
			handler.Handle(ctx, req)
			continue
		}
		resp := handler.Handle(ctx, req)
		if writeErr := w.WriteResponse(resp); writeErr != nil {
			return
		}
	}
}
