package daemon

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/ctxengine/ctxd/internal/rpc"
)

// Proxy bridges one client's stdio to the daemon's Unix socket,
// applying Session's handshake synthesis, root injection, and
// disconnect-recovery rules.
type Proxy struct {
	socketPath string
	clientIn   *rpc.Reader
	clientOut  *rpc.Writer
	session    Session

	mu        sync.Mutex
	conn      net.Conn
	daemonOut *rpc.Writer
	daemonIn  *rpc.Reader
}

// NewProxy constructs a Proxy reading client requests from clientIn and
// writing responses to clientOut.
func NewProxy(socketPath string, clientIn io.Reader, clientOut io.Writer, defaultRoot, envOverrideRoot string) *Proxy {
	return &Proxy{
		socketPath: socketPath,
		clientIn:   rpc.NewReader(clientIn),
		clientOut:  rpc.NewWriter(clientOut),
		session:    Session{DefaultRoot: defaultRoot, EnvOverrideRoot: envOverrideRoot},
	}
}

// Run reads client requests until EOF, forwarding each to the daemon
// and copying daemon responses back to the client. It returns once the
// client has reached EOF and every pending request has been answered
// (the stdin-EOF rule).
func (p *Proxy) Run() error {
	for {
		req, err := p.clientIn.ReadRequest()
		if errors.Is(err, io.EOF) {
			return p.drain()
		}
		if err != nil {
			return err
		}
		if err := p.forward(req); err != nil {
			return err
		}
	}
}

func (p *Proxy) forward(req rpc.Request) error {
	outbound, err := p.session.PrepareOutbound(req)
	if err != nil {
		return err
	}
	for _, out := range outbound {
		if sendErr := p.sendToDaemon(out); sendErr != nil {
			p.handleDisconnect()
			return nil
		}
		if out.IsNotification() {
			continue
		}
		resp, readErr := p.readFromDaemon()
		if readErr != nil {
			p.handleDisconnect()
			return nil
		}
		final := p.session.ObserveDaemonResponse(resp)
		if writeErr := p.clientOut.WriteResponse(final); writeErr != nil {
			return writeErr
		}
	}
	return nil
}

// drain keeps the daemon connection open until every pending request
// has been answered client-EOF rule.
func (p *Proxy) drain() error {
	for !p.session.Idle() {
		resp, err := p.readFromDaemon()
		if err != nil {
			p.handleDisconnect()
			return nil
		}
		final := p.session.ObserveDaemonResponse(resp)
		if err := p.clientOut.WriteResponse(final); err != nil {
			return err
		}
	}
	return p.closeDaemon()
}

func (p *Proxy) handleDisconnect() {
	for _, resp := range p.session.OnDaemonDisconnected() {
		_ = p.clientOut.WriteResponse(resp)
	}
	_ = p.closeDaemon()
}

func (p *Proxy) ensureConnected() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return nil
	}
	conn, err := net.Dial("unix", p.socketPath)
	if err != nil {
		return err
	}
	p.conn = conn
	p.daemonOut = rpc.NewWriter(conn)
	p.daemonIn = rpc.NewReader(conn)
	return nil
}

func (p *Proxy) sendToDaemon(req rpc.Request) error {
	if err := p.ensureConnected(); err != nil {
		return err
	}
	p.mu.Lock()
	w := p.daemonOut
	p.mu.Unlock()
	return w.WriteRequest(req)
}

func (p *Proxy) readFromDaemon() (rpc.Response, error) {
	p.mu.Lock()
	r := p.daemonIn
	p.mu.Unlock()
	if r == nil {
		return rpc.Response{}, errors.New("daemon: not connected")
	}
	return r.ReadResponse()
}

func (p *Proxy) closeDaemon() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	p.daemonOut = nil
	p.daemonIn = nil
	return err
}
