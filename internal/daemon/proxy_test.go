package daemon

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxengine/ctxd/internal/rpc"
)

func TestSessionRealInitializeIsForwardedAsIs(t *testing.T) {
	t.Parallel()

	s := &Session{DefaultRoot: "/repo"}
	req := rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize", Params: json.RawMessage(`{"protocolVersion":"2025-01-01","capabilities":{"roots":{}}}`)}

	out, err := s.PrepareOutbound(req)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "initialize", out[0].Method)
	assert.True(t, s.InitializeSeen)
	assert.False(t, s.SynthesizedInitialize)
	assert.Equal(t, "2025-01-01", s.ClientProtocolVersion)
	assert.True(t, s.ClientSupportsRoots)
	assert.Equal(t, uint64(1), s.RealInitializeCount)
}

func TestSessionInitializedNotificationDroppedWithoutPriorInitialize(t *testing.T) {
	t.Parallel()

	s := &Session{}
	out, err := s.PrepareOutbound(rpc.Request{JSONRPC: "2.0", Method: "notifications/initialized"})
	require.NoError(t, err)
	assert.Nil(t, out, "notifications/initialized with no preceding initialize must be dropped")
}

func TestSessionInitializedNotificationForwardedOnceThenDeduped(t *testing.T) {
	t.Parallel()

	s := &Session{}
	_, err := s.PrepareOutbound(rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	require.NoError(t, err)

	out1, err := s.PrepareOutbound(rpc.Request{JSONRPC: "2.0", Method: "notifications/initialized"})
	require.NoError(t, err)
	require.Len(t, out1, 1)

	out2, err := s.PrepareOutbound(rpc.Request{JSONRPC: "2.0", Method: "notifications/initialized"})
	require.NoError(t, err)
	assert.Nil(t, out2, "a duplicate notifications/initialized must be dropped")
}

// TestSessionSynthesizesHandshakeBeforeFirstNonHandshakeRequest checks
// that a tools/call arriving before any initialize gets a synthesized
// initialize/initialized pair prepended, in order.
func TestSessionSynthesizesHandshakeBeforeFirstNonHandshakeRequest(t *testing.T) {
	t.Parallel()

	s := &Session{DefaultRoot: "/repo"}
	req := rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: json.RawMessage(`{"name":"search"}`)}

	out, err := s.PrepareOutbound(req)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "initialize", out[0].Method)
	assert.Equal(t, "notifications/initialized", out[1].Method)
	assert.Equal(t, "tools/call", out[2].Method)
	assert.True(t, s.SynthesizedInitialize)
	assert.True(t, s.RootEstablished, "path injection must have run on the synthesized-handshake path too")
}

func TestSessionSynthesizesHandshakeOnlyOnce(t *testing.T) {
	t.Parallel()

	s := &Session{}
	req := func() rpc.Request {
		return rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: json.RawMessage(`{"path":"/repo"}`)}
	}

	out1, err := s.PrepareOutbound(req())
	require.NoError(t, err)
	require.Len(t, out1, 3)

	out2, err := s.PrepareOutbound(req())
	require.NoError(t, err)
	require.Len(t, out2, 1, "a second tools/call after synthesis must not re-synthesize the handshake")
}

// TestSessionInjectsDefaultRootWhenArgsHaveNoPathOrCursor checks the
// tools/call root-injection rule's main branch.
func TestSessionInjectsDefaultRootWhenArgsHaveNoPathOrCursor(t *testing.T) {
	t.Parallel()

	s := &Session{InitializeSeen: true, InitializedForwarded: true, DefaultRoot: "/repo/default"}
	req := rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: json.RawMessage(`{"name":"search"}`)}

	out, err := s.PrepareOutbound(req)
	require.NoError(t, err)
	require.Len(t, out, 1)

	var params struct {
		Arguments map[string]any `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal(out[0].Params, &params))
	assert.Equal(t, "/repo/default", params.Arguments["path"])
	assert.True(t, s.RootEstablished)
}

// TestSessionLeavesArgsAloneWhenCursorPresent checks that a non-empty
// cursor means the tool call is a pagination continuation and must not
// have path injected or overwritten.
func TestSessionLeavesArgsAloneWhenCursorPresent(t *testing.T) {
	t.Parallel()

	s := &Session{InitializeSeen: true, InitializedForwarded: true, DefaultRoot: "/repo/default"}
	req := rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: json.RawMessage(`{"name":"search","arguments":{"cursor":"abc"}}`)}

	out, err := s.PrepareOutbound(req)
	require.NoError(t, err)
	require.Len(t, out, 1)

	var params struct {
		Arguments map[string]any `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal(out[0].Params, &params))
	_, hasPath := params.Arguments["path"]
	assert.False(t, hasPath, "a cursor-bearing call must not get a path injected")
	assert.False(t, s.RootEstablished, "root establishment is unaffected by a cursor-only call")
}

// TestSessionLeavesExplicitPathAloneAndMarksRootEstablished checks that
// a caller-supplied path is never overwritten, but still flips
// RootEstablished so later calls stop trying to inject.
func TestSessionLeavesExplicitPathAloneAndMarksRootEstablished(t *testing.T) {
	t.Parallel()

	s := &Session{InitializeSeen: true, InitializedForwarded: true, DefaultRoot: "/repo/default"}
	req := rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: json.RawMessage(`{"name":"search","arguments":{"path":"/explicit"}}`)}

	out, err := s.PrepareOutbound(req)
	require.NoError(t, err)

	var params struct {
		Arguments map[string]any `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal(out[0].Params, &params))
	assert.Equal(t, "/explicit", params.Arguments["path"])
	assert.True(t, s.RootEstablished)
}

// TestSessionPrefersEnvOverrideRootOnReInitialize checks the env-override
// rule: a root injected after a second real initialize prefers
// EnvOverrideRoot over DefaultRoot.
func TestSessionPrefersEnvOverrideRootOnReInitialize(t *testing.T) {
	t.Parallel()

	s := &Session{DefaultRoot: "/repo/default", EnvOverrideRoot: "/repo/override"}
	_, err := s.PrepareOutbound(rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	require.NoError(t, err)
	_, err = s.PrepareOutbound(rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "initialize"})
	require.NoError(t, err)

	out, err := s.PrepareOutbound(rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`3`), Method: "tools/call", Params: json.RawMessage(`{"name":"search","arguments":{}}`)})
	require.NoError(t, err)

	var params struct {
		Arguments map[string]any `json:"arguments"`
	}
	require.NoError(t, json.Unmarshal(out[0].Params, &params))
	assert.Equal(t, "/repo/override", params.Arguments["path"])
}

func TestSessionResetClearsHandshakeStateButKeepsRootConfig(t *testing.T) {
	t.Parallel()

	s := &Session{DefaultRoot: "/repo", EnvOverrideRoot: "/repo/override"}
	_, err := s.PrepareOutbound(rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	require.NoError(t, err)

	s.Reset()
	assert.False(t, s.InitializeSeen)
	assert.False(t, s.RootEstablished)
	assert.Equal(t, "/repo", s.DefaultRoot)
	assert.Equal(t, "/repo/override", s.EnvOverrideRoot)
}

// TestSessionObserveDaemonResponseEchoesClientProtocolVersion checks
// the initialize-response rewrite: if the daemon answered
// with a protocolVersion different from what the client asked for, the
// response is rewritten to echo the client's version.
func TestSessionObserveDaemonResponseEchoesClientProtocolVersion(t *testing.T) {
	t.Parallel()

	s := &Session{}
	initReq := rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize", Params: json.RawMessage(`{"protocolVersion":"2025-06-01"}`)}
	_, err := s.PrepareOutbound(initReq)
	require.NoError(t, err)

	daemonResp := rpc.Response{JSONRPC: "2.0", ID: json.RawMessage(`1`), Result: json.RawMessage(`{"protocolVersion":"2024-11-05","serverInfo":{"name":"ctxd"}}`)}
	got := s.ObserveDaemonResponse(daemonResp)

	var result map[string]any
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, "2025-06-01", result["protocolVersion"])
	assert.Equal(t, "ctxd", result["serverInfo"].(map[string]any)["name"], "rewriting protocolVersion must not disturb other result fields")
}

func TestSessionObserveDaemonResponseLeavesNonInitializeResponsesAlone(t *testing.T) {
	t.Parallel()

	s := &Session{}
	resp := rpc.Response{JSONRPC: "2.0", ID: json.RawMessage(`7`), Result: json.RawMessage(`{"ok":true}`)}
	got := s.ObserveDaemonResponse(resp)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
}

func TestSessionPendingRequestIDsTrackedAndRemovedOnResponse(t *testing.T) {
	t.Parallel()

	s := &Session{}
	_, err := s.PrepareOutbound(rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	require.NoError(t, err)
	require.Len(t, s.PendingRequestIDs, 1)
	assert.False(t, s.Idle())

	s.ObserveDaemonResponse(rpc.Response{JSONRPC: "2.0", ID: json.RawMessage(`1`), Result: json.RawMessage(`{}`)})
	assert.True(t, s.Idle())
}

func TestSessionNotificationsAreNotTrackedAsPending(t *testing.T) {
	t.Parallel()

	s := &Session{InitializeSeen: true}
	_, err := s.PrepareOutbound(rpc.Request{JSONRPC: "2.0", Method: "notifications/initialized"})
	require.NoError(t, err)
	assert.True(t, s.Idle(), "a notification carries no id and must never become a pending request")
}

// TestSessionOnDaemonDisconnectedAnswersEveryPendingRequestAndResets
// checks the disconnect-recovery rule: every outstanding
// request gets a canned BackendDisconnected error, and the session
// resets so the next client request re-synthesizes a handshake.
func TestSessionOnDaemonDisconnectedAnswersEveryPendingRequestAndResets(t *testing.T) {
	t.Parallel()

	s := &Session{DefaultRoot: "/repo"}
	_, err := s.PrepareOutbound(rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	require.NoError(t, err)
	_, err = s.PrepareOutbound(rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/call", Params: json.RawMessage(`{"path":"/x"}`)})
	require.NoError(t, err)

	responses := s.OnDaemonDisconnected()
	require.Len(t, responses, 2)
	for _, r := range responses {
		require.NotNil(t, r.Error)
		assert.Equal(t, rpc.BackendDisconnected, r.Error.Code)
	}

	assert.True(t, s.Idle())
	assert.False(t, s.InitializeSeen, "disconnect must reset handshake state")
	assert.Equal(t, "/repo", s.DefaultRoot, "disconnect must not discard root configuration")
}

// --- Proxy end-to-end: exercises Run()/forward()/drain() against a real
// Unix socket standing in for the daemon, grounded in the same
// net.Listen("unix", ...) pattern internal/daemon/bind.go uses for the
// daemon's own socket.

func fakeDaemon(t *testing.T, socketPath string, handle func(r *rpc.Reader, w *rpc.Writer)) func() {
	t.Helper()
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(rpc.NewReader(conn), rpc.NewWriter(conn))
	}()

	return func() { _ = ln.Close() }
}

// TestProxyForwardsRequestAndRelaysClientVisibleResponse drives a
// tools/call through a fresh Proxy against a fake daemon socket. The
// proxy's synthesized initialize/initialized pair carry no request id
// (Session.synthesizeHandshake's own output, see proxy.go), so
// forward() never waits on a response for either; only the real
// tools/call (which does carry an id) gets one relayed back to the
// client. The fake daemon below mirrors that by draining the two
// id-less handshake frames before answering the real request.
func TestProxyForwardsRequestAndRelaysClientVisibleResponse(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "ctxd.sock")
	stop := fakeDaemon(t, socketPath, func(r *rpc.Reader, w *rpc.Writer) {
		for {
			req, err := r.ReadRequest()
			if err != nil {
				return
			}
			if req.IsNotification() {
				continue
			}
			_ = w.WriteResponse(rpc.Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"echo":true}`)})
			return
		}
	})
	defer stop()

	clientIn, clientInWrite := net.Pipe()
	clientOutRead, clientOut := net.Pipe()
	defer clientIn.Close()
	defer clientOutRead.Close()

	proxy := NewProxy(socketPath, clientIn, clientOut, "/repo", "")

	done := make(chan error, 1)
	go func() { done <- proxy.Run() }()

	reqWriter := rpc.NewWriter(clientInWrite)
	require.NoError(t, reqWriter.WriteRequest(rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: json.RawMessage(`{}`)}))

	respReader := rpc.NewReader(clientOutRead)
	resp, err := readResponseWithTimeout(t, respReader)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echo":true}`, string(resp.Result), "only the real tools/call gets a response relayed; the id-less synthesized handshake never blocks on one")

	clientInWrite.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("proxy.Run did not return after client EOF")
	}
}

func readResponseWithTimeout(t *testing.T, r *rpc.Reader) (rpc.Response, error) {
	t.Helper()
	type result struct {
		resp rpc.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := r.ReadResponse()
		ch <- result{resp, err}
	}()
	select {
	case res := <-ch:
		return res.resp, res.err
	case <-time.After(2 * time.Second):
		return rpc.Response{}, os.ErrDeadlineExceeded
	}
}

// TestProxyHandleDisconnectAnswersPendingRequestsWhenDaemonCloses checks
// that a daemon closing mid-request surfaces a BackendDisconnected
// response to the client rather than hanging.
func TestProxyHandleDisconnectAnswersPendingRequestsWhenDaemonCloses(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(t.TempDir(), "ctxd.sock")
	stop := fakeDaemon(t, socketPath, func(r *rpc.Reader, w *rpc.Writer) {
		// Drain the id-less synthesized handshake frames, then hang up the
		// instant the real (id-bearing) request arrives, without ever
		// answering it, simulating the daemon dying mid-request.
		for {
			req, err := r.ReadRequest()
			if err != nil {
				return
			}
			if req.IsNotification() {
				continue
			}
			return
		}
	})
	defer stop()

	clientIn, clientInWrite := net.Pipe()
	clientOutRead, clientOut := net.Pipe()
	defer clientIn.Close()
	defer clientOutRead.Close()

	proxy := NewProxy(socketPath, clientIn, clientOut, "/repo", "")
	go func() { _ = proxy.Run() }()

	reqWriter := rpc.NewWriter(clientInWrite)
	require.NoError(t, reqWriter.WriteRequest(rpc.Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: json.RawMessage(`{}`)}))

	respReader := rpc.NewReader(clientOutRead)
	resp, err := readResponseWithTimeout(t, respReader)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpc.BackendDisconnected, resp.Error.Code)
}
