package daemon

import (
	"encoding/json"

	"github.com/ctxengine/ctxd/internal/rpc"
)

// synthesizedInitializeVersion is the protocol version the proxy claims
// when it has to synthesize an initialize handshake on the client's
// behalf.
const synthesizedInitializeVersion = "2024-11-05"

// Session tracks one client connection's JSON-RPC proxy state across
// the lifetime of its stdio<->daemon bridge.
type Session struct {
	RootEstablished       bool
	InitializeSeen        bool
	InitializedForwarded  bool
	SynthesizedInitialize bool
	ClientSupportsRoots   bool
	ClientProtocolVersion string
	InitializeRequestID   rpc.ID
	PendingRequestIDs     []rpc.ID
	RealInitializeCount   uint64

	// DefaultRoot/EnvOverrideRoot feed the tools/call path-injection
	// rule; RootResolveInput.SessionRoot would normally hold whichever
	// of the two was chosen for this session.
	DefaultRoot     string
	EnvOverrideRoot string
}

// Reset clears the per-handshake state: "On
// initialize: reset session" covers, without discarding the root
// configuration the session was constructed with.
func (s *Session) Reset() {
	s.RootEstablished = false
	s.InitializeSeen = false
	s.InitializedForwarded = false
	s.SynthesizedInitialize = false
	s.ClientSupportsRoots = false
	s.ClientProtocolVersion = ""
	s.InitializeRequestID = nil
	s.PendingRequestIDs = nil
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	Capabilities    struct {
		Roots json.RawMessage `json:"roots"`
	} `json:"capabilities"`
}

// PrepareOutbound decides what the proxy should actually send to the
// daemon for one client request, applying synthesis, root injection,
// and pending-id bookkeeping. The returned slice preserves send order
// (a synthesized initialize/initialized pair precedes the real
// request, when needed).
func (s *Session) PrepareOutbound(req rpc.Request) ([]rpc.Request, error) {
	switch req.Method {
	case "initialize":
		s.Reset()
		s.InitializeSeen = true
		s.InitializeRequestID = req.ID
		s.RealInitializeCount++
		var params initializeParams
		if len(req.Params) > 0 {
			_ = json.Unmarshal(req.Params, &params)
		}
		s.ClientProtocolVersion = params.ProtocolVersion
		s.ClientSupportsRoots = len(params.Capabilities.Roots) > 0
		return s.trackAndReturn(req)

	case "notifications/initialized":
		if !s.InitializeSeen || s.InitializedForwarded {
			return nil, nil // drop: not preceded by initialize, or a duplicate
		}
		s.InitializedForwarded = true
		return s.trackAndReturn(req)
	}

	var out []rpc.Request
	if !s.InitializeSeen {
		synthInit, synthNotif := s.synthesizeHandshake()
		out = append(out, synthInit, synthNotif)
	}

	if req.Method == "tools/call" && !s.RootEstablished {
		injected, err := s.injectRoot(req)
		if err != nil {
			return nil, err
		}
		req = injected
	}

	forwarded, err := s.trackAndReturn(req)
	if err != nil {
		return nil, err
	}
	return append(out, forwarded...), nil
}

func (s *Session) synthesizeHandshake() (rpc.Request, rpc.Request) {
	s.InitializeSeen = true
	s.SynthesizedInitialize = true
	s.InitializedForwarded = true
	params, _ := json.Marshal(map[string]any{
		"protocolVersion": synthesizedInitializeVersion,
		"capabilities":    map[string]any{},
	})
	initReq := rpc.Request{JSONRPC: "2.0", Method: "initialize", Params: params}
	notifReq := rpc.Request{JSONRPC: "2.0", Method: "notifications/initialized"}
	return initReq, notifReq
}

// injectRoot applies the tools/call root-injection rule to the call's
// "arguments" object: leave a non-empty cursor's args untouched;
// otherwise inject path from whichever root this initialize round
// prefers.
func (s *Session) injectRoot(req rpc.Request) (rpc.Request, error) {
	var params map[string]any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return req, err
		}
	}
	if params == nil {
		params = map[string]any{}
	}
	args, _ := params["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	if cursor, ok := args["cursor"].(string); ok && cursor != "" {
		return req, nil
	}
	if path, ok := args["path"].(string); ok && path != "" {
		s.RootEstablished = true
		return req, nil
	}

	root := s.DefaultRoot
	if s.RealInitializeCount > 1 && s.EnvOverrideRoot != "" {
		root = s.EnvOverrideRoot
	}
	if root == "" {
		return req, nil // nothing to inject; leave root resolution to the daemon's own fallback
	}
	args["path"] = root
	params["arguments"] = args
	encoded, err := json.Marshal(params)
	if err != nil {
		return req, err
	}
	req.Params = encoded
	s.RootEstablished = true
	return req, nil
}

func (s *Session) trackAndReturn(req rpc.Request) ([]rpc.Request, error) {
	if len(req.ID) > 0 && string(req.ID) != "null" {
		s.PendingRequestIDs = append(s.PendingRequestIDs, req.ID)
	}
	return []rpc.Request{req}, nil
}

// ObserveDaemonResponse removes resp's id from the pending set and, for
// an initialize response, echoes back the client's originally-requested
// protocolVersion when the daemon answered with a different one.
func (s *Session) ObserveDaemonResponse(resp rpc.Response) rpc.Response {
	s.removePending(resp.ID)

	if string(resp.ID) == string(s.InitializeRequestID) && len(s.InitializeRequestID) > 0 && s.ClientProtocolVersion != "" {
		resp = echoProtocolVersion(resp, s.ClientProtocolVersion)
	}
	return resp
}

func (s *Session) removePending(id rpc.ID) {
	out := s.PendingRequestIDs[:0]
	for _, pending := range s.PendingRequestIDs {
		if string(pending) != string(id) {
			out = append(out, pending)
		}
	}
	s.PendingRequestIDs = out
}

func echoProtocolVersion(resp rpc.Response, clientVersion string) rpc.Response {
	if resp.Error != nil || len(resp.Result) == 0 {
		return resp
	}
	var result map[string]any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return resp
	}
	daemonVersion, _ := result["protocolVersion"].(string)
	if daemonVersion == clientVersion {
		return resp
	}
	result["protocolVersion"] = clientVersion
	encoded, err := json.Marshal(result)
	if err != nil {
		return resp
	}
	resp.Result = encoded
	return resp
}

// OnDaemonDisconnected builds the canned error response for every
// pending request id and resets the session
func (s *Session) OnDaemonDisconnected() []rpc.Response {
	responses := make([]rpc.Response, 0, len(s.PendingRequestIDs))
	for _, id := range s.PendingRequestIDs {
		responses = append(responses, rpc.BackendDisconnectedResponse(id))
	}
	s.PendingRequestIDs = nil
	s.Reset()
	return responses
}

// Idle reports whether the session has no pending requests, the signal
// the client-EOF rule waits for before closing.
func (s *Session) Idle() bool {
	return len(s.PendingRequestIDs) == 0
}
