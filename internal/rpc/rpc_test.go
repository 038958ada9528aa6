package rpc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []Cursor{
		{Tool: "search", Mode: "lexical"},
		{Tool: "read_pack", ResponseMode: "compact", Root: "/proj", RootHash: FingerprintRoot("/proj")},
		{Tool: "grep_context", MaxChars: 4000, Opaque: json.RawMessage(`{"offset":12}`)},
	}
	for _, c := range cases {
		token, err := EncodeCursor(c)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		decoded, err := DecodeCursor(token, "")
		require.NoError(t, err)

		reencoded, err := EncodeCursor(decoded)
		require.NoError(t, err)
		assert.Equal(t, token, reencoded, "encode(decode(x)) must equal x")
	}
}

func TestDecodeCursorRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	_, err := DecodeCursor("", "somehash")
	require.Error(t, err)
	var cursorErr *ErrInvalidCursor
	assert.ErrorAs(t, err, &cursorErr)
}

func TestDecodeCursorRejectsMalformedBase64(t *testing.T) {
	t.Parallel()
	_, err := DecodeCursor("not base64!!", "")
	require.Error(t, err)
}

func TestDecodeCursorRejectsWrongVersion(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(map[string]any{"v": 999, "tool": "search"})
	require.NoError(t, err)
	token := base64.RawURLEncoding.EncodeToString(raw)

	_, err = DecodeCursor(token, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestDecodeCursorRejectsRootMismatch(t *testing.T) {
	t.Parallel()
	c := Cursor{Tool: "search", RootHash: FingerprintRoot("/a")}
	token, err := EncodeCursor(c)
	require.NoError(t, err)

	_, err = DecodeCursor(token, FingerprintRoot("/b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root mismatch")
}

func TestDecodeCursorAllowsMatchingRootHash(t *testing.T) {
	t.Parallel()
	hash := FingerprintRoot("/a")
	c := Cursor{Tool: "search", RootHash: hash}
	token, err := EncodeCursor(c)
	require.NoError(t, err)

	decoded, err := DecodeCursor(token, hash)
	require.NoError(t, err)
	assert.Equal(t, "search", decoded.Tool)
}

func TestFingerprintRootIsStableAndDistinct(t *testing.T) {
	t.Parallel()
	a := FingerprintRoot("/project/a")
	b := FingerprintRoot("/project/b")
	assert.Equal(t, a, FingerprintRoot("/project/a"))
	assert.NotEqual(t, a, b)
}

func TestRequestIsNotification(t *testing.T) {
	t.Parallel()
	assert.True(t, Request{Method: "notifications/initialized"}.IsNotification())
	assert.True(t, Request{Method: "x", ID: json.RawMessage("null")}.IsNotification())
	assert.False(t, Request{Method: "x", ID: json.RawMessage(`"1"`)}.IsNotification())
}

func TestResultAndErrorResponseShapes(t *testing.T) {
	t.Parallel()
	id := json.RawMessage(`"42"`)

	res, err := ResultResponse(id, map[string]string{"ok": "yes"})
	require.NoError(t, err)
	assert.Nil(t, res.Error)
	assert.JSONEq(t, `{"ok":"yes"}`, string(res.Result))

	errRes := ErrorResponse(id, ErrInvalidParams, "bad params")
	assert.Nil(t, errRes.Result)
	require.NotNil(t, errRes.Error)
	assert.Equal(t, ErrInvalidParams, errRes.Error.Code)

	discRes := BackendDisconnectedResponse(id)
	require.NotNil(t, discRes.Error)
	assert.Equal(t, BackendDisconnected, discRes.Error.Code)
}

func TestFramingRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	req, err := NewRequest(json.RawMessage(`1`), "tools/call", map[string]string{"name": "search"})
	require.NoError(t, err)
	require.NoError(t, w.WriteRequest(req))

	resp := Response{JSONRPC: "2.0", ID: json.RawMessage(`1`), Result: json.RawMessage(`{"ok":true}`)}
	require.NoError(t, w.WriteResponse(resp))

	r := NewReader(&buf)
	gotReq, err := r.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, "tools/call", gotReq.Method)

	gotResp, err := r.ReadResponse()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(gotResp.Result))

	_, err = r.ReadRequest()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriterSerializesConcurrentWrites(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewWriter(&buf)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			req, err := NewRequest(json.RawMessage(`1`), "tools/call", map[string]int{"n": n})
			if err != nil {
				return
			}
			_ = w.WriteRequest(req)
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	r := NewReader(&buf)
	count := 0
	for {
		if _, err := r.ReadRequest(); err != nil {
			break
		}
		count++
	}
	assert.Equal(t, 8, count, "every concurrent write must land as one complete, non-interleaved frame")
}
