package bridge

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/bluebook-vm/bluebook/kernel"
	"github.com/bluebook-vm/bluebook/vm"
)

type testBridge struct {
	t     *testing.T
	srv   *Server
	http  *httptest.Server
	token string
}

func newTestBridge(t *testing.T, opts ...Option) *testBridge {
	t.Helper()
	v, err := kernel.Boot(vm.Options{Output: io.Discard})
	require.NoError(t, err)
	s := New(v, opts...)
	hs := httptest.NewServer(s)
	t.Cleanup(func() {
		hs.Close()
		s.Stop()
	})
	return &testBridge{t: t, srv: s, http: hs}
}

// do sends a JSON request and decodes a JSON answer into out when given.
func (b *testBridge) do(method, path string, body any, out any) int {
	b.t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(b.t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, b.http.URL+path, rd)
	require.NoError(b.t, err)
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	resp, err := b.http.Client().Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(b.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (b *testBridge) eval(source string) Object {
	b.t.Helper()
	var obj Object
	status := b.do(http.MethodPost, "/v1/eval", EvalRequest{Source: source}, &obj)
	require.Equal(b.t, http.StatusOK, status, "eval %q", source)
	return obj
}

func intArg(n int64) Arg     { return Arg{Int: &n} }
func stringArg(s string) Arg { return Arg{String: &s} }

func TestEvalAnswersHandle(t *testing.T) {
	b := newTestBridge(t)
	obj := b.eval("3 + 4")
	require.Equal(t, "SmallInteger", obj.Class)
	require.Equal(t, "7", obj.Print)
	require.True(t, strings.HasPrefix(obj.ID, "h-"))

	var again Object
	require.Equal(t, http.StatusOK, b.do(http.MethodGet, "/v1/objects/"+obj.ID, nil, &again))
	require.Equal(t, obj, again)

	list := b.eval("OrderedCollection new add: 1; add: 2; yourself")
	require.Equal(t, "OrderedCollection", list.Class)
	require.NotEmpty(t, list.InstVars)
}

func TestEvalErrors(t *testing.T) {
	b := newTestBridge(t)

	var body errorBody
	require.Equal(t, http.StatusBadRequest, b.do(http.MethodPost, "/v1/eval", EvalRequest{Source: "3 +"}, &body))
	require.NotEmpty(t, body.Messages)

	body = errorBody{}
	require.Equal(t, http.StatusUnprocessableEntity, b.do(http.MethodPost, "/v1/eval", EvalRequest{Source: "1 / 0"}, &body))
	require.Equal(t, "ZeroDivide", body.Class)
	require.Equal(t, "division by zero", body.MessageText)

	require.Equal(t, http.StatusBadRequest, b.do(http.MethodPost, "/v1/eval", EvalRequest{}, nil))
	require.Equal(t, http.StatusBadRequest, b.do(http.MethodPost, "/v1/eval", map[string]any{"src": "1"}, nil))

	// The VM keeps working after an unhandled error.
	require.Equal(t, "42", b.eval("6 * 7").Print)
}

func TestSend(t *testing.T) {
	b := newTestBridge(t)
	list := b.eval("OrderedCollection new")

	var obj Object
	status := b.do(http.MethodPost, "/v1/send", SendRequest{
		Receiver: Arg{Handle: list.ID},
		Selector: "add:",
		Args:     []Arg{stringArg("first")},
	}, &obj)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "'first'", obj.Print)

	status = b.do(http.MethodPost, "/v1/send", SendRequest{Receiver: Arg{Handle: list.ID}, Selector: "size"}, &obj)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "1", obj.Print)

	status = b.do(http.MethodPost, "/v1/send", SendRequest{
		Receiver: intArg(3),
		Selector: "+",
		Args:     []Arg{intArg(4)},
	}, &obj)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "7", obj.Print)

	status = b.do(http.MethodPost, "/v1/send", SendRequest{
		Receiver: Arg{Global: "Array"},
		Selector: "with:with:",
		Args:     []Arg{{Symbol: ptr("a")}, {Char: ptr("b")}},
	}, &obj)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "Array", obj.Class)
	require.Equal(t, 2, obj.Size)
}

func TestSendErrors(t *testing.T) {
	b := newTestBridge(t)
	tests := map[string]struct {
		req  SendRequest
		want int
	}{
		"no selector":    {SendRequest{Receiver: intArg(1)}, http.StatusBadRequest},
		"arity":          {SendRequest{Receiver: intArg(1), Selector: "+"}, http.StatusBadRequest},
		"unknown handle": {SendRequest{Receiver: Arg{Handle: "h-999"}, Selector: "size"}, http.StatusNotFound},
		"unknown global": {SendRequest{Receiver: Arg{Global: "Nowhere"}, Selector: "size"}, http.StatusNotFound},
		"bad char":       {SendRequest{Receiver: Arg{Char: ptr("ab")}, Selector: "value"}, http.StatusBadRequest},
		"not understood": {SendRequest{Receiver: intArg(1), Selector: "frobnicate"}, http.StatusUnprocessableEntity},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, b.do(http.MethodPost, "/v1/send", tt.req, nil))
		})
	}
}

func TestSlots(t *testing.T) {
	b := newTestBridge(t)
	arr := b.eval("Array with: 1 with: 'two' with: #three")
	path := "/v1/objects/" + arr.ID + "/slots/"

	var obj Object
	require.Equal(t, http.StatusOK, b.do(http.MethodGet, path+"2", nil, &obj))
	require.Equal(t, "String", obj.Class)
	require.Equal(t, "'two'", obj.Print)

	require.Equal(t, http.StatusNoContent, b.do(http.MethodPut, path+"1", stringArg("one"), nil))
	require.Equal(t, http.StatusOK, b.do(http.MethodGet, path+"1", nil, &obj))
	require.Equal(t, "'one'", obj.Print)

	require.Equal(t, http.StatusBadRequest, b.do(http.MethodGet, path+"4", nil, nil))
	require.Equal(t, http.StatusBadRequest, b.do(http.MethodGet, path+"zero", nil, nil))
	require.Equal(t, http.StatusBadRequest, b.do(http.MethodPut, path+"9", intArg(1), nil))

	str := b.eval("'abc' copy")
	path = "/v1/objects/" + str.ID + "/slots/"
	require.Equal(t, http.StatusOK, b.do(http.MethodGet, path+"1", nil, &obj))
	require.Equal(t, "97", obj.Print)
	require.Equal(t, http.StatusNoContent, b.do(http.MethodPut, path+"1", intArg(120), nil))
	require.Equal(t, http.StatusOK, b.do(http.MethodGet, "/v1/objects/"+str.ID, nil, &obj))
	require.Equal(t, "'xbc'", obj.Print)
	require.Equal(t, http.StatusBadRequest, b.do(http.MethodPut, path+"1", intArg(999), nil))

	sym := b.eval("#frozen")
	require.Equal(t, http.StatusBadRequest, b.do(http.MethodPut, "/v1/objects/"+sym.ID+"/slots/1", intArg(65), nil))
}

func TestReleaseAndCollection(t *testing.T) {
	b := newTestBridge(t)
	arr := b.eval("Array new: 3")
	gone := b.eval("'short lived' copy")

	require.Equal(t, http.StatusNoContent, b.do(http.MethodDelete, "/v1/objects/"+gone.ID, nil, nil))
	require.Equal(t, http.StatusNotFound, b.do(http.MethodGet, "/v1/objects/"+gone.ID, nil, nil))
	require.Equal(t, http.StatusNotFound, b.do(http.MethodDelete, "/v1/objects/"+gone.ID, nil, nil))

	_, err := b.srv.Do(func(v *vm.VM) (any, error) { return v.CollectGarbage(), nil })
	require.NoError(t, err)

	var obj Object
	require.Equal(t, http.StatusOK, b.do(http.MethodGet, "/v1/objects/"+arr.ID, nil, &obj))
	require.Equal(t, "Array", obj.Class)
	require.Equal(t, 3, obj.Size)
}

func TestSweepReleasesIdleHandles(t *testing.T) {
	b := newTestBridge(t)
	b.eval("Object new")
	b.eval("'idle' copy")
	require.Equal(t, 2, b.srv.Handles().Len())

	n, err := b.srv.Do(func(v *vm.VM) (any, error) {
		return b.srv.Handles().Sweep(v, -time.Minute), nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Zero(t, b.srv.Handles().Len())
}

func TestTokenAuth(t *testing.T) {
	const secret = "test-secret"
	b := newTestBridge(t, WithTokenSecret(secret))

	require.Equal(t, http.StatusOK, b.do(http.MethodGet, "/v1/health", nil, nil))
	require.Equal(t, http.StatusUnauthorized, b.do(http.MethodPost, "/v1/eval", EvalRequest{Source: "1"}, nil))

	forged, err := IssueToken([]byte("other"), "mallory", time.Hour)
	require.NoError(t, err)
	b.token = forged
	require.Equal(t, http.StatusUnauthorized, b.do(http.MethodPost, "/v1/eval", EvalRequest{Source: "1"}, nil))

	expired, err := IssueToken([]byte(secret), "alice", -time.Hour)
	require.NoError(t, err)
	b.token = expired
	require.Equal(t, http.StatusUnauthorized, b.do(http.MethodPost, "/v1/eval", EvalRequest{Source: "1"}, nil))

	b.token, err = IssueToken([]byte(secret), "alice", time.Hour)
	require.NoError(t, err)
	require.Equal(t, "1", b.eval("1").Print)

	claims, err := ValidateToken([]byte(secret), b.token)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
}

func TestTranscriptStream(t *testing.T) {
	const secret = "stream-secret"
	b := newTestBridge(t, WithTokenSecret(secret))
	token, err := IssueToken([]byte(secret), "viewer", time.Hour)
	require.NoError(t, err)
	b.token = token

	url := "ws" + strings.TrimPrefix(b.http.URL, "http") + "/v1/transcript?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return b.srv.transcript.Subscribers() == 1 },
		2*time.Second, 10*time.Millisecond)

	b.eval("Transcript showCr: 'hello from the image'")

	var got strings.Builder
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !strings.Contains(got.String(), "hello from the image\n") {
		kind, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, kind)
		got.Write(msg)
	}

	conn.Close()
	require.Eventually(t, func() bool { return b.srv.transcript.Subscribers() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestTranscriptRejectsMissingToken(t *testing.T) {
	b := newTestBridge(t, WithTokenSecret("s"))
	url := "ws" + strings.TrimPrefix(b.http.URL, "http") + "/v1/transcript"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func ptr[T any](v T) *T { return &v }
