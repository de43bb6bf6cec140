package signal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// rpcCall is one request the fake signal-cli received.
type rpcCall struct {
	Method string
	Params map[string]any
}

// fakeCLI plays signal-cli on the far side of a pipeClient. It answers
// every request from a per-method table of JSON results, defaulting to
// an empty object.
type fakeCLI struct {
	stdout io.Writer

	mu      sync.Mutex
	calls   []rpcCall
	results map[string]string
	errors  map[string]string
}

const (
	testGroups   = `[{"id":"Z3JvdXA=","name":"家庭群","isMember":true,"members":[{"number":"+15550001","uuid":"u-alice"},{"number":"+15550009","uuid":"u-bot"}]}]`
	testContacts = `[{"number":"+15550001","uuid":"u-alice","name":"alice"},{"number":"+15550002","uuid":"u-bob","profile":{"givenName":"bob"}}]`
)

// pipeClient attaches a Client to in-memory pipes in place of a
// signal-cli process. Writes to stdout reach the client as signal-cli
// output; stdin yields what the client sends.
func pipeClient(t *testing.T) (c *Client, stdout io.WriteCloser, stdin io.Reader) {
	t.Helper()
	outR, outW := io.Pipe()
	inR, inW := io.Pipe()

	c = NewClient("signal-cli", nil, slog.Default())
	c.attach(inW, outR)
	t.Cleanup(func() {
		outW.Close()
		inW.Close()
	})
	return c, outW, inR
}

// startFakeCLI wires a fake signal-cli to a fresh pipe client.
func startFakeCLI(t *testing.T) (*Client, *fakeCLI) {
	t.Helper()
	client, stdout, stdin := pipeClient(t)
	f := &fakeCLI{
		stdout: stdout,
		results: map[string]string{
			"listGroups":   testGroups,
			"listContacts": testContacts,
			"send":         `{"timestamp":1700000000001}`,
		},
		errors: map[string]string{},
	}
	go f.serve(stdin)
	return client, f
}

func (f *fakeCLI) serve(stdin io.Reader) {
	reader := bufio.NewReader(stdin)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req struct {
			ID     int64          `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}

		f.mu.Lock()
		f.calls = append(f.calls, rpcCall{Method: req.Method, Params: req.Params})
		result, ok := f.results[req.Method]
		rpcErr := f.errors[req.Method]
		f.mu.Unlock()

		var resp string
		switch {
		case rpcErr != "":
			resp = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-1,"message":%q}}`, req.ID, rpcErr)
		case ok:
			resp = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
		default:
			resp = fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, req.ID)
		}
		if _, err := io.WriteString(f.stdout, resp+"\n"); err != nil {
			return
		}
	}
}

// push delivers a receive notification carrying envelope JSON.
func (f *fakeCLI) push(t *testing.T, envelope string) {
	t.Helper()
	line := `{"jsonrpc":"2.0","method":"receive","params":{"envelope":` + envelope + `}}` + "\n"
	if _, err := io.WriteString(f.stdout, line); err != nil {
		t.Fatalf("push notification: %v", err)
	}
}

func (f *fakeCLI) fail(method, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[method] = message
}

// callsTo returns the recorded requests for method.
func (f *fakeCLI) callsTo(method string) []rpcCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []rpcCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCLI) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Method
	}
	return out
}
