package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

var errTransportClosed = errors.New("MCP transport closed")

// StdioTransport talks to an MCP server over the stdin/stdout of a subprocess,
// one JSON-RPC message per line.
type StdioTransport struct {
	Command string
	Args    []string
	Env     []string // KEY=VALUE pairs added to the inherited environment

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan jsonRPCResponse
	done      chan struct{}
}

func NewStdioTransport(command string, args []string, env []string) *StdioTransport {
	return &StdioTransport{
		Command: command,
		Args:    args,
		Env:     env,
		pending: make(map[int64]chan jsonRPCResponse),
		done:    make(chan struct{}),
	}
}

// Start launches the subprocess. A zero StdioTransport with Command set is
// ready to use.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.pendingMu.Lock()
	if t.pending == nil {
		t.pending = make(map[int64]chan jsonRPCResponse)
	}
	if t.done == nil {
		t.done = make(chan struct{})
	}
	t.pendingMu.Unlock()

	t.cmd = exec.CommandContext(ctx, t.Command, t.Args...)
	if len(t.Env) > 0 {
		t.cmd.Env = append(t.cmd.Environ(), t.Env...)
	}

	var err error
	if t.stdin, err = t.cmd.StdinPipe(); err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := t.cmd.Start(); err != nil {
		return fmt.Errorf("start MCP process: %w", err)
	}

	go t.readLoop(stdout)
	return nil
}

func (t *StdioTransport) readLoop(stdout io.Reader) {
	defer close(t.done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 256*1024), 10*1024*1024)
	for scanner.Scan() {
		var resp jsonRPCResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil || resp.ID == 0 {
			continue // blank lines, logs and server notifications
		}

		t.pendingMu.Lock()
		ch, ok := t.pending[resp.ID]
		delete(t.pending, resp.ID)
		t.pendingMu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

func (t *StdioTransport) write(req jsonRPCRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("write to MCP: %w", err)
	}
	return nil
}

func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := nextRequestID()
	ch := make(chan jsonRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.write(jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp.result()
	case <-t.done:
		// The response may have been delivered just before the process exited.
		select {
		case resp := <-ch:
			return resp.result()
		default:
			return nil, errTransportClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *StdioTransport) Notify(_ context.Context, method string, params any) error {
	return t.write(jsonRPCRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (t *StdioTransport) Close() {
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
		t.cmd.Wait()
	}
}
