package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testClient = ClientInfo{Name: "dbtmcp-test", Version: "0.0.0"}

// fakeTransport answers calls from a table of canned results.
type fakeTransport struct {
	started, closed bool
	calls           []string
	notifications   []string
	pages           map[string]string // cursor → tools/list result
	failMethod      string
	failNotify      error
}

func (f *fakeTransport) Start(context.Context) error { f.started = true; return nil }
func (f *fakeTransport) Close()                      { f.closed = true }

func (f *fakeTransport) Notify(_ context.Context, method string, _ any) error {
	f.notifications = append(f.notifications, method)
	return f.failNotify
}

func (f *fakeTransport) Call(_ context.Context, method string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	if method == f.failMethod {
		return nil, &jsonRPCError{Code: -32601, Message: "method not found"}
	}
	if method != "tools/list" {
		return json.RawMessage(`{}`), nil
	}
	cursor := ""
	if p, ok := params.(map[string]any); ok {
		cursor, _ = p["cursor"].(string)
	}
	return json.RawMessage(f.pages[cursor]), nil
}

func TestListTools_Paginates(t *testing.T) {
	ft := &fakeTransport{pages: map[string]string{
		"":   `{"tools":[{"name":"build"},{"name":"run"}],"nextCursor":"p2"}`,
		"p2": `{"tools":[{"name":"list_jobs","description":"List jobs"}]}`,
	}}

	tools, err := ListTools(context.Background(), ft, testClient)
	require.NoError(t, err)

	assert.Equal(t, []string{"build", "run", "list_jobs"}, ToolNames(tools))
	assert.Equal(t, "List jobs", tools[2].Description)
	assert.Equal(t, []string{"initialize", "tools/list", "tools/list"}, ft.calls)
	assert.Equal(t, []string{"notifications/initialized"}, ft.notifications)
	assert.True(t, ft.started)
	assert.True(t, ft.closed)
}

func TestListTools_RepeatedCursorStops(t *testing.T) {
	ft := &fakeTransport{pages: map[string]string{
		"":  `{"tools":[{"name":"build"}],"nextCursor":"x"}`,
		"x": `{"tools":[{"name":"run"}],"nextCursor":"x"}`,
	}}
	tools, err := ListTools(context.Background(), ft, testClient)
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "run"}, ToolNames(tools))
}

func TestListTools_CursorCycleStops(t *testing.T) {
	ft := &fakeTransport{pages: map[string]string{
		"":  `{"tools":[{"name":"build"}],"nextCursor":"a"}`,
		"a": `{"tools":[{"name":"run"}],"nextCursor":"b"}`,
		"b": `{"tools":[{"name":"show"}],"nextCursor":"a"}`,
	}}
	tools, err := ListTools(context.Background(), ft, testClient)
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "run", "show"}, ToolNames(tools))
	assert.Len(t, ft.calls, 4)
}

func TestListTools_Errors(t *testing.T) {
	ft := &fakeTransport{failMethod: "initialize"}
	_, err := ListTools(context.Background(), ft, testClient)
	assert.ErrorContains(t, err, "initialize MCP server")
	assert.True(t, ft.closed)

	ft = &fakeTransport{failMethod: "tools/list"}
	_, err = ListTools(context.Background(), ft, testClient)
	var rpcErr *jsonRPCError
	assert.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, -32601, rpcErr.Code)

	ft = &fakeTransport{failNotify: errTransportClosed}
	_, err = ListTools(context.Background(), ft, testClient)
	assert.ErrorIs(t, err, errTransportClosed)
	assert.ErrorContains(t, err, "notify MCP server")
	assert.NotContains(t, ft.calls, "tools/list")

	ft = &fakeTransport{pages: map[string]string{"": `not json`}}
	_, err = ListTools(context.Background(), ft, testClient)
	assert.ErrorContains(t, err, "parse tools")
}

// TestHelperProcess is not a real test: it is the fake MCP server the stdio
// transport tests launch as a subprocess.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("DBT_MCP_HELPER_PROCESS") != "1" {
		return
	}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var req jsonRPCRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.ID == 0 {
			continue
		}
		var result string
		switch req.Method {
		case "initialize":
			result = `{"protocolVersion":"2024-11-05","capabilities":{"tools":{}}}`
		case "tools/list":
			result = `{"tools":[{"name":"build"},{"name":"text_to_sql"}]}`
		default:
			fmt.Printf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"unknown"}}`+"\n", req.ID)
			continue
		}
		fmt.Println("server log line")
		fmt.Printf(`{"jsonrpc":"2.0","id":%d,"result":%s}`+"\n", req.ID, result)
	}
	os.Exit(0)
}

func helperTransport() *StdioTransport {
	return NewStdioTransport(os.Args[0],
		[]string{"-test.run=TestHelperProcess"},
		[]string{"DBT_MCP_HELPER_PROCESS=1"})
}

func TestStdioTransport_ListTools(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tools, err := ListTools(ctx, helperTransport(), testClient)
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "text_to_sql"}, ToolNames(tools))
}

func TestStdioTransport_StructLiteral(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr := &StdioTransport{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env:     []string{"DBT_MCP_HELPER_PROCESS=1"},
	}
	tools, err := ListTools(ctx, tr, testClient)
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "text_to_sql"}, ToolNames(tools))
}

func TestStdioTransport_RPCError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr := helperTransport()
	require.NoError(t, tr.Start(ctx))
	defer tr.Close()

	_, err := tr.Call(ctx, "resources/list", nil)
	assert.ErrorContains(t, err, "JSON-RPC error -32601")
}

func TestStdioTransport_StartFails(t *testing.T) {
	tr := NewStdioTransport("/nonexistent/dbt-mcp-binary", nil, nil)
	err := tr.Start(context.Background())
	assert.ErrorContains(t, err, "start MCP process")
	tr.Close()
}
