package capability

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/praxis-ai/praxis/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	info       ServerInfo
	tools      []mcp.Tool
	prompts    []mcp.Prompt
	resources  []mcp.Resource
	callResult *mcp.CallToolResult
	callErr    error
	closed     atomic.Int32
}

func (f *fakeSession) Info() ServerInfo { return f.info }

func (f *fakeSession) ListTools(context.Context) ([]mcp.Tool, error) { return f.tools, nil }

func (f *fakeSession) ListPrompts(context.Context) ([]mcp.Prompt, error) { return f.prompts, nil }

func (f *fakeSession) ListResources(context.Context) ([]mcp.Resource, error) {
	return f.resources, nil
}

func (f *fakeSession) CallTool(context.Context, string, map[string]any) (*mcp.CallToolResult, error) {
	return f.callResult, f.callErr
}

func (f *fakeSession) GetPrompt(context.Context, string, map[string]string) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{}, nil
}

func (f *fakeSession) ReadResource(context.Context, string) (*mcp.ReadResourceResult, error) {
	return &mcp.ReadResourceResult{}, nil
}

func (f *fakeSession) Close() error {
	f.closed.Add(1)
	return nil
}

func stdioConfig(id string) ServerConfig {
	return ServerConfig{
		ID:          id,
		Name:        id,
		Transport:   TransportStdio,
		Command:     "/usr/bin/true",
		Enabled:     true,
		AutoConnect: true,
	}
}

func TestConnectCachesCapabilities(t *testing.T) {
	sess := &fakeSession{
		info:  ServerInfo{Name: "files", Version: "1.2.0"},
		tools: []mcp.Tool{{Name: "search", Description: "search files"}},
	}
	m := newManager(func(context.Context, ServerConfig) (session, error) { return sess, nil })
	m.Register(stdioConfig("files"))

	require.NoError(t, m.Connect(context.Background(), "files"))

	state, ok := m.State("files")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, state.Status)
	assert.Equal(t, "files", state.Info.Name)
	assert.Len(t, state.Tools, 1)
	assert.False(t, state.LastConnected.IsZero())
}

func TestConnectFailureEntersErrorState(t *testing.T) {
	m := newManager(func(context.Context, ServerConfig) (session, error) {
		return nil, fmt.Errorf("spawn: no such file")
	})
	m.Register(stdioConfig("broken"))

	err := m.Connect(context.Background(), "broken")
	require.Error(t, err)

	state, _ := m.State("broken")
	assert.Equal(t, StatusError, state.Status)
	assert.Contains(t, state.Err, "spawn")
	assert.Empty(t, state.Tools)
	assert.Empty(t, state.Prompts)
	assert.Empty(t, state.Resources)
}

func TestConnectPassesThroughConnecting(t *testing.T) {
	m := newManager(nil)
	var observed Status
	m.dial = func(context.Context, ServerConfig) (session, error) {
		state, _ := m.State("s")
		observed = state.Status
		return &fakeSession{}, nil
	}
	m.Register(stdioConfig("s"))

	require.NoError(t, m.Connect(context.Background(), "s"))
	assert.Equal(t, StatusConnecting, observed)
}

func TestConcurrentConnectsCoalesce(t *testing.T) {
	var dials atomic.Int32
	release := make(chan struct{})
	m := newManager(func(ctx context.Context, _ ServerConfig) (session, error) {
		dials.Add(1)
		<-release
		return &fakeSession{}, nil
	})
	m.Register(stdioConfig("slow"))

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = m.Connect(context.Background(), "slow")
		}()
	}

	// Give every goroutine time to reach the coalescing gate.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), dials.Load())
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestConnectUnknownServer(t *testing.T) {
	m := newManager(nil)
	err := m.Connect(context.Background(), "ghost")
	require.Error(t, err)
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.CodeServerUnknown, appErr.Code)
}

func TestDisconnectClearsCaches(t *testing.T) {
	sess := &fakeSession{tools: []mcp.Tool{{Name: "x"}}}
	m := newManager(func(context.Context, ServerConfig) (session, error) { return sess, nil })
	m.Register(stdioConfig("s"))
	require.NoError(t, m.Connect(context.Background(), "s"))

	require.NoError(t, m.Disconnect("s"))

	state, _ := m.State("s")
	assert.Equal(t, StatusDisconnected, state.Status)
	assert.Empty(t, state.Tools)
	assert.Equal(t, int32(1), sess.closed.Load())
}

func TestReconnectFromError(t *testing.T) {
	attempts := 0
	m := newManager(func(context.Context, ServerConfig) (session, error) {
		attempts++
		if attempts == 1 {
			return nil, fmt.Errorf("first attempt fails")
		}
		return &fakeSession{}, nil
	})
	m.Register(stdioConfig("flaky"))

	require.Error(t, m.Connect(context.Background(), "flaky"))
	require.NoError(t, m.Reconnect(context.Background(), "flaky"))

	state, _ := m.State("flaky")
	assert.Equal(t, StatusConnected, state.Status)
}

func TestCallToolRequiresConnected(t *testing.T) {
	m := newManager(nil)
	m.Register(stdioConfig("idle"))

	_, _, err := m.CallTool(context.Background(), "idle", "search", nil)
	require.Error(t, err)
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.CodeServerNotConnected, appErr.Code)
	assert.Contains(t, appErr.Message, "disconnected")
}

func TestCallToolFlattensContent(t *testing.T) {
	sess := &fakeSession{callResult: &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "line one"},
			mcp.ImageContent{Type: "image", MIMEType: "image/png"},
			mcp.TextContent{Type: "text", Text: "line two"},
		},
	}}
	m := newManager(func(context.Context, ServerConfig) (session, error) { return sess, nil })
	m.Register(stdioConfig("s"))
	require.NoError(t, m.Connect(context.Background(), "s"))

	out, isErr, err := m.CallTool(context.Background(), "s", "render", nil)
	require.NoError(t, err)
	assert.False(t, isErr)
	assert.Equal(t, "line one\n[image: image/png]\nline two", out)
}

func TestCallToolRemoteErrorFlag(t *testing.T) {
	sess := &fakeSession{callResult: &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "no such path"}},
	}}
	m := newManager(func(context.Context, ServerConfig) (session, error) { return sess, nil })
	m.Register(stdioConfig("s"))
	require.NoError(t, m.Connect(context.Background(), "s"))

	out, isErr, err := m.CallTool(context.Background(), "s", "read", nil)
	require.NoError(t, err)
	assert.True(t, isErr)
	assert.Equal(t, "no such path", out)
}

func TestCallToolTransportFailureMarksError(t *testing.T) {
	sess := &fakeSession{callErr: fmt.Errorf("pipe closed")}
	m := newManager(func(context.Context, ServerConfig) (session, error) { return sess, nil })
	m.Register(stdioConfig("s"))
	require.NoError(t, m.Connect(context.Background(), "s"))

	_, _, err := m.CallTool(context.Background(), "s", "x", nil)
	require.Error(t, err)

	state, _ := m.State("s")
	assert.Equal(t, StatusError, state.Status)
	assert.Empty(t, state.Tools)
}

func TestUpdateConfigReconciles(t *testing.T) {
	sessions := map[string]*fakeSession{
		"keep": {},
		"old":  {},
		"new":  {},
	}
	var dials sync.Map
	m := newManager(func(_ context.Context, cfg ServerConfig) (session, error) {
		count, _ := dials.LoadOrStore(cfg.ID, new(atomic.Int32))
		count.(*atomic.Int32).Add(1)
		return sessions[cfg.ID], nil
	})
	m.Register(stdioConfig("keep"))
	m.Register(stdioConfig("old"))
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx, "keep"))
	require.NoError(t, m.Connect(ctx, "old"))

	m.UpdateConfig(ctx, []ServerConfig{stdioConfig("keep"), stdioConfig("new")})

	// Removed server is dropped and its session closed.
	_, ok := m.State("old")
	assert.False(t, ok)
	assert.Equal(t, int32(1), sessions["old"].closed.Load())

	// New autoConnect server is connected.
	state, ok := m.State("new")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, state.Status)

	// Unchanged server was not re-dialed.
	keepDials, _ := dials.Load("keep")
	assert.Equal(t, int32(1), keepDials.(*atomic.Int32).Load())
}

func TestToolDefinitionsUseSyntheticNames(t *testing.T) {
	sess := &fakeSession{tools: []mcp.Tool{{
		Name:        "search",
		Description: "search the index",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"query": map[string]any{"type": "string"}},
			Required:   []string{"query"},
		},
	}}}
	m := newManager(func(context.Context, ServerConfig) (session, error) { return sess, nil })
	m.Register(stdioConfig("files"))
	require.NoError(t, m.Connect(context.Background(), "files"))

	defs := m.ToolDefinitions("mcp_")
	require.Len(t, defs, 1)
	assert.Equal(t, "mcp_files_search", defs[0].Name)
	assert.Equal(t, []string{"query"}, defs[0].Parameters.Required)
}

func TestParseToolName(t *testing.T) {
	server, tool, ok := ParseToolName("mcp_", "mcp_files_search_index")
	require.True(t, ok)
	assert.Equal(t, "files", server)
	assert.Equal(t, "search_index", tool)

	_, _, ok = ParseToolName("mcp_", "read_file")
	assert.False(t, ok)
}
