package capability

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"goa.design/clue/log"
	"golang.org/x/sync/errgroup"

	"github.com/praxis-ai/praxis/internal/errors"
	"github.com/praxis-ai/praxis/pkg/protocol"
)

// Manager owns the process-wide set of capability server states. It is
// constructed explicitly and passed by reference; nothing else mutates
// server state.
type Manager struct {
	dial dialer

	mu      sync.Mutex
	servers map[string]*serverEntry
}

// serverEntry is the live state behind one configured server. The entry
// mutex guards every field; the session is only used outside the lock.
type serverEntry struct {
	mu sync.Mutex

	config        ServerConfig
	status        Status
	sess          session
	info          ServerInfo
	tools         []mcp.Tool
	prompts       []mcp.Prompt
	resources     []mcp.Resource
	lastConnected time.Time
	lastErr       string

	// inflight is non-nil while a connect attempt runs. Concurrent
	// connects wait on it instead of dialing again.
	inflight   chan struct{}
	connectErr error
}

// NewManager builds a manager using the real MCP dialer.
func NewManager() *Manager {
	return newManager(dialMCP)
}

func newManager(dial dialer) *Manager {
	return &Manager{dial: dial, servers: make(map[string]*serverEntry)}
}

// ============================================================
// Registration and Reconciliation
// ============================================================

// Register adds a server in the disconnected state. Replaces any existing
// entry with the same id.
func (m *Manager) Register(cfg ServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers[cfg.ID] = &serverEntry{config: cfg, status: StatusDisconnected}
}

// UpdateConfig reconciles the live server set against a new config:
// removed servers are disconnected and dropped, new servers are
// registered (and connected when autoConnect is set), changed servers
// are torn down and rebuilt, unchanged servers are left alone.
func (m *Manager) UpdateConfig(ctx context.Context, configs []ServerConfig) {
	next := make(map[string]ServerConfig, len(configs))
	for _, cfg := range configs {
		next[cfg.ID] = cfg
	}

	var toConnect []string

	m.mu.Lock()
	for id, entry := range m.servers {
		cfg, keep := next[id]
		if keep && reflect.DeepEqual(cfg, m.configOf(entry)) {
			delete(next, id)
			continue
		}
		m.teardown(entry)
		delete(m.servers, id)
		if !keep {
			log.Printf(ctx, "capability: server %s removed from config", id)
		}
	}
	for id, cfg := range next {
		m.servers[id] = &serverEntry{config: cfg, status: StatusDisconnected}
		if cfg.Enabled && cfg.AutoConnect {
			toConnect = append(toConnect, id)
		}
	}
	m.mu.Unlock()

	// Connect attempts run in parallel; failures land in server state,
	// never abort reconciliation.
	var g errgroup.Group
	for _, id := range toConnect {
		g.Go(func() error {
			if err := m.Connect(ctx, id); err != nil {
				log.Errorf(ctx, err, "capability: auto-connect %s failed", id)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) configOf(entry *serverEntry) ServerConfig {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.config
}

func (m *Manager) teardown(entry *serverEntry) {
	entry.mu.Lock()
	sess := entry.sess
	entry.sess = nil
	entry.status = StatusDisconnected
	entry.clearCachesLocked()
	entry.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}

// Close disconnects every server. Used at process shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	entries := make([]*serverEntry, 0, len(m.servers))
	for _, e := range m.servers {
		entries = append(entries, e)
	}
	m.mu.Unlock()
	for _, e := range entries {
		m.teardown(e)
	}
}

// ============================================================
// State Machine
// ============================================================

// Connect drives disconnected/error to connected. Concurrent calls for
// the same server coalesce onto one attempt; every waiter observes the
// attempt's outcome.
func (m *Manager) Connect(ctx context.Context, id string) error {
	entry := m.lookup(id)
	if entry == nil {
		return errors.Permanent(errors.CodeServerUnknown, fmt.Sprintf("capability server %q is not configured", id))
	}

	entry.mu.Lock()
	if entry.status == StatusConnected {
		entry.mu.Unlock()
		return nil
	}
	if ch := entry.inflight; ch != nil {
		entry.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		entry.mu.Lock()
		err := entry.connectErr
		entry.mu.Unlock()
		return err
	}
	if !entry.config.Enabled {
		entry.mu.Unlock()
		return errors.Permanent(errors.CodeServerConnect, fmt.Sprintf("capability server %q is disabled", id))
	}

	ch := make(chan struct{})
	entry.inflight = ch
	entry.status = StatusConnecting
	entry.lastErr = ""
	cfg := entry.config
	entry.mu.Unlock()

	sess, info, tools, prompts, resources, err := m.establish(ctx, cfg)

	entry.mu.Lock()
	defer func() {
		entry.inflight = nil
		entry.mu.Unlock()
		close(ch)
	}()

	if err != nil {
		wrapped := errors.Wrap(err, errors.CodeServerConnect,
			fmt.Sprintf("connect to capability server %q failed", id), errors.CategoryTemporary)
		entry.status = StatusError
		entry.lastErr = wrapped.Error()
		entry.connectErr = wrapped
		return wrapped
	}

	entry.sess = sess
	entry.status = StatusConnected
	entry.info = info
	entry.tools = tools
	entry.prompts = prompts
	entry.resources = resources
	entry.lastConnected = time.Now()
	entry.connectErr = nil
	log.Printf(ctx, "capability: connected to %s (%s %s): %d tools, %d prompts, %d resources",
		id, info.Name, info.Version, len(tools), len(prompts), len(resources))
	return nil
}

// establish dials the server and pulls its capability lists. The three
// list calls run in parallel on the fresh session.
func (m *Manager) establish(ctx context.Context, cfg ServerConfig) (session, ServerInfo, []mcp.Tool, []mcp.Prompt, []mcp.Resource, error) {
	sess, err := m.dial(ctx, cfg)
	if err != nil {
		return nil, ServerInfo{}, nil, nil, nil, err
	}

	var (
		tools     []mcp.Tool
		prompts   []mcp.Prompt
		resources []mcp.Resource
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tools, err = sess.ListTools(gctx)
		return err
	})
	g.Go(func() error {
		// Prompt and resource support is optional; a method-not-found
		// style refusal leaves the list empty.
		if p, err := sess.ListPrompts(gctx); err == nil {
			prompts = p
		}
		return nil
	})
	g.Go(func() error {
		if r, err := sess.ListResources(gctx); err == nil {
			resources = r
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		_ = sess.Close()
		return nil, ServerInfo{}, nil, nil, nil, err
	}
	return sess, sess.Info(), tools, prompts, resources, nil
}

// Disconnect moves the server to disconnected and drops cached lists.
func (m *Manager) Disconnect(id string) error {
	entry := m.lookup(id)
	if entry == nil {
		return errors.Permanent(errors.CodeServerUnknown, fmt.Sprintf("capability server %q is not configured", id))
	}
	m.teardown(entry)
	return nil
}

// Reconnect tears the connection down and dials again. Stale caches are
// cleared before the new attempt so a failed reconnect never reports
// capabilities from the dead connection.
func (m *Manager) Reconnect(ctx context.Context, id string) error {
	if err := m.Disconnect(id); err != nil {
		return err
	}
	return m.Connect(ctx, id)
}

func (m *Manager) lookup(id string) *serverEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.servers[id]
}

func (e *serverEntry) clearCachesLocked() {
	e.info = ServerInfo{}
	e.tools = nil
	e.prompts = nil
	e.resources = nil
	e.lastErr = ""
}

// markFailed records an unexpected failure on a connected server.
func (m *Manager) markFailed(entry *serverEntry, err error) {
	entry.mu.Lock()
	sess := entry.sess
	entry.sess = nil
	entry.status = StatusError
	entry.clearCachesLocked()
	entry.lastErr = err.Error()
	entry.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}

// ============================================================
// Snapshots
// ============================================================

// State returns a snapshot of one server.
func (m *Manager) State(id string) (ServerState, bool) {
	entry := m.lookup(id)
	if entry == nil {
		return ServerState{}, false
	}
	return entry.snapshot(), true
}

// States returns snapshots of every server, ordered by id.
func (m *Manager) States() []ServerState {
	m.mu.Lock()
	ids := make([]string, 0, len(m.servers))
	for id := range m.servers {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	out := make([]ServerState, 0, len(ids))
	for _, id := range ids {
		if entry := m.lookup(id); entry != nil {
			out = append(out, entry.snapshot())
		}
	}
	return out
}

func (e *serverEntry) snapshot() ServerState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ServerState{
		Config:        e.config,
		Status:        e.status,
		Info:          e.info,
		Tools:         append([]mcp.Tool(nil), e.tools...),
		Prompts:       append([]mcp.Prompt(nil), e.prompts...),
		Resources:     append([]mcp.Resource(nil), e.resources...),
		LastConnected: e.lastConnected,
		Err:           e.lastErr,
	}
}

// ============================================================
// Remote Operations
// ============================================================

// connectedSession returns the live session or a typed error naming the
// server and its current status. No auto-connect here: callers must not
// queue behind connection repair.
func (m *Manager) connectedSession(id string) (*serverEntry, session, error) {
	entry := m.lookup(id)
	if entry == nil {
		return nil, nil, errors.Permanent(errors.CodeServerUnknown,
			fmt.Sprintf("capability server %q is not configured", id))
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.status != StatusConnected || entry.sess == nil {
		return nil, nil, errors.Permanent(errors.CodeServerNotConnected,
			fmt.Sprintf("capability server %q is %s, not connected", id, entry.status))
	}
	return entry, entry.sess, nil
}

// CallTool invokes a remote tool. Returns the flattened output and
// whether the server flagged the result as an error.
func (m *Manager) CallTool(ctx context.Context, serverID, tool string, args map[string]any) (string, bool, error) {
	entry, sess, err := m.connectedSession(serverID)
	if err != nil {
		return "", false, err
	}
	result, err := sess.CallTool(ctx, tool, args)
	if err != nil {
		if ctx.Err() == nil {
			m.markFailed(entry, err)
		}
		return "", false, errors.Wrap(err, errors.CodeServerCall,
			fmt.Sprintf("call %s on capability server %q failed", tool, serverID), errors.CategoryTemporary)
	}
	return flattenContent(result.Content), result.IsError, nil
}

// GetPrompt fetches a prompt's rendered messages.
func (m *Manager) GetPrompt(ctx context.Context, serverID, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	entry, sess, err := m.connectedSession(serverID)
	if err != nil {
		return nil, err
	}
	result, err := sess.GetPrompt(ctx, name, args)
	if err != nil {
		if ctx.Err() == nil {
			m.markFailed(entry, err)
		}
		return nil, errors.Wrap(err, errors.CodeServerCall,
			fmt.Sprintf("get prompt %s on capability server %q failed", name, serverID), errors.CategoryTemporary)
	}
	return result, nil
}

// ReadResource reads a resource by URI.
func (m *Manager) ReadResource(ctx context.Context, serverID, uri string) (*mcp.ReadResourceResult, error) {
	entry, sess, err := m.connectedSession(serverID)
	if err != nil {
		return nil, err
	}
	result, err := sess.ReadResource(ctx, uri)
	if err != nil {
		if ctx.Err() == nil {
			m.markFailed(entry, err)
		}
		return nil, errors.Wrap(err, errors.CodeServerCall,
			fmt.Sprintf("read resource %s on capability server %q failed", uri, serverID), errors.CategoryTemporary)
	}
	return result, nil
}

// ============================================================
// Tool Surface
// ============================================================

// ToolDefinitions exposes every connected server's tools under synthetic
// names: <prefix><serverId>_<toolName>.
func (m *Manager) ToolDefinitions(prefix string) []protocol.ToolDefinition {
	var out []protocol.ToolDefinition
	for _, state := range m.States() {
		if state.Status != StatusConnected {
			continue
		}
		for _, tool := range state.Tools {
			params := protocol.ToolParameters{
				Type:       tool.InputSchema.Type,
				Properties: tool.InputSchema.Properties,
				Required:   tool.InputSchema.Required,
			}
			if params.Type == "" {
				params.Type = "object"
			}
			out = append(out, protocol.ToolDefinition{
				Name:        prefix + state.Config.ID + "_" + tool.Name,
				Description: tool.Description,
				Parameters:  params,
			})
		}
	}
	return out
}

// ParseToolName splits a synthetic capability tool name into server id
// and remote tool name. Server ids never contain underscores, so the
// first underscore after the prefix is the separator.
func ParseToolName(prefix, full string) (serverID, tool string, ok bool) {
	rest, found := strings.CutPrefix(full, prefix)
	if !found {
		return "", "", false
	}
	return strings.Cut(rest, "_")
}
