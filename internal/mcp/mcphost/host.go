// Package mcphost connects to MCP servers and offers their tools to the agent
// as the dynamic origin of the tool namespace.
//
// It uses the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk)
// over stdio or streamable-HTTP transports. The host itself is a
// [tool.Source]: every registry rebuild asks it for the tools of all servers
// that are connected at that moment.
//
// Typical usage:
//
//	h := mcphost.New()
//	defer h.Close()
//
//	h.ConnectAll(ctx, cfg.MCP.Servers) // failures are logged and skipped
//
//	reg := tool.NewRegistry()
//	reg.Build(ctx, automation.Source(tab), shortcut.Source(store), challenge.Source(solver), h)
package mcphost

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pagepilot/internal/mcp"
	"github.com/MrWong99/pagepilot/internal/tool"
	"github.com/MrWong99/pagepilot/pkg/types"
)

// serverConn is a live session with one server and the tools it listed at
// connect time.
type serverConn struct {
	cfg     mcp.ServerConfig
	session *mcpsdk.ClientSession
	tools   []*mcpsdk.Tool
	stats   map[string]*rollingWindow
}

// Host owns the MCP client sessions. It is safe for concurrent use.
//
// The zero value is NOT usable; create instances with [New].
type Host struct {
	mu      sync.RWMutex
	servers map[string]*serverConn

	// client is shared by all sessions.
	client      *mcpsdk.Client
	callTimeout time.Duration
}

var _ tool.Source = (*Host)(nil)

// Option configures a [Host].
type Option func(*Host)

// WithCallTimeout bounds every tool call. Zero means no bound beyond the
// caller's context.
func WithCallTimeout(d time.Duration) Option {
	return func(h *Host) { h.callTimeout = d }
}

// New returns a host with no servers.
func New(opts ...Option) *Host {
	h := &Host{
		servers: make(map[string]*serverConn),
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "pagepilot", Version: "1.0.0"},
			nil,
		),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// RegisterServer connects to the server described by cfg and lists its tools.
// A server already registered under the same name is replaced.
func (h *Host) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("mcp host: %w", err)
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case mcp.TransportStdio:
		executable, args := splitCommand(cfg.Command)
		// The process outlives ctx; Close terminates it.
		cmd := exec.Command(executable, args...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for _, k := range slices.Sorted(maps.Keys(cfg.Env)) {
				cmd.Env = append(cmd.Env, k+"="+cfg.Env[k])
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case mcp.TransportStreamableHTTP:
		st := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
		if len(cfg.Headers) > 0 {
			st.HTTPClient = &http.Client{Transport: &headerTransport{base: http.DefaultTransport, headers: cfg.Headers}}
		}
		transport = st
	}

	return h.connect(ctx, cfg, transport)
}

// Connect attaches an already constructed transport under name. It is the
// entry point for in-process servers.
func (h *Host) Connect(ctx context.Context, name string, transport mcpsdk.Transport) error {
	if name == "" {
		return errors.New("mcp host: server name must not be empty")
	}
	return h.connect(ctx, mcp.ServerConfig{Name: name}, transport)
}

func (h *Host) connect(ctx context.Context, cfg mcp.ServerConfig, transport mcpsdk.Transport) error {
	session, err := h.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("mcp host: connect to server %q: %w", cfg.Name, err)
	}

	conn := &serverConn{cfg: cfg, session: session, stats: make(map[string]*rollingWindow)}
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return fmt.Errorf("mcp host: list tools of server %q: %w", cfg.Name, err)
		}
		conn.tools = append(conn.tools, t)
		conn.stats[t.Name] = newRollingWindow(defaultWindowSize)
	}

	h.mu.Lock()
	old := h.servers[cfg.Name]
	h.servers[cfg.Name] = conn
	h.mu.Unlock()

	if old != nil {
		_ = old.session.Close()
	}
	slog.Info("mcp server connected", "server", cfg.Name, "tools", len(conn.tools))
	return nil
}

// ConnectAll registers every server concurrently. A server that fails to
// connect is logged and skipped. It returns the number of servers connected.
func (h *Host) ConnectAll(ctx context.Context, cfgs []mcp.ServerConfig) int {
	var (
		g         errgroup.Group
		connected atomic.Int32
	)
	for _, cfg := range cfgs {
		g.Go(func() error {
			if err := h.RegisterServer(ctx, cfg); err != nil {
				slog.Warn("mcp server unavailable, skipping", "server", cfg.Name, "err", err)
				return nil
			}
			connected.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(connected.Load())
}

// Sync makes the connected set match cfgs: servers that are gone or whose
// configuration changed are disconnected, and new or changed ones are
// connected. Unchanged servers keep their session.
func (h *Host) Sync(ctx context.Context, cfgs []mcp.ServerConfig) {
	want := make(map[string]mcp.ServerConfig, len(cfgs))
	for _, c := range cfgs {
		want[c.Name] = c
	}

	var stale []*serverConn
	var pending []mcp.ServerConfig
	h.mu.Lock()
	for name, conn := range h.servers {
		c, keep := want[name]
		if !keep || !sameConfig(conn.cfg, c) {
			stale = append(stale, conn)
			delete(h.servers, name)
		}
	}
	for name, c := range want {
		if _, ok := h.servers[name]; !ok {
			pending = append(pending, c)
		}
	}
	h.mu.Unlock()

	for _, conn := range stale {
		slog.Info("mcp server disconnected", "server", conn.cfg.Name)
		_ = conn.session.Close()
	}
	if len(pending) > 0 {
		h.ConnectAll(ctx, pending)
	}
}

// Servers returns the names of the connected servers, sorted.
func (h *Host) Servers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.servers))
}

// Origin implements [tool.Source].
func (h *Host) Origin() tool.Origin { return tool.OriginDynamic }

// Descriptors implements [tool.Source]. Tools are ordered by server name and
// then tool name; when two servers expose the same name the later server
// wins in the registry.
func (h *Host) Descriptors(context.Context) ([]tool.Descriptor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []tool.Descriptor
	for _, name := range slices.Sorted(maps.Keys(h.servers)) {
		conn := h.servers[name]
		tools := slices.Clone(conn.tools)
		slices.SortFunc(tools, func(a, b *mcpsdk.Tool) int { return cmp.Compare(a.Name, b.Name) })
		for _, t := range tools {
			server, toolName := name, t.Name
			out = append(out, tool.Descriptor{
				Definition: types.ToolDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  schemaToMap(t.InputSchema),
				},
				Origin: tool.OriginDynamic,
				Handler: func(ctx context.Context, args string) (string, error) {
					return h.call(ctx, server, toolName, args)
				},
			})
		}
	}
	return out, nil
}

// call runs one tool on its owning server. The text content of the result is
// concatenated; a result flagged IsError becomes an error.
func (h *Host) call(ctx context.Context, server, name, args string) (string, error) {
	h.mu.RLock()
	conn, ok := h.servers[server]
	h.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("mcp server %q is not connected", server)
	}

	var argsMap map[string]any
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &argsMap); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	if h.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.callTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := conn.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: name, Arguments: argsMap})
	if w := conn.stats[name]; w != nil {
		w.Record(time.Since(start).Milliseconds(), err != nil || (res != nil && res.IsError))
	}
	if err != nil {
		return "", fmt.Errorf("mcp: call %q on server %q: %w", name, server, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		msg := sb.String()
		if msg == "" {
			msg = fmt.Sprintf("tool %q reported an error", name)
		}
		return "", errors.New(msg)
	}
	return sb.String(), nil
}

// Stats returns per-tool call statistics, sorted by server and tool name.
func (h *Host) Stats() []mcp.ToolStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []mcp.ToolStats
	for _, server := range slices.Sorted(maps.Keys(h.servers)) {
		conn := h.servers[server]
		for _, name := range slices.Sorted(maps.Keys(conn.stats)) {
			calls, p50, p99, rate := conn.stats[name].Snapshot()
			out = append(out, mcp.ToolStats{
				Name: name, Server: server, Calls: calls, P50Ms: p50, P99Ms: p99, ErrorRate: rate,
			})
		}
	}
	return out
}

// Close disconnects every server. The host may be reused afterwards.
func (h *Host) Close() error {
	h.mu.Lock()
	servers := h.servers
	h.servers = make(map[string]*serverConn)
	h.mu.Unlock()

	var errs []error
	for name, conn := range servers {
		if err := conn.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp host: close server %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// schemaToMap converts any schema value to a map[string]any.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// splitCommand splits a command string into executable and arguments.
// e.g. "/bin/foo --bar baz" → ("/bin/foo", ["--bar", "baz"]).
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

func sameConfig(a, b mcp.ServerConfig) bool {
	return a.Name == b.Name &&
		a.Transport == b.Transport &&
		a.Command == b.Command &&
		a.URL == b.URL &&
		maps.Equal(a.Env, b.Env) &&
		maps.Equal(a.Headers, b.Headers)
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}
