// ABOUTME: Remote capability registry backed by MCP servers, with lazy singleton sessions per server.
// ABOUTME: Discovery filters to preferred tool names and degrades to an empty set when a server is unreachable.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Capability is one invocable remote tool.
type Capability interface {
	Name() string
	Description() string
	// Invoke calls the tool and returns its text output.
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// ServerConfig describes one MCP server.
type ServerConfig struct {
	// Name identifies the server in logs and lookups.
	Name string `yaml:"name"`
	// URL is the streamable HTTP endpoint.
	URL string `yaml:"url"`
	// Preferred limits discovery to these tool names when any of them exist;
	// when none match, every advertised tool is exposed.
	Preferred []string `yaml:"preferred"`
	// Timeout bounds connect and invoke calls. Zero means 30 seconds.
	Timeout time.Duration `yaml:"timeout"`
}

func (sc ServerConfig) timeout() time.Duration {
	if sc.Timeout > 0 {
		return sc.Timeout
	}
	return 30 * time.Second
}

// Registry maintains one lazily-opened session per configured server.
// Sessions are opened on first use and reused until Close.
type Registry struct {
	servers []ServerConfig
	logger  *slog.Logger

	// dial opens a session for a server. Overridable in tests.
	dial func(ctx context.Context, sc ServerConfig) (*mcp.ClientSession, error)

	mu       sync.Mutex
	sessions map[string]*mcp.ClientSession
}

// NewRegistry creates a registry over the configured servers.
func NewRegistry(servers []ServerConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		servers:  servers,
		logger:   logger,
		sessions: make(map[string]*mcp.ClientSession),
	}
	r.dial = r.dialStreamable
	return r
}

func (r *Registry) dialStreamable(ctx context.Context, sc ServerConfig) (*mcp.ClientSession, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "trendloom", Version: "1.0.0"}, nil)
	connectCtx, cancel := context.WithTimeout(ctx, sc.timeout())
	defer cancel()
	session, err := client.Connect(connectCtx, &mcp.StreamableClientTransport{Endpoint: sc.URL}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", sc.Name, err)
	}
	return session, nil
}

func (r *Registry) config(server string) (ServerConfig, bool) {
	for _, sc := range r.servers {
		if sc.Name == server {
			return sc, true
		}
	}
	return ServerConfig{}, false
}

// session returns the open session for a server, dialing on first use.
func (r *Registry) session(ctx context.Context, sc ServerConfig) (*mcp.ClientSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sc.Name]; ok {
		return s, nil
	}
	s, err := r.dial(ctx, sc)
	if err != nil {
		return nil, err
	}
	r.sessions[sc.Name] = s
	return s, nil
}

// Discover lists the capabilities of one server. An unreachable server yields
// an empty set, not an error: stages carry on without remote tools and report
// what they produced without them.
func (r *Registry) Discover(ctx context.Context, server string) []Capability {
	sc, ok := r.config(server)
	if !ok {
		r.logger.Warn("unknown tool server", "server", server)
		return nil
	}
	session, err := r.session(ctx, sc)
	if err != nil {
		r.logger.Warn("tool server unavailable, continuing without its capabilities",
			"server", server, "error", err)
		return nil
	}

	listCtx, cancel := context.WithTimeout(ctx, sc.timeout())
	defer cancel()
	res, err := session.ListTools(listCtx, &mcp.ListToolsParams{})
	if err != nil {
		r.logger.Warn("tool discovery failed, continuing without capabilities",
			"server", server, "error", err)
		return nil
	}

	all := make([]Capability, 0, len(res.Tools))
	var preferred []Capability
	for _, tool := range res.Tools {
		cap := &remoteCapability{
			registry: r,
			server:   sc,
			name:     tool.Name,
			desc:     tool.Description,
		}
		all = append(all, cap)
		if containsName(sc.Preferred, tool.Name) {
			preferred = append(preferred, cap)
		}
	}
	if len(preferred) > 0 {
		return preferred
	}
	return all
}

// Find returns one named capability from a server, or false when the server
// does not advertise it.
func (r *Registry) Find(ctx context.Context, server, tool string) (Capability, bool) {
	for _, cap := range r.Discover(ctx, server) {
		if cap.Name() == tool {
			return cap, true
		}
	}
	return nil, false
}

// Close closes every open session.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, s := range r.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %s: %w", name, err)
		}
		delete(r.sessions, name)
	}
	return firstErr
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// remoteCapability binds one advertised tool to its server session.
type remoteCapability struct {
	registry *Registry
	server   ServerConfig
	name     string
	desc     string
}

func (c *remoteCapability) Name() string        { return c.name }
func (c *remoteCapability) Description() string { return c.desc }

// Invoke calls the tool and concatenates the text content of its result.
func (c *remoteCapability) Invoke(ctx context.Context, args map[string]any) (string, error) {
	session, err := c.registry.session(ctx, c.server)
	if err != nil {
		return "", err
	}
	if args == nil {
		args = map[string]any{}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.server.timeout())
	defer cancel()
	res, err := session.CallTool(callCtx, &mcp.CallToolParams{Name: c.name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("call %s on %s: %w", c.name, c.server.Name, err)
	}

	var sb strings.Builder
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("tool %s reported an error: %s", c.name, sb.String())
	}
	return sb.String(), nil
}
