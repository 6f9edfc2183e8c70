package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/aurelia-labs/voicebridge/internal/config"
	"github.com/aurelia-labs/voicebridge/internal/observability"
	"github.com/aurelia-labs/voicebridge/internal/resilience"
)

// rpcSession is the slice of the MCP client session the gateway uses.
// *mcp.ClientSession satisfies it; tests substitute a fake.
type rpcSession interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
}

// Gateway owns the connection to the remote tool-execution server. Its
// Invoke operation never returns an error: all failures (network, remote
// error, malformed response) are captured as failure-shaped results. The
// orchestrator depends on always having a result to forward upstream.
type Gateway struct {
	endpoint      string
	invokeTimeout time.Duration
	logger        zerolog.Logger
	breaker       *resilience.CircuitBreaker
	reconnector   *resilience.Reconnector

	// dial is swapped out in tests
	dial func(ctx context.Context) (rpcSession, error)

	session rpcSession
}

// NewGateway creates a gateway for the configured MCP server
func NewGateway(cfg *config.Config, logger zerolog.Logger) *Gateway {
	breaker := resilience.NewCircuitBreaker("tool-server",
		cfg.BreakerMaxFailures,
		time.Duration(cfg.BreakerResetTimeout)*time.Second)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateBreakerState(name, int(state))
	})

	g := &Gateway{
		endpoint:      cfg.MCPServerURL,
		invokeTimeout: time.Duration(cfg.ToolInvokeTimeout) * time.Second,
		logger:        logger.With().Str("component", "tool-gateway").Logger(),
		breaker:       breaker,
		reconnector: resilience.NewReconnector(&resilience.ReconnectConfig{
			MaxAttempts: cfg.ToolConnectMaxAttempts,
			Backoff:     time.Duration(cfg.ToolConnectBackoff) * time.Millisecond,
			Multiplier:  1.0,
			MaxBackoff:  time.Duration(cfg.ToolConnectBackoff) * time.Millisecond,
		}),
	}
	g.dial = g.dialMCP
	return g
}

func (g *Gateway) dialMCP(ctx context.Context) (rpcSession, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "voicebridge", Version: "1.0.0"}, nil)

	transport, err := buildTransport(g.endpoint)
	if err != nil {
		return nil, err
	}
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// buildTransport selects the MCP transport from the endpoint URL.
// An sse:// scheme forces the legacy SSE transport; plain http(s) uses
// streamable HTTP.
func buildTransport(endpoint string) (mcp.Transport, error) {
	lowered := strings.ToLower(strings.TrimSpace(endpoint))
	switch {
	case strings.HasPrefix(lowered, "sse://"):
		return &mcp.SSEClientTransport{Endpoint: "http://" + endpoint[len("sse://"):]}, nil
	case strings.HasPrefix(lowered, "http://"), strings.HasPrefix(lowered, "https://"):
		return &mcp.StreamableClientTransport{Endpoint: endpoint}, nil
	default:
		return nil, fmt.Errorf("unsupported tool server endpoint %q", endpoint)
	}
}

// Connect establishes the tool server connection with bounded
// fixed-backoff retries. Once attempts are exhausted the returned
// ConnectionError is persistent: no further automatic retries happen
// until Connect is explicitly called again.
func (g *Gateway) Connect(ctx context.Context) error {
	if g.session != nil {
		return nil
	}

	// Connect is the explicit re-trigger: an attempt budget exhausted by
	// an earlier round is restored here, never automatically.
	if g.reconnector.Exhausted() {
		g.reconnector.Reset()
	}

	var session rpcSession
	err := g.reconnector.Run(ctx, func() error {
		s, err := g.dial(ctx)
		if err != nil {
			g.logger.Warn().Err(err).Str("endpoint", g.endpoint).Msg("Tool server connect attempt failed")
			observability.RecordReconnectAttempt("tool-server")
			return err
		}
		session = s
		return nil
	})

	if err != nil {
		return &ConnectionError{Endpoint: g.endpoint, Err: err}
	}

	g.session = session
	g.logger.Info().Str("endpoint", g.endpoint).Msg("Connected to tool server")
	return nil
}

// Connected reports whether a session is established
func (g *Gateway) Connected() bool {
	return g.session != nil
}

// DiscoverTools fetches the tool list. It fails with a ConnectionError if
// the server is unreachable, returns an empty list (not an error) when
// the server reports zero tools, and drops malformed entries instead of
// failing the whole discovery.
func (g *Gateway) DiscoverTools(ctx context.Context) ([]ToolDescriptor, error) {
	if g.session == nil {
		return nil, &ConnectionError{Endpoint: g.endpoint, Err: fmt.Errorf("not connected")}
	}

	res, err := g.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, &ConnectionError{Endpoint: g.endpoint, Err: err}
	}

	descriptors := make([]ToolDescriptor, 0, len(res.Tools))
	for _, tool := range res.Tools {
		desc, ok := toDescriptor(tool)
		if !ok {
			g.logger.Warn().Interface("tool", tool).Msg("Dropping malformed tool entry")
			continue
		}
		descriptors = append(descriptors, desc)
	}

	g.logger.Info().Int("count", len(descriptors)).Msg("Discovered tools")
	return descriptors, nil
}

func toDescriptor(tool *mcp.Tool) (ToolDescriptor, bool) {
	if tool == nil || strings.TrimSpace(tool.Name) == "" {
		return ToolDescriptor{}, false
	}

	desc := ToolDescriptor{
		Name:        tool.Name,
		Description: tool.Description,
	}

	if tool.InputSchema != nil {
		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return ToolDescriptor{}, false
		}
		var schema map[string]any
		if err := json.Unmarshal(raw, &schema); err != nil {
			return ToolDescriptor{}, false
		}
		desc.InputSchema = schema
	}

	return desc, true
}

// Invoke executes one tool call. It always resolves: every failure mode
// is folded into a failure-shaped InvocationResult so the caller always
// has something to forward upstream.
func (g *Gateway) Invoke(ctx context.Context, req InvocationRequest) InvocationResult {
	if g.session == nil {
		return NewFailure(req.ID, req.Name, "tool server not connected", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, g.invokeTimeout)
	defer cancel()

	var res *mcp.CallToolResult
	err := g.breaker.Call(func() error {
		var callErr error
		res, callErr = g.session.CallTool(ctx, &mcp.CallToolParams{
			Name:      req.Name,
			Arguments: req.Arguments,
		})
		return callErr
	})
	if err != nil {
		g.logger.Warn().Err(err).Str("tool", req.Name).Str("call_id", req.ID).Msg("Tool invocation failed")
		return NewFailure(req.ID, req.Name, fmt.Sprintf("tool %q failed", req.Name), err)
	}

	return resultFrom(req, res)
}

// resultFrom normalizes an MCP call result into the uniform shape
func resultFrom(req InvocationRequest, res *mcp.CallToolResult) InvocationResult {
	if res == nil {
		return NewFailure(req.ID, req.Name, fmt.Sprintf("tool %q returned no response", req.Name), nil)
	}

	text := contentText(res.Content)

	if res.IsError {
		msg := text
		if msg == "" {
			msg = fmt.Sprintf("tool %q reported an error", req.Name)
		}
		return NewFailure(req.ID, req.Name, msg, nil)
	}

	payload := parsePayload(text)
	return NewSuccess(req.ID, req.Name, payload)
}

func contentText(content []mcp.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// parsePayload interprets the textual tool output as structured data
// where possible. JSON objects come back as-is, JSON arrays are wrapped
// under "items", anything else is kept as raw text.
func parsePayload(text string) map[string]any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return map[string]any{}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
		return obj
	}

	var arr []any
	if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
		return map[string]any{"items": arr}
	}

	return map[string]any{"text": trimmed}
}

// Close tears down the tool server session
func (g *Gateway) Close() error {
	if g.session == nil {
		return nil
	}
	err := g.session.Close()
	g.session = nil
	return err
}
