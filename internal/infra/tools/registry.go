package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"salesmcp/internal/domain"
	"salesmcp/internal/infra/telemetry"
)

// Registry maps tool names to definitions and validates input before
// calling handlers.
type Registry struct {
	logger  *zap.Logger
	metrics domain.Metrics
	mu      sync.RWMutex
	tools   map[string]*registeredTool
}

type registeredTool struct {
	def      domain.ToolDefinition
	resolved *jsonschema.Resolved
}

func NewRegistry(logger *zap.Logger, metrics domain.Metrics) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = domain.NoopMetrics{}
	}
	return &Registry{
		logger:  logger.Named("tool_registry"),
		metrics: metrics,
		tools:   make(map[string]*registeredTool),
	}
}

// Register adds a tool. A tool with the same name is replaced.
func (r *Registry) Register(def domain.ToolDefinition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return errors.New("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q: handler is required", name)
	}
	schema := def.InputSchema
	if schema == nil {
		schema = &jsonschema.Schema{Type: "object"}
	}
	if schema.Type != "object" {
		return fmt.Errorf("tool %q: input schema must have type \"object\"", name)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("tool %q: resolve input schema: %w", name, err)
	}
	def.Name = name
	def.InputSchema = schema

	r.mu.Lock()
	_, replaced := r.tools[name]
	r.tools[name] = &registeredTool{def: def, resolved: resolved}
	r.mu.Unlock()

	if replaced {
		r.logger.Debug("tool replaced", telemetry.ToolField(name))
	}
	return nil
}

func (r *Registry) Get(name string) (domain.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return domain.ToolDefinition{}, false
	}
	return tool.def, true
}

// List returns the registered definitions sorted by name.
func (r *Registry) List() []domain.ToolDefinition {
	r.mu.RLock()
	defs := make([]domain.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.def)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Invoke validates input against the tool's schema and runs its handler.
// Absent or null input is treated as an empty object.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) (domain.ToolResult, error) {
	start := time.Now()
	result, err := r.invoke(ctx, name, input)

	code := domain.ErrorCode("")
	if err != nil {
		code, _ = domain.CodeFrom(err)
		if code == "" {
			code = domain.CodeInternal
		}
	}
	r.metrics.ObserveToolCall(domain.ToolCallMetric{
		Tool:     name,
		Code:     code,
		Duration: time.Since(start),
	})
	return result, err
}

func (r *Registry) invoke(ctx context.Context, name string, input json.RawMessage) (domain.ToolResult, error) {
	const op = "tools.invoke"

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return domain.ToolResult{}, domain.E(domain.CodeNotFound, op, fmt.Sprintf("unknown tool %q", name), domain.ErrToolNotFound)
	}

	normalized, err := validateInput(tool.resolved, input)
	if err != nil {
		return domain.ToolResult{}, domain.E(domain.CodeInvalidArgument, op,
			fmt.Sprintf("invalid arguments for tool %q: %v", name, err), domain.ErrInvalidArguments)
	}
	if err := ctx.Err(); err != nil {
		return domain.ToolResult{}, domain.E(domain.CodeCanceled, op, "", err)
	}

	result, err := tool.def.Handler(ctx, normalized)
	if err != nil {
		return domain.ToolResult{}, domain.Wrap(domain.CodeInternal, op, err)
	}
	return result, nil
}

func validateInput(resolved *jsonschema.Resolved, input json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	var instance any
	if err := json.Unmarshal(trimmed, &instance); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	if _, ok := instance.(map[string]any); !ok {
		return nil, errors.New("arguments must be a JSON object")
	}
	if err := resolved.Validate(instance); err != nil {
		return nil, err
	}
	return json.RawMessage(trimmed), nil
}

// Bind adds every registered tool to an MCP server. Calls are routed back
// through Invoke.
func (r *Registry) Bind(server *mcp.Server) {
	for _, def := range r.List() {
		tool := &mcp.Tool{
			Name:        def.Name,
			Title:       def.Title,
			Description: def.Description,
			InputSchema: def.InputSchema,
		}
		if def.ReadOnly {
			tool.Annotations = &mcp.ToolAnnotations{
				Title:          def.Title,
				ReadOnlyHint:   true,
				IdempotentHint: true,
			}
		}
		server.AddTool(tool, r.mcpHandler(def.Name))
	}
}

func (r *Registry) mcpHandler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args json.RawMessage
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}
		logger := telemetry.LoggerWithRequest(ctx, r.logger)

		result, err := r.Invoke(ctx, name, args)
		if err != nil {
			code, _ := domain.CodeFrom(err)
			switch code {
			case domain.CodeInvalidArgument, domain.CodeNotFound:
				logger.Info("tool call rejected", telemetry.ToolField(name), zap.Error(err))
				return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
			default:
				logger.Warn("tool call failed", telemetry.ToolField(name), zap.Error(err))
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				}, nil
			}
		}
		return toCallToolResult(result)
	}
}

func toCallToolResult(result domain.ToolResult) (*mcp.CallToolResult, error) {
	out := &mcp.CallToolResult{Content: make([]mcp.Content, 0, len(result.Content))}
	for i, block := range result.Content {
		raw, err := json.Marshal(block.Data)
		if err != nil {
			return nil, fmt.Errorf("encode content block %d: %w", i, err)
		}
		out.Content = append(out.Content, &mcp.TextContent{Text: string(raw)})
		// structuredContent must be a JSON object.
		if i == 0 && len(raw) > 0 && raw[0] == '{' {
			out.StructuredContent = json.RawMessage(raw)
		}
	}
	return out, nil
}
