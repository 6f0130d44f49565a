package domain

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// ContentTypeJSON tags a content block carrying structured data.
const ContentTypeJSON = "json"

// ContentBlock is one tagged piece of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ToolResult is the payload produced by a tool handler.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
}

// JSONResult wraps data in a single structured-data block.
func JSONResult(data any) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: ContentTypeJSON, Data: data}}}
}

// ToolHandler computes a result from validated input.
type ToolHandler func(ctx context.Context, input json.RawMessage) (ToolResult, error)

// ToolDefinition describes a named remote operation.
type ToolDefinition struct {
	Name        string
	Title       string
	Description string
	InputSchema *jsonschema.Schema
	// ReadOnly marks tools without side effects; they are advertised as
	// read-only and idempotent.
	ReadOnly bool
	Handler  ToolHandler
}

// ToolSummary is the serializable view of a ToolDefinition.
type ToolSummary struct {
	Name        string             `json:"name"`
	Title       string             `json:"title,omitempty"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
}

func (d ToolDefinition) Summary() ToolSummary {
	return ToolSummary{
		Name:        d.Name,
		Title:       d.Title,
		Description: d.Description,
		InputSchema: d.InputSchema,
	}
}
