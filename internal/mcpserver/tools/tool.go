package tools

import (
	"context"
	"encoding/json"
)

// ToolDefinition describes an MCP tool with its name, description, and JSON schemas
type ToolDefinition struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema map[string]any   `json:"inputSchema"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
}

// ToolAnnotations are the MCP behavior hints shown to hosts
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    bool   `json:"readOnlyHint,omitempty"`
	DestructiveHint bool   `json:"destructiveHint,omitempty"`
	IdempotentHint  bool   `json:"idempotentHint,omitempty"`
	OpenWorldHint   bool   `json:"openWorldHint,omitempty"`
}

// readOnly marks a tool that only reads from Strava
func readOnly(title string) *ToolAnnotations {
	return &ToolAnnotations{Title: title, ReadOnlyHint: true, IdempotentHint: true, OpenWorldHint: true}
}

// Handler processes a tool invocation. A string result is sent as-is;
// anything else is JSON encoded.
type Handler func(context.Context, *ToolContext, json.RawMessage) (any, error)

// ToolDescriptor is one entry of a tools/list response
type ToolDescriptor struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	InputSchema map[string]any   `json:"inputSchema"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
}

// CallRequest is the params object of tools/call
type CallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallResult wraps successful tool execution results
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock represents a piece of tool output
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}
