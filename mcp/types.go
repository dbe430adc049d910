// Package mcp provides the client and server session layer of the Model
// Context Protocol over a byte-stream transport: the initialization
// handshake, tool discovery, and tool invocation.
package mcp

import (
	"encoding/json"
	"strings"
)

// Protocol method names exchanged on the wire.
const (
	MethodInitialize = "initialize"
	MethodListTools  = "tools/list"
	MethodCallTool   = "tools/call"

	NotificationInitialized = "notifications/initialized"

	// ProtocolVersion is the protocol revision this implementation speaks.
	ProtocolVersion = "2024-11-05"
)

// Implementation identifies one endpoint of a session.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities advertise what the client supports. Empty for now;
// present on the wire for forward compatibility.
type ClientCapabilities struct{}

// ServerCapabilities advertise what the server supports.
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability marks that the server exposes tools.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams is the payload of the handshake request.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the payload of the handshake response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
}

// Tool describes one callable operation: its registry name, a description
// for the model, and the JSON schema of its arguments.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the payload of a tools/list response.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams is the payload of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content is one block of a tool result. Only text blocks are produced by
// this implementation; other types pass through untouched.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewTextContent creates a text content block.
func NewTextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// CallToolResult is the payload of a tools/call response. IsError marks a
// failure reported by the tool itself, as opposed to a protocol error.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text concatenates the result's text blocks into the string handed to the
// language model.
func (r *CallToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
