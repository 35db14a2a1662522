package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/larder-app/larder/pkg/models"
)

const (
	jsonrpcVersion  = "2.0"
	protocolVersion = "2024-11-05"
	serverName      = "larder"
)

// JSON-RPC error codes used by the server.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// Request is one JSON-RPC 2.0 message read from the client. Notifications
// carry no ID.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r *Request) notification() bool { return len(r.ID) == 0 }

// Response answers a Request with either Result or Error set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a protocol-level failure. Tool failures are reported as
// ToolCallResult.IsError instead.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func reply(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

func fail(id json.RawMessage, code int, format string, args ...any) *Response {
	return &Response{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: fmt.Sprintf(format, args...)},
	}
}

// InitializeResult answers initialize.
type InitializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      ServerInfo `json:"serverInfo"`
	Capabilities    any        `json:"capabilities"`
}

// ServerInfo identifies the server to the client.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolDefinition describes one tool in tools/list.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

// ToolsListResult answers tools/list.
type ToolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// ToolCallParams are the params of tools/call.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult answers tools/call. Discovery outcomes such as no_results
// are ordinary text; IsError marks calls that could not be carried out.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is a text block in a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	r := textResult(text)
	r.IsError = true
	return r
}

// DiscoverArgs are the arguments of larder_discover and larder_refresh.
type DiscoverArgs struct {
	Kind     models.QueryKind     `json:"kind"`
	Query    string               `json:"query"`
	Options  models.SearchOptions `json:"options"`
	Generate bool                 `json:"generate"`
}

// request validates the arguments and builds the request issued for user.
// Kind defaults to search; search and code lookups need a query.
func (a DiscoverArgs) request(user string) (models.DiscoverRequest, error) {
	if a.Kind == "" {
		a.Kind = models.KindSearch
	}
	switch a.Kind {
	case models.KindSearch, models.KindCode:
		if models.NormalizeTerm(a.Query) == "" {
			return models.DiscoverRequest{}, fmt.Errorf("query is required")
		}
	case models.KindPantry:
	default:
		return models.DiscoverRequest{}, fmt.Errorf("unknown kind: %s", a.Kind)
	}
	return models.DiscoverRequest{
		UserID:   user,
		Kind:     a.Kind,
		Query:    a.Query,
		Options:  a.Options,
		Generate: a.Generate,
	}, nil
}

// SessionArgs name a generation session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

// AuditSearchArgs filter larder_audit_search. Since is YYYY-MM-DD.
type AuditSearchArgs struct {
	Operation string `json:"operation"`
	Outcome   string `json:"outcome"`
	Since     string `json:"since"`
	SessionID string `json:"session_id"`
}
