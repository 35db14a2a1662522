package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/larder-app/larder/pkg/logging"
	"github.com/larder-app/larder/pkg/models"
)

// Service is the discovery surface exposed as tools.
// *discovery.Orchestrator satisfies it.
type Service interface {
	Discover(ctx context.Context, req models.DiscoverRequest) (models.DiscoverResult, error)
	ForceRefresh(ctx context.Context, req models.DiscoverRequest) (models.DiscoverResult, error)
	GenerateAnother(ctx context.Context, sessionID string) (models.DiscoverResult, error)
	GetSessionStatus(sessionID string) (models.SessionStatus, error)
	CacheStats(ctx context.Context) (models.CacheStats, error)
}

// AuditSearcher queries the audit log without coupling to its storage.
type AuditSearcher interface {
	Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error)
}

// Server is a minimal MCP server that communicates over stdio using JSON-RPC 2.0.
type Server struct {
	svc     Service
	auditor AuditSearcher
	user    string
	version string
	log     *logrus.Logger
}

// New creates a new MCP Server. Tool calls act on behalf of user.
// auditor may be nil.
func New(svc Service, auditor AuditSearcher, user, version string, log *logrus.Logger) *Server {
	if user == "" {
		user = "mcp"
	}
	return &Server{
		svc:     svc,
		auditor: auditor,
		user:    user,
		version: version,
		log:     logging.OrDiscard(log),
	}
}

// Run reads JSON-RPC requests from r line-by-line and writes responses to w.
// It blocks until r is closed or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, fail(nil, CodeParseError, "parse error"))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.writeResponse(w, resp)
		}
	}
	return scanner.Err()
}

// dispatch answers req. Notifications get no response.
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return reply(req.ID, InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      ServerInfo{Name: serverName, Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "tools/list":
		return reply(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.callTool(ctx, req)
	}
	if req.notification() {
		return nil
	}
	return fail(req.ID, CodeMethodNotFound, "unknown method: %s", req.Method)
}

func (s *Server) callTool(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return fail(req.ID, CodeInvalidParams, "invalid params")
	}
	handler, ok := toolHandlers[params.Name]
	if !ok {
		return reply(req.ID, errorResult("unknown tool: "+params.Name))
	}
	s.log.WithField("tool", params.Name).Debug("mcp tool call")
	return reply(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.WithError(err).Error("mcp: marshal response")
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.log.WithError(err).Error("mcp: write response")
	}
}
