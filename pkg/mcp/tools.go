package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/larder-app/larder/pkg/models"
)

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

// toolHandlers maps tool names to their handlers.
var toolHandlers = map[string]toolHandler{
	"larder_discover":         handleDiscover,
	"larder_refresh":          handleRefresh,
	"larder_generate_another": handleGenerateAnother,
	"larder_session_status":   handleSessionStatus,
	"larder_cache_stats":      handleCacheStats,
	"larder_audit_search":     handleAuditSearch,
}

var discoverSchema = map[string]any{
	"type":     "object",
	"required": []string{"query"},
	"properties": map[string]any{
		"kind": map[string]any{
			"type":        "string",
			"enum":        []string{"search", "pantry", "code"},
			"description": "How to resolve the query (default search)",
		},
		"query": map[string]any{
			"type":        "string",
			"description": "Search term, or a barcode/QR payload for kind=code. Ignored for kind=pantry.",
		},
		"options": map[string]any{
			"type":        "object",
			"description": "Filters: diet, health, cuisine, meal_type (string arrays), max_calories, limit",
		},
		"generate": map[string]any{
			"type":        "boolean",
			"description": "Open a generation session when results are short (optional)",
		},
	},
}

var sessionSchema = map[string]any{
	"type":     "object",
	"required": []string{"session_id"},
	"properties": map[string]any{
		"session_id": map[string]any{
			"type":        "string",
			"description": "The generation session ID",
		},
	},
}

// allTools is the list of tool definitions exposed via tools/list.
var allTools = []ToolDefinition{
	{
		Name:        "larder_discover",
		Description: "Find recipes by search term, pantry contents, or product code. Served from cache when fresh.",
		InputSchema: discoverSchema,
	},
	{
		Name:        "larder_refresh",
		Description: "Re-run a discovery query against the recipe sources, bypassing a fresh cache entry.",
		InputSchema: discoverSchema,
	},
	{
		Name:        "larder_generate_another",
		Description: "Generate one more recipe in an open generation session.",
		InputSchema: sessionSchema,
	},
	{
		Name:        "larder_session_status",
		Description: "Show the state and generated recipes of a generation session.",
		InputSchema: sessionSchema,
	},
	{
		Name:        "larder_cache_stats",
		Description: "Show result cache statistics (entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "larder_audit_search",
		Description: "Search the discovery audit log with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{
					"type":        "string",
					"description": "discover, refresh or generate (optional)",
				},
				"outcome": map[string]any{
					"type":        "string",
					"description": "Filter by outcome, e.g. no_results (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
				"session_id": map[string]any{
					"type":        "string",
					"description": "Filter by session ID (optional)",
				},
			},
		},
	},
}

// decodeArgs unmarshals tool arguments into v. Absent arguments leave v zero.
func decodeArgs(rawArgs json.RawMessage, v any) error {
	if len(rawArgs) == 0 {
		return nil
	}
	return json.Unmarshal(rawArgs, v)
}

func (s *Server) discoverRequest(rawArgs json.RawMessage) (models.DiscoverRequest, error) {
	var args DiscoverArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return models.DiscoverRequest{}, fmt.Errorf("invalid arguments: %w", err)
	}
	return args.request(s.user)
}

func handleDiscover(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	req, err := s.discoverRequest(rawArgs)
	if err != nil {
		return errorResult(err.Error())
	}
	res, err := s.svc.Discover(ctx, req)
	if err != nil {
		return errorResult("Error discovering recipes: " + err.Error())
	}
	return textResult(formatResult(res))
}

func handleRefresh(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	req, err := s.discoverRequest(rawArgs)
	if err != nil {
		return errorResult(err.Error())
	}
	res, err := s.svc.ForceRefresh(ctx, req)
	if err != nil {
		return errorResult("Error refreshing recipes: " + err.Error())
	}
	return textResult(formatResult(res))
}

func sessionID(rawArgs json.RawMessage) string {
	var args SessionArgs
	_ = decodeArgs(rawArgs, &args)
	return strings.TrimSpace(args.SessionID)
}

func handleGenerateAnother(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	id := sessionID(rawArgs)
	if id == "" {
		return errorResult("session_id is required")
	}
	res, err := s.svc.GenerateAnother(ctx, id)
	if err != nil {
		return errorResult("Error generating recipe: " + err.Error())
	}
	return textResult(formatResult(res))
}

func handleSessionStatus(_ context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	id := sessionID(rawArgs)
	if id == "" {
		return errorResult("session_id is required")
	}
	st, err := s.svc.GetSessionStatus(id)
	if err != nil {
		return errorResult("Error fetching session: " + err.Error())
	}
	return textResult(formatSession(st))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	stats, err := s.svc.CacheStats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.auditor == nil {
		return textResult("Audit logging is not configured.")
	}
	var args AuditSearchArgs
	if err := decodeArgs(rawArgs, &args); err != nil {
		return errorResult("invalid arguments: " + err.Error())
	}

	opts := models.AuditQueryOpts{
		Operation: args.Operation,
		Outcome:   models.Outcome(args.Outcome),
		SessionID: args.SessionID,
		Limit:     50,
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.auditor.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}
