package mcp

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/larder-app/larder/pkg/models"
)

func TestDiscoverArgsRequest(t *testing.T) {
	args := DiscoverArgs{Query: "  Soup ", Options: models.SearchOptions{Limit: 3}, Generate: true}
	req, err := args.request("bob")
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != models.KindSearch {
		t.Errorf("kind = %s, want search", req.Kind)
	}
	if req.UserID != "bob" || req.Query != "  Soup " || !req.Generate || req.Options.Limit != 3 {
		t.Errorf("unexpected request: %+v", req)
	}

	if _, err := (DiscoverArgs{Kind: models.KindCode, Query: "   "}).request("bob"); err == nil {
		t.Error("expected error for blank code")
	}
	if _, err := (DiscoverArgs{Kind: models.KindPantry}).request("bob"); err != nil {
		t.Errorf("pantry needs no query: %v", err)
	}
	_, err = (DiscoverArgs{Kind: "smell", Query: "x"}).request("bob")
	if err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Errorf("err = %v, want unknown kind", err)
	}
}

func TestToolResultWireFormat(t *testing.T) {
	data, _ := json.Marshal(textResult("ok"))
	if strings.Contains(string(data), "isError") {
		t.Errorf("text result should omit isError: %s", data)
	}

	data, _ = json.Marshal(errorResult("boom"))
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["isError"] != true {
		t.Errorf("isError = %v, want true", got["isError"])
	}
	content := got["content"].([]any)[0].(map[string]any)
	if content["type"] != "text" || content["text"] != "boom" {
		t.Errorf("unexpected content: %v", content)
	}
}

func TestFailResponse(t *testing.T) {
	resp := fail(json.RawMessage(`7`), CodeInvalidParams, "bad %s", "thing")
	if resp.JSONRPC != jsonrpcVersion || string(resp.ID) != "7" {
		t.Errorf("unexpected envelope: %+v", resp)
	}
	if resp.Error.Code != CodeInvalidParams || resp.Error.Message != "bad thing" {
		t.Errorf("unexpected error: %+v", resp.Error)
	}
	if resp.Result != nil {
		t.Error("error response carries a result")
	}
}
