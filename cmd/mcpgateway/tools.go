package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Every input struct below mirrors the wire shape the daemon's
// internal/transport handlers decode (spec §4.10: a thin stdio-RPC adapter
// converting an external tool-call protocol into internal HTTP calls). The
// duplication against transport's unexported request structs is
// deliberate — these two processes only ever agree on a JSON wire contract,
// never a shared Go type, the same separation mcpclient.go keeps from
// whatever server it is talking to.

type ambientRecallInput struct {
	Context string `json:"context"`
	Limit   int    `json:"limit,omitempty"`
	Token   string `json:"token,omitempty"`
}

type searchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
	Token string `json:"token,omitempty"`
}

type storeInput struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Title    string         `json:"title,omitempty"`
	Location string         `json:"location,omitempty"`
	Token    string         `json:"token,omitempty"`
}

type addTripletInput struct {
	Source     string `json:"source"`
	Relation   string `json:"relation"`
	Target     string `json:"target"`
	Fact       string `json:"fact,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	TargetType string `json:"target_type,omitempty"`
	Token      string `json:"token,omitempty"`
}

type deleteEdgeInput struct {
	UUID  string `json:"uuid"`
	Token string `json:"token,omitempty"`
}

type storeMessageInput struct {
	Channel    string `json:"channel"`
	ExternalID string `json:"external_id,omitempty"`
	AuthorID   int64  `json:"author_id,omitempty"`
	AuthorName string `json:"author_name"`
	Content    string `json:"content"`
	IsSelf     bool   `json:"is_self,omitempty"`
	IsBot      bool   `json:"is_bot,omitempty"`
	Token      string `json:"token,omitempty"`
}

type healthInput struct{}

type regenerateTokenInput struct {
	Token string `json:"token"`
}

// gateway holds what every forwarded tool call needs: the daemon's base
// HTTP address, an instrumented client, and the local entity token to
// auto-inject into an empty Token field. regenerate_token is the one tool
// that forwards its Token unchanged, since it needs the master token.
type gateway struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

func (g *gateway) forward(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("mcpgateway: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("mcpgateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcpgateway: call daemon: %w", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		return nil, fmt.Errorf("mcpgateway: decode daemon response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return out, fmt.Errorf("mcpgateway: daemon returned %s", resp.Status)
	}
	return out, nil
}

func textResult(v map[string]any) *mcp.CallToolResult {
	b, _ := json.Marshal(v)
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}, StructuredContent: v}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}}}
}

// registerTools mounts every /tools/* operation as an MCP tool, one
// AddTool call per route; no handler does anything beyond token injection
// and an HTTP round trip to the daemon.
func (g *gateway) registerTools(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{Name: "ambient_recall", Description: "Recall ambient context (recent summaries, unsummarized turns, and cross-layer search hits) for a conversational context string."},
		func(ctx context.Context, _ *mcp.CallToolRequest, in ambientRecallInput) (*mcp.CallToolResult, any, error) {
			if in.Token == "" {
				in.Token = g.token
			}
			out, err := g.forward(ctx, http.MethodPost, "/tools/ambient_recall", in)
			if err != nil {
				return errorResult(err), nil, nil
			}
			return textResult(out), nil, nil
		})

	searchTool := func(name, path, desc string) {
		mcp.AddTool(server, &mcp.Tool{Name: name, Description: desc},
			func(ctx context.Context, _ *mcp.CallToolRequest, in searchInput) (*mcp.CallToolResult, any, error) {
				if in.Token == "" {
					in.Token = g.token
				}
				out, err := g.forward(ctx, http.MethodPost, path, in)
				if err != nil {
					return errorResult(err), nil, nil
				}
				return textResult(out), nil, nil
			})
	}
	searchTool("raw_search", "/tools/raw_search", "Full-text search over the raw message ledger.")
	searchTool("anchor_search", "/tools/anchor_search", "Vector search over named anchor documents.")
	searchTool("texture_search", "/tools/texture_search", "Search the knowledge graph for edges touching the query.")
	searchTool("get_crystals", "/tools/get_crystals", "Retrieve crystallized conversation digests.")

	storeTool := func(name, path, desc string) {
		mcp.AddTool(server, &mcp.Tool{Name: name, Description: desc},
			func(ctx context.Context, _ *mcp.CallToolRequest, in storeInput) (*mcp.CallToolResult, any, error) {
				if in.Token == "" {
					in.Token = g.token
				}
				out, err := g.forward(ctx, http.MethodPost, path, in)
				if err != nil {
					return errorResult(err), nil, nil
				}
				return textResult(out), nil, nil
			})
	}
	storeTool("anchor_save", "/tools/anchor_save", "Save or update a named anchor document.")
	storeTool("texture_add", "/tools/texture_add", "Add a knowledge-graph fact extracted from free text.")
	storeTool("crystallize", "/tools/crystallize", "Store a new crystallized conversation digest.")

	mcp.AddTool(server, &mcp.Tool{Name: "texture_add_triplet", Description: "Add an explicit (source, relation, target) knowledge-graph edge."},
		func(ctx context.Context, _ *mcp.CallToolRequest, in addTripletInput) (*mcp.CallToolResult, any, error) {
			if in.Token == "" {
				in.Token = g.token
			}
			out, err := g.forward(ctx, http.MethodPost, "/tools/texture_add_triplet", in)
			if err != nil {
				return errorResult(err), nil, nil
			}
			return textResult(out), nil, nil
		})

	mcp.AddTool(server, &mcp.Tool{Name: "texture_delete", Description: "Delete a knowledge-graph edge by UUID."},
		func(ctx context.Context, _ *mcp.CallToolRequest, in deleteEdgeInput) (*mcp.CallToolResult, any, error) {
			if in.Token == "" {
				in.Token = g.token
			}
			out, err := g.forward(ctx, http.MethodDelete, "/tools/texture_delete/"+in.UUID+"?token="+in.Token, nil)
			if err != nil {
				return errorResult(err), nil, nil
			}
			return textResult(out), nil, nil
		})

	mcp.AddTool(server, &mcp.Tool{Name: "store_message", Description: "Append a message to the durable ledger from an external channel."},
		func(ctx context.Context, _ *mcp.CallToolRequest, in storeMessageInput) (*mcp.CallToolResult, any, error) {
			if in.Token == "" {
				in.Token = g.token
			}
			out, err := g.forward(ctx, http.MethodPost, "/tools/store_message", in)
			if err != nil {
				return errorResult(err), nil, nil
			}
			return textResult(out), nil, nil
		})

	mcp.AddTool(server, &mcp.Tool{Name: "pps_health", Description: "Report health of all four memory layers."},
		func(ctx context.Context, _ *mcp.CallToolRequest, _ healthInput) (*mcp.CallToolResult, any, error) {
			out, err := g.forward(ctx, http.MethodGet, "/tools/pps_health", nil)
			if err != nil {
				return errorResult(err), nil, nil
			}
			return textResult(out), nil, nil
		})

	mcp.AddTool(server, &mcp.Tool{Name: "regenerate_token", Description: "Regenerate the entity auth token; requires the master token."},
		func(ctx context.Context, _ *mcp.CallToolRequest, in regenerateTokenInput) (*mcp.CallToolResult, any, error) {
			out, err := g.forward(ctx, http.MethodPost, "/tools/regenerate_token", in)
			if err != nil {
				return errorResult(err), nil, nil
			}
			return textResult(out), nil, nil
		})
}
