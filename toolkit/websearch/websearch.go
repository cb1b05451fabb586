// Package websearch provides a read-only web search tool backed by
// DuckDuckGo.
package websearch

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/tools/duckduckgo"

	"github.com/steward-labs/steward/engine/tool"
)

const toolName = "web_search"

// searcher abstracts the DuckDuckGo client for tests.
type searcher interface {
	Call(ctx context.Context, input string) (string, error)
}

// Tool answers search queries. Read-only, no side effects.
type Tool struct {
	client searcher
}

// New creates a web search tool returning up to maxResults entries.
func New(maxResults int) (*Tool, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, fmt.Errorf("init search client: %w", err)
	}
	return &Tool{client: ddg}, nil
}

func (t *Tool) Name() string { return toolName }

func (t *Tool) Description() string {
	return "Search the web for current information. Returns a digest of top results."
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query",
			},
		},
		"required": []string{"query"},
	}
}

func (t *Tool) RiskHints() tool.RiskHints {
	return tool.RiskHints{ReadOnly: true}
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tool.Result, error) {
	query, err := tool.StringParam(params, "query")
	if err != nil {
		return tool.Fail("%v", err), nil
	}

	res := tool.Timed(func() *tool.Result {
		digest, err := t.client.Call(ctx, query)
		if err != nil {
			return tool.Fail("search failed: %v", err)
		}
		return tool.Ok(digest)
	})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return res, nil
}
