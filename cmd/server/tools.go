package main

import (
	"context"

	"github.com/fleetserve/servingplane/runtime/cluster"
	"github.com/fleetserve/servingplane/runtime/toolregistry"
)

// registerBuiltinTools installs the fixed built-in catalog the tier policy
// in runtime/toolregistry/tier.go names. web_search delegates to whichever
// node the cluster currently considers best; the remaining built-ins are
// registered so they participate in tier gating even though this process
// does not itself carry a vision, sandboxed-exec, or sequential-thinking
// backend.
func registerBuiltinTools(registry *toolregistry.Registry, clusterMgr *cluster.Manager) {
	mustRegister(registry, toolregistry.Tool{
		Name:        "web_search",
		Description: "search the web and return matching snippets",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []any{"query"},
		},
	}, func(ctx context.Context, args map[string]any, uc toolregistry.UserContext) (toolregistry.Result, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return toolregistry.ErrorResult("web_search: query is required"), nil
		}
		node := clusterMgr.GetBestNode("")
		if node == nil {
			return toolregistry.ErrorResult("web_search: no node available"), nil
		}
		client := clusterMgr.GetClient(node.ID)
		if client == nil {
			return toolregistry.ErrorResult("web_search: no node available"), nil
		}
		results, err := client.WebSearch(ctx, query, 5)
		if err != nil {
			return toolregistry.ErrorResult("web_search: " + err.Error()), nil
		}
		content := make([]toolregistry.Content, 0, len(results))
		for _, r := range results {
			content = append(content, toolregistry.Content{Kind: toolregistry.ContentText, Text: r})
		}
		return toolregistry.Result{Content: content}, nil
	})

	for _, unimplemented := range []toolregistry.Tool{
		{Name: "vision_ocr", Description: "extract text from an image"},
		{Name: "analyze_image", Description: "describe the contents of an image"},
		{Name: "run_command", Description: "run a sandboxed shell command"},
		{Name: "sequential_thinking", Description: "record an intermediate reasoning step"},
	} {
		unimplemented := unimplemented
		mustRegister(registry, unimplemented, func(ctx context.Context, args map[string]any, uc toolregistry.UserContext) (toolregistry.Result, error) {
			return toolregistry.ErrorResult(unimplemented.Name + ": no backend configured for this deployment"), nil
		})
	}
}

func mustRegister(registry *toolregistry.Registry, tool toolregistry.Tool, handler toolregistry.Handler) {
	if err := registry.RegisterBuiltin(tool, handler); err != nil {
		panic("tool registration: " + err.Error())
	}
}
