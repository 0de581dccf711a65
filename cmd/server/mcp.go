package main

import (
	"context"

	"github.com/fleetserve/servingplane/runtime/mcp"
	"github.com/fleetserve/servingplane/runtime/telemetry"
	"github.com/fleetserve/servingplane/runtime/toolregistry"
)

type mcpClient struct {
	name   string
	client *mcp.ExternalToolClient
}

// connectMCPServer dials an external MCP server over plain JSON-RPC-over-
// HTTP, discovers its tools, and registers them in registry under name so
// they show up namespaced as "name::originalName" (spec §4.3/§4.7).
func connectMCPServer(ctx context.Context, name, endpoint string, registry *toolregistry.Registry, logger telemetry.Logger) (*mcpClient, error) {
	client := mcp.New(name, mcp.Options{Kind: mcp.TransportHTTP, Endpoint: endpoint})
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	descriptors, err := client.GetTools(ctx)
	if err != nil {
		logger.Warn(ctx, "mcp: tool discovery failed", "server", name, "error", err.Error())
		descriptors = nil
	}

	tools := make([]toolregistry.Tool, 0, len(descriptors))
	for _, d := range descriptors {
		tools = append(tools, toolregistry.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
			External:    true,
			ServerName:  name,
		})
	}

	registry.RegisterExternal(name, name, tools, func(ctx context.Context, originalName string, args map[string]any) (toolregistry.Result, error) {
		result, err := client.CallTool(ctx, originalName, args)
		if err != nil {
			return toolregistry.Result{}, err
		}
		return toRegistryResult(result), nil
	})

	return &mcpClient{name: name, client: client}, nil
}

func toRegistryResult(result mcp.Result) toolregistry.Result {
	content := make([]toolregistry.Content, 0, len(result.Content))
	for _, c := range result.Content {
		switch c.Kind {
		case mcp.ContentJSON:
			content = append(content, toolregistry.Content{Kind: toolregistry.ContentJSON, JSON: c.JSON})
		default:
			content = append(content, toolregistry.Content{Kind: toolregistry.ContentText, Text: c.Text})
		}
	}
	return toolregistry.Result{Content: content, IsError: result.IsError}
}
