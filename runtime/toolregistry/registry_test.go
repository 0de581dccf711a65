package toolregistry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetserve/servingplane/runtime/toolregistry"
)

func registerFreeBuiltins(t *testing.T, r *toolregistry.Registry) {
	t.Helper()
	for _, name := range []string{"web_search", "vision_ocr", "analyze_image", "run_command", "sequential_thinking", "firecrawl_scrape"} {
		name := name
		require.NoError(t, r.RegisterBuiltin(toolregistry.Tool{Name: name}, func(ctx context.Context, args map[string]any, uc toolregistry.UserContext) (toolregistry.Result, error) {
			return toolregistry.TextResult("ok:" + name), nil
		}))
	}
}

// TestFreeTierExactSetNoExternal is spec §8 P6.
func TestFreeTierExactSetNoExternal(t *testing.T) {
	r := toolregistry.New()
	registerFreeBuiltins(t, r)
	r.RegisterExternal("srv1", "files", []toolregistry.Tool{{Name: "read"}}, func(ctx context.Context, name string, args map[string]any) (toolregistry.Result, error) {
		return toolregistry.TextResult("external"), nil
	})

	tools := r.ListForTier(toolregistry.TierFree)
	names := make(map[string]bool)
	for _, tl := range tools {
		names[tl.Name] = true
		assert.False(t, tl.External)
	}
	assert.Equal(t, map[string]bool{"web_search": true, "vision_ocr": true, "analyze_image": true}, names)

	result := r.Execute(context.Background(), toolregistry.TierFree, "files::read", nil, toolregistry.UserContext{})
	assert.True(t, result.IsError)
}

// TestExternalToolForwardsOriginalName is spec §8 P7.
func TestExternalToolForwardsOriginalName(t *testing.T) {
	r := toolregistry.New()
	var received string
	r.RegisterExternal("srv1", "files", []toolregistry.Tool{{Name: "read_file"}}, func(ctx context.Context, name string, args map[string]any) (toolregistry.Result, error) {
		received = name
		return toolregistry.TextResult("contents"), nil
	})

	result := r.Execute(context.Background(), toolregistry.TierEnterprise, "files::read_file", map[string]any{"path": "a.txt"}, toolregistry.UserContext{})
	assert.False(t, result.IsError)
	assert.Equal(t, "read_file", received)
}

func TestExternalEmptyResultRewrittenToPlaceholder(t *testing.T) {
	r := toolregistry.New()
	r.RegisterExternal("srv1", "files", []toolregistry.Tool{{Name: "noop"}}, func(ctx context.Context, name string, args map[string]any) (toolregistry.Result, error) {
		return toolregistry.Result{}, nil
	})

	result := r.Execute(context.Background(), toolregistry.TierEnterprise, "files::noop", nil, toolregistry.UserContext{})
	require.Len(t, result.Content, 1)
	assert.Equal(t, "(empty result)", result.Content[0].Text)
}

func TestRegisterExternalReplacesPriorSet(t *testing.T) {
	r := toolregistry.New()
	noop := func(ctx context.Context, name string, args map[string]any) (toolregistry.Result, error) {
		return toolregistry.TextResult("x"), nil
	}
	r.RegisterExternal("srv1", "files", []toolregistry.Tool{{Name: "old_tool"}}, noop)
	r.RegisterExternal("srv1", "files", []toolregistry.Tool{{Name: "new_tool"}}, noop)

	names := make(map[string]bool)
	for _, tl := range r.ListAll() {
		names[tl.Name] = true
	}
	assert.False(t, names["files::old_tool"])
	assert.True(t, names["files::new_tool"])
}

func TestUnregisterExternalRemovesAllTools(t *testing.T) {
	r := toolregistry.New()
	noop := func(ctx context.Context, name string, args map[string]any) (toolregistry.Result, error) {
		return toolregistry.TextResult("x"), nil
	}
	r.RegisterExternal("srv1", "files", []toolregistry.Tool{{Name: "a"}, {Name: "b"}}, noop)
	r.UnregisterExternal("srv1")
	assert.Empty(t, r.ListAll())
}

func TestWildcardMatchesFirecrawlPrefixForPro(t *testing.T) {
	r := toolregistry.New()
	registerFreeBuiltins(t, r)
	tools := r.ListForTier(toolregistry.TierPro)
	found := false
	for _, tl := range tools {
		if tl.Name == "firecrawl_scrape" {
			found = true
		}
	}
	assert.True(t, found)
}

// TestPathEscapeRewrittenToSentinel is spec §8 P8.
func TestPathEscapeRewrittenToSentinel(t *testing.T) {
	r := toolregistry.New()
	var seenPath string
	require.NoError(t, r.RegisterBuiltin(toolregistry.Tool{Name: "read_file"}, func(ctx context.Context, args map[string]any, uc toolregistry.UserContext) (toolregistry.Result, error) {
		seenPath, _ = args["path"].(string)
		return toolregistry.TextResult("ok"), nil
	}))

	r.Execute(context.Background(), toolregistry.TierEnterprise, "read_file", map[string]any{"path": "../../etc/passwd"}, toolregistry.UserContext{SandboxRoot: "/sandbox/u1"})
	assert.Equal(t, toolregistry.PathEscapeSentinel, seenPath)

	r.Execute(context.Background(), toolregistry.TierEnterprise, "read_file", map[string]any{"path": "notes.txt"}, toolregistry.UserContext{SandboxRoot: "/sandbox/u1"})
	assert.Equal(t, "/sandbox/u1/notes.txt", seenPath)
}

func TestResolvePathRejectsPrefixAmbiguity(t *testing.T) {
	assert.Equal(t, toolregistry.PathEscapeSentinel, toolregistry.ResolvePath("/sandbox", "../sandbox-evil/x"))
	assert.Equal(t, "/sandbox/sub/file", toolregistry.ResolvePath("/sandbox", "sub/file"))
	assert.Equal(t, "/sandbox", toolregistry.ResolvePath("/sandbox", "."))
}

func TestUnknownToolReturnsErrorResultNotGoError(t *testing.T) {
	r := toolregistry.New()
	result := r.Execute(context.Background(), toolregistry.TierEnterprise, "does_not_exist", nil, toolregistry.UserContext{})
	assert.True(t, result.IsError)
}
