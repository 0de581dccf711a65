package toolregistry

import (
	"context"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fleetserve/servingplane/runtime/telemetry"
)

type builtinEntry struct {
	tool    Tool
	handler Handler
	schema  *jsonschema.Schema
}

type externalServer struct {
	serverName string
	tools      map[string]Tool // keyed by original name
	executor   ExternalExecutor
}

// Registry is the unified view over built-in and external tools described
// in spec §4.3. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]*builtinEntry
	external map[string]*externalServer // keyed by serverId

	logger telemetry.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for tool-execution failure warnings.
func WithLogger(l telemetry.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New constructs an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		builtins: make(map[string]*builtinEntry),
		external: make(map[string]*externalServer),
		logger:   telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterBuiltin adds or replaces a built-in tool. inputSchema, when
// non-nil, is compiled eagerly so a malformed schema fails at
// registration time rather than on first Execute.
func (r *Registry) RegisterBuiltin(tool Tool, handler Handler) error {
	var compiled *jsonschema.Schema
	if tool.InputSchema != nil {
		c := jsonschema.NewCompiler()
		const resourceName = "inline.json"
		if err := c.AddResource(resourceName, tool.InputSchema); err != nil {
			return err
		}
		sch, err := c.Compile(resourceName)
		if err != nil {
			return err
		}
		compiled = sch
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.builtins[tool.Name] = &builtinEntry{tool: tool, handler: handler, schema: compiled}
	return nil
}

// RegisterExternal replaces any prior registration for serverID with the
// given tool set and executor (§4.3, R2 round-trip property).
func (r *Registry) RegisterExternal(serverID, serverName string, tools []Tool, executor ExternalExecutor) {
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.external[serverID] = &externalServer{serverName: serverName, tools: byName, executor: executor}
}

// UnregisterExternal removes all tools and the executor for serverID.
func (r *Registry) UnregisterExternal(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.external, serverID)
}

func namespacedName(serverName, originalName string) string {
	return serverName + Separator + originalName
}

// ListAll returns built-ins by original name and external tools in
// namespaced form.
func (r *Registry) ListAll() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listAllLocked()
}

func (r *Registry) listAllLocked() []Tool {
	out := make([]Tool, 0, len(r.builtins))
	for _, b := range r.builtins {
		out = append(out, b.tool)
	}
	for _, srv := range r.external {
		for original, t := range srv.tools {
			out = append(out, Tool{
				Name:        namespacedName(srv.serverName, original),
				Description: t.Description,
				InputSchema: t.InputSchema,
				External:    true,
				ServerName:  srv.serverName,
			})
		}
	}
	return out
}

// ListForTier filters ListAll by the tier policy in §4.3.
func (r *Registry) ListForTier(tier Tier) []Tool {
	r.mu.RLock()
	all := r.listAllLocked()
	r.mu.RUnlock()

	out := make([]Tool, 0, len(all))
	for _, t := range all {
		if allowed(tier, t.Name) {
			out = append(out, t)
		}
	}
	return out
}

// Execute runs name with args under userContext after a tier check.
// Unknown names and tier denials return an error-typed Result rather than
// a Go error, per §4.3.
func (r *Registry) Execute(ctx context.Context, tier Tier, name string, args map[string]any, uc UserContext) Result {
	if !allowed(tier, name) {
		return ErrorResult("tool not permitted for tier: " + name)
	}

	if serverName, original, isExternal := splitNamespaced(name); isExternal {
		return r.executeExternal(ctx, serverName, original, args)
	}
	return r.executeBuiltin(ctx, name, args, uc)
}

func splitNamespaced(name string) (serverName, original string, ok bool) {
	idx := strings.Index(name, Separator)
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+len(Separator):], true
}

func (r *Registry) executeBuiltin(ctx context.Context, name string, args map[string]any, uc UserContext) Result {
	r.mu.RLock()
	entry, ok := r.builtins[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult("unknown tool: " + name)
	}

	rewritten := rewriteScopedPaths(args, uc.SandboxRoot)

	if entry.schema != nil {
		if err := entry.schema.Validate(rewritten); err != nil {
			return ErrorResult("invalid arguments for " + name + ": " + err.Error())
		}
	}

	result, err := entry.handler(ctx, rewritten, uc)
	if err != nil {
		r.logger.Warn(ctx, "builtin tool execution failed", "tool", name, "error", err.Error())
		return ErrorResult(err.Error())
	}
	return result
}

func (r *Registry) executeExternal(ctx context.Context, serverName, original string, args map[string]any) Result {
	r.mu.RLock()
	var srv *externalServer
	for _, s := range r.external {
		if s.serverName == serverName {
			srv = s
			break
		}
	}
	r.mu.RUnlock()
	if srv == nil {
		return ErrorResult("unknown external server: " + serverName)
	}

	result, err := srv.executor(ctx, original, args)
	if err != nil {
		r.logger.Warn(ctx, "external tool execution failed", "server", serverName, "tool", original, "error", err.Error())
		return ErrorResult(err.Error())
	}
	if len(result.Content) == 0 {
		return TextResult("(empty result)")
	}
	return result
}
