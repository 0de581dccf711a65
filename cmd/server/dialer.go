package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fleetserve/servingplane/nodeclient/anthropic"
	"github.com/fleetserve/servingplane/nodeclient/grpcnode"
	"github.com/fleetserve/servingplane/nodeclient/openai"
	"github.com/fleetserve/servingplane/runtime/cluster"
)

// nodeSpec records the provider tag parsed from a -nodes entry, keyed by
// host:port, so cluster.Manager's single dialer callback (which only
// receives host and port) can still pick the right transport.
type nodeSpec struct {
	provider string
	models   []string
}

var (
	nodeSpecsMu sync.RWMutex
	nodeSpecs   = map[string]nodeSpec{}
)

// parseNodeSpec decodes one "name=provider@host:port" -nodes entry.
func parseNodeSpec(spec string) (name, provider, host string, port int, err error) {
	name, rest, ok := strings.Cut(spec, "=")
	if !ok {
		return "", "", "", 0, fmt.Errorf("missing '='")
	}
	provider, hostport, ok := strings.Cut(rest, "@")
	if !ok {
		return "", "", "", 0, fmt.Errorf("missing '@'")
	}
	host, portStr, ok := strings.Cut(hostport, ":")
	if !ok {
		return "", "", "", 0, fmt.Errorf("missing ':'")
	}
	port, perr := strconv.Atoi(portStr)
	if perr != nil {
		return "", "", "", 0, fmt.Errorf("invalid port %q: %w", portStr, perr)
	}
	nodeSpecsMu.Lock()
	nodeSpecs[fmt.Sprintf("%s:%d", host, port)] = nodeSpec{provider: provider}
	nodeSpecsMu.Unlock()
	return name, provider, host, port, nil
}

// dialNode builds a cluster.NodeClient for one configured node, picking
// the transport based on the provider tag recorded by parseNodeSpec.
func dialNode(host string, port int) (cluster.NodeClient, error) {
	nodeSpecsMu.RLock()
	spec, ok := nodeSpecs[fmt.Sprintf("%s:%d", host, port)]
	nodeSpecsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cluster: no provider configured for %s:%d", host, port)
	}

	switch spec.provider {
	case "anthropic":
		return anthropic.NewFromAPIKey(os.Getenv("ANTHROPIC_API_KEY"), spec.models)
	case "openai":
		return openai.NewFromAPIKey(os.Getenv("OPENAI_API_KEY"), spec.models)
	case "grpc":
		cc, err := grpc.NewClient(fmt.Sprintf("%s:%d", host, port), grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("grpc dial %s:%d: %w", host, port, err)
		}
		return grpcnode.New(cc)
	default:
		// bedrock nodes carry a pre-built runtime client rather than a
		// dialable host:port, so they are out of scope for this
		// provider-tag convention.
		return nil, fmt.Errorf("cluster: unknown provider %q", spec.provider)
	}
}
