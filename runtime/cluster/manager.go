package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fleetserve/servingplane/runtime/telemetry"
)

// EventType identifies a cluster membership transition.
type EventType string

const (
	EventNodeOnline  EventType = "node:online"
	EventNodeOffline EventType = "node:offline"
	EventNodeUpdated EventType = "node:updated"
)

// Event is emitted on every node status transition and, while a node stays
// online, when its advertised model list changes (§4.4 health-check loop).
// Latency and last-seen changes alone emit no event.
type Event struct {
	Type EventType
	Node Node
}

// Stats summarizes cluster membership for outbound init/stats frames.
type Stats struct {
	Total  int
	Online int
	Models []string
}

// DefaultModel is the sentinel model identifier meaning "let the cluster
// pick any online node" — the model filter is bypassed entirely.
const DefaultModel = "default"

type registeredNode struct {
	node   Node
	client NodeClient
}

// Manager tracks the live registry of inference nodes and selects one per
// request (§4.4). A Manager is safe for concurrent use; node/tool registries
// are read by chat turns and mutated by administrative operations and the
// health-check loop. Reads are consistent for the duration of one selection
// decision; staleness across decisions is acceptable per spec §5.
type Manager struct {
	mu    sync.RWMutex
	nodes map[string]*registeredNode

	heartbeatInterval time.Duration
	probeTimeout      time.Duration
	probeLimiter      *rate.Limiter

	dialer func(host string, port int) (NodeClient, error)

	logger    telemetry.Logger
	eventsMu  sync.Mutex
	eventSubs []chan Event

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithHeartbeatInterval overrides the default health-check tick.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) { m.heartbeatInterval = d }
}

// WithProbeTimeout bounds an individual node probe so one slow node never
// delays the whole sweep (probes run in parallel regardless).
func WithProbeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.probeTimeout = d }
}

// WithDialer overrides how the manager constructs a NodeClient for a given
// host:port. Tests typically supply a fake dialer.
func WithDialer(dialer func(host string, port int) (NodeClient, error)) Option {
	return func(m *Manager) { m.dialer = dialer }
}

// WithLogger sets the logger used for probe-failure reporting.
func WithLogger(l telemetry.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New constructs a Manager. Call Start to begin the health-check loop.
func New(opts ...Option) *Manager {
	m := &Manager{
		nodes:             make(map[string]*registeredNode),
		heartbeatInterval: 30 * time.Second,
		probeTimeout:      5 * time.Second,
		logger:            telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.probeLimiter == nil {
		// One probe fan-out burst per tick; the limiter mainly exists to
		// smooth out AddNode calls issued in a tight administrative loop.
		m.probeLimiter = rate.NewLimiter(rate.Limit(50), 50)
	}
	return m
}

func nodeID(host string, port int) string { return fmt.Sprintf("%s:%d", host, port) }

// Start registers nothing by itself (nodes are added via AddNode) and
// begins the periodic health-check loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.healthCheckLoop(ctx)
}

// Stop cancels the health-check loop and clears the registry.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.mu.Lock()
	m.nodes = make(map[string]*registeredNode)
	m.mu.Unlock()
}

// AddNode registers host:port, probing it immediately. It is idempotent:
// a second call for the same host:port returns (nil, nil). Initial status
// is online iff the probe succeeds; the node is registered even when the
// probe fails (status=offline, empty models) per §4.4.
func (m *Manager) AddNode(ctx context.Context, host string, port int, name string) (*Node, error) {
	id := nodeID(host, port)

	m.mu.Lock()
	if _, exists := m.nodes[id]; exists {
		m.mu.Unlock()
		return nil, nil
	}
	m.mu.Unlock()

	client, err := m.dial(host, port)
	if err != nil {
		return nil, err
	}

	n := Node{ID: id, Host: host, Port: port, Name: name, Status: StatusOffline, LatencyMS: UnknownLatency}
	if ok, models, latency := m.probe(ctx, client); ok {
		n.Status = StatusOnline
		n.Models = models
		n.LatencyMS = latency
	}
	n.LastSeen = time.Now()

	m.mu.Lock()
	if _, exists := m.nodes[id]; exists {
		m.mu.Unlock()
		return nil, nil
	}
	m.nodes[id] = &registeredNode{node: n, client: client}
	m.mu.Unlock()

	return &n, nil
}

func (m *Manager) dial(host string, port int) (NodeClient, error) {
	if m.dialer != nil {
		return m.dialer(host, port)
	}
	return nil, fmt.Errorf("cluster: no dialer configured for %s:%d", host, port)
}

// RemoveNode unregisters id, returning false if it was not present.
func (m *Manager) RemoveNode(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[id]; !ok {
		return false
	}
	delete(m.nodes, id)
	return true
}

// GetNodes returns a snapshot of every registered node.
func (m *Manager) GetNodes() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, 0, len(m.nodes))
	for _, rn := range m.nodes {
		out = append(out, rn.node)
	}
	return out
}

// GetOnlineNodes returns a snapshot of nodes currently online.
func (m *Manager) GetOnlineNodes() []Node {
	all := m.GetNodes()
	out := all[:0]
	for _, n := range all {
		if n.Status == StatusOnline {
			out = append(out, n)
		}
	}
	return out
}

// GetNodesWithModel returns online nodes advertising a model containing
// name as a substring.
func (m *Manager) GetNodesWithModel(name string) []Node {
	online := m.GetOnlineNodes()
	out := online[:0]
	for _, n := range online {
		if n.AdvertisesModel(name) {
			out = append(out, n)
		}
	}
	return out
}

// GetClient returns the shared (non-scoped) client for id, or nil if not
// registered. Callers must not mutate the model on the returned handle —
// this shared handle exists only as a transport-pool optimization for code
// paths outside the chat pipeline core (spec §9, open question c). The core
// itself must use CreateScopedClient.
func (m *Manager) GetClient(id string) NodeClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rn, ok := m.nodes[id]
	if !ok {
		return nil
	}
	return rn.client
}

// CreateScopedClient returns a fresh handle bound to nodeID and model for
// exactly one turn. Returns nil if nodeID is not registered.
func (m *Manager) CreateScopedClient(nodeID, model string) *ScopedClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rn, ok := m.nodes[nodeID]
	if !ok {
		return nil
	}
	return &ScopedClient{NodeID: nodeID, Model: model, node: rn.client}
}

// GetBestNode selects the best online node for model per §4.4: candidates
// are online nodes, further filtered to those advertising a model
// containing `model` as a substring when model is non-empty and not the
// DefaultModel sentinel. Among candidates, the smallest last-measured
// latency wins; unknown latency sorts as +Inf. Candidates are gathered by
// iterating the node map, so among equal latencies the winner is whichever
// comes first in that iteration; it is not insertion order and may differ
// between calls.
func (m *Manager) GetBestNode(model string) *Node {
	var candidates []Node
	if model == "" || model == DefaultModel {
		candidates = m.GetOnlineNodes()
	} else {
		candidates = m.GetNodesWithModel(model)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].latencyForSort() < candidates[j].latencyForSort()
	})
	best := candidates[0]
	return &best
}

// GetStats returns aggregate cluster membership info.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{Total: len(m.nodes)}
	modelSet := make(map[string]struct{})
	for _, rn := range m.nodes {
		if rn.node.Status == StatusOnline {
			stats.Online++
		}
		for _, mdl := range rn.node.Models {
			modelSet[mdl.Name] = struct{}{}
		}
	}
	for name := range modelSet {
		stats.Models = append(stats.Models, name)
	}
	sort.Strings(stats.Models)
	return stats
}

// Subscribe returns a channel of cluster Events. Callers should drain it
// promptly; the manager drops events for subscribers that fall behind
// rather than blocking the health-check loop.
func (m *Manager) Subscribe() <-chan Event {
	ch := make(chan Event, 32)
	m.eventsMu.Lock()
	m.eventSubs = append(m.eventSubs, ch)
	m.eventsMu.Unlock()
	return ch
}

func (m *Manager) publish(ev Event) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	for _, ch := range m.eventSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// probe checks liveness and, if alive, re-enumerates models and measures
// latency. It never returns an error: probe failures map to (false, nil, UnknownLatency).
func (m *Manager) probe(ctx context.Context, client NodeClient) (bool, []Model, float64) {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	if err := m.probeLimiter.Wait(ctx); err != nil {
		return false, nil, UnknownLatency
	}

	start := time.Now()
	ok, err := client.IsAvailable(ctx)
	if err != nil {
		m.logger.Warn(ctx, "cluster: probe failed", "error", err.Error())
	}
	if err != nil || !ok {
		return false, nil, UnknownLatency
	}
	latency := float64(time.Since(start).Microseconds()) / 1000.0

	models, err := client.ListModels(ctx)
	if err != nil {
		return true, nil, latency
	}
	out := make([]Model, 0, len(models))
	for _, mdl := range models {
		out = append(out, mdl)
	}
	return true, out, latency
}

// healthCheckLoop probes every registered node in parallel on each tick,
// emitting node:online/node:offline on status transitions and node:updated
// when an already-online node's advertised model list changed (latency and
// last-seen changes alone emit nothing).
func (m *Manager) healthCheckLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runProbeSweep(ctx)
		}
	}
}

func (m *Manager) runProbeSweep(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.nodes))
	clients := make(map[string]NodeClient, len(m.nodes))
	for id, rn := range m.nodes {
		ids = append(ids, id)
		clients[id] = rn.client
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		id, client := id, clients[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, models, latency := m.probe(ctx, client)
			m.applyProbeResult(id, ok, models, latency)
		}()
	}
	wg.Wait()
}

func (m *Manager) applyProbeResult(id string, alive bool, models []Model, latency float64) {
	m.mu.Lock()
	rn, exists := m.nodes[id]
	if !exists {
		m.mu.Unlock()
		return
	}
	before := rn.node
	rn.node.LastSeen = time.Now()
	if alive {
		rn.node.Status = StatusOnline
		rn.node.Models = models
		rn.node.LatencyMS = latency
	} else {
		rn.node.Status = StatusOffline
		rn.node.Models = nil
		rn.node.LatencyMS = UnknownLatency
	}
	after := rn.node
	m.mu.Unlock()

	switch {
	case before.Status != StatusOnline && after.Status == StatusOnline:
		m.publish(Event{Type: EventNodeOnline, Node: after})
	case before.Status == StatusOnline && after.Status != StatusOnline:
		m.publish(Event{Type: EventNodeOffline, Node: after})
	case before.Status == StatusOnline && after.Status == StatusOnline && !sameModels(before.Models, after.Models):
		m.publish(Event{Type: EventNodeUpdated, Node: after})
	}
}

func sameModels(a, b []Model) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}
