// Package cluster maintains the live registry of inference nodes, probes
// their health on a timer, and selects the best node for a given model so
// the chat pipeline can obtain a per-turn scoped client.
package cluster

import (
	"math"
	"strings"
	"time"
)

// Status is the liveness state of a Node.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Model describes one model advertised by a node.
type Model struct {
	Name string
}

// Node is a single inference-serving endpoint. Its identity (host:port) is
// unique within the cluster. Latency is always re-measured by health
// probes and never trusted across a process restart.
type Node struct {
	ID        string // host:port
	Host      string
	Port      int
	Name      string
	Status    Status
	Models    []Model
	LatencyMS float64 // UnknownLatency when never measured
	LastSeen  time.Time
}

// UnknownLatency is the sentinel stored in Node.LatencyMS when a node has
// never been successfully probed.
const UnknownLatency = -1

// latencyForSort returns the node's latency for selection purposes,
// mapping UnknownLatency to +Inf so unprobed nodes sort last.
func (n Node) latencyForSort() float64 {
	if n.LatencyMS == UnknownLatency {
		return math.Inf(1)
	}
	return n.LatencyMS
}

// AdvertisesModel reports whether m is a substring of any of the node's
// advertised model identifiers (§4.4 selection: substring, not equality,
// because deployed model identifiers carry vendor/version suffixes).
func (n Node) AdvertisesModel(m string) bool {
	for _, model := range n.Models {
		if strings.Contains(model.Name, m) {
			return true
		}
	}
	return false
}
