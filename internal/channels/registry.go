// Package channels keeps the latest observed state of every channel and the
// set of nodes seen on the network.
package channels

import (
	"sort"
	"strings"
	"sync"

	"lightning-lens/internal/domain"
)

// Registry is the live network view. It is updated from telemetry and read
// by the recommendation path.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.ChannelState
	nodes    map[string]string // name -> pubkey ("" when unknown)
}

// NewRegistry creates a registry seeded with statically configured nodes.
func NewRegistry(nodes ...domain.Node) *Registry {
	r := &Registry{
		channels: make(map[string]domain.ChannelState),
		nodes:    make(map[string]string),
	}
	for _, n := range nodes {
		r.RegisterNode(n)
	}
	return r
}

// RegisterNode adds or updates a known node. A later non-empty pubkey wins.
func (r *Registry) RegisterNode(n domain.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(n.Name, n.Pubkey)
}

func (r *Registry) registerLocked(name, pubkey string) {
	if name == "" {
		return
	}
	pubkey = strings.ToLower(strings.TrimSpace(pubkey))
	if _, ok := r.nodes[name]; !ok || pubkey != "" {
		r.nodes[name] = pubkey
	}
}

// Observe folds a telemetry event into the registry. Channel states replace
// the previous state of the same channel unless they are older.
func (r *Registry) Observe(ev domain.TelemetryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case domain.ChannelState:
		r.observeLocked(e)
	case domain.Transaction:
		r.registerLocked(e.Sender, "")
		r.registerLocked(e.Receiver, "")
		for _, cs := range e.ChannelsAfter {
			if cs.Timestamp.IsZero() {
				cs.Timestamp = e.Timestamp
			}
			r.observeLocked(cs)
		}
	}
}

func (r *Registry) observeLocked(cs domain.ChannelState) {
	r.registerLocked(cs.Node, cs.NodePubkey)
	if cs.ChannelID == "" || cs.Capacity <= 0 {
		return
	}
	if prev, ok := r.channels[cs.ChannelID]; ok && cs.Timestamp.Before(prev.Timestamp) {
		return
	}
	r.channels[cs.ChannelID] = cs
}

// CurrentChannelStates returns the latest state of every channel, ordered by channel ID.
func (r *Registry) CurrentChannelStates() []domain.ChannelSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ChannelSnapshot, 0, len(r.channels))
	for _, cs := range r.channels {
		out = append(out, domain.ChannelSnapshot{
			ChannelID:     cs.ChannelID,
			Node:          cs.Node,
			RemotePubkey:  cs.RemotePubkey,
			Capacity:      cs.Capacity,
			LocalBalance:  cs.LocalBalance,
			RemoteBalance: cs.RemoteBalance,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

// KnownNodes returns every node seen so far, ordered by name.
func (r *Registry) KnownNodes() []domain.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Node, 0, len(r.nodes))
	for name, pk := range r.nodes {
		out = append(out, domain.Node{Name: name, Pubkey: pk})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of tracked channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
