package recommend

import (
	"strings"

	"lightning-lens/internal/domain"
)

// NodeIndex resolves a remote pubkey (or its channel ID prefix) to a known
// node name. Build it once per channel snapshot and reuse it for every lookup.
type NodeIndex struct {
	byPubkey map[string]string
	byPrefix map[string]string
	byName   map[string]struct{}
}

// NewNodeIndex indexes nodes by full pubkey, pubkey prefix and name.
// A prefix shared by two different nodes is ambiguous and left out.
func NewNodeIndex(nodes []domain.Node) *NodeIndex {
	idx := &NodeIndex{
		byPubkey: make(map[string]string, len(nodes)),
		byPrefix: make(map[string]string, len(nodes)),
		byName:   make(map[string]struct{}, len(nodes)),
	}
	ambiguous := make(map[string]bool)

	for _, n := range nodes {
		if n.Name == "" {
			continue
		}
		idx.byName[n.Name] = struct{}{}
		if n.Pubkey == "" {
			continue
		}
		key := strings.ToLower(n.Pubkey)
		idx.byPubkey[key] = n.Name

		prefix := domain.PubkeyPrefix(key)
		if existing, ok := idx.byPrefix[prefix]; ok && existing != n.Name {
			ambiguous[prefix] = true
			continue
		}
		idx.byPrefix[prefix] = n.Name
	}
	for p := range ambiguous {
		delete(idx.byPrefix, p)
	}
	return idx
}

// Resolve returns the node name behind a remote pubkey or pubkey prefix.
// Simulated networks sometimes report the peer's name in place of its key,
// so a bare node name also resolves.
func (idx *NodeIndex) Resolve(remote string) (string, bool) {
	if remote == "" {
		return "", false
	}
	key := strings.ToLower(remote)
	if name, ok := idx.byPubkey[key]; ok {
		return name, true
	}
	if name, ok := idx.byPrefix[domain.PubkeyPrefix(key)]; ok {
		return name, true
	}
	if _, ok := idx.byName[remote]; ok {
		return remote, true
	}
	return "", false
}

// Len is the number of indexed node names.
func (idx *NodeIndex) Len() int {
	return len(idx.byName)
}
