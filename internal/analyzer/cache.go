// Package analyzer owns the background graph-analytics cycle: batch
// aggregation, centrality/community algorithms and collusion-pattern
// detection. The per-transaction path only reads its outputs.
package analyzer

import (
	"sync/atomic"

	"github.com/fraudnet/backend/internal/graph"
)

// Snapshot is one immutable generation of collusion-detection results.
// Lookups are pre-indexed so the scoring path stays O(1).
type Snapshot struct {
	Islands []graph.FraudIsland
	Routers []graph.MoneyRouter
	Rings   []graph.CircularFlow
	Chains  []graph.RapidChain
	Hubs    []graph.StarHub
	Relays  []graph.RelayMule

	userClusters map[string][]string
	routerIDs    map[string]struct{}
	ringMembers  map[string]struct{}
	hubTypes     map[string]string
	relayIDs     map[string]struct{}
}

// index builds the per-user lookup tables. Called once before the
// snapshot is published; the snapshot is read-only afterwards.
func (s *Snapshot) index() {
	s.userClusters = make(map[string][]string)
	for _, island := range s.Islands {
		for _, uid := range island.MemberIDs {
			s.userClusters[uid] = append(s.userClusters[uid], island.ClusterID)
		}
	}
	s.routerIDs = make(map[string]struct{}, len(s.Routers))
	for _, r := range s.Routers {
		s.routerIDs[r.UserID] = struct{}{}
	}
	s.ringMembers = make(map[string]struct{}, 3*len(s.Rings))
	for _, ring := range s.Rings {
		s.ringMembers[ring.NodeA] = struct{}{}
		s.ringMembers[ring.NodeB] = struct{}{}
		s.ringMembers[ring.NodeC] = struct{}{}
	}
	s.hubTypes = make(map[string]string, len(s.Hubs))
	for _, hub := range s.Hubs {
		if _, ok := s.hubTypes[hub.UserID]; !ok {
			s.hubTypes[hub.UserID] = hub.HubType
		}
	}
	s.relayIDs = make(map[string]struct{}, len(s.Relays))
	for _, relay := range s.Relays {
		s.relayIDs[relay.UserID] = struct{}{}
	}
}

// Cache publishes snapshots to the scoring path. Writers swap whole
// generations; readers never block.
type Cache struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

func NewCache() *Cache {
	c := &Cache{}
	empty := &Snapshot{}
	empty.index()
	c.current.Store(empty)
	return c
}

// Swap publishes a new generation and bumps the version counter.
func (c *Cache) Swap(s *Snapshot) {
	s.index()
	c.current.Store(s)
	c.version.Add(1)
}

// Snapshot returns the current generation.
func (c *Cache) Snapshot() *Snapshot { return c.current.Load() }

// Version is the number of completed refreshes since startup.
func (c *Cache) Version() uint64 { return c.version.Load() }

// UserFlags returns the cached collusion flags for a user.
func (c *Cache) UserFlags(userID string) []string {
	s := c.current.Load()
	var flags []string
	for _, cid := range s.userClusters[userID] {
		flags = append(flags, "Part of Fraud Cluster "+cid)
	}
	if _, ok := s.routerIDs[userID]; ok {
		flags = append(flags, "Money Router (High Betweenness)")
	}
	if _, ok := s.ringMembers[userID]; ok {
		flags = append(flags, "Circular Money Flow Detected")
	}
	if hubType, ok := s.hubTypes[userID]; ok {
		if hubType == "" {
			hubType = "RELAY"
		}
		flags = append(flags, "Star Hub ("+hubType+")")
	}
	if _, ok := s.relayIDs[userID]; ok {
		flags = append(flags, "HIGH_VELOCITY_RELAY: rapid fund relay pattern")
	}
	return flags
}

// UserClusterID returns the primary fraud cluster a user belongs to, or
// empty when the user is in none.
func (c *Cache) UserClusterID(userID string) string {
	clusters := c.current.Load().userClusters[userID]
	if len(clusters) == 0 {
		return ""
	}
	return clusters[0]
}

// Summary is the dashboard view of the current generation.
func (c *Cache) Summary() map[string]any {
	s := c.current.Load()
	return map[string]any{
		"fraud_islands":  len(s.Islands),
		"money_routers":  len(s.Routers),
		"circular_flows": len(s.Rings),
		"rapid_chains":   len(s.Chains),
		"star_hubs":      len(s.Hubs),
		"relay_mules":    len(s.Relays),
		"details": map[string]any{
			"islands": head(s.Islands, 10),
			"routers": head(s.Routers, 10),
			"rings":   head(s.Rings, 10),
			"chains":  head(s.Chains, 10),
			"hubs":    head(s.Hubs, 10),
			"relays":  head(s.Relays, 10),
		},
	}
}

func head[T any](xs []T, n int) []T {
	if xs == nil {
		return []T{}
	}
	if len(xs) <= n {
		return xs
	}
	return xs[:n]
}
