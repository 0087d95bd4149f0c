// Package topology computes the cluster tree from the agent registry.
package topology

import (
	"fmt"
	"sort"

	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/services"
)

// unknownLevel marks nodes whose depth cannot be resolved: parent chains
// containing a cycle or a reference to an unregistered agent.
const unknownLevel = -1

// Node is one agent placed in the tree.
type Node struct {
	ID           string             `json:"id"`
	Hostname     string             `json:"hostname"`
	Role         string             `json:"role"`
	ParentID     *string            `json:"parent_id,omitempty"`
	Status       models.AgentStatus `json:"status"`
	HealthStatus string             `json:"health_status"`
	Level        int                `json:"level"`
	Children     []string           `json:"children,omitempty"`
}

// Tree is the computed cluster hierarchy, bucketed by depth.
type Tree struct {
	TotalAgents int               `json:"total_agents"`
	Depth       int               `json:"depth"`
	Levels      map[string][]Node `json:"levels"`
}

// Build places every agent at its depth in the tree. Roots sit at L0.
// Agents in a parent cycle, or below a parent that is not registered, land
// in the unknown bucket.
func Build(agents []services.Agent) *Tree {
	byID := make(map[string]*services.Agent, len(agents))
	children := make(map[string][]string)
	for i := range agents {
		byID[agents[i].ID] = &agents[i]
	}
	for i := range agents {
		a := &agents[i]
		if a.ParentID != nil && *a.ParentID != "" {
			if _, ok := byID[*a.ParentID]; ok {
				children[*a.ParentID] = append(children[*a.ParentID], a.ID)
			}
		}
	}

	levels := make(map[string]int, len(agents))
	for id := range byID {
		resolveLevel(id, byID, levels)
	}

	tree := &Tree{Levels: make(map[string][]Node)}
	for _, a := range agents {
		level := levels[a.ID]
		bucket := "unknown"
		if level >= 0 {
			bucket = fmt.Sprintf("L%d", level)
			if level+1 > tree.Depth {
				tree.Depth = level + 1
			}
		}

		kids := children[a.ID]
		sort.Strings(kids)
		tree.Levels[bucket] = append(tree.Levels[bucket], Node{
			ID:           a.ID,
			Hostname:     a.Hostname,
			Role:         a.Role,
			ParentID:     a.ParentID,
			Status:       a.Status,
			HealthStatus: a.HealthStatus,
			Level:        level,
			Children:     kids,
		})
		tree.TotalAgents++
	}

	for _, nodes := range tree.Levels {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	}
	return tree
}

// resolveLevel walks the parent chain with a visited set. Already-computed
// levels short-circuit the walk, so the whole build is linear.
func resolveLevel(id string, byID map[string]*services.Agent, levels map[string]int) int {
	if level, ok := levels[id]; ok {
		return level
	}

	visited := map[string]bool{}
	var chain []string
	cur := id
	level := unknownLevel

	for {
		if cached, ok := levels[cur]; ok {
			level = cached
			break
		}
		if visited[cur] {
			// Cycle: every node on the chain is unresolvable.
			break
		}
		visited[cur] = true
		chain = append(chain, cur)

		agent := byID[cur]
		if agent.ParentID == nil || *agent.ParentID == "" {
			level = 0
			break
		}
		parent, ok := byID[*agent.ParentID]
		if !ok {
			// Dangling parent reference.
			break
		}
		cur = parent.ID
	}

	// Assign levels walking back down the chain.
	for i := len(chain) - 1; i >= 0; i-- {
		if level == unknownLevel {
			levels[chain[i]] = unknownLevel
		} else {
			if chain[i] != cur {
				level++
			}
			levels[chain[i]] = level
		}
	}
	return levels[id]
}
