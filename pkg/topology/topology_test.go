package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-ops/cortex/pkg/models"
	"github.com/cortex-ops/cortex/pkg/services"
)

func agent(id string, parent string) services.Agent {
	a := services.Agent{
		ID:           id,
		Hostname:     id,
		Role:         "probe",
		Status:       models.AgentOnline,
		HealthStatus: "healthy",
	}
	if parent != "" {
		a.ParentID = &parent
	}
	return a
}

func TestBuild_Hierarchy(t *testing.T) {
	tree := Build([]services.Agent{
		agent("root", ""),
		agent("mon-a", "root"),
		agent("mon-b", "root"),
		agent("probe-1", "mon-a"),
		agent("probe-2", "mon-a"),
		agent("probe-3", "mon-b"),
	})

	assert.Equal(t, 6, tree.TotalAgents)
	assert.Equal(t, 3, tree.Depth)

	require.Len(t, tree.Levels["L0"], 1)
	assert.Equal(t, "root", tree.Levels["L0"][0].ID)
	assert.Equal(t, []string{"mon-a", "mon-b"}, tree.Levels["L0"][0].Children)

	require.Len(t, tree.Levels["L1"], 2)
	assert.Equal(t, "mon-a", tree.Levels["L1"][0].ID)
	assert.Equal(t, []string{"probe-1", "probe-2"}, tree.Levels["L1"][0].Children)

	require.Len(t, tree.Levels["L2"], 3)
	assert.Empty(t, tree.Levels["unknown"])
}

func TestBuild_CycleGoesToUnknown(t *testing.T) {
	tree := Build([]services.Agent{
		agent("a", "b"),
		agent("b", "a"),
		agent("root", ""),
		agent("leaf", "root"),
	})

	assert.Equal(t, 4, tree.TotalAgents)
	require.Len(t, tree.Levels["unknown"], 2)
	assert.Equal(t, "a", tree.Levels["unknown"][0].ID)
	assert.Equal(t, -1, tree.Levels["unknown"][0].Level)
	assert.Equal(t, "b", tree.Levels["unknown"][1].ID)

	require.Len(t, tree.Levels["L0"], 1)
	require.Len(t, tree.Levels["L1"], 1)
	assert.Equal(t, 2, tree.Depth)
}

func TestBuild_NodeBelowCycleIsUnknown(t *testing.T) {
	tree := Build([]services.Agent{
		agent("a", "b"),
		agent("b", "a"),
		agent("c", "a"),
	})
	require.Len(t, tree.Levels["unknown"], 3)
}

func TestBuild_DanglingParentGoesToUnknown(t *testing.T) {
	tree := Build([]services.Agent{
		agent("orphan", "missing"),
		agent("root", ""),
	})

	require.Len(t, tree.Levels["unknown"], 1)
	assert.Equal(t, "orphan", tree.Levels["unknown"][0].ID)
	require.Len(t, tree.Levels["L0"], 1)
	assert.Equal(t, 1, tree.Depth)
}

func TestBuild_Empty(t *testing.T) {
	tree := Build(nil)
	assert.Zero(t, tree.TotalAgents)
	assert.Zero(t, tree.Depth)
	assert.Empty(t, tree.Levels)
}
