package deployment

import (
	"testing"

	"github.com/artpar/stackup/internal/core/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dep(name string) compose.Dependency {
	return compose.Dependency{Service: name, Condition: compose.ConditionStarted}
}

// =============================================================================
// TopologicalSort Tests
// =============================================================================

func TestTopologicalSort_Empty(t *testing.T) {
	result, err := TopologicalSort([]compose.Service{})
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestTopologicalSort_SingleService(t *testing.T) {
	services := []compose.Service{
		{Name: "app"},
	}
	result, err := TopologicalSort(services)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "app", result[0].Name)
}

func TestTopologicalSort_NoDependencies(t *testing.T) {
	services := []compose.Service{
		{Name: "web"},
		{Name: "api"},
		{Name: "db"},
	}
	result, err := TopologicalSort(services)
	require.NoError(t, err)
	require.Len(t, result, 3)
	// Input order preserved when no edges exist
	assert.Equal(t, "web", result[0].Name)
	assert.Equal(t, "api", result[1].Name)
	assert.Equal(t, "db", result[2].Name)
}

func TestTopologicalSort_InstallBeforeApp(t *testing.T) {
	// The two-stage shape: app gates on the install stage completing
	services := []compose.Service{
		{Name: "app", DependsOn: []compose.Dependency{{Service: "install", Condition: compose.ConditionCompleted}}},
		{Name: "install"},
	}
	result, err := TopologicalSort(services)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "install", result[0].Name)
	assert.Equal(t, "app", result[1].Name)
}

func TestTopologicalSort_LinearDependencies(t *testing.T) {
	// web depends on api, api depends on db
	services := []compose.Service{
		{Name: "web", DependsOn: []compose.Dependency{dep("api")}},
		{Name: "api", DependsOn: []compose.Dependency{dep("db")}},
		{Name: "db"},
	}
	result, err := TopologicalSort(services)
	require.NoError(t, err)

	indices := make(map[string]int)
	for i, s := range result {
		indices[s.Name] = i
	}
	assert.Less(t, indices["db"], indices["api"], "db should come before api")
	assert.Less(t, indices["api"], indices["web"], "api should come before web")
}

func TestTopologicalSort_DiamondDependencies(t *testing.T) {
	// web depends on api and cache, both depend on db
	//       web
	//      /   \
	//    api   cache
	//      \   /
	//       db
	services := []compose.Service{
		{Name: "web", DependsOn: []compose.Dependency{dep("api"), dep("cache")}},
		{Name: "api", DependsOn: []compose.Dependency{dep("db")}},
		{Name: "cache", DependsOn: []compose.Dependency{dep("db")}},
		{Name: "db"},
	}
	result, err := TopologicalSort(services)
	require.NoError(t, err)

	indices := make(map[string]int)
	for i, s := range result {
		indices[s.Name] = i
	}

	assert.Equal(t, 0, indices["db"], "db should be first")
	assert.Equal(t, 3, indices["web"], "web should be last")
	assert.Less(t, indices["db"], indices["api"])
	assert.Less(t, indices["db"], indices["cache"])
}

func TestTopologicalSort_MultipleRoots(t *testing.T) {
	// Two independent chains: web→api and worker→db
	services := []compose.Service{
		{Name: "web", DependsOn: []compose.Dependency{dep("api")}},
		{Name: "api"},
		{Name: "worker", DependsOn: []compose.Dependency{dep("db")}},
		{Name: "db"},
	}
	result, err := TopologicalSort(services)
	require.NoError(t, err)

	indices := make(map[string]int)
	for i, s := range result {
		indices[s.Name] = i
	}

	assert.Less(t, indices["api"], indices["web"])
	assert.Less(t, indices["db"], indices["worker"])
}

func TestTopologicalSort_Cycle(t *testing.T) {
	services := []compose.Service{
		{Name: "a", DependsOn: []compose.Dependency{dep("b")}},
		{Name: "b", DependsOn: []compose.Dependency{dep("a")}},
	}
	_, err := TopologicalSort(services)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDependencyCycle)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
}

func TestTopologicalSort_PartialCycle(t *testing.T) {
	// c has no dependencies, a and b form a cycle
	services := []compose.Service{
		{Name: "a", DependsOn: []compose.Dependency{dep("b")}},
		{Name: "b", DependsOn: []compose.Dependency{dep("a")}},
		{Name: "c"},
	}
	_, err := TopologicalSort(services)
	assert.ErrorIs(t, err, ErrDependencyCycle)
}

func TestTopologicalSort_DeepChain(t *testing.T) {
	// a → b → c → d → e
	services := []compose.Service{
		{Name: "a", DependsOn: []compose.Dependency{dep("b")}},
		{Name: "b", DependsOn: []compose.Dependency{dep("c")}},
		{Name: "c", DependsOn: []compose.Dependency{dep("d")}},
		{Name: "d", DependsOn: []compose.Dependency{dep("e")}},
		{Name: "e"},
	}
	result, err := TopologicalSort(services)
	require.NoError(t, err)

	expected := []string{"e", "d", "c", "b", "a"}
	for i, name := range expected {
		assert.Equal(t, name, result[i].Name)
	}
}

func TestTopologicalSort_PreservesServiceData(t *testing.T) {
	services := []compose.Service{
		{
			Name:        "app",
			Image:       "feedmixer:latest",
			DependsOn:   []compose.Dependency{dep("install")},
			Environment: map[string]string{"LANG": "C.UTF-8"},
		},
		{
			Name:  "install",
			Image: "base:1.0",
		},
	}
	result, err := TopologicalSort(services)
	require.NoError(t, err)

	var app compose.Service
	for _, s := range result {
		if s.Name == "app" {
			app = s
			break
		}
	}

	assert.Equal(t, "feedmixer:latest", app.Image)
	assert.Equal(t, "C.UTF-8", app.Environment["LANG"])
	require.Len(t, app.DependsOn, 1)
	assert.Equal(t, "install", app.DependsOn[0].Service)
}
