package deployment

import (
	"errors"
	"fmt"

	"github.com/artpar/stackup/internal/core/compose"
)

// ErrDependencyCycle is returned when no start order exists for the services.
var ErrDependencyCycle = errors.New("no valid start order: dependency cycle")

// =============================================================================
// Service Ordering Functions
// =============================================================================

// TopologicalSort sorts services by their dependencies using Kahn's algorithm.
// Services with no dependencies come first.
//
// The function implements a BFS-based topological sort:
//  1. Build a map of service dependencies (in-degree)
//  2. Start with services that have no dependencies (in-degree = 0)
//  3. Process each service, reducing the in-degree of its dependents
//  4. When a dependent's in-degree reaches 0, add it to the queue
//
// If a cycle exists, no order satisfies the dependency edges and
// ErrDependencyCycle is returned naming the services left in the cycle.
//
// Example:
//
//	// Services: app → install
//	services := []compose.Service{
//	    {Name: "app", DependsOn: []compose.Dependency{{Service: "install"}}},
//	    {Name: "install"},
//	}
//	sorted, err := TopologicalSort(services)
//	// Result: [install, app]
func TopologicalSort(services []compose.Service) ([]compose.Service, error) {
	if len(services) == 0 {
		return services, nil
	}

	// Build dependency graph
	serviceMap := make(map[string]compose.Service)
	inDegree := make(map[string]int)
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep.Service] = append(dependents[dep.Service], svc.Name)
		}
	}

	// Start with services that have no dependencies, preserving input order
	var queue []string
	for _, svc := range services {
		if inDegree[svc.Name] == 0 {
			queue = append(queue, svc.Name)
		}
	}

	// Process queue (BFS)
	var result []compose.Service
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if svc, ok := serviceMap[name]; ok {
			result = append(result, svc)
		}

		// Reduce in-degree for dependents
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	// Services left unprocessed are part of (or downstream of) a cycle
	if len(result) < len(services) {
		placed := make(map[string]bool, len(result))
		for _, svc := range result {
			placed[svc.Name] = true
		}
		var remaining []string
		for _, svc := range services {
			if !placed[svc.Name] {
				remaining = append(remaining, svc.Name)
			}
		}
		return nil, fmt.Errorf("%w involving %v", ErrDependencyCycle, remaining)
	}

	return result, nil
}
