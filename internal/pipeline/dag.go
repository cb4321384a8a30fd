package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCycle is returned when the steps' After lists form a cycle.
var ErrCycle = errors.New("pipeline contains a cycle")

// DAGResult holds the result of DAG analysis.
type DAGResult struct {
	// Edges maps each step name to the step names it waits for.
	Edges map[string][]string
	// Order is a topological order of the steps (submission order).
	Order []string
}

// BuildDAG orders the pipeline's steps with Kahn's algorithm. Ties are
// broken by declaration order so independent steps keep the order in which
// they were written. A cycle, including a step listing itself in After, is
// an error naming the steps involved.
func BuildDAG(p *Pipeline) (*DAGResult, error) {
	position := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		position[s.Name] = i
	}

	// forward[A] = [B] means A must complete before B.
	forward := make(map[string][]string, len(p.Steps))
	deps := make(map[string][]string, len(p.Steps))
	inDegree := make(map[string]int, len(p.Steps))
	for _, s := range p.Steps {
		inDegree[s.Name] = 0
	}

	for _, s := range p.Steps {
		seen := make(map[string]bool)
		for _, dep := range s.After {
			if dep == s.Name {
				return nil, fmt.Errorf("%w involving steps: %s", ErrCycle, s.Name)
			}
			if _, ok := position[dep]; !ok {
				return nil, fmt.Errorf("step %q waits for unknown step %q", s.Name, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			forward[dep] = append(forward[dep], s.Name)
			deps[s.Name] = append(deps[s.Name], dep)
			inDegree[s.Name]++
		}
	}

	byPosition := func(names []string) {
		sort.Slice(names, func(i, j int) bool { return position[names[i]] < position[names[j]] })
	}

	var queue []string
	for _, s := range p.Steps {
		if inDegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}

	order := make([]string, 0, len(p.Steps))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, succ := range forward[node] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
		byPosition(queue)
	}

	if len(order) != len(p.Steps) {
		var cycleNodes []string
		for name, deg := range inDegree {
			if deg > 0 {
				cycleNodes = append(cycleNodes, name)
			}
		}
		sort.Strings(cycleNodes)
		return nil, fmt.Errorf("%w involving steps: %s", ErrCycle, strings.Join(cycleNodes, ", "))
	}

	return &DAGResult{Edges: deps, Order: order}, nil
}
