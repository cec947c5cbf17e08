package workflow

import (
	"fmt"
	"sort"
)

// DependencyError reports dependency references that do not resolve to a
// step in the workflow. Build returns this before attempting cycle
// detection, since an unresolvable reference makes a traversal meaningless.
type DependencyError struct {
	MissingRefs []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dag: unresolved dependency references: %v", e.MissingRefs)
}

// CycleError reports a cycle discovered during Build. Cycle names at least
// one step id on the offending cycle, in DFS discovery order.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dag: cycle detected: %v", e.Cycle)
}

// Dag is the dependency graph view derived from a validated Workflow: node
// set = step ids, edge set = (dependency -> dependent) for every declared
// dependency. It is immutable for the life of an execution.
type Dag struct {
	workflow *Workflow
	// forward[stepID] = steps that depend on stepID (successors)
	forward map[string][]string
	// ids in deterministic (lexicographic) order, used to seed iteration
	ids []string
}

// Build constructs a Dag from a workflow that has already passed
// Workflow.Validate. It fails with *DependencyError if any dependency is
// unknown (defensive — Validate should already have caught this) and with
// *CycleError if the dependency relation is not acyclic.
func Build(w *Workflow) (*Dag, error) {
	ids := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		ids[s.ID] = true
	}

	var missing []string
	forward := make(map[string][]string, len(w.Steps))
	for _, s := range w.Steps {
		for _, dep := range s.Dependencies {
			if !ids[dep] {
				missing = append(missing, fmt.Sprintf("%s -> %s", s.ID, dep))
				continue
			}
			forward[dep] = append(forward[dep], s.ID)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &DependencyError{MissingRefs: missing}
	}

	sortedIDs := make([]string, 0, len(w.Steps))
	for id := range ids {
		sortedIDs = append(sortedIDs, id)
	}
	sort.Strings(sortedIDs)
	for _, succs := range forward {
		sort.Strings(succs)
	}

	d := &Dag{workflow: w, forward: forward, ids: sortedIDs}
	if cycle := d.findCycle(); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}
	return d, nil
}

// findCycle runs DFS from every node (in deterministic order) tracking the
// recursion stack; a back-edge into the stack means a cycle. The graph has
// no designated entry node, so every unvisited node starts a traversal.
func (d *Dag) findCycle() []string {
	visited := make(map[string]bool, len(d.ids))
	recStack := make(map[string]bool, len(d.ids))
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, succ := range d.forward[id] {
			if !visited[succ] {
				if cyc := visit(succ); cyc != nil {
					return cyc
				}
			} else if recStack[succ] {
				// Found the back-edge; report the cycle starting at succ.
				start := 0
				for i, p := range path {
					if p == succ {
						start = i
						break
					}
				}
				cyc := append([]string{}, path[start:]...)
				return append(cyc, succ)
			}
		}

		path = path[:len(path)-1]
		recStack[id] = false
		return nil
	}

	for _, id := range d.ids {
		if !visited[id] {
			if cyc := visit(id); cyc != nil {
				return cyc
			}
		}
	}
	return nil
}

// TopologicalOrder returns a deterministic linear extension of the
// dependency relation: a Kahn's-algorithm topological sort with ties
// between simultaneously-ready nodes broken lexicographically by step id.
func (d *Dag) TopologicalOrder() []string {
	indegree := make(map[string]int, len(d.ids))
	for _, id := range d.ids {
		indegree[id] = 0
	}
	for _, s := range d.workflow.Steps {
		indegree[s.ID] = len(s.Dependencies)
	}

	ready := make([]string, 0, len(d.ids))
	for _, id := range d.ids {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(d.ids))
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var newlyReady []string
		for _, succ := range d.forward[next] {
			indegree[succ]--
			if indegree[succ] == 0 {
				newlyReady = append(newlyReady, succ)
			}
		}
		sort.Strings(newlyReady)
		ready = append(ready, newlyReady...)
		sort.Strings(ready)
	}
	return order
}

// ParallelGroups stratifies steps by dependency depth: group 0 is every
// step with no dependencies, group N is every step whose dependencies are
// all satisfied by groups < N and at least one dependency is in group N-1.
// Used for tests and diagnostics only — the scheduler does not consult
// this, it computes readiness incrementally via ReadySuccessors.
func (d *Dag) ParallelGroups() [][]string {
	depth := make(map[string]int, len(d.ids))
	for _, id := range d.TopologicalOrder() {
		step, _ := d.workflow.StepByID(id)
		max := -1
		for _, dep := range step.Dependencies {
			if depth[dep] > max {
				max = depth[dep]
			}
		}
		depth[id] = max + 1
	}

	var groups [][]string
	for _, id := range d.ids {
		g := depth[id]
		for len(groups) <= g {
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], id)
	}
	for _, g := range groups {
		sort.Strings(g)
	}
	return groups
}

// ReadySuccessors returns the set of steps that became ready to run as a
// direct result of completedID reaching a terminal status, i.e. every
// successor of completedID whose *entire* dependency set is now terminal
// and none of whose dependencies failed.
// terminalStatus reports the current status of any step id; it is supplied
// by the caller (normally the scheduler, backed by the execution context)
// rather than owned by the Dag, since readiness also depends on steps
// outside completedID's immediate successors.
func (d *Dag) ReadySuccessors(completedID string, terminalStatus func(stepID string) (status StepStatus, isTerminal bool)) []string {
	var ready []string
	for _, succ := range d.forward[completedID] {
		step, ok := d.workflow.StepByID(succ)
		if !ok {
			continue
		}
		allTerminal := true
		anyFailed := false
		for _, dep := range step.Dependencies {
			status, terminal := terminalStatus(dep)
			if !terminal {
				allTerminal = false
				break
			}
			if status == StepStatusFailed {
				anyFailed = true
			}
		}
		if allTerminal && !anyFailed {
			ready = append(ready, succ)
		}
	}
	sort.Strings(ready)
	return ready
}

// Roots returns every step with no dependencies, in lexicographic order —
// the initial ready set for a fresh execution.
func (d *Dag) Roots() []string {
	var roots []string
	for _, s := range d.workflow.Steps {
		if len(s.Dependencies) == 0 {
			roots = append(roots, s.ID)
		}
	}
	sort.Strings(roots)
	return roots
}

// StepIDs returns all step ids in lexicographic order.
func (d *Dag) StepIDs() []string {
	out := make([]string, len(d.ids))
	copy(out, d.ids)
	return out
}

// Workflow returns the workflow this Dag was built from.
func (d *Dag) Workflow() *Workflow {
	return d.workflow
}
