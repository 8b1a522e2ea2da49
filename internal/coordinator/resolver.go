package coordinator

import (
	"sort"

	"github.com/datanger/gemini-cli/pkg/models"
)

// Partition is the result of resolving a pending invocation set against
// the completed set. Every input invocation lands in exactly one bucket.
type Partition struct {
	// Executable lists invocations whose dependencies are all satisfied.
	Executable []*models.Invocation
	// Blocked lists invocations with at least one unmet dependency.
	Blocked []*models.Invocation
	// Circular lists invocations that participate in a dependency cycle.
	// These are permanently excluded and must never be executed.
	Circular []*models.Invocation
}

// DependencyResolver performs pure graph analysis over invocation
// dependency edges. Dependencies are opaque identifiers; the resolver
// has no knowledge of their meaning.
type DependencyResolver struct{}

// NewDependencyResolver creates a new DependencyResolver.
func NewDependencyResolver() *DependencyResolver {
	return &DependencyResolver{}
}

// Resolve partitions the pending set into executable, blocked, and
// circular invocations. A dependency is satisfied when its ID appears in
// completed or when it does not reference any pending invocation and is
// marked complete externally. Cycle members are detected first so a
// cyclic invocation is never reported as merely blocked.
func (r *DependencyResolver) Resolve(pending []*models.Invocation, completed map[string]bool) Partition {
	var part Partition

	cyclic := r.findCycles(pending)

	for _, inv := range pending {
		if cyclic[inv.ID] {
			part.Circular = append(part.Circular, inv)
			continue
		}

		ready := true
		for _, depID := range inv.DependsOn {
			if !completed[depID] {
				ready = false
				break
			}
		}

		if ready {
			part.Executable = append(part.Executable, inv)
		} else {
			part.Blocked = append(part.Blocked, inv)
		}
	}

	return part
}

// findCycles returns the set of invocation IDs that participate in a
// dependency cycle among the pending set. An invocation is cyclic when a
// depth-first walk of its dependency edges revisits it; invocations that
// merely depend on a cycle are blocked, not circular. Edges to IDs
// outside the pending set are ignored since they cannot close a cycle
// within it.
func (r *DependencyResolver) findCycles(pending []*models.Invocation) map[string]bool {
	byID := make(map[string]*models.Invocation, len(pending))
	for _, inv := range pending {
		byID[inv.ID] = inv
	}

	cyclic := make(map[string]bool)
	for _, inv := range pending {
		if cyclic[inv.ID] {
			continue
		}
		if revisits(byID, inv.ID, inv.ID, make(map[string]bool)) {
			cyclic[inv.ID] = true
		}
	}
	return cyclic
}

// revisits reports whether a depth-first walk from from's dependencies
// reaches target again within the pending set.
func revisits(byID map[string]*models.Invocation, from, target string, seen map[string]bool) bool {
	inv, ok := byID[from]
	if !ok {
		return false
	}
	for _, depID := range inv.DependsOn {
		if depID == target {
			return true
		}
		if seen[depID] {
			continue
		}
		seen[depID] = true
		if revisits(byID, depID, target, seen) {
			return true
		}
	}
	return false
}

// SortByPriority orders invocations descending by numeric priority.
// The sort is stable: input order breaks ties.
func (r *DependencyResolver) SortByPriority(invs []*models.Invocation) []*models.Invocation {
	sorted := append([]*models.Invocation(nil), invs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}

// UpdateDependencies drops satisfied references to completedID from
// every pending invocation's dependency set.
func (r *DependencyResolver) UpdateDependencies(pending []*models.Invocation, completedID string) {
	for _, inv := range pending {
		if len(inv.DependsOn) == 0 {
			continue
		}
		deps := inv.DependsOn[:0]
		for _, depID := range inv.DependsOn {
			if depID != completedID {
				deps = append(deps, depID)
			}
		}
		inv.DependsOn = deps
	}
}
