package store

// ValidateDependencies checks whether giving candidate the proposed
// dependency list would close a cycle in the graph described by depsOf.
// depsOf must return the current dependency ids for any task id; the walk
// substitutes proposed for candidate's own entry so the check sees the
// graph as it would be after the edit.
//
// The walk is iterative depth-first with an on-path set, so it reports the
// exact cycle path and terminates on shared diamond-shaped subgraphs
// without revisiting explored nodes.
func ValidateDependencies(candidate string, proposed []string, depsOf func(string) []string) error {
	deps := func(id string) []string {
		if id == candidate {
			return proposed
		}
		return depsOf(id)
	}

	const (
		unvisited = 0
		onPath    = 1
		explored  = 2
	)
	state := make(map[string]int)

	type frame struct {
		id   string
		next int
	}

	var stack []frame
	push := func(id string) {
		state[id] = onPath
		stack = append(stack, frame{id: id})
	}

	push(candidate)
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		kids := deps(top.id)
		if top.next >= len(kids) {
			state[top.id] = explored
			stack = stack[:len(stack)-1]
			continue
		}
		kid := kids[top.next]
		top.next++
		switch state[kid] {
		case onPath:
			// Walk back up the stack to the first occurrence of kid and
			// report that loop.
			var path []string
			start := 0
			for i, f := range stack {
				if f.id == kid {
					start = i
					break
				}
			}
			for _, f := range stack[start:] {
				path = append(path, f.id)
			}
			path = append(path, kid)
			return &CircularDependencyError{Path: path}
		case unvisited:
			push(kid)
		}
	}
	return nil
}

// dependents returns the ids of tasks that list id among their
// dependencies. Archived tasks are skipped: they no longer constrain
// deletion or completion.
func (r *Root) dependents(id string) []string {
	var out []string
	for _, t := range r.Tasks {
		if t.Archived {
			continue
		}
		for _, dep := range t.Dependencies {
			if dep == id {
				out = append(out, t.ID)
				break
			}
		}
	}
	return out
}

// recomputeBlockedBy refreshes a task's derived BlockedBy list: the subset
// of its dependencies that exist and are not completed.
func (r *Root) recomputeBlockedBy(t *Task) {
	t.BlockedBy = nil
	for _, dep := range t.Dependencies {
		d, ok := r.Tasks[dep]
		if !ok {
			continue
		}
		if d.Status != StatusCompleted {
			t.BlockedBy = append(t.BlockedBy, dep)
		}
	}
}
