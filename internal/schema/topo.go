package schema

import "fmt"

// topoSortTables orders tables so that every table appears after all tables
// it DependsOn (Kahn's algorithm). A cycle is a programming
// error in the static registry, not a runtime condition, so it panics.
func topoSortTables(tables []TableDescriptor) []TableDescriptor {
	byName := make(map[string]TableDescriptor, len(tables))
	indegree := make(map[string]int, len(tables))
	dependents := make(map[string][]string, len(tables))

	for _, t := range tables {
		byName[t.Name] = t
		if _, ok := indegree[t.Name]; !ok {
			indegree[t.Name] = 0
		}
	}
	for _, t := range tables {
		for _, dep := range t.DependsOn {
			indegree[t.Name]++
			dependents[dep] = append(dependents[dep], t.Name)
		}
	}

	var ready []string
	for _, t := range tables {
		if indegree[t.Name] == 0 {
			ready = append(ready, t.Name)
		}
	}

	var ordered []string
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		ordered = append(ordered, n)
		for _, dep := range dependents[n] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(ordered) != len(tables) {
		panic(fmt.Sprintf("schema: dependency cycle detected among tables (resolved %d of %d)", len(ordered), len(tables)))
	}

	out := make([]TableDescriptor, len(ordered))
	for i, name := range ordered {
		out[i] = byName[name]
	}
	return out
}
