// Package mutation turns a code generation summary into file changes: it
// orders the planned updates by dependency, asks the model for each file's
// new content, and applies the result after confirmation.
package mutation

import (
	"fmt"
	"sort"
	"strings"
)

// Update tools a FileUpdate may name.
const (
	ToolCreateFile      = "createFile"
	ToolUpdateFile      = "updateFile"
	ToolPatchFile       = "patchFile"
	ToolDeleteFile      = "deleteFile"
	ToolCreateDirectory = "createDirectory"
	ToolMoveFile        = "moveFile"
	ToolGenerateImage   = "generateImage"
	ToolDownloadFile    = "downloadFile"
)

// UpdateTools lists the tools a planned update may use.
var UpdateTools = []string{
	ToolCreateFile, ToolUpdateFile, ToolPatchFile, ToolDeleteFile,
	ToolCreateDirectory, ToolMoveFile, ToolGenerateImage,
}

// FileUpdate is one planned change.
type FileUpdate struct {
	ID                 string   `json:"id"`
	FilePath           string   `json:"filePath"`
	UpdateToolName     string   `json:"updateToolName"`
	Prompt             string   `json:"prompt"`
	Temperature        float32  `json:"temperature,omitempty"`
	Cheap              bool     `json:"cheap,omitempty"`
	ContextImageAssets []string `json:"contextImageAssets,omitempty"`
	DependsOn          []string `json:"dependsOn,omitempty"`
}

// CodegenSummary is the plan produced before code generation.
type CodegenSummary struct {
	Explanation  string       `json:"explanation"`
	FileUpdates  []FileUpdate `json:"fileUpdates"`
	ContextPaths []string     `json:"contextPaths,omitempty"`
}

// DependencyCycleError reports a component of the batch that cannot be ordered.
type DependencyCycleError struct {
	Cycle    []string            // ids left unordered by a cycle
	Dangling map[string][]string // id -> dependencies missing from the batch
	Rejected []string            // every id of the component, sorted
}

func (e *DependencyCycleError) Error() string {
	var parts []string
	if len(e.Cycle) > 0 {
		parts = append(parts, "cycle between "+strings.Join(e.Cycle, ", "))
	}
	for _, id := range sortedKeys(e.Dangling) {
		parts = append(parts, fmt.Sprintf("%s depends on unknown %s", id, strings.Join(e.Dangling[id], ", ")))
	}
	if len(parts) == 0 {
		parts = append(parts, "duplicate ids")
	}
	return fmt.Sprintf("cannot order updates %s: %s", strings.Join(e.Rejected, ", "), strings.Join(parts, "; "))
}

// Plan is the ordered execution of a batch.
type Plan struct {
	// Layers are processed in order. Updates within a layer do not depend on each other.
	Layers [][]FileUpdate
	// Errors lists the rejected components.
	Errors []*DependencyCycleError
}

// Len returns the number of scheduled updates.
func (p Plan) Len() int {
	n := 0
	for _, l := range p.Layers {
		n += len(l)
	}
	return n
}

// NewPlan orders updates by DependsOn. A component of the dependency graph that
// contains a cycle, a reference to an id outside the batch, or a duplicate id
// is rejected as a whole; other components are still scheduled.
func NewPlan(updates []FileUpdate) Plan {
	index := make(map[string]int, len(updates))
	duplicate := make(map[string]bool)
	for i, u := range updates {
		if _, ok := index[u.ID]; ok {
			duplicate[u.ID] = true
			continue
		}
		index[u.ID] = i
	}

	// Weakly connected components over known edges.
	parent := make(map[string]string, len(index))
	var find func(string) string
	find = func(x string) string {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for id := range index {
		parent[id] = id
	}
	dangling := make(map[string][]string)
	for id, i := range index {
		for _, dep := range updates[i].DependsOn {
			if _, ok := index[dep]; !ok {
				dangling[id] = append(dangling[id], dep)
				continue
			}
			parent[find(id)] = find(dep)
		}
	}

	// Kahn's algorithm by layer.
	indegree := make(map[string]int, len(index))
	dependents := make(map[string][]string)
	for id, i := range index {
		for _, dep := range uniq(updates[i].DependsOn) {
			if _, ok := index[dep]; !ok {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}
	level := make(map[string]int, len(index))
	var queue []string
	for id := range index {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	ordered := make(map[string]bool, len(index))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered[id] = true
		for _, d := range dependents[id] {
			if level[id]+1 > level[d] {
				level[d] = level[id] + 1
			}
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	// Mark bad components.
	bad := make(map[string]*DependencyCycleError)
	mark := func(id string) *DependencyCycleError {
		root := find(id)
		if bad[root] == nil {
			bad[root] = &DependencyCycleError{Dangling: map[string][]string{}}
		}
		return bad[root]
	}
	for id := range index {
		if !ordered[id] {
			e := mark(id)
			e.Cycle = append(e.Cycle, id)
		}
		if deps, ok := dangling[id]; ok {
			e := mark(id)
			e.Dangling[id] = deps
		}
		if duplicate[id] {
			mark(id)
		}
	}

	var plan Plan
	for id := range index {
		if e, ok := bad[find(id)]; ok {
			e.Rejected = append(e.Rejected, id)
		}
	}
	for _, e := range bad {
		sort.Strings(e.Cycle)
		sort.Strings(e.Rejected)
		plan.Errors = append(plan.Errors, e)
	}
	sort.Slice(plan.Errors, func(i, j int) bool { return plan.Errors[i].Rejected[0] < plan.Errors[j].Rejected[0] })

	for i, u := range updates {
		if index[u.ID] != i {
			continue // duplicate
		}
		if _, rejected := bad[find(u.ID)]; rejected {
			continue
		}
		l := level[u.ID]
		for len(plan.Layers) <= l {
			plan.Layers = append(plan.Layers, nil)
		}
		plan.Layers[l] = append(plan.Layers[l], u)
	}
	return plan
}

func uniq(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
