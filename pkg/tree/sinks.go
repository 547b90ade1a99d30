package tree

import "github.com/choraleia/styletree/pkg/models"

// StructureListener receives scoped structural changes. Calls are made on the
// tree-owner goroutine; implementations must not call back into the Tree
// synchronously.
type StructureListener interface {
	// NodesInserted reports children inserted under parent, at their indices
	// after insertion. A zero parent means top-level roots.
	NodesInserted(parent models.NodeInfo, indices []int)
	// NodesRemoved reports children removed from parent, at their indices
	// before removal.
	NodesRemoved(parent models.NodeInfo, indices []int)
	// StructureChanged reports that node's subtree was re-derived.
	StructureChanged(node models.NodeInfo)
}

type SelectionListener interface {
	SelectionChanged(nodes []models.NodeInfo)
}

// ErrorReporter receives recovered failures: enumeration faults, unreachable
// backends, per-item bulk failures. It never propagates back into the tree.
type ErrorReporter interface {
	ReportError(context string, cause error)
}

type nopStructure struct{}

func (nopStructure) NodesInserted(models.NodeInfo, []int) {}
func (nopStructure) NodesRemoved(models.NodeInfo, []int)  {}
func (nopStructure) StructureChanged(models.NodeInfo)     {}

type nopSelection struct{}

func (nopSelection) SelectionChanged([]models.NodeInfo) {}

type nopErrors struct{}

func (nopErrors) ReportError(string, error) {}

// FilterByCategory keeps the nodes of one category, for tools that only
// operate on e.g. styles.
func FilterByCategory(nodes []models.NodeInfo, c models.Category) []models.NodeInfo {
	out := make([]models.NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		if n.Category == c {
			out = append(out, n)
		}
	}
	return out
}
