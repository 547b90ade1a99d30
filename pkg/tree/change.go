package tree

import (
	"context"
	"strings"

	"github.com/choraleia/styletree/pkg/models"
)

type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeRemoved
	ChangeModified
	// ChangeRescan asks for the node to be refreshed, e.g. after the native
	// notification queue overflowed.
	ChangeRescan
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeModified:
		return "modified"
	case ChangeRescan:
		return "rescan"
	}
	return "unknown"
}

// Change describes a native change inside the container mirrored by NodeID.
type Change struct {
	NodeID string
	Kind   ChangeKind
	Name   string
}

// applyChange runs on the owner. Changes for nodes that left the tree, or whose
// children are not derived yet, are dropped: the next population sees the
// native state anyway.
func (t *Tree) applyChange(c Change) {
	n, ok := t.nodes[c.NodeID]
	if !ok || !n.container {
		return
	}
	if n.state == models.StateUnpopulated && c.Kind != ChangeRescan {
		return
	}
	t.logger.Debug("Applying change", "nodeId", n.id, "kind", c.Kind, "name", c.Name)
	switch c.Kind {
	case ChangeAdded:
		t.applyAdded(n, c.Name)
	case ChangeRemoved:
		t.applyRemoved(n, c.Name)
	case ChangeModified:
		// Content changes do not restructure the tree.
	case ChangeRescan:
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.refresh(ctx, n); err != nil {
			t.logger.Debug("Rescan failed", "nodeId", n.id, "error", err)
		}
	}
}

func (t *Tree) applyAdded(parent *Node, name string) {
	if name == "" {
		return
	}
	if !t.includeHidden && strings.HasPrefix(name, ".") {
		return
	}
	if _, existing := parent.childNamed(name); existing != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	entry, err := parent.conn.Stat(ctx, parent.conn.Join(parent.locator, name))
	if err != nil {
		// Gone again before we looked: nothing to insert.
		t.logger.Debug("Skipping added entry", "nodeId", parent.id, "name", name, "error", err)
		return
	}
	entry.Name = name
	c := t.childFromEntry(parent, *entry)
	if c == nil {
		return
	}
	if c.expandable() {
		c.pending = true
	}
	parent.children = append(parent.children, c)
	sortChildren(parent.children)
	t.structure.NodesInserted(parent.info(0), []int{parent.childIndex(c)})
}

func (t *Tree) applyRemoved(parent *Node, name string) {
	i, c := parent.childNamed(name)
	if c == nil {
		return
	}
	parent.children = append(parent.children[:i], parent.children[i+1:]...)
	t.release(c)
	t.pruneSelection()
	t.structure.NodesRemoved(parent.info(0), []int{i})
}
