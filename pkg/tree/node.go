package tree

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/resource"
	"github.com/choraleia/styletree/pkg/service/backend"
)

// Node is one entry of the tree. Nodes are owned by the tree-owner goroutine;
// everything outside it works on models.NodeInfo snapshots.
type Node struct {
	id            string
	name          string
	locator       string
	conn          backend.Connector
	container     bool
	discriminator string
	state         models.NodeState
	category      models.Category
	unreachable   bool
	pending       bool

	handler resource.Handler
	// composite marks a recognized leaf that expands to members (bundles).
	composite bool
	// memberOf and memberPath address a member inside a composite leaf.
	memberOf   *Node
	memberPath string

	parent   *Node
	children []*Node
}

func newNode(parent *Node, conn backend.Connector, name, locator string) *Node {
	return &Node{
		id:       uuid.New().String(),
		name:     name,
		locator:  locator,
		conn:     conn,
		state:    models.StateUnpopulated,
		category: models.CategoryUnknown,
		parent:   parent,
	}
}

func (n *Node) expandable() bool { return n.container || n.composite }

// isLeaf is true for an unpopulated node until population proves otherwise.
func (n *Node) isLeaf() bool {
	if !n.expandable() {
		return true
	}
	return n.state == models.StateUnpopulated && !n.pending
}

func (n *Node) root() *Node {
	r := n
	for r.parent != nil {
		r = r.parent
	}
	return r
}

func (n *Node) childIndex(c *Node) int {
	for i, x := range n.children {
		if x == c {
			return i
		}
	}
	return -1
}

func (n *Node) childNamed(name string) (int, *Node) {
	for i, c := range n.children {
		if c.name == name {
			return i, c
		}
	}
	return -1, nil
}

// signature summarizes the derived state used to decide whether a population
// changed anything.
func (n *Node) signature() string {
	var b strings.Builder
	b.WriteString(string(n.state))
	if n.unreachable {
		b.WriteString("!")
	}
	for _, c := range n.children {
		b.WriteByte('|')
		b.WriteString(c.name)
		b.WriteByte(':')
		b.WriteString(string(c.state))
		if c.pending {
			b.WriteByte('+')
		}
	}
	return b.String()
}

func (n *Node) info(depth int) models.NodeInfo {
	ni := models.NodeInfo{
		ID:          n.id,
		Name:        n.name,
		Locator:     n.locator,
		Container:   n.container,
		State:       n.state,
		Category:    n.category,
		Unreachable: n.unreachable,
		Pending:     n.pending,
		Leaf:        n.isLeaf(),
		Expandable:  n.expandable(),
	}
	if n.parent != nil {
		ni.ParentID = n.parent.id
	}
	if n.conn != nil {
		ni.Backend = n.conn.Kind()
		ni.Connector = n.conn.Name()
	}
	if depth != 0 && len(n.children) > 0 {
		ni.Children = make([]models.NodeInfo, 0, len(n.children))
		for _, c := range n.children {
			ni.Children = append(ni.Children, c.info(depth-1))
		}
	}
	return ni
}

// sortChildren orders siblings by case-insensitive name, then moves containers
// before leaves, and recurses into children that have children.
func sortChildren(children []*Node) {
	sort.SliceStable(children, func(i, j int) bool {
		a, b := strings.ToLower(children[i].name), strings.ToLower(children[j].name)
		if a != b {
			return a < b
		}
		return children[i].name < children[j].name
	})
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].container && !children[j].container
	})
	for _, c := range children {
		if len(c.children) > 0 {
			sortChildren(c.children)
		}
	}
}
