package tree

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/resource"
	"github.com/choraleia/styletree/pkg/service/backend"
)

// populate re-derives n's children from a fresh listing. Runs on the owner.
//
// Listed entries are matched against the existing children by name and kind;
// a match keeps its ID, its subtree and its watch, so only new entries get
// nodes and only vanished children are released. New container children are
// Unpopulated. With descend every still Unpopulated expandable child is
// populated one level (descend=false); otherwise it carries the pending
// placeholder. Leaves are kept only when the registry recognizes them. The
// node ends Populated when descend was requested or no child is left
// unpopulated, and Interim otherwise.
//
// A listing failure marks n unreachable (reported once) and returns an
// UnreachableError. Cancellation by the caller is returned as is and leaves n
// untouched. Per-entry faults are reported as EnumerationFault and skipped.
func (t *Tree) populate(ctx context.Context, n *Node, descend bool) (bool, error) {
	if n.conn == nil {
		return false, misuse("populate %s: node has no connector", n.name)
	}
	if !n.expandable() {
		return false, misuse("populate %s: not a container", n.name)
	}
	if _, ok := t.connectors.Get(n.conn.Name()); !ok {
		return false, misuse("populate %s: connector %s is not registered", n.name, n.conn.Name())
	}

	before := n.signature()
	var err error
	if n.composite {
		err = t.populateMembers(ctx, n)
	} else {
		err = t.populateContainer(ctx, n, descend)
	}
	changed := before != n.signature()
	t.logger.Debug("Populated node", "nodeId", n.id, "name", n.name, "descend", descend,
		"state", n.state, "children", len(n.children), "changed", changed)
	return changed, err
}

type childKey struct {
	name      string
	container bool
}

func (t *Tree) populateContainer(ctx context.Context, n *Node, descend bool) error {
	lctx, cancel := context.WithTimeout(ctx, t.timeout)
	listing, err := n.conn.List(lctx, n.locator)
	cancel()
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		t.releaseChildren(n)
		n.state = models.StateUnpopulated
		n.pending = false
		uerr := &UnreachableError{NodeID: n.id, Name: n.name, Connector: n.conn.Name(), Err: err}
		if !n.unreachable {
			n.unreachable = true
			t.report("populate "+n.name, uerr)
		}
		return uerr
	}
	n.unreachable = false

	for _, f := range listing.Faults {
		t.report("populate "+n.name, &EnumerationFault{NodeID: n.id, Name: f.Name, Locator: f.Locator, Err: f.Err})
	}

	existing := make(map[childKey]*Node, len(n.children))
	for _, c := range n.children {
		existing[childKey{c.name, c.container}] = c
	}
	children := make([]*Node, 0, len(listing.Entries))
	for _, e := range listing.Entries {
		k := childKey{e.Name, e.Container}
		if c, ok := existing[k]; ok {
			delete(existing, k)
			if t.reuseChild(n, c, e) {
				children = append(children, c)
				continue
			}
			t.release(c)
		}
		if c := t.childFromEntry(n, e); c != nil {
			children = append(children, c)
		}
	}
	for _, c := range existing {
		t.release(c)
	}
	n.children = children

	unpopulated := false
	for _, c := range children {
		if !c.expandable() || c.state != models.StateUnpopulated {
			continue
		}
		if !descend {
			c.pending = true
			unpopulated = true
			continue
		}
		if _, err := t.populate(ctx, c, false); err != nil {
			if errors.Is(err, ErrMisuse) {
				return err
			}
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
		}
	}

	n.pending = false
	if descend || !unpopulated {
		n.state = models.StatePopulated
	} else {
		n.state = models.StateInterim
	}
	sortChildren(n.children)
	t.watch(n)
	return nil
}

// reuseChild refreshes c from its new listing entry. It reports false when c
// can no longer stand for the entry, e.g. the registry stopped recognizing it
// or it turned into a bundle.
func (t *Tree) reuseChild(parent, c *Node, e backend.Entry) bool {
	c.locator = e.Locator
	if e.Container {
		return true
	}
	h, err := t.registry.Lookup(e.Name, e.Discriminator)
	if err != nil {
		return false
	}
	_, members := h.(resource.ContainerHandler)
	if (members && h.IsContainer() && parent.memberOf == nil) != c.composite {
		return false
	}
	c.discriminator = e.Discriminator
	c.handler = h
	c.category = h.Category()
	return true
}

// childFromEntry builds the child node for a listed entry, or nil when the
// entry is an unrecognized leaf.
func (t *Tree) childFromEntry(parent *Node, e backend.Entry) *Node {
	if e.Container {
		c := newNode(parent, parent.conn, e.Name, e.Locator)
		c.container = true
		t.nodes[c.id] = c
		return c
	}
	h, err := t.registry.Lookup(e.Name, e.Discriminator)
	if err != nil {
		return nil
	}
	c := newNode(parent, parent.conn, e.Name, e.Locator)
	c.discriminator = e.Discriminator
	c.handler = h
	c.category = h.Category()
	if _, ok := h.(resource.ContainerHandler); ok && h.IsContainer() && parent.memberOf == nil {
		c.composite = true
	}
	t.nodes[c.id] = c
	return c
}

// populateMembers lists the members of a composite leaf. An unreadable
// bundle is an enumeration fault: the node ends Populated with no children.
// Members already in the tree keep their nodes.
func (t *Tree) populateMembers(ctx context.Context, n *Node) error {
	ch, ok := n.handler.(resource.ContainerHandler)
	if !ok {
		return misuse("populate %s: handler has no members", n.name)
	}
	lctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	h, err := t.resolveHandle(lctx, t.refOf(n))
	var names []string
	if err == nil {
		names, err = ch.Members(lctx, h)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	existing := make(map[string]*Node, len(n.children))
	for _, c := range n.children {
		existing[c.memberPath] = c
	}
	n.children = nil
	n.pending = false
	n.state = models.StatePopulated
	for _, m := range names {
		name := path.Base(m)
		mh, lerr := t.registry.Lookup(name, "")
		if lerr != nil {
			continue
		}
		c, ok := existing[m]
		if ok {
			delete(existing, m)
		} else {
			c = newNode(n, n.conn, name, ch.Member(h, m).Locator())
			c.memberOf = n
			c.memberPath = m
			t.nodes[c.id] = c
		}
		c.handler = mh
		c.category = mh.Category()
		n.children = append(n.children, c)
	}
	for _, c := range existing {
		t.release(c)
	}
	if err != nil {
		t.report("populate "+n.name, &EnumerationFault{NodeID: n.id, Name: n.name, Locator: n.locator, Err: err})
	}
	sortChildren(n.children)
	return nil
}

// watch subscribes n when it mirrors a watchable native directory.
func (t *Tree) watch(n *Node) {
	if t.watcher == nil || !n.container {
		return
	}
	w, ok := n.conn.(backend.Watchable)
	if !ok {
		return
	}
	p, ok := w.WatchPath(n.locator)
	if !ok {
		return
	}
	if err := t.watcher.Watch(n.root().id, n.id, p); err != nil {
		t.logger.Warn("Failed to watch directory", "nodeId", n.id, "path", p, "error", err)
	}
}

// handleRef captures what is needed to resolve a node's native handle away
// from the owner goroutine.
type handleRef struct {
	conn    backend.Connector
	locator string
	handler resource.Handler
	bundle  *handleRef
	member  string
}

func (t *Tree) refOf(n *Node) *handleRef {
	r := &handleRef{conn: n.conn, locator: n.locator, handler: n.handler}
	if n.memberOf != nil {
		r.bundle = t.refOf(n.memberOf)
		r.member = n.memberPath
	}
	return r
}

func (t *Tree) resolveHandle(ctx context.Context, r *handleRef) (backend.Handle, error) {
	if r.bundle == nil {
		return r.conn.Handle(ctx, r.locator)
	}
	bh, err := t.resolveHandle(ctx, r.bundle)
	if err != nil {
		return nil, err
	}
	ch, ok := r.bundle.handler.(resource.ContainerHandler)
	if !ok {
		return nil, fmt.Errorf("%s is not a bundle", r.bundle.locator)
	}
	return ch.Member(bh, r.member), nil
}
