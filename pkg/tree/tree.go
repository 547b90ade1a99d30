// Package tree maintains the unified resource tree: one node per native entry
// that a backend connector exposes and the resource registry recognizes.
//
// All node mutations run on a single tree-owner goroutine. Public methods are
// safe for concurrent use; they submit work to the owner and return snapshots.
// Filesystem watch goroutines only enqueue Change descriptors onto a bounded
// queue that the owner drains in arrival order.
package tree

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/resource"
	"github.com/choraleia/styletree/pkg/service/backend"
	"github.com/choraleia/styletree/pkg/utils"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultQueueSize = 256
)

type Options struct {
	Registry   *resource.Registry
	Connectors *backend.Registry
	// Timeout bounds every connector enumeration call.
	Timeout time.Duration
	// QueueSize bounds the watch change queue.
	QueueSize int
	// Watch enables filesystem watches on populated watchable containers.
	Watch bool
	// IncludeHidden keeps dot-entries reported by watches.
	IncludeHidden bool

	Structure StructureListener
	Selection SelectionListener
	Errors    ErrorReporter
	Logger    *slog.Logger
}

type Tree struct {
	registry   *resource.Registry
	connectors *backend.Registry
	timeout    time.Duration

	includeHidden bool

	structure StructureListener
	selection SelectionListener
	errs      ErrorReporter
	logger    *slog.Logger

	// Owned by the loop goroutine.
	nodes    map[string]*Node
	roots    []*Node
	selected []string
	watcher  *Watcher

	requests chan func()
	changes  chan Change
	stop     chan struct{}
	exited   chan struct{}
	once     sync.Once
}

func New(opts Options) *Tree {
	t := &Tree{
		registry:      opts.Registry,
		connectors:    opts.Connectors,
		timeout:       opts.Timeout,
		includeHidden: opts.IncludeHidden,
		structure:     opts.Structure,
		selection:     opts.Selection,
		errs:          opts.Errors,
		logger:        opts.Logger,
		nodes:         make(map[string]*Node),
		requests:      make(chan func()),
		stop:          make(chan struct{}),
		exited:        make(chan struct{}),
	}
	if t.registry == nil {
		t.registry, _ = resource.NewRegistry()
	}
	if t.connectors == nil {
		t.connectors = backend.NewRegistry(opts.IncludeHidden)
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	if t.structure == nil {
		t.structure = nopStructure{}
	}
	if t.selection == nil {
		t.selection = nopSelection{}
	}
	if t.errs == nil {
		t.errs = nopErrors{}
	}
	if t.logger == nil {
		t.logger = utils.GetLogger()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	t.changes = make(chan Change, size)
	if opts.Watch {
		t.watcher = newWatcher(t.Enqueue, t.stop, t.logger)
	}
	go t.loop()
	return t
}

func (t *Tree) loop() {
	defer close(t.exited)
	for {
		select {
		case <-t.stop:
			return
		case c := <-t.changes:
			t.applyChange(c)
		case req := <-t.requests:
			// Changes queued before the request are applied first.
			t.drainChanges()
			req()
		}
	}
}

func (t *Tree) drainChanges() {
	for {
		select {
		case c := <-t.changes:
			t.applyChange(c)
		default:
			return
		}
	}
}

// do runs fn on the tree-owner goroutine and waits for it.
func (t *Tree) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	req := func() {
		defer close(done)
		fn()
	}
	select {
	case t.requests <- req:
	case <-t.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Enqueue submits a change descriptor. It blocks while the queue is full and
// returns false once the tree is closed.
func (t *Tree) Enqueue(c Change) bool {
	select {
	case <-t.stop:
		return false
	default:
	}
	select {
	case t.changes <- c:
		return true
	case <-t.stop:
		return false
	}
}

// Close stops the owner goroutine and all watches. Connectors are owned by the
// caller.
func (t *Tree) Close() error {
	t.once.Do(func() {
		close(t.stop)
		<-t.exited
		if t.watcher != nil {
			t.watcher.Close()
		}
	})
	return nil
}

func (t *Tree) report(context string, cause error) {
	t.logger.Warn("Tree error", "context", context, "error", cause)
	t.errs.ReportError(context, cause)
}

// Load lists the roots of every connector concurrently and replaces the
// top-level nodes. A connector or root that cannot be listed becomes an
// unreachable node and is reported once.
func (t *Tree) Load(ctx context.Context) ([]models.NodeInfo, error) {
	conns := t.connectors.All()
	results := make([][]backend.Root, len(conns))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range conns {
		i, c := i, c
		g.Go(func() error {
			results[i] = t.listRoots(gctx, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []models.NodeInfo
	err := t.do(ctx, func() {
		for _, r := range t.roots {
			t.release(r)
		}
		t.roots = nil
		for i, c := range conns {
			t.addRoots(c, results[i])
		}
		out = t.rootInfos()
		t.pruneSelection()
		t.structure.StructureChanged(models.NodeInfo{})
	})
	if err != nil {
		return nil, err
	}
	t.logger.Info("Roots loaded", "connectors", len(conns), "roots", len(out))
	return out, nil
}

func (t *Tree) listRoots(ctx context.Context, c backend.Connector) []backend.Root {
	lctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	roots, err := c.ListRoots(lctx)
	if err != nil {
		return []backend.Root{{Name: c.Name(), Err: err}}
	}
	return roots
}

// addRoots appends top-level nodes for a connector. Runs on the owner.
func (t *Tree) addRoots(c backend.Connector, roots []backend.Root) []int {
	var idx []int
	for _, r := range roots {
		n := newNode(nil, c, r.Name, r.Locator)
		n.container = true
		t.nodes[n.id] = n
		t.roots = append(t.roots, n)
		idx = append(idx, len(t.roots)-1)
		if r.Err != nil {
			n.unreachable = true
			t.report("list roots of "+c.Name(), &UnreachableError{NodeID: n.id, Name: r.Name, Connector: c.Name(), Err: r.Err})
		}
	}
	return idx
}

// Attach registers a connector and adds its roots to a loaded tree.
func (t *Tree) Attach(ctx context.Context, c backend.Connector) ([]models.NodeInfo, error) {
	t.connectors.Add(c)
	roots := t.listRoots(ctx, c)
	var out []models.NodeInfo
	err := t.do(ctx, func() {
		t.detachRoots(c.Name())
		idx := t.addRoots(c, roots)
		for _, i := range idx {
			out = append(out, t.roots[i].info(0))
		}
		t.structure.NodesInserted(models.NodeInfo{}, idx)
	})
	return out, err
}

// Detach removes a connector's roots and unregisters it.
func (t *Tree) Detach(ctx context.Context, name string) error {
	err := t.do(ctx, func() {
		t.detachRoots(name)
	})
	t.connectors.Remove(name)
	return err
}

func (t *Tree) detachRoots(name string) {
	var idx []int
	kept := t.roots[:0]
	for i, r := range t.roots {
		if r.conn != nil && r.conn.Name() == name {
			idx = append(idx, i)
			t.release(r)
			continue
		}
		kept = append(kept, r)
	}
	t.roots = kept
	if len(idx) > 0 {
		t.pruneSelection()
		t.structure.NodesRemoved(models.NodeInfo{}, idx)
	}
}

func (t *Tree) rootInfos() []models.NodeInfo {
	out := make([]models.NodeInfo, 0, len(t.roots))
	for _, r := range t.roots {
		out = append(out, r.info(0))
	}
	return out
}

func (t *Tree) Roots(ctx context.Context) ([]models.NodeInfo, error) {
	var out []models.NodeInfo
	err := t.do(ctx, func() { out = t.rootInfos() })
	return out, err
}

// Snapshot returns a copy of a node and its descendants down to depth levels
// (negative for the whole subtree).
func (t *Tree) Snapshot(ctx context.Context, id string, depth int) (models.NodeInfo, error) {
	var (
		out models.NodeInfo
		ferr error
	)
	err := t.do(ctx, func() {
		n, ok := t.nodes[id]
		if !ok {
			ferr = notFound(id)
			return
		}
		out = n.info(depth)
	})
	if err != nil {
		return models.NodeInfo{}, err
	}
	return out, ferr
}

// Populate (re)computes a node's children. See populate.
func (t *Tree) Populate(ctx context.Context, id string, descend bool) (bool, error) {
	var (
		changed bool
		perr    error
	)
	err := t.do(ctx, func() {
		n, ok := t.nodes[id]
		if !ok {
			perr = notFound(id)
			return
		}
		changed, perr = t.populate(ctx, n, descend)
		if changed {
			t.structure.StructureChanged(n.info(0))
		}
	})
	if err != nil {
		return false, err
	}
	return changed, perr
}

// Expand resolves a node for display: an Interim node or a placeholder child is
// fully populated (descend), an unpopulated node gets its direct children, a
// Populated node is left alone.
func (t *Tree) Expand(ctx context.Context, id string) (models.NodeInfo, error) {
	var (
		out  models.NodeInfo
		perr error
	)
	err := t.do(ctx, func() {
		n, ok := t.nodes[id]
		if !ok {
			perr = notFound(id)
			return
		}
		if n.unreachable {
			perr = &UnreachableError{NodeID: n.id, Name: n.name, Connector: connName(n), Err: fmt.Errorf("not expandable")}
			return
		}
		var changed bool
		switch {
		case n.state == models.StatePopulated:
		case n.state == models.StateInterim || n.pending:
			changed, perr = t.populate(ctx, n, true)
		default:
			changed, perr = t.populate(ctx, n, false)
		}
		if changed {
			t.structure.StructureChanged(n.info(0))
		}
		out = n.info(1)
	})
	if err != nil {
		return models.NodeInfo{}, err
	}
	return out, perr
}

// Refresh re-lists a node's direct children. Children still present keep
// their IDs and expanded subtrees; vanished ones are released.
func (t *Tree) Refresh(ctx context.Context, id string) (models.NodeInfo, error) {
	var (
		out  models.NodeInfo
		perr error
	)
	err := t.do(ctx, func() {
		n, ok := t.nodes[id]
		if !ok {
			perr = notFound(id)
			return
		}
		perr = t.refresh(ctx, n)
		out = n.info(1)
	})
	if err != nil {
		return models.NodeInfo{}, err
	}
	return out, perr
}

func (t *Tree) refresh(ctx context.Context, n *Node) error {
	if !n.expandable() {
		return misuse("refresh %s: not a container", n.name)
	}
	_, err := t.populate(ctx, n, false)
	t.pruneSelection()
	t.structure.StructureChanged(n.info(0))
	return err
}

// Find returns the loaded node with the given connector and locator.
func (t *Tree) Find(ctx context.Context, connector, locator string) (models.NodeInfo, error) {
	var (
		out  models.NodeInfo
		ferr error
	)
	err := t.do(ctx, func() {
		n := t.find(connector, locator)
		if n == nil {
			ferr = notFound(connector + ":" + locator)
			return
		}
		out = n.info(0)
	})
	if err != nil {
		return models.NodeInfo{}, err
	}
	return out, ferr
}

func (t *Tree) find(connector, locator string) *Node {
	for _, n := range t.nodes {
		if n.locator == locator && connName(n) == connector {
			return n
		}
	}
	return nil
}

// Resolve finds the node for connector:locator, populating the path from its
// root on demand.
func (t *Tree) Resolve(ctx context.Context, connector, locator string) (models.NodeInfo, error) {
	var (
		out  models.NodeInfo
		rerr error
	)
	err := t.do(ctx, func() {
		if n := t.find(connector, locator); n != nil {
			out = n.info(0)
			return
		}
		for _, r := range t.roots {
			if connName(r) != connector || !underLocator(r.locator, locator) {
				continue
			}
			n, err := t.walk(ctx, r, locator)
			if err != nil {
				rerr = err
				continue
			}
			out, rerr = n.info(0), nil
			return
		}
		if rerr == nil {
			rerr = notFound(connector + ":" + locator)
		}
	})
	if err != nil {
		return models.NodeInfo{}, err
	}
	return out, rerr
}

func (t *Tree) walk(ctx context.Context, n *Node, locator string) (*Node, error) {
	for n.locator != locator {
		if n.unreachable {
			return nil, &UnreachableError{NodeID: n.id, Name: n.name, Connector: connName(n), Err: fmt.Errorf("cannot resolve %s", locator)}
		}
		if !n.expandable() {
			return nil, notFound(locator)
		}
		if n.state == models.StateUnpopulated {
			if _, err := t.populate(ctx, n, false); err != nil {
				return nil, err
			}
		}
		var next *Node
		for _, c := range n.children {
			if underLocator(c.locator, locator) {
				next = c
				break
			}
		}
		if next == nil {
			return nil, notFound(locator)
		}
		n = next
	}
	return n, nil
}

// underLocator reports whether target is base or lies below it.
func underLocator(base, target string) bool {
	if base == target {
		return true
	}
	if !strings.HasPrefix(target, base) {
		return false
	}
	if strings.HasSuffix(base, "/") {
		return true
	}
	rest := target[len(base):]
	return strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "!/")
}

// Select replaces the selection. Unknown IDs are an error and leave the
// selection unchanged.
func (t *Tree) Select(ctx context.Context, ids []string) ([]models.NodeInfo, error) {
	var (
		out  []models.NodeInfo
		serr error
	)
	err := t.do(ctx, func() {
		for _, id := range ids {
			if _, ok := t.nodes[id]; !ok {
				serr = notFound(id)
				return
			}
		}
		next := dedupe(ids)
		if equalStrings(next, t.selected) {
			out = t.selectionInfos()
			return
		}
		t.selected = next
		out = t.selectionInfos()
		t.selection.SelectionChanged(out)
	})
	if err != nil {
		return nil, err
	}
	return out, serr
}

func (t *Tree) Selection(ctx context.Context) ([]models.NodeInfo, error) {
	var out []models.NodeInfo
	err := t.do(ctx, func() { out = t.selectionInfos() })
	return out, err
}

func (t *Tree) selectionInfos() []models.NodeInfo {
	out := make([]models.NodeInfo, 0, len(t.selected))
	for _, id := range t.selected {
		if n, ok := t.nodes[id]; ok {
			out = append(out, n.info(0))
		}
	}
	return out
}

// pruneSelection drops selected nodes that left the tree.
func (t *Tree) pruneSelection() {
	kept := make([]string, 0, len(t.selected))
	for _, id := range t.selected {
		if _, ok := t.nodes[id]; ok {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(t.selected) {
		return
	}
	t.selected = kept
	t.selection.SelectionChanged(t.selectionInfos())
}

// release drops n and its subtree from the arena and cancels their watches.
func (t *Tree) release(n *Node) {
	t.releaseChildren(n)
	if t.watcher != nil {
		t.watcher.Unwatch(n.id)
	}
	delete(t.nodes, n.id)
}

func (t *Tree) releaseChildren(n *Node) {
	for _, c := range n.children {
		t.release(c)
	}
	n.children = nil
}

func connName(n *Node) string {
	if n.conn == nil {
		return ""
	}
	return n.conn.Name()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
