package tree

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/resource"
	"github.com/choraleia/styletree/pkg/service/backend"
)

const sld = `<?xml version="1.0"?><StyledLayerDescriptor><NamedLayer><Name>roads</Name><UserStyle><Name>Roads</Name></UserStyle></NamedLayer></StyledLayerDescriptor>`

func TestPopulateSkipsUnrecognizedLeaves(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/b.sld", sld).mkdir("/A").put("/a.shp", "binary")
	tr, _ := newTestTree(t, styleRegistry(t), m)
	root := rootOf(t, tr, "m")
	assert.True(t, root.Leaf, "nothing is known below an unpopulated root")
	assert.True(t, root.Expandable)

	changed, err := tr.Populate(ctx, root.ID, false)
	require.NoError(t, err)
	assert.True(t, changed)

	snap, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "b.sld"}, snap.ChildNames())
	assert.Equal(t, models.StateInterim, snap.State)

	a := childNamed(t, snap, "A")
	assert.Equal(t, models.StateUnpopulated, a.State)
	assert.True(t, a.Pending)
	assert.False(t, a.Leaf)
	assert.True(t, a.Expandable)

	b := childNamed(t, snap, "b.sld")
	assert.Equal(t, models.CategoryStyle, b.Category)
	assert.True(t, b.Leaf)
	assert.False(t, b.Expandable)
}

func TestPopulateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/b.sld", sld).mkdir("/A").mkdir("/c").put("/z.SLD", sld).put("/readme.txt", "")
	tr, _ := newTestTree(t, styleRegistry(t), m)
	root := rootOf(t, tr, "m")

	_, err := tr.Populate(ctx, root.ID, false)
	require.NoError(t, err)
	first, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)

	changed, err := tr.Populate(ctx, root.ID, false)
	require.NoError(t, err)
	assert.False(t, changed)
	second, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, shape(first), shape(second))
}

func TestPopulateOrdering(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").
		put("/b.sld", sld).put("/C.sld", sld).put("/a.sld", sld).
		mkdir("/c").mkdir("/B").mkdir("/B/y").mkdir("/B/X").put("/B/x.sld", sld)
	tr, _ := newTestTree(t, styleRegistry(t), m)
	root := rootOf(t, tr, "m")

	_, err := tr.Populate(ctx, root.ID, true)
	require.NoError(t, err)
	snap, err := tr.Snapshot(ctx, root.ID, -1)
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "c", "a.sld", "b.sld", "C.sld"}, snap.ChildNames())
	assert.Equal(t, []string{"X", "y", "x.sld"}, childNamed(t, snap, "B").ChildNames())
}

func TestSortChildren(t *testing.T) {
	mk := func(name string, container bool) *Node {
		return &Node{name: name, container: container}
	}
	nested := mk("dir", true)
	nested.children = []*Node{mk("b", false), mk("A", true), mk("a", false)}
	children := []*Node{mk("beta.sld", false), mk("Alpha.sld", false), nested, mk("zeta", true), mk("alpha.sld", false)}

	sortChildren(children)

	var names []string
	for _, c := range children {
		names = append(names, c.name)
	}
	assert.Equal(t, []string{"dir", "zeta", "Alpha.sld", "alpha.sld", "beta.sld"}, names)
	assert.Equal(t, "A", nested.children[0].name)
	assert.Equal(t, "a", nested.children[1].name)
}

func TestPopulateFiltersByRegistry(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/b.sld", sld).put("/a.shp", "binary").put("/notes", "")
	reg := styleRegistry(t)
	tr, _ := newTestTree(t, reg, m)
	root := rootOf(t, tr, "m")

	_, err := tr.Populate(ctx, root.ID, false)
	require.NoError(t, err)
	snap, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	for _, name := range []string{"b.sld", "a.shp", "notes"} {
		present := false
		for _, c := range snap.Children {
			present = present || c.Name == name
		}
		assert.Equal(t, reg.IsRecognized(name), present, name)
	}

	reg.RegisterHandler(resource.Builtins["vector"]())
	_, err = tr.Refresh(ctx, root.ID)
	require.NoError(t, err)
	snap, err = tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.shp", "b.sld"}, snap.ChildNames())
	assert.Equal(t, models.CategoryVector, childNamed(t, snap, "a.shp").Category)
}

func TestExpandPopulatesPlaceholder(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/top.sld", sld).
		mkdir("/X").put("/X/y.sld", sld).mkdir("/X/Y").put("/X/Y/z.sld", sld).mkdir("/X/Y/deeper")
	tr, _ := newTestTree(t, styleRegistry(t), m)
	root := rootOf(t, tr, "m")

	_, err := tr.Populate(ctx, root.ID, false)
	require.NoError(t, err)
	snap, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.StateInterim, snap.State)
	x := childNamed(t, snap, "X")
	require.True(t, x.Pending)

	expanded, err := tr.Expand(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePopulated, expanded.State)
	assert.False(t, expanded.Pending)
	assert.Equal(t, []string{"Y", "y.sld"}, expanded.ChildNames())

	full, err := tr.Snapshot(ctx, x.ID, -1)
	require.NoError(t, err)
	y := childNamed(t, full, "Y")
	assert.Equal(t, []string{"deeper", "z.sld"}, y.ChildNames())
	assert.Equal(t, models.StateInterim, y.State)
	assert.True(t, childNamed(t, y, "deeper").Pending)
	assert.Equal(t, 1, m.listCount("/X/Y"))
	assert.Equal(t, 0, m.listCount("/X/Y/deeper"))

	// Expanding a Populated node does no work.
	_, err = tr.Expand(ctx, x.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.listCount("/X"))
}

func TestWatchRemovalDropsNode(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/b.sld", sld).mkdir("/A").put("/a.shp", "binary")
	tr, rec := newTestTree(t, styleRegistry(t), m)
	root := rootOf(t, tr, "m")

	_, err := tr.Populate(ctx, root.ID, true)
	require.NoError(t, err)
	snap, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.StatePopulated, snap.State)
	listsOfA := m.listCount("/A")

	m.remove("/b.sld")
	require.True(t, tr.Enqueue(Change{NodeID: root.ID, Kind: ChangeRemoved, Name: "b.sld"}))

	snap, err = tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, snap.ChildNames())
	assert.Equal(t, listsOfA, m.listCount("/A"))
	_, removed := rec.snapshot()
	assert.Equal(t, []string{"m:1"}, removed)

	// A second removal of the same name is a silent no-op.
	require.True(t, tr.Enqueue(Change{NodeID: root.ID, Kind: ChangeRemoved, Name: "b.sld"}))
	snap, err = tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, snap.ChildNames())
	assert.Empty(t, rec.errors())
}

func TestWatchSequenceMatchesPopulate(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/keep.sld", sld).put("/old.sld", sld).mkdir("/olddir")
	tr, rec := newTestTree(t, styleRegistry(t), m)
	root := rootOf(t, tr, "m")
	_, err := tr.Populate(ctx, root.ID, false)
	require.NoError(t, err)

	type step struct {
		kind ChangeKind
		name string
		dir  bool
	}
	steps := []step{
		{ChangeAdded, "new.sld", false},
		{ChangeRemoved, "old.sld", false},
		{ChangeAdded, "Zdir", true},
		{ChangeAdded, "ignored.txt", false},
		{ChangeRemoved, "olddir", true},
		{ChangeAdded, "alpha.SLD", false},
		{ChangeModified, "keep.sld", false},
		{ChangeAdded, "phantom.sld", false},
	}
	for _, s := range steps {
		p := "/" + s.name
		switch {
		case s.kind == ChangeAdded && s.name == "phantom.sld":
			// Announced but gone before it could be inspected.
		case s.kind == ChangeAdded && s.dir:
			m.mkdir(p)
		case s.kind == ChangeAdded:
			m.put(p, sld)
		case s.kind == ChangeRemoved:
			m.remove(p)
		}
		require.True(t, tr.Enqueue(Change{NodeID: root.ID, Kind: s.kind, Name: s.name}))
	}

	watched, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)

	_, err = tr.Refresh(ctx, root.ID)
	require.NoError(t, err)
	fresh, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, fresh.ChildNames(), watched.ChildNames())
	assert.Equal(t, shape(fresh), shape(watched))
	assert.Equal(t, []string{"Zdir", "alpha.SLD", "keep.sld", "new.sld"}, watched.ChildNames())

	inserted, _ := rec.snapshot()
	assert.Len(t, inserted, 3)
}

func TestCopyIntoSameFolderPrefixesName(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/F1/x.sld", sld)
	tr, _ := newTestTree(t, styleRegistry(t), m)

	f1, err := tr.Resolve(ctx, "m", "/F1")
	require.NoError(t, err)
	x, err := tr.Resolve(ctx, "m", "/F1/x.sld")
	require.NoError(t, err)

	report, err := tr.Copy(ctx, []string{x.ID}, f1.ID)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	require.Len(t, report.Items, 1)
	assert.Equal(t, "Copy of x.sld", report.Items[0].Target)
	assert.Equal(t, sld, m.data("/F1/Copy of x.sld"))
	assert.Equal(t, sld, m.data("/F1/x.sld"))

	snap, err := tr.Snapshot(ctx, f1.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Copy of x.sld", "x.sld"}, snap.ChildNames())
}

func TestCopyIntoSameFolderKeepsSiblings(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/F1/x.sld", sld).put("/F1/y.sld", sld).put("/F1/sub/z.sld", sld)
	tr, rec := newTestTree(t, styleRegistry(t), m)

	f1, err := tr.Resolve(ctx, "m", "/F1")
	require.NoError(t, err)
	x, err := tr.Resolve(ctx, "m", "/F1/x.sld")
	require.NoError(t, err)
	y, err := tr.Resolve(ctx, "m", "/F1/y.sld")
	require.NoError(t, err)
	sub, err := tr.Resolve(ctx, "m", "/F1/sub")
	require.NoError(t, err)
	expanded, err := tr.Expand(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatePopulated, expanded.State)
	_, err = tr.Select(ctx, []string{y.ID})
	require.NoError(t, err)

	report, err := tr.Copy(ctx, []string{x.ID}, f1.ID)
	require.NoError(t, err)
	require.NoError(t, report.Err())

	snap, err := tr.Snapshot(ctx, f1.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub", "Copy of x.sld", "x.sld", "y.sld"}, snap.ChildNames())
	assert.Equal(t, x.ID, childNamed(t, snap, "x.sld").ID)
	assert.Equal(t, y.ID, childNamed(t, snap, "y.sld").ID)

	s := childNamed(t, snap, "sub")
	assert.Equal(t, sub.ID, s.ID)
	assert.Equal(t, models.StatePopulated, s.State)
	assert.Equal(t, []string{"z.sld"}, s.ChildNames())
	assert.Equal(t, 1, m.listCount("/F1/sub"))

	sel, err := tr.Selection(ctx)
	require.NoError(t, err)
	require.Len(t, sel, 1)
	assert.Equal(t, y.ID, sel[0].ID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, [][]string{{"y.sld"}}, rec.selections)
}

func TestCopyAcrossBackendsKeepsName(t *testing.T) {
	ctx := context.Background()
	src := newMem("src").put("/x.sld", sld)
	dst := newMem("dst").mkdir("/styles")
	tr, rec := newTestTree(t, styleRegistry(t), src, dst)

	x, err := tr.Resolve(ctx, "src", "/x.sld")
	require.NoError(t, err)
	styles, err := tr.Resolve(ctx, "dst", "/styles")
	require.NoError(t, err)

	report, err := tr.Copy(ctx, []string{x.ID}, styles.ID)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.True(t, dst.has("/styles/x.sld"))

	rec.mu.Lock()
	assert.Contains(t, rec.changed, "styles")
	rec.mu.Unlock()
}

func TestCopyPartialFailure(t *testing.T) {
	ctx := context.Background()
	src := newMem("src").put("/a.sld", sld).put("/b.sld", sld).put("/c.sld", sld)
	dst := newMem("dst")
	dst.failWrite["/b.sld"] = true
	tr, rec := newTestTree(t, styleRegistry(t), src, dst)

	root := rootOf(t, tr, "src")
	_, err := tr.Populate(ctx, root.ID, false)
	require.NoError(t, err)
	snap, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	var ids []string
	for _, c := range snap.Children {
		ids = append(ids, c.ID)
	}

	report, err := tr.Copy(ctx, ids, rootOf(t, tr, "dst").ID)
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "b.sld", failed[0].Name)
	assert.Len(t, report.Succeeded(), 2)
	assert.True(t, dst.has("/a.sld"))
	assert.True(t, dst.has("/c.sld"))
	assert.False(t, dst.has("/b.sld"))

	var itemErr *ItemError
	require.ErrorAs(t, report.Err(), &itemErr)
	assert.Equal(t, failed[0].NodeID, itemErr.NodeID)

	errs := rec.errors()
	require.Len(t, errs, 1)
	require.ErrorAs(t, errs[0], &itemErr)
	assert.Equal(t, "b.sld", itemErr.Name)

	result := report.Result()
	assert.Len(t, result.Succeeded, 2)
	assert.Len(t, result.Failed, 1)
}

func TestCopyIntoLeafIsMisuse(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/a.sld", sld).put("/b.sld", sld)
	tr, _ := newTestTree(t, styleRegistry(t), m)
	a, err := tr.Resolve(ctx, "m", "/a.sld")
	require.NoError(t, err)
	b, err := tr.Resolve(ctx, "m", "/b.sld")
	require.NoError(t, err)

	_, err = tr.Copy(ctx, []string{a.ID}, b.ID)
	assert.ErrorIs(t, err, ErrMisuse)
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/a.sld", sld).put("/b.sld", sld).mkdir("/dest")
	tr, _ := newTestTree(t, styleRegistry(t), m)
	root := rootOf(t, tr, "m")
	a, err := tr.Resolve(ctx, "m", "/a.sld")
	require.NoError(t, err)
	b, err := tr.Resolve(ctx, "m", "/b.sld")
	require.NoError(t, err)
	dest, err := tr.Resolve(ctx, "m", "/dest")
	require.NoError(t, err)

	report, err := tr.Move(ctx, []string{a.ID}, dest.ID)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.True(t, m.has("/dest/a.sld"))
	assert.False(t, m.has("/a.sld"))

	snap, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"dest", "b.sld"}, snap.ChildNames())

	// Moving into the item's own folder leaves it alone.
	report, err = tr.Move(ctx, []string{b.ID}, root.ID)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.True(t, m.has("/b.sld"))
	assert.False(t, m.has("/Copy of b.sld"))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/a.sld", sld).put("/b.sld", sld).mkdir("/A")
	tr, rec := newTestTree(t, styleRegistry(t), m)
	root := rootOf(t, tr, "m")
	_, err := tr.Populate(ctx, root.ID, false)
	require.NoError(t, err)
	snap, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	dir := childNamed(t, snap, "A")
	a := childNamed(t, snap, "a.sld")
	b := childNamed(t, snap, "b.sld")

	_, err = tr.Delete(ctx, []string{a.ID, dir.ID})
	require.ErrorIs(t, err, ErrMisuse)
	assert.True(t, m.has("/a.sld"), "no partial work on misuse")

	m.remove("/b.sld") // vanished behind our back: item failure
	report, err := tr.Delete(ctx, []string{a.ID, b.ID})
	require.NoError(t, err)
	assert.Len(t, report.Succeeded(), 1)
	require.Len(t, report.Failed(), 1)
	assert.Equal(t, b.ID, report.Failed()[0].NodeID)
	assert.False(t, m.has("/a.sld"))

	snap, err = tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "b.sld"}, snap.ChildNames())
	_, removed := rec.snapshot()
	assert.Equal(t, []string{"m:1"}, removed)
	assert.Len(t, rec.errors(), 1)
}

func TestUnreachableRoot(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/a.sld", sld)
	m.setDown(true)
	ok := newMem("ok").put("/b.sld", sld)
	tr, rec := newTestTree(t, styleRegistry(t), m, ok)

	roots, err := tr.Roots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	root := rootOf(t, tr, "m")
	assert.True(t, root.Unreachable)
	assert.False(t, rootOf(t, tr, "ok").Unreachable)

	_, err = tr.Expand(ctx, root.ID)
	assert.ErrorIs(t, err, ErrUnreachable)

	_, err = tr.Refresh(ctx, root.ID)
	assert.ErrorIs(t, err, ErrUnreachable)

	errs := rec.errors()
	require.Len(t, errs, 1, "reported once")
	var uerr *UnreachableError
	require.ErrorAs(t, errs[0], &uerr)
	assert.Equal(t, "m", uerr.Connector)

	m.setDown(false)
	info, err := tr.Refresh(ctx, root.ID)
	require.NoError(t, err)
	assert.False(t, info.Unreachable)
	assert.Equal(t, []string{"a.sld"}, info.ChildNames())
}

func TestPopulateTimeoutMarksUnreachable(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/a.sld", sld)
	tr, rec := newTestTreeWith(t, Options{Registry: styleRegistry(t), Timeout: 50 * time.Millisecond}, m)
	root := rootOf(t, tr, "m")

	m.mu.Lock()
	m.block = true
	m.mu.Unlock()

	_, err := tr.Populate(ctx, root.ID, false)
	require.ErrorIs(t, err, ErrUnreachable)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	snap, err := tr.Snapshot(ctx, root.ID, 0)
	require.NoError(t, err)
	assert.True(t, snap.Unreachable)
	assert.Len(t, rec.errors(), 1)
}

func TestPopulateCancelledByCallerKeepsState(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/a.sld", sld).mkdir("/A")
	tr, rec := newTestTree(t, styleRegistry(t), m)
	root := rootOf(t, tr, "m")
	_, err := tr.Populate(ctx, root.ID, false)
	require.NoError(t, err)
	before, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)

	m.mu.Lock()
	m.block = true
	m.mu.Unlock()
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = tr.Refresh(cctx, root.ID)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnreachable)

	m.mu.Lock()
	m.block = false
	m.mu.Unlock()
	after, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.False(t, after.Unreachable)
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.Children, after.Children)
	assert.Empty(t, rec.errors())
}

func TestRefreshReleasesVanishedChildren(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/a.sld", sld).put("/b.sld", sld)
	tr, _ := newTestTree(t, styleRegistry(t), m)
	root := rootOf(t, tr, "m")
	a, err := tr.Resolve(ctx, "m", "/a.sld")
	require.NoError(t, err)
	b, err := tr.Resolve(ctx, "m", "/b.sld")
	require.NoError(t, err)

	m.remove("/b.sld")
	m.put("/c.sld", sld)
	info, err := tr.Refresh(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.sld", "c.sld"}, info.ChildNames())
	assert.Equal(t, a.ID, childNamed(t, info, "a.sld").ID)

	_, err = tr.Snapshot(ctx, b.ID, 0)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestEnumerationFaultsAreRecovered(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/a.sld", sld).put("/c.sld", sld)
	m.faults["/"] = []backend.Fault{{Name: "b.sld", Locator: "/b.sld", Err: errors.New("permission denied")}}
	tr, rec := newTestTree(t, styleRegistry(t), m)
	root := rootOf(t, tr, "m")

	_, err := tr.Populate(ctx, root.ID, false)
	require.NoError(t, err)
	snap, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.sld", "c.sld"}, snap.ChildNames())

	errs := rec.errors()
	require.Len(t, errs, 1)
	var fault *EnumerationFault
	require.ErrorAs(t, errs[0], &fault)
	assert.Equal(t, "b.sld", fault.Name)
	assert.Equal(t, root.ID, fault.NodeID)
}

func TestPopulateMisuse(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/a.sld", sld)
	tr, _ := newTestTree(t, styleRegistry(t), m)
	a, err := tr.Resolve(ctx, "m", "/a.sld")
	require.NoError(t, err)

	_, err = tr.Populate(ctx, a.ID, false)
	assert.ErrorIs(t, err, ErrMisuse)

	_, err = tr.Populate(ctx, "missing", false)
	assert.ErrorIs(t, err, ErrNodeNotFound)

	// The connector vanished from the registry.
	root := rootOf(t, tr, "m")
	tr.connectors.Remove("m")
	_, err = tr.Populate(ctx, root.ID, false)
	assert.ErrorIs(t, err, ErrMisuse)
}

func TestSelection(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/a.sld", sld).put("/b.shp", "x")
	reg, err := resource.NewRegistry("style", "vector")
	require.NoError(t, err)
	tr, rec := newTestTree(t, reg, m)
	a, err := tr.Resolve(ctx, "m", "/a.sld")
	require.NoError(t, err)
	b, err := tr.Resolve(ctx, "m", "/b.shp")
	require.NoError(t, err)

	sel, err := tr.Select(ctx, []string{a.ID, b.ID, a.ID})
	require.NoError(t, err)
	assert.Len(t, sel, 2)
	assert.Equal(t, []models.NodeInfo{sel[0]}, FilterByCategory(sel, models.CategoryStyle))

	_, err = tr.Select(ctx, []string{"nope"})
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = tr.Delete(ctx, []string{a.ID})
	require.NoError(t, err)
	current, err := tr.Selection(ctx)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, "b.shp", current[0].Name)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, [][]string{{"a.sld", "b.shp"}, {"b.shp"}}, rec.selections)
}

func TestBundleMembers(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{"styles/inner.sld": sld, "readme.txt": "hi"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	m := newMem("m").put("/pack.zip", buf.String()).mkdir("/out")
	reg, err := resource.NewRegistry("style", "bundle")
	require.NoError(t, err)
	tr, _ := newTestTree(t, reg, m)
	root := rootOf(t, tr, "m")

	_, err = tr.Populate(ctx, root.ID, false)
	require.NoError(t, err)
	snap, err := tr.Snapshot(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"out", "pack.zip"}, snap.ChildNames())
	pack := childNamed(t, snap, "pack.zip")
	assert.True(t, pack.Pending)
	assert.False(t, pack.Container)

	expanded, err := tr.Expand(ctx, pack.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"inner.sld"}, expanded.ChildNames())
	inner := expanded.Children[0]
	assert.Equal(t, "/pack.zip!/styles/inner.sld", inner.Locator)

	res, err := tr.Open(ctx, inner.ID)
	require.NoError(t, err)
	assert.Equal(t, "Roads", res.StyleName)

	out, err := tr.Resolve(ctx, "m", "/out")
	require.NoError(t, err)
	report, err := tr.Copy(ctx, []string{inner.ID}, out.ID)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, sld, m.data("/out/inner.sld"))

	report, err = tr.Delete(ctx, []string{inner.ID})
	require.NoError(t, err)
	require.Len(t, report.Failed(), 1)
	assert.ErrorIs(t, report.Err(), backend.ErrReadOnly)
}

func TestAttachDetach(t *testing.T) {
	ctx := context.Background()
	tr, rec := newTestTree(t, styleRegistry(t), newMem("first"))

	added, err := tr.Attach(ctx, newMem("second").put("/a.sld", sld))
	require.NoError(t, err)
	require.Len(t, added, 1)
	roots, err := tr.Roots(ctx)
	require.NoError(t, err)
	assert.Len(t, roots, 2)

	require.NoError(t, tr.Detach(ctx, "first"))
	roots, err = tr.Roots(ctx)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "second", roots[0].Connector)

	inserted, removed := rec.snapshot()
	assert.Equal(t, []string{":1"}, inserted)
	assert.Equal(t, []string{":0"}, removed)
}

func TestResolveAndFind(t *testing.T) {
	ctx := context.Background()
	m := newMem("m").put("/a/b/c.sld", sld)
	tr, _ := newTestTree(t, styleRegistry(t), m)

	_, err := tr.Find(ctx, "m", "/a/b/c.sld")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	n, err := tr.Resolve(ctx, "m", "/a/b/c.sld")
	require.NoError(t, err)
	assert.Equal(t, "c.sld", n.Name)

	found, err := tr.Find(ctx, "m", "/a/b/c.sld")
	require.NoError(t, err)
	assert.Equal(t, n.ID, found.ID)

	_, err = tr.Resolve(ctx, "m", "/a/missing.sld")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestClosedTree(t *testing.T) {
	tr, _ := newTestTree(t, styleRegistry(t), newMem("m"))
	require.NoError(t, tr.Close())
	_, err := tr.Roots(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, tr.Enqueue(Change{}))
}

func TestUnderLocator(t *testing.T) {
	assert.True(t, underLocator("/", "/a"))
	assert.True(t, underLocator("/a", "/a/b"))
	assert.True(t, underLocator("/a.zip", "/a.zip!/x.sld"))
	assert.False(t, underLocator("/a", "/ab"))
	assert.False(t, underLocator("/a/b", "/a"))
}
