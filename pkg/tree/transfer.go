package tree

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/resource"
)

const copyPrefix = "Copy of "

// TransferItem is the outcome for one source node of a bulk operation.
type TransferItem struct {
	NodeID string
	Name   string
	// Target is the destination-native name (copy and move).
	Target string
	Err    error
}

// TransferReport collects per-item outcomes. The operation is best effort: a
// failed item never stops the remaining ones.
type TransferReport struct {
	Op    string
	Items []TransferItem
}

func (r *TransferReport) Succeeded() []TransferItem {
	var out []TransferItem
	for _, it := range r.Items {
		if it.Err == nil {
			out = append(out, it)
		}
	}
	return out
}

func (r *TransferReport) Failed() []TransferItem {
	var out []TransferItem
	for _, it := range r.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// Err aggregates the item failures, or returns nil when every item succeeded.
func (r *TransferReport) Err() error {
	var result *multierror.Error
	for _, it := range r.Failed() {
		result = multierror.Append(result, it.Err)
	}
	return result.ErrorOrNil()
}

// Result converts the report to its API form.
func (r *TransferReport) Result() models.TransferResult {
	res := models.TransferResult{Succeeded: []models.TransferItem{}, Failed: []models.TransferItem{}}
	for _, it := range r.Items {
		ti := models.TransferItem{NodeID: it.NodeID, Name: it.Name, Target: it.Target}
		if it.Err != nil {
			ti.Error = it.Err.Error()
			res.Failed = append(res.Failed, ti)
			continue
		}
		res.Succeeded = append(res.Succeeded, ti)
	}
	return res
}

type transferSource struct {
	nodeID string
	name   string
	ref    *handleRef
}

type transferPlan struct {
	destID  string
	destRef *handleRef
	sources []transferSource
}

// planSources validates source nodes on the owner. Containers are misuse.
func (t *Tree) planSources(op string, ids []string) ([]transferSource, error) {
	out := make([]transferSource, 0, len(ids))
	for _, id := range dedupe(ids) {
		n, ok := t.nodes[id]
		if !ok {
			return nil, notFound(id)
		}
		if n.container {
			return nil, misuse("%s %s: containers cannot be %s", op, n.name, pastTense(op))
		}
		if n.handler == nil {
			return nil, misuse("%s %s: node has no resource handler", op, n.name)
		}
		out = append(out, transferSource{nodeID: n.id, name: n.name, ref: t.refOf(n)})
	}
	return out, nil
}

func pastTense(op string) string {
	switch op {
	case "copy":
		return "copied"
	case "move":
		return "moved"
	}
	return op + "d"
}

func (t *Tree) planTransfer(ctx context.Context, op string, ids []string, destID string) (*transferPlan, error) {
	var (
		plan *transferPlan
		perr error
	)
	err := t.do(ctx, func() {
		dest, ok := t.nodes[destID]
		if !ok {
			perr = notFound(destID)
			return
		}
		if !dest.container {
			perr = misuse("%s into %s: destination is not a container", op, dest.name)
			return
		}
		if dest.unreachable {
			perr = &UnreachableError{NodeID: dest.id, Name: dest.name, Connector: connName(dest), Err: errors.New("destination unreachable")}
			return
		}
		sources, err := t.planSources(op, ids)
		if err != nil {
			perr = err
			return
		}
		plan = &transferPlan{destID: dest.id, destRef: t.refOf(dest), sources: sources}
	})
	if err != nil {
		return nil, err
	}
	return plan, perr
}

// Copy saves each source leaf into the destination container through the
// source's handler. A source copied into its own native container is saved as
// "Copy of <name>". The destination is refreshed afterwards.
func (t *Tree) Copy(ctx context.Context, ids []string, destID string) (*TransferReport, error) {
	return t.transfer(ctx, "copy", ids, destID)
}

// Move copies the sources and removes each successfully copied one. Moving an
// item into its own container is a no-op for that item.
func (t *Tree) Move(ctx context.Context, ids []string, destID string) (*TransferReport, error) {
	return t.transfer(ctx, "move", ids, destID)
}

func (t *Tree) transfer(ctx context.Context, op string, ids []string, destID string) (*TransferReport, error) {
	plan, err := t.planTransfer(ctx, op, ids, destID)
	if err != nil {
		return nil, err
	}

	report := &TransferReport{Op: op}
	var moved []string
	for _, src := range plan.sources {
		item := TransferItem{NodeID: src.nodeID, Name: src.name}
		target, same, err := t.copyOne(ctx, src, plan.destRef, op == "move")
		item.Target = target
		if err != nil {
			item.Err = &ItemError{NodeID: src.nodeID, Name: src.name, Op: op, Err: err}
		} else if op == "move" && !same {
			moved = append(moved, src.nodeID)
		}
		report.Items = append(report.Items, item)
	}

	err = t.do(ctx, func() {
		for _, id := range moved {
			t.removeNode(id)
		}
		if dest, ok := t.nodes[plan.destID]; ok {
			if rerr := t.refresh(ctx, dest); rerr != nil {
				t.logger.Warn("Failed to refresh destination", "nodeId", dest.id, "error", rerr)
			}
		}
		t.reportItems(report)
	})
	t.logger.Info("Transfer finished", "op", op, "items", len(report.Items), "failed", len(report.Failed()))
	if err != nil {
		return report, err
	}
	return report, nil
}

// copyOne copies one source. For moves into the source's own container it does
// nothing and reports same=true.
func (t *Tree) copyOne(ctx context.Context, src transferSource, dest *handleRef, move bool) (string, bool, error) {
	srcHandle, err := t.resolveHandle(ctx, src.ref)
	if err != nil {
		return "", false, errors.Wrapf(err, "resolve %s", src.name)
	}
	same := src.ref.conn.Name() == dest.conn.Name() && srcHandle.Parent() == dest.locator
	if same && move {
		return srcHandle.Name(), true, nil
	}

	res, err := src.ref.handler.Open(ctx, srcHandle)
	if err != nil {
		return "", same, errors.Wrapf(err, "open %s", src.name)
	}
	target := src.ref.handler.ResourceName(res)
	if same {
		target = copyPrefix + target
	}
	dstHandle, err := dest.conn.Handle(ctx, dest.conn.Join(dest.locator, target))
	if err != nil {
		return target, same, errors.Wrapf(err, "resolve destination %s", target)
	}
	if err := src.ref.handler.Save(ctx, res, dstHandle); err != nil {
		return target, same, errors.Wrapf(err, "save %s", target)
	}
	if move {
		if err := srcHandle.Remove(ctx); err != nil {
			return target, same, errors.Wrapf(err, "remove source %s", src.name)
		}
	}
	return target, same, nil
}

// Delete removes leaf resources natively, then drops their nodes. Any container
// among ids fails the whole call before anything is deleted.
func (t *Tree) Delete(ctx context.Context, ids []string) (*TransferReport, error) {
	var (
		sources []transferSource
		perr    error
	)
	if err := t.do(ctx, func() { sources, perr = t.planSources("delete", ids) }); err != nil {
		return nil, err
	}
	if perr != nil {
		return nil, perr
	}

	report := &TransferReport{Op: "delete"}
	var deleted []string
	for _, src := range sources {
		item := TransferItem{NodeID: src.nodeID, Name: src.name}
		if err := t.deleteOne(ctx, src); err != nil {
			item.Err = &ItemError{NodeID: src.nodeID, Name: src.name, Op: "delete", Err: err}
		} else {
			deleted = append(deleted, src.nodeID)
		}
		report.Items = append(report.Items, item)
	}

	err := t.do(ctx, func() {
		for _, id := range deleted {
			t.removeNode(id)
		}
		t.reportItems(report)
	})
	t.logger.Info("Delete finished", "items", len(report.Items), "failed", len(report.Failed()))
	return report, err
}

func (t *Tree) deleteOne(ctx context.Context, src transferSource) error {
	h, err := t.resolveHandle(ctx, src.ref)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", src.name)
	}
	if err := h.Remove(ctx); err != nil {
		return errors.Wrapf(err, "remove %s", src.name)
	}
	return nil
}

// removeNode detaches a node from its parent and notifies. Nodes already gone
// (e.g. removed by a watch event) are ignored.
func (t *Tree) removeNode(id string) {
	n, ok := t.nodes[id]
	if !ok || n.parent == nil {
		return
	}
	p := n.parent
	i := p.childIndex(n)
	if i < 0 {
		return
	}
	p.children = append(p.children[:i], p.children[i+1:]...)
	t.release(n)
	t.pruneSelection()
	t.structure.NodesRemoved(p.info(0), []int{i})
}

func (t *Tree) reportItems(r *TransferReport) {
	for _, it := range r.Failed() {
		t.logger.Error("Transfer item failed", "op", r.Op, "nodeId", it.NodeID, "name", it.Name, "error", it.Err)
		t.errs.ReportError(r.Op+" "+it.Name, it.Err)
	}
}

// Open reads a leaf resource through its handler.
func (t *Tree) Open(ctx context.Context, id string) (*resource.Resource, error) {
	var (
		ref  *handleRef
		perr error
	)
	err := t.do(ctx, func() {
		n, ok := t.nodes[id]
		if !ok {
			perr = notFound(id)
			return
		}
		if n.handler == nil {
			perr = misuse("open %s: not a resource", n.name)
			return
		}
		ref = t.refOf(n)
	})
	if err != nil {
		return nil, err
	}
	if perr != nil {
		return nil, perr
	}
	h, err := t.resolveHandle(ctx, ref)
	if err != nil {
		return nil, err
	}
	return ref.handler.Open(ctx, h)
}
