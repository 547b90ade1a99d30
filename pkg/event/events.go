package event

import (
	"errors"

	"github.com/choraleia/styletree/pkg/models"
)

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	TreeNodesInserted    = "tree.nodesInserted"
	TreeNodesRemoved     = "tree.nodesRemoved"
	TreeStructureChanged = "tree.structureChanged"
	TreeSelectionChanged = "tree.selectionChanged"
	TreeError            = "tree.error"
	ConnectionCreated    = "connection.created"
	ConnectionUpdated    = "connection.updated"
	ConnectionDeleted    = "connection.deleted"
)

// ============================================================================
// Tree Events
// ============================================================================

// TreeEvent is an event about the resource tree. Scope names the node the
// event concerns and the connector owning it; either may be empty when the
// event is not tied to one.
type TreeEvent interface {
	Event
	Scope() (nodeID, connector string)
}

// NodesInsertedEvent is emitted when children appear under a node.
// An empty ParentID means new top-level roots.
type NodesInsertedEvent struct {
	ParentID  string `json:"parent_id,omitempty"`
	Connector string `json:"connector,omitempty"`
	Indices   []int  `json:"indices"`
}

func (e NodesInsertedEvent) EventName() string { return TreeNodesInserted }
func (e NodesInsertedEvent) Scope() (string, string) { return e.ParentID, e.Connector }

// NodesRemovedEvent is emitted when children disappear from a node.
type NodesRemovedEvent struct {
	ParentID  string `json:"parent_id,omitempty"`
	Connector string `json:"connector,omitempty"`
	Indices   []int  `json:"indices"`
}

func (e NodesRemovedEvent) EventName() string { return TreeNodesRemoved }
func (e NodesRemovedEvent) Scope() (string, string) { return e.ParentID, e.Connector }

// StructureChangedEvent is emitted when a subtree was re-derived.
// An empty NodeID means the whole tree.
type StructureChangedEvent struct {
	NodeID    string `json:"node_id,omitempty"`
	Connector string `json:"connector,omitempty"`
}

func (e StructureChangedEvent) EventName() string { return TreeStructureChanged }
func (e StructureChangedEvent) Scope() (string, string) { return e.NodeID, e.Connector }

// SelectionChangedEvent is emitted when the selection set changes.
type SelectionChangedEvent struct {
	IDs []string `json:"ids"`
}

func (e SelectionChangedEvent) EventName() string { return TreeSelectionChanged }
func (e SelectionChangedEvent) Scope() (string, string) { return "", "" }

// ErrorEvent carries a user-facing error raised inside the tree.
type ErrorEvent struct {
	Context string `json:"context"`
	Message string `json:"message"`
	NodeID  string `json:"node_id,omitempty"`
}

func (e ErrorEvent) EventName() string { return TreeError }
func (e ErrorEvent) Scope() (string, string) { return e.NodeID, "" }

// ============================================================================
// Connection Events
// ============================================================================

// ConnectionCreatedEvent is emitted when a connection is saved.
type ConnectionCreatedEvent struct {
	ConnectionID string `json:"connection_id"`
}

func (e ConnectionCreatedEvent) EventName() string { return ConnectionCreated }

// ConnectionUpdatedEvent is emitted when a connection is updated.
type ConnectionUpdatedEvent struct {
	ConnectionID string `json:"connection_id"`
}

func (e ConnectionUpdatedEvent) EventName() string { return ConnectionUpdated }

// ConnectionDeletedEvent is emitted when a connection is removed.
type ConnectionDeletedEvent struct {
	ConnectionID string `json:"connection_id"`
}

func (e ConnectionDeletedEvent) EventName() string { return ConnectionDeleted }

// ============================================================================
// Tree bridge
// ============================================================================

// nodeError is implemented by tree errors that name the node they concern.
type nodeError interface {
	error
	Node() string
}

// TreeBridge forwards tree sink callbacks onto an Emitter.
type TreeBridge struct {
	emitter *Emitter
}

func NewTreeBridge(emitter *Emitter) *TreeBridge {
	return &TreeBridge{emitter: emitter}
}

func (b *TreeBridge) NodesInserted(parent models.NodeInfo, idx []int) {
	b.emitter.Emit(NodesInsertedEvent{ParentID: parent.ID, Connector: parent.Connector, Indices: idx})
}

func (b *TreeBridge) NodesRemoved(parent models.NodeInfo, idx []int) {
	b.emitter.Emit(NodesRemovedEvent{ParentID: parent.ID, Connector: parent.Connector, Indices: idx})
}

func (b *TreeBridge) StructureChanged(node models.NodeInfo) {
	b.emitter.Emit(StructureChangedEvent{NodeID: node.ID, Connector: node.Connector})
}

func (b *TreeBridge) SelectionChanged(nodes []models.NodeInfo) {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	b.emitter.Emit(SelectionChangedEvent{IDs: ids})
}

func (b *TreeBridge) ReportError(context string, cause error) {
	ev := ErrorEvent{Context: context}
	if cause != nil {
		ev.Message = cause.Error()
	}
	var ne nodeError
	if errors.As(cause, &ne) {
		ev.NodeID = ne.Node()
	}
	b.emitter.Emit(ev)
}
