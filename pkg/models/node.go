package models

// BackendKind identifies the kind of native storage behind a tree node.
type BackendKind string

const (
	BackendLocal      BackendKind = "local"      // local filesystem folders
	BackendRepository BackendKind = "repository" // remote style repository (GeoServer REST)
	BackendDatabase   BackendKind = "database"   // relational/spatial database connection
	BackendSFTP       BackendKind = "sftp"       // remote folder over SFTP
	BackendRedis      BackendKind = "redis"      // key-value style cache
)

// NodeState population state of a tree node
type NodeState string

const (
	StateUnpopulated NodeState = "unpopulated" // no children computed yet
	StateInterim     NodeState = "interim"     // direct children known, deeper levels pending
	StatePopulated   NodeState = "populated"   // fully resolved
)

// Category classification attached to a node after handler dispatch.
type Category string

const (
	CategoryUnknown Category = "unknown"
	CategoryVector  Category = "vector"
	CategoryRaster  Category = "raster"
	CategoryStyle   Category = "style"
)

// NodeInfo is a read-only snapshot of a tree node handed out by the tree owner.
type NodeInfo struct {
	ID          string      `json:"id"`
	ParentID    string      `json:"parent_id,omitempty"`
	Name        string      `json:"name"`
	Locator     string      `json:"locator"`
	Backend     BackendKind `json:"backend"`
	Connector   string      `json:"connector"`
	Container   bool        `json:"container"`
	State       NodeState   `json:"state"`
	Category    Category    `json:"category"`
	Unreachable bool        `json:"unreachable,omitempty"`
	Pending     bool        `json:"pending,omitempty"` // "may have more" placeholder
	Leaf        bool        `json:"leaf"`
	Expandable  bool        `json:"expandable"` // container or bundle, whether populated or not
	Children    []NodeInfo  `json:"children,omitempty"`
}

// ChildNames returns the names of the snapshot's children in display order.
func (n NodeInfo) ChildNames() []string {
	names := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		names = append(names, c.Name)
	}
	return names
}
