// Package backend provides the connectors that expose native storage (local
// folders, style repositories, databases, remote folders, key-value caches) as
// entries of the unified resource tree.
//
// A connector never decides what is shown: it enumerates native entries and
// materializes handles. Filtering through the resource registry, ordering and
// node state live in package tree.
package backend

import (
	"context"
	"errors"
	"io"

	"github.com/choraleia/styletree/pkg/models"
)

var (
	// ErrNotFound is returned when a locator does not resolve to a native entry.
	ErrNotFound = errors.New("entry not found")
	// ErrReadOnly is returned by handles that cannot be written or removed.
	ErrReadOnly = errors.New("resource is read-only")
	// ErrUnsupported is returned for operations a backend does not implement.
	ErrUnsupported = errors.New("operation not supported by backend")
)

// Root is a top-level entry owned by a connector. A non-nil Err marks a root that
// could not be reached; it is still shown, as an unreachable node.
type Root struct {
	Name    string
	Locator string
	Err     error
}

// Entry is one native entry found while listing a container.
//
// Discriminator overrides the file-extension discriminator for entries that are
// identified by their backend type (database tables).
type Entry struct {
	Name          string
	Locator       string
	Container     bool
	Discriminator string
}

// Fault is an entry that was skipped during a best-effort listing.
type Fault struct {
	Name    string
	Locator string
	Err     error
}

// Listing is the result of enumerating one native container.
type Listing struct {
	Entries []Entry
	Faults  []Fault
}

// Handle is the backend-native reference used to read, write or delete one
// resource. It is stable for the lifetime of the node it was resolved for.
type Handle interface {
	Kind() models.BackendKind
	// Locator is the native address of the resource.
	Locator() string
	// Parent is the locator of the native container holding the resource.
	Parent() string
	// Name is the native name of the resource inside Parent.
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
	Create(ctx context.Context) (io.WriteCloser, error)
	Remove(ctx context.Context) error
}

// Connector is the plugin interface each backend kind implements.
type Connector interface {
	// Name is unique per tree; it prefixes node addresses ("name:locator").
	Name() string
	Kind() models.BackendKind
	// ListRoots enumerates top-level roots. Per-root failures are carried in
	// Root.Err; an error return means no root could be listed at all.
	ListRoots(ctx context.Context) ([]Root, error)
	// List enumerates the direct entries of a container. An error return means the
	// container itself is unreachable.
	List(ctx context.Context, locator string) (*Listing, error)
	Stat(ctx context.Context, locator string) (*Entry, error)
	Handle(ctx context.Context, locator string) (Handle, error)
	// Join returns the locator of the entry called name inside container.
	Join(container, name string) string
}

// Watchable is implemented by connectors whose containers mirror a native
// directory that can be observed for changes.
type Watchable interface {
	WatchPath(locator string) (string, bool)
}

// Closer is implemented by connectors holding network resources.
type Closer interface {
	Close() error
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
