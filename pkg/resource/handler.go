// Package resource defines the handler plugin interface that decides which
// backend entries are resources, and the registry dispatching entries to
// handlers by discriminator (the file-extension-like tag of an entry).
package resource

import (
	"context"

	"github.com/choraleia/styletree/pkg/models"
	"github.com/choraleia/styletree/pkg/service/backend"
)

// Resource is the in-memory form of a resource read through a handler.
type Resource struct {
	Name     string
	Category models.Category
	Data     []byte
	// StyleName is the name declared inside a style document, if any.
	StyleName string
}

// Handler reads and writes one family of resources.
type Handler interface {
	// Extensions lists the discriminators the handler is registered under by
	// Registry.RegisterHandler.
	Extensions() []string
	Category() models.Category
	// Recognizes reports whether an entry with this name, already dispatched to
	// the handler, is a resource it can work with.
	Recognizes(name string) bool
	// IsContainer reports whether recognized leaves expand to members.
	IsContainer() bool
	Open(ctx context.Context, h backend.Handle) (*Resource, error)
	Save(ctx context.Context, res *Resource, h backend.Handle) error
	// ResourceName is the display name of an opened resource.
	ResourceName(res *Resource) string
}

// ContainerHandler is implemented by handlers whose leaves behave as containers
// (style bundles).
type ContainerHandler interface {
	Handler
	Members(ctx context.Context, h backend.Handle) ([]string, error)
	Member(h backend.Handle, name string) backend.Handle
}
