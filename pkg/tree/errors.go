package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrMisuse marks a contract violation by the caller: deleting a container,
	// populating a node without a connector, copying into a leaf. No partial work
	// is performed when it is returned.
	ErrMisuse = errors.New("tree misuse")
	// ErrNodeNotFound is returned for node IDs that are not (or no longer) in the tree.
	ErrNodeNotFound = errors.New("node not found")
	// ErrUnreachable is matched by UnreachableError.
	ErrUnreachable = errors.New("backend unreachable")
	// ErrClosed is returned by operations on a closed tree.
	ErrClosed = errors.New("tree closed")
)

func misuse(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMisuse, fmt.Sprintf(format, args...))
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
}

// EnumerationFault is an entry skipped during a best-effort listing. It is
// reported to the ErrorReporter and never fails the population.
type EnumerationFault struct {
	NodeID  string // container being listed
	Name    string
	Locator string
	Err     error
}

func (f *EnumerationFault) Error() string {
	return fmt.Sprintf("skipped %s: %v", f.Locator, f.Err)
}

func (f *EnumerationFault) Unwrap() error { return f.Err }

func (f *EnumerationFault) Node() string { return f.NodeID }

// UnreachableError marks a root or container whose backend could not be
// listed (connection, auth, timeout).
type UnreachableError struct {
	NodeID    string
	Name      string
	Connector string
	Err       error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s (%s) unreachable: %v", e.Name, e.Connector, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

func (e *UnreachableError) Is(target error) bool { return target == ErrUnreachable }

func (e *UnreachableError) Node() string { return e.NodeID }

// ItemError is the failure of one source item of a bulk copy, move or delete.
type ItemError struct {
	NodeID string
	Name   string
	Op     string
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Name, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

func (e *ItemError) Node() string { return e.NodeID }
