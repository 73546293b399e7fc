// Package docstore abstracts the replicated document database the room
// system lives in. Documents are schemaless maps; listeners receive whole
// document snapshots, never deltas, tagged with a monotonic sequence
// number so consumers can drop stale deliveries.
package docstore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("document not found")

// Snapshot is one whole-document view delivered to a listener.
type Snapshot struct {
	Collection string
	ID         string
	// Seq increases with every committed write to the document. Consumers
	// must ignore snapshots whose Seq is not greater than the last one
	// they applied.
	Seq uint64
	// Exists is false when the snapshot reports a deletion.
	Exists bool
	Data   map[string]any
}

// Unsubscribe tears down a listener. Safe to call more than once. It
// blocks until any in-flight callback returns; no new callback invocation
// starts after it returns. Because it waits out the callback, it must not
// be called from inside the callback; a listener tearing itself down runs
// it on a separate goroutine.
type Unsubscribe func()

// ArrayUnion appends values to an array field, skipping values already
// present. Used as a field value in Update.
type ArrayUnion struct {
	Values []any
}

// ArrayRemove deletes all array elements equal to any of the values.
// Used as a field value in Update.
type ArrayRemove struct {
	Values []any
}

// Store is the external document database. Participant-list edits must go
// through ArrayUnion/ArrayRemove so concurrent editors cannot clobber each
// other's entries with a whole-list overwrite.
type Store interface {
	Get(ctx context.Context, collection, id string) (map[string]any, error)
	Set(ctx context.Context, collection, id string, data map[string]any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	// Subscribe registers fn for every committed change to the document,
	// starting with its current state. fn runs on a dedicated goroutine,
	// one call at a time.
	Subscribe(collection, id string, fn func(Snapshot)) Unsubscribe
}
