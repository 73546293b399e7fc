package docstore

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// MemoryStore is an in-process Store. It keeps the same contract a hosted
// replicated store provides: whole-snapshot listeners, per-document
// sequence numbers, and union/remove array edits. Slow listeners are
// conflated to the newest snapshot rather than blocking writers.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*document
}

type document struct {
	data map[string]any
	seq  uint64
	subs map[*subscription]struct{}
}

type subscription struct {
	fn   func(Snapshot)
	ch   chan Snapshot
	done chan struct{}

	// mu serializes callback invocation with teardown: once an unsubscribe
	// acquires it and flips closed, no further invocation can start.
	mu     sync.Mutex
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*document)}
}

func key(collection, id string) string {
	return collection + "/" + id
}

func (m *MemoryStore) Get(_ context.Context, collection, id string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key(collection, id)]
	if !ok || doc.data == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return deepCopy(doc.data), nil
}

func (m *MemoryStore) Set(_ context.Context, collection, id string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.doc(collection, id)
	doc.data = deepCopy(data)
	m.commit(collection, id, doc)
	return nil
}

func (m *MemoryStore) Update(_ context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key(collection, id)]
	if !ok || doc.data == nil {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}

	for field, value := range fields {
		switch op := value.(type) {
		case ArrayUnion:
			doc.data[field] = applyUnion(doc.data[field], op.Values)
		case ArrayRemove:
			doc.data[field] = applyRemove(doc.data[field], op.Values)
		default:
			doc.data[field] = deepCopyValue(value)
		}
	}
	m.commit(collection, id, doc)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[key(collection, id)]
	if !ok || doc.data == nil {
		return nil
	}
	doc.data = nil
	m.commit(collection, id, doc)
	return nil
}

func (m *MemoryStore) Subscribe(collection, id string, fn func(Snapshot)) Unsubscribe {
	m.mu.Lock()
	doc := m.doc(collection, id)

	sub := &subscription{
		fn:   fn,
		ch:   make(chan Snapshot, 1),
		done: make(chan struct{}),
	}
	doc.subs[sub] = struct{}{}
	// Initial snapshot reflecting the document's current state.
	sub.offer(m.snapshot(collection, id, doc))
	m.mu.Unlock()

	go sub.deliver()

	// Blocks until any in-flight callback returns, so it must not be
	// called from inside the callback itself; a listener tearing itself
	// down spawns a goroutine for it.
	return func() {
		sub.mu.Lock()
		already := sub.closed
		sub.closed = true
		sub.mu.Unlock()
		if already {
			return
		}
		close(sub.done)

		m.mu.Lock()
		if d, ok := m.docs[key(collection, id)]; ok {
			delete(d.subs, sub)
		}
		m.mu.Unlock()
	}
}

// doc returns the document record, creating an empty shell to hang
// subscriptions on. Caller holds m.mu.
func (m *MemoryStore) doc(collection, id string) *document {
	k := key(collection, id)
	doc, ok := m.docs[k]
	if !ok {
		doc = &document{subs: make(map[*subscription]struct{})}
		m.docs[k] = doc
	}
	return doc
}

// commit bumps the sequence number and fans the new snapshot out to every
// listener. Caller holds m.mu.
func (m *MemoryStore) commit(collection, id string, doc *document) {
	doc.seq++
	snap := m.snapshot(collection, id, doc)
	for sub := range doc.subs {
		sub.offer(snap)
	}
}

func (m *MemoryStore) snapshot(collection, id string, doc *document) Snapshot {
	snap := Snapshot{
		Collection: collection,
		ID:         id,
		Seq:        doc.seq,
		Exists:     doc.data != nil,
	}
	if doc.data != nil {
		snap.Data = deepCopy(doc.data)
	}
	return snap
}

// offer replaces any undelivered snapshot with the newer one. Listeners
// always converge on the latest state even if they miss intermediates.
func (s *subscription) offer(snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
			select {
			case <-s.ch:
			default:
			}
		}
	}
}

func (s *subscription) deliver() {
	for {
		select {
		case <-s.done:
			return
		case snap := <-s.ch:
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.fn(snap)
			s.mu.Unlock()
		}
	}
}

func applyUnion(current any, values []any) []any {
	arr, _ := current.([]any)
	for _, v := range values {
		exists := false
		for _, el := range arr {
			if reflect.DeepEqual(el, v) {
				exists = true
				break
			}
		}
		if !exists {
			arr = append(arr, deepCopyValue(v))
		}
	}
	return arr
}

func applyRemove(current any, values []any) []any {
	arr, _ := current.([]any)
	out := arr[:0:0]
	for _, el := range arr {
		remove := false
		for _, v := range values {
			if reflect.DeepEqual(el, v) {
				remove = true
				break
			}
		}
		if !remove {
			out = append(out, el)
		}
	}
	return out
}

func deepCopy(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return deepCopy(tv)
	case []any:
		out := make([]any, len(tv))
		for i, el := range tv {
			out[i] = deepCopyValue(el)
		}
		return out
	default:
		return v
	}
}
