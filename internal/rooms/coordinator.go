package rooms

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"geohunt/internal/docstore"
	"geohunt/internal/geo"
	"geohunt/internal/identity"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotHost means a host-only action (kick, start, delete) came from
	// a non-host participant.
	ErrNotHost = errors.New("caller is not the room host")
)

// maxCreateAttempts bounds the collision-retry loop. With a 62^6 ID space
// the loop practically never retries; the cap only turns a broken store
// into an error instead of a spin.
const maxCreateAttempts = 256

// Coordinator manages room membership on top of the replicated document
// store. It never assumes it is the only writer: every membership change
// is an array-union or array-remove against the remote list, and the local
// Room values it hands out are projections of whichever snapshot arrived
// last.
type Coordinator struct {
	store docstore.Store
	ident identity.Provider

	mu      sync.Mutex
	created map[string]time.Time // roomID -> expireAt, for the sweeper
}

func NewCoordinator(store docstore.Store, ident identity.Provider) *Coordinator {
	return &Coordinator{
		store:   store,
		ident:   ident,
		created: make(map[string]time.Time),
	}
}

// CreateRoom makes a new room with the caller as host and sole participant.
// The ID is regenerated until it does not collide with an existing room.
func (c *Coordinator) CreateRoom(ctx context.Context, hostName string) (Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		roomID, err := GenerateRoomID()
		if err != nil {
			return Room{}, fmt.Errorf("generating room id: %w", err)
		}

		// Re-check existence on every attempt.
		_, err = c.store.Get(ctx, Collection, roomID)
		if err == nil {
			continue
		}
		if !errors.Is(err, docstore.ErrNotFound) {
			return Room{}, fmt.Errorf("checking room id %s: %w", roomID, err)
		}

		now := time.Now()
		room := Room{
			RoomID:    roomID,
			HostID:    c.ident.CurrentUserID(),
			CreatedAt: now,
			ExpireAt:  now.Add(TTL),
			Participants: []Participant{
				{ID: c.ident.CurrentUserID(), Name: hostName},
			},
		}
		if err := c.store.Set(ctx, Collection, roomID, encodeRoom(room)); err != nil {
			return Room{}, fmt.Errorf("creating room %s: %w", roomID, err)
		}
		c.created[roomID] = room.ExpireAt
		log.Printf("[Rooms] Created room %s host=%s\n", roomID, room.HostID)
		return room, nil
	}
	return Room{}, fmt.Errorf("no free room id after %d attempts", maxCreateAttempts)
}

// JoinRoom adds the caller to the room's participant list.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID, participantName string) error {
	if _, err := c.getLiveRoom(ctx, roomID); err != nil {
		return err
	}

	p := Participant{ID: c.ident.CurrentUserID(), Name: participantName}
	err := c.store.Update(ctx, Collection, roomID, map[string]any{
		"participants": docstore.ArrayUnion{Values: []any{encodeParticipant(p)}},
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return fmt.Errorf("joining room %s: %w", roomID, err)
	}
	log.Printf("[Rooms] %s joined room %s\n", p.ID, roomID)
	return nil
}

// RemoveParticipant removes the identified participant. An empty
// participantID means self-leave. Removing anyone else is a kick and
// requires the caller to be the host. Removal is keyed by identity, never
// by display name.
func (c *Coordinator) RemoveParticipant(ctx context.Context, roomID, participantID string) error {
	room, err := c.getLiveRoom(ctx, roomID)
	if err != nil {
		return err
	}

	self := c.ident.CurrentUserID()
	if participantID == "" {
		participantID = self
	}
	if participantID != self && room.HostID != self {
		return ErrNotHost
	}

	// Remove the exact stored entry, including its location field, so the
	// array-remove matches.
	var entry map[string]any
	for _, p := range room.Participants {
		if p.ID == participantID {
			entry = encodeParticipant(p)
			break
		}
	}
	if entry == nil {
		// Already gone; a concurrent editor got there first.
		return nil
	}

	err = c.store.Update(ctx, Collection, roomID, map[string]any{
		"participants": docstore.ArrayRemove{Values: []any{entry}},
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return fmt.Errorf("removing participant from %s: %w", roomID, err)
	}
	log.Printf("[Rooms] Removed %s from room %s\n", participantID, roomID)
	return nil
}

// UpdateLocation refreshes the caller's lastKnownLocation in the room
// document, expressed as union-new + remove-old so concurrent membership
// edits are not overwritten.
func (c *Coordinator) UpdateLocation(ctx context.Context, roomID string, pos geo.Coordinates) error {
	room, err := c.getLiveRoom(ctx, roomID)
	if err != nil {
		return err
	}

	self := c.ident.CurrentUserID()
	for _, p := range room.Participants {
		if p.ID != self {
			continue
		}
		updated := p
		updated.LastKnownLocation = &pos

		// Two edits: the store cannot union and remove the same field in
		// one update. Union first so no intermediate snapshot ever omits
		// the identity; an omission would read as an eviction.
		err := c.store.Update(ctx, Collection, roomID, map[string]any{
			"participants": docstore.ArrayUnion{Values: []any{encodeParticipant(updated)}},
		})
		if err != nil {
			return fmt.Errorf("updating location in %s: %w", roomID, err)
		}
		err = c.store.Update(ctx, Collection, roomID, map[string]any{
			"participants": docstore.ArrayRemove{Values: []any{encodeParticipant(p)}},
		})
		if err != nil {
			return fmt.Errorf("updating location in %s: %w", roomID, err)
		}
		return nil
	}
	return nil
}

// HostStartsGame flips the room to started and publishes the seed assets.
// Every subscriber sees started=true on its next snapshot and moves into
// the scavenging phase locally.
func (c *Coordinator) HostStartsGame(ctx context.Context, roomID string, seedAssets []GeoTaggedAsset) error {
	room, err := c.getLiveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HostID != c.ident.CurrentUserID() {
		return ErrNotHost
	}

	seeds := make([]any, 0, len(seedAssets))
	for _, a := range seedAssets {
		seeds = append(seeds, encodeAsset(a))
	}
	err = c.store.Update(ctx, Collection, roomID, map[string]any{
		"started":    true,
		"seedImages": seeds,
	})
	if err != nil {
		return fmt.Errorf("starting game in room %s: %w", roomID, err)
	}
	log.Printf("[Rooms] Room %s started with %d seed assets\n", roomID, len(seedAssets))
	return nil
}

// DeleteRoom hard-deletes the room, independent of passive expiry.
// Host only.
func (c *Coordinator) DeleteRoom(ctx context.Context, roomID string) error {
	room, err := c.getLiveRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HostID != c.ident.CurrentUserID() {
		return ErrNotHost
	}
	if err := c.store.Delete(ctx, Collection, roomID); err != nil {
		return fmt.Errorf("deleting room %s: %w", roomID, err)
	}
	c.mu.Lock()
	delete(c.created, roomID)
	c.mu.Unlock()
	log.Printf("[Rooms] Deleted room %s\n", roomID)
	return nil
}

// GetRoom returns the current projection of a room.
func (c *Coordinator) GetRoom(ctx context.Context, roomID string) (Room, error) {
	return c.getLiveRoom(ctx, roomID)
}

func (c *Coordinator) getLiveRoom(ctx context.Context, roomID string) (Room, error) {
	data, err := c.store.Get(ctx, Collection, roomID)
	if errors.Is(err, docstore.ErrNotFound) {
		return Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return Room{}, fmt.Errorf("loading room %s: %w", roomID, err)
	}
	room := decodeRoom(data)
	// A room past its deadline is gone even if the sweeper has not
	// collected the document yet.
	if room.Expired(time.Now()) {
		return Room{}, fmt.Errorf("%w: %s expired", ErrRoomNotFound, roomID)
	}
	return room, nil
}

// SnapshotHandlers receives room subscription events. OnUpdate fires for
// every applied snapshot that still contains the local participant.
// OnRemoved fires at most once, when a snapshot omits the local identity
// or the room disappears; the subscription marks itself evicted first, so
// no OnUpdate follows it.
type SnapshotHandlers struct {
	OnUpdate  func(Room)
	OnRemoved func()
}

// Subscribe listens to a room document. Snapshots are applied latest-wins:
// a delivery whose sequence number is not beyond the last applied one is
// discarded. The returned handle is idempotent.
func (c *Coordinator) Subscribe(roomID string, handlers SnapshotHandlers) docstore.Unsubscribe {
	self := c.ident.CurrentUserID()

	var mu sync.Mutex
	var lastSeq uint64
	evicted := false

	// The store can deliver the initial snapshot before Subscribe returns,
	// so the callback must not read the handle directly: it may still be
	// unassigned. detach resolves it under the mutex, on its own goroutine
	// because the store's unsubscribe waits out the running callback.
	var storeUnsub docstore.Unsubscribe
	detach := func() {
		mu.Lock()
		unsub := storeUnsub
		mu.Unlock()
		if unsub != nil {
			unsub()
		}
	}

	handle := c.store.Subscribe(Collection, roomID, func(snap docstore.Snapshot) {
		mu.Lock()
		if evicted || snap.Seq <= lastSeq {
			mu.Unlock()
			return
		}
		lastSeq = snap.Seq

		if !snap.Exists {
			// Treat a vanished room like an authoritative removal.
			evicted = true
			mu.Unlock()
			go detach()
			if handlers.OnRemoved != nil {
				handlers.OnRemoved()
			}
			return
		}

		room := decodeRoom(snap.Data)
		if !room.HasParticipant(self) {
			evicted = true
			mu.Unlock()
			go detach()
			log.Printf("[Rooms] %s evicted from room %s\n", self, roomID)
			if handlers.OnRemoved != nil {
				handlers.OnRemoved()
			}
			return
		}
		mu.Unlock()

		if handlers.OnUpdate != nil {
			handlers.OnUpdate(room)
		}
	})

	mu.Lock()
	storeUnsub = handle
	tearDownNow := evicted
	mu.Unlock()
	// An eviction on the initial snapshot can race ahead of the handle
	// assignment; its detach saw nil, so finish the teardown here.
	if tearDownNow {
		handle()
	}
	return handle
}

// RunSweeper deletes rooms this coordinator created once they pass their
// expiry deadline. Runs until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SweepExpired(ctx)
		}
	}
}

func (c *Coordinator) SweepExpired(ctx context.Context) {
	now := time.Now()

	c.mu.Lock()
	var expired []string
	for roomID, expireAt := range c.created {
		if now.After(expireAt) {
			expired = append(expired, roomID)
		}
	}
	c.mu.Unlock()

	for _, roomID := range expired {
		if err := c.store.Delete(ctx, Collection, roomID); err != nil {
			log.Printf("[Rooms] Sweeping room %s: %v\n", roomID, err)
			continue
		}
		c.mu.Lock()
		delete(c.created, roomID)
		c.mu.Unlock()
		log.Printf("[Rooms] Swept expired room %s\n", roomID)
	}
}
