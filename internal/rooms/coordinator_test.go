package rooms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"geohunt/internal/docstore"
	"geohunt/internal/geo"
	"geohunt/internal/identity"
)

func newTestCoordinator(store docstore.Store, userID string) *Coordinator {
	return NewCoordinator(store, identity.Static(userID))
}

func TestCreateRoom(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")

	room, err := host.CreateRoom(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("CreateRoom() error: %v", err)
	}
	if len(room.RoomID) != idLength {
		t.Errorf("room id = %q, want %d chars", room.RoomID, idLength)
	}
	if room.HostID != "host-1" {
		t.Errorf("host id = %q, want host-1", room.HostID)
	}
	if len(room.Participants) != 1 || room.Participants[0].ID != "host-1" {
		t.Errorf("participants = %+v, want just the host", room.Participants)
	}
	if !room.HasParticipant(room.HostID) {
		t.Error("host must be a participant while the room exists")
	}

	ttl := room.ExpireAt.Sub(room.CreatedAt)
	if ttl != TTL {
		t.Errorf("ttl = %v, want %v", ttl, TTL)
	}

	got, err := host.GetRoom(context.Background(), room.RoomID)
	if err != nil {
		t.Fatalf("GetRoom() error: %v", err)
	}
	if got.RoomID != room.RoomID || got.Started {
		t.Errorf("stored room = %+v", got)
	}
}

// collidingStore pretends every generated ID already exists for the first
// n existence checks, forcing the creation loop to retry.
type collidingStore struct {
	docstore.Store
	mu        sync.Mutex
	remaining int
	checks    int
}

func (c *collidingStore) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	c.mu.Lock()
	c.checks++
	collide := c.remaining > 0
	if collide {
		c.remaining--
	}
	c.mu.Unlock()
	if collide {
		return map[string]any{"roomId": id}, nil
	}
	return c.Store.Get(ctx, collection, id)
}

func TestCreateRoom_RetriesOnCollision(t *testing.T) {
	cs := &collidingStore{Store: docstore.NewMemoryStore(), remaining: 3}
	host := newTestCoordinator(cs, "host-1")

	room, err := host.CreateRoom(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("CreateRoom() error: %v", err)
	}
	if room.RoomID == "" {
		t.Fatal("empty room id")
	}
	if cs.checks != 4 {
		t.Errorf("existence checks = %d, want 4 (3 collisions + 1 success)", cs.checks)
	}
}

func TestCreateRoom_ManyUniqueIDs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 10k-room creation in short mode")
	}
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")

	const total = 10000
	ids := make(chan string, total)

	var wg sync.WaitGroup
	for w := 0; w < 50; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total/50; i++ {
				room, err := host.CreateRoom(context.Background(), "Host")
				if err != nil {
					t.Errorf("CreateRoom() error: %v", err)
					return
				}
				ids <- room.RoomID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, total)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate room id %q", id)
		}
		seen[id] = true
	}
	if len(seen) != total {
		t.Errorf("created %d rooms, want %d", len(seen), total)
	}
}

func TestJoinRoom(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")
	player := newTestCoordinator(store, "player-1")

	room, _ := host.CreateRoom(context.Background(), "Alice")

	if err := player.JoinRoom(context.Background(), room.RoomID, "Bob"); err != nil {
		t.Fatalf("JoinRoom() error: %v", err)
	}

	got, _ := host.GetRoom(context.Background(), room.RoomID)
	if len(got.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(got.Participants))
	}
	if !got.HasParticipant("player-1") {
		t.Error("player-1 should be a participant")
	}
}

func TestJoinRoom_NotFound(t *testing.T) {
	store := docstore.NewMemoryStore()
	player := newTestCoordinator(store, "player-1")

	err := player.JoinRoom(context.Background(), "zZz999", "Bob")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("JoinRoom() error = %v, want ErrRoomNotFound", err)
	}
}

func TestJoinRoom_Expired(t *testing.T) {
	store := docstore.NewMemoryStore()
	player := newTestCoordinator(store, "player-1")

	// Seed a room already past its deadline; the sweeper has not run yet.
	expired := Room{
		RoomID:       "oldone",
		HostID:       "host-1",
		CreatedAt:    time.Now().Add(-6 * time.Hour),
		ExpireAt:     time.Now().Add(-time.Hour),
		Participants: []Participant{{ID: "host-1", Name: "Alice"}},
	}
	store.Set(context.Background(), Collection, expired.RoomID, encodeRoom(expired))

	err := player.JoinRoom(context.Background(), "oldone", "Bob")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("JoinRoom(expired) error = %v, want ErrRoomNotFound", err)
	}
}

func TestRemoveParticipant_SelfLeave(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")
	bob := newTestCoordinator(store, "player-bob")
	carol := newTestCoordinator(store, "player-carol")

	room, _ := host.CreateRoom(context.Background(), "Alice")
	bob.JoinRoom(context.Background(), room.RoomID, "Sam")
	carol.JoinRoom(context.Background(), room.RoomID, "Sam") // same display name

	// Self-leave removes exactly the caller, name collisions or not.
	if err := bob.RemoveParticipant(context.Background(), room.RoomID, ""); err != nil {
		t.Fatalf("RemoveParticipant(self) error: %v", err)
	}

	got, _ := host.GetRoom(context.Background(), room.RoomID)
	if got.HasParticipant("player-bob") {
		t.Error("bob should be removed")
	}
	if !got.HasParticipant("player-carol") {
		t.Error("carol must not be removed by bob's self-leave")
	}
	if !got.HasParticipant("host-1") {
		t.Error("host must remain")
	}
}

func TestRemoveParticipant_KickRequiresHost(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")
	bob := newTestCoordinator(store, "player-bob")
	carol := newTestCoordinator(store, "player-carol")

	room, _ := host.CreateRoom(context.Background(), "Alice")
	bob.JoinRoom(context.Background(), room.RoomID, "Bob")
	carol.JoinRoom(context.Background(), room.RoomID, "Carol")

	if err := bob.RemoveParticipant(context.Background(), room.RoomID, "player-carol"); !errors.Is(err, ErrNotHost) {
		t.Errorf("non-host kick error = %v, want ErrNotHost", err)
	}

	if err := host.RemoveParticipant(context.Background(), room.RoomID, "player-carol"); err != nil {
		t.Fatalf("host kick error: %v", err)
	}
	got, _ := host.GetRoom(context.Background(), room.RoomID)
	if got.HasParticipant("player-carol") {
		t.Error("carol should be kicked")
	}
}

func TestUpdateLocation(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")
	room, _ := host.CreateRoom(context.Background(), "Alice")

	pos := geo.Coordinates{Latitude: 43.47, Longitude: -80.54}
	if err := host.UpdateLocation(context.Background(), room.RoomID, pos); err != nil {
		t.Fatalf("UpdateLocation() error: %v", err)
	}

	got, _ := host.GetRoom(context.Background(), room.RoomID)
	if len(got.Participants) != 1 {
		t.Fatalf("participants = %d, want 1", len(got.Participants))
	}
	loc := got.Participants[0].LastKnownLocation
	if loc == nil || *loc != pos {
		t.Errorf("lastKnownLocation = %v, want %v", loc, pos)
	}
}

func TestHostStartsGame(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")
	player := newTestCoordinator(store, "player-1")

	room, _ := host.CreateRoom(context.Background(), "Alice")
	player.JoinRoom(context.Background(), room.RoomID, "Bob")

	assets := []GeoTaggedAsset{
		{ImageRef: "mem://seeds/1.jpg", AnnotationRef: "mem://seeds/1.svg", Coordinates: geo.Coordinates{Latitude: 43.47, Longitude: -80.54}},
	}

	if err := player.HostStartsGame(context.Background(), room.RoomID, assets); !errors.Is(err, ErrNotHost) {
		t.Errorf("non-host start error = %v, want ErrNotHost", err)
	}

	if err := host.HostStartsGame(context.Background(), room.RoomID, assets); err != nil {
		t.Fatalf("HostStartsGame() error: %v", err)
	}

	got, _ := player.GetRoom(context.Background(), room.RoomID)
	if !got.Started {
		t.Error("room should be started")
	}
	if len(got.SeedImages) != 1 || got.SeedImages[0].ImageRef != "mem://seeds/1.jpg" {
		t.Errorf("seed images = %+v", got.SeedImages)
	}
}

func TestDeleteRoom_HostOnly(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")
	player := newTestCoordinator(store, "player-1")

	room, _ := host.CreateRoom(context.Background(), "Alice")
	player.JoinRoom(context.Background(), room.RoomID, "Bob")

	if err := player.DeleteRoom(context.Background(), room.RoomID); !errors.Is(err, ErrNotHost) {
		t.Errorf("non-host delete error = %v, want ErrNotHost", err)
	}

	if err := host.DeleteRoom(context.Background(), room.RoomID); err != nil {
		t.Fatalf("DeleteRoom() error: %v", err)
	}
	if _, err := host.GetRoom(context.Background(), room.RoomID); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("GetRoom after delete error = %v, want ErrRoomNotFound", err)
	}
}

func waitFor(t *testing.T, ch chan Room) Room {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for room snapshot")
		return Room{}
	}
}

func TestSubscribe_DeliversUpdates(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")
	player := newTestCoordinator(store, "player-1")

	room, _ := host.CreateRoom(context.Background(), "Alice")
	player.JoinRoom(context.Background(), room.RoomID, "Bob")

	updates := make(chan Room, 16)
	unsub := player.Subscribe(room.RoomID, SnapshotHandlers{
		OnUpdate: func(r Room) { updates <- r },
	})
	defer unsub()

	// Initial snapshot includes both members.
	first := waitFor(t, updates)
	if !first.HasParticipant("player-1") || !first.HasParticipant("host-1") {
		t.Errorf("initial snapshot participants = %+v", first.Participants)
	}

	host.HostStartsGame(context.Background(), room.RoomID, []GeoTaggedAsset{
		{ImageRef: "mem://seeds/1.jpg", Coordinates: geo.Coordinates{Latitude: 1, Longitude: 2}},
	})

	for {
		r := waitFor(t, updates)
		if r.Started {
			if len(r.SeedImages) != 1 {
				t.Errorf("seed images = %d, want 1", len(r.SeedImages))
			}
			return
		}
	}
}

func TestSubscribe_SelfEvictionFiresOnce(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")
	player := newTestCoordinator(store, "player-1")

	room, _ := host.CreateRoom(context.Background(), "Alice")
	player.JoinRoom(context.Background(), room.RoomID, "Bob")

	removed := make(chan struct{}, 4)
	updatesAfterRemoval := make(chan Room, 4)
	var kicked sync.WaitGroup
	kicked.Add(1)
	var once sync.Once

	unsub := player.Subscribe(room.RoomID, SnapshotHandlers{
		OnUpdate: func(r Room) {
			if !r.HasParticipant("player-1") {
				updatesAfterRemoval <- r
			}
		},
		OnRemoved: func() {
			removed <- struct{}{}
			once.Do(kicked.Done)
		},
	})
	defer unsub()

	if err := host.RemoveParticipant(context.Background(), room.RoomID, "player-1"); err != nil {
		t.Fatalf("kick error: %v", err)
	}
	kicked.Wait()

	// Poke the document a few more times; the evicted subscriber must not
	// hear about any of it.
	for i := 0; i < 3; i++ {
		host.HostStartsGame(context.Background(), room.RoomID, nil)
	}
	time.Sleep(50 * time.Millisecond)

	if got := len(removed); got != 1 {
		t.Errorf("OnRemoved fired %d times, want 1", got)
	}
	if got := len(updatesAfterRemoval); got != 0 {
		t.Errorf("OnUpdate fired %d times after eviction, want 0", got)
	}
}

func TestSubscribe_RoomDeletionReadsAsRemoval(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")
	player := newTestCoordinator(store, "player-1")

	room, _ := host.CreateRoom(context.Background(), "Alice")
	player.JoinRoom(context.Background(), room.RoomID, "Bob")

	removed := make(chan struct{}, 1)
	unsub := player.Subscribe(room.RoomID, SnapshotHandlers{
		OnRemoved: func() { removed <- struct{}{} },
	})
	defer unsub()

	if err := host.DeleteRoom(context.Background(), room.RoomID); err != nil {
		t.Fatal(err)
	}

	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("OnRemoved never fired after room deletion")
	}
}

func TestSubscribe_UnsubscribeIsIdempotent(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")
	room, _ := host.CreateRoom(context.Background(), "Alice")

	updates := make(chan Room, 16)
	unsub := host.Subscribe(room.RoomID, SnapshotHandlers{
		OnUpdate: func(r Room) { updates <- r },
	})
	waitFor(t, updates)

	unsub()
	unsub()

	host.HostStartsGame(context.Background(), room.RoomID, nil)
	select {
	case r := <-updates:
		t.Errorf("update after unsubscribe: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribe_NonMemberEvictedOnInitialSnapshot(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")
	room, _ := host.CreateRoom(context.Background(), "Alice")

	// A subscriber who is not in the room is evicted by the very first
	// snapshot, which the store can deliver before Subscribe returns.
	// Repetition makes that window likely to be hit.
	stranger := newTestCoordinator(store, "stranger-1")
	for i := 0; i < 500; i++ {
		removed := make(chan struct{})
		unsub := stranger.Subscribe(room.RoomID, SnapshotHandlers{
			OnUpdate:  func(r Room) { t.Errorf("OnUpdate for a non-member: %+v", r) },
			OnRemoved: func() { close(removed) },
		})

		select {
		case <-removed:
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: OnRemoved never fired", i)
		}
		unsub()
	}
}

func TestSweepExpired(t *testing.T) {
	store := docstore.NewMemoryStore()
	host := newTestCoordinator(store, "host-1")

	room, _ := host.CreateRoom(context.Background(), "Alice")

	// Force the deadline into the past and sweep.
	host.mu.Lock()
	host.created[room.RoomID] = time.Now().Add(-time.Minute)
	host.mu.Unlock()

	host.SweepExpired(context.Background())

	if _, err := store.Get(context.Background(), Collection, room.RoomID); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("room document still present after sweep: %v", err)
	}
}
