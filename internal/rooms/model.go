package rooms

import (
	"time"

	"geohunt/internal/geo"
)

// Collection is the document collection rooms live in.
const Collection = "rooms"

// TTL is how long a room lives before passive expiry.
const TTL = 5 * time.Hour

// Participant is one device in a room. ID is the stable per-device
// identity and is the key for every membership mutation; display names can
// collide freely.
type Participant struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	LastKnownLocation *geo.Coordinates `json:"lastKnownLocation,omitempty"`
}

// GeoTaggedAsset is a host-seeded target: a stored photo, its sketch
// overlay, and where it was taken. Immutable once the game starts.
type GeoTaggedAsset struct {
	ImageRef      string          `json:"imageRef"`
	AnnotationRef string          `json:"annotationRef,omitempty"`
	Coordinates   geo.Coordinates `json:"coordinates"`
}

// Room is the local projection of the shared room document. The document
// store owns the truth; this copy is whatever the latest snapshot said.
type Room struct {
	RoomID       string           `json:"roomId"`
	HostID       string           `json:"hostId"`
	CreatedAt    time.Time        `json:"createdAt"`
	ExpireAt     time.Time        `json:"expireAt"`
	Started      bool             `json:"started"`
	Participants []Participant    `json:"participants"`
	SeedImages   []GeoTaggedAsset `json:"seedImages,omitempty"`
}

// HasParticipant reports whether the identity appears in the membership list.
func (r *Room) HasParticipant(id string) bool {
	for _, p := range r.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// Expired reports whether the room has passed its expiry deadline.
func (r *Room) Expired(now time.Time) bool {
	return !r.ExpireAt.IsZero() && now.After(r.ExpireAt)
}

func encodeParticipant(p Participant) map[string]any {
	m := map[string]any{
		"id":   p.ID,
		"name": p.Name,
	}
	if p.LastKnownLocation != nil {
		m["lastKnownLocation"] = map[string]any{
			"latitude":  p.LastKnownLocation.Latitude,
			"longitude": p.LastKnownLocation.Longitude,
		}
	}
	return m
}

func decodeParticipant(v any) (Participant, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return Participant{}, false
	}
	p := Participant{
		ID:   str(m["id"]),
		Name: str(m["name"]),
	}
	if loc, ok := m["lastKnownLocation"].(map[string]any); ok {
		p.LastKnownLocation = &geo.Coordinates{
			Latitude:  num(loc["latitude"]),
			Longitude: num(loc["longitude"]),
		}
	}
	return p, p.ID != ""
}

func encodeAsset(a GeoTaggedAsset) map[string]any {
	return map[string]any{
		"imageRef":      a.ImageRef,
		"annotationRef": a.AnnotationRef,
		"latitude":      a.Coordinates.Latitude,
		"longitude":     a.Coordinates.Longitude,
	}
}

func decodeAsset(v any) (GeoTaggedAsset, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return GeoTaggedAsset{}, false
	}
	return GeoTaggedAsset{
		ImageRef:      str(m["imageRef"]),
		AnnotationRef: str(m["annotationRef"]),
		Coordinates: geo.Coordinates{
			Latitude:  num(m["latitude"]),
			Longitude: num(m["longitude"]),
		},
	}, true
}

func encodeRoom(r Room) map[string]any {
	participants := make([]any, 0, len(r.Participants))
	for _, p := range r.Participants {
		participants = append(participants, encodeParticipant(p))
	}
	seeds := make([]any, 0, len(r.SeedImages))
	for _, a := range r.SeedImages {
		seeds = append(seeds, encodeAsset(a))
	}
	return map[string]any{
		"roomId":       r.RoomID,
		"hostId":       r.HostID,
		"createdAt":    r.CreatedAt,
		"expireAt":     r.ExpireAt,
		"started":      r.Started,
		"participants": participants,
		"seedImages":   seeds,
	}
}

func decodeRoom(data map[string]any) Room {
	r := Room{
		RoomID:  str(data["roomId"]),
		HostID:  str(data["hostId"]),
		Started: data["started"] == true,
	}
	if t, ok := data["createdAt"].(time.Time); ok {
		r.CreatedAt = t
	}
	if t, ok := data["expireAt"].(time.Time); ok {
		r.ExpireAt = t
	}
	if arr, ok := data["participants"].([]any); ok {
		for _, v := range arr {
			if p, ok := decodeParticipant(v); ok {
				r.Participants = append(r.Participants, p)
			}
		}
	}
	if arr, ok := data["seedImages"].([]any); ok {
		for _, v := range arr {
			if a, ok := decodeAsset(v); ok {
				r.SeedImages = append(r.SeedImages, a)
			}
		}
	}
	return r
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
