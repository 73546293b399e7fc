package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"geohunt/internal/blob"
	"geohunt/internal/config"
	"geohunt/internal/db"
	"geohunt/internal/docstore"
	"geohunt/internal/game"
	"geohunt/internal/geo"
	"geohunt/internal/identity"
	"geohunt/internal/location"
	"geohunt/internal/rooms"
	"geohunt/internal/similarity"
	"geohunt/internal/wshub"
)

type Server struct {
	Config   config.Config
	Store    docstore.Store
	Blobs    *blob.MemoryStorage
	Oracle   similarity.Oracle
	Location location.Provider
	Hub      *wshub.Hub

	DB           *db.DB               // nil if no database configured
	ResultBuffer chan db.RoundOutcome // nil if no database configured

	mu           sync.Mutex
	coordinators map[string]*rooms.Coordinator // keyed by device ID
	sessions     map[string]*game.Session      // keyed by device ID
}

func NewServer(cfg config.Config, store docstore.Store) *Server {
	return &Server{
		Config: cfg,
		Store:  store,
		Blobs:  blob.NewMemoryStorage(),
		Oracle: similarity.RandomOracle{},
		Location: location.NewStaticProvider(geo.Coordinates{
			Latitude:  cfg.DefaultLatitude,
			Longitude: cfg.DefaultLongitude,
		}),
		Hub:          wshub.NewHub(),
		coordinators: make(map[string]*rooms.Coordinator),
		sessions:     make(map[string]*game.Session),
	}
}

// deviceID resolves the caller's stable identity from the device_id cookie,
// minting one on first contact.
func (s *Server) deviceID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie("device_id"); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     "device_id",
		Value:    id,
		Path:     "/",
		HttpOnly: true,
	})
	return id
}

// coordinatorFor returns the room coordinator bound to this device's
// identity, creating it on first use. All coordinators share one store.
func (s *Server) coordinatorFor(deviceID string) *rooms.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coordinators[deviceID]
	if !ok {
		c = rooms.NewCoordinator(s.Store, identity.Static(deviceID))
		s.coordinators[deviceID] = c
	}
	return c
}

func (s *Server) sessionFor(deviceID string) *game.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[deviceID]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Handle] Encode error: %v\n", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrAlreadyCompleted):
		// Benign: the other side of the submit/expire race already won.
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_completed"})
	case errors.Is(err, rooms.ErrRoomNotFound),
		errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, game.ErrNoActiveRound),
		errors.Is(err, game.ErrNoActiveSession):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, rooms.ErrNotHost),
		errors.Is(err, location.ErrPermissionDenied):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, game.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		log.Printf("[Handle] Error: %v\n", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// --- Rooms ---

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	fmt.Println("[Handle:CreateRoom] Request Received")

	var req struct {
		HostName string `json:"hostName"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	coord := s.coordinatorFor(s.deviceID(w, r))
	room, err := coord.CreateRoom(r.Context(), req.HostName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	fmt.Println("[Handle:JoinRoom] Request Received")

	var req struct {
		RoomID string `json:"roomId"`
		Name   string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	coord := s.coordinatorFor(s.deviceID(w, r))
	if err := coord.JoinRoom(r.Context(), req.RoomID, req.Name); err != nil {
		s.writeError(w, err)
		return
	}
	room, err := coord.GetRoom(r.Context(), req.RoomID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	coord := s.coordinatorFor(s.deviceID(w, r))
	room, err := coord.GetRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	coord := s.coordinatorFor(s.deviceID(w, r))
	if err := coord.RemoveParticipant(r.Context(), r.PathValue("id"), ""); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
}

func (s *Server) handleKickParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantID string `json:"participantId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	coord := s.coordinatorFor(s.deviceID(w, r))
	if err := coord.RemoveParticipant(r.Context(), r.PathValue("id"), req.ParticipantID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	pos, err := s.resolvePosition(r, req.Latitude, req.Longitude)
	if err != nil {
		s.writeError(w, err)
		return
	}

	coord := s.coordinatorFor(s.deviceID(w, r))
	if err := coord.UpdateLocation(r.Context(), r.PathValue("id"), pos); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleStartGame(w http.ResponseWriter, r *http.Request) {
	fmt.Println("[Handle:StartGame] Request Received")

	var req struct {
		SeedImages []rooms.GeoTaggedAsset `json:"seedImages"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	coord := s.coordinatorFor(s.deviceID(w, r))
	if err := coord.HostStartsGame(r.Context(), r.PathValue("id"), req.SeedImages); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleDeleteRoom(w http.ResponseWriter, r *http.Request) {
	coord := s.coordinatorFor(s.deviceID(w, r))
	if err := coord.DeleteRoom(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleRoomSocket streams room snapshots to the client over a WebSocket.
// The subscription tears itself down if the participant is removed; the
// client gets a final "removed" message before the connection closes.
func (s *Server) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")
	devID := s.deviceID(w, r)
	coord := s.coordinatorFor(devID)

	room, err := coord.GetRoom(r.Context(), roomID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Only members get a snapshot stream; a stranger's subscription would
	// just fire the eviction path on the first snapshot.
	if !room.HasParticipant(devID) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not a room participant"})
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("[Handle:RoomSocket] Accept error: %v\n", err)
		return
	}

	client := &wshub.Client{
		ParticipantID: devID,
		RoomID:        roomID,
		Conn:          conn,
		Send:          make(chan []byte, 32),
	}
	s.Hub.Register(client)

	unsub := coord.Subscribe(roomID, rooms.SnapshotHandlers{
		OnUpdate: func(room rooms.Room) {
			s.Hub.Send(devID, wshub.ServerMessage{Type: "room", Room: &room})
		},
		OnRemoved: func() {
			s.Hub.Send(devID, wshub.ServerMessage{Type: "removed", ParticipantID: devID})
		},
	})

	ctx := r.Context()
	go client.WritePump(ctx)

	// Block until the client disconnects. Clients don't send anything we
	// act on; the read loop just detects the close.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	unsub()
	s.Hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
}

// --- Game ---

func (s *Server) handleNewGame(w http.ResponseWriter, r *http.Request) {
	fmt.Println("[Handle:NewGame] Request Received")

	var req struct {
		RoomID      string `json:"roomId"`
		TotalRounds int    `json:"totalRounds"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if req.TotalRounds <= 0 {
		req.TotalRounds = s.Config.TotalRounds
	}

	devID := s.deviceID(w, r)
	sess := game.NewSession(uuid.New().String(), req.TotalRounds)

	s.mu.Lock()
	s.sessions[devID] = sess
	s.mu.Unlock()

	if s.DB != nil {
		view := sess.View()
		if err := s.DB.CreateSession(sess.ID(), devID, req.RoomID, view.TotalRounds, view.StartTime); err != nil {
			log.Printf("[DB] CreateSession error: %v\n", err)
		}
	}

	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(s.deviceID(w, r))
	if sess == nil {
		s.writeError(w, game.ErrNoActiveSession)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleNewRound(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Center            *geo.Coordinates `json:"center"`
		ReferenceImageURL string           `json:"referenceImageUrl"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	sess := s.sessionFor(s.deviceID(w, r))
	if sess == nil {
		s.writeError(w, game.ErrNoActiveSession)
		return
	}

	center := geo.Coordinates{}
	if req.Center != nil {
		center = *req.Center
	} else {
		var err error
		center, err = s.Location.Current(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
	}

	target := geo.RandomPointWithinRadius(center, s.Config.SearchRadiusKm)
	refURL := req.ReferenceImageURL
	if refURL == "" {
		refURL = fmt.Sprintf("streetview://%.6f,%.6f", target.Latitude, target.Longitude)
	}

	round, err := sess.BeginNextRound(target, refURL, s.Config.RoundTimeLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, round)
}

func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(s.deviceID(w, r))
	if sess == nil {
		s.writeError(w, game.ErrNoActiveSession)
		return
	}
	if err := sess.AdvanceToCamera(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	fmt.Println("[Handle:Submit] Request Received")

	var req struct {
		PhotoBase64 string   `json:"photoBase64"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	sess := s.sessionFor(s.deviceID(w, r))
	if sess == nil {
		s.writeError(w, game.ErrNoActiveSession)
		return
	}
	round := sess.CurrentRound()
	if round == nil {
		s.writeError(w, game.ErrNoActiveRound)
		return
	}

	photo, err := base64.StdEncoding.DecodeString(req.PhotoBase64)
	if err != nil || len(photo) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid photo payload"})
		return
	}

	pos, err := s.resolvePosition(r, req.Latitude, req.Longitude)
	if err != nil {
		s.writeError(w, err)
		return
	}

	path := fmt.Sprintf("captures/%s/round_%d.jpg", sess.ID(), round.RoundNumber)
	photoURL, err := s.Blobs.Upload(r.Context(), photo, path)
	if err != nil {
		s.writeError(w, err)
		return
	}

	percent, err := s.Oracle.Compare(r.Context(), photoURL, round.ReferenceImageURL)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "image comparison failed"})
		return
	}

	breakdown, err := sess.SubmitCapture(photoURL, pos, percent)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.enqueueOutcome(sess, round, false)

	writeJSON(w, http.StatusOK, map[string]any{
		"round":      round,
		"breakdown":  breakdown,
		"totalScore": sess.TotalScore(),
	})
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(s.deviceID(w, r))
	if sess == nil {
		s.writeError(w, game.ErrNoActiveSession)
		return
	}
	round := sess.CurrentRound()
	if round == nil {
		s.writeError(w, game.ErrNoActiveRound)
		return
	}
	if err := sess.ExpireRound(); err != nil {
		s.writeError(w, err)
		return
	}

	s.enqueueOutcome(sess, round, true)

	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleProceed(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(s.deviceID(w, r))
	if sess == nil {
		s.writeError(w, game.ErrNoActiveSession)
		return
	}
	if err := sess.ProceedFromScoring(); err != nil {
		s.writeError(w, err)
		return
	}

	view := sess.View()
	if view.Status == game.StatusFinished && s.DB != nil && view.EndTime != nil {
		if err := s.DB.FinishSession(sess.ID(), view.TotalScore, *view.EndTime); err != nil {
			log.Printf("[DB] FinishSession error: %v\n", err)
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(s.deviceID(w, r))
	if sess == nil {
		s.writeError(w, game.ErrNoActiveSession)
		return
	}
	sess.Reset()
	writeJSON(w, http.StatusOK, sess.View())
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeJSON(w, http.StatusOK, []db.LeaderboardEntry{})
		return
	}
	entries, err := s.DB.Leaderboard(10)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []db.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.DB != nil {
		if err := s.DB.Ping(); err != nil {
			status = "db_error"
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"%s","error":"%s"}`, status, err.Error())
			return
		}
	}
	fmt.Fprintf(w, `{"status":"%s"}`, status)
}

// resolvePosition takes the coordinates from the request when both are
// present, otherwise asks the device's location provider.
func (s *Server) resolvePosition(r *http.Request, lat, lon *float64) (geo.Coordinates, error) {
	if lat != nil && lon != nil {
		return geo.Coordinates{Latitude: *lat, Longitude: *lon}, nil
	}
	return s.Location.Current(r.Context())
}

// enqueueOutcome hands a completed round to the batch writer. Drops rather
// than blocks when the buffer is full.
func (s *Server) enqueueOutcome(sess *game.Session, round *game.Round, expired bool) {
	if s.ResultBuffer == nil {
		return
	}
	completedAt := time.Now()
	if round.EndTime != nil {
		completedAt = *round.EndTime
	}
	select {
	case s.ResultBuffer <- db.RoundOutcome{
		SessionID:         sess.ID(),
		RoundNumber:       round.RoundNumber,
		TargetLat:         round.TargetLocation.Latitude,
		TargetLon:         round.TargetLocation.Longitude,
		SimilarityPercent: round.SimilarityPercent,
		ProximityMeters:   round.ProximityMeters,
		Points:            round.Points,
		Expired:           expired,
		CompletedAt:       completedAt,
	}:
	default:
		log.Println("[DB] Round buffer full, dropping outcome")
	}
}
