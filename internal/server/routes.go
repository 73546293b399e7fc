package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"geohunt/internal/config"
	"geohunt/internal/db"
	"geohunt/internal/docstore"
	"geohunt/internal/rooms"
)

func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	srv := NewServer(cfg, docstore.NewMemoryStore())

	// Optional database connection
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Printf("[DB] Failed to connect: %v (running without database)\n", err)
		} else {
			if err := database.Migrate(); err != nil {
				log.Printf("[DB] Migration failed: %v\n", err)
			}
			srv.DB = database
			srv.ResultBuffer = make(chan db.RoundOutcome, 1000)
			log.Println("[DB] Database connected and migrations applied")
		}
	} else {
		log.Println("[DB] DATABASE_URL not set, running without database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: srv.routes(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Printf("Server listening on http://localhost:%s\n", cfg.Port)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		srv.runSweeper(gctx, cfg.RoomSweepInterval)
		return nil
	})

	if srv.ResultBuffer != nil {
		g.Go(func() error {
			roundBatchWriter(gctx, srv.DB, srv.ResultBuffer)
			return nil
		})
	}

	return g.Wait()
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /rooms/create", s.handleCreateRoom)
	mux.HandleFunc("POST /rooms/join", s.handleJoinRoom)
	mux.HandleFunc("GET /room/{id}", s.handleGetRoom)
	mux.HandleFunc("POST /room/{id}/leave", s.handleLeaveRoom)
	mux.HandleFunc("POST /room/{id}/kick", s.handleKickParticipant)
	mux.HandleFunc("POST /room/{id}/location", s.handleUpdateLocation)
	mux.HandleFunc("POST /room/{id}/start", s.handleStartGame)
	mux.HandleFunc("POST /room/{id}/delete", s.handleDeleteRoom)
	mux.HandleFunc("GET /room/{id}/ws", s.handleRoomSocket)

	mux.HandleFunc("POST /game/new", s.handleNewGame)
	mux.HandleFunc("GET /game", s.handleGetGame)
	mux.HandleFunc("POST /game/round", s.handleNewRound)
	mux.HandleFunc("POST /game/camera", s.handleCamera)
	mux.HandleFunc("POST /game/submit", s.handleSubmit)
	mux.HandleFunc("POST /game/expire", s.handleExpire)
	mux.HandleFunc("POST /game/proceed", s.handleProceed)
	mux.HandleFunc("POST /game/reset", s.handleReset)

	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// runSweeper periodically collects expired rooms across every device's
// coordinator.
func (s *Server) runSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			coords := make([]*rooms.Coordinator, 0, len(s.coordinators))
			for _, c := range s.coordinators {
				coords = append(coords, c)
			}
			s.mu.Unlock()
			for _, c := range coords {
				c.SweepExpired(ctx)
			}
		}
	}
}

// roundBatchWriter drains completed rounds and writes them to the database
// in batches.
func roundBatchWriter(ctx context.Context, database *db.DB, buffer chan db.RoundOutcome) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	batch := make([]db.RoundOutcome, 0, 50)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := database.BatchRecordRounds(batch); err != nil {
			log.Printf("[DB] BatchRecordRounds error: %v\n", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case out := <-buffer:
			batch = append(batch, out)
			if len(batch) >= 50 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
