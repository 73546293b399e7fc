package db

import (
	"fmt"
	"time"
)

// RoundOutcome is one completed round, queued for batched persistence.
type RoundOutcome struct {
	SessionID         string
	RoundNumber       int
	TargetLat         float64
	TargetLon         float64
	SimilarityPercent *float64
	ProximityMeters   *float64
	Points            int
	Expired           bool
	CompletedAt       time.Time
}

type SessionRecord struct {
	SessionID   string
	PlayerID    string
	RoomID      string
	TotalRounds int
	TotalScore  int
	StartedAt   *time.Time
	EndedAt     *time.Time
}

func (d *DB) CreateSession(sessionID, playerID, roomID string, totalRounds int, startedAt time.Time) error {
	_, err := d.conn.Exec(`
		INSERT INTO sessions (session_id, player_id, room_id, total_rounds, started_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, playerID, roomID, totalRounds, startedAt)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func (d *DB) FinishSession(sessionID string, totalScore int, endedAt time.Time) error {
	_, err := d.conn.Exec(`
		UPDATE sessions SET total_score = $2, ended_at = $3 WHERE session_id = $1
	`, sessionID, totalScore, endedAt)
	if err != nil {
		return fmt.Errorf("finishing session: %w", err)
	}
	return nil
}

func (d *DB) GetSession(sessionID string) (*SessionRecord, error) {
	rec := &SessionRecord{}
	var roomID *string
	err := d.conn.QueryRow(`
		SELECT session_id, player_id, room_id, total_rounds, total_score, started_at, ended_at
		FROM sessions WHERE session_id = $1
	`, sessionID).Scan(&rec.SessionID, &rec.PlayerID, &roomID, &rec.TotalRounds, &rec.TotalScore, &rec.StartedAt, &rec.EndedAt)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	if roomID != nil {
		rec.RoomID = *roomID
	}
	return rec, nil
}

// BatchRecordRounds writes a batch of round outcomes in one transaction.
// Duplicate (session, round) pairs are ignored: a retried submit must not
// double-write.
func (d *DB) BatchRecordRounds(batch []RoundOutcome) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("beginning round batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO session_rounds
			(session_id, round_number, target_lat, target_lon, similarity_percent, proximity_meters, points, expired, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, round_number) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("preparing round insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		if _, err := stmt.Exec(
			r.SessionID, r.RoundNumber, r.TargetLat, r.TargetLon,
			r.SimilarityPercent, r.ProximityMeters, r.Points, r.Expired, r.CompletedAt,
		); err != nil {
			return fmt.Errorf("inserting round %d of %s: %w", r.RoundNumber, r.SessionID, err)
		}
	}
	return tx.Commit()
}

type LeaderboardEntry struct {
	PlayerID   string
	TotalScore int
	EndedAt    time.Time
}

// Leaderboard lists the highest-scoring finished sessions.
func (d *DB) Leaderboard(limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := d.conn.Query(`
		SELECT player_id, total_score, ended_at
		FROM sessions
		WHERE ended_at IS NOT NULL
		ORDER BY total_score DESC, ended_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.PlayerID, &e.TotalScore, &e.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
