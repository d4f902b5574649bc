package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"RaffleKeeper/internal/model"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists the event history to a SQLite database. It may
// share its file with the store.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so CLI readers don't block the daemon.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS raffle_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id   TEXT NOT NULL UNIQUE,
			timestamp  INTEGER NOT NULL,
			kind       TEXT NOT NULL,
			round      INTEGER NOT NULL,
			player     TEXT,
			players    INTEGER,
			pot        TEXT,
			request_id TEXT,
			winner     TEXT,
			amount     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON raffle_events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON raffle_events(kind)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordEvent(ev *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO raffle_events
		(event_id, timestamp, kind, round, player, players, pot, request_id, winner, amount)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.At.UnixNano(), string(ev.Kind), int64(ev.Round),
		addrText(ev.Player), ev.Players, bigText(ev.Pot),
		bigText(ev.RequestID), addrText(ev.Winner), bigText(ev.Amount),
	)
	return err
}

func (r *SQLiteRecorder) RecentEvents(kind model.EventKind, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`SELECT event_id, timestamp, kind, round, player, players, pot, request_id, winner, amount
		FROM raffle_events
		WHERE ? = '' OR kind = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, string(kind), string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		var (
			ev                               model.Event
			ts                               int64
			kindText                         string
			round                            int64
			player, pot, reqID, winner, paid sql.NullString
			players                          sql.NullInt64
		)
		if err := rows.Scan(&ev.ID, &ts, &kindText, &round, &player, &players, &pot, &reqID, &winner, &paid); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.At = time.Unix(0, ts)
		ev.Kind = model.EventKind(kindText)
		ev.Round = uint64(round)
		ev.Players = int(players.Int64)
		if player.String != "" {
			ev.Player = common.HexToAddress(player.String)
		}
		if winner.String != "" {
			ev.Winner = common.HexToAddress(winner.String)
		}
		if ev.Pot, err = parseBig(pot); err != nil {
			return nil, err
		}
		if ev.RequestID, err = parseBig(reqID); err != nil {
			return nil, err
		}
		if ev.Amount, err = parseBig(paid); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}

func addrText(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

func bigText(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseBig(s sql.NullString) (*big.Int, error) {
	if s.String == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s.String, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s.String)
	}
	return v, nil
}
