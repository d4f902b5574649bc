package store

import (
	"context"
	"database/sql"
	"log"
	"math/big"
	"time"

	"RaffleKeeper/internal/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists the raffle in a SQLite database. Writers take the
// database lock at BEGIN, so separate processes sharing the file serialize.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := "file:" + dbPath + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}
	log.Printf("[INFO] sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS raffle_round (
			id              INTEGER PRIMARY KEY CHECK (id = 1),
			number          INTEGER NOT NULL,
			state           INTEGER NOT NULL,
			pot             TEXT    NOT NULL,
			last_settled_at INTEGER NOT NULL,
			recent_winner   TEXT    NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS raffle_players (
			seq    INTEGER PRIMARY KEY,
			player TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pending_request (
			id           INTEGER PRIMARY KEY CHECK (id = 1),
			request_id   TEXT    NOT NULL,
			round        INTEGER NOT NULL,
			requested_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			address          TEXT PRIMARY KEY,
			balance          TEXT    NOT NULL DEFAULT '0',
			rejects_payments INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "exec %q", stmt[:40])
		}
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	if err := fn(&sqlTx{ctx: ctx, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[ERROR] rollback: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func (s *SQLiteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()
	return fn(&sqlTx{ctx: ctx, tx: tx, readOnly: true})
}

func (s *SQLiteStore) SetRejectsPayments(ctx context.Context, addr common.Address, rejects bool) error {
	flag := 0
	if rejects {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts (address, rejects_payments) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET rejects_payments = excluded.rejects_payments`,
		addr.Hex(), flag)
	return errors.Wrap(err, "set rejects_payments")
}

func (s *SQLiteStore) Close() error {
	log.Println("[INFO] closing sqlite store")
	return s.db.Close()
}

type sqlTx struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
}

func (t *sqlTx) Round() (*model.Round, error) {
	var (
		r       model.Round
		pot     string
		settled int64
		winner  string
	)
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT number, state, pot, last_settled_at, recent_winner FROM raffle_round WHERE id = 1`).
		Scan(&r.Number, &r.State, &pot, &settled, &winner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select round")
	}
	if r.Pot, err = parseBig(pot); err != nil {
		return nil, errors.Wrap(err, "round pot")
	}
	r.LastSettledAt = time.Unix(0, settled)
	r.RecentWinner = common.HexToAddress(winner)

	rows, err := t.tx.QueryContext(t.ctx, `SELECT player FROM raffle_players ORDER BY seq`)
	if err != nil {
		return nil, errors.Wrap(err, "select players")
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.Wrap(err, "scan player")
		}
		r.Players = append(r.Players, common.HexToAddress(p))
	}
	return &r, errors.Wrap(rows.Err(), "iterate players")
}

func (t *sqlTx) PutRound(r *model.Round) error {
	if t.readOnly {
		return ErrReadOnly
	}
	pot := "0"
	if r.Pot != nil {
		pot = r.Pot.String()
	}
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO raffle_round
		(id, number, state, pot, last_settled_at, recent_winner) VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET number = excluded.number, state = excluded.state, pot = excluded.pot,
			last_settled_at = excluded.last_settled_at, recent_winner = excluded.recent_winner`,
		r.Number, r.State, pot, r.LastSettledAt.UnixNano(), r.RecentWinner.Hex())
	if err != nil {
		return errors.Wrap(err, "upsert round")
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM raffle_players`); err != nil {
		return errors.Wrap(err, "clear players")
	}
	for i, p := range r.Players {
		if _, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO raffle_players (seq, player) VALUES (?, ?)`, i, p.Hex()); err != nil {
			return errors.Wrap(err, "insert player")
		}
	}
	return nil
}

func (t *sqlTx) Pending() (*model.PendingRequest, error) {
	var (
		id  string
		p   model.PendingRequest
		ats int64
	)
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT request_id, round, requested_at FROM pending_request WHERE id = 1`).
		Scan(&id, &p.Round, &ats)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select pending request")
	}
	if p.RequestID, err = parseBig(id); err != nil {
		return nil, errors.Wrap(err, "pending request id")
	}
	p.RequestedAt = time.Unix(0, ats)
	return &p, nil
}

func (t *sqlTx) PutPending(p *model.PendingRequest) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if p == nil {
		_, err := t.tx.ExecContext(t.ctx, `DELETE FROM pending_request`)
		return errors.Wrap(err, "clear pending request")
	}
	_, err := t.tx.ExecContext(t.ctx, `INSERT OR REPLACE INTO pending_request
		(id, request_id, round, requested_at) VALUES (1, ?, ?, ?)`,
		p.RequestID.String(), p.Round, p.RequestedAt.UnixNano())
	return errors.Wrap(err, "upsert pending request")
}

func (t *sqlTx) Credit(to common.Address, amount *big.Int) error {
	if t.readOnly {
		return ErrReadOnly
	}
	var (
		balance string
		rejects bool
	)
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT balance, rejects_payments FROM accounts WHERE address = ?`, to.Hex()).
		Scan(&balance, &rejects)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		balance = "0"
	case err != nil:
		return errors.Wrap(err, "select account")
	}
	if rejects {
		return ErrPaymentRejected
	}
	bal, err := parseBig(balance)
	if err != nil {
		return errors.Wrapf(err, "balance of %s", to.Hex())
	}
	bal.Add(bal, amount)
	_, err = t.tx.ExecContext(t.ctx, `INSERT INTO accounts (address, balance) VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET balance = excluded.balance`, to.Hex(), bal.String())
	return errors.Wrap(err, "credit account")
}

func (t *sqlTx) Balance(addr common.Address) (*big.Int, error) {
	var balance string
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT balance FROM accounts WHERE address = ?`, addr.Hex()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select balance")
	}
	return parseBig(balance)
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf("invalid integer %q", s)
	}
	return v, nil
}
