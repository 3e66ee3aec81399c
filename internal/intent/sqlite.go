package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists intents in an embedded database so pending intents
// and the terminal audit trail survive a restart. The full intent document
// is stored as JSON alongside indexed columns for the hot lookups; the
// compare-and-swap runs inside an IMMEDIATE transaction so concurrent
// decisions on the same intent serialize at the database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS intents (
	id         TEXT PRIMARY KEY,
	token      TEXT,
	state      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	doc        TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_intents_token ON intents(token) WHERE token IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_intents_state ON intents(state);
`

// OpenSQLite opens (and migrates) the store at path. Use ":memory:" for an
// ephemeral database in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open intent db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate intent db: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, d Draft) (Intent, error) {
	in := Intent{
		ID:        newID(),
		Token:     newToken(),
		Signal:    d.Signal,
		Quantity:  d.Quantity,
		Risk:      d.Risk,
		Regime:    d.Regime,
		Canary:    d.Canary,
		Warnings:  d.Warnings,
		State:     StatePending,
		CreatedAt: s.now().UTC(),
	}
	doc, err := marshalDoc(in)
	if err != nil {
		return Intent{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO intents (id, token, state, created_at, doc) VALUES (?, ?, ?, ?, ?)`,
		in.ID, in.Token, string(in.State), in.CreatedAt, doc)
	if err != nil {
		return Intent{}, fmt.Errorf("insert intent: %w", err)
	}
	return in, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Intent, error) {
	return s.one(ctx, `SELECT doc, token FROM intents WHERE id = ?`, id)
}

func (s *SQLiteStore) FindByToken(ctx context.Context, token string) (Intent, error) {
	return s.one(ctx, `SELECT doc, token FROM intents WHERE token = ?`, token)
}

func (s *SQLiteStore) one(ctx context.Context, query, arg string) (Intent, error) {
	var doc string
	var token sql.NullString
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&doc, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return Intent{}, ErrNotFound
	}
	if err != nil {
		return Intent{}, fmt.Errorf("query intent: %w", err)
	}
	return unmarshalDoc(doc, token.String)
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, from []State, to State, mutate func(*Intent)) (Intent, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Intent{}, false, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	var doc string
	var token sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT doc, token FROM intents WHERE id = ?`, id).Scan(&doc, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return Intent{}, false, ErrNotFound
	}
	if err != nil {
		return Intent{}, false, fmt.Errorf("read intent: %w", err)
	}
	in, err := unmarshalDoc(doc, token.String)
	if err != nil {
		return Intent{}, false, err
	}

	if in.State == to {
		return in, false, nil
	}
	if !stateIn(in.State, from) {
		return Intent{}, false, ErrConflict
	}

	prev := in.State
	in.State = to
	if in.DecidedAt == nil && (to == StateApproved || to == StateRejected) {
		t := s.now().UTC()
		in.DecidedAt = &t
	}
	if mutate != nil {
		mutate(&in)
	}

	newDoc, err := marshalDoc(in)
	if err != nil {
		return Intent{}, false, err
	}

	// Spend the token when leaving PENDING: the UNIQUE index row disappears
	// atomically with the state change.
	tokenVal := sql.NullString{String: in.Token, Valid: to == StatePending}
	res, err := tx.ExecContext(ctx,
		`UPDATE intents SET state = ?, token = ?, doc = ? WHERE id = ? AND state = ?`,
		string(to), tokenVal, newDoc, id, string(prev))
	if err != nil {
		return Intent{}, false, fmt.Errorf("update intent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Raced with another writer between read and update.
		return Intent{}, false, ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return Intent{}, false, fmt.Errorf("commit transition: %w", err)
	}
	return in, true, nil
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]Intent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc, token FROM intents WHERE state = ? ORDER BY created_at`, string(StatePending))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var pending []Intent
	for rows.Next() {
		var doc string
		var token sql.NullString
		if err := rows.Scan(&doc, &token); err != nil {
			return nil, err
		}
		in, err := unmarshalDoc(doc, token.String)
		if err != nil {
			return nil, err
		}
		pending = append(pending, in)
	}
	return pending, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// marshalDoc serializes the intent without its token; the token lives only
// in its own column so the audit document never leaks it.
func marshalDoc(in Intent) (string, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal intent: %w", err)
	}
	return string(b), nil
}

func unmarshalDoc(doc, token string) (Intent, error) {
	var in Intent
	if err := json.Unmarshal([]byte(doc), &in); err != nil {
		return Intent{}, fmt.Errorf("unmarshal intent: %w", err)
	}
	in.Token = token
	return in, nil
}
