package main

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database holding accounts and lifetime stats.
// The live simulation never reads it; only auth and the stats writer do.
type DB struct {
	conn *sql.DB
}

// AccountRow represents a registered account
type AccountRow struct {
	ID        int64
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// StatsRow is an account's lifetime combat record
type StatsRow struct {
	AccountID int64
	Username  string
	Kills     int
	Deaths    int
	Hits      int
	Score     int
}

// OpenDB opens (or creates) the SQLite database
func OpenDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL for concurrent reads while the stats writer flushes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates tables if they don't exist
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		pass_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS stats (
		account_id INTEGER PRIMARY KEY REFERENCES accounts(id),
		kills INTEGER NOT NULL DEFAULT 0,
		deaths INTEGER NOT NULL DEFAULT 0,
		hits INTEGER NOT NULL DEFAULT 0,
		score INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// GetSetting returns a settings value, or "" if absent
func (db *DB) GetSetting(key string) string {
	var v string
	err := db.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if err != nil {
		return ""
	}
	return v
}

// SetSetting upserts a settings value
func (db *DB) SetSetting(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

// UsernameExists reports whether an account name is taken
func (db *DB) UsernameExists(username string) (bool, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM accounts WHERE username = ?", username).Scan(&n)
	return n > 0, err
}

// CreateAccount inserts an account with an empty stats row
func (db *DB) CreateAccount(username, passHash string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO accounts (username, pass_hash) VALUES (?, ?)", username, passHash)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := db.conn.Exec("INSERT INTO stats (account_id) VALUES (?)", id); err != nil {
		return 0, err
	}
	return id, nil
}

// AccountByUsername returns the account row, or nil if absent
func (db *DB) AccountByUsername(username string) (*AccountRow, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM accounts WHERE username = ?", username)
	var a AccountRow
	if err := row.Scan(&a.ID, &a.Username, &a.PassHash, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// AddStats accumulates combat deltas onto an account's lifetime record
func (db *DB) AddStats(accountID int64, kills, deaths, hits, score int) error {
	_, err := db.conn.Exec(`
		INSERT INTO stats (account_id, kills, deaths, hits, score)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			kills = kills + excluded.kills,
			deaths = deaths + excluded.deaths,
			hits = hits + excluded.hits,
			score = score + excluded.score`,
		accountID, kills, deaths, hits, score)
	return err
}

// Leaderboard returns the top accounts ordered by kills, then score
func (db *DB) Leaderboard(limit int) ([]StatsRow, error) {
	rows, err := db.conn.Query(`
		SELECT s.account_id, a.username, s.kills, s.deaths, s.hits, s.score
		FROM stats s JOIN accounts a ON a.id = s.account_id
		ORDER BY s.kills DESC, s.score DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var r StatsRow
		if err := rows.Scan(&r.AccountID, &r.Username, &r.Kills, &r.Deaths, &r.Hits, &r.Score); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
