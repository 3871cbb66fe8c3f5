package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNotSubscribed = errors.New("not subscribed")
	ErrAdminImmune   = errors.New("administrators cannot be removed")
)

const cursorKey = "cursor"

// Storage handles all database operations: the seen-transaction set, the
// block cursor, and the subscriber registry. sqlite serializes concurrent
// access, so callers never see a partially applied mutation.
type Storage struct {
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			hash TEXT PRIMARY KEY,
			block INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			value_wei TEXT NOT NULL,
			from_addr TEXT NOT NULL,
			to_addr TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_ts ON transactions(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_block ON transactions(block)`,

		`CREATE TABLE IF NOT EXISTS subscribers (
			chat_id INTEGER PRIMARY KEY,
			role TEXT NOT NULL DEFAULT 'member',
			joined_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Dedup & cursor ---

// Absorb records a poll response. Transactions whose hash was never seen
// before are inserted and returned; already-seen hashes are skipped. The
// cursor advances to the highest block observed in the batch even when every
// hash was a repeat, which repairs a previously interrupted update. Empty
// input is a no-op.
func (s *Storage) Absorb(txs []Transaction) ([]Transaction, error) {
	if len(txs) == 0 {
		return nil, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO transactions (hash, block, ts, value_wei, from_addr, to_addr)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var fresh []Transaction
	var maxBlock uint64
	for _, t := range txs {
		if t.Block > maxBlock {
			maxBlock = t.Block
		}

		res, err := stmt.Exec(t.Hash, t.Block, t.Time.Unix(), t.Value.String(), t.From, t.To)
		if err != nil {
			return nil, err
		}
		if rows, _ := res.RowsAffected(); rows > 0 {
			fresh = append(fresh, t)
		}
	}

	if err := advanceCursor(tx, maxBlock); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return fresh, nil
}

func advanceCursor(tx *sql.Tx, block uint64) error {
	var current uint64
	var raw string
	err := tx.QueryRow("SELECT value FROM meta WHERE key = ?", cursorKey).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		current = 0
	case err != nil:
		return err
	default:
		current, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("corrupt cursor %q: %w", raw, err)
		}
	}

	if block <= current {
		return nil
	}

	_, err = tx.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		cursorKey, strconv.FormatUint(block, 10),
	)
	return err
}

// Cursor returns the highest fully-processed block number.
func (s *Storage) Cursor() (uint64, error) {
	raw, err := s.GetMeta(cursorKey)
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(raw, 10, 64)
}

// InitCursor sets the cursor to startBlock if no cursor exists yet, so the
// first poll does not scan from the genesis block.
func (s *Storage) InitCursor(startBlock uint64) error {
	_, err := s.db.Exec(
		"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)",
		cursorKey, strconv.FormatUint(startBlock, 10),
	)
	return err
}

// TransactionCount returns the number of known transactions.
func (s *Storage) TransactionCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM transactions").Scan(&count)
	return count, err
}

// CountSince returns how many known transactions happened after t.
func (s *Storage) CountSince(t time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM transactions WHERE ts > ?", t.Unix(),
	).Scan(&count)
	return count, err
}

// RecentSince returns transactions after t, newest first, at most limit.
func (s *Storage) RecentSince(t time.Time, limit int) ([]Transaction, error) {
	rows, err := s.db.Query(
		`SELECT hash, block, ts, value_wei, from_addr, to_addr
		 FROM transactions WHERE ts > ? ORDER BY ts DESC LIMIT ?`,
		t.Unix(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var tx Transaction
		var ts int64
		var wei string

		if err := rows.Scan(&tx.Hash, &tx.Block, &ts, &wei, &tx.From, &tx.To); err != nil {
			return nil, err
		}

		tx.Time = time.Unix(ts, 0)
		tx.Value, err = decimal.NewFromString(wei)
		if err != nil {
			return nil, fmt.Errorf("corrupt value for %s: %w", tx.Hash, err)
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// PruneHistoryBefore deletes transaction rows older than t. The hashes leave
// the dedup set with them, which is safe because the cursor keeps polls from
// reaching that far back. Returns the number of rows removed.
func (s *Storage) PruneHistoryBefore(t time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM transactions WHERE ts < ?", t.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Subscriber registry ---

// EnsureAdmins upserts the configured administrator chats with the admin
// role. Called once at startup.
func (s *Storage) EnsureAdmins(ids []int64) error {
	now := time.Now().Unix()
	for _, id := range ids {
		_, err := s.db.Exec(
			`INSERT INTO subscribers (chat_id, role, joined_at) VALUES (?, ?, ?)
			 ON CONFLICT(chat_id) DO UPDATE SET role = excluded.role`,
			id, RoleAdmin, now,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Subscribe adds a chat to the registry. Returns true if the chat was newly
// joined, false if it was already subscribed.
func (s *Storage) Subscribe(chatID int64) (bool, error) {
	res, err := s.db.Exec(
		"INSERT OR IGNORE INTO subscribers (chat_id, role, joined_at) VALUES (?, ?, ?)",
		chatID, RoleMember, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

// Unsubscribe removes a regular subscriber. Admins get ErrAdminImmune; chats
// that were never subscribed get ErrNotSubscribed.
func (s *Storage) Unsubscribe(chatID int64) error {
	sub, err := s.GetSubscriber(chatID)
	if err == ErrNotFound {
		return ErrNotSubscribed
	}
	if err != nil {
		return err
	}
	if sub.IsAdmin() {
		return ErrAdminImmune
	}

	_, err = s.db.Exec("DELETE FROM subscribers WHERE chat_id = ? AND role != ?", chatID, RoleAdmin)
	return err
}

// PruneUnreachable removes a subscriber that permanently rejects delivery.
// No-op for admins. Returns true if a row was removed.
func (s *Storage) PruneUnreachable(chatID int64) (bool, error) {
	res, err := s.db.Exec(
		"DELETE FROM subscribers WHERE chat_id = ? AND role != ?",
		chatID, RoleAdmin,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

// GetSubscriber returns a subscriber by chat id.
func (s *Storage) GetSubscriber(chatID int64) (*Subscriber, error) {
	var sub Subscriber
	var joinedAt int64

	err := s.db.QueryRow(
		"SELECT chat_id, role, joined_at FROM subscribers WHERE chat_id = ?",
		chatID,
	).Scan(&sub.ChatID, &sub.Role, &joinedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sub.JoinedAt = time.Unix(joinedAt, 0)
	return &sub, nil
}

// IsAuthorized reports whether a chat is in the registry (admin or member).
func (s *Storage) IsAuthorized(chatID int64) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM subscribers WHERE chat_id = ?", chatID).Scan(&one)
	return err == nil
}

// IsAdmin reports whether a chat holds the admin role.
func (s *Storage) IsAdmin(chatID int64) bool {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM subscribers WHERE chat_id = ? AND role = ?",
		chatID, RoleAdmin,
	).Scan(&one)
	return err == nil
}

// Subscribers returns a snapshot of the full registry, admins first, then by
// join time.
func (s *Storage) Subscribers() ([]Subscriber, error) {
	return s.querySubscribers(
		"SELECT chat_id, role, joined_at FROM subscribers ORDER BY role = ? DESC, joined_at", RoleAdmin,
	)
}

// Admins returns only the administrator subscribers.
func (s *Storage) Admins() ([]Subscriber, error) {
	return s.querySubscribers(
		"SELECT chat_id, role, joined_at FROM subscribers WHERE role = ? ORDER BY joined_at", RoleAdmin,
	)
}

func (s *Storage) querySubscribers(query string, args ...any) ([]Subscriber, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscriber
	for rows.Next() {
		var sub Subscriber
		var joinedAt int64

		if err := rows.Scan(&sub.ChatID, &sub.Role, &joinedAt); err != nil {
			return nil, err
		}

		sub.JoinedAt = time.Unix(joinedAt, 0)
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// SubscriberCount returns the registry size including admins.
func (s *Storage) SubscriberCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM subscribers").Scan(&count)
	return count, err
}

// --- Meta ---

// GetMeta returns a meta value by key.
func (s *Storage) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetMeta stores a meta value.
func (s *Storage) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}
