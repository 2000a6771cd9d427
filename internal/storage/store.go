package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
)

const (
	sqliteConstraintCode = 19
	defaultBusyTimeout   = 5000
	defaultHistoryLimit  = 200
)

// Store wraps the SQLite handle and backs accounts, the room directory, and
// chat history.
type Store struct {
	db *sql.DB
}

// User represents a row in the users table.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	Role         string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Room is the persisted metadata of a collaboration room. Code is the invite
// code required by join-by-code.
type Room struct {
	ID        string
	Name      string
	Code      string
	OwnerID   int64
	CreatedAt time.Time
}

// Message is one broadcast chat entry kept for history.
type Message struct {
	ID         string
	RoomID     string
	Seq        int64
	SenderID   string
	SenderName string
	Body       string
	SentAt     time.Time
}

// ErrUserExists is returned when attempting to insert a duplicate username.
var ErrUserExists = errors.New("user already exists")

// ErrRoomExists is returned when a room id is already taken.
var ErrRoomExists = errors.New("room already exists")

// NewStore initializes the SQLite database at the provided path. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "coderoom.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate runs the schema creation statements.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			password_hash BLOB NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			code TEXT NOT NULL,
			owner_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(owner_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			pos INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			room_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sender_id TEXT NOT NULL,
			sender_name TEXT NOT NULL,
			body TEXT NOT NULL,
			sent_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_room ON messages(room_id, pos);`,
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CreateUser inserts a new user. ErrUserExists is returned on conflicts.
func (s *Store) CreateUser(ctx context.Context, username, displayName, role string, passwordHash []byte) (int64, error) {
	if displayName == "" {
		displayName = username
	}
	if role == "" {
		role = "member"
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO users(username, display_name, role, password_hash) VALUES(?, ?, ?, ?)`,
		username, displayName, role, passwordHash)
	if err != nil {
		if isConstraintError(err) {
			return 0, ErrUserExists
		}
		return 0, err
	}
	return result.LastInsertId()
}

const userColumns = `id, username, display_name, role, password_hash, created_at`

// GetUserByUsername fetches a user by username. A missing user is nil, nil.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

// GetUserByID fetches a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	if err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &user.Role, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// CreateRoom stores room metadata. ErrRoomExists is returned when the id is taken.
func (s *Store) CreateRoom(ctx context.Context, room Room) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms(id, name, code, owner_id) VALUES(?, ?, ?, ?)`,
		room.ID, room.Name, room.Code, room.OwnerID)
	if err != nil && isConstraintError(err) {
		return ErrRoomExists
	}
	return err
}

// GetRoom fetches a room by id. A missing room is nil, nil.
func (s *Store) GetRoom(ctx context.Context, id string) (*Room, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, code, owner_id, created_at FROM rooms WHERE id = ?`, id)
	var room Room
	if err := row.Scan(&room.ID, &room.Name, &room.Code, &room.OwnerID, &room.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &room, nil
}

// DeleteRoom removes the room and its history. It reports whether a room was deleted.
func (s *Store) DeleteRoom(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE room_id = ?`, id); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// AppendMessage records a broadcast message. Re-appending the same id is a no-op.
func (s *Store) AppendMessage(ctx context.Context, message Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages(id, room_id, seq, sender_id, sender_name, body, sent_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		message.ID, message.RoomID, message.Seq, message.SenderID, message.SenderName, message.Body, message.SentAt.UTC())
	return err
}

// LastSeq is the highest sequence number stored for a room, zero when it has
// no history.
func (s *Store) LastSeq(ctx context.Context, roomID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM messages WHERE room_id = ?`, roomID).Scan(&seq)
	return seq, err
}

// ListMessages returns the most recent messages of a room, oldest first.
func (s *Store) ListMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, seq, sender_id, sender_name, body, sent_at FROM (
			SELECT pos, id, room_id, seq, sender_id, sender_name, body, sent_at
			FROM messages
			WHERE room_id = ?
			ORDER BY pos DESC
			LIMIT ?
		) ORDER BY pos ASC
	`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Seq, &m.SenderID, &m.SenderName, &m.Body, &m.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
