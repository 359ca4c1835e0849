// Package store provides the SQLite-backed local store for bookings,
// users, and per-user OAuth tokens. The local store is the source of
// truth for scheduling; the sync engine only reads events and writes
// back remote links.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/oauth2"
)

// ErrTokenNotFound is returned by GetToken when the user has never
// completed the authorization flow.
var ErrTokenNotFound = errors.New("no token stored for user")

// ErrEventNotFound is returned when an event id does not exist.
var ErrEventNotFound = errors.New("event not found")

// Event is a booking owned by a user. RemoteID, when non-empty, is the
// id of the mirrored event in the user's remote calendar.
type Event struct {
	ID          string
	UserID      string
	Title       string
	Location    string
	Description string
	Start       time.Time
	End         time.Time
	Timezone    string // IANA name, e.g. "America/New_York"
	RemoteID    string // "" when the event has never been pushed

	// Booking details. Not used by reconciliation, but carried into
	// event descriptions and the ICS export.
	ClientName  string
	PhoneNumber string
	Theme       string
	QuoteGiven  float64
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary initializes) the database at path.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// init creates the schema if it does not exist yet. Schema changes bump
// the version in db_version.
func (s *Store) init() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM db_version WHERE name = 'calsync'").Scan(&version)
	if err != nil {
		if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS db_version (
			name TEXT PRIMARY KEY,
			version INTEGER
		)`); err != nil {
			return fmt.Errorf("failed to create db_version table: %w", err)
		}
		if _, err := s.db.Exec(`INSERT INTO db_version (name, version) VALUES ('calsync', 0)`); err != nil {
			return fmt.Errorf("failed to initialize db_version table: %w", err)
		}
		version = 0
	}

	if version == 0 {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id),
				title TEXT NOT NULL,
				location TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				start_time TIMESTAMP NOT NULL,
				end_time TIMESTAMP NOT NULL,
				timezone TEXT NOT NULL DEFAULT 'UTC',
				remote_id TEXT,
				client_name TEXT NOT NULL DEFAULT '',
				phone_number TEXT NOT NULL DEFAULT '',
				theme TEXT NOT NULL DEFAULT '',
				quote_given REAL NOT NULL DEFAULT 0
			)`,
			// A remote event mirrors at most one local event per user.
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_remote
				ON events(user_id, remote_id) WHERE remote_id IS NOT NULL`,
			`CREATE TABLE IF NOT EXISTS tokens (
				user_id TEXT PRIMARY KEY REFERENCES users(id),
				token TEXT NOT NULL
			)`,
		}
		for _, stmt := range stmts {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to initialize schema: %w", err)
			}
		}

		if _, err := s.db.Exec(`UPDATE db_version SET version = 1 WHERE name = 'calsync'`); err != nil {
			return fmt.Errorf("failed to update db_version table: %w", err)
		}
	}

	return nil
}

// CreateUser inserts a user and returns its id.
func (s *Store) CreateUser(email string) (string, error) {
	id := uuid.NewString()
	if _, err := s.db.Exec("INSERT INTO users (id, email) VALUES (?, ?)", id, email); err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

// ListUserIDs returns the ids of all known users.
func (s *Store) ListUserIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT id FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateEvent inserts a booking and returns it with an assigned id.
func (s *Store) CreateEvent(event Event) (Event, error) {
	event.ID = uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO events
		(id, user_id, title, location, description, start_time, end_time, timezone,
		 remote_id, client_name, phone_number, theme, quote_given)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.UserID, event.Title, event.Location, event.Description,
		event.Start.UTC(), event.End.UTC(), event.Timezone,
		nullable(event.RemoteID), event.ClientName, event.PhoneNumber, event.Theme, event.QuoteGiven)
	if err != nil {
		return Event{}, fmt.Errorf("failed to create event: %w", err)
	}
	return event, nil
}

// UpdateEvent overwrites the booking fields of an existing event. The
// remote link is left untouched; use SetRemoteLink for that.
func (s *Store) UpdateEvent(event Event) error {
	res, err := s.db.Exec(`UPDATE events SET
		title = ?, location = ?, description = ?, start_time = ?, end_time = ?, timezone = ?,
		client_name = ?, phone_number = ?, theme = ?, quote_given = ?
		WHERE id = ?`,
		event.Title, event.Location, event.Description,
		event.Start.UTC(), event.End.UTC(), event.Timezone,
		event.ClientName, event.PhoneNumber, event.Theme, event.QuoteGiven,
		event.ID)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return requireRow(res)
}

// DeleteEvent removes a booking. The mirrored remote event, if any, is
// pruned on the next sync cycle.
func (s *Store) DeleteEvent(eventID string) error {
	res, err := s.db.Exec("DELETE FROM events WHERE id = ?", eventID)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return requireRow(res)
}

// GetEvent loads a single booking by id.
func (s *Store) GetEvent(eventID string) (Event, error) {
	row := s.db.QueryRow(`SELECT id, user_id, title, location, description,
		start_time, end_time, timezone, remote_id,
		client_name, phone_number, theme, quote_given
		FROM events WHERE id = ?`, eventID)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Event{}, ErrEventNotFound
		}
		return Event{}, fmt.Errorf("failed to get event: %w", err)
	}
	return event, nil
}

// ListEventsForUser returns all bookings owned by the user, ordered by
// start time.
func (s *Store) ListEventsForUser(userID string) ([]Event, error) {
	rows, err := s.db.Query(`SELECT id, user_id, title, location, description,
		start_time, end_time, timezone, remote_id,
		client_name, phone_number, theme, quote_given
		FROM events WHERE user_id = ? ORDER BY start_time`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// SetRemoteLink records the remote calendar event id that mirrors the
// local event. An empty remoteID clears the link.
func (s *Store) SetRemoteLink(eventID, remoteID string) error {
	res, err := s.db.Exec("UPDATE events SET remote_id = ? WHERE id = ?", nullable(remoteID), eventID)
	if err != nil {
		return fmt.Errorf("failed to set remote link: %w", err)
	}
	return requireRow(res)
}

// GetToken loads the stored OAuth token for a user. Returns
// ErrTokenNotFound if the user has not connected a calendar.
func (s *Store) GetToken(userID string) (*oauth2.Token, error) {
	var tokenJSON []byte
	err := s.db.QueryRow("SELECT token FROM tokens WHERE user_id = ?", userID).Scan(&tokenJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &token, nil
}

// SaveToken upserts the OAuth token for a user.
func (s *Store) SaveToken(userID string, token *oauth2.Token) error {
	tokenJSON, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if _, err := s.db.Exec("INSERT OR REPLACE INTO tokens (user_id, token) VALUES (?, ?)",
		userID, tokenJSON); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (Event, error) {
	var event Event
	var remoteID sql.NullString
	err := row.Scan(&event.ID, &event.UserID, &event.Title, &event.Location, &event.Description,
		&event.Start, &event.End, &event.Timezone, &remoteID,
		&event.ClientName, &event.PhoneNumber, &event.Theme, &event.QuoteGiven)
	if err != nil {
		return Event{}, err
	}
	event.RemoteID = remoteID.String
	event.Start = event.Start.UTC()
	event.End = event.End.UTC()
	return event, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEventNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
