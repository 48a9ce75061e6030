package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB is the session journal. It lives in memory for the lifetime of the
// process; nothing is written to disk.
type DB struct {
	conn *sql.DB
}

// Open creates an empty in-memory journal
func Open() (*DB, error) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection, discarding the journal
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// initSchema creates the database tables
func (db *DB) initSchema() error {
	schema := `
	-- Notifications shown on the exam surface
	CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		severity TEXT NOT NULL,
		message TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Lockdown state machine transitions
	CREATE TABLE IF NOT EXISTS lockdown_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		focus_losses INTEGER NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Keyboard presence verdicts
	CREATE TABLE IF NOT EXISTS keyboard_verdicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		wired INTEGER NOT NULL,
		wireless INTEGER NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_timestamp ON notifications(timestamp);
	CREATE INDEX IF NOT EXISTS idx_notifications_severity ON notifications(severity);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Notification is a journaled notification
type Notification struct {
	ID        int64
	Source    string
	Severity  string
	Message   string
	Timestamp time.Time
}

// LogNotification records a notification that reached the surface
func (db *DB) LogNotification(source, severity, message string, ts time.Time) error {
	_, err := db.conn.Exec(
		`INSERT INTO notifications (source, severity, message, timestamp)
		 VALUES (?, ?, ?, ?)`,
		source, severity, message, ts,
	)
	return err
}

// Transition is a journaled lockdown transition
type Transition struct {
	ID          int64
	FromState   string
	ToState     string
	FocusLosses int
	Timestamp   time.Time
}

// LogTransition records a lockdown state change
func (db *DB) LogTransition(from, to string, focusLosses int, ts time.Time) error {
	_, err := db.conn.Exec(
		`INSERT INTO lockdown_transitions (from_state, to_state, focus_losses, timestamp)
		 VALUES (?, ?, ?, ?)`,
		from, to, focusLosses, ts,
	)
	return err
}

// LogVerdict records a keyboard presence verdict
func (db *DB) LogVerdict(wired, wireless bool, ts time.Time) error {
	_, err := db.conn.Exec(
		`INSERT INTO keyboard_verdicts (wired, wireless, timestamp)
		 VALUES (?, ?, ?)`,
		wired, wireless, ts,
	)
	return err
}

// GetRecentNotifications retrieves the most recent notifications, newest first
func (db *DB) GetRecentNotifications(limit int) ([]Notification, error) {
	rows, err := db.conn.Query(
		`SELECT id, source, severity, message, timestamp
		 FROM notifications
		 ORDER BY id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.Source, &n.Severity, &n.Message, &n.Timestamp); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// GetTransitions retrieves all lockdown transitions in order
func (db *DB) GetTransitions() ([]Transition, error) {
	rows, err := db.conn.Query(
		`SELECT id, from_state, to_state, focus_losses, timestamp
		 FROM lockdown_transitions
		 ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.ID, &t.FromState, &t.ToState, &t.FocusLosses, &t.Timestamp); err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// Summary condenses the journal for the end-of-session log line
type Summary struct {
	Notifications   map[string]int // by severity
	FocusLosses     int
	FinalState      string
	KeyboardSeen    bool
	VerdictsChecked int
}

// GetSummary aggregates the journal
func (db *DB) GetSummary() (Summary, error) {
	s := Summary{Notifications: make(map[string]int)}

	rows, err := db.conn.Query(
		`SELECT severity, COUNT(*) FROM notifications GROUP BY severity`,
	)
	if err != nil {
		return s, err
	}
	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			rows.Close()
			return s, err
		}
		s.Notifications[severity] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return s, err
	}

	err = db.conn.QueryRow(
		`SELECT to_state, focus_losses FROM lockdown_transitions ORDER BY id DESC LIMIT 1`,
	).Scan(&s.FinalState, &s.FocusLosses)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s, err
	}

	err = db.conn.QueryRow(
		`SELECT COUNT(*), COALESCE(MAX(wired OR wireless), 0) FROM keyboard_verdicts`,
	).Scan(&s.VerdictsChecked, &s.KeyboardSeen)
	if err != nil {
		return s, err
	}

	return s, nil
}
