// Package store keeps the host-side history of a classroom in SQLite: sessions,
// answers, health checks and the devices seen by the hub.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/exepirit/classradio/internal/log"
	"github.com/exepirit/classradio/pkg/classradio"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Session kinds.
const (
	KindDiscovery = "discovery"
	KindQuestion  = "question"
	KindPoll      = "poll"
	KindPing      = "ping"
)

type Session struct {
	ID         string
	Kind       string
	QType      classradio.QuestionType
	NumOptions int
	StartedAt  time.Time
}

type Answer struct {
	DeviceID   string
	Group      int
	Role       string
	Answer     string
	ReceivedAt time.Time
}

type Ping struct {
	DeviceID string
	Status   classradio.PingStatus
}

type Device struct {
	DeviceID   string
	Group      int
	Role       string
	LastSeenAt time.Time
}

var _ classradio.EventSink = &Store{}

// Store records hub events. A session starts on discovery_start and
// qparams_sent; answers and ping results arriving outside a session open one.
type Store struct {
	Logger log.Logger
	// Now returns the current time; time.Now when nil.
	Now func() time.Time

	db      *sql.DB
	mu      sync.Mutex
	session string
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("database open failed: %w", err)
	}
	// one writer; concurrent connections only contend for the file lock
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database setup failed: %w", err)
	}
	if err := CreateSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Session returns the id of the current session, "" before the first one.
func (s *Store) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// StartSession opens a new session and makes it current.
func (s *Store) StartSession(ctx context.Context, kind string, qt classradio.QuestionType, numOptions int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startSession(ctx, kind, qt, numOptions)
}

func (s *Store) startSession(ctx context.Context, kind string, qt classradio.QuestionType, numOptions int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session (id, kind, q_type, num_options, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, kind, nullString(string(qt)), nullInt(numOptions), s.now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	s.session = id
	return id, nil
}

// currentSession returns the current session, opening one of kind if needed.
func (s *Store) currentSession(ctx context.Context, kind string) (string, error) {
	if s.session != "" {
		return s.session, nil
	}
	return s.startSession(ctx, kind, "", 0)
}

// OnEvent records event; failures are logged.
func (s *Store) OnEvent(event classradio.HostEvent) {
	if err := s.Record(context.Background(), event); err != nil {
		log.OrDefault(s.Logger).Error("Cannot record event", "type", event.Type, "error", err)
	}
}

// Record stores one hub event.
func (s *Store) Record(ctx context.Context, event classradio.HostEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch event.Type {
	case classradio.EventDiscoveryStart:
		_, err = s.startSession(ctx, KindDiscovery, "", 0)
	case classradio.EventQParamsSent:
		_, err = s.startSession(ctx, KindQuestion, event.QType, event.NumOptions)
	case classradio.EventAnswer:
		err = s.recordAnswer(ctx, event)
	case classradio.EventPingResult:
		err = s.recordPing(ctx, event)
	case classradio.EventNewDevice:
		err = s.upsertDevice(ctx, classradio.DeviceInfo{DeviceID: event.DeviceID, Group: event.Group, Role: event.Role})
	case classradio.EventDeviceList:
		for _, d := range event.Devices {
			if err = s.upsertDevice(ctx, d); err != nil {
				break
			}
		}
	}
	if err != nil {
		return err
	}
	return s.appendEvent(ctx, event)
}

func (s *Store) recordAnswer(ctx context.Context, event classradio.HostEvent) error {
	session, err := s.currentSession(ctx, KindPoll)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO answer (session_id, device_id, grupo, role, answer, received_at) VALUES (?, ?, ?, ?, ?, ?)`,
		session, event.DeviceID, event.Group, event.Role, event.AnswerText(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert answer: %w", err)
	}
	return nil
}

func (s *Store) recordPing(ctx context.Context, event classradio.HostEvent) error {
	session, err := s.currentSession(ctx, KindPing)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ping (session_id, device_id, status, received_at) VALUES (?, ?, ?, ?)`,
		session, event.DeviceID, event.Status, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert ping: %w", err)
	}
	return nil
}

func (s *Store) upsertDevice(ctx context.Context, d classradio.DeviceInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device (device_id, grupo, role, last_seen_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (device_id) DO UPDATE SET
			grupo = excluded.grupo,
			role = excluded.role,
			last_seen_at = excluded.last_seen_at`,
		d.DeviceID, d.Group, d.Role, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

func (s *Store) appendEvent(ctx context.Context, event classradio.HostEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling error: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO event (session_id, type, payload, received_at) VALUES (?, ?, ?, ?)`,
		nullString(s.session), string(event.Type), string(payload), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Sessions lists every session, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, COALESCE(q_type, ''), COALESCE(num_options, 0), started_at FROM session ORDER BY started_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess    Session
			qt      string
			started int64
		)
		if err := rows.Scan(&sess.ID, &sess.Kind, &qt, &sess.NumOptions, &started); err != nil {
			return nil, err
		}
		sess.QType = classradio.QuestionType(qt)
		sess.StartedAt = time.UnixMilli(started)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Answers lists the answers of a session in arrival order.
func (s *Store) Answers(ctx context.Context, sessionID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, grupo, role, answer, received_at FROM answer WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query answers: %w", err)
	}
	defer rows.Close()

	var answers []Answer
	for rows.Next() {
		var (
			a        Answer
			received int64
		)
		if err := rows.Scan(&a.DeviceID, &a.Group, &a.Role, &a.Answer, &received); err != nil {
			return nil, err
		}
		a.ReceivedAt = time.UnixMilli(received)
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// Pings lists the health check results of a session.
func (s *Store) Pings(ctx context.Context, sessionID string) ([]Ping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, status FROM ping WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pings: %w", err)
	}
	defer rows.Close()

	var pings []Ping
	for rows.Next() {
		var deviceID, status string
		if err := rows.Scan(&deviceID, &status); err != nil {
			return nil, err
		}
		pings = append(pings, Ping{DeviceID: deviceID, Status: classradio.PingStatus(status)})
	}
	return pings, rows.Err()
}

// Devices lists every device ever reported, ordered by group and role.
func (s *Store) Devices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, grupo, role, last_seen_at FROM device ORDER BY grupo, role, device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var (
			d    Device
			seen int64
		)
		if err := rows.Scan(&d.DeviceID, &d.Group, &d.Role, &seen); err != nil {
			return nil, err
		}
		d.LastSeenAt = time.UnixMilli(seen)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// EventCount returns the number of logged events of the given type.
func (s *Store) EventCount(ctx context.Context, eventType classradio.EventType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event WHERE type = ?`, string(eventType)).Scan(&n)
	return n, err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}
