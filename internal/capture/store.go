// Package capture logs received 802.15.4 frames to sqlite, summarises link
// quality per session and exports sessions as pcap.
package capture

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/rf154/internal/l2154"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrUnknownSession = errors.New("capture: unknown session")

// Store is a frame log backed by sqlite.
type Store struct {
	*sql.DB
	path string
}

// Open opens or creates the database at path and migrates it to the latest
// schema. Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection, so a ":memory:" database is not split across the pool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations. It returns nil if the schema is
// already current.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version and dirty flag, or 0 if no
// migration has been applied.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Session is one run of a node.
type Session struct {
	ID      uuid.UUID     `json:"id"`
	Started time.Time     `json:"started"`
	Node    l2154.Addr    `json:"node"`
	Channel l2154.Channel `json:"channel"`
	PAN     l2154.PanID   `json:"pan"`
	Radio   string        `json:"radio"`
}

// NewSession records the start of a run and returns it with a fresh id.
func (s *Store) NewSession(node l2154.Addr, ch l2154.Channel, pan l2154.PanID, radio string, started time.Time) (Session, error) {
	sess := Session{
		ID:      uuid.New(),
		Started: started,
		Node:    node,
		Channel: ch,
		PAN:     pan,
		Radio:   radio,
	}
	_, err := s.Exec(
		`INSERT INTO sessions (session_id, started_ns, node_addr, channel, pan_id, radio)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID.String(), started.UnixNano(), int64(node), int64(ch), int64(pan), radio,
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to insert session: %w", err)
	}
	return sess, nil
}

// Sessions lists all sessions, most recent first.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.Query(`SELECT session_id, started_ns, node_addr, channel, pan_id, radio
		FROM sessions ORDER BY started_ns DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Session looks up a session by id.
func (s *Store) Session(id uuid.UUID) (Session, error) {
	row := s.QueryRow(`SELECT session_id, started_ns, node_addr, channel, pan_id, radio
		FROM sessions WHERE session_id = ?`, id.String())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return sess, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (Session, error) {
	var (
		id            string
		started       int64
		node, ch, pan int64
		radio         string
	)
	if err := r.Scan(&id, &started, &node, &ch, &pan, &radio); err != nil {
		return Session{}, err
	}
	sid, err := uuid.Parse(id)
	if err != nil {
		return Session{}, fmt.Errorf("failed to parse session id %q: %w", id, err)
	}
	return Session{
		ID:      sid,
		Started: time.Unix(0, started),
		Node:    l2154.Addr(node),
		Channel: l2154.Channel(ch),
		PAN:     l2154.PanID(pan),
		Radio:   radio,
	}, nil
}

// Record is a logged frame.
type Record struct {
	ID      int64            `json:"id"`
	Session uuid.UUID        `json:"session"`
	Time    time.Time        `json:"time"`
	Status  l2154.RecvStatus `json:"status"`
	Type    l2154.FrameType  `json:"type"`
	Seq     uint8            `json:"seq"`
	Src     l2154.Addr       `json:"src"`
	Dst     l2154.Addr       `json:"dst"`
	PAN     l2154.PanID      `json:"pan"`
	LQI     uint8            `json:"lqi"`
	PSDU    []byte           `json:"psdu"`
}

// RecordFrame logs f under session with its receive classification.
func (s *Store) RecordFrame(session uuid.UUID, f *l2154.Frame, status l2154.RecvStatus) error {
	if f == nil {
		return errors.New("capture: nil frame")
	}
	_, err := s.Exec(
		`INSERT INTO frames (
			session_id, received_ns, status, frame_type, seq,
			src_addr, dst_addr, pan_id, lqi, psdu
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.String(), f.Time.UnixNano(), int64(status), int64(f.FCF.FrameType()), int64(f.Seq),
		int64(f.Src), int64(f.Dst), int64(f.PAN), int64(f.LQI), f.Raw,
	)
	if err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	return nil
}

// Frames returns the frames logged under session in receive order.
func (s *Store) Frames(session uuid.UUID) ([]Record, error) {
	rows, err := s.Query(`SELECT frame_id, received_ns, status, frame_type, seq,
			src_addr, dst_addr, pan_id, lqi, psdu
		FROM frames WHERE session_id = ? ORDER BY received_ns, frame_id`, session.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec                Record
			ns                 int64
			status, typ, seq   int64
			src, dst, pan, lqi int64
		)
		if err := rows.Scan(&rec.ID, &ns, &status, &typ, &seq, &src, &dst, &pan, &lqi, &rec.PSDU); err != nil {
			return nil, err
		}
		rec.Session = session
		rec.Time = time.Unix(0, ns)
		rec.Status = l2154.RecvStatus(status)
		rec.Type = l2154.FrameType(typ)
		rec.Seq = uint8(seq)
		rec.Src = l2154.Addr(src)
		rec.Dst = l2154.Addr(dst)
		rec.PAN = l2154.PanID(pan)
		rec.LQI = uint8(lqi)
		records = append(records, rec)
	}
	return records, rows.Err()
}
