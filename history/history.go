// Package history persists connection sessions and log events in SQLite.
// A Store subscribes to the vpn hub like any other observer.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/yllada/ovpn-manager/common"
	"github.com/yllada/ovpn-manager/vpn"
)

const (
	batchSize     = 50
	flushInterval = 2 * time.Second
	pruneInterval = time.Hour
	pruneBatch    = 1000
)

// Session is one run of a client, from connect to exit.
type Session struct {
	ID        string
	ProfileID string
	Started   time.Time
	// Connected is zero when the tunnel never came up.
	Connected time.Time
	// Ended is zero while the session is open.
	Ended   time.Time
	Crashed bool
}

// Duration returns how long the session lasted, or has lasted so far.
func (s Session) Duration() time.Duration {
	if s.Ended.IsZero() {
		return time.Since(s.Started)
	}
	return s.Ended.Sub(s.Started)
}

// Record is a stored log event.
type Record struct {
	ProfileID string
	Category  vpn.LogCategory
	Message   string
	Time      time.Time
	Crash     bool
}

// String formats the record like a live log event.
func (r Record) String() string {
	return fmt.Sprintf("[%s] %s", r.Category, r.Message)
}

// op is one queued write. flushed, when set, is closed once every
// earlier op has been committed.
type op struct {
	query   string
	args    []any
	flushed chan struct{}
}

// Store handles persistent session and log storage.
type Store struct {
	db        *sql.DB
	retention time.Duration
	log       common.Logger

	writeChan chan op
	closeChan chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu   sync.Mutex
	open map[string]string // profile ID -> open session ID
}

var _ vpn.Observer = (*Store)(nil)

// Open creates or opens the database at path. A zero retention keeps
// records forever.
func Open(path string, retention time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:        db,
		retention: retention,
		log:       common.GetLogger().WithComponent("history"),
		writeChan: make(chan op, 1000),
		closeChan: make(chan struct{}),
		open:      make(map[string]string),
	}

	// Sessions left open by a previous run ended when it did.
	if _, err := db.Exec(`UPDATE sessions SET ended = started, crashed = 1 WHERE ended IS NULL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to close stale sessions: %w", err)
	}

	s.wg.Add(2)
	go s.writer()
	go s.cleanup()

	return s, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL,
		started INTEGER NOT NULL,
		connected INTEGER,
		ended INTEGER,
		crashed INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_profile
	ON sessions(profile_id, started);

	CREATE TABLE IF NOT EXISTS log_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id TEXT NOT NULL,
		category INTEGER NOT NULL,
		message TEXT NOT NULL,
		time INTEGER NOT NULL,
		crash INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_log_events_profile_time
	ON log_events(profile_id, time);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Attach subscribes the store to hub.
func (s *Store) Attach(hub *vpn.Hub) *vpn.Subscription {
	return hub.Subscribe(s)
}

// OnStateChanged opens a session on connect and closes it on exit.
func (s *Store) OnStateChanged(e vpn.StateEvent) {
	switch e.To {
	case vpn.StateInitializing:
		id := uuid.New().String()
		s.mu.Lock()
		s.open[e.ProfileID] = id
		s.mu.Unlock()
		s.enqueue(`INSERT INTO sessions (id, profile_id, started) VALUES (?, ?, ?)`,
			id, e.ProfileID, e.Time.UnixNano())

	case vpn.StateRunning:
		if id, ok := s.session(e.ProfileID, false); ok {
			s.enqueue(`UPDATE sessions SET connected = ? WHERE id = ?`, e.Time.UnixNano(), id)
		}

	case vpn.StateStopped:
		if id, ok := s.session(e.ProfileID, true); ok {
			s.enqueue(`UPDATE sessions SET ended = ?, crashed = ? WHERE id = ?`,
				e.Time.UnixNano(), e.Crashed, id)
		}
	}
}

// OnLog stores a log event.
func (s *Store) OnLog(e vpn.LogEvent) {
	s.enqueue(`INSERT INTO log_events (profile_id, category, message, time, crash) VALUES (?, ?, ?, ?, ?)`,
		e.ProfileID(), int(e.Category()), e.Message(), e.Time().UnixNano(), e.IsCrash())
}

func (s *Store) session(profileID string, remove bool) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.open[profileID]
	if ok && remove {
		delete(s.open, profileID)
	}
	return id, ok
}

// enqueue queues a write. It blocks when the queue is full so no event
// is lost, and drops the write once the store is closed.
func (s *Store) enqueue(query string, args ...any) {
	select {
	case s.writeChan <- op{query: query, args: args}:
	case <-s.closeChan:
	}
}

// Flush waits until every queued write is committed.
func (s *Store) Flush() {
	done := make(chan struct{})
	select {
	case s.writeChan <- op{flushed: done}:
	case <-s.closeChan:
		return
	}
	select {
	case <-done:
	case <-s.closeChan:
	}
}

// writer runs in background and batch writes to the database.
func (s *Store) writer() {
	defer s.wg.Done()

	buffer := make([]op, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(buffer) > 0 {
			s.batchWrite(buffer)
			buffer = buffer[:0]
		}
	}

	for {
		select {
		case o := <-s.writeChan:
			if o.flushed != nil {
				flush()
				close(o.flushed)
				continue
			}
			buffer = append(buffer, o)
			if len(buffer) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-s.closeChan:
			// Drain what was queued before Close.
			for {
				select {
				case o := <-s.writeChan:
					if o.flushed != nil {
						close(o.flushed)
						continue
					}
					buffer = append(buffer, o)
				default:
					flush()
					return
				}
			}
		}
	}
}

// batchWrite applies a batch of writes in one transaction.
func (s *Store) batchWrite(ops []op) {
	tx, err := s.db.Begin()
	if err != nil {
		s.log.Error("Failed to begin history transaction: %v", err)
		return
	}
	defer tx.Rollback()

	for _, o := range ops {
		if _, err := tx.Exec(o.query, o.args...); err != nil {
			s.log.Warn("Failed to write history record: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.log.Error("Failed to commit history: %v", err)
	}
}

// cleanup removes expired records periodically.
func (s *Store) cleanup() {
	defer s.wg.Done()
	if s.retention <= 0 {
		return
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Prune(time.Now().Add(-s.retention)); err != nil {
				s.log.Warn("Failed to prune history: %v", err)
			}
		case <-s.closeChan:
			return
		}
	}
}

// Prune deletes log events older than cutoff and sessions that ended
// before it. It returns the number of removed rows.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	var total int64
	ts := cutoff.UnixNano()

	for {
		result, err := s.db.Exec(
			`DELETE FROM log_events WHERE id IN (SELECT id FROM log_events WHERE time < ? LIMIT ?)`,
			ts, pruneBatch,
		)
		if err != nil {
			return total, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < pruneBatch {
			break
		}
	}

	result, err := s.db.Exec(`DELETE FROM sessions WHERE ended IS NOT NULL AND ended < ?`, ts)
	if err != nil {
		return total, err
	}
	n, err := result.RowsAffected()
	return total + n, err
}

// Sessions returns the newest sessions first. An empty profileID
// selects all profiles; limit <= 0 means no limit.
func (s *Store) Sessions(profileID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, profile_id, started, connected, ended, crashed
		FROM sessions
		WHERE ? = '' OR profile_id = ?
		ORDER BY started DESC
		LIMIT ?
	`, profileID, profileID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess             Session
			started          int64
			connected, ended sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &sess.ProfileID, &started, &connected, &ended, &sess.Crashed); err != nil {
			return nil, err
		}
		sess.Started = time.Unix(0, started)
		if connected.Valid {
			sess.Connected = time.Unix(0, connected.Int64)
		}
		if ended.Valid {
			sess.Ended = time.Unix(0, ended.Int64)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RecentLogs returns up to limit of the latest records of a profile in
// the order they were produced. An empty profileID selects all profiles.
func (s *Store) RecentLogs(profileID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = common.LogBufferCapacity
	}
	rows, err := s.db.Query(`
		SELECT profile_id, category, message, time, crash
		FROM log_events
		WHERE ? = '' OR profile_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, profileID, profileID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r        Record
			category int
			ts       int64
		)
		if err := rows.Scan(&r.ProfileID, &category, &r.Message, &ts, &r.Crash); err != nil {
			return nil, err
		}
		r.Category = vpn.LogCategory(category)
		r.Time = time.Unix(0, ts)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(records)
	return records, nil
}

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeChan)
	})
	s.wg.Wait()
	return s.db.Close()
}
