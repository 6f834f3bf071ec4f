package coordstore

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is an embedded, single-file reference driver built on
// modernc.org/sqlite (the teacher's own driver choice, graph/store/sqlite.go).
// It is the "local-file adapter" class of deployment spec.md §1 names as an
// out-of-scope-but-interfaced concrete event/coordination source: a durable
// alternative to MemoryStore for single-node guardians that still want
// restart survival without standing up ZooKeeper/etcd.
//
// Ephemerality uses the same TTL model as RedisStore: an ephemeral_until
// column holds the deadline, refreshed by the owner every RefreshInterval;
// reads skip any row whose deadline has passed (Get reports ErrNoNode), and a
// background sweep deletes such rows every SessionTimeout.
type SQLiteStore struct {
	db              *sql.DB
	sessionTimeout  time.Duration
	refreshInterval time.Duration

	mu        sync.Mutex
	ephemeral map[string]struct{}
	listeners []SessionListener
	stopCh    chan struct{}
}

// NewSQLiteStore opens (creating if absent) a coordination-store database
// at filePath. Use ":memory:" for ephemeral tests.
func NewSQLiteStore(filePath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", filePath)
	if err != nil {
		return nil, fmt.Errorf("coordstore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("coordstore: %s: %w", pragma, err)
		}
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS coord_nodes (
			path TEXT PRIMARY KEY,
			parent TEXT NOT NULL,
			data BLOB NOT NULL DEFAULT (x''),
			ephemeral_until TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_coord_nodes_parent ON coord_nodes(parent);
		CREATE TABLE IF NOT EXISTS coord_seq (
			prefix TEXT PRIMARY KEY,
			next_seq INTEGER NOT NULL DEFAULT 0
		);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("coordstore: create schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO coord_nodes(path, parent, data) VALUES ('/', '', x'')`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("coordstore: seed root: %w", err)
	}

	s := &SQLiteStore{
		db:              db,
		sessionTimeout:  3 * time.Second,
		refreshInterval: 400 * time.Millisecond,
		ephemeral:       make(map[string]struct{}),
		stopCh:          make(chan struct{}),
	}
	go s.refreshLoop()
	go s.sweepLoop()
	return s, nil
}

func (s *SQLiteStore) refreshLoop() {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			paths := make([]string, 0, len(s.ephemeral))
			for p := range s.ephemeral {
				paths = append(paths, p)
			}
			s.mu.Unlock()
			deadline := time.Now().Add(s.sessionTimeout)
			for _, p := range paths {
				s.db.Exec(`UPDATE coord_nodes SET ephemeral_until=? WHERE path=?`, deadline, p)
			}
		}
	}
}

// sweepLoop removes rows whose TTL lapsed, the local analogue of a
// ZooKeeper session expiry deleting ephemeral children.
func (s *SQLiteStore) sweepLoop() {
	ticker := time.NewTicker(s.sessionTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.db.Exec(`DELETE FROM coord_nodes WHERE ephemeral_until IS NOT NULL AND ephemeral_until < ?`, time.Now())
		}
	}
}

func (s *SQLiteStore) Get(ctx context.Context, p string) ([]byte, error) {
	p = clean(p)
	var data []byte
	var until sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT data, ephemeral_until FROM coord_nodes WHERE path=?`, p).Scan(&data, &until)
	if err == sql.ErrNoRows {
		return nil, ErrNoNode
	}
	if err != nil {
		return nil, fmt.Errorf("coordstore: get %s: %w", p, err)
	}
	if until.Valid && until.Time.Before(time.Now()) {
		return nil, ErrNoNode
	}
	return data, nil
}

func (s *SQLiteStore) Put(ctx context.Context, p string, data []byte) error {
	p = clean(p)
	res, err := s.db.ExecContext(ctx, `UPDATE coord_nodes SET data=? WHERE path=?`, data, p)
	if err != nil {
		return fmt.Errorf("coordstore: put %s: %w", p, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNoNode
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, p string, data []byte, ephemeral, sequence, makepath bool) (string, error) {
	p = clean(p)
	if makepath {
		if err := s.ensurePath(ctx, path.Dir(p)); err != nil {
			return "", err
		}
	}

	actual := p
	if sequence {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return "", fmt.Errorf("coordstore: begin: %w", err)
		}
		var next int64
		err = tx.QueryRowContext(ctx, `SELECT next_seq FROM coord_seq WHERE prefix=?`, p).Scan(&next)
		if err == sql.ErrNoRows {
			next = 0
		} else if err != nil {
			tx.Rollback()
			return "", fmt.Errorf("coordstore: seq lookup: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO coord_seq(prefix, next_seq) VALUES (?, ?)
			ON CONFLICT(prefix) DO UPDATE SET next_seq=?`, p, next+1, next+1); err != nil {
			tx.Rollback()
			return "", fmt.Errorf("coordstore: seq bump: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("coordstore: seq commit: %w", err)
		}
		actual = fmt.Sprintf("%s%010d", p, next)
	}

	var until any
	if ephemeral {
		until = time.Now().Add(s.sessionTimeout)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO coord_nodes(path, parent, data, ephemeral_until) VALUES (?, ?, ?, ?)`,
		actual, path.Dir(actual), data, until)
	if err != nil {
		if !sequence {
			return "", ErrNodeExists
		}
		return "", fmt.Errorf("coordstore: create %s: %w", actual, err)
	}
	if ephemeral {
		s.mu.Lock()
		s.ephemeral[actual] = struct{}{}
		s.mu.Unlock()
	}
	return actual, nil
}

func (s *SQLiteStore) ensurePath(ctx context.Context, p string) error {
	if p == "/" || p == "." {
		return nil
	}
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM coord_nodes WHERE path=?`, p).Scan(&exists)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("coordstore: ensurePath %s: %w", p, err)
	}
	if err := s.ensurePath(ctx, path.Dir(p)); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO coord_nodes(path, parent, data) VALUES (?, ?, x'')`, p, path.Dir(p))
	if err != nil {
		return fmt.Errorf("coordstore: ensurePath insert %s: %w", p, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, p string, recursive bool) error {
	p = clean(p)
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM coord_nodes WHERE path=?`, p).Scan(&exists); err == sql.ErrNoRows {
		return ErrNoNode
	} else if err != nil {
		return fmt.Errorf("coordstore: delete lookup %s: %w", p, err)
	}
	if recursive {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM coord_nodes WHERE path LIKE ? || '/%'`, p); err != nil {
			return fmt.Errorf("coordstore: delete children %s: %w", p, err)
		}
	}
	s.mu.Lock()
	delete(s.ephemeral, p)
	s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM coord_nodes WHERE path=?`, p); err != nil {
		return fmt.Errorf("coordstore: delete %s: %w", p, err)
	}
	return nil
}

func (s *SQLiteStore) Exists(ctx context.Context, p string) (bool, error) {
	p = clean(p)
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM coord_nodes WHERE path=? AND (ephemeral_until IS NULL OR ephemeral_until >= ?)`, p, time.Now()).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("coordstore: exists %s: %w", p, err)
	}
	return true, nil
}

func (s *SQLiteStore) Children(ctx context.Context, p string, watch Watcher, withData bool) ([]string, [][]byte, error) {
	p = clean(p)
	ok, err := s.Exists(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	if !ok && p != "/" {
		return nil, nil, ErrNoNode
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path, data FROM coord_nodes WHERE parent=? AND (ephemeral_until IS NULL OR ephemeral_until >= ?)`, p, time.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("coordstore: children %s: %w", p, err)
	}
	defer rows.Close()

	var names []string
	var datas [][]byte
	for rows.Next() {
		var full string
		var data []byte
		if err := rows.Scan(&full, &data); err != nil {
			return nil, nil, fmt.Errorf("coordstore: scan child of %s: %w", p, err)
		}
		names = append(names, path.Base(full))
		datas = append(datas, data)
	}
	sort.Strings(names)
	if !withData {
		datas = nil
	}
	if watch != nil {
		go s.pollWatch(p, names, watch)
	}
	return names, datas, nil
}

func (s *SQLiteStore) pollWatch(p string, baseline []string, watch Watcher) {
	deadline := time.Now().Add(s.sessionTimeout * 4)
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()
	for range ticker.C {
		if time.Now().After(deadline) {
			return
		}
		names, _, err := s.Children(context.Background(), p, nil, false)
		if err != nil {
			continue
		}
		if len(names) != len(baseline) || !equalStrings(names, baseline) {
			watch(Event{Type: EventChild, State: StateConnected, Path: p})
			return
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *SQLiteStore) AddSessionListener(l SessionListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *SQLiteStore) Disconnect(ctx context.Context) error {
	close(s.stopCh)
	s.mu.Lock()
	paths := make([]string, 0, len(s.ephemeral))
	for p := range s.ephemeral {
		paths = append(paths, p)
	}
	listeners := append([]SessionListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, p := range paths {
		_ = s.Delete(ctx, p, false)
	}
	for _, l := range listeners {
		l(StateLost)
	}
	return s.db.Close()
}
