package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/httprunner/ImageAgent/internal/config"
)

const (
	defaultDBDirName  = ".imageagent"
	defaultDBFileName = "outcomes.sqlite"
	outcomesTable     = "image_outcomes"
)

// columns added after the first release; older databases gain them on open.
var lateColumns = []struct{ name, ctype string }{
	{"Policy", "TEXT"},
	{"ElapsedMs", "INTEGER"},
}

// ResolveDatabasePath returns the outcomes database path, creating its parent
// directory. IMAGEAGENT_DB_PATH overrides ~/.imageagent/outcomes.sqlite.
func ResolveDatabasePath() (string, error) {
	if custom := config.String(config.KeyDBPath, ""); custom != "" {
		if err := ensureDirExists(filepath.Dir(custom)); err != nil {
			return "", err
		}
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", pkgerrors.Wrap(err, "recorder: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDirExists(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

func ensureDirExists(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "recorder: create directory %s failed", path)
	}
	return nil
}

// SQLite appends outcomes to a local database.
type SQLite struct {
	db     *sql.DB
	insert *sql.Stmt
	mu     sync.Mutex
}

// Open opens (and migrates) the outcomes database at the resolved path.
func Open() (*SQLite, error) {
	path, err := ResolveDatabasePath()
	if err != nil {
		return nil, err
	}
	return OpenPath(path)
}

// OpenPath opens the outcomes database at path.
func OpenPath(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "recorder: open sqlite failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	insert, err := db.Prepare(fmt.Sprintf(`INSERT INTO %s
		(RunID, HostID, Action, Serial, IPAddress, Name, Policy, State, Detail, ElapsedMs, RecordedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, quoteIdent(outcomesTable)))
	if err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "recorder: prepare insert failed")
	}
	log.Debug().Str("db_path", path).Msg("outcome recorder opened")
	return &SQLite{db: db, insert: insert}, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=60000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "recorder: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	table := quoteIdent(outcomesTable)
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			RunID TEXT NOT NULL,
			HostID TEXT,
			Action TEXT NOT NULL,
			Serial TEXT NOT NULL,
			IPAddress TEXT,
			Name TEXT,
			State TEXT NOT NULL,
			Detail TEXT,
			RecordedAt INTEGER NOT NULL
		);`, table)
	if _, err := db.Exec(createTable); err != nil {
		return pkgerrors.Wrap(err, "recorder: create outcomes table failed")
	}
	for _, col := range lateColumns {
		if err := ensureColumn(db, outcomesTable, col.name, col.ctype); err != nil {
			return err
		}
	}
	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_image_outcomes_run ON %s(RunID);", table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_image_outcomes_serial ON %s(Serial, RecordedAt);", table),
	}
	for _, stmt := range indexes {
		if _, err := db.Exec(stmt); err != nil {
			return pkgerrors.Wrapf(err, "recorder: create index failed: %s", stmt)
		}
	}
	return nil
}

func ensureColumn(db *sql.DB, table, column, ctype string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s);", quoteIdent(table)))
	if err != nil {
		return pkgerrors.Wrapf(err, "recorder: describe %s schema failed", table)
	}
	found := false
	for rows.Next() {
		var (
			cid     int
			name    string
			coltype string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &coltype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return pkgerrors.Wrapf(err, "recorder: scan %s schema failed", table)
		}
		if strings.EqualFold(name, column) {
			found = true
		}
	}
	rows.Close()
	if found {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", quoteIdent(table), quoteIdent(column), ctype)
	if _, err := db.Exec(stmt); err != nil {
		return pkgerrors.Wrapf(err, "recorder: add column %s.%s failed", table, column)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Record inserts one outcome. A zero At is stamped with the current time.
func (s *SQLite) Record(ctx context.Context, o Outcome) error {
	if s == nil || s.insert == nil {
		return pkgerrors.New("recorder: sqlite recorder closed")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if o.At.IsZero() {
		o.At = time.Now()
	}
	if o.HostID == "" {
		o.HostID = HostID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.insert.ExecContext(ctx,
		o.RunID, o.HostID, o.Action, o.Serial, o.IPAddress, o.Name, o.Policy,
		o.State, o.Detail, o.Elapsed.Milliseconds(), o.At.UnixMilli())
	if err != nil {
		return pkgerrors.Wrapf(err, "recorder: insert outcome for %s failed", o.Serial)
	}
	return nil
}

// Close releases the prepared statement and database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insert != nil {
		s.insert.Close()
		s.insert = nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLite) Name() string { return "sqlite" }

// Query narrows History; empty fields match everything.
type Query struct {
	RunID  string
	Serial string
	Limit  int
}

// History returns recorded outcomes, newest first.
func (s *SQLite) History(ctx context.Context, q Query) ([]Outcome, error) {
	if s == nil || s.db == nil {
		return nil, pkgerrors.New("recorder: sqlite recorder closed")
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	var (
		where []string
		args  []any
	)
	if q.RunID != "" {
		where = append(where, "RunID = ?")
		args = append(args, q.RunID)
	}
	if q.Serial != "" {
		where = append(where, "Serial = ?")
		args = append(args, q.Serial)
	}
	stmt := fmt.Sprintf(`SELECT RunID, HostID, Action, Serial, IPAddress, Name, Policy, State, Detail, ElapsedMs, RecordedAt
		FROM %s`, quoteIdent(outcomesTable))
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY RecordedAt DESC, id DESC LIMIT ?"
	args = append(args, q.Limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "recorder: query outcomes failed")
	}
	defer rows.Close()
	var out []Outcome
	for rows.Next() {
		var (
			o                              Outcome
			host, ip, name, policy, detail sql.NullString
			elapsedMs                      sql.NullInt64
			recordedAt                     int64
		)
		if err := rows.Scan(&o.RunID, &host, &o.Action, &o.Serial, &ip, &name, &policy,
			&o.State, &detail, &elapsedMs, &recordedAt); err != nil {
			return nil, pkgerrors.Wrap(err, "recorder: scan outcome failed")
		}
		o.HostID = host.String
		o.IPAddress = ip.String
		o.Name = name.String
		o.Policy = policy.String
		o.Detail = detail.String
		o.Elapsed = time.Duration(elapsedMs.Int64) * time.Millisecond
		o.At = time.UnixMilli(recordedAt)
		out = append(out, o)
	}
	return out, pkgerrors.Wrap(rows.Err(), "recorder: iterate outcomes failed")
}
