package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/geoplex/procjobs/pkg/job"
)

const driverSQLite = "sqlite"

// Config describes where the job database lives.
type Config struct {
	// Path is a local filesystem path to the job database, or ":memory:".
	Path string
}

// SQLite is the database/sql-backed Store implementation.
type SQLite struct {
	db *sql.DB
}

// Open opens (and creates if needed) a SQLite-backed job database and applies
// the schema.
//
// Notes:
//   - Local file paths are created if parent directories do not exist.
//   - For local DBs, WAL and busy_timeout are applied for predictable
//     behavior under concurrent runner callbacks.
func Open(ctx context.Context, cfg Config) (*SQLite, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping job store: %w", err)
	}

	if err := configureLocal(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func buildDSN(cfg Config) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("job store path is required")
	}
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "file:") {
		localPath, err := extractFilePath(path)
		if err != nil {
			return "", err
		}
		if err := ensureStoreDir(localPath); err != nil {
			return "", err
		}
		return path, nil
	}
	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store path: %w", err)
	}
	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}
	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func ensureStoreDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

func configureLocal(ctx context.Context, db *sql.DB, dsn string) error {
	if db == nil {
		return errors.New("store connection is nil")
	}

	// Keep a single connection: serializes per-record writes from concurrent
	// runner callbacks and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance commands.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// payload carries the record parts that are never filtered on and are stored
// as one JSON column.
type payload struct {
	Logs       []string            `json:"logs,omitempty"`
	Exceptions []job.ExceptionInfo `json:"exceptions,omitempty"`
	Results    []job.ResultRef     `json:"results,omitempty"`
}

const jobColumns = `job_id, task_ref, process_id, service_id, is_workflow,
	status, progress, message, created, started, finished,
	user_id, access, notification, accept_language, execute_async,
	context_id, tags, payload`

func (s *SQLite) Insert(ctx context.Context, j *job.Job) error {
	return s.write(ctx, j, false)
}

func (s *SQLite) Update(ctx context.Context, j *job.Job) error {
	return s.write(ctx, j, true)
}

func (s *SQLite) write(ctx context.Context, j *job.Job, replace bool) error {
	if j == nil {
		return errors.New("job is nil")
	}
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job_id is required")
	}

	tagsJSON, err := json.Marshal(j.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	payloadJSON, err := json.Marshal(payload{Logs: j.Logs, Exceptions: j.Exceptions, Results: j.Results})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	stmt := `INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if replace {
		stmt = `INSERT OR REPLACE INTO jobs (` + jobColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	}

	if replace {
		// Whole-record replace must not resurrect a deleted job.
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE job_id = ?`, j.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check job exists: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, stmt,
		j.ID, j.TaskRef, j.ProcessID, nullString(j.ServiceID), boolInt(j.IsWorkflow),
		string(j.Status), j.Progress, j.Message,
		formatTime(j.Created), nullTime(j.Started), nullTime(j.Finished),
		nullString(j.UserID), string(j.Access), nullString(j.NotificationContact),
		nullString(j.AcceptLanguage), boolInt(j.ExecuteAsync),
		nullString(j.ContextID), string(tagsJSON), string(payloadJSON),
	)
	if err != nil {
		return fmt.Errorf("write job record: %w", err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Query compiles the filter into SQL. Equality and datetime terms are pushed
// to the database; derived duration and tag membership are residual filters
// applied to the scanned rows. Paging runs in SQL only when no residual term
// is active, otherwise the window is computed over the residual-filtered set
// so that total stays correct.
func (s *SQLite) Query(ctx context.Context, f Filter) ([]job.Job, int, error) {
	where, args := compileFilter(f)
	order := orderClause(f)
	residual := len(f.Tags) > 0 || f.MinDuration != nil || f.MaxDuration != nil

	if !residual {
		var total int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count jobs: %w", err)
		}
		q := `SELECT ` + jobColumns + ` FROM jobs` + where + order
		qargs := args
		if f.Limit > 0 {
			q += ` LIMIT ? OFFSET ?`
			qargs = append(append([]interface{}{}, args...), f.Limit, f.Page*f.Limit)
		}
		jobs, err := s.queryJobs(ctx, q, qargs...)
		if err != nil {
			return nil, 0, err
		}
		return jobs, total, nil
	}

	jobs, err := s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs`+where+order, args...)
	if err != nil {
		return nil, 0, err
	}
	filtered := jobs[:0]
	for i := range jobs {
		if matchesResidual(&jobs[i], f) {
			filtered = append(filtered, jobs[i])
		}
	}
	total := len(filtered)
	return pageWindow(filtered, f.Page, f.Limit), total, nil
}

// GroupBy partitions the matching records by the distinct tuple of the named
// fields. The reduction runs over the compiled filter query so residual terms
// and grouping always agree on membership.
func (s *SQLite) GroupBy(ctx context.Context, f Filter, fields []string) ([]Group, int, error) {
	f.Limit = 0
	jobs, total, err := s.Query(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return partition(jobs, fields), total, nil
}

func compileFilter(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if f.ProcessID != "" {
		conds = append(conds, `process_id = ?`)
		args = append(args, f.ProcessID)
	}
	if f.ServiceID != "" {
		conds = append(conds, `service_id = ?`)
		args = append(args, f.ServiceID)
	}
	if f.HasService != nil {
		if *f.HasService {
			conds = append(conds, `service_id IS NOT NULL`)
		} else {
			conds = append(conds, `service_id IS NULL`)
		}
	}
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, `status IN (`+strings.Join(ph, ", ")+`)`)
	}
	if f.Access != "" {
		conds = append(conds, `access = ?`)
		args = append(args, string(f.Access))
	}
	if f.UserID != "" {
		conds = append(conds, `user_id = ?`)
		args = append(args, f.UserID)
	}
	if f.NotificationContact != "" {
		conds = append(conds, `notification = ?`)
		args = append(args, f.NotificationContact)
	}
	if f.CreatedMatch != nil {
		conds = append(conds, `created = ?`)
		args = append(args, formatTime(*f.CreatedMatch))
	}
	if f.CreatedAfter != nil {
		conds = append(conds, `created >= ?`)
		args = append(args, formatTime(*f.CreatedAfter))
	}
	if f.CreatedBefore != nil {
		conds = append(conds, `created <= ?`)
		args = append(args, formatTime(*f.CreatedBefore))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(conds, ` AND `), args
}

func orderClause(f Filter) string {
	col := "created"
	switch f.Sort {
	case SortFinished:
		col = "finished"
	case SortID:
		col = "job_id"
	case SortUser:
		col = "user_id"
	}
	dir := "DESC"
	if f.SortAsc {
		dir = "ASC"
	}
	// Secondary key keeps the page window deterministic across fetches.
	return fmt.Sprintf(` ORDER BY %s %s, job_id ASC`, col, dir)
}

func (s *SQLite) queryJobs(ctx context.Context, q string, args ...interface{}) ([]job.Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := []job.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j            job.Job
		serviceID    sql.NullString
		isWorkflow   int
		status       string
		created      string
		started      sql.NullString
		finished     sql.NullString
		userID       sql.NullString
		access       string
		notification sql.NullString
		acceptLang   sql.NullString
		executeAsync int
		contextID    sql.NullString
		tagsJSON     string
		payloadJSON  string
	)

	err := row.Scan(
		&j.ID, &j.TaskRef, &j.ProcessID, &serviceID, &isWorkflow,
		&status, &j.Progress, &j.Message, &created, &started, &finished,
		&userID, &access, &notification, &acceptLang, &executeAsync,
		&contextID, &tagsJSON, &payloadJSON,
	)
	if err != nil {
		return nil, err
	}

	j.ServiceID = serviceID.String
	j.IsWorkflow = isWorkflow != 0
	j.Status = job.Status(status)
	j.UserID = userID.String
	j.Access = job.Access(access)
	j.NotificationContact = notification.String
	j.AcceptLanguage = acceptLang.String
	j.ExecuteAsync = executeAsync != 0
	j.ContextID = contextID.String

	if j.Created, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created: %w", err)
	}
	if started.Valid {
		t, err := parseTime(started.String)
		if err != nil {
			return nil, fmt.Errorf("parse started: %w", err)
		}
		j.Started = &t
	}
	if finished.Valid {
		t, err := parseTime(finished.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished: %w", err)
		}
		j.Finished = &t
	}

	if err := json.Unmarshal([]byte(tagsJSON), &j.Tags); err != nil {
		return nil, fmt.Errorf("parse tags: %w", err)
	}
	var p payload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	j.Logs = p.Logs
	j.Exceptions = p.Exceptions
	j.Results = p.Results

	return &j, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
