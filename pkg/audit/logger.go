package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/larder-app/larder/pkg/models"
	_ "modernc.org/sqlite"
)

// Logger writes and queries discovery audit entries in a dedicated SQLite database.
type Logger struct {
	db   *sql.DB
	cfg  models.AuditConfig
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the audit SQLite database and creates the schema.
func New(cfg models.AuditConfig) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	l := &Logger{
		db:   db,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS discovery_audit (
		request_id      TEXT PRIMARY KEY,
		user_hash       TEXT NOT NULL,
		operation       TEXT NOT NULL,
		kind            TEXT,
		query           TEXT,
		session_id      TEXT,
		source          TEXT,
		outcome         TEXT NOT NULL,
		candidate_count INTEGER,
		message         TEXT,
		latency_ms      INTEGER,
		created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_outcome ON discovery_audit(outcome)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_created ON discovery_audit(created_at)`)
	return err
}

// Log inserts an audit entry. The raw query text is stored only when
// include_query is set.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}

	query := entry.Query
	if !l.cfg.IncludeQuery {
		query = ""
	}
	if l.cfg.MaxQuerySize > 0 && len(query) > l.cfg.MaxQuerySize {
		query = query[:l.cfg.MaxQuerySize]
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO discovery_audit
		(request_id, user_hash, operation, kind, query, session_id, source,
		 outcome, candidate_count, message, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.UserHash, entry.Operation, string(entry.Kind),
		query, entry.SessionID, string(entry.Source), string(entry.Outcome),
		entry.CandidateCount, entry.Message, entry.LatencyMs, entry.CreatedAt,
	)
	return err
}

// Query returns audit entries matching the given options, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT request_id, user_hash, operation, kind, query, session_id, source,
		outcome, candidate_count, message, latency_ms, created_at
		FROM discovery_audit WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Operation != "" {
		q += " AND operation = ?"
		args = append(args, opts.Operation)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, string(opts.Outcome))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}
	if opts.SessionID != "" {
		q += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var kind, query, sessionID, source, outcome, message sql.NullString
		if err := rows.Scan(
			&e.RequestID, &e.UserHash, &e.Operation, &kind, &query,
			&sessionID, &source, &outcome, &e.CandidateCount, &message,
			&e.LatencyMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Kind = models.QueryKind(kind.String)
		e.Query = query.String
		e.SessionID = sessionID.String
		e.Source = models.ResultSource(source.String)
		e.Outcome = models.Outcome(outcome.String)
		e.Message = message.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns aggregate counts grouped by outcome and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT outcome, date(created_at) as day, count(*) as cnt
		 FROM discovery_audit GROUP BY outcome, day ORDER BY day DESC, outcome`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var outcome string
		var day sql.NullString
		if err := rows.Scan(&outcome, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Outcome = models.Outcome(outcome)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the configured retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM discovery_audit WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	if l.cfg.RetentionDays <= 0 {
		<-l.done
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			_, _ = l.Cleanup(context.Background())
		}
	}
}

// HashUser returns the SHA-256 hex hash of a user id so audit rows carry no
// raw identifiers.
func HashUser(userID string) string {
	h := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(h[:])
}
