// Package audit implements the fire-and-forget intent log. Entries go to a
// JSONL file and an audit_log sqlite table; failures are logged by callers,
// never propagated into the mutation path.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/taskhold/internal/shared"
	_ "github.com/mattn/go-sqlite3"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	TaskID    string `json:"task_id,omitempty"`
	Status    string `json:"status"`
	Actor     string `json:"actor,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Log is the audit sink pair. The zero value is a no-op sink.
type Log struct {
	mu      sync.Mutex
	file    *os.File
	db      *sql.DB
	records atomic.Int64
}

// Open creates the audit log under homeDir: logs/audit.jsonl and audit.db.
func Open(homeDir string) (*Log, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", filepath.Join(homeDir, "audit.db"))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open audit sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			task_id TEXT,
			status TEXT NOT NULL,
			actor TEXT,
			detail TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		_ = f.Close()
		_ = db.Close()
		return nil, fmt.Errorf("create audit_log: %w", err)
	}

	return &Log{file: f, db: db}, nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	if l.file != nil {
		firstErr = l.file.Close()
		l.file = nil
	}
	if l.db != nil {
		if err := l.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.db = nil
	}
	return firstErr
}

// RecordCount returns the number of entries recorded since Open.
func (l *Log) RecordCount() int64 {
	if l == nil {
		return 0
	}
	return l.records.Load()
}

// Record writes one intent entry to both sinks. Errors are swallowed: the
// audit log must never fail a store operation.
func (l *Log) Record(action, taskID, status, actor, detail string) {
	if l == nil {
		return
	}
	l.records.Add(1)

	detail = shared.Redact(detail)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		ev := entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Action:    action,
			TaskID:    taskID,
			Status:    status,
			Actor:     actor,
			Detail:    detail,
		}
		if b, err := json.Marshal(ev); err == nil {
			_, _ = l.file.Write(append(b, '\n'))
		}
	}

	if l.db != nil {
		_, _ = l.db.ExecContext(context.Background(), `
			INSERT INTO audit_log (action, task_id, status, actor, detail)
			VALUES (?, ?, ?, ?, ?);
		`, action, taskID, status, actor, detail)
	}
}
