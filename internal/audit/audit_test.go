package audit

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLog_RecordBothSinks(t *testing.T) {
	home := t.TempDir()
	l, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	l.Record("task.completed", "t-1", "completed", "cli", "all dependencies satisfied")
	if l.RecordCount() != 1 {
		t.Fatalf("RecordCount = %d, want 1", l.RecordCount())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// JSONL sink.
	data, err := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit.jsonl: %v", err)
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &ev); err != nil {
		t.Fatalf("audit line not JSON: %v", err)
	}
	if ev["action"] != "task.completed" || ev["task_id"] != "t-1" {
		t.Fatalf("unexpected entry: %v", ev)
	}

	// SQLite sink.
	db, err := sql.Open("sqlite3", filepath.Join(home, "audit.db"))
	if err != nil {
		t.Fatalf("open audit.db: %v", err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRow(`SELECT COUNT(1) FROM audit_log WHERE action = 'task.completed';`).Scan(&count); err != nil {
		t.Fatalf("query audit_log: %v", err)
	}
	if count != 1 {
		t.Fatalf("audit_log rows = %d, want 1", count)
	}
}

func TestLog_RedactsDetail(t *testing.T) {
	home := t.TempDir()
	l, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Record("task.updated", "t-2", "pending", "cli", `linked token: "deadbeefdeadbeefdeadbeef"`)
	l.Close()

	data, _ := os.ReadFile(filepath.Join(home, "logs", "audit.jsonl"))
	if strings.Contains(string(data), "deadbeefdeadbeefdeadbeef") {
		t.Fatalf("secret survived redaction: %s", data)
	}
}

func TestLog_NilSafe(t *testing.T) {
	var l *Log
	l.Record("task.completed", "t-3", "completed", "", "")
	if l.RecordCount() != 0 {
		t.Fatal("nil log counted a record")
	}
}
