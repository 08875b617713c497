package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/szandany/policyguard/internal/observability"
)

func testLogger(buf *bytes.Buffer, level string) *jsonlLogger {
	return &jsonlLogger{writer: buf, minLevel: levelPriority(level)}
}

func TestJSONLEntryShape(t *testing.T) {
	var buf bytes.Buffer
	l := testLogger(&buf, LevelInfo)

	l.Info("engine", "evaluation complete", "rules", 3, "status", "PASS")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not a JSON line: %v", err)
	}
	if entry["level"] != "info" || entry["component"] != "engine" {
		t.Errorf("entry = %v", entry)
	}
	if entry["msg"] != "evaluation complete" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["schema_version"] != SchemaVersion {
		t.Errorf("schema_version = %v", entry["schema_version"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["rules"] != float64(3) || fields["status"] != "PASS" {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := testLogger(&buf, LevelWarn)

	l.Debug("engine", "dropped")
	l.Info("engine", "dropped")
	l.Warn("engine", "kept")
	l.Error("engine", "kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
}

func TestEventCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := testLogger(&buf, LevelInfo)

	ctx := observability.WithRequestID(context.Background())
	l.Event(ctx, "decide.complete", map[string]any{"resultStatus": "HARD_FAIL"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["event"] != "policyguard.decide.complete" {
		t.Errorf("event = %v", entry["event"])
	}
	if entry["request_id"] == "" || entry["request_id"] == nil {
		t.Error("event entry is missing the request id")
	}
	fields, _ := entry["fields"].(map[string]any)
	if fields["resultStatus"] != "HARD_FAIL" {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestOddFieldPairsIgnored(t *testing.T) {
	var buf bytes.Buffer
	l := testLogger(&buf, LevelInfo)

	l.Info("engine", "msg", "key") // dangling key, no value

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if fields, ok := entry["fields"].(map[string]any); ok && len(fields) != 0 {
		t.Errorf("dangling key produced fields: %v", fields)
	}
}

func TestFromReturnsNoopWithoutLogger(t *testing.T) {
	l := From(context.Background())
	if l == nil {
		t.Fatal("From must never return nil")
	}
	// must be safe to use
	l.Info("engine", "ignored")
	if err := l.Close(); err != nil {
		t.Errorf("Close on noop logger: %v", err)
	}
}
