package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

const redactedValue = "[REDACTED]"

func TestNewAccess(t *testing.T) {
	event := NewAccess("user-1", "get_runs").WithTable("Runs").WithTarget("user-1")

	if event.Kind != KindAccess {
		t.Errorf("Kind = %q, want %q", event.Kind, KindAccess)
	}
	if event.ID == "" {
		t.Error("ID should not be empty")
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if event.Table != "Runs" || event.Target != "user-1" {
		t.Errorf("Table/Target = %q/%q, want Runs/user-1", event.Table, event.Target)
	}
}

func TestWithTimestamp(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("EST", -5*60*60))
	event := NewAccess("user-1", "get_runs").WithTimestamp(ts)

	if !event.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", event.Timestamp, ts)
	}
	if event.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp location = %v, want UTC", event.Timestamp.Location())
	}
}

func TestNewViolation_UnknownActor(t *testing.T) {
	event := NewViolation("", "fetch", "no active session")

	if event.Kind != KindViolation {
		t.Errorf("Kind = %q, want %q", event.Kind, KindViolation)
	}
	if event.Actor != UnknownActor {
		t.Errorf("Actor = %q, want %q", event.Actor, UnknownActor)
	}
	if event.Reason != "no active session" {
		t.Errorf("Reason = %q", event.Reason)
	}
}

func TestEventIDsAreSortable(t *testing.T) {
	first := NewAccess("u", "op")
	second := NewAccess("u", "op")
	if first.ID == second.ID {
		t.Fatal("event ids must be unique")
	}
	if len(first.ID) != 26 {
		t.Errorf("len(ID) = %d, want 26", len(first.ID))
	}
}

func TestSummarizeArgs(t *testing.T) {
	summary := SummarizeArgs([]any{"abc", 10, true})

	if summary["arg_count"] != 3 {
		t.Errorf("arg_count = %v, want 3", summary["arg_count"])
	}
	types, ok := summary["arg_types"].([]string)
	if !ok {
		t.Fatalf("arg_types has type %T", summary["arg_types"])
	}
	if strings.Join(types, ",") != "string,int,bool" {
		t.Errorf("arg_types = %v", types)
	}
}

func TestSanitizeParameters(t *testing.T) {
	params := map[string]any{
		"user_id":  "u1",
		"password": "secret123",
		"token":    "abc123",
		"limit":    10,
	}

	sanitized := SanitizeParameters(params)

	if sanitized["user_id"] != "u1" {
		t.Error("user_id should not be redacted")
	}
	if sanitized["password"] != redactedValue {
		t.Error("password should be redacted")
	}
	if sanitized["token"] != redactedValue {
		t.Error("token should be redacted")
	}
	if sanitized["limit"] != 10 {
		t.Error("limit should not be redacted")
	}
}

func TestSanitizeParameters_Nil(t *testing.T) {
	if SanitizeParameters(nil) != nil {
		t.Error("SanitizeParameters(nil) should return nil")
	}
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := logger.Log(context.Background(), *NewAccess("u1", "get_shoes").WithTable("Shoes")); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if err := logger.Log(context.Background(), *NewViolation("u1", "get_shoes", "cross-user access").WithTarget("u2")); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"msg":"data access"`, `"level":"INFO"`, `"msg":"security violation"`,
		`"level":"WARN"`, `"reason":"cross-user access"`, `"target":"u2"`, `"component":"audit"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s:\n%s", want, out)
		}
	}
}

type recordingLogger struct {
	events []Event
	err    error
}

func (r *recordingLogger) Log(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestMultiLogger(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{err: errors.New("db down")}
	c := &recordingLogger{}

	err := MultiLogger{a, b, c}.Log(context.Background(), *NewAccess("u1", "op"))
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("Log() error = %v, want db down", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 || len(c.events) != 1 {
		t.Error("every logger should receive the event")
	}
}
