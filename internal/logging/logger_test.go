package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestWithContextAddsIDs(t *testing.T) {
	l := New("gateway", "debug", "json")
	var buf bytes.Buffer
	l.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUserID(ctx, "user-1")
	l.WithContext(ctx).Info("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["trace_id"] != "trace-1" {
		t.Errorf("trace_id = %v, want trace-1", line["trace_id"])
	}
	if line["user_id"] != "user-1" {
		t.Errorf("user_id = %v, want user-1", line["user_id"])
	}
	if line["service"] != "gateway" {
		t.Errorf("service = %v, want gateway", line["service"])
	}
}

func TestLogRequestLevels(t *testing.T) {
	l := New("gateway", "info", "json")
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.LogRequest(context.Background(), "GET", "/x", 503, time.Millisecond)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if line["level"] != "error" {
		t.Errorf("level = %v, want error", line["level"])
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	l := New("gateway", "loud", "text")
	if l.GetLevel().String() != "info" {
		t.Errorf("level = %s, want info", l.GetLevel())
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("short"); got != "***" {
		t.Errorf("Redact(short) = %q", got)
	}
	if got := Redact("abcdefghijkl"); got != "abcd...ijkl" {
		t.Errorf("Redact(long) = %q", got)
	}
}
