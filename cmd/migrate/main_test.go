package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunList(t *testing.T) {
	var out bytes.Buffer
	if err := run("list", 0, "", &out); err != nil {
		t.Fatalf("run(list) error = %v", err)
	}
	lines := strings.Fields(out.String())
	if len(lines) == 0 || !strings.HasSuffix(lines[0], ".up.sql") && !strings.HasSuffix(lines[0], ".down.sql") {
		t.Errorf("run(list) output = %q", out.String())
	}
}

func TestRunValidation(t *testing.T) {
	if err := run("sideways", 0, "postgres://x", &bytes.Buffer{}); err == nil {
		t.Error("unknown command should fail")
	}
	if err := run("up", 0, "", &bytes.Buffer{}); err == nil {
		t.Error("missing DSN should fail")
	}
}
