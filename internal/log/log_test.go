package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/keithlinneman/listings-admin/internal/xerrors"
)

func newJSONLogger(t *testing.T, lvl slog.Level) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := New(Options{
		App:               "listings-admin",
		Version:           "test",
		Level:             lvl,
		JsonFormat:        true,
		IncludeErrorLinks: true,
		Writer:            &buf,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{" INFO ", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInfo_IncludesBaseAndWithAttrs(t *testing.T) {
	l, buf := newJSONLogger(t, slog.LevelInfo)
	l.With("component", "session").Info(context.Background(), "admin login succeeded", "username", "admin")

	lines := decodeLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	rec := lines[0]
	for k, want := range map[string]string{
		"app":       "listings-admin",
		"version":   "test",
		"component": "session",
		"username":  "admin",
		"msg":       "admin login succeeded",
	} {
		if rec[k] != want {
			t.Errorf("%s = %v, want %q", k, rec[k], want)
		}
	}
}

func TestWith_DoesNotLeakBetweenChildren(t *testing.T) {
	l, buf := newJSONLogger(t, slog.LevelInfo)
	a := l.With("child", "a")
	b := l.With("child", "b")
	a.Info(context.Background(), "one")
	b.Info(context.Background(), "two")

	lines := decodeLines(t, buf)
	if lines[0]["child"] != "a" || lines[1]["child"] != "b" {
		t.Fatalf("children leaked attrs: %v / %v", lines[0]["child"], lines[1]["child"])
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newJSONLogger(t, slog.LevelWarn)
	l.Debug(context.Background(), "hidden")
	l.Info(context.Background(), "hidden")
	l.Warn(context.Background(), "shown")
	if n := len(decodeLines(t, buf)); n != 1 {
		t.Fatalf("got %d lines, want 1", n)
	}
}

func TestError_AddsChainAndStack(t *testing.T) {
	l, buf := newJSONLogger(t, slog.LevelInfo)
	root := errors.New("access denied")
	err := xerrors.Wrap(root, "copy object")
	l.Error(context.Background(), err, "approve failed")

	rec := decodeLines(t, buf)[0]
	chain, ok := rec["error_chain"].([]any)
	if !ok || len(chain) < 2 {
		t.Fatalf("error_chain = %v", rec["error_chain"])
	}
	if chain[len(chain)-1] != "access denied" {
		t.Errorf("last chain entry = %v", chain[len(chain)-1])
	}
	if rec["cause_type"] != "*errors.errorString" {
		t.Errorf("cause_type = %v", rec["cause_type"])
	}
	if s, _ := rec["stack"].(string); s == "" {
		t.Error("error level record should carry a stack")
	}
	if _, ok := rec["error_links"]; !ok {
		t.Error("error_links missing")
	}
}

func TestFromContext_FallsBackToNop(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext should never return nil")
	}
	l, buf := newJSONLogger(t, slog.LevelInfo)
	ctx := WithContext(context.Background(), l)
	FromContext(ctx).Info(ctx, "from ctx")
	if len(decodeLines(t, buf)) != 1 {
		t.Fatal("logger from context should write")
	}
}

func TestNop_SafeToUse(t *testing.T) {
	n := Nop()
	n.With("k", "v").Error(context.Background(), errors.New("x"), "ignored")
	if err := n.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

func TestRedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{App: "listings-admin", JsonFormat: true, Writer: &buf, RedactKeys: []string{"X-Api-Key"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	l.With("session_id", "abc123").Info(ctx, "login",
		"username", "admin",
		"Password", "hunter2",
		"x-api-key", "k",
		"req", slog.GroupValue(slog.String("cookie", "admin_session=zzz"), slog.String("path", "/api/admin")),
	)

	out := buf.String()
	for _, leak := range []string{"abc123", "hunter2", "admin_session=zzz", `"k"`} {
		if strings.Contains(out, leak) {
			t.Errorf("output leaks %q: %s", leak, out)
		}
	}
	rec := decodeLines(t, &buf)[0]
	if rec["username"] != "admin" {
		t.Errorf("username = %v, want admin", rec["username"])
	}
	if rec["session_id"] != redacted {
		t.Errorf("session_id = %v, want redacted", rec["session_id"])
	}
	group, _ := rec["req"].(map[string]any)
	if group["path"] != "/api/admin" || group["cookie"] != redacted {
		t.Errorf("group = %v", group)
	}
}
